package capture

import (
	"context"
	"testing"
	"time"
)

func TestOptionsWithDefaults(t *testing.T) {
	tests := []struct {
		name    string
		in      Options
		want    Options
		wantErr bool
	}{
		{
			name:    "missing url",
			in:      Options{OutputPath: "out.png"},
			wantErr: true,
		},
		{
			name:    "missing output",
			in:      Options{URL: "http://127.0.0.1:8080/"},
			wantErr: true,
		},
		{
			name: "defaults",
			in:   Options{URL: "http://127.0.0.1:8080/", OutputPath: "out.png"},
			want: Options{
				URL:        "http://127.0.0.1:8080/",
				OutputPath: "out.png",
				Width:      DefaultWidth,
				Height:     DefaultHeight,
				Timeout:    DefaultTimeoutSec * time.Second,
				Settle:     500 * time.Millisecond,
			},
		},
		{
			name: "explicit values kept",
			in:   Options{URL: "u", OutputPath: "o", Width: 800, Height: 480, Timeout: time.Second, Settle: time.Millisecond},
			want: Options{URL: "u", OutputPath: "o", Width: 800, Height: 480, Timeout: time.Second, Settle: time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.withDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCaptureDashboardPNG_InvalidOptions(t *testing.T) {
	// Validation fails before any browser is launched.
	if err := CaptureDashboardPNG(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}
