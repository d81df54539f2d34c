package rooms

import (
	"encoding/json"
	"strings"
	"testing"

	"hadash/internal/model"
)

var table = []model.Room{
	{ID: "living", Name: "Living Room", LightPatterns: []string{"living", "lounge"}},
	{ID: "bedroom", Name: "Bedroom", LightPatterns: []string{"bedroom"}},
	{ID: "office", Name: "Office", LightPatterns: []string{"office", "study"}},
}

func ids(lights []model.Light) string {
	var out []string
	for _, l := range lights {
		out = append(out, l.EntityID)
	}
	return strings.Join(out, ",")
}

func TestAssign(t *testing.T) {
	lights := []model.Light{
		{EntityID: "light.Lounge_Lamp", State: "on", Brightness: 40},
		{EntityID: "light.living_main", State: "on", Brightness: 80},
		{EntityID: "light.bedroom_office_desk", State: "off"},
		{EntityID: "light.garage", State: "on"},
	}

	tests := []struct {
		name   string
		policy Policy
		want   map[string]string
	}{
		{
			name:   "all lists shared lights in every room",
			policy: PolicyAll,
			want: map[string]string{
				"living":  "light.Lounge_Lamp,light.living_main",
				"bedroom": "light.bedroom_office_desk",
				"office":  "light.bedroom_office_desk",
			},
		},
		{
			name:   "first gives shared lights to the earliest room",
			policy: PolicyFirst,
			want: map[string]string{
				"living":  "light.Lounge_Lamp,light.living_main",
				"bedroom": "light.bedroom_office_desk",
				"office":  "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assign(table, lights, tt.policy)
			if len(got) != len(table) {
				t.Fatalf("expected %d rooms, got %d", len(table), len(got))
			}
			for i, r := range got {
				if r.ID != table[i].ID {
					t.Errorf("room %d = %q, want %q", i, r.ID, table[i].ID)
				}
				if g := ids(r.Lights); g != tt.want[r.ID] {
					t.Errorf("room %s lights = %q, want %q", r.ID, g, tt.want[r.ID])
				}
			}
		})
	}
}

func TestAssign_RoomState(t *testing.T) {
	lights := []model.Light{
		{EntityID: "light.living_a", State: "on", Brightness: 40},
		{EntityID: "light.living_b", State: "on", Brightness: 80},
		{EntityID: "light.bedroom", State: "off"},
	}
	got := Assign(table, lights, PolicyAll)

	living := got[0]
	if !living.AnyOn || !living.AllOn || living.AverageBrightness != 60 {
		t.Errorf("living = %+v", living)
	}
	bedroom := got[1]
	if bedroom.AnyOn || bedroom.AllOn {
		t.Errorf("bedroom = %+v", bedroom)
	}
	office := got[2]
	if office.Lights == nil || len(office.Lights) != 0 || office.AllOn {
		t.Errorf("office = %+v", office)
	}
}

func TestAssign_JSONFlattensRoom(t *testing.T) {
	got := Assign(table[:1], []model.Light{{EntityID: "light.living", State: "on"}}, PolicyAll)
	data, err := json.Marshal(got[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"id":"living"`, `"name":"Living Room"`, `"lights":[`, `"any_on":true`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("json %s missing %s", data, key)
		}
	}
}

func TestUnassigned(t *testing.T) {
	lights := []model.Light{{EntityID: "light.garage"}, {EntityID: "light.study_lamp"}}
	got := Unassigned(table, lights)
	if ids(got) != "light.garage" {
		t.Errorf("unassigned = %q", ids(got))
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyAll, false},
		{"ALL", PolicyAll, false},
		{" first ", PolicyFirst, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
