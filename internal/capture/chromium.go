package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// Default capture parameters for a wall-mounted panel.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 800
	DefaultTimeoutSec = 30

	// ReadySelector is set by the dashboard shell once its first data
	// load has settled.
	ReadySelector = `[data-ready="true"]`
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG screenshot will be written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration

	// Settle is an extra pause after the ready marker for final paints.
	Settle time.Duration
}

// withDefaults validates opts and fills zero values.
func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
	return o, nil
}

// CaptureDashboardPNG launches a headless Chromium via chromedp,
// navigates to opts.URL, waits until the dashboard reports ready via
// ReadySelector, and writes a PNG screenshot to opts.OutputPath.
func CaptureDashboardPNG(parentCtx context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if dir := filepath.Dir(opts.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("capture: create output dir: %w", err)
		}
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}
