package hass

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"

	"hadash/internal/model"
)

const lightPrefix = "light."

var (
	brightnessModes = map[string]bool{"brightness": true, "color_temp": true, "xy": true, "hs": true, "rgb": true}
	colorModes      = map[string]bool{"xy": true, "hs": true, "rgb": true}
)

// BrightnessToPercent converts the remote 0-255 scale to 0-100.
func BrightnessToPercent(b float64) int {
	return int(math.Round(b / 255 * 100))
}

// PercentToBrightness converts the 0-100 display scale to 0-255.
func PercentToBrightness(p int) int {
	return int(math.Round(float64(p) / 100 * 255))
}

// DisplayName is the friendly name when set, else the entity id without
// its domain and with underscores as spaces.
func DisplayName(entityID string, attrs map[string]any) string {
	if name, ok := attrs["friendly_name"].(string); ok && name != "" {
		return name
	}
	return strings.ReplaceAll(strings.Replace(entityID, lightPrefix, "", 1), "_", " ")
}

func supportedModes(attrs map[string]any) []string {
	raw, ok := attrs["supported_color_modes"].([]any)
	if !ok {
		return nil
	}
	modes := make([]string, 0, len(raw))
	for _, m := range raw {
		if s, ok := m.(string); ok {
			modes = append(modes, s)
		}
	}
	return modes
}

func intersects(modes []string, set map[string]bool) bool {
	for _, m := range modes {
		if set[m] {
			return true
		}
	}
	return false
}

func SupportsBrightness(attrs map[string]any) bool {
	return intersects(supportedModes(attrs), brightnessModes)
}

func SupportsColor(attrs map[string]any) bool {
	return intersects(supportedModes(attrs), colorModes)
}

// NormalizeLight maps a raw light state to the display model.
func NormalizeLight(s model.RemoteState) model.Light {
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}

	l := model.Light{
		EntityID:           s.EntityID,
		Name:               DisplayName(s.EntityID, attrs),
		State:              s.State,
		SupportsBrightness: SupportsBrightness(attrs),
		SupportsColor:      SupportsColor(attrs),
	}
	if b, ok := attrs["brightness"].(float64); ok && b != 0 {
		l.Brightness = BrightnessToPercent(b)
	}
	if ct, ok := attrs["color_temp"].(float64); ok {
		l.ColorTemp = &ct
	}
	if rgb, ok := attrs["rgb_color"].([]any); ok && len(rgb) == 3 {
		var out [3]float64
		valid := true
		for i, v := range rgb {
			f, ok := v.(float64)
			if !ok {
				valid = false
				break
			}
			out[i] = f
		}
		if valid {
			l.RGBColor = &out
		}
	}
	return l
}

// NormalizeLights filters states to lights and sorts them by name,
// ignoring case.
func NormalizeLights(states []model.RemoteState) []model.Light {
	lights := make([]model.Light, 0, len(states))
	for _, s := range states {
		if strings.HasPrefix(s.EntityID, lightPrefix) {
			lights = append(lights, NormalizeLight(s))
		}
	}
	sort.SliceStable(lights, func(i, j int) bool {
		a, b := strings.ToLower(lights[i].Name), strings.ToLower(lights[j].Name)
		if a != b {
			return a < b
		}
		return lights[i].EntityID < lights[j].EntityID
	})
	return lights
}

// States returns the full entity snapshot.
func (c *Client) States(ctx context.Context) ([]model.RemoteState, error) {
	var states []model.RemoteState
	if err := c.getJSON(ctx, "states", "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// ListLights fetches all states and returns the normalized lights.
func (c *Client) ListLights(ctx context.Context) ([]model.Light, error) {
	states, err := c.States(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeLights(states), nil
}

// TurnOn switches a light on. A non-nil brightness (0-100) is sent on the
// remote 0-255 scale.
func (c *Client) TurnOn(ctx context.Context, entityID string, brightness *int) error {
	if entityID == "" {
		return ErrEmptyEntityID
	}
	data := map[string]any{"entity_id": entityID}
	if brightness != nil {
		data["brightness"] = PercentToBrightness(*brightness)
	}
	_, err := c.do(ctx, "light.turn_on", http.MethodPost, "/api/services/light/turn_on", data)
	return err
}

func (c *Client) TurnOff(ctx context.Context, entityID string) error {
	if entityID == "" {
		return ErrEmptyEntityID
	}
	_, err := c.do(ctx, "light.turn_off", http.MethodPost, "/api/services/light/turn_off",
		map[string]any{"entity_id": entityID})
	return err
}

// Toggle asks Home Assistant to flip the light using its own state.
func (c *Client) Toggle(ctx context.Context, entityID string) error {
	if entityID == "" {
		return ErrEmptyEntityID
	}
	_, err := c.do(ctx, "light.toggle", http.MethodPost, "/api/services/light/toggle",
		map[string]any{"entity_id": entityID})
	return err
}

// SetBrightness is TurnOn with a brightness.
func (c *Client) SetBrightness(ctx context.Context, entityID string, percent int) error {
	return c.TurnOn(ctx, entityID, &percent)
}

// LightResult is the settled outcome of one command in a fan-out.
type LightResult struct {
	EntityID string
	Err      error
}

// TurnOffAllResult aggregates per-light results. Every light that was on
// in the snapshot has exactly one entry.
type TurnOffAllResult struct {
	Results []LightResult
}

// Failed returns the entries whose command failed.
func (r TurnOffAllResult) Failed() []LightResult {
	var out []LightResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err joins all per-light errors, or returns nil when all succeeded.
func (r TurnOffAllResult) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// TurnOffAll fetches the current snapshot and concurrently turns off every
// light that was on at fetch time. The error return is only set when the
// snapshot itself fails; per-light failures are in the result.
func (c *Client) TurnOffAll(ctx context.Context) (TurnOffAllResult, error) {
	lights, err := c.ListLights(ctx)
	if err != nil {
		return TurnOffAllResult{}, err
	}

	var on []string
	for _, l := range lights {
		if l.IsOn() {
			on = append(on, l.EntityID)
		}
	}
	if len(on) == 0 {
		return TurnOffAllResult{}, nil
	}

	results := make([]LightResult, len(on))
	sem := make(chan struct{}, c.maxConcurrent)
	var wg sync.WaitGroup

	for i, id := range on {
		wg.Add(1)
		go func(idx int, entityID string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = LightResult{EntityID: entityID, Err: ctx.Err()}
				return
			}

			results[idx] = LightResult{EntityID: entityID, Err: c.TurnOff(ctx, entityID)}
		}(i, id)
	}

	wg.Wait()
	return TurnOffAllResult{Results: results}, nil
}
