package model

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the wire format for event timestamps: UTC with
// millisecond precision, e.g. 2026-01-27T00:00:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// CalendarEvent is a single event parsed from a calendar feed.
//
// It only exists for the lifetime of one request: the feed is parsed,
// filtered and serialized, then discarded.
type CalendarEvent struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time // zero when the source block had no DTEND
	Description string
	Location    string

	// AllDay is set when DTSTART was a bare date.
	AllDay bool
	// RRule is the raw recurrence rule, if any. Only used when recurring
	// expansion is enabled.
	RRule string
}

type calendarEventJSON struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// MarshalJSON renders timestamps in UTC with millisecond precision.
func (e CalendarEvent) MarshalJSON() ([]byte, error) {
	out := calendarEventJSON{
		ID:          e.ID,
		Title:       e.Title,
		Start:       FormatTimestamp(e.Start),
		Description: e.Description,
		Location:    e.Location,
	}
	if !e.End.IsZero() {
		out.End = FormatTimestamp(e.End)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the format produced by MarshalJSON.
func (e *CalendarEvent) UnmarshalJSON(data []byte) error {
	var in calendarEventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = CalendarEvent{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
	}
	if in.Start != "" {
		t, err := time.Parse(time.RFC3339Nano, in.Start)
		if err != nil {
			return err
		}
		e.Start = t
	}
	if in.End != "" {
		t, err := time.Parse(time.RFC3339Nano, in.End)
		if err != nil {
			return err
		}
		e.End = t
	}
	return nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RemoteState is a raw entity record as reported by Home Assistant.
type RemoteState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed,omitempty"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// Light power states.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Light is the normalized display model of a light entity.
type Light struct {
	EntityID           string      `json:"entity_id"`
	Name               string      `json:"name"`
	State              string      `json:"state"`
	Brightness         int         `json:"brightness"` // 0-100
	ColorTemp          *float64    `json:"color_temp,omitempty"`
	RGBColor           *[3]float64 `json:"rgb_color,omitempty"`
	SupportsBrightness bool        `json:"supports_brightness"`
	SupportsColor      bool        `json:"supports_color"`
}

// IsOn reports whether the light is on.
func (l Light) IsOn() bool {
	return l.State == StateOn
}

// Room is a static room descriptor. Its lights are computed from
// LightPatterns at request time, never stored.
type Room struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Icon          string   `yaml:"icon" json:"icon"`
	Temp          string   `yaml:"temp" json:"temp"`
	Humidity      string   `yaml:"humidity" json:"humidity"`
	Color         string   `yaml:"color" json:"color"`
	LightPatterns []string `yaml:"light_patterns" json:"light_patterns"`
}

// Connection is a Home Assistant base URL and bearer token pair.
type Connection struct {
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"token"`
}
