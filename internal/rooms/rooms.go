// Package rooms groups lights into the configured rooms.
package rooms

import (
	"fmt"
	"strings"

	"hadash/internal/model"
)

// Policy decides where a light matching several rooms goes.
type Policy string

const (
	// PolicyAll lists the light in every matching room.
	PolicyAll Policy = "all"
	// PolicyFirst gives the light to the first matching room in table order.
	PolicyFirst Policy = "first"
)

// ParsePolicy accepts "all", "first", or empty (all).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyAll, "":
		return PolicyAll, nil
	case PolicyFirst:
		return PolicyFirst, nil
	}
	return "", fmt.Errorf("rooms: unknown policy %q", s)
}

// RoomLights is a room with its computed lights.
type RoomLights struct {
	model.Room
	Lights []model.Light `json:"lights"`

	AnyOn             bool `json:"any_on"`
	AllOn             bool `json:"all_on"`
	AverageBrightness int  `json:"average_brightness"`
}

// Matches reports whether any of the room's patterns occurs in the entity
// id, ignoring case.
func Matches(room model.Room, entityID string) bool {
	id := strings.ToLower(entityID)
	for _, p := range room.LightPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// Assign places lights into rooms. The result follows room order, and
// lights keep their input order within each room. Lights matching no room
// are left out.
func Assign(rooms []model.Room, lights []model.Light, policy Policy) []RoomLights {
	out := make([]RoomLights, len(rooms))
	for i, r := range rooms {
		out[i] = RoomLights{Room: r, Lights: []model.Light{}}
	}

	for _, l := range lights {
		for i := range rooms {
			if !Matches(rooms[i], l.EntityID) {
				continue
			}
			out[i].Lights = append(out[i].Lights, l)
			if policy == PolicyFirst {
				break
			}
		}
	}

	for i := range out {
		out[i].updateState()
	}
	return out
}

// Unassigned returns the lights no room claims.
func Unassigned(rooms []model.Room, lights []model.Light) []model.Light {
	var out []model.Light
	for _, l := range lights {
		matched := false
		for _, r := range rooms {
			if Matches(r, l.EntityID) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, l)
		}
	}
	return out
}

func (r *RoomLights) updateState() {
	r.AnyOn, r.AllOn, r.AverageBrightness = false, false, 0
	if len(r.Lights) == 0 {
		return
	}

	r.AllOn = true
	total, count := 0, 0
	for _, l := range r.Lights {
		if l.IsOn() {
			r.AnyOn = true
			total += l.Brightness
			count++
		} else {
			r.AllOn = false
		}
	}
	if count > 0 {
		r.AverageBrightness = total / count
	}
}
