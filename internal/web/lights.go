package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"hadash/internal/hass"
	"hadash/internal/lightsync"
	appLog "hadash/internal/log"
	"hadash/internal/model"
	"hadash/internal/rooms"
)

type brightnessRequest struct {
	Brightness *int `json:"brightness"`
}

type lightResultDTO struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error,omitempty"`
}

type turnOffAllResponse struct {
	OK      bool             `json:"ok"`
	Results []lightResultDTO `json:"results"`
}

type roomsResponse struct {
	Policy     rooms.Policy       `json:"policy"`
	Rooms      []rooms.RoomLights `json:"rooms"`
	Unassigned []model.Light      `json:"unassigned"`
}

type settingsResponse struct {
	URL      string `json:"url"`
	TokenSet bool   `json:"token_set"`
}

type settingsRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type settingsSaveResponse struct {
	OK        bool `json:"ok"`
	Connected bool `json:"connected"`
}

func (s *Server) handleLights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sync.Snapshot())
}

// handleLightsRefresh polls immediately. A failed poll is reported in the
// snapshot's status and error, not the HTTP status.
func (s *Server) handleLightsRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sync.Refresh(r.Context()); err != nil {
		appLog.Warn("manual refresh failed", "err", err)
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.Snapshot())
}

func (s *Server) handleLightsOff(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Sync.TurnOffAll(r.Context())
	if err != nil {
		writeUpstreamError(w, err, "Failed to turn off lights")
		return
	}

	resp := turnOffAllResponse{OK: true, Results: make([]lightResultDTO, 0, len(res.Results))}
	for _, lr := range res.Results {
		dto := lightResultDTO{EntityID: lr.EntityID}
		if lr.Err != nil {
			dto.Error = lr.Err.Error()
			resp.OK = false
		}
		resp.Results = append(resp.Results, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeLightError adds the synchronizer's own errors to the proxy mapping.
func writeLightError(w http.ResponseWriter, err error, transportMsg string) {
	switch {
	case errors.Is(err, lightsync.ErrUnknownLight):
		writeError(w, http.StatusNotFound, "Light not found")
	case errors.Is(err, lightsync.ErrInvalidBrightness):
		writeError(w, http.StatusBadRequest, "Brightness must be between 0 and 100")
	default:
		writeUpstreamError(w, err, transportMsg)
	}
}

func (s *Server) handleLightToggle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["entity_id"]
	if err := s.deps.Sync.Toggle(r.Context(), id); err != nil {
		writeLightError(w, err, "Failed to toggle light")
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleLightBrightness(w http.ResponseWriter, r *http.Request) {
	var req brightnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Brightness == nil {
		writeError(w, http.StatusBadRequest, "Brightness is required")
		return
	}

	id := mux.Vars(r)["entity_id"]
	if err := s.deps.Sync.SetBrightness(r.Context(), id, *req.Brightness); err != nil {
		writeLightError(w, err, "Failed to set brightness")
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	lights := s.deps.Sync.Lights()
	unassigned := rooms.Unassigned(s.cfg.Rooms, lights)
	if unassigned == nil {
		unassigned = []model.Light{}
	}
	writeJSON(w, http.StatusOK, roomsResponse{
		Policy:     s.policy,
		Rooms:      rooms.Assign(s.cfg.Rooms, lights, s.policy),
		Unassigned: unassigned,
	})
}

// handleGetSettings never echoes the token back.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	conn := s.deps.Resolver.Connection()
	writeJSON(w, http.StatusOK, settingsResponse{URL: conn.URL, TokenSet: conn.Token != ""})
}

// handleSaveSettings persists the URL/token pair, then probes the server
// with the newly resolved credentials.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings")
		return
	}

	if err := s.deps.Settings.Save(model.Connection{URL: req.URL, Token: req.Token}); err != nil {
		appLog.Error("save settings failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	connected := true
	if err := s.deps.Client.Ping(r.Context()); err != nil {
		connected = false
		if !hass.IsNotConfigured(err) {
			appLog.Warn("connectivity probe failed", "err", err)
		}
	}
	appLog.Info("settings saved", "url", s.deps.Resolver.Connection().URL, "connected", connected)
	writeJSON(w, http.StatusOK, settingsSaveResponse{OK: true, Connected: connected})
}
