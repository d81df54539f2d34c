package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"hadash/internal/config"
	"hadash/internal/hass"
	appLog "hadash/internal/log"
)

const noCache = "no-cache, no-store, must-revalidate"

const (
	msgNotConfigured  = "Home Assistant not configured"
	msgCameraNotFound = "Camera not found"
	msgBadDirection   = "Invalid direction"
)

type okResponse struct {
	OK bool `json:"ok"`
}

type mediaStateResponse struct {
	State       string `json:"state"`
	LastUpdated string `json:"last_updated"`
}

type ptzRequest struct {
	Direction string `json:"direction"`
}

// writeUpstreamError maps a remote call failure to the shared proxy
// responses. transportMsg is used when no response was obtained.
func writeUpstreamError(w http.ResponseWriter, err error, transportMsg string) {
	switch {
	case hass.IsNotConfigured(err):
		writeError(w, http.StatusInternalServerError, msgNotConfigured)
	case hass.StatusCode(err) != 0:
		code := hass.StatusCode(err)
		writeError(w, code, fmt.Sprintf("Home Assistant returned %d", code))
	default:
		appLog.Error(strings.ToLower(transportMsg), err)
		writeError(w, http.StatusBadGateway, transportMsg)
	}
}

func (s *Server) handleAppleTVState(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Client.GetState(r.Context(), s.cfg.MediaDevice.PowerSensor)
	if err != nil {
		writeUpstreamError(w, err, "Failed to get Apple TV state")
		return
	}
	w.Header().Set("Cache-Control", noCache)
	writeJSON(w, http.StatusOK, mediaStateResponse{State: st.State, LastUpdated: st.LastUpdated})
}

// handleAppleTVSleep powers the media box down.
//
// In inline mode the integration is reloaded first so the remote entity
// has a fresh connection, then turned off after the reconnect delay. A
// reload rejected by Home Assistant is logged and the turn-off still
// attempted; an unreachable server aborts.
func (s *Server) handleAppleTVSleep(w http.ResponseWriter, r *http.Request) {
	const failMsg = "Failed to sleep Apple TV"
	ctx := r.Context()
	dev := s.cfg.MediaDevice

	if dev.SleepMode == config.SleepModeScript {
		err := s.deps.Client.CallService(ctx, "script", "turn_on", map[string]any{"entity_id": dev.SleepScript})
		if err != nil {
			writeUpstreamError(w, err, failMsg)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}

	if err := s.deps.Client.ReloadConfigEntry(ctx, dev.ConfigEntryID); err != nil {
		if hass.StatusCode(err) == 0 {
			writeUpstreamError(w, err, failMsg)
			return
		}
		appLog.Warn("config entry reload rejected; turning off anyway",
			"entry_id", dev.ConfigEntryID,
			"status", hass.StatusCode(err),
		)
	}

	if err := s.wait(ctx, dev.ReconnectDelay.Std()); err != nil {
		writeError(w, http.StatusBadGateway, failMsg)
		return
	}

	err := s.deps.Client.CallService(ctx, "remote", "turn_off", map[string]any{"entity_id": dev.RemoteEntity})
	if err != nil {
		writeUpstreamError(w, err, failMsg)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleAppleTVWake(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Client.CallServiceName(r.Context(), s.cfg.MediaDevice.WakeService, nil); err != nil {
		writeUpstreamError(w, err, "Failed to wake Apple TV")
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleCameraSnapshot(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.cfg.Camera(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, msgCameraNotFound)
		return
	}

	img, contentType, err := s.deps.Client.CameraSnapshot(r.Context(), cam.SnapshotEntity)
	if err != nil {
		writeUpstreamError(w, err, "Failed to fetch camera")
		return
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", noCache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// ptzPayload builds the onvif.ptz service data for a direction.
func ptzPayload(cfg config.PTZConfig, entityID, direction string) (map[string]any, bool) {
	data := map[string]any{
		"entity_id":           entityID,
		"move_mode":           cfg.MoveMode,
		"continuous_duration": cfg.ContinuousDuration,
		"speed":               cfg.Speed,
		"distance":            cfg.Distance,
	}
	switch direction {
	case "up":
		data["tilt"] = "UP"
	case "down":
		data["tilt"] = "DOWN"
	case "left":
		data["pan"] = "LEFT"
	case "right":
		data["pan"] = "RIGHT"
	default:
		return nil, false
	}
	return data, true
}

func (s *Server) handleCameraPTZ(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.cfg.Camera(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, msgCameraNotFound)
		return
	}

	if !s.deps.Client.Configured() {
		writeError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}

	var req ptzRequest
	// A malformed body carries no direction.
	_ = json.NewDecoder(r.Body).Decode(&req)

	data, ok := ptzPayload(s.cfg.PTZ, cam.PTZEntity, req.Direction)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadDirection)
		return
	}

	if err := s.deps.Client.CallService(r.Context(), "onvif", "ptz", data); err != nil {
		writeUpstreamError(w, err, "Failed to control camera")
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
