package hass

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"hadash/internal/model"
)

// healthyMessage is what GET /api/ reports when the API is up.
const healthyMessage = "API running."

// CallService invokes <domain>.<service> with data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if domain == "" || service == "" {
		return ErrEmptyService
	}
	if data == nil {
		data = map[string]any{}
	}
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	_, err := c.do(ctx, domain+"."+service, http.MethodPost, path, data)
	return err
}

// CallServiceName accepts a dotted "<domain>.<service>" name.
func (c *Client) CallServiceName(ctx context.Context, name string, data map[string]any) error {
	domain, service, ok := strings.Cut(name, ".")
	if !ok {
		return fmt.Errorf("%w: %q", ErrEmptyService, name)
	}
	return c.CallService(ctx, domain, service, data)
}

// Ping succeeds only when the API reports itself as running.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "ping", "/api/", &out); err != nil {
		return err
	}
	if out.Message != healthyMessage {
		return fmt.Errorf("%w: %q", ErrUnhealthy, out.Message)
	}
	return nil
}

// GetState reads one entity.
func (c *Client) GetState(ctx context.Context, entityID string) (model.RemoteState, error) {
	var st model.RemoteState
	if entityID == "" {
		return st, ErrEmptyEntityID
	}
	err := c.getJSON(ctx, "state", "/api/states/"+url.PathEscape(entityID), &st)
	return st, err
}

// CameraSnapshot returns the current still image of a camera entity and
// its content type.
func (c *Client) CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error) {
	if entityID == "" {
		return nil, "", ErrEmptyEntityID
	}
	resp, err := c.do(ctx, "camera_proxy", http.MethodGet, "/api/camera_proxy/"+url.PathEscape(entityID), nil)
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.contentType, nil
}

// ReloadConfigEntry reloads an integration instance.
func (c *Client) ReloadConfigEntry(ctx context.Context, entryID string) error {
	if entryID == "" {
		return fmt.Errorf("hass: config entry ID cannot be empty")
	}
	path := "/api/config/config_entries/entry/" + url.PathEscape(entryID) + "/reload"
	_, err := c.do(ctx, "config_entry.reload", http.MethodPost, path, nil)
	return err
}
