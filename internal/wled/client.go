// Package wled implements the JSON-over-HTTP wire protocol spoken by the
// embedded LED controllers glowd drives.
package wled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to a single controller. It is safe for concurrent use; the
// device itself arbitrates concurrent writes last-write-wins.
type Client struct {
	address    string
	httpClient *http.Client
}

// NewClient creates a client for the controller at address (host or host:port).
func NewClient(address string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		address: address,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Address returns the controller address.
func (c *Client) Address() string {
	return c.address
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s/%s", c.address, path)
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// Fetch reads the full info+state document.
func (c *Client) Fetch(ctx context.Context) (*Device, error) {
	resp, err := c.request(ctx, "GET", "json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var device Device
	if err := json.NewDecoder(resp.Body).Decode(&device); err != nil {
		return nil, fmt.Errorf("failed to decode device state: %w", err)
	}

	return &device, nil
}

// SetState writes a state update. No retry on failure: a stale retry could
// fight a newer edit, so the error is returned to the caller as-is.
func (c *Client) SetState(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	resp, err := c.request(ctx, "POST", "json/state", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("device rejected state write: %s", string(body))
	}

	log.Debug().
		Str("device", c.address).
		Int("segments", len(state.Segments)).
		Msg("State written")

	return nil
}

// Presets reads the device preset table, keyed by preset id. Slot 0 is the
// device's internal boot slot and is excluded.
func (c *Client) Presets(ctx context.Context) (map[int]Preset, error) {
	resp, err := c.request(ctx, "GET", "presets.json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch presets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode presets: %w", err)
	}

	presets := make(map[int]Preset, len(raw))
	for key, doc := range raw {
		id, err := strconv.Atoi(key)
		if err != nil || id < MinPresetID {
			continue
		}
		// Empty slots serialize as "{}".
		if len(bytes.TrimSpace(doc)) <= 2 {
			continue
		}
		var preset Preset
		if err := json.Unmarshal(doc, &preset); err != nil {
			continue
		}
		preset.Payload = doc
		presets[id] = preset
	}

	return presets, nil
}

// SavePreset stores a state snapshot into the device preset slot id.
func (c *Client) SavePreset(ctx context.Context, id int, name string, state State) error {
	if id < MinPresetID || id > MaxPresetID {
		return fmt.Errorf("preset id %d out of range [%d, %d]", id, MinPresetID, MaxPresetID)
	}

	state.PresetSave = &id
	state.PresetName = name
	if err := c.SetState(ctx, state); err != nil {
		return fmt.Errorf("failed to save preset %d: %w", id, err)
	}

	log.Debug().
		Str("device", c.address).
		Int("preset", id).
		Str("name", name).
		Msg("Preset saved")

	return nil
}
