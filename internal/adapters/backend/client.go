package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// Config configures the media server client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// CommandRate limits device commands per second. Zero disables the limit.
	CommandRate  float64
	CommandBurst int
}

// Client talks to the media server HTTP API. It implements the device,
// read model and playlist store ports.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	log     *zap.Logger
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("media server error: %d", e.Status)
	}
	return fmt.Sprintf("media server error: %d: %s", e.Status, e.Body)
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("media server url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid media server url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.CommandRate > 0 {
		burst := cfg.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), burst)
	}
	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     log,
	}, nil
}

// ListPlaylists returns all playlists with montages expanded.
func (c *Client) ListPlaylists(ctx context.Context) ([]mp.PlaylistRecord, error) {
	var out []mp.PlaylistRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/playlists", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePlaylist creates an empty playlist.
func (c *Client) CreatePlaylist(ctx context.Context, name string) (mp.PlaylistRecord, error) {
	var out mp.PlaylistRecord
	err := c.doJSON(ctx, http.MethodPost, "/api/playlists", mp.PlaylistUpdate{Name: name}, &out)
	return out, err
}

// UpdatePlaylist replaces a playlist's name and entries.
func (c *Client) UpdatePlaylist(ctx context.Context, id string, update mp.PlaylistUpdate) (mp.PlaylistRecord, error) {
	var out mp.PlaylistRecord
	err := c.doJSON(ctx, http.MethodPut, "/api/playlists/"+url.PathEscape(id), update, &out)
	return out, err
}

// DeletePlaylist removes a playlist.
func (c *Client) DeletePlaylist(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/playlists/"+url.PathEscape(id), nil, nil)
}

// ListMontages returns the montage library.
func (c *Client) ListMontages(ctx context.Context) ([]mp.MontageRecord, error) {
	var out []mp.MontageRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/montages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendCommand sends a control command to a device.
func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd mp.DeviceCommand) (mp.DeviceReply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return mp.DeviceReply{}, err
	}
	var out mp.DeviceReply
	err := c.doJSON(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(deviceID)+"/commands", cmd, &out)
	return out, err
}

// CurrentPlaylist reads the device's current playlist. Concurrent calls for
// the same device share one request.
func (c *Client) CurrentPlaylist(ctx context.Context, deviceID string) (string, error) {
	v, err, _ := c.group.Do("current:"+deviceID, func() (any, error) {
		var out mp.CurrentPlaylist
		if err := c.doJSON(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(deviceID)+"/current", nil, &out); err != nil {
			return "", err
		}
		return out.PlaylistID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) doJSON(ctx context.Context, method string, endpoint string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
