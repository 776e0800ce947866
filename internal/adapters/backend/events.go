package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Events streams the media server change feed until ctx ends or the
// connection drops. The error channel receives at most one error.
func (c *Client) Events(ctx context.Context) (<-chan mp.ServerEvent, <-chan error) {
	events := make(chan mp.ServerEvent, 16)
	errs := make(chan error, 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := dialer.DialContext(ctx, c.eventsURL(), headers)
	if err != nil {
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(done)
		defer close(events)
		defer close(errs)
		defer conn.Close()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}
			var event mp.ServerEvent
			if err := json.Unmarshal(message, &event); err != nil {
				c.log.Debug("ignoring malformed event", zap.Error(err))
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs
}

func (c *Client) eventsURL() string {
	base := c.base
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/events"
}
