package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gorilla "github.com/gorilla/websocket"

	"go-file-transfer/internal/event"
)

// Subscribe dials the task event stream. The returned channel is closed when
// ctx is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	wsURL := c.baseURL + "/api/v1/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := gorilla.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial events: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}

	events := make(chan event.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Debug("event stream closed", "error", err)
				}
				return
			}

			var evt event.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				c.log.Debug("skipping malformed event", "error", err)
				continue
			}

			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
