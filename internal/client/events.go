package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"lilychat/internal/models"
)

const (
	feedReconnectMin = time.Second
	feedReconnectMax = 30 * time.Second
)

// Feed consumes the realtime change feed and delivers decoded events on a
// channel. The feed arrives unfiltered; consumers decide relevance.
type Feed struct {
	api    *API
	Events chan models.ChangeEvent
}

func NewFeed(api *API) *Feed {
	return &Feed{
		api:    api,
		Events: make(chan models.ChangeEvent, 64),
	}
}

// Run connects and pumps events until the context is cancelled, reconnecting
// with backoff after drops. The Events channel is closed on return.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.Events)

	backoff := feedReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := f.api.DialFeed(ctx)
		if err != nil {
			slog.Warn("feed connect failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > feedReconnectMax {
				backoff = feedReconnectMax
			}
			continue
		}
		backoff = feedReconnectMin

		// Close the socket when the context ends so ReadMessage unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		f.pump(ctx, conn)
		close(done)
		conn.Close()
	}
}

func (f *Feed) pump(ctx context.Context, conn interface {
	ReadMessage() (int, []byte, error)
}) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("feed connection dropped", "error", err)
			}
			return
		}

		var event models.ChangeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			slog.Warn("failed to decode feed event", "error", err)
			continue
		}

		select {
		case f.Events <- event:
		case <-ctx.Done():
			return
		}
	}
}
