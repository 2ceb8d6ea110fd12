package skype

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultKeepaliveInterval is the time between session pings.
const DefaultKeepaliveInterval = 5 * time.Minute

// Ping keeps the web session alive. sessionID is the correlation id
// that stays the same for every ping of one session.
func (c *Client) Ping(ctx context.Context, skypeToken, sessionID string, cookies Cookies) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("sessionId", sessionID)

	resp, err := c.send(ctx, request{
		op:          "pinging session",
		method:      http.MethodPost,
		url:         pingURL,
		body:        form.Encode(),
		contentType: formContentType,
		header:      http.Header{"X-Skypetoken": []string{skypeToken}},
		cookies:     cookies,
		follow:      true,
	})
	if err != nil {
		return err
	}

	if resp.status() != http.StatusOK {
		return statusError("pinging session", resp.raw)
	}

	return nil
}

// keepaliveLoop pings once straight away and then on every tick. A
// failed ping on a live session is reported as a DisconnectedEvent and
// retried on the next tick; only cancellation or lost liveness stops
// the loop.
func (s *Session) keepaliveLoop(ctx context.Context, st *sessionState) {
	logger := s.logger.With(slog.String("component", "keepalive"))

	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		if !st.Live() {
			logger.Debug("keepalive stopped, session no longer live")
			return
		}

		if err := s.client.Ping(ctx, st.skypeToken, st.correlationID, st.cookies); err != nil {
			if ctx.Err() != nil {
				return
			}

			// The poll loop already reported the loss.
			if !st.Live() {
				logger.Debug("ping failed after session loss", slog.String("error", err.Error()))
				return
			}

			logger.Warn("session ping failed", slog.String("error", err.Error()))
			s.dispatcher.Dispatch(DisconnectedEvent{Cause: err})
		}

		select {
		case <-ctx.Done():
			logger.Debug("keepalive cancelled")
			return
		case <-ticker.C:
		}
	}
}
