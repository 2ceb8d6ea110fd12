package skype

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// DefaultPollTimeout bounds one long-poll request. The server normally
// answers well within it; hitting it just means another poll.
const DefaultPollTimeout = 60 * time.Second

// Poll issues one long-poll request and returns the raw batch, which is
// empty when the server had nothing to report. A request that runs out
// of time is a *TransientError; a non-200 status is a *ConnectionError.
func (c *Client) Poll(ctx context.Context, registrationToken string, cloud CloudPrefix) ([]byte, error) {
	resp, err := c.send(ctx, request{
		op:          "polling events",
		method:      http.MethodPost,
		url:         cloud.withCloud(pollURL),
		contentType: "application/json",
		header:      http.Header{"RegistrationToken": []string{registrationToken}},
		limit:       maxPollBytes,
	})
	if err != nil {
		if isTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}

	if resp.status() != http.StatusOK {
		return nil, statusError("polling events", resp.raw)
	}

	return resp.body, nil
}

// pollLoop runs until the session stops being live, ctx is cancelled,
// or a poll fails for good. Batches are handed to the pool and the next
// poll starts without waiting for them.
func (s *Session) pollLoop(ctx context.Context, st *sessionState, pool *Pool) {
	logger := s.logger.With(slog.String("component", "poll"))
	logger.Debug("poll loop started", slog.String("cloud", string(st.cloud)))

	for st.Live() {
		data, err := s.pollOnce(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("poll loop cancelled")
				return
			}

			if IsTransient(err) {
				logger.Debug("poll timed out, polling again")
				continue
			}

			// Logout may have cleared liveness first; only the call
			// that flips it reports the loss.
			if st.markDead() {
				logger.Warn("poll failed, session lost", slog.String("error", err.Error()))
				s.dispatcher.Dispatch(DisconnectedEvent{Cause: err})
			}

			return
		}

		if len(data) == 0 {
			continue
		}

		events, err := decodeBatch(data, logger)
		if err != nil {
			logger.Error("decoding poll batch",
				slog.String("error", err.Error()),
				slog.String("payload", sanitizeResponseBody(data)),
			)

			continue
		}

		if len(events) == 0 {
			continue
		}

		if err := pool.Submit(func(ctx context.Context) { s.dispatchBatch(ctx, events) }); err != nil {
			logger.Debug("dropping batch", slog.Int("events", len(events)), slog.String("error", err.Error()))
		}
	}

	logger.Debug("poll loop stopped, session no longer live")
}

// decodeBatch splits a poll response into envelopes. An envelope that
// does not decode is logged and left out; only an unreadable response
// fails as a whole.
func decodeBatch(data []byte, logger *slog.Logger) ([]EventEnvelope, error) {
	var batch PollResponse
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}

	events := make([]EventEnvelope, 0, len(batch.EventMessages))

	for _, msg := range batch.EventMessages {
		var env EventEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logger.Warn("skipping malformed event",
				slog.String("error", err.Error()),
				slog.String("payload", sanitizeResponseBody(msg)),
			)

			continue
		}

		events = append(events, env)
	}

	return events, nil
}

func (s *Session) pollOnce(ctx context.Context, st *sessionState) ([]byte, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	return s.client.Poll(pollCtx, st.registrationToken, st.cloud)
}
