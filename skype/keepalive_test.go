package skype

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pingTransport answers ping requests in memory so the keepalive loop
// can run inside a synctest bubble.
type pingTransport struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []url.Values
	fail     func(n int) bool
}

func (p *pingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))

	p.mu.Lock()
	p.requests = append(p.requests, r)
	p.forms = append(p.forms, form)
	n := len(p.requests)
	p.mu.Unlock()

	if p.fail != nil && p.fail(n) {
		return nil, errors.New("network is unreachable")
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    r,
	}, nil
}

func (p *pingTransport) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.requests)
}

func startKeepalive(t *testing.T, s *Session, st *sessionState) (cancel context.CancelFunc, done chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	done = make(chan struct{})

	go func() {
		defer close(done)
		s.keepaliveLoop(ctx, st)
	}()

	return cancel, done
}

// --- keepaliveLoop: timing (synctest) ---

func TestKeepalive_PingsImmediatelyThenEveryInterval(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tr := &pingTransport{}
		s, st := newTestSession(nil, Config{HTTPClient: &http.Client{Transport: tr}})

		cancel, done := startKeepalive(t, s, st)

		synctest.Wait()
		assert.Equal(t, 1, tr.count())

		time.Sleep(DefaultKeepaliveInterval - time.Second)
		synctest.Wait()
		assert.Equal(t, 1, tr.count())

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, 2, tr.count())

		time.Sleep(DefaultKeepaliveInterval)
		synctest.Wait()
		assert.Equal(t, 3, tr.count())

		cancel()
		<-done
	})
}

func TestKeepalive_SendsTokenCorrelationIDAndCookies(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tr := &pingTransport{}
		s, st := newTestSession(nil, Config{HTTPClient: &http.Client{Transport: tr}})

		cancel, done := startKeepalive(t, s, st)
		synctest.Wait()
		cancel()
		<-done

		require.Len(t, tr.requests, 1)

		req := tr.requests[0]
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, pingURL, req.URL.String())
		assert.Equal(t, "skype-token-1", req.Header.Get("X-Skypetoken"))
		assert.Equal(t, formContentType, req.Header.Get("Content-Type"))
		assert.Equal(t, "corr-1", tr.forms[0].Get("sessionId"))

		ck, err := req.Cookie("skype-session")
		require.NoError(t, err)
		assert.Equal(t, "s1", ck.Value)
	})
}

// --- keepaliveLoop: failure handling (synctest) ---

func TestKeepalive_FailureReportsButKeepsRunning(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tr := &pingTransport{fail: func(n int) bool { return n <= 2 }}
		rec := &recorder{}
		s, st := newTestSession(nil, Config{
			Dispatcher: rec,
			HTTPClient: &http.Client{Transport: tr},
		})

		cancel, done := startKeepalive(t, s, st)

		synctest.Wait()
		time.Sleep(DefaultKeepaliveInterval + time.Second)
		synctest.Wait()
		time.Sleep(DefaultKeepaliveInterval)
		synctest.Wait()

		assert.Equal(t, 3, tr.count())
		assert.Len(t, rec.ofType("disconnected"), 2)
		assert.True(t, st.Live(), "a failed ping must not end the session")

		cancel()
		<-done
	})
}

func TestKeepalive_StopsWhenLivenessLost(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tr := &pingTransport{}
		s, st := newTestSession(nil, Config{
			HTTPClient:        &http.Client{Transport: tr},
			KeepaliveInterval: time.Minute,
		})

		_, done := startKeepalive(t, s, st)
		synctest.Wait()

		st.markDead()
		time.Sleep(time.Minute + time.Second)

		<-done
		assert.Equal(t, 1, tr.count())
	})
}

func TestKeepalive_FailureAfterSessionLossIsSilent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		tr := &pingTransport{}
		s, st := newTestSession(nil, Config{Dispatcher: rec, HTTPClient: &http.Client{Transport: tr}})

		// The poll loop loses the session while the second ping is in flight.
		tr.fail = func(n int) bool {
			if n == 2 {
				st.markDead()
				return true
			}

			return false
		}

		_, done := startKeepalive(t, s, st)
		synctest.Wait()

		time.Sleep(DefaultKeepaliveInterval + time.Second)
		<-done

		assert.Equal(t, 2, tr.count())
		assert.Empty(t, rec.ofType("disconnected"))
	})
}

func TestKeepalive_CancelDuringWait(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tr := &pingTransport{}
		rec := &recorder{}
		s, st := newTestSession(nil, Config{Dispatcher: rec, HTTPClient: &http.Client{Transport: tr}})

		cancel, done := startKeepalive(t, s, st)
		synctest.Wait()

		cancel()
		<-done

		assert.Equal(t, 1, tr.count())
		assert.Empty(t, rec.ofType("disconnected"))
	})
}

// --- Ping ---

func TestPing_UnexpectedStatus(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPost, pingURL, status(http.StatusUnauthorized))

	err := f.client().Ping(context.Background(), "tok", "corr", nil)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusUnauthorized, ce.StatusCode)
}
