package skype

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Poll ---

func TestPoll_SendsRegistrationToken(t *testing.T) {
	f := newFakeService(t)

	var token string

	f.handle(http.MethodPost, CloudPrefix("abc-").withCloud(pollURL), func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("RegistrationToken")
		io.WriteString(w, `{"eventMessages":[]}`)
	})

	data, err := f.client().Poll(context.Background(), "reg", "abc-")
	require.NoError(t, err)
	assert.Equal(t, "reg", token)
	assert.JSONEq(t, `{"eventMessages":[]}`, string(data))
}

func TestPoll_TimeoutIsTransient(t *testing.T) {
	f := newFakeService(t)
	blockPoll(f, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.client().Poll(ctx, "reg", "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestPoll_NonOKIsConnectionError(t *testing.T) {
	f := newFakeService(t)
	f.handle(http.MethodPost, CloudPrefix("").withCloud(pollURL), status(http.StatusNotFound))

	_, err := f.client().Poll(context.Background(), "reg", "")

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusNotFound, ce.StatusCode)
	assert.False(t, IsTransient(err))
}

// --- pollLoop ---

func runPollLoop(s *Session, st *sessionState) (done chan struct{}, pool *Pool) {
	pool = NewPool(1, testLogger)
	done = make(chan struct{})

	go func() {
		defer close(done)
		s.pollLoop(context.Background(), st, pool)
	}()

	return done, pool
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}

func TestPollLoop_DispatchesBatchesAndRepollsOnEmpty(t *testing.T) {
	f := newFakeService(t)
	rec := &recorder{}
	s, st := newTestSession(f, Config{Dispatcher: rec})

	var calls atomic.Int32

	f.handle(http.MethodPost, CloudPrefix("").withCloud(pollURL), func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			// Empty 200: poll again straight away.
		case 2:
			io.WriteString(w, `{"eventMessages":[
				{"id":1,"resourceType":"ThreadUpdate","resource":{"id":"19:one@thread.skype"}},
				{"id":2,"resourceType":"UserPresence","resource":{}}
			]}`)
		case 3:
			io.WriteString(w, `{not json`)
		case 4:
			io.WriteString(w, `{"eventMessages":[{"id":3,"resourceType":"ThreadUpdate","resource":{"id":"8:two"}}]}`)
		default:
			w.WriteHeader(http.StatusGone)
		}
	})

	done, pool := runPollLoop(s, st)
	defer pool.ShutdownNow()

	waitClosed(t, done)

	require.Eventually(t, func() bool { return len(rec.ofType("chat_joined")) == 2 },
		5*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 5, calls.Load())
	assert.False(t, st.Live())
	assert.Len(t, rec.ofType("disconnected"), 1)
}

func TestPollLoop_TimeoutKeepsSessionLive(t *testing.T) {
	f := newFakeService(t)
	rec := &recorder{}
	s, st := newTestSession(f, Config{Dispatcher: rec, PollTimeout: 50 * time.Millisecond})

	var calls atomic.Int32

	f.handle(http.MethodPost, CloudPrefix("").withCloud(pollURL), func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			<-r.Context().Done()
		case 2:
			io.WriteString(w, `{"eventMessages":[{"id":1,"resourceType":"ThreadUpdate","resource":{"id":"19:late"}}]}`)
		default:
			<-r.Context().Done()
		}
	})

	done, pool := runPollLoop(s, st)
	defer pool.ShutdownNow()

	require.Eventually(t, func() bool { return len(rec.ofType("chat_joined")) == 1 },
		5*time.Second, 10*time.Millisecond)

	assert.True(t, st.Live())
	assert.Empty(t, rec.ofType("disconnected"))

	st.markDead()
	waitClosed(t, done)
	assert.Empty(t, rec.ofType("disconnected"))
}

func TestPollLoop_TransportFailureEndsSessionOnce(t *testing.T) {
	f := newFakeService(t)
	rec := &recorder{}
	s, st := newTestSession(f, Config{Dispatcher: rec})

	f.srv.Close()

	done, pool := runPollLoop(s, st)
	defer pool.ShutdownNow()

	waitClosed(t, done)

	assert.False(t, st.Live())

	disconnected := rec.ofType("disconnected")
	require.Len(t, disconnected, 1)

	var ce *ConnectionError
	assert.ErrorAs(t, disconnected[0].(DisconnectedEvent).Cause, &ce)
}

func TestPollLoop_CancelExitsQuietly(t *testing.T) {
	f := newFakeService(t)
	rec := &recorder{}
	s, st := newTestSession(f, Config{Dispatcher: rec})
	blockPoll(f, "")

	pool := NewPool(1, testLogger)
	defer pool.ShutdownNow()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.pollLoop(ctx, st, pool)
	}()

	require.Eventually(t, func() bool { return f.count(http.MethodPost, CloudPrefix("").withCloud(pollURL)) == 1 },
		5*time.Second, 10*time.Millisecond)

	cancel()
	waitClosed(t, done)

	assert.True(t, st.Live(), "cancellation alone leaves liveness to the caller")
	assert.Empty(t, rec.ofType("disconnected"))
}

func TestPollLoop_NotLiveDoesNotPoll(t *testing.T) {
	f := newFakeService(t)
	s, st := newTestSession(f, Config{})
	st.markDead()

	done, pool := runPollLoop(s, st)
	defer pool.ShutdownNow()

	waitClosed(t, done)
	assert.Zero(t, f.count(http.MethodPost, CloudPrefix("").withCloud(pollURL)))
}

func TestPollLoop_LooseEnvelopeFieldsKeepBatch(t *testing.T) {
	f := newFakeService(t)
	rec := &recorder{}
	s, st := newTestSession(f, Config{Dispatcher: rec})

	var calls atomic.Int32

	f.handle(http.MethodPost, CloudPrefix("").withCloud(pollURL), func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			io.WriteString(w, `{"eventMessages":[{"id":"77","resourceType":"ThreadUpdate","resource":{"id":"19:strid"}}]}`)
		case 2:
			io.WriteString(w, `{"eventMessages":[{"id":1.5e3,"time":123,"resourceType":"ThreadUpdate","resource":{"id":"19:numtime"}}]}`)
		case 3:
			io.WriteString(w, `{"eventMessages":[
				{"id":4,"resourceType":7,"resource":{"id":"19:badtype"}},
				{"id":5,"resourceType":"ThreadUpdate","resource":{"id":"19:neighbour"}}
			]}`)
		default:
			w.WriteHeader(http.StatusGone)
		}
	})

	done, pool := runPollLoop(s, st)
	defer pool.ShutdownNow()

	waitClosed(t, done)

	require.Eventually(t, func() bool { return len(rec.ofType("chat_joined")) == 3 },
		5*time.Second, 10*time.Millisecond)

	for _, id := range []string{"19:strid", "19:numtime", "19:neighbour"} {
		_, ok := s.GetChat(id)
		assert.True(t, ok, id)
	}

	_, ok := s.GetChat("19:badtype")
	assert.False(t, ok)
}

func TestDecodeBatch(t *testing.T) {
	events, err := decodeBatch([]byte(`{"eventMessages":[
		{"id":"a","time":"2024-01-01T00:00:00Z","resourceType":"NewMessage","resource":{"messagetype":"Text"}},
		"not an object",
		{"id":9,"resourceType":"ThreadUpdate","resource":{"id":"8:bob"}}
	]}`), testLogger)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.JSONEq(t, `"a"`, string(events[0].ID))
	assert.Equal(t, "NewMessage", events[0].ResourceType)
	assert.JSONEq(t, `9`, string(events[1].ID))
	assert.JSONEq(t, `{"id":"8:bob"}`, string(events[1].Resource))

	events, err = decodeBatch([]byte(`{}`), testLogger)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = decodeBatch([]byte(`{not json`), testLogger)
	assert.Error(t, err)
}
