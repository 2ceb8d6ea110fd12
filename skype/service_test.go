package skype

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeService is one TLS server standing in for every Skype host. The
// client it hands out dials the server whatever host a URL names, so
// production URLs are used unchanged and handlers are picked by the
// request's Host and path.
type fakeService struct {
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	f := &fakeService{
		routes: make(map[string]http.HandlerFunc),
		hits:   make(map[string]int),
	}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)

	return f
}

func routeKey(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}

	return method + " " + u.Host + u.Path
}

// handle registers h for method and the host and path of rawURL.
func (f *fakeService) handle(method, rawURL string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.routes[routeKey(method, rawURL)] = h
}

// count returns how many requests reached the route.
func (f *fakeService) count(method, rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hits[routeKey(method, rawURL)]
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.Host + r.URL.Path

	f.mu.Lock()
	h, ok := f.routes[key]
	f.hits[key]++
	f.mu.Unlock()

	if !ok {
		http.Error(w, "no route for "+key, http.StatusNotFound)
		return
	}

	h(w, r)
}

func (f *fakeService) httpClient() *http.Client {
	addr := f.srv.Listener.Addr().String()

	tr := f.srv.Client().Transport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test server certificate
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}

	return &http.Client{Transport: tr}
}

func (f *fakeService) client() *Client {
	return NewClient(f.httpClient())
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

const (
	loginPage = `<html><body>
<form id="loginForm" method="post">
  <input type="hidden" name="pprid" value="abc123">
  <input type="hidden" name="client_id" value="578134">
  <input type="text" name="username" value="">
  <input type="password" name="password" value="">
  <input type="submit" value="Sign in">
</form>
</body></html>`

	tokenPage = `<html><body>
<form><input type="hidden" name="skypetoken" value="skype-token-1"></form>
</body></html>`

	registrationHeader = "registrationToken=reg-token-1;expires=1700000000;endpointId={3f9a-77}"

	registeredEndpointID = "{3f9a-77}"
)

// registerLoginFlow wires every bring-up route of an account in the
// default cloud.
func registerLoginFlow(f *fakeService) {
	f.handle(http.MethodGet, loginURL, func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "MSPRequ", Value: "page"})
		io.WriteString(w, loginPage)
	})
	f.handle(http.MethodPost, loginURL, func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "skype-session", Value: "s1"})
		io.WriteString(w, tokenPage)
	})
	f.handle(http.MethodPost, tokenAuthURL, func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "skypetoken_asm", Value: "asm"})
		w.WriteHeader(http.StatusNoContent)
	})
	f.handle(http.MethodPost, endpointsURL, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Set-RegistrationToken", registrationHeader)
		w.WriteHeader(http.StatusCreated)
	})
	f.handle(http.MethodPost, CloudPrefix("").withCloud(subscriptionsURL), status(http.StatusCreated))
	f.handle(http.MethodPut, CloudPrefix("").withCloud(messagingServiceURL, url.PathEscape(registeredEndpointID)), status(http.StatusOK))
	f.handle(http.MethodPost, pingURL, status(http.StatusOK))
}

// blockPoll makes the poll endpoint hang until the client gives up.
func blockPoll(f *fakeService, cloud CloudPrefix) {
	f.handle(http.MethodPost, cloud.withCloud(pollURL), func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
}

// recorder is an EventDispatcher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Dispatch(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) ofType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event

	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}

	return out
}

// newTestSession builds a Session against f, and a state as Login
// would leave it, without starting anything.
func newTestSession(f *fakeService, cfg Config) (*Session, *sessionState) {
	if f != nil {
		cfg.HTTPClient = f.httpClient()
	}

	if cfg.Username == "" {
		cfg.Username = "alice"
	}

	s := New(cfg, testLogger)

	st := &sessionState{
		skypeToken:        "skype-token-1",
		registrationToken: "registrationToken=reg-token-1",
		endpointID:        registeredEndpointID,
		cookies:           Cookies{"skype-session": "s1"},
		correlationID:     "corr-1",
	}
	st.live.Store(true)

	return s, st
}
