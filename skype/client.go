package skype

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// on the login host before giving up, matching the default net/http
	// limit.
	maxRedirects = 10

	// requestTimeout bounds every request except the long poll, whose
	// deadline is set by the poll loop.
	requestTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory. Login pages
	// are the largest bodies outside the poll.
	maxResponseBytes = 2 * 1024 * 1024

	// maxPollBytes caps a single poll batch.
	maxPollBytes = 8 * 1024 * 1024

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Client speaks the Skype for Web HTTP protocol. It holds no session
// state; tokens and cookies are passed in by the Session.
type Client struct {
	// follow is used for the login host, where the pages redirect
	// between themselves.
	follow *http.Client

	// direct never follows redirects. The endpoints service answers
	// with a redirect to the account's cloud and logout acknowledges
	// with a 302, and both must be seen by the caller.
	direct *http.Client
}

// sameHostRedirectPolicy lets login, token exchange and ping requests
// follow redirects that stay on the host they were sent to. Leaving that
// host would hand the Skype token and the login cookies to someone else.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

func noRedirectPolicy(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// NewClient creates a protocol client sharing httpClient's transport
// and cookie jar. If httpClient is nil, http.DefaultTransport is used.
// The client's Timeout and CheckRedirect are replaced: deadlines come
// from request contexts and redirect handling is fixed per endpoint.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	follow := *httpClient
	follow.Timeout = 0
	follow.CheckRedirect = sameHostRedirectPolicy

	direct := *httpClient
	direct.Timeout = 0
	direct.CheckRedirect = noRedirectPolicy

	return &Client{follow: &follow, direct: &direct}
}

// request describes one protocol call.
type request struct {
	op          string
	method      string
	url         string
	body        string
	contentType string
	header      http.Header
	cookies     Cookies
	follow      bool
	limit       int64
}

// response is a fully read HTTP response.
type response struct {
	raw     *http.Response
	body    []byte
	cookies Cookies
}

func (r *response) status() int { return r.raw.StatusCode }

// send performs r and reads the whole body. Transport failures come
// back as *ConnectionError with a zero status.
func (c *Client) send(ctx context.Context, r request) (*response, error) {
	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", r.op, err)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	r.cookies.apply(req)

	hc := c.direct
	if r.follow {
		hc = c.follow
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	limit := r.limit
	if limit == 0 {
		limit = maxResponseBytes
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &ConnectionError{Op: r.op, Err: fmt.Errorf("reading response: %w", err)}
	}

	return &response{
		raw:     resp,
		body:    respBody,
		cookies: cookiesFrom(resp),
	}, nil
}

// Cookies holds the session cookies collected during login, by name.
type Cookies map[string]string

func cookiesFrom(resp *http.Response) Cookies {
	out := make(Cookies)
	for _, ck := range resp.Cookies() {
		out[ck.Name] = ck.Value
	}

	return out
}

// Merge returns a new set with other's cookies layered over c's.
func (c Cookies) Merge(other Cookies) Cookies {
	out := make(Cookies, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}

	for k, v := range other {
		out[k] = v
	}

	return out
}

func (c Cookies) names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// String serializes the cookies as name=value; pairs in name order.
func (c Cookies) String() string {
	var sb strings.Builder
	for _, k := range c.names() {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(c[k])
		sb.WriteByte(';')
	}

	return sb.String()
}

func (c Cookies) apply(req *http.Request) {
	for _, k := range c.names() {
		req.AddCookie(&http.Cookie{Name: k, Value: c[k]})
	}
}
