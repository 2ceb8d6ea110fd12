package skype

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const formContentType = "application/x-www-form-urlencoded"

// Bootstrap is the result of a successful credential exchange.
type Bootstrap struct {
	SkypeToken string
	Cookies    Cookies
}

// Login submits username and password to the login form and scrapes the
// response for a session token. A rejected login is an
// *InvalidCredentialsError; anything else that goes wrong is a
// *ConnectionError or *ParseError. Nothing is retried.
func (c *Client) Login(ctx context.Context, username, password string) (*Bootstrap, error) {
	return c.login(ctx, username, password, time.Now())
}

func (c *Client) login(ctx context.Context, username, password string, now time.Time) (*Bootstrap, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	page, err := c.send(ctx, request{
		op:     "fetching login page",
		method: http.MethodGet,
		url:    loginURL,
		follow: true,
	})
	if err != nil {
		return nil, err
	}

	if page.status() != http.StatusOK {
		return nil, statusError("fetching login page", page.raw)
	}

	form, err := loginFormFields(page.body)
	if err != nil {
		return nil, err
	}

	form.Set("timezone_field", timezoneField(now))
	form.Set("username", username)
	form.Set("password", password)
	form.Set("js_time", strconv.FormatInt(now.Unix(), 10))

	resp, err := c.send(ctx, request{
		op:          "submitting credentials",
		method:      http.MethodPost,
		url:         loginURL,
		body:        form.Encode(),
		contentType: formContentType,
		cookies:     page.cookies,
		follow:      true,
	})
	if err != nil {
		return nil, err
	}

	if resp.status() != http.StatusOK {
		return nil, statusError("submitting credentials", resp.raw)
	}

	token, err := scrapeSkypeToken(resp.body)
	if err != nil {
		return nil, err
	}

	return &Bootstrap{
		SkypeToken: token,
		Cookies:    page.cookies.Merge(resp.cookies),
	}, nil
}

// loginFormFields collects the default name/value pair of every input
// in the login form.
func loginFormFields(body []byte) (url.Values, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, &ParseError{Op: "parsing login page", Err: err}
	}

	form := findElement(doc, idIs("loginForm"))
	if form == nil {
		return nil, &ParseError{Op: "parsing login page", Err: errors.New("login form not found")}
	}

	values := url.Values{}

	for _, input := range findElements(form, tagIs("input")) {
		name, _ := attr(input, "name")
		if name == "" {
			continue
		}

		value, _ := attr(input, "value")
		values.Set(name, value)
	}

	return values, nil
}

// scrapeSkypeToken reads the hidden skypetoken field from the page the
// login form posts back. Without it the login was rejected, and the
// page's error container explains why.
func scrapeSkypeToken(body []byte) (string, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return "", &ParseError{Op: "parsing login response", Err: err}
	}

	if input := findElement(doc, inputNamed("skypetoken")); input != nil {
		token, _ := attr(input, "value")
		return token, nil
	}

	if div := findElement(doc, classIs("message_error")); div != nil {
		children := elementChildren(div)
		if len(children) > 1 {
			return "", &InvalidCredentialsError{Message: textContent(children[1])}
		}
	}

	return "", &InvalidCredentialsError{
		Message: "could not find error message",
		Page:    string(body),
	}
}

// timezoneField formats the local UTC offset as ±HH|MM.
func timezoneField(now time.Time) string {
	return strings.Replace(now.Format("-07:00"), ":", "|", 1)
}

// ExchangeToken trades the session token for the token-auth cookies and
// returns cookies merged with the ones it set. Any 2xx status succeeds.
func (c *Client) ExchangeToken(ctx context.Context, skypeToken string, cookies Cookies) (Cookies, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("skypetoken", skypeToken)

	resp, err := c.send(ctx, request{
		op:          "exchanging session token",
		method:      http.MethodPost,
		url:         tokenAuthURL,
		body:        form.Encode(),
		contentType: formContentType,
		cookies:     cookies,
		follow:      true,
	})
	if err != nil {
		return nil, err
	}

	if resp.status() < 200 || resp.status() > 299 {
		return nil, statusError("exchanging session token", resp.raw)
	}

	return cookies.Merge(resp.cookies), nil
}

// Logout ends the web session. The login host acknowledges with a 302;
// any other status is a *ConnectionError.
func (c *Client) Logout(ctx context.Context, cookies Cookies) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.send(ctx, request{
		op:     "logging out",
		method: http.MethodGet,
		url:    logoutURL,
		header: http.Header{"Cookie": []string{cookies.String()}},
	})
	if err != nil {
		return err
	}

	if resp.status() != http.StatusFound {
		return statusError("logging out", resp.raw)
	}

	return nil
}
