package skype

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Registration identifies the endpoint this client registered.
type Registration struct {
	Token      string
	EndpointID string
	Cloud      CloudPrefix
}

// RegisterEndpoint exchanges the session token for a registration token
// and endpoint id. When the service answers with a redirect, the
// account lives in another cloud: the cloud prefix is taken from the
// Location header and the request is repeated there exactly once.
func (c *Client) RegisterEndpoint(ctx context.Context, skypeToken string) (*Registration, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	const op = "registering endpoint"

	req := request{
		op:          op,
		method:      http.MethodPost,
		url:         endpointsURL,
		body:        "{}",
		contentType: "application/json",
		header: http.Header{
			"Authentication": []string{"skypetoken=" + skypeToken},
		},
	}

	var cloud CloudPrefix

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if isCloudRedirect(resp.status()) {
		location := resp.raw.Header.Get("Location")

		cloud, err = ResolveCloud(location)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		req.url = location

		resp, err = c.send(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if resp.status() != http.StatusCreated {
		return nil, statusError(op, resp.raw)
	}

	token, endpointID, err := parseRegistrationToken(resp.raw.Header.Get("Set-RegistrationToken"))
	if err != nil {
		return nil, &ParseError{Op: op, Err: err}
	}

	return &Registration{
		Token:      token,
		EndpointID: endpointID,
		Cloud:      cloud,
	}, nil
}

// parseRegistrationToken splits a Set-RegistrationToken header of the
// form "registrationToken=...;expires=...;endpointId={...}". The first
// segment is the token as the service wants it echoed back.
func parseRegistrationToken(header string) (token, endpointID string, err error) {
	if header == "" {
		return "", "", errors.New("missing Set-RegistrationToken header")
	}

	parts := strings.Split(header, ";")
	token = strings.TrimSpace(parts[0])

	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && key == "endpointId" {
			endpointID = value
		}
	}

	if token == "" || endpointID == "" {
		return "", "", fmt.Errorf("malformed Set-RegistrationToken header %q", header)
	}

	return token, endpointID, nil
}
