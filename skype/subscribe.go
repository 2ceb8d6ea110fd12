package skype

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// interestedResources are the resource paths the poll channel reports on.
var interestedResources = []string{
	"/v1/users/ME/conversations/ALL/properties",
	"/v1/users/ME/conversations/ALL/messages",
	"/v1/users/ME/contacts/ALL",
	"/v1/threads/ALL",
}

const (
	clientVersion    = "908/1.6.0.288//skype.com"
	skypeNameVersion = "skype.com"

	// DefaultEndpointName is the endpoint name published in the
	// presence document when none is configured.
	DefaultEndpointName = "webskype"
)

func subscriptionRequest() SubscriptionRequest {
	return SubscriptionRequest{
		ChannelType:         "httpLongPoll",
		Template:            "raw",
		InterestedResources: interestedResources,
	}
}

func presenceDoc(endpointName string) PresenceDoc {
	if endpointName == "" {
		endpointName = DefaultEndpointName
	}

	return PresenceDoc{
		ID:       "messagingService",
		Type:     "EndpointPresenceDoc",
		SelfLink: "uri",
		PublicInfo: PresencePublicInfo{
			Capabilities:     "video|audio",
			Type:             1,
			SkypeNameVersion: skypeNameVersion,
			NodeInfo:         "xx",
			Version:          clientVersion,
		},
		PrivateInfo: PresencePrivateInfo{EPName: endpointName},
	}
}

// Subscribe opens the long-poll channel for the registered endpoint and
// publishes its presence document. Both calls must succeed.
func (c *Client) Subscribe(ctx context.Context, registrationToken, endpointID string, cloud CloudPrefix, endpointName string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	header := http.Header{"RegistrationToken": []string{registrationToken}}

	if err := c.sendJSON(ctx, "creating subscription", http.MethodPost,
		cloud.withCloud(subscriptionsURL), header, subscriptionRequest(), http.StatusCreated); err != nil {
		return err
	}

	return c.sendJSON(ctx, "registering presence", http.MethodPut,
		cloud.withCloud(messagingServiceURL, url.PathEscape(endpointID)), header, presenceDoc(endpointName), http.StatusOK)
}

// sendJSON sends v as a JSON body and expects the given status.
func (c *Client) sendJSON(ctx context.Context, op, method, target string, header http.Header, v any, want int) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshalling request body: %w", op, err)
	}

	resp, err := c.send(ctx, request{
		op:          op,
		method:      method,
		url:         target,
		body:        string(payload),
		contentType: "application/json",
		header:      header,
	})
	if err != nil {
		return err
	}

	if resp.status() != want {
		return statusError(op, resp.raw)
	}

	return nil
}
