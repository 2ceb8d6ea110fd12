package skype

import "encoding/json"

// SubscriptionRequest is the payload for POST .../endpoints/SELF/subscriptions.
type SubscriptionRequest struct {
	ChannelType         string   `json:"channelType"`
	Template            string   `json:"template"`
	InterestedResources []string `json:"interestedResources"`
}

// PresenceDoc is the payload for PUT .../presenceDocs/messagingService.
type PresenceDoc struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	SelfLink    string              `json:"selfLink"`
	PublicInfo  PresencePublicInfo  `json:"publicInfo"`
	PrivateInfo PresencePrivateInfo `json:"privateInfo"`
}

// PresencePublicInfo advertises the endpoint's capabilities and client
// version to other endpoints of the account.
type PresencePublicInfo struct {
	Capabilities     string `json:"capabilities"`
	Type             int    `json:"type"`
	SkypeNameVersion string `json:"skypeNameVersion"`
	NodeInfo         string `json:"nodeInfo"`
	Version          string `json:"version"`
}

// PresencePrivateInfo names the endpoint.
type PresencePrivateInfo struct {
	EPName string `json:"epname"`
}

// PollResponse is returned from POST .../subscriptions/0/poll. Each
// message is decoded on its own so one malformed envelope does not
// cost the rest of the batch.
type PollResponse struct {
	EventMessages []json.RawMessage `json:"eventMessages"`
}

// EventEnvelope is one event in a poll batch. Resource is left raw and
// interpreted according to ResourceType. ID and Time are carried for
// logging only and kept raw, since their wire type is not stable.
type EventEnvelope struct {
	ID           json.RawMessage `json:"id"`
	Time         json.RawMessage `json:"time"`
	ResourceType string          `json:"resourceType"`
	ResourceLink string          `json:"resourceLink"`
	Resource     json.RawMessage `json:"resource"`
}
