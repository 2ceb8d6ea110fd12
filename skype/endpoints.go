package skype

import (
	"fmt"
	"net/http"
	"regexp"
)

// Fixed hosts. These are the same for every account.
const (
	loginURL     = "https://login.skype.com/login?client_id=578134&redirect_uri=https%3A%2F%2Fweb.skype.com"
	pingURL      = "https://web.skype.com/api/v1/session-ping"
	tokenAuthURL = "https://api.asm.skype.com/v1/skypetokenauth"
	logoutURL    = "https://login.skype.com/logout?client_id=578134&redirect_uri=https%3A%2F%2Fweb.skype.com&intsrc=client-_-webapp-_-production-_-go-signin"
	endpointsURL = "https://client-s.gateway.messenger.live.com/v1/users/ME/endpoints"
)

// Gateway templates. The first verb is always the cloud prefix, which
// sits directly in front of the fixed client-s host segment.
const (
	subscriptionsURL    = "https://%sclient-s.gateway.messenger.live.com/v1/users/ME/endpoints/SELF/subscriptions"
	messagingServiceURL = "https://%sclient-s.gateway.messenger.live.com/v1/users/ME/endpoints/%s/presenceDocs/messagingService"
	pollURL             = "https://%sclient-s.gateway.messenger.live.com/v1/users/ME/endpoints/SELF/subscriptions/0/poll"
)

// CloudPrefix is the regional routing segment of the gateway host, for
// example "db5-". The empty prefix is the default region.
type CloudPrefix string

var cloudPattern = regexp.MustCompile(`https?://([^-]*-)client-s`)

// ResolveCloud extracts the cloud prefix from a redirect target such as
// https://db5-client-s.gateway.messenger.live.com/v1/users/ME/endpoints.
// A location that does not name a regional gateway is an
// *InvalidArgumentError.
func ResolveCloud(location string) (CloudPrefix, error) {
	m := cloudPattern.FindStringSubmatch(location)
	if m == nil {
		return "", &InvalidArgumentError{
			Value:  location,
			Reason: "no cloud prefix in redirect target",
		}
	}

	return CloudPrefix(m[1]), nil
}

// withCloud formats a gateway template for this cloud.
func (c CloudPrefix) withCloud(template string, args ...any) string {
	return fmt.Sprintf(template, append([]any{string(c)}, args...)...)
}

// isCloudRedirect reports whether code is one of the statuses the
// endpoints service sends when the account lives in another cloud.
func isCloudRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect:
		return true
	}

	return false
}
