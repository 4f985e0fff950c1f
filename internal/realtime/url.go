package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultAPIVersion is the version segment of the sync path.
const DefaultAPIVersion = "1.0"

// SyncURL derives the websocket URL from the deployment base URL: the scheme
// is swapped for its socket equivalent and /api/{version}/sync is appended.
func SyncURL(baseURL, apiVersion string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/" + apiVersion + "/sync"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
