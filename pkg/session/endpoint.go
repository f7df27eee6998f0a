package session

import (
	"fmt"
	"net/url"
	"strings"
)

// DeriveEndpoint converts the configured service base address into the
// realtime websocket URL, substituting the http scheme family with its
// websocket equivalent. Addresses that already carry a websocket
// scheme pass through unchanged.
func DeriveEndpoint(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse service base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	case "":
		return "", fmt.Errorf("service base url missing scheme: %q", baseURL)
	default:
		return "", fmt.Errorf("unsupported service scheme: %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
