package connection

import (
	"fmt"
	"net/url"
)

// BuildURL derives the realtime endpoint from the console origin: the ws/wss
// scheme mirrors whether the origin is served over TLS, and the credential
// rides as a url-encoded query parameter.
func BuildURL(origin, path, token string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidOrigin, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidOrigin)
	}

	u.Path = path
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
