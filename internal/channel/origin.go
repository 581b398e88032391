package channel

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	opaqueOrigin  = "null"
	sandboxPrefix = "sandbox."
	originSegment = "origin"
)

// ErrNoPeerOrigin is returned when no host origin can be derived from the
// embedding URL and the policy does not allow the wildcard.
var ErrNoPeerOrigin = errors.New("no peer origin derivable from embedding context")

// Policy is supplied by the host and governs origin negotiation.
type Policy struct {
	// AllowWildcard permits falling back to an unauthenticated peer when the
	// embedding context is opaque.
	AllowWildcard bool
}

// DeriveHostOrigin works out the trusted host origin from the URL the guest
// was embedded under:
//
//	http://x/origin/https%3A%2F%2Fapp.example/run  -> https://app.example
//	https://sandbox.app.example:8443/              -> https://app.example:8443
//
// With neither marker the result is Wildcard if the policy allows it and
// ErrNoPeerOrigin otherwise.
func DeriveHostOrigin(embedURL string, policy Policy) (string, error) {
	u, err := url.Parse(embedURL)
	if err != nil {
		return "", fmt.Errorf("parse embed url: %w", err)
	}

	if origin, ok := explicitOrigin(u); ok {
		return origin, nil
	}

	if host := u.Hostname(); strings.HasPrefix(host, sandboxPrefix) && len(host) > len(sandboxPrefix) {
		host = strings.TrimPrefix(host, sandboxPrefix)
		if port := u.Port(); port != "" {
			host = net.JoinHostPort(host, port)
		}
		return httpScheme(u.Scheme) + "://" + host, nil
	}

	if policy.AllowWildcard {
		return Wildcard, nil
	}
	return "", ErrNoPeerOrigin
}

func explicitOrigin(u *url.URL) (string, bool) {
	segments := strings.Split(u.EscapedPath(), "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] != originSegment || segments[i+1] == "" {
			continue
		}
		raw, err := url.PathUnescape(segments[i+1])
		if err != nil {
			continue
		}
		origin, err := OriginOf(raw)
		if err != nil || origin == opaqueOrigin {
			continue
		}
		return origin, true
	}
	return "", false
}

// OriginOf returns the scheme://host[:port] origin of rawURL. WebSocket
// schemes map to their HTTP equivalents; URLs without a host (file:, data:)
// have the opaque origin "null".
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return opaqueOrigin, nil
	}
	return httpScheme(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

func httpScheme(scheme string) string {
	switch s := strings.ToLower(scheme); s {
	case "ws":
		return "http"
	case "wss":
		return "https"
	default:
		return s
	}
}
