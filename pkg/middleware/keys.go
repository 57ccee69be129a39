package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrNoKey is returned by a KeyFunc that cannot derive a key.
var ErrNoKey = errors.New("missing key")

// KeyFunc resolves a limiter, lock or caller key from the request.
type KeyFunc func(*http.Request) (string, error)

// DefaultKeyFunc resolves a key from header, then a bearer token, then the
// client IP.
func DefaultKeyFunc(header string) KeyFunc {
	if header == "" {
		header = "X-API-Key"
	}
	return func(r *http.Request) (string, error) {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value, nil
		}
		if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
			parts := strings.Fields(auth)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				return parts[1], nil
			}
			return auth, nil
		}
		if ip := ClientIP(r); ip != "" {
			return ip, nil
		}
		return "", ErrNoKey
	}
}

// HeaderKey uses the value of a single header.
func HeaderKey(header string) KeyFunc {
	return func(r *http.Request) (string, error) {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value, nil
		}
		return "", ErrNoKey
	}
}

// PathValueKey uses a pattern wildcard from http.ServeMux routing.
func PathValueKey(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		if value := r.PathValue(name); value != "" {
			return value, nil
		}
		return "", ErrNoKey
	}
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
