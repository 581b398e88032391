package protocol

import (
	"net/http"
	"strings"
)

// RequestInit is the serializable snapshot of fetch options. The body has
// already been drained into bytes by the guest; it crosses the wire as
// base64.
type RequestInit struct {
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Credentials    string            `json:"credentials,omitempty"`
	Cache          string            `json:"cache,omitempty"`
	Redirect       string            `json:"redirect,omitempty"`
	Referrer       string            `json:"referrer,omitempty"`
	ReferrerPolicy string            `json:"referrerPolicy,omitempty"`
	Integrity      string            `json:"integrity,omitempty"`
	Keepalive      bool              `json:"keepalive,omitempty"`
}

// MethodOrDefault returns the upper-cased method, GET when unset.
func (r *RequestInit) MethodOrDefault() string {
	if r == nil || r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Header returns the value of a header by case-insensitive name.
func (r *RequestInit) Header(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// MethodAllowsBody reports whether a request body is forwarded for method.
// GET, HEAD and DELETE bodies are dropped.
func MethodAllowsBody(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead, http.MethodDelete:
		return false
	}
	return true
}
