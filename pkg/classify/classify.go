// Package classify maps generation failures into a small set of kinds with
// user-safe messages.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/igolaizola/trackgen/pkg/provider"
)

type Kind string

const (
	InvalidRequest            Kind = "invalid_request"
	Timeout                   Kind = "timeout"
	RateLimited               Kind = "rate_limited"
	ServiceUnavailable        Kind = "service_unavailable"
	UpstreamRejected          Kind = "upstream_rejected"
	MalformedUpstreamResponse Kind = "malformed_upstream_response"
	Internal                  Kind = "internal"
)

var templates = map[Kind]string{
	InvalidRequest:            "Missing required parameters",
	Timeout:                   "The request took too long to complete. Please try again.",
	RateLimited:               "Too many requests. Please wait a moment before trying again.",
	ServiceUnavailable:        "Service is temporarily unavailable. Please try again in a few minutes.",
	UpstreamRejected:          "Invalid request parameters",
	MalformedUpstreamResponse: "Received an unexpected response from the music generation service",
	Internal:                  "Failed to generate music. Please try again.",
}

// Template returns the fixed message of a kind.
func (k Kind) Template() string {
	if t, ok := templates[k]; ok {
		return t
	}
	return templates[Internal]
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Detail is provider supplied text, only rendered for upstream rejections
	// and malformed responses.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message renders the user visible text. Production mode redacts credential
// like words.
func (e *Error) Message(production bool) string {
	msg := e.Kind.Template()
	switch e.Kind {
	case UpstreamRejected:
		if e.Detail != "" {
			msg = e.Detail
		}
	case MalformedUpstreamResponse:
		if e.Detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, e.Detail)
		}
	}
	if production {
		msg = Redact(msg)
	}
	return msg
}

// Invalid returns an invalid request error.
func Invalid(msg string) *Error {
	return &Error{Kind: InvalidRequest, Err: errors.New(msg)}
}

var (
	words     = regexp.MustCompile(`[A-Za-z0-9_\-]+`)
	sensitive = map[string]bool{"api": true, "key": true, "token": true, "secret": true}
)

// Redact replaces every word that is, or is compounded from, a sensitive
// word. Compounds are split on underscores, hyphens and case changes, so
// "api_key" and "apiKey" are redacted but "keyboard" is not.
func Redact(s string) string {
	return words.ReplaceAllStringFunc(s, func(w string) string {
		for _, p := range wordParts(w) {
			if sensitive[strings.ToLower(p)] {
				return "[REDACTED]"
			}
		}
		return w
	})
}

func wordParts(w string) []string {
	var parts []string
	for _, f := range strings.FieldsFunc(w, func(r rune) bool { return r == '_' || r == '-' }) {
		start := 0
		for i := 1; i < len(f); i++ {
			prev, cur := f[i-1], f[i]
			lowerUpper := isLower(prev) && isUpper(cur)
			acronymEnd := isUpper(prev) && isUpper(cur) && i+1 < len(f) && isLower(f[i+1])
			if lowerUpper || acronymEnd {
				parts = append(parts, f[start:i])
				start = i
			}
		}
		parts = append(parts, f[start:])
	}
	return parts
}

func isLower(b byte) bool { return b >= 'a' && b <= 'z' }

func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }

// Classify maps err into an *Error. It never returns nil for a non nil err.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	if errors.Is(err, provider.ErrMalformed) {
		return &Error{Kind: MalformedUpstreamResponse, Detail: malformedDetail(err), Err: err}
	}
	var terr *provider.TransportError
	if errors.As(err, &terr) {
		return transport(terr, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Err: err}
	}
	return &Error{Kind: Internal, Err: err}
}

func transport(terr *provider.TransportError, err error) *Error {
	if !terr.Responded {
		if terr.Timeout || errors.Is(terr.Err, context.DeadlineExceeded) {
			return &Error{Kind: Timeout, Err: err}
		}
		return &Error{Kind: Internal, Err: err}
	}
	switch code := terr.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &Error{Kind: RateLimited, Err: err}
	case code == http.StatusServiceUnavailable, code == http.StatusNotFound:
		return &Error{Kind: ServiceUnavailable, Err: err}
	case code >= 400 && code < 500:
		detail := Detail(terr.Body)
		if detail == "" {
			detail = statusDetail(code)
		}
		return &Error{Kind: UpstreamRejected, Detail: detail, Err: err}
	default:
		return &Error{Kind: Internal, Err: err}
	}
}

func statusDetail(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "Authentication failed - Please check your API key"
	case http.StatusForbidden:
		return "Access denied - Please check your API permissions"
	default:
		return ""
	}
}

// Detail extracts a human readable message from a provider error body.
func Detail(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err == nil {
		for _, k := range []string{"details", "detail", "error", "message"} {
			v, ok := m[k]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(v, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
				return strings.TrimSpace(nested.Message)
			}
		}
		return ""
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return s
}

// malformedDetail keeps the part of the error after the sentinel text.
func malformedDetail(err error) string {
	s := err.Error()
	marker := provider.ErrMalformed.Error()
	if i := strings.Index(s, marker); i >= 0 {
		s = strings.TrimLeft(s[i+len(marker):], ": ")
	}
	return s
}
