package wahoo

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Authentication errors.
var (
	// ErrCredentialsMissing is returned when a call that requires
	// authentication is issued without an access token.
	ErrCredentialsMissing = errors.New("no access token available")

	// ErrNotAuthenticated is returned by the service when no usable tokens
	// are stored for the account, or when an expired token could not be
	// refreshed.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAccessUnauthorized is returned by the service when the remote API
	// rejected the token as invalid.
	ErrAccessUnauthorized = errors.New("access unauthorized")
)

// Transport/domain errors.
var (
	// ErrRateLimited signals that the remote API reported quota exhaustion.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRouteExists is returned by UploadRoute when a route with the same
	// external id already exists upstream. Falling back to an update is
	// deliberately not done; callers must resolve the conflict themselves.
	ErrRouteExists = errors.New("route already exists; update not implemented")
)

// APIError is a non-2xx response from the Wahoo Cloud API. It is produced
// in exactly one place (the client's response classification) so every verb
// and resource helper reports failures the same way.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Errors     []string
}

// Error renders "{status} {reason} - {message}: {errors}", omitting the
// message and errors suffixes when the body carried neither.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", e.StatusCode, e.Reason)

	if e.Message != "" {
		b.WriteString(" - ")
		b.WriteString(e.Message)
	}

	if len(e.Errors) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Errors, ", "))
	}

	return b.String()
}

// Unwrap maps quota exhaustion onto its sentinel so callers can use
// errors.Is(err, ErrRateLimited) without inspecting status codes.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	return nil
}

// newAPIError builds an APIError from a response status and body. The Wahoo
// API is inconsistent about error shapes: some endpoints return
// {"message": "..."}, some {"error": "..."}, and validation failures return
// a Rails-style {"errors": {"field": ["problem", ...]}}. gjson tolerates all
// of them, including non-JSON bodies.
func newAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{
		StatusCode: statusCode,
		Reason:     http.StatusText(statusCode),
	}

	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		e.Message = msg.String()
	} else if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		e.Message = msg.String()
	}

	errs := gjson.GetBytes(body, "errors")
	switch {
	case errs.IsArray():
		errs.ForEach(func(_, value gjson.Result) bool {
			e.Errors = append(e.Errors, value.String())
			return true
		})
	case errs.IsObject():
		errs.ForEach(func(field, problems gjson.Result) bool {
			if problems.IsArray() {
				problems.ForEach(func(_, p gjson.Result) bool {
					e.Errors = append(e.Errors, field.String()+" "+p.String())
					return true
				})
			} else {
				e.Errors = append(e.Errors, field.String()+" "+problems.String())
			}

			return true
		})
	}

	return e
}
