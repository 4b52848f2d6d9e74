package wahoo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- sentinels ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrCredentialsMissing,
		ErrNotAuthenticated,
		ErrAccessUnauthorized,
		ErrRateLimited,
		ErrRouteExists,
	}
	for i := 0; i < len(sentinels); i++ {
		assert.NotEmpty(t, sentinels[i].Error())
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

// --- APIError formatting ---

func TestAPIError_StatusOnly(t *testing.T) {
	err := &APIError{StatusCode: 500, Reason: "Internal Server Error"}
	assert.Equal(t, "500 Internal Server Error", err.Error())
}

func TestAPIError_WithMessage(t *testing.T) {
	err := &APIError{StatusCode: 401, Reason: "Unauthorized", Message: "Invalid token"}
	assert.Equal(t, "401 Unauthorized - Invalid token", err.Error())
}

func TestAPIError_WithMessageAndErrors(t *testing.T) {
	err := &APIError{
		StatusCode: 422,
		Reason:     "Unprocessable Entity",
		Message:    "Validation failed",
		Errors:     []string{"file can't be blank", "name too long"},
	}
	assert.Equal(t,
		"422 Unprocessable Entity - Validation failed: file can't be blank, name too long",
		err.Error())
}

func TestAPIError_ErrorsWithoutMessage(t *testing.T) {
	err := &APIError{StatusCode: 422, Reason: "Unprocessable Entity", Errors: []string{"bad"}}
	assert.Equal(t, "422 Unprocessable Entity: bad", err.Error())
}

// --- APIError unwrapping ---

func TestAPIError_429_IsRateLimited(t *testing.T) {
	err := newAPIError(429, []byte(`{"message":"slow down"}`))
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestAPIError_Other_IsNotRateLimited(t *testing.T) {
	err := newAPIError(500, nil)
	assert.False(t, errors.Is(err, ErrRateLimited))
}

// --- newAPIError body parsing ---

func TestNewAPIError_MessageField(t *testing.T) {
	err := newAPIError(401, []byte(`{"message":"Invalid token"}`))
	assert.Equal(t, 401, err.StatusCode)
	assert.Equal(t, "Unauthorized", err.Reason)
	assert.Equal(t, "Invalid token", err.Message)
	assert.Empty(t, err.Errors)
}

func TestNewAPIError_ErrorField(t *testing.T) {
	err := newAPIError(400, []byte(`{"error":"invalid_grant"}`))
	assert.Equal(t, "invalid_grant", err.Message)
}

func TestNewAPIError_MessageWinsOverError(t *testing.T) {
	err := newAPIError(400, []byte(`{"message":"m","error":"e"}`))
	assert.Equal(t, "m", err.Message)
}

func TestNewAPIError_ErrorsArray(t *testing.T) {
	err := newAPIError(422, []byte(`{"errors":["a","b"]}`))
	assert.Equal(t, []string{"a", "b"}, err.Errors)
}

func TestNewAPIError_RailsErrorsObject(t *testing.T) {
	err := newAPIError(422, []byte(`{"errors":{"file":["can't be blank"],"external_id":["has already been taken"]}}`))
	assert.Contains(t, err.Errors, "file can't be blank")
	assert.Contains(t, err.Errors, "external_id has already been taken")
}

func TestNewAPIError_NonJSONBody(t *testing.T) {
	err := newAPIError(502, []byte(`<html>Bad Gateway</html>`))
	assert.Equal(t, "502 Bad Gateway", err.Error())
}

func TestNewAPIError_EmptyBody(t *testing.T) {
	err := newAPIError(404, nil)
	assert.Equal(t, "404 Not Found", err.Error())
}
