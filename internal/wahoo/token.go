package wahoo

import (
	"encoding/json"
	"fmt"
	"time"
)

//go:generate mockgen -source=token.go -destination=mock_store_test.go -package=wahoo

// TokenRecord is the canonical token shape used everywhere past the HTTP
// boundary. ExpiresAt is epoch seconds rather than a time.Time so the record
// survives serialization round-trips losslessly. Extra holds any
// platform-specific payload fields (profile data and the like) as raw JSON;
// nothing in this package interprets them.
type TokenRecord struct {
	AccessToken  string                     `json:"access_token"`
	RefreshToken string                     `json:"refresh_token"`
	ExpiresAt    int64                      `json:"expires_at"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
}

// Expired reports whether the access token has expired at the given instant.
// A record with no known expiry never reports expired.
func (t *TokenRecord) Expired(now time.Time) bool {
	return t.ExpiresAt != 0 && now.Unix() >= t.ExpiresAt
}

// TokenStore is the persistence boundary for token records, keyed by the
// remote-account identifier. Load returns (nil, nil) when no record exists.
// Implementations must provide read-after-write visibility per account id;
// serializing concurrent refreshes for the same account is also theirs to
// guarantee (a single bbolt or database transaction is enough).
type TokenStore interface {
	Load(accountID string) (*TokenRecord, error)
	Save(accountID string, rec TokenRecord) error
}

// decodeTokenResponse normalizes a token endpoint response body into a
// TokenRecord. The Wahoo API sometimes returns expires_at directly and
// sometimes created_at + expires_in; both shapes collapse to one canonical
// expires_at here, and the raw shape never leaks further into the system.
// Unrecognized fields are preserved verbatim in Extra.
func decodeTokenResponse(body []byte) (*TokenRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}

	rec := &TokenRecord{}

	for key, raw := range fields {
		switch key {
		case "access_token":
			if err := json.Unmarshal(raw, &rec.AccessToken); err != nil {
				return nil, fmt.Errorf("parsing access_token: %w", err)
			}
		case "refresh_token":
			if err := json.Unmarshal(raw, &rec.RefreshToken); err != nil {
				return nil, fmt.Errorf("parsing refresh_token: %w", err)
			}
		case "expires_at":
			if err := json.Unmarshal(raw, &rec.ExpiresAt); err != nil {
				return nil, fmt.Errorf("parsing expires_at: %w", err)
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]json.RawMessage)
			}

			rec.Extra[key] = raw
		}
	}

	if rec.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	// created_at + expires_in is the other shape the token endpoint uses.
	// Both fields stay in Extra; only the derived expiry is promoted.
	if rec.ExpiresAt == 0 {
		createdAt, okCreated := extraInt(rec.Extra, "created_at")

		expiresIn, okExpires := extraInt(rec.Extra, "expires_in")
		if okCreated && okExpires {
			rec.ExpiresAt = createdAt + expiresIn
		}
	}

	return rec, nil
}

// extraInt reads an integer field out of the opaque payload.
func extraInt(extra map[string]json.RawMessage, key string) (int64, bool) {
	raw, ok := extra[key]
	if !ok {
		return 0, false
	}

	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}

	return v, true
}
