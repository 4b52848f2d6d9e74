package wahoo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Service is the authentication-aware facade over the client. It owns the
// authentication decision: tokens are loaded from the store before every
// call, refreshed when expired, and persisted after rotation. One service
// per remote account id; calls on one instance are sequential.
type Service struct {
	client    *Client
	store     TokenStore
	accountID string
	logger    *slog.Logger

	now func() time.Time
}

// NewService creates a service for one remote account. Tokens rotated by
// the client's transparent refresh are persisted through the store here, so
// the client stays persistence-free.
func NewService(client *Client, store TokenStore, accountID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		client:    client,
		store:     store,
		accountID: accountID,
		logger:    logger,
		now:       time.Now,
	}

	client.SetOnTokenRefresh(func(rec TokenRecord) {
		if err := store.Save(accountID, rec); err != nil {
			logger.Warn("persisting refreshed token",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
		}
	})

	return s
}

// AuthorizationURL builds the user-facing authorization URL.
func (s *Service) AuthorizationURL(state string) string {
	return s.client.AuthorizationURL(state, "")
}

// ExchangeCode trades an authorization code for tokens and persists them.
func (s *Service) ExchangeCode(ctx context.Context, code string) (*TokenRecord, error) {
	rec, err := s.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(s.accountID, *rec); err != nil {
		return nil, fmt.Errorf("persisting token: %w", err)
	}

	s.client.SetToken(*rec)

	return rec, nil
}

// RefreshAccessToken refreshes the stored token set and persists the
// result. It returns false rather than an error on every failure path:
// refresh failing is a routine outcome for callers of the authentication
// guard, not an exceptional one. The new record is committed to the store
// before true is returned.
func (s *Service) RefreshAccessToken(ctx context.Context) bool {
	rec, err := s.store.Load(s.accountID)
	if err != nil {
		s.logger.Warn("loading tokens for refresh",
			slog.String("account_id", s.accountID),
			slog.String("error", err.Error()),
		)

		return false
	}

	if rec == nil || rec.RefreshToken == "" {
		return false
	}

	fresh, err := s.client.RefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed",
			slog.String("account_id", s.accountID),
			slog.String("error", err.Error()),
		)

		return false
	}

	if err := s.store.Save(s.accountID, *fresh); err != nil {
		s.logger.Warn("persisting refreshed token",
			slog.String("account_id", s.accountID),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// ensureAuthenticated is the guard run before every domain call: load the
// stored tokens, refresh if expired, and install the current access token
// on the client.
func (s *Service) ensureAuthenticated(ctx context.Context) error {
	rec, err := s.store.Load(s.accountID)
	if err != nil {
		return fmt.Errorf("loading tokens: %w", err)
	}

	if rec == nil || rec.AccessToken == "" {
		return fmt.Errorf("%w: no stored tokens for account %s", ErrNotAuthenticated, s.accountID)
	}

	if rec.Expired(s.now()) {
		if !s.RefreshAccessToken(ctx) {
			return fmt.Errorf("%w: token expired and refresh failed", ErrNotAuthenticated)
		}

		// RefreshAccessToken persisted the rotated record; reload it.
		rec, err = s.store.Load(s.accountID)
		if err != nil {
			return fmt.Errorf("reloading tokens: %w", err)
		}

		if rec == nil || rec.AccessToken == "" {
			return fmt.Errorf("%w: refreshed token record is missing", ErrNotAuthenticated)
		}
	}

	s.client.SetToken(*rec)

	return nil
}

// translate maps the one error class the service re-interprets: a 401 from
// the API becomes ErrAccessUnauthorized. Everything else passes through
// unchanged; classification itself happened once, in the client.
func (s *Service) translate(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrAccessUnauthorized, err)
	}

	return err
}

// GetUser fetches the authenticated user's profile.
func (s *Service) GetUser(ctx context.Context) (map[string]any, error) {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.GetUser(ctx)

	return out, s.translate(err)
}

// GetRoute fetches one route by id.
func (s *Service) GetRoute(ctx context.Context, id int64) (map[string]any, error) {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.GetRoute(ctx, id)

	return out, s.translate(err)
}

// GetRoutes lists routes, optionally filtered by external id.
func (s *Service) GetRoutes(ctx context.Context, externalID string) ([]map[string]any, error) {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.GetRoutes(ctx, externalID)

	return out, s.translate(err)
}

// CreateRoute uploads a new route without conflict handling; most callers
// want UploadRoute instead.
func (s *Service) CreateRoute(ctx context.Context, up RouteUpload) (map[string]any, error) {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.CreateRoute(ctx, up)

	return out, s.translate(err)
}

// UpdateRoute changes route metadata.
func (s *Service) UpdateRoute(ctx context.Context, id int64, fields url.Values) (map[string]any, error) {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.UpdateRoute(ctx, id, fields)

	return out, s.translate(err)
}

// DeleteRoute removes a route.
func (s *Service) DeleteRoute(ctx context.Context, id int64) error {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return err
	}

	return s.translate(s.client.DeleteRoute(ctx, id))
}

// Deauthorize revokes this application's access for the account.
func (s *Service) Deauthorize(ctx context.Context) error {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return err
	}

	return s.translate(s.client.Deauthorize(ctx))
}

// UploadRoute creates a route and surfaces a duplicate external id as
// ErrRouteExists. It deliberately does not fall back to an update: the
// caller decides how to resolve the conflict.
func (s *Service) UploadRoute(ctx context.Context, up RouteUpload) (map[string]any, error) {
	if err := s.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.CreateRoute(ctx, up)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isConflict(apiErr) {
			return nil, fmt.Errorf("%w (external_id %q): %v", ErrRouteExists, up.ExternalID, err)
		}

		return nil, s.translate(err)
	}

	return out, nil
}

// isConflict recognizes the API's duplicate-resource signals: a 409, or a
// validation failure whose structured message names an existing record.
func isConflict(e *APIError) bool {
	if e.StatusCode == http.StatusConflict {
		return true
	}

	for _, msg := range append([]string{e.Message}, e.Errors...) {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "already been taken") || strings.Contains(lower, "already exists") {
			return true
		}
	}

	return false
}
