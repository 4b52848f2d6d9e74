package wahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Resource helpers built on the generic verbs. Responses are the decoded
// JSON mappings the API returns; nothing here reshapes them.

// RouteUpload describes a route to create: a GPX file plus the metadata the
// routes endpoint accepts. ExternalID is the caller's stable identifier and
// what the API deduplicates on.
type RouteUpload struct {
	Name       string
	ExternalID string
	FileName   string
	File       io.Reader
}

// GetUser fetches the authenticated user's profile.
func (c *Client) GetUser(ctx context.Context) (map[string]any, error) {
	return c.Get(ctx, "/user", nil)
}

// GetRoute fetches a single route by id.
func (c *Client) GetRoute(ctx context.Context, id int64) (map[string]any, error) {
	return c.Get(ctx, "/routes/"+strconv.FormatInt(id, 10), nil)
}

// GetRoutes lists the user's routes. The routes endpoint accepts an
// external_id filter; pass empty to list everything.
func (c *Client) GetRoutes(ctx context.Context, externalID string) ([]map[string]any, error) {
	var params url.Values
	if externalID != "" {
		params = url.Values{"external_id": {externalID}}
	}

	return c.doJSONList(ctx, request{method: http.MethodGet, path: "/routes", query: params})
}

// CreateRoute uploads a new route as multipart form data.
func (c *Client) CreateRoute(ctx context.Context, up RouteUpload) (map[string]any, error) {
	if up.File == nil {
		return nil, fmt.Errorf("route file is required")
	}

	form := url.Values{
		"route[name]": {up.Name},
	}

	if up.ExternalID != "" {
		form.Set("route[external_id]", up.ExternalID)
	}

	files := []FileUpload{{Field: "route[file]", Name: up.FileName, Reader: up.File}}

	return c.Post(ctx, "/routes", form, files)
}

// UpdateRoute changes route metadata in place.
func (c *Client) UpdateRoute(ctx context.Context, id int64, fields url.Values) (map[string]any, error) {
	form := url.Values{}
	for k, vs := range fields {
		form["route["+k+"]"] = vs
	}

	return c.Put(ctx, "/routes/"+strconv.FormatInt(id, 10), form)
}

// DeleteRoute removes a route. The API answers 204.
func (c *Client) DeleteRoute(ctx context.Context, id int64) error {
	_, err := c.Delete(ctx, "/routes/"+strconv.FormatInt(id, 10), nil)
	return err
}

// Deauthorize revokes this application's access for the current user.
func (c *Client) Deauthorize(ctx context.Context) error {
	_, err := c.Delete(ctx, "/permissions", nil)
	return err
}
