package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/appdev/pkg/identifiers"
)

const extensionRegistrationsQuery = `query ExtensionRegistrations($apiKey: String!) {
  app(apiKey: $apiKey) {
    id
    title
    extensionRegistrations {
      id
      uuid
      title
      type
    }
  }
}`

const extensionCreateMutation = `mutation ExtensionCreate($apiKey: String!, $type: ExtensionType!, $title: String!, $handle: String, $release: Boolean) {
  extensionCreate(input: {apiKey: $apiKey, type: $type, title: $title, handle: $handle, release: $release}) {
    extensionRegistration {
      id
      uuid
      title
      type
    }
    userErrors {
      field
      message
    }
  }
}`

var _ identifiers.RegistrationService = (*Client)(nil)

// ListRegistrations returns the extension registrations of the app.
func (c *Client) ListRegistrations(ctx context.Context, apiKey string) ([]identifiers.RemoteRegistration, error) {
	data, err := c.Query(ctx, extensionRegistrationsQuery, map[string]any{"apiKey": apiKey})
	if err != nil {
		return nil, err
	}
	app := data.Get("app")
	if !app.IsObject() {
		return nil, fmt.Errorf("app %s not found", apiKey)
	}

	var out []identifiers.RemoteRegistration
	for _, r := range app.Get("extensionRegistrations").Array() {
		out = append(out, identifiers.RemoteRegistration{
			ID:    r.Get("id").String(),
			UUID:  r.Get("uuid").String(),
			Title: r.Get("title").String(),
			Type:  r.Get("type").String(),
		})
	}
	return out, nil
}

// CreateRegistration registers a new extension on the app.
func (c *Client) CreateRegistration(ctx context.Context, apiKey string, in identifiers.CreateInput) (*identifiers.RemoteRegistration, error) {
	data, err := c.Query(ctx, extensionCreateMutation, map[string]any{
		"apiKey":  apiKey,
		"type":    in.Type,
		"title":   in.Title,
		"handle":  in.Handle,
		"release": in.Release,
	})
	if err != nil {
		return nil, err
	}
	result := data.Get("extensionCreate")
	if err := userErrors("extensionCreate", result.Get("userErrors")); err != nil {
		return nil, err
	}
	reg := result.Get("extensionRegistration")
	if !reg.Exists() {
		return nil, errors.New("extensionCreate returned no registration")
	}
	return &identifiers.RemoteRegistration{
		ID:    reg.Get("id").String(),
		UUID:  reg.Get("uuid").String(),
		Title: reg.Get("title").String(),
		Type:  reg.Get("type").String(),
	}, nil
}
