package remote

import (
	"context"
	"errors"
)

const devSessionCreateMutation = `mutation DevSessionCreate($title: String!, $scopes: [String!], $applicationUrl: String!) {
  devSessionCreate(input: {title: $title, scopes: $scopes, application: $applicationUrl}) {
    app {
      apiKey
      title
      id
    }
    userErrors {
      field
      message
    }
  }
}`

// DevSessionCreateInput are the variables of the dev session mutation.
type DevSessionCreateInput struct {
	Title          string
	Scopes         []string
	ApplicationURL string
}

// DevSessionApp is the app the dev session was opened for.
type DevSessionApp struct {
	APIKey string
	Title  string
	ID     string
}

// CreateDevSession opens a dev session against the remote app.
func (c *Client) CreateDevSession(ctx context.Context, in DevSessionCreateInput) (*DevSessionApp, error) {
	scopes := in.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	data, err := c.Query(ctx, devSessionCreateMutation, map[string]any{
		"title":          in.Title,
		"scopes":         scopes,
		"applicationUrl": in.ApplicationURL,
	})
	if err != nil {
		return nil, err
	}

	result := data.Get("devSessionCreate")
	if err := userErrors("devSessionCreate", result.Get("userErrors")); err != nil {
		return nil, err
	}
	app := result.Get("app")
	if !app.Exists() {
		return nil, errors.New("devSessionCreate returned no app")
	}
	c.logger.Debug("dev session created", "app", app.Get("id").String())
	return &DevSessionApp{
		APIKey: app.Get("apiKey").String(),
		Title:  app.Get("title").String(),
		ID:     app.Get("id").String(),
	}, nil
}
