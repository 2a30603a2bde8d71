// Package remote talks to the app platform's GraphQL API: dev sessions,
// extension drafts and extension registrations.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrCircuitOpen is returned while the transport's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("remote rejected the credentials")
)

// GraphQLError is a top-level error of a GraphQL response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// UserError is a field-level validation error returned by a mutation.
type UserError struct {
	Field   []string
	Message string
}

// UserErrors is returned when a mutation answers with userErrors. It is a
// configuration problem, not a transient one.
type UserErrors struct {
	Operation string
	Errors    []UserError
}

func (e *UserErrors) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ue := range e.Errors {
		if len(ue.Field) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(ue.Field, "."), ue.Message))
		} else {
			parts = append(parts, ue.Message)
		}
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, strings.Join(parts, "; "))
}

// HTTPDoer executes HTTP requests. *http.Client and *ResilientTransport
// both satisfy it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is a GraphQL client for the platform API.
type Client struct {
	endpoint string
	token    string
	http     HTTPDoer
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPDoer replaces the default resilient transport.
func WithHTTPDoer(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for endpoint authenticated with token.
func NewClient(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		http:     NewResilientTransport(nil),
		logger:   slog.Default().With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Query runs a GraphQL document and returns its data object.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any) (gjson.Result, error) {
	return c.query(ctx, c.token, query, vars)
}

func (c *Client) query(ctx context.Context, token, query string, vars map[string]any) (gjson.Result, error) {
	// A mutation may have been applied even when its response was lost.
	if !isMutation(query) {
		ctx = WithReplayable(ctx)
	}
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("graphql request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read graphql response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gjson.Result{}, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 300:
		return gjson.Result{}, fmt.Errorf("graphql request: unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("graphql response is not valid JSON: %s", truncate(body, 256))
	}

	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		gerr := &GraphQLError{}
		for _, e := range errs.Array() {
			gerr.Messages = append(gerr.Messages, e.Get("message").String())
		}
		return gjson.Result{}, gerr
	}
	return parsed.Get("data"), nil
}

func isMutation(query string) bool {
	return strings.HasPrefix(strings.TrimSpace(query), "mutation")
}

func userErrors(operation string, result gjson.Result) error {
	list := result.Array()
	if len(list) == 0 {
		return nil
	}
	ue := &UserErrors{Operation: operation}
	for _, item := range list {
		var fields []string
		for _, f := range item.Get("field").Array() {
			fields = append(fields, f.String())
		}
		ue.Errors = append(ue.Errors, UserError{Field: fields, Message: item.Get("message").String()})
	}
	return ue
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
