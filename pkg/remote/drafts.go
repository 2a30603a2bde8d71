package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// ErrMissingRegistrationID is returned when a draft is pushed without a
// registration to attach it to.
var ErrMissingRegistrationID = errors.New("draft update requires a registration id")

const extensionDraftUpdateMutation = `mutation ExtensionDraftUpdate($apiKey: String!, $registrationId: ID!, $config: JSON!, $context: String, $handle: String) {
  extensionDraftUpdate(input: {apiKey: $apiKey, registrationId: $registrationId, config: $config, context: $context, handle: $handle}) {
    extensionVersion {
      registrationId
      context
      config
    }
    userErrors {
      field
      message
    }
  }
}`

// DraftInput is one draft push.
type DraftInput struct {
	Extension      *extension.Instance
	Token          string
	APIKey         string
	RegistrationID string
	// Config is sent as is when set; otherwise it is built from Extension.
	Config map[string]any
}

// UpdateExtensionDraft pushes the extension's current build as its draft.
func (c *Client) UpdateExtensionDraft(ctx context.Context, in DraftInput) error {
	if in.RegistrationID == "" {
		return ErrMissingRegistrationID
	}
	if in.Extension == nil {
		return errors.New("draft update requires an extension")
	}

	cfg := in.Config
	if cfg == nil {
		built, err := in.Extension.DraftConfig()
		if err != nil {
			return err
		}
		cfg = built
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode draft config for %s: %w", in.Extension.LocalIdentifier, err)
	}

	token := in.Token
	if token == "" {
		token = c.token
	}
	data, err := c.query(ctx, token, extensionDraftUpdateMutation, map[string]any{
		"apiKey":         in.APIKey,
		"registrationId": in.RegistrationID,
		"config":         string(encoded),
		"context":        "",
		"handle":         in.Extension.Handle,
	})
	if err != nil {
		return fmt.Errorf("update draft for %s: %w", in.Extension.LocalIdentifier, err)
	}
	if err := userErrors("extensionDraftUpdate", data.Get("extensionDraftUpdate.userErrors")); err != nil {
		return err
	}
	c.logger.Debug("draft updated", "extension", in.Extension.LocalIdentifier, "registration", in.RegistrationID)
	return nil
}
