package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Settings holds the runtime values kept in Parameter Store so operators can
// rotate them without a redeploy.
type Settings struct {
	// AllowedOrigin is the value served in Access-Control-Allow-Origin.
	AllowedOrigin string
	// UserPoolID identifies the Cognito pool backing the user directory.
	UserPoolID string
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter reads one parameter with decryption enabled.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// LoadSettings reads the chat runtime settings stored under prefix.
// Read once at cold start.
func (c *Client) LoadSettings(ctx context.Context, prefix string) (Settings, error) {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return Settings{}, errors.New("paramstore: prefix is required")
	}

	origin, err := c.GetParameter(ctx, prefix+"/origin")
	if err != nil {
		return Settings{}, fmt.Errorf("paramstore: load origin: %w", err)
	}
	poolID, err := c.GetParameter(ctx, prefix+"/user_pool_id")
	if err != nil {
		return Settings{}, fmt.Errorf("paramstore: load user pool id: %w", err)
	}
	if strings.TrimSpace(poolID) == "" {
		return Settings{}, errors.New("paramstore: user pool id parameter is empty")
	}
	if strings.TrimSpace(origin) == "" {
		// An empty origin parameter means allow any caller.
		origin = "*"
	}
	return Settings{AllowedOrigin: origin, UserPoolID: poolID}, nil
}
