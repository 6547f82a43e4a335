package cognito

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
)

// listUsersPageSize is the per-page limit passed to the user pool listing.
const listUsersPageSize = 60

// cognitoAPI is the minimal Cognito IDP interface required by Client.
// *cognitoidentityprovider.Client from aws-sdk-go-v2 satisfies it.
type cognitoAPI interface {
	ListUsers(ctx context.Context, in *cognitoidentityprovider.ListUsersInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUsersOutput, error)
}

// Client lists the usernames registered in a Cognito user pool.
type Client struct {
	api        cognitoAPI
	userPoolID string
}

// New creates a Client for the given user pool.
func New(api cognitoAPI, userPoolID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("cognito: api must not be nil")
	}
	if strings.TrimSpace(userPoolID) == "" {
		return nil, errors.New("cognito: user pool id must not be empty")
	}
	return &Client{api: api, userPoolID: userPoolID}, nil
}

// ListUsernames returns every username in the pool, following pagination
// tokens until the listing is exhausted.
func (c *Client) ListUsernames(ctx context.Context) ([]string, error) {
	var (
		names []string
		token *string
	)
	for {
		out, err := c.api.ListUsers(ctx, &cognitoidentityprovider.ListUsersInput{
			UserPoolId:      aws.String(c.userPoolID),
			Limit:           aws.Int32(listUsersPageSize),
			PaginationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("cognito: list users: %w", err)
		}
		for _, user := range out.Users {
			if name := aws.ToString(user.Username); name != "" {
				names = append(names, name)
			}
		}
		if out.PaginationToken == nil {
			return names, nil
		}
		token = out.PaginationToken
	}
}
