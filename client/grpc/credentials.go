package grpc

import (
	"context"

	"github.com/panyam/lettings/client"
	"google.golang.org/grpc/credentials"
)

// tokenCredentials implements credentials.PerRPCCredentials over an Authenticator
type tokenCredentials struct {
	auth       *client.Authenticator
	key        string
	requireTLS bool
}

// PerRPCCredentials returns call credentials reading the access token at call
// time. They only attach the token; use UnaryClientInterceptor for recovery.
func PerRPCCredentials(auth *client.Authenticator, requireTLS bool) credentials.PerRPCCredentials {
	return &tokenCredentials{auth: auth, key: DefaultMetadataKeyAuthorization, requireTLS: requireTLS}
}

func (c *tokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, client.ErrNotAuthenticated
	}
	return map[string]string{c.key: "Bearer " + token}, nil
}

func (c *tokenCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}
