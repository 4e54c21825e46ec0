// Package grpc carries lettings session tokens over gRPC metadata. The client
// interceptors run the same 401 recovery as the HTTP client, with
// codes.Unauthenticated standing in for HTTP 401.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyRequestID carries the per-call request id
	DefaultMetadataKeyRequestID = "x-request-id"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyRequestID defaults to "x-request-id".
	MetadataKeyRequestID string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyRequestID:     DefaultMetadataKeyRequestID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyRequestID == "" {
		c.MetadataKeyRequestID = DefaultMetadataKeyRequestID
	}
}

// TokenToOutgoingContext sets the bearer token on the outgoing metadata,
// replacing any token already there.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return TokenToOutgoingContextWithKey(ctx, token, DefaultMetadataKeyAuthorization)
}

// TokenToOutgoingContextWithKey is TokenToOutgoingContext with a custom key.
func TokenToOutgoingContextWithKey(ctx context.Context, token, key string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if token == "" {
		md.Delete(key)
	} else {
		md.Set(key, "Bearer "+token)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// TokenFromIncomingContext returns the bearer token of an incoming call, or "".
func TokenFromIncomingContext(ctx context.Context) string {
	return TokenFromIncomingContextWithConfig(ctx, nil)
}

// TokenFromIncomingContextWithConfig is TokenFromIncomingContext using the specified config.
func TokenFromIncomingContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	v := values[0]
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// IsAuthenticated returns true if the incoming call carries a bearer token.
func IsAuthenticated(ctx context.Context) bool {
	return TokenFromIncomingContext(ctx) != ""
}
