package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokenValidator checks a bearer token presented to a service
type TokenValidator func(ctx context.Context, token string) error

// ServerConfig configures the server side bearer check.
type ServerConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Validate accepts or rejects the presented token. Required.
	Validate TokenValidator

	// PublicMethods is a set of method names that don't require a token.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewServerConfig creates a config with the specified public methods.
func NewServerConfig(validate TokenValidator, publicMethods ...string) *ServerConfig {
	config := &ServerConfig{
		Config:        DefaultConfig(),
		Validate:      validate,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *ServerConfig) check(ctx context.Context, method string) error {
	if c.PublicMethods[method] {
		return nil
	}
	token := TokenFromIncomingContextWithConfig(ctx, c.Config)
	if token == "" {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	if c.Validate == nil {
		return status.Error(codes.Internal, "no token validator configured")
	}
	if err := c.Validate(ctx, token); err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return nil
}

// UnaryServerInterceptor rejects calls without a valid bearer token with codes.Unauthenticated.
func UnaryServerInterceptor(config *ServerConfig) grpc.UnaryServerInterceptor {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := config.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func StreamServerInterceptor(config *ServerConfig) grpc.StreamServerInterceptor {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := config.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
