package grpc

import (
	"context"

	"github.com/google/uuid"
	"github.com/panyam/lettings/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Classify maps a gRPC status code to the matching user-facing kind
func Classify(code codes.Code) client.Kind {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return client.KindValidation
	case codes.Unauthenticated:
		return client.KindSessionExpired
	case codes.PermissionDenied:
		return client.KindForbidden
	case codes.NotFound:
		return client.KindNotFound
	case codes.Internal, codes.DataLoss:
		return client.KindServer
	case codes.Unavailable:
		return client.KindUnreachable
	default:
		return client.KindOther
	}
}

// withCallMetadata returns ctx carrying token and a request id. A request id
// set by the caller is kept.
func withCallMetadata(ctx context.Context, config *Config, token string) context.Context {
	ctx = TokenToOutgoingContextWithKey(ctx, token, config.MetadataKeyAuthorization)
	md, _ := metadata.FromOutgoingContext(ctx)
	if len(md.Get(config.MetadataKeyRequestID)) == 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, config.MetadataKeyRequestID, uuid.NewString())
	}
	return ctx
}

func ensureConfig(c *Config) *Config {
	if c == nil {
		c = DefaultConfig()
	}
	c.EnsureDefaults()
	return c
}

// notify reports a failed call once. Session errors were reported when the
// session ended and cancellations are not reported at all.
func notify(auth *client.Authenticator, method string, err error) {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.Canceled || st.Code() == codes.DeadlineExceeded {
		return
	}
	kind := Classify(st.Code())
	auth.Notify(client.Notification{
		Kind:    kind,
		Message: kind.Message(),
		Method:  "grpc",
		URL:     method,
	})
}

// UnaryClientInterceptor attaches the session's access token to every call.
// A call failing with codes.Unauthenticated goes through the refresh
// coordinator once and is retried with the refreshed token; a second
// Unauthenticated ends the session. Session errors are returned as is, so
// errors.Is(err, client.ErrSessionTerminated) holds for them.
func UnaryClientInterceptor(auth *client.Authenticator, cfg *Config) grpc.UnaryClientInterceptor {
	cfg = ensureConfig(cfg)

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		token, err := auth.AccessToken(ctx)
		if err != nil {
			return err
		}

		var replay client.Replay
		retried := false
		for {
			callCtx := withCallMetadata(ctx, cfg, token)
			replay.Dispatch()
			err := invoker(callCtx, method, req, reply, cc, opts...)
			if status.Code(err) != codes.Unauthenticated {
				if err != nil {
					notify(auth, method, err)
				}
				return err
			}

			replay, err = auth.Recover(ctx, retried, err)
			retried = true
			if err != nil {
				return err
			}
			token = replay.Token
		}
	}
}

// StreamClientInterceptor attaches the access token when a stream is opened.
// Opening is retried once after a refresh; messages of an established stream
// are never replayed.
func StreamClientInterceptor(auth *client.Authenticator, cfg *Config) grpc.StreamClientInterceptor {
	cfg = ensureConfig(cfg)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		token, err := auth.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		stream, err := streamer(withCallMetadata(ctx, cfg, token), desc, cc, method, opts...)
		if status.Code(err) != codes.Unauthenticated {
			if err != nil {
				notify(auth, method, err)
			}
			return stream, err
		}

		replay, rerr := auth.Recover(ctx, false, err)
		replay.Dispatch()
		if rerr != nil {
			return nil, rerr
		}
		stream, err = streamer(withCallMetadata(ctx, cfg, replay.Token), desc, cc, method, opts...)
		if status.Code(err) == codes.Unauthenticated {
			_, rerr := auth.Recover(ctx, true, err)
			return nil, rerr
		}
		if err != nil {
			notify(auth, method, err)
		}
		return stream, err
	}
}
