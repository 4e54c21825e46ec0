package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request id, kept across replays
const RequestIDHeader = "X-Request-ID"

// maxErrorBody caps how much of an error response is kept on a StatusError
const maxErrorBody = 64 << 10

// attempt wraps an outbound request with its retry marker so the caller's
// request is never mutated.
type attempt struct {
	original *http.Request
	retried  bool
}

// newAttempt makes the request body replayable. Requests built with
// http.NewRequest over bytes/strings readers already are.
func newAttempt(req *http.Request) (*attempt, error) {
	orig := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		orig.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	} else if req.Body != nil {
		// Every send reads a fresh copy from GetBody
		req.Body.Close()
	}
	if orig.Header.Get(RequestIDHeader) == "" {
		orig.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return &attempt{original: orig}, nil
}

// build returns a fresh copy of the request carrying token
func (a *attempt) build(token string) (*http.Request, error) {
	out := a.original.Clone(a.original.Context())
	if a.original.GetBody != nil {
		body, err := a.original.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return out, nil
}

// refreshTransport is an http.RoundTripper that adds auth and recovers from 401
type refreshTransport struct {
	auth *Authenticator
	base http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	at, err := newAttempt(req)
	if err != nil {
		return nil, err
	}

	token, err := t.auth.AccessToken(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionTerminated) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	var replay Replay
	for {
		out, err := at.build(token)
		replay.Dispatch()
		if err != nil {
			return nil, err
		}

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		cause := newStatusError(resp, out)
		retried := at.retried
		at.retried = true
		replay, err = t.auth.Recover(ctx, retried, cause)
		if err != nil {
			return nil, err
		}
		token = replay.Token
	}
}

// newStatusError reads (a bounded prefix of) the body and closes it
func newStatusError(resp *http.Response, req *http.Request) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	se := &StatusError{
		StatusCode: resp.StatusCode,
		Kind:       Classify(resp.StatusCode),
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		Body:       body,
	}

	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			se.Message = payload.Message
		case payload.ErrorDescription != "":
			se.Message = payload.ErrorDescription
		default:
			se.Message = payload.Error
		}
	}
	return se
}
