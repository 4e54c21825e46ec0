// Package scs exposes any scs.Store (memstore, redisstore, postgresstore, ...)
// as a client.Storage. All session values live in one JSON document committed
// under a single scs token.
package scs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
)

// DefaultLifetime is how long the committed document lives when no lifetime is given
const DefaultLifetime = 30 * 24 * time.Hour

// Storage implements client.Storage over an scs.Store
type Storage struct {
	mu       sync.Mutex
	store    scs.Store
	token    string
	lifetime time.Duration
}

// New creates a Storage keeping its values under token in store
func New(store scs.Store, token string, lifetime time.Duration) *Storage {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Storage{store: store, token: token, lifetime: lifetime}
}

func (s *Storage) find(ctx context.Context) (map[string]string, error) {
	var (
		b     []byte
		found bool
		err   error
	)
	if cs, ok := s.store.(scs.CtxStore); ok {
		b, found, err = cs.FindCtx(ctx, s.token)
	} else {
		b, found, err = s.store.Find(s.token)
	}
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if !found {
		return values, nil
	}
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	return values, nil
}

func (s *Storage) commit(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		if cs, ok := s.store.(scs.CtxStore); ok {
			return cs.DeleteCtx(ctx, s.token)
		}
		return s.store.Delete(s.token)
	}
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	expiry := time.Now().Add(s.lifetime)
	if cs, ok := s.store.(scs.CtxStore); ok {
		return cs.CommitCtx(ctx, s.token, b, expiry)
	}
	return s.store.Commit(s.token, b, expiry)
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.find(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// SetMany commits all values in one document write
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.find(ctx)
	if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}
	return s.commit(ctx, current)
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.find(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(current, k)
	}
	return s.commit(ctx, current)
}
