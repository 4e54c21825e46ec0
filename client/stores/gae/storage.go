//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"
)

// KindSessionValue is the Datastore kind session values are stored under
const KindSessionValue = "SessionValue"

// SessionValueEntity is the Datastore entity for one stored value
type SessionValueEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Value     string         `datastore:"value,noindex"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}

// Storage implements client.Storage over Cloud Datastore
type Storage struct {
	client    *datastore.Client
	namespace string
}

// New creates a Storage in the given Datastore namespace ("" is the default namespace)
func New(client *datastore.Client, namespace string) *Storage {
	return &Storage{client: client, namespace: namespace}
}

func (s *Storage) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindSessionValue, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	var entity SessionValueEntity
	err := s.client.Get(ctx, s.namespacedKey(key), &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entity.Value, true, nil
}

// SetMany writes all values in one transaction
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	keys := make([]*datastore.Key, 0, len(values))
	entities := make([]*SessionValueEntity, 0, len(values))
	for k, v := range values {
		key := s.namespacedKey(k)
		keys = append(keys, key)
		entities = append(entities, &SessionValueEntity{Key: key, Value: v, UpdatedAt: now})
	}
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		_, err := tx.PutMulti(keys, entities)
		return err
	})
	return err
}

// Delete removes keys. Datastore treats deleting a missing key as success.
func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	dsKeys := make([]*datastore.Key, len(keys))
	for i, k := range keys {
		dsKeys[i] = s.namespacedKey(k)
	}
	return s.client.DeleteMulti(ctx, dsKeys)
}

// Keys lists the names of every stored value in the namespace
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	query := datastore.NewQuery(KindSessionValue).KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var names []string
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, key.Name)
	}
	return names, nil
}
