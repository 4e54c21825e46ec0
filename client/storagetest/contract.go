// Package storagetest holds the behaviour every client.Storage backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/panyam/lettings/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStorageContract exercises s through the raw key/value calls and through a
// client.SessionStore. s should start empty.
func RunStorageContract(t *testing.T, s client.Storage) {
	ctx := context.Background()

	t.Run("Get Missing", func(t *testing.T) {
		v, found, err := s.Get(ctx, "missing-key")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, v)
	})

	t.Run("SetMany and Get", func(t *testing.T) {
		require.NoError(t, s.SetMany(ctx, map[string]string{"k1": "v1", "k2": "v2"}))
		v, found, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v1", v)

		// Overwrite one key and keep the other
		require.NoError(t, s.SetMany(ctx, map[string]string{"k1": "v1b"}))
		v, _, _ = s.Get(ctx, "k1")
		assert.Equal(t, "v1b", v)
		v, _, _ = s.Get(ctx, "k2")
		assert.Equal(t, "v2", v)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "k1", "k2", "never-set"))
		_, found, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, found)
		_, found, _ = s.Get(ctx, "k2")
		assert.False(t, found)
	})

	t.Run("Session Round Trip", func(t *testing.T) {
		sessions := client.NewSessionStore(s)
		require.NoError(t, sessions.Save(ctx, &client.Session{AccessToken: "old-a", RefreshToken: "old-r"}))
		require.NoError(t, sessions.Save(ctx, &client.Session{AccessToken: "new-a", RefreshToken: "new-r"}))

		sess, err := sessions.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "new-a", sess.AccessToken)
		assert.Equal(t, "new-r", sess.RefreshToken)

		require.NoError(t, sessions.Clear(ctx))
		sess, err = sessions.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("Redirect", func(t *testing.T) {
		sessions := client.NewSessionStore(s)
		require.NoError(t, sessions.SetRedirect(ctx, "/applications/9?step=2"))
		target, err := sessions.TakeRedirect(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/applications/9?step=2", target)
		target, err = sessions.TakeRedirect(ctx)
		require.NoError(t, err)
		assert.Empty(t, target)
	})

	t.Run("Concurrent Writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("c%d", i)
				assert.NoError(t, s.SetMany(ctx, map[string]string{key: key}))
			}(i)
		}
		wg.Wait()
		for i := 0; i < 8; i++ {
			key := fmt.Sprintf("c%d", i)
			v, found, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.True(t, found, key)
			assert.Equal(t, key, v)
		}
		keys := make([]string, 8)
		for i := range keys {
			keys[i] = fmt.Sprintf("c%d", i)
		}
		require.NoError(t, s.Delete(ctx, keys...))
	})
}
