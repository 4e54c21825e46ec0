package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_PartialPairIsNotAuthenticated(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewSessionStore(storage)

	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, storage.SetMany(ctx, map[string]string{KeyAccessToken: "only-access"}))
	sess, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	token, err := store.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	assert.ErrorIs(t, store.Save(ctx, &Session{AccessToken: "a"}), ErrIncompleteSession)
	assert.ErrorIs(t, store.Save(ctx, &Session{RefreshToken: "r"}), ErrIncompleteSession)
}

func TestSessionStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(NewMemoryStorage())
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, store.Save(ctx, &Session{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: exp}))
	sess, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "a1", sess.AccessToken)
	assert.Equal(t, "r1", sess.RefreshToken)
	assert.True(t, exp.Equal(sess.ExpiresAt))

	// A session without an expiry drops the earlier hint
	require.NoError(t, store.Save(ctx, &Session{AccessToken: "a2", RefreshToken: "r2"}))
	sess, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", sess.AccessToken)
	assert.Equal(t, "r2", sess.RefreshToken)
	assert.True(t, sess.ExpiresAt.IsZero())

	require.NoError(t, store.Clear(ctx))
	sess, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSessionStore_Redirect(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(NewMemoryStorage())

	target, err := store.TakeRedirect(ctx)
	require.NoError(t, err)
	assert.Empty(t, target)

	require.NoError(t, store.SetRedirect(ctx, "/properties/7"))
	target, err = store.TakeRedirect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/properties/7", target)

	target, err = store.TakeRedirect(ctx)
	require.NoError(t, err)
	assert.Empty(t, target)
}

func TestSession_OAuth2Conversion(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	sess := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}
	tok := sess.ToOAuth2Token()
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Valid())

	back := SessionFromOAuth2Token(tok)
	assert.Equal(t, sess.AccessToken, back.AccessToken)
	assert.Equal(t, sess.RefreshToken, back.RefreshToken)
	assert.True(t, exp.Equal(back.ExpiresAt))
	assert.Nil(t, SessionFromOAuth2Token(nil))
}

func TestExpiringSoon_FallsBackToJWTExpiry(t *testing.T) {
	sign := func(exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "tenant", "exp": exp.Unix()})
		s, err := tok.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}

	auth := NewAuthenticator("http://example.invalid", NewMemoryStorage(), WithRefreshAhead(time.Minute))
	assert.True(t, auth.expiringSoon(&Session{AccessToken: sign(time.Now().Add(10 * time.Second))}))
	assert.False(t, auth.expiringSoon(&Session{AccessToken: sign(time.Now().Add(time.Hour))}))
	assert.False(t, auth.expiringSoon(&Session{AccessToken: "opaque-token"}))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindValidation, Classify(http.StatusBadRequest))
	assert.Equal(t, KindSessionExpired, Classify(http.StatusUnauthorized))
	assert.Equal(t, KindForbidden, Classify(http.StatusForbidden))
	assert.Equal(t, KindNotFound, Classify(http.StatusNotFound))
	assert.Equal(t, KindServer, Classify(http.StatusInternalServerError))
	assert.Equal(t, KindOther, Classify(http.StatusServiceUnavailable))
	assert.NotEqual(t, KindServer.Message(), KindUnreachable.Message())
}

func TestSessionErrorsMatchTerminated(t *testing.T) {
	cause := errors.New("invalid_grant")
	assert.ErrorIs(t, &RefreshError{Err: cause}, ErrSessionTerminated)
	assert.ErrorIs(t, &RefreshError{Err: cause}, cause)
	assert.ErrorIs(t, &RejectedError{Err: cause}, ErrSessionTerminated)
	assert.NotErrorIs(t, &UnreachableError{Err: cause}, ErrSessionTerminated)
}

func TestQueueNotifier_DropsWhenFull(t *testing.T) {
	q := NewQueueNotifier(2)
	for i := 0; i < 5; i++ {
		q.Notify(Notification{Kind: KindServer})
	}
	assert.Len(t, q.Drain(), 2)
	assert.Equal(t, 3, q.Dropped())
	assert.Empty(t, q.Drain())
}
