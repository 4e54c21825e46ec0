package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_States(t *testing.T) {
	var c coordinator
	assert.Equal(t, StateIdle, c.state())

	leader, p := c.join()
	require.True(t, leader)
	require.Nil(t, p)
	assert.Equal(t, StateRefreshing, c.state())

	leader, p = c.join()
	require.False(t, leader)
	require.NotNil(t, p)
	assert.Equal(t, StateQueueing, c.state())

	waiters := c.finish()
	assert.Len(t, waiters, 1)
	assert.Equal(t, StateIdle, c.state())
	assert.Empty(t, c.queue)
}

func TestCoordinator_SettlesWaitersInEnqueueOrder(t *testing.T) {
	var c coordinator
	leader, _ := c.join()
	require.True(t, leader)

	const n = 6
	handles := make([]*pending, n)
	for i := range handles {
		_, handles[i] = c.join()
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	// Start the waiters in reverse to show delivery follows enqueue order
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := c.wait(context.Background(), handles[i])
			assert.NoError(t, err)
			if assert.NoError(t, out.err) {
				assert.Equal(t, "new-access", out.session.AccessToken)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			handles[i].dispatched()
		}(i)
	}

	sess, err := c.lead(context.Background(), func(context.Context) (*Session, error) {
		return &Session{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new-access", sess.AccessToken)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.Equal(t, StateIdle, c.state())
}

func TestCoordinator_FailureRejectsAllWaiters(t *testing.T) {
	var c coordinator
	c.join()
	_, p1 := c.join()
	_, p2 := c.join()

	boom := errors.New("refresh rejected")
	_, err := c.lead(context.Background(), func(context.Context) (*Session, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	for _, p := range []*pending{p1, p2} {
		out, err := c.wait(context.Background(), p)
		require.NoError(t, err)
		assert.ErrorIs(t, out.err, boom)
	}
	assert.Equal(t, StateIdle, c.state())
}

func TestCoordinator_PanicStillClearsFlag(t *testing.T) {
	var c coordinator
	c.join()
	_, p := c.join()

	func() {
		defer func() { recover() }()
		c.lead(context.Background(), func(context.Context) (*Session, error) {
			panic("refresher blew up")
		})
	}()

	assert.Equal(t, StateIdle, c.state())
	out, err := c.wait(context.Background(), p)
	require.NoError(t, err)
	assert.ErrorIs(t, out.err, ErrRefreshAborted)

	// The next incident starts a fresh refresh
	leader, _ := c.join()
	assert.True(t, leader)
}

func TestCoordinator_CanceledWaiterLeavesQueue(t *testing.T) {
	var c coordinator
	c.join()
	_, p := c.join()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.wait(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRefreshing, c.state())
	assert.Empty(t, c.finish())
}

func TestCoordinator_HandoffDoesNotWaitForever(t *testing.T) {
	var c coordinator
	c.join()
	_, p := c.join()

	// Nobody receives p; the leader still returns after the handoff bound
	start := time.Now()
	_, err := c.lead(context.Background(), func(context.Context) (*Session, error) {
		return &Session{AccessToken: "a", RefreshToken: "r"}, nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), dispatchHandoff)
	assert.Len(t, p.done, 1)
}

func TestRefresh_QueuedCallerGetsSameToken(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	auth := NewAuthenticator("http://example.invalid", NewMemoryStorage(), WithTokenRefresher(
		TokenRefresherFunc(func(ctx context.Context, rt string) (*Session, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			<-release
			return &Session{AccessToken: "fresh", RefreshToken: "fresh-rt"}, nil
		}),
	))
	require.NoError(t, auth.Sessions().Save(context.Background(), &Session{AccessToken: "old", RefreshToken: "rt"}))

	results := make(chan string, 2)
	go func() {
		r, err := auth.Refresh(context.Background())
		assert.NoError(t, err)
		r.Dispatch()
		results <- r.Token
	}()
	require.Eventually(t, func() bool { return auth.State() == StateRefreshing }, time.Second, time.Millisecond)

	go func() {
		r, err := auth.Recover(context.Background(), false, nil)
		assert.NoError(t, err)
		r.Dispatch()
		results <- r.Token
	}()
	require.Eventually(t, func() bool { return auth.State() == StateQueueing }, time.Second, time.Millisecond)
	close(release)

	assert.Equal(t, "fresh", <-results)
	assert.Equal(t, "fresh", <-results)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestAccessToken_RefreshAhead(t *testing.T) {
	storage := NewMemoryStorage()
	var calls int
	auth := NewAuthenticator("http://example.invalid", storage,
		WithRefreshAhead(time.Minute),
		WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, rt string) (*Session, error) {
			calls++
			return &Session{AccessToken: "ahead", RefreshToken: rt, ExpiresAt: time.Now().Add(time.Hour)}, nil
		})),
	)
	ctx := context.Background()
	require.NoError(t, auth.Sessions().Save(ctx, &Session{
		AccessToken:  "soon",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(10 * time.Second),
	}))

	token, err := auth.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ahead", token)

	token, err = auth.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ahead", token)
	assert.Equal(t, 1, calls)
}

func TestRefresh_DispatchReleasesLeaderPromptly(t *testing.T) {
	release := make(chan struct{})
	auth := NewAuthenticator("http://example.invalid", NewMemoryStorage(), WithTokenRefresher(
		TokenRefresherFunc(func(ctx context.Context, rt string) (*Session, error) {
			<-release
			return &Session{AccessToken: "fresh", RefreshToken: "fresh-rt"}, nil
		}),
	))
	require.NoError(t, auth.Sessions().Save(context.Background(), &Session{AccessToken: "old", RefreshToken: "rt"}))

	leaderDone := make(chan struct{}, 1)
	go func() {
		r, err := auth.Refresh(context.Background())
		assert.NoError(t, err)
		r.Dispatch()
		leaderDone <- struct{}{}
	}()
	require.Eventually(t, func() bool { return auth.State() == StateRefreshing }, time.Second, time.Millisecond)

	go func() {
		r, err := auth.Refresh(context.Background())
		assert.NoError(t, err)
		r.Dispatch()
	}()
	require.Eventually(t, func() bool { return auth.State() == StateQueueing }, time.Second, time.Millisecond)

	start := time.Now()
	close(release)
	<-leaderDone
	assert.Less(t, time.Since(start), dispatchHandoff/2)
}

// deadlineStorage refuses writes on a finished context, like a network backend
type deadlineStorage struct {
	*MemoryStorage
	mu      sync.Mutex
	refused int
}

func (s *deadlineStorage) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		s.mu.Lock()
		s.refused++
		s.mu.Unlock()
		return err
	}
	return s.MemoryStorage.Delete(ctx, keys...)
}

func TestRefresh_TimeoutStillClearsSession(t *testing.T) {
	storage := &deadlineStorage{MemoryStorage: NewMemoryStorage()}
	auth := NewAuthenticator("http://example.invalid", storage,
		WithRefreshTimeout(20*time.Millisecond),
		WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, rt string) (*Session, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})),
	)
	ctx := context.Background()
	require.NoError(t, auth.Sessions().Save(ctx, &Session{AccessToken: "old", RefreshToken: "rt"}))

	_, err := auth.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	storage.mu.Lock()
	assert.Zero(t, storage.refused)
	storage.mu.Unlock()
	sess, err := auth.Sessions().Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}
