package client

import (
	"context"
	"log/slog"
	"sync"
)

// Notification is a user-facing message about a failed request
type Notification struct {
	Kind       Kind
	Message    string
	StatusCode int
	Method     string
	URL        string
}

// Notifier is the toast surface. Notify is fire-and-forget and must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to a Notifier
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NopNotifier drops every notification
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// LogNotifier writes notifications to a slog.Logger
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn(n.Message, "kind", n.Kind, "status", n.StatusCode, "method", n.Method, "url", n.URL)
}

// QueueNotifier buffers notifications on a channel for a consumer to drain.
// When the buffer is full new notifications are dropped.
type QueueNotifier struct {
	ch chan Notification

	mu      sync.Mutex
	dropped int
}

// NewQueueNotifier creates a QueueNotifier with the given buffer size
func NewQueueNotifier(size int) *QueueNotifier {
	if size <= 0 {
		size = 16
	}
	return &QueueNotifier{ch: make(chan Notification, size)}
}

func (q *QueueNotifier) Notify(n Notification) {
	select {
	case q.ch <- n:
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
	}
}

// C returns the channel notifications are delivered on
func (q *QueueNotifier) C() <-chan Notification { return q.ch }

// Dropped returns how many notifications were discarded because the buffer was full
func (q *QueueNotifier) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain returns every buffered notification without blocking
func (q *QueueNotifier) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-q.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Navigator is the redirect primitive invoked when the session cannot be recovered
type Navigator interface {
	// CurrentLocation returns the location to come back to after login, or ""
	CurrentLocation(ctx context.Context) string

	// Redirect sends the user to target
	Redirect(ctx context.Context, target string)
}

// NopNavigator neither tracks a location nor redirects
type NopNavigator struct{}

func (NopNavigator) CurrentLocation(context.Context) string { return "" }
func (NopNavigator) Redirect(context.Context, string)       {}

// RecordingNavigator keeps a fixed current location and records redirects.
// Command line tools use it to learn that a login is required.
type RecordingNavigator struct {
	mu         sync.Mutex
	location   string
	redirects  []string
	onRedirect func(target string)
}

// NewRecordingNavigator creates a navigator reporting location as the current page.
// onRedirect, if not nil, is called for every redirect.
func NewRecordingNavigator(location string, onRedirect func(target string)) *RecordingNavigator {
	return &RecordingNavigator{location: location, onRedirect: onRedirect}
}

// SetLocation changes the reported current location
func (n *RecordingNavigator) SetLocation(location string) {
	n.mu.Lock()
	n.location = location
	n.mu.Unlock()
}

func (n *RecordingNavigator) CurrentLocation(context.Context) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *RecordingNavigator) Redirect(_ context.Context, target string) {
	n.mu.Lock()
	n.redirects = append(n.redirects, target)
	cb := n.onRedirect
	n.mu.Unlock()
	if cb != nil {
		cb(target)
	}
}

// Redirects returns the targets redirected to so far
func (n *RecordingNavigator) Redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.redirects...)
}
