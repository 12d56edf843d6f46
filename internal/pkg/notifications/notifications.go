package notifications

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/model"
	"github.com/anicoll/homehub-integration/internal/pkg/stream"
)

const subscriberOwner = "notifications"

type restClient interface {
	UnreadCount(ctx context.Context) (int, error)
	MarkAllNotificationsRead(ctx context.Context) error
	Notifications(ctx context.Context) ([]model.Notification, error)
	DeleteNotification(ctx context.Context, notificationID string) error
}

// Store owns the unread-notification counter for the active session. The
// count is a hint: pushed events increment it without deduplication and the
// periodic refetch reconciles it against server truth.
type Store struct {
	mu     sync.RWMutex
	unread int
	gen    uint64

	rest   restClient
	logger *zap.Logger
}

func New(restClient restClient) *Store {
	return &Store{
		rest:   restClient,
		logger: zap.L(),
	}
}

// Initialize loads the counter from server truth and subscribes to pushes.
// Fails soft: on fetch failure the counter keeps its prior value.
func (s *Store) Initialize(ctx context.Context, ch stream.Subscriber, gen uint64) {
	count, err := s.rest.UnreadCount(ctx)
	if err != nil {
		s.logger.Error("unread count fetch failed, keeping prior value", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.logger.Debug("discarding stale notification initialize", zap.Uint64("initialize_generation", gen))
		return
	}
	if err == nil {
		s.unread = count
	}
	// Subscribing in the same critical section as the generation check keeps
	// a stale initialize from replacing the live session's handler.
	ch.Subscribe(model.EventNewNotification, subscriberOwner, func(json.RawMessage) {
		s.OnPush(gen)
	})
}

// Refresh re-reads the counter from the server, reconciling any drift from
// duplicate or missed pushes.
func (s *Store) Refresh(ctx context.Context, gen uint64) {
	count, err := s.rest.UnreadCount(ctx)
	if err != nil {
		s.logger.Error("unread count refresh failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.gen == gen {
		s.unread = count
	}
	s.mu.Unlock()
}

// UnreadCount returns the current counter value.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// OnPush increments the counter by exactly one, regardless of payload
// content. Duplicate deliveries over-count; the next refresh corrects them.
func (s *Store) OnPush(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.unread++
}

// MarkAllAsRead zeroes the counter immediately and then issues the command.
// The optimistic zero stands even when the command fails: the next refresh
// restores server truth and reverting locally would flicker the badge.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	s.unread = 0
	s.mu.Unlock()
	if err := s.rest.MarkAllNotificationsRead(ctx); err != nil {
		s.logger.Error("mark-all-as-read command failed, optimistic zero stands", zap.Error(err))
		return err
	}
	return nil
}

// List fetches the notification feed. Pass-through; the list itself is not
// cached, only the unread counter is session state.
func (s *Store) List(ctx context.Context) ([]model.Notification, error) {
	return s.rest.Notifications(ctx)
}

// Delete removes one notification entry server-side.
func (s *Store) Delete(ctx context.Context, notificationID string) error {
	return s.rest.DeleteNotification(ctx, notificationID)
}

// Reset zeroes the counter and bumps the session generation. Called by the
// session layer on teardown and before a fresh initialize.
func (s *Store) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = 0
	s.gen++
	return s.gen
}
