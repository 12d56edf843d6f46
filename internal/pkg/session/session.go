package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/stream"
	ws "github.com/anicoll/homehub-integration/pkg/sockets"
)

type State string

const (
	NoSession     State = "no_session"
	ActiveSession State = "active_session"
)

type deviceStore interface {
	Initialize(ctx context.Context, ch stream.Subscriber, gen uint64)
	Reset() uint64
}

type notificationStore interface {
	Initialize(ctx context.Context, ch stream.Subscriber, gen uint64)
	Refresh(ctx context.Context, gen uint64)
	Reset() uint64
}

type eventChannel interface {
	stream.Subscriber
	Connect(ctx context.Context, token string) (ws.Connection, error)
	Disconnect()
}

type tokenStore interface {
	Token() (string, error)
	Clear() error
}

// Manager keys store lifecycle to authentication state. All store state is
// scoped to one session: populated on Start, discarded on Stop.
type Manager struct {
	mu    sync.Mutex
	state State

	devices       deviceStore
	notifications notificationStore
	channel       eventChannel
	tokens        tokenStore
	errChan       chan error
	logger        *zap.Logger

	devGen   uint64
	notifGen uint64
}

func NewManager(devices deviceStore, notifications notificationStore, channel eventChannel, tokens tokenStore, errChan chan error) *Manager {
	return &Manager{
		state:         NoSession,
		devices:       devices,
		notifications: notifications,
		channel:       channel,
		tokens:        tokens,
		errChan:       errChan,
		logger:        zap.L(),
	}
}

func (m *Manager) sendIfErr(err error) {
	if err != nil && m.errChan != nil {
		m.errChan <- err
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start transitions to ActiveSession when a valid credential is present. Both
// stores initialize concurrently and a failure in one never blocks the other;
// each already fails soft internally. Calling Start while active re-runs
// initialization (app-resume), which is safe because handler registration is
// owner-keyed.
func (m *Manager) Start(ctx context.Context) error {
	tok, err := m.tokens.Token()
	if err != nil {
		return err
	}
	if tok == "" {
		return stream.ErrAuthMissing
	}

	m.mu.Lock()
	m.state = ActiveSession
	m.devGen = m.devices.Reset()
	m.notifGen = m.notifications.Reset()
	devGen, notifGen := m.devGen, m.notifGen
	m.mu.Unlock()

	if _, err := m.channel.Connect(ctx, tok); err != nil {
		// Degraded session: REST state still loads, push updates resume on
		// the next reconnect attempt.
		m.logger.Error("event stream attach failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.devices.Initialize(ctx, m.channel, devGen)
	}()
	go func() {
		defer wg.Done()
		m.notifications.Initialize(ctx, m.channel, notifGen)
	}()
	wg.Wait()
	m.logger.Info("session started")
	return nil
}

// Stop transitions to NoSession: the stream is torn down and both stores are
// cleared. Generation bumps inside Reset discard any straggling in-flight
// results from the old session.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == NoSession {
		m.mu.Unlock()
		return
	}
	m.state = NoSession
	m.mu.Unlock()

	m.channel.Disconnect()
	m.devices.Reset()
	m.notifications.Reset()
	m.logger.Info("session stopped")
}

// Logout invalidates the credential and stops the session.
func (m *Manager) Logout() error {
	m.Stop()
	return m.tokens.Clear()
}

// Refresh reconciles store state against server truth mid-session. Wired to
// the periodic cron in cmd; a no-op while logged out.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.Lock()
	if m.state != ActiveSession {
		m.mu.Unlock()
		return
	}
	devGen, notifGen := m.devGen, m.notifGen
	m.mu.Unlock()

	if _, err := m.tokens.Token(); err != nil {
		// Credential invalidation is an async event mid-session; the error
		// drain in cmd owns the transition out of ActiveSession.
		m.logger.Warn("credential check failed, reporting", zap.Error(err))
		m.sendIfErr(err)
		return
	}

	m.devices.Initialize(ctx, m.channel, devGen)
	m.notifications.Refresh(ctx, notifGen)
}
