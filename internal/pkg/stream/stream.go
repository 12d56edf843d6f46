package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/homehub-integration/internal/pkg/config"
	"github.com/anicoll/homehub-integration/internal/pkg/model"
	ws "github.com/anicoll/homehub-integration/pkg/sockets"
)

var ErrAuthMissing = errors.New("missing credential, stream connection aborted")

// Handler consumes the raw payload of one pushed event.
type Handler func(data json.RawMessage)

// Disposer removes a previously registered handler.
type Disposer func()

// Subscriber is the subscription surface of the channel that stores depend on.
type Subscriber interface {
	Subscribe(event model.EventName, owner string, handler Handler) Disposer
}

type subscription struct {
	owner   string
	handler Handler
}

// Channel owns the single logical connection to the hub event stream. Connect
// is idempotent: at most one live connection exists per Channel, and repeated
// calls return the same underlying handle.
type Channel struct {
	mu      sync.Mutex
	cfg     *config.HubConfig
	conn    ws.Connection
	subs    map[model.EventName][]subscription
	errChan chan error
	logger  *zap.Logger

	// newConn is swapped out in tests.
	newConn func(opts ...func(*ws.Conn)) ws.Connection
}

func New(cfg *config.HubConfig, errChan chan error) *Channel {
	return &Channel{
		cfg:     cfg,
		subs:    make(map[model.EventName][]subscription),
		errChan: errChan,
		logger:  zap.L(), // returns the global logger.
		newConn: ws.New,
	}
}

func (c *Channel) sendIfErr(err error) {
	if err != nil {
		c.errChan <- err
	}
}

// Connect dials the event stream authenticating with the given bearer token.
// Fails closed when the token is empty. When a live connection already
// exists it is returned as-is.
func (c *Channel) Connect(ctx context.Context, token string) (ws.Connection, error) {
	if token == "" {
		return nil, ErrAuthMissing
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.IsConnected() {
		return c.conn, nil
	}

	u := url.URL{Scheme: "ws", Host: c.cfg.Host(), Path: "/ws/events"}
	if c.cfg.Ssl {
		u.Scheme = "wss"
	}

	conn := c.newConn(
		ws.OnConnected(func(conn ws.Connection) {
			c.onConnected(conn, token)
		}),
		ws.OnMessage(c.onMessage),
		ws.OnError(c.onError),
		ws.WithPingIntervalSec(25),
		ws.WithPingMsg([]byte("ping")),
	)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	if err := conn.Dial(ctx, u.String(), header); err != nil {
		c.logger.Error("failed to connect to event stream", zap.String("url", u.String()), zap.Error(err))
		return nil, err
	}
	c.logger.Debug("connected to event stream", zap.String("url", u.String()))
	c.conn = conn
	return conn, nil
}

// IsConnected reports whether a live connection exists.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Disconnect tears down the live connection and clears it. No-op when not
// connected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.logger.Debug("event stream connection closed")
}

// Subscribe registers a handler for an event under an owner key. A second
// subscription by the same owner replaces its prior handler, so rebinding on
// re-initialization never produces duplicate delivery. Handlers for an event
// run in subscription order.
func (c *Channel) Subscribe(event model.EventName, owner string, handler Handler) Disposer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(event, owner)
	c.subs[event] = append(c.subs[event], subscription{owner: owner, handler: handler})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.removeLocked(event, owner)
	}
}

// removeLocked must be called with c.mu held.
func (c *Channel) removeLocked(event model.EventName, owner string) {
	subs := c.subs[event]
	for i, sub := range subs {
		if sub.owner == owner {
			c.subs[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

type authFrame struct {
	Event string `json:"event"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (c *Channel) onConnected(conn ws.Connection, token string) {
	frame := authFrame{Event: "auth"}
	frame.Data.Token = token
	data, err := json.Marshal(frame)
	c.sendIfErr(err)
	c.sendIfErr(conn.Send(ws.Msg{Body: data}))
	c.logger.Debug("sent auth frame")
}

func (c *Channel) onMessage(data []byte, _ ws.Connection) {
	event := model.Event{}
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("dropping undecodable stream frame", zap.ByteString("frame", data), zap.Error(err))
		return
	}
	if event.Name == "" {
		return
	}

	c.mu.Lock()
	subs := make([]subscription, len(c.subs[event.Name]))
	copy(subs, c.subs[event.Name])
	c.mu.Unlock()

	c.logger.Debug("received event", zap.String("event", event.Name.String()), zap.Int("subscribers", len(subs)))
	for _, sub := range subs {
		sub.handler(event.Data)
	}
}

// onError degrades the channel to "not connected" rather than crashing
// callers. The session layer decides whether to reattach.
func (c *Channel) onError(err error) {
	c.logger.Error("event stream error", zap.Error(err))
	c.sendIfErr(err)
}
