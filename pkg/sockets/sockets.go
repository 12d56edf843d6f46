package sockets

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Connection interface {
	Dial(ctx context.Context, url string, header http.Header) error
	Send(msg Msg) error
	IsConnected() bool
	io.Closer
}

type Conn struct {
	mu               sync.Mutex
	ws               *websocket.Conn
	sslSkipVerify    bool
	closed           bool
	pingIntervalSecs int
	onError          func(err error)
	onMessage        func([]byte, Connection)
	onConnected      func(Connection)
	pingMsg          []byte
}

func New(opts ...func(*Conn)) Connection {
	c := &Conn{closed: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Msg is the message structure.
type Msg struct {
	Body []byte
}

// Closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close()
	return nil
}

// close must be called with c.mu held.
func (c *Conn) close() {
	if c.ws != nil {
		_ = c.ws.Close()
	}
	c.closed = true
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Conn) Send(msg Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed connection")
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg.Body); err != nil {
		c.close()
		if c.onError != nil {
			c.onError(err)
		}
		return err
	}
	return nil
}

func (c *Conn) Dial(ctx context.Context, url string, header http.Header) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.sslSkipVerify,
		},
	}
	conn, res, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if res != nil && res.Body != nil {
			_ = res.Body.Close()
		}
		return err
	}

	c.mu.Lock()
	c.ws = conn
	c.closed = false
	c.mu.Unlock()

	if c.onConnected != nil {
		go c.onConnected(c)
	}
	go func() {
		for {
			_, msg, readErr := conn.ReadMessage()
			if readErr != nil {
				c.mu.Lock()
				c.close()
				c.mu.Unlock()
				if c.onError != nil {
					c.onError(readErr)
				}
				return
			}
			c.onMsg(msg)
		}
	}()
	c.setupPing()
	return nil
}

func (c *Conn) onMsg(msg []byte) {
	// Fire OnMessage every time.
	if c.onMessage != nil {
		c.onMessage(msg, c)
	}
}

func (c *Conn) setupPing() {
	if c.pingIntervalSecs > 0 && len(c.pingMsg) > 0 {
		ticker := time.NewTicker(time.Second * time.Duration(c.pingIntervalSecs))
		go func() {
			defer ticker.Stop()
			for {
				<-ticker.C // wait for tick
				if c.Send(Msg{Body: c.pingMsg}) != nil {
					return
				}
			}
		}()
	}
}
