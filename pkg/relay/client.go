package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/prefsync/internal/errors"
	"github.com/vango-dev/prefsync/pkg/storage"
)

// Client is a relay connection. It implements storage.Notifier.
type Client struct {
	conn   *websocket.Conn
	origin string
	logger *slog.Logger

	wmu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]func(storage.Event)
	nextID uint64
	closed bool

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to the hub at rawURL (e.g. "ws://host:7070/ws"). origin
// identifies this client to peers; a random one is used if empty.
// Connection failures are returned as E050.
func Dial(ctx context.Context, rawURL, origin string, opts ...ClientOption) (*Client, error) {
	if origin == "" {
		origin = uuid.NewString()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("E050").Wrap(err)
	}
	q := u.Query()
	q.Set("origin", origin)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.New("E050").WithDetail("Could not reach " + rawURL + ".").Wrap(err)
	}

	c := &Client{
		conn:   conn,
		origin: origin,
		logger: slog.Default(),
		subs:   make(map[uint64]func(storage.Event)),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c, nil
}

// Origin returns the identifier this client announced to the hub.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("relay: connection lost", slog.Any("error", err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeChange || msg.Event == nil {
			c.logger.Warn("relay: ignoring malformed message")
			continue
		}

		c.mu.Lock()
		fns := make([]func(storage.Event), 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(*msg.Event)
		}
	}
}

// Subscribe implements storage.Notifier.
func (c *Client) Subscribe(fn func(storage.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Publish sends ev to the hub for delivery to the other clients.
func (c *Client) Publish(ctx context.Context, ev storage.Event) error {
	if !c.Available() {
		return storage.ErrClosed
	}
	ev.Origin = c.origin
	data, err := json.Marshal(Message{Type: TypeChange, Event: &ev})
	if err != nil {
		return fmt.Errorf("relay: encode: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("relay: set deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

// Available reports whether the connection is open.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}
