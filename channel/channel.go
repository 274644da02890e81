package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	EventNotification = "notification"
	EventOrderUpdate  = "orderUpdate"
	EventJoin         = "join"
)

type Event struct {
	Name string
	Data json.RawMessage
}

type Handler func(Event)

// Stream is one live connection. Events is closed when the connection ends.
type Stream interface {
	Events() <-chan Event
	Emit(ctx context.Context, name string, payload any) error
	Close() error
}

type Transport interface {
	Open(ctx context.Context, userID string) (Stream, error)
}

type Options struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Channel is the push connection for one user identity. Listeners belong to
// the Channel, so they stay registered exactly once across reconnects.
type Channel struct {
	transport Transport
	opts      Options
	log       *slog.Logger

	connMu sync.Mutex // serialises Connect/Disconnect

	mu        sync.RWMutex
	userID    string
	stream    Stream
	gen       uint64
	connected bool
	listeners map[string]map[uint64]Handler
	nextID    uint64
}

func New(t Transport, opts Options, log *slog.Logger) *Channel {
	return &Channel{
		transport: t,
		opts:      opts,
		log:       log,
		listeners: make(map[string]map[uint64]Handler),
	}
}

// Connect binds the channel to userID. An empty id is a logged no-op and an
// existing connection for the same id is reused.
func (c *Channel) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		c.log.Warn("push channel connect skipped: user id missing")
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.RLock()
	same := c.connected && c.userID == userID
	c.mu.RUnlock()
	if same {
		return nil
	}

	c.closeStream()
	return c.open(ctx, userID)
}

// Disconnect closes the live stream and stops reconnecting. Listeners stay.
func (c *Channel) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.closeStream()
}

func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Channel) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// On registers h for event name. The returned func removes it and is safe
// to call more than once.
func (c *Channel) On(name string, h Handler) (off func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.listeners[name] == nil {
		c.listeners[name] = make(map[uint64]Handler)
	}
	c.listeners[name][id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners[name], id)
			c.mu.Unlock()
		})
	}
}

func (c *Channel) ListenerCount(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners[name])
}

// open must be called with connMu held.
func (c *Channel) open(ctx context.Context, userID string) error {
	s, err := c.transport.Open(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.Emit(ctx, EventJoin, userID); err != nil {
		c.log.Warn("push channel join failed", slog.String("user_id", userID), slog.Any("err", err))
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.userID, c.stream, c.connected = userID, s, true
	c.mu.Unlock()
	c.log.Info("push channel connected", slog.String("user_id", userID))

	go c.pump(s, gen)
	return nil
}

// closeStream must be called with connMu held.
func (c *Channel) closeStream() error {
	c.mu.Lock()
	s := c.stream
	c.gen++
	c.stream, c.connected = nil, false
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

func (c *Channel) pump(s Stream, gen uint64) {
	for ev := range s.Events() {
		c.dispatch(ev)
	}

	c.mu.Lock()
	current := c.gen == gen
	if current {
		c.connected = false
		c.stream = nil
	}
	userID := c.userID
	c.mu.Unlock()

	if current {
		c.log.Warn("push channel disconnected", slog.String("user_id", userID))
		c.reconnect(userID, gen)
	}
}

func (c *Channel) reconnect(userID string, gen uint64) {
	if c.opts.ReconnectAttempts <= 0 {
		c.log.Error("push channel lost; reconnect disabled", slog.String("user_id", userID))
		return
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), uint64(c.opts.ReconnectAttempts))

	for attempt := 1; ; attempt++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		time.Sleep(d)

		c.connMu.Lock()
		c.mu.RLock()
		superseded := c.gen != gen || c.connected
		c.mu.RUnlock()
		if superseded {
			c.connMu.Unlock()
			return
		}
		err := c.open(context.Background(), userID)
		c.connMu.Unlock()

		if err == nil {
			c.log.Info("push channel reconnected", slog.Int("attempt", attempt))
			return
		}
		c.log.Warn("push channel reconnect failed", slog.Int("attempt", attempt), slog.Any("err", err))
	}
	c.log.Error("push channel gave up reconnecting; falling back to polling", slog.String("user_id", userID))
}

func (c *Channel) dispatch(ev Event) {
	c.mu.RLock()
	hs := make([]Handler, 0, len(c.listeners[ev.Name]))
	for _, h := range c.listeners[ev.Name] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
