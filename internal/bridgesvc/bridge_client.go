// Package bridgesvc carries serialized control events from the device
// host to the relay over a single self-healing websocket connection.
package bridgesvc

import (
	"context"
	"errors"
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var defaultOptions = options{
	backoff:   2 * time.Second,
	queueSize: 4096,
}

type options struct {
	backoff   time.Duration
	queueSize int
}

type Option func(*options)

// WithBackoff overrides the fixed reconnect interval.
func WithBackoff(d time.Duration) Option {
	return func(o *options) {
		o.backoff = d
	}
}

// WithQueueSize overrides the outbound queue bound. When the queue is
// full the oldest events are dropped.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

const (
	writeWait = 5 * time.Second
	pongWait  = 10 * time.Second
)

var (
	errPeerClosed     = errors.New("relay closed the connection")
	errConfirmTimeout = errors.New("timed out waiting for delivery confirmation")
)

// Client owns the outbound queue and exactly one live connection to the
// relay. Connect and send failures are never fatal: the client retries
// with a fixed backoff forever and the queue is preserved across
// reconnects.
type Client struct {
	log     *zap.Logger
	options options
	queue   *queue

	url       *atomic.String
	connected *atomic.Bool
	dialer    *websocket.Dialer
}

func New(log *zap.Logger, url string, opts ...Option) *Client {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		log:       log,
		options:   o,
		queue:     newQueue(o.queueSize),
		url:       atomic.NewString(url),
		connected: atomic.NewBool(false),
		dialer:    websocket.DefaultDialer,
	}
}

// SetURL changes the relay endpoint. It takes effect on the next
// (re)connect.
func (c *Client) SetURL(url string) {
	c.url.Store(url)
}

// URL returns the relay endpoint currently in use.
func (c *Client) URL() string {
	return c.url.Load()
}

// Publish serializes an event and enqueues it. It never blocks the
// calling poller.
func (c *Client) Publish(ev controlev.Event) {
	data, err := controlev.Marshal(ev)
	if err != nil {
		c.log.Error("failed to marshal event", zap.Error(err))
		return
	}
	c.queue.push(data)
}

// Connected reports whether a connection to the relay is currently live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// QueueLen returns the number of events waiting to be sent.
func (c *Client) QueueLen() int {
	return c.queue.len()
}

// Dropped returns how many events were evicted under backpressure.
func (c *Client) Dropped() uint64 {
	return c.queue.droppedCount()
}

// Start runs the connect-and-drain loop until the context is cancelled.
func (c *Client) Start(ctx context.Context) error {
	for {
		url := c.url.Load()
		conn, resp, err := c.dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("Bridge connection failed",
				zap.String("url", url),
				zap.Duration("retryIn", c.options.backoff),
				zap.Error(err))
			if !sleep(ctx, c.options.backoff) {
				return nil
			}
			continue
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		c.log.Info("Connected to relay", zap.String("url", url))
		c.connected.Store(true)
		err = c.drain(ctx, conn)
		c.connected.Store(false)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("Bridge connection lost",
			zap.Duration("retryIn", c.options.backoff),
			zap.Int("queued", c.queue.len()),
			zap.Error(err))
		if !sleep(ctx, c.options.backoff) {
			return nil
		}
	}
}

// drain sends queued events in order until the connection dies. A
// successful write only means the bytes reached the local socket buffer,
// so an item is acknowledged only once a ping/pong round trip proves the
// relay has read past it. Anything not yet confirmed stays queued and is
// resent on the next connection, which may deliver duplicates but never
// loses an event.
func (c *Client) drain(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	// The peer never sends us data, but reading is what surfaces pongs,
	// close frames and network failures.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		item, seq, err := c.queue.peek(connCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errPeerClosed
		}
		if err := conn.WriteMessage(websocket.TextMessage, item); err != nil {
			return err
		}
		if err := c.confirm(connCtx, conn, pong); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.queue.ack(seq)
	}
}

// confirm performs one ping/pong round trip. The websocket protocol
// delivers frames in order, so a pong proves the relay consumed every
// frame written before the ping.
func (c *Client) confirm(ctx context.Context, conn *websocket.Conn, pong <-chan struct{}) error {
	// Discard a pong left over from an earlier round trip.
	select {
	case <-pong:
	default:
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return err
	}
	t := time.NewTimer(pongWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errPeerClosed
	case <-t.C:
		return errConfirmTimeout
	case <-pong:
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return false
	case <-t.C:
		return true
	}
}
