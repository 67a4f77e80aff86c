// Package mqtt subscribes to Frigate-style camera event topics on an MQTT
// broker and exposes them as a connection.Transport. Reconnects are left
// to connection.Lifecycle, so paho's own auto-reconnect is disabled.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
)

// ErrConnectionLost is returned by Receive after the broker connection
// drops
var ErrConnectionLost = errors.New("mqtt: connection lost")

// Options configure the transport
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	// ConnectTimeout bounds the connect and subscribe handshakes
	ConnectTimeout time.Duration
	// BufferSize is the number of adapted frames held for Receive.
	// Messages arriving while it is full are dropped and counted.
	BufferSize int
	Logger     hclog.Logger
}

// DefaultBufferSize is the receive buffer used when Options.BufferSize is 0
const DefaultBufferSize = 256

// Transport connects to the broker on each Dial
type Transport struct {
	opts Options
	// newClient is swapped in tests
	newClient func(*paho.ClientOptions) paho.Client
	dropped   atomic.Int64
}

// New creates a Transport
func New(opts Options) *Transport {
	if opts.ClientID == "" {
		opts.ClientID = "hsi-" + uuid.NewString()[:8]
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Transport{opts: opts, newClient: paho.NewClient}
}

// Dial implements connection.Transport
func (t *Transport) Dial(ctx context.Context) (connection.Conn, error) {
	conn := newConn(t.opts.Logger, t.opts.BufferSize, &t.dropped)

	o := paho.NewClientOptions()
	o.AddBroker(t.opts.Broker)
	o.SetClientID(t.opts.ClientID)
	o.SetUsername(t.opts.Username)
	o.SetPassword(t.opts.Password)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	o.SetCleanSession(true)
	o.SetConnectTimeout(t.opts.ConnectTimeout)
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.opts.Logger.Warn("mqtt connection lost", "broker", t.opts.Broker, "error", err)
		conn.fail(err)
	})

	client := t.newClient(o)
	conn.client = client

	if err := wait(ctx, client.Connect(), t.opts.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", t.opts.Broker, err)
	}
	token := client.Subscribe(t.opts.Topic, t.opts.QoS, conn.onMessage)
	if err := wait(ctx, token, t.opts.ConnectTimeout); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", t.opts.Topic, err)
	}

	t.opts.Logger.Info("mqtt subscribed", "broker", t.opts.Broker, "topic", t.opts.Topic)
	return conn, nil
}

// Dropped returns how many messages every session of this transport
// discarded because the receive buffer was full
func (t *Transport) Dropped() int64 {
	return t.dropped.Load()
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout")
	}
}

// Conn delivers adapted frames from one broker session
type Conn struct {
	client paho.Client
	logger hclog.Logger
	frames chan []byte

	dropped      atomic.Int64
	totalDropped *atomic.Int64

	mu     sync.Mutex
	err    error
	done   chan struct{}
	closed bool
}

func newConn(logger hclog.Logger, size int, total *atomic.Int64) *Conn {
	return &Conn{
		logger:       logger,
		frames:       make(chan []byte, size),
		done:         make(chan struct{}),
		totalDropped: total,
	}
}

func (c *Conn) onMessage(_ paho.Client, msg paho.Message) {
	frame, ok := AdaptPayload(msg.Payload())
	if !ok {
		c.logger.Debug("dropping unrecognised mqtt payload", "topic", msg.Topic())
		return
	}
	select {
	case c.frames <- frame:
	case <-c.done:
	default:
		n := c.dropped.Add(1)
		c.totalDropped.Add(1)
		if n == 1 || n%100 == 0 {
			c.logger.Warn("mqtt receive buffer full, dropping messages", "topic", msg.Topic(), "dropped", n)
		}
	}
}

// Dropped returns how many messages this session discarded because the
// receive buffer was full
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	close(c.done)
}

// Receive implements connection.Conn. Frames queued before a disconnect
// are still returned.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send is a no-op. The event topic is receive-only and the broker
// handles keep-alives itself.
func (c *Conn) Send(context.Context, []byte) error {
	return nil
}

// Close disconnects from the broker
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.err = connection.ErrClosed
	close(c.done)
	c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
