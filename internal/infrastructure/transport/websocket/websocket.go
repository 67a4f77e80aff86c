// Package websocket is the gorilla/websocket implementation of
// connection.Transport for the backend's /ws/events channel.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// Options configure the transport
type Options struct {
	URL string
	// Topics are sent in a subscribe frame right after the handshake.
	// Empty means no subscribe frame.
	Topics []string
	// APIKey is sent as X-API-Key on the handshake when set.
	APIKey           string
	HandshakeTimeout time.Duration
	Logger           hclog.Logger
}

// Transport dials WebSocket connections
type Transport struct {
	opts   Options
	dialer *websocket.Dialer
}

// New creates a Transport
func New(opts Options) *Transport {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Transport{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Dial implements connection.Transport. A handshake the server rejects
// with a client error status is reported as connection.ErrProtocol since
// retrying cannot fix it.
func (t *Transport) Dial(ctx context.Context) (connection.Conn, error) {
	header := http.Header{}
	if t.opts.APIKey != "" {
		header.Set("X-API-Key", t.opts.APIKey)
	}

	ws, resp, err := t.dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if rejected(resp.StatusCode) {
				return nil, fmt.Errorf("%w: handshake rejected with HTTP %d", connection.ErrProtocol, resp.StatusCode)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", t.opts.URL, err)
	}

	conn := &Conn{ws: ws}
	if len(t.opts.Topics) > 0 {
		if err := conn.Send(ctx, stream.SubscribeMessage(t.opts.Topics)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}
	t.opts.Logger.Debug("websocket open", "url", t.opts.URL, "topics", t.opts.Topics)
	return conn, nil
}

func rejected(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

// Conn is one WebSocket connection
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Receive implements connection.Conn. Cancelling ctx closes the
// connection to unblock the read.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classify(err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// classify maps close frames that signal a broken protocol to
// connection.ErrProtocol. Everything else is transient.
func classify(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation,
			websocket.CloseUnsupportedData,
			websocket.CloseInvalidFramePayloadData,
			websocket.CloseProtocolError:
			return fmt.Errorf("%w: %v", connection.ErrProtocol, err)
		}
	}
	return err
}

// Send implements connection.Conn
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal closure frame and closes the socket
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
