package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// Options configure a Lifecycle
type Options struct {
	Transport Transport
	Retry     RetryPolicy
	Clock     clock.Clock
	Logger    hclog.Logger
	// StaleAfter is how long a connection may stay silent, heartbeats
	// included, before IsFresh reports false. Zero disables the check.
	StaleAfter time.Duration
}

// Lifecycle wraps a Transport with the connection state machine. Domain
// frames are fanned out to subscribers; heartbeats never are.
type Lifecycle struct {
	transport  Transport
	retry      RetryPolicy
	clock      clock.Clock
	logger     hclog.Logger
	staleAfter time.Duration

	mu              sync.Mutex
	state           State
	attempts        int
	lastMessageAt   time.Time
	lastHeartbeatAt time.Time
	lastErr         error
	conn            Conn
	retryTimer      clock.Timer
	generation      uint64
	closed          bool
	ctx             context.Context
	cancel          context.CancelFunc

	handlers  map[uint64]func([]byte)
	statusFns map[uint64]func(Status)
	nextID    uint64

	// dispatchMu is held while frame handlers run so Close can wait for
	// an in-flight dispatch.
	dispatchMu sync.Mutex
}

// NewLifecycle creates an idle Lifecycle
func NewLifecycle(opts Options) *Lifecycle {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Lifecycle{
		transport:  opts.Transport,
		retry:      opts.Retry,
		clock:      opts.Clock,
		logger:     opts.Logger,
		staleAfter: opts.StaleAfter,
		state:      StateIdle,
		handlers:   make(map[uint64]func([]byte)),
		statusFns:  make(map[uint64]func(Status)),
	}
}

// Start subscribes to the transport. The dial runs in the background;
// its outcome is reported through the status.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.state != StateIdle {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("start from %s: %w", state, ErrInvalidTransition)
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.setStateLocked(StateConnecting)
	gen := l.generation
	status := l.statusLocked()
	l.mu.Unlock()

	l.emit(status)
	go l.dial(gen)
	return nil
}

// Reconnect starts a manual reconnect with a fresh attempt budget. It is
// allowed from exhausted, error and reconnecting.
func (l *Lifecycle) Reconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	switch l.state {
	case StateExhausted, StateError, StateReconnecting:
	default:
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("reconnect from %s: %w", state, ErrInvalidTransition)
	}
	l.stopRetryLocked()
	l.dropConnLocked()
	l.generation++
	l.attempts = 0
	l.lastErr = nil
	l.setStateLocked(StateConnecting)
	gen := l.generation
	status := l.statusLocked()
	l.mu.Unlock()

	l.logger.Info("manual reconnect requested")
	l.emit(status)
	go l.dial(gen)
	return nil
}

// Close tears the connection down. No frame handler runs after Close
// returns, so Close must not be called from inside a frame handler.
// Calling Close more than once is safe.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.generation++
	l.stopRetryLocked()
	if l.cancel != nil {
		l.cancel()
	}
	conn := l.conn
	l.conn = nil
	l.state = StateIdle
	l.handlers = make(map[uint64]func([]byte))
	l.statusFns = make(map[uint64]func(Status))
	l.mu.Unlock()

	l.dispatchMu.Lock()
	l.dispatchMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send writes a frame on the current connection
func (l *Lifecycle) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	conn := l.conn
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return fmt.Errorf("send: %w", ErrInvalidTransition)
	}
	return conn.Send(ctx, frame)
}

// Status returns the current status
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

// IsFresh reports whether the connection is up and has delivered a frame
// recently enough for its data to be trusted.
func (l *Lifecycle) IsFresh(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateConnected {
		return false
	}
	if l.staleAfter <= 0 {
		return true
	}
	return now.Sub(l.lastMessageAt) < l.staleAfter
}

// Subscribe registers a handler for domain frames. Handlers run on the
// receive goroutine. The returned function is idempotent.
func (l *Lifecycle) Subscribe(handler func(frame []byte)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	if !l.closed {
		l.handlers[id] = handler
	}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
}

// OnStatus registers fn for status changes. The returned function is
// idempotent.
func (l *Lifecycle) OnStatus(fn func(Status)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	if !l.closed {
		l.statusFns[id] = fn
	}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.statusFns, id)
			l.mu.Unlock()
		})
	}
}

func (l *Lifecycle) dial(gen uint64) {
	conn, err := l.transport.Dial(l.ctx)

	l.mu.Lock()
	if l.closed || gen != l.generation {
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		status, ok := l.failLocked(err)
		l.mu.Unlock()
		if ok {
			l.emit(status)
		}
		return
	}

	l.conn = conn
	l.attempts = 0
	l.lastErr = nil
	l.lastMessageAt = l.clock.Now()
	l.setStateLocked(StateConnected)
	status := l.statusLocked()
	l.mu.Unlock()

	l.logger.Info("connected")
	l.emit(status)
	l.receive(conn, gen)
}

func (l *Lifecycle) receive(conn Conn, gen uint64) {
	for {
		frame, err := conn.Receive(l.ctx)
		if err != nil {
			l.mu.Lock()
			if l.closed || gen != l.generation {
				l.mu.Unlock()
				return
			}
			l.dropConnLocked()
			status, ok := l.failLocked(err)
			l.mu.Unlock()
			if ok {
				l.emit(status)
			}
			return
		}

		if !l.handle(conn, gen, frame) {
			return
		}
	}
}

// handle records the frame and dispatches it. It returns false once the
// lifecycle has moved on from this connection.
func (l *Lifecycle) handle(conn Conn, gen uint64, frame []byte) bool {
	heartbeat := stream.IsHeartbeat(frame)

	l.mu.Lock()
	if l.closed || gen != l.generation {
		l.mu.Unlock()
		return false
	}
	now := l.clock.Now()
	l.lastMessageAt = now
	if heartbeat {
		l.lastHeartbeatAt = now
		l.mu.Unlock()
		if stream.IsPing(frame) {
			if err := conn.Send(l.ctx, stream.PongMessage()); err != nil {
				l.logger.Debug("failed to answer ping", "error", err)
			}
		}
		return true
	}
	l.mu.Unlock()

	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	l.mu.Lock()
	if l.closed || gen != l.generation {
		l.mu.Unlock()
		return false
	}
	handlers := make([]func([]byte), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
	return true
}

// failLocked routes a dial or receive error to error, exhausted or a
// scheduled retry.
func (l *Lifecycle) failLocked(err error) (Status, bool) {
	if l.ctx.Err() != nil {
		return Status{}, false
	}
	l.lastErr = err

	if errors.Is(err, ErrProtocol) {
		l.logger.Error("protocol error, not retrying", "error", err)
		l.setStateLocked(StateError)
		return l.statusLocked(), true
	}

	if l.state == StateReconnecting && l.retry.Exhausted(l.attempts) {
		l.logger.Warn("reconnect attempts exhausted", "attempts", l.attempts, "error", err)
		l.setStateLocked(StateExhausted)
		return l.statusLocked(), true
	}

	l.attempts++
	delay := l.retry.Delay(l.attempts)
	l.setStateLocked(StateReconnecting)
	l.logger.Warn("connection lost, reconnecting", "attempt", l.attempts, "delay", delay, "error", err)

	gen := l.generation
	l.retryTimer = l.clock.AfterFunc(delay, func() { go l.retryDial(gen) })
	return l.statusLocked(), true
}

func (l *Lifecycle) retryDial(gen uint64) {
	l.mu.Lock()
	if l.closed || gen != l.generation || l.state != StateReconnecting {
		l.mu.Unlock()
		return
	}
	l.retryTimer = nil
	l.mu.Unlock()
	l.dial(gen)
}

func (l *Lifecycle) setStateLocked(next State) {
	if !CanTransition(l.state, next) {
		l.logger.Debug("ignoring invalid transition", "from", l.state, "to", next)
		return
	}
	l.state = next
}

func (l *Lifecycle) stopRetryLocked() {
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
}

func (l *Lifecycle) dropConnLocked() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func (l *Lifecycle) statusLocked() Status {
	s := Status{
		State:               l.state,
		IsConnected:         l.state == StateConnected,
		ReconnectAttempts:   l.attempts,
		HasExhaustedRetries: l.state == StateExhausted,
		LastMessageAt:       l.lastMessageAt,
		LastHeartbeatAt:     l.lastHeartbeatAt,
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

func (l *Lifecycle) emit(status Status) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	fns := make([]func(Status), 0, len(l.statusFns))
	for _, fn := range l.statusFns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
