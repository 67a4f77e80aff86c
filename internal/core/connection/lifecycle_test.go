package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
)

type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeTransport hands out scripted dial results. Dial blocks until the
// test supplies the next result.
type fakeTransport struct {
	results chan dialResult
	dials   atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{results: make(chan dialResult)}
}

func (f *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	f.dials.Add(1)
	select {
	case r := <-f.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeConn struct {
	frames chan []byte
	sent   chan []byte
	done   chan struct{}
	once   sync.Once
	err    error
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		sent:   make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	c.sent <- frame
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.drop(io.EOF)
	return nil
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLifecycle(policy RetryPolicy) (*Lifecycle, *fakeTransport, *clock.FakeClock) {
	transport := newFakeTransport()
	fake := clock.NewFake(t0)
	l := NewLifecycle(Options{Transport: transport, Retry: policy, Clock: fake, StaleAfter: 30 * time.Second})
	return l, transport, fake
}

func waitForState(t *testing.T, l *Lifecycle, want State) Status {
	t.Helper()
	require.Eventually(t, func() bool { return l.Status().State == want }, 2*time.Second, time.Millisecond,
		"expected state %s, still %s", want, l.Status().State)
	return l.Status()
}

func TestLifecycle_ConnectionStateScenario(t *testing.T) {
	l, transport, fake := newTestLifecycle(RetryPolicy{Interval: time.Second, Multiplier: 2, MaxAttempts: 3})
	defer l.Close()

	assert.Equal(t, StateIdle, l.Status().State)

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, StateConnecting, l.Status().State, "subscribing moves to connecting")

	conn := newFakeConn()
	transport.results <- dialResult{conn: conn}
	status := waitForState(t, l, StateConnected)
	assert.True(t, status.IsConnected)
	assert.Zero(t, status.ReconnectAttempts)

	conn.drop(io.ErrUnexpectedEOF)
	status = waitForState(t, l, StateReconnecting)
	assert.Equal(t, 1, status.ReconnectAttempts, "an abrupt close counts as the first attempt")
	assert.False(t, status.HasExhaustedRetries)

	for attempt, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		fake.WaitForTimers(1)
		fake.Advance(delay)
		transport.results <- dialResult{err: fmt.Errorf("dial attempt %d: refused", attempt+1)}
		if attempt < 2 {
			require.Eventually(t, func() bool { return l.Status().ReconnectAttempts == attempt+2 }, 2*time.Second, time.Millisecond)
		}
	}

	status = waitForState(t, l, StateExhausted)
	assert.True(t, status.HasExhaustedRetries)
	assert.False(t, status.IsConnected)
	assert.Equal(t, 3, status.ReconnectAttempts)
	assert.Zero(t, fake.PendingCount(), "no further automatic attempts are scheduled")

	fake.Advance(time.Hour)
	assert.Equal(t, int32(4), transport.dials.Load(), "one initial dial plus three retries")
}

func TestLifecycle_ManualReconnectAfterExhaustion(t *testing.T) {
	l, transport, _ := newTestLifecycle(RetryPolicy{Interval: time.Second, MaxAttempts: 1})
	defer l.Close()

	require.NoError(t, l.Start(context.Background()))
	transport.results <- dialResult{err: errors.New("refused")}
	waitForState(t, l, StateReconnecting)

	require.NoError(t, l.Reconnect(), "manual retry is allowed while reconnecting")
	transport.results <- dialResult{err: errors.New("refused")}
	waitForState(t, l, StateReconnecting)

	// The retry timer of the first round was cancelled by Reconnect, so
	// only the attempt budget of the manual round applies.
	assert.Equal(t, 1, l.Status().ReconnectAttempts)

	assert.Error(t, l.Start(context.Background()), "start is only valid from idle")
}

func TestLifecycle_ProtocolError_StopsRetrying(t *testing.T) {
	l, transport, fake := newTestLifecycle(DefaultRetryPolicy())
	defer l.Close()

	require.NoError(t, l.Start(context.Background()))
	conn := newFakeConn()
	transport.results <- dialResult{conn: conn}
	waitForState(t, l, StateConnected)

	conn.drop(fmt.Errorf("unexpected frame: %w", ErrProtocol))
	status := waitForState(t, l, StateError)
	assert.Contains(t, status.LastError, "unexpected frame")
	assert.Zero(t, fake.PendingCount())

	require.NoError(t, l.Reconnect())
	assert.Equal(t, StateConnecting, l.Status().State)
	transport.results <- dialResult{conn: newFakeConn()}
	waitForState(t, l, StateConnected)
}

func TestLifecycle_HeartbeatsAreConsumedInternally(t *testing.T) {
	l, transport, _ := newTestLifecycle(DefaultRetryPolicy())
	defer l.Close()

	received := make(chan []byte, 4)
	unsubscribe := l.Subscribe(func(frame []byte) { received <- frame })
	defer unsubscribe()

	require.NoError(t, l.Start(context.Background()))
	conn := newFakeConn()
	transport.results <- dialResult{conn: conn}
	waitForState(t, l, StateConnected)

	conn.frames <- []byte(`{"type":"ping"}`)
	conn.frames <- []byte(`{"type":"heartbeat"}`)
	conn.frames <- []byte(`{"type":"detection","data":{"id":"d1"}}`)

	select {
	case frame := <-received:
		assert.JSONEq(t, `{"type":"detection","data":{"id":"d1"}}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("domain frame was not delivered")
	}
	select {
	case frame := <-received:
		t.Fatalf("unexpected frame delivered: %s", frame)
	default:
	}

	select {
	case pong := <-conn.sent:
		assert.JSONEq(t, `{"type":"pong"}`, string(pong))
	case <-time.After(2 * time.Second):
		t.Fatal("ping was not answered")
	}
	assert.False(t, l.Status().LastHeartbeatAt.IsZero())
}

func TestLifecycle_IsFresh(t *testing.T) {
	l, transport, fake := newTestLifecycle(DefaultRetryPolicy())
	defer l.Close()

	assert.False(t, l.IsFresh(fake.Now()), "an idle connection is never fresh")

	require.NoError(t, l.Start(context.Background()))
	conn := newFakeConn()
	transport.results <- dialResult{conn: conn}
	waitForState(t, l, StateConnected)
	assert.True(t, l.IsFresh(fake.Now()))

	fake.Advance(31 * time.Second)
	assert.False(t, l.IsFresh(fake.Now()), "silence past StaleAfter makes data stale")

	conn.frames <- []byte(`{"type":"heartbeat"}`)
	require.Eventually(t, func() bool { return l.IsFresh(fake.Now()) }, 2*time.Second, time.Millisecond)
}

func TestLifecycle_Close_IsIdempotentAndSilencesCallbacks(t *testing.T) {
	l, transport, _ := newTestLifecycle(DefaultRetryPolicy())

	var delivered atomic.Int32
	l.Subscribe(func([]byte) { delivered.Add(1) })
	var statuses atomic.Int32
	l.OnStatus(func(Status) { statuses.Add(1) })

	require.NoError(t, l.Start(context.Background()))
	conn := newFakeConn()
	transport.results <- dialResult{conn: conn}
	waitForState(t, l, StateConnected)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.True(t, conn.closed.Load(), "close must release the transport")

	before := statuses.Load()
	conn.frames <- []byte(`{"type":"detection","data":{}}`)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, delivered.Load())
	assert.Equal(t, before, statuses.Load())
	assert.Equal(t, StateIdle, l.Status().State)
	assert.ErrorIs(t, l.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, l.Reconnect(), ErrClosed)
}

func TestLifecycle_UnsubscribeIsIdempotent(t *testing.T) {
	l, _, _ := newTestLifecycle(DefaultRetryPolicy())
	unsubscribe := l.Subscribe(func([]byte) {})
	unsubscribe()
	assert.NotPanics(t, unsubscribe)
}
