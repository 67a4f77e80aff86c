package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
)

// serve starts a WebSocket server running handler for every connection
func serve(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransport_SubscribesAndReceives(t *testing.T) {
	subscribed := make(chan string, 1)
	url := serve(t, func(ws *websocket.Conn) {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"detection","data":{"id":"d1"}}`))
		_, _, _ = ws.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := New(Options{URL: url, Topics: []string{"detections", "events"}}).Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	assert.JSONEq(t, `{"type":"subscribe","topics":["detections","events"]}`, <-subscribed)

	frame, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"detection","data":{"id":"d1"}}`, string(frame))
}

func TestTransport_RejectedHandshakeIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}).Dial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, connection.ErrProtocol)
}

func TestTransport_UnavailableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}).Dial(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, connection.ErrProtocol)
}

func TestConn_CloseCodes(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		wantProtocol bool
	}{
		{name: "policy_violation", code: websocket.ClosePolicyViolation, wantProtocol: true},
		{name: "unsupported_data", code: websocket.CloseUnsupportedData, wantProtocol: true},
		{name: "going_away", code: websocket.CloseGoingAway, wantProtocol: false},
		{name: "normal", code: websocket.CloseNormalClosure, wantProtocol: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := serve(t, func(ws *websocket.Conn) {
				msg := websocket.FormatCloseMessage(tt.code, "bye")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := New(Options{URL: url}).Dial(ctx)
			require.NoError(t, err)
			defer conn.Close()

			_, err = conn.Receive(ctx)
			require.Error(t, err)
			assert.Equal(t, tt.wantProtocol, errors.Is(err, connection.ErrProtocol))
		})
	}
}

func TestConn_ReceiveUnblocksOnCancel(t *testing.T) {
	url := serve(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := New(Options{URL: url}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := conn.Receive(ctx)
		errs <- err
	}()
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}

func TestLifecycle_OverWebSocket(t *testing.T) {
	pong := make(chan string, 1)
	url := serve(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_, msg, err := ws.ReadMessage()
		if err == nil {
			pong <- string(msg)
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","data":{"id":"e1"}}`))
		_, _, _ = ws.ReadMessage()
	})

	lc := connection.NewLifecycle(connection.Options{
		Transport: New(Options{URL: url}),
		Retry:     connection.DefaultRetryPolicy(),
	})
	defer lc.Close()

	frames := make(chan string, 4)
	lc.Subscribe(func(frame []byte) { frames <- string(frame) })
	require.NoError(t, lc.Start(context.Background()))

	select {
	case msg := <-pong:
		assert.JSONEq(t, `{"type":"pong"}`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no pong")
	}
	select {
	case frame := <-frames:
		assert.Contains(t, frame, `"e1"`, "the ping itself is never delivered")
	case <-time.After(5 * time.Second):
		t.Fatal("no frame")
	}
	assert.True(t, lc.Status().IsConnected)
}
