// Package connection owns the lifecycle of a push transport: dialing,
// bounded reconnects, heartbeat consumption and freshness.
package connection

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed Lifecycle.
	ErrClosed = errors.New("connection: closed")
	// ErrProtocol marks unrecoverable protocol violations. A transport
	// error wrapping it moves the lifecycle to StateError without retry.
	ErrProtocol = errors.New("connection: protocol violation")
	// ErrInvalidTransition is returned when an operation is not allowed
	// in the current state.
	ErrInvalidTransition = errors.New("connection: invalid state transition")
)

// State is the connection state owned by a Lifecycle
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateExhausted    State = "exhausted"
	StateError        State = "error"
)

// transitions lists the allowed next states. Idle is reachable from
// everywhere because Close always returns the lifecycle to rest.
var transitions = map[State][]State{
	StateIdle:         {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting},
	StateConnected:    {StateReconnecting},
	StateReconnecting: {StateConnected, StateReconnecting, StateExhausted, StateConnecting},
	StateExhausted:    {StateConnecting},
	StateError:        {StateConnecting},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to State) bool {
	if to == StateError || to == StateIdle {
		return from != to
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Status is the read-only view of a Lifecycle exposed to consumers
type Status struct {
	State               State     `json:"state"`
	IsConnected         bool      `json:"is_connected"`
	ReconnectAttempts   int       `json:"reconnect_attempts"`
	HasExhaustedRetries bool      `json:"has_exhausted_retries"`
	LastMessageAt       time.Time `json:"last_message_at,omitempty"`
	LastHeartbeatAt     time.Time `json:"last_heartbeat_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// RetryPolicy controls automatic reconnects
type RetryPolicy struct {
	// Interval is the delay before the first retry.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Multiplier grows the delay per attempt. Values <= 1 keep a fixed
	// interval.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	// MaxInterval caps the delay. Zero means no cap.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`
	// MaxAttempts bounds automatic retries. Zero retries forever.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultRetryPolicy returns the default exponential backoff policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    time.Second,
		Multiplier:  2,
		MaxInterval: 30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the given 1-based attempt:
// Interval * Multiplier^(attempt-1), capped at MaxInterval.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Interval
	if p.Multiplier > 1 {
		f := float64(p.Interval)
		for i := 1; i < attempt; i++ {
			f *= p.Multiplier
			if p.MaxInterval > 0 && f >= float64(p.MaxInterval) {
				return p.MaxInterval
			}
		}
		delay = time.Duration(f)
	}
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	return delay
}

// Exhausted reports whether attempts has used up the policy
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
