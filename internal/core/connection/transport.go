package connection

import "context"

// Transport opens connections to a push source
type Transport interface {
	// Dial opens a connection, including any handshake or topic
	// subscription the source requires.
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open push connection. Receive is only called from a single
// goroutine; Send and Close may be called concurrently with it.
type Conn interface {
	// Receive blocks until the next frame arrives. It returns an error
	// once the connection is closed by either side.
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context) (Conn, error)

// Dial implements Transport
func (f TransportFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
