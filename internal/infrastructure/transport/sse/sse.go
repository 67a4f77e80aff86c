// Package sse reads Server-Sent Event streams, such as export job
// progress, and exposes them as a connection.Transport.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
)

// ErrSendUnsupported is returned by Conn.Send: SSE is one-way
var ErrSendUnsupported = errors.New("sse: send not supported")

const maxEventSize = 1 << 20

// Event is one dispatched server-sent event
type Event struct {
	Type string
	ID   string
	Data string
}

// Reader splits a text/event-stream body into events. Data lines are
// joined with newlines; comments and unknown fields are skipped.
type Reader struct {
	lines *bufio.Scanner
	event Event
	err   error
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &Reader{lines: s}
}

// Next reads the next event with data. It returns false at the end of
// the stream; Err distinguishes a clean end from a failure.
func (r *Reader) Next() bool {
	var (
		ev      Event
		data    []string
		hasData bool
	)
	for r.lines.Scan() {
		line := strings.TrimSuffix(r.lines.Text(), "\r")
		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				r.event = ev
				return true
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Type = value
		case "id":
			ev.ID = value
		}
	}

	r.err = r.lines.Err()
	if r.err == nil && hasData {
		ev.Data = strings.Join(data, "\n")
		r.event = ev
		return true
	}
	return false
}

// Event returns the event read by the last successful Next
func (r *Reader) Event() Event {
	return r.event
}

// Err returns the read error, nil after a clean end of stream
func (r *Reader) Err() error {
	return r.err
}

// Transport opens an SSE stream at URL for each Dial
type Transport struct {
	URL    string
	APIKey string
	Client *http.Client
	Logger hclog.Logger
}

// Dial implements connection.Transport. Client errors other than 408 and
// 429 are reported as connection.ErrProtocol.
func (t *Transport) Dial(ctx context.Context) (connection.Conn, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := t.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	// The body outlives Dial, so the request gets its own context that
	// Close cancels.
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse: creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.APIKey != "" {
		req.Header.Set("X-API-Key", t.APIKey)
	}

	stop := context.AfterFunc(ctx, cancel)
	resp, err := client.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse: %s: %w", t.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()
		err := fmt.Errorf("sse: %s: HTTP %d: %s", t.URL, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", connection.ErrProtocol, err)
		}
		return nil, err
	}

	logger.Debug("sse stream open", "url", t.URL)
	return &Conn{body: resp.Body, reader: NewReader(resp.Body), cancel: cancel}, nil
}

// Conn is one open event stream
type Conn struct {
	body   io.ReadCloser
	reader *Reader
	cancel context.CancelFunc
}

// Receive returns the data of the next event. The end of the stream is
// reported as io.EOF.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	if c.reader.Next() {
		return []byte(c.reader.Event().Data), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := c.reader.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Send implements connection.Conn
func (c *Conn) Send(context.Context, []byte) error {
	return ErrSendUnsupported
}

// Close ends the stream
func (c *Conn) Close() error {
	c.cancel()
	return c.body.Close()
}
