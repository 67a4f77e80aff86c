package notification

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// WriterNotifier prints notifications to a terminal, optionally ringing
// the bell. A nil writer leaves it without permission.
type WriterNotifier struct {
	Out  io.Writer
	Bell bool
}

// Permission implements Notifier
func (w WriterNotifier) Permission() Permission {
	if w.Out == nil {
		return PermissionDenied
	}
	return PermissionGranted
}

// Notify implements Notifier
func (w WriterNotifier) Notify(_ context.Context, n stream.Notification) error {
	if w.Out == nil {
		return ErrUnavailable
	}
	var b strings.Builder
	if w.Bell {
		b.WriteByte('\a')
	}
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(n.Severity)), n.Title)
	if n.Body != "" {
		fmt.Fprintf(&b, ": %s", n.Body)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w.Out, b.String())
	return err
}
