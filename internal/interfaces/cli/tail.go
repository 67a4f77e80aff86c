package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

// TailFlags holds command-line flags for the tail command
type TailFlags struct {
	Kinds []string
	JSON  bool
	Count int
}

func newTailCommand(a *app) *cobra.Command {
	flags := &TailFlags{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print validated push events as they arrive",
		Long: `Connect to the push channel and print every event that passes
validation. Malformed frames are dropped.

Examples:
  hsi tail                              # Everything
  hsi tail --kind detection --kind event
  hsi tail --json --count 10            # Ten events as JSON lines`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(flags.Kinds)
			if err != nil {
				return err
			}
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				return runTail(cmd.Context(), c, cmd.OutOrStdout(), kinds, flags)
			})
		},
	}

	cmd.Flags().StringSliceVar(&flags.Kinds, "kind", nil, "Only print these event kinds (detection, batch, zone-enter, zone-exit, anomaly, event, notification)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Print events as JSON lines")
	cmd.Flags().IntVar(&flags.Count, "count", 0, "Exit after this many events (0 runs until interrupted)")

	return cmd
}

// tailRecord is the JSON line printed for one event
type tailRecord struct {
	Kind      stream.Kind    `json:"kind"`
	ID        string         `json:"id"`
	CameraID  string         `json:"camera_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   stream.Payload `json:"payload"`
}

func runTail(ctx context.Context, c *di.Container, out io.Writer, kinds map[stream.Kind]bool, flags *TailFlags) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan stream.Event, 64)
	unsubscribe := c.Connection.Subscribe(func(frame []byte) {
		ev, ok := stream.Decode(frame, c.Clock.Now())
		if !ok || (kinds != nil && !kinds[ev.Kind]) {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	failed := make(chan connection.Status, 1)
	stopStatus := c.Connection.OnStatus(func(s connection.Status) {
		if s.State == connection.StateExhausted || s.State == connection.StateError {
			select {
			case failed <- s:
			default:
			}
		}
	})
	defer stopStatus()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	enc := json.NewEncoder(out)
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-failed:
			return fmt.Errorf("connection %s: %v", s.State, s.LastError)
		case ev := <-events:
			if flags.JSON {
				rec := tailRecord{Kind: ev.Kind, ID: ev.ID, CameraID: ev.Keys.CameraID, Timestamp: ev.Timestamp, Payload: ev.Payload}
				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			} else {
				fmt.Fprintf(out, "%s %-12s %-12s %s\n", clockTime(ev.Timestamp), ev.Kind, ev.Keys.CameraID, describe(ev))
			}
			printed++
			if flags.Count > 0 && printed >= flags.Count {
				return nil
			}
		}
	}
}
