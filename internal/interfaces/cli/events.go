package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/application/services"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/views"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

func newEventsCommand(a *app) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Manage the security event history",
	}

	eventsCmd.AddCommand(newEventsListCommand(a))
	eventsCmd.AddCommand(newEventMutationCommand(a, "delete", "Soft delete a security event", func(c *di.Container, cmd *cobra.Command, id string) (string, error) {
		if err := c.Events.Delete(cmd.Context(), id); err != nil {
			return "", err
		}
		return "Deleted event " + id, nil
	}))
	eventsCmd.AddCommand(newEventMutationCommand(a, "restore", "Restore a deleted security event", func(c *di.Container, cmd *cobra.Command, id string) (string, error) {
		ev, err := c.Events.Restore(cmd.Context(), id)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Restored event %s (risk %d, %s)", ev.ID, ev.RiskScore, ev.RiskLevel), nil
	}))
	eventsCmd.AddCommand(newEventMutationCommand(a, "review", "Mark a security event as reviewed", func(c *di.Container, cmd *cobra.Command, id string) (string, error) {
		ev, err := c.Events.MarkReviewed(cmd.Context(), id)
		if err != nil {
			return "", err
		}
		return "Marked event " + ev.ID + " as reviewed", nil
	}))

	return eventsCmd
}

// EventsListFlags holds command-line flags for events list
type EventsListFlags struct {
	CameraID string
	Pages    int
	MinRisk  string
	JSON     bool
}

func newEventsListCommand(a *app) *cobra.Command {
	flags := &EventsListFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List security events, newest first",
		Long: `List security events from the backend, newest first.

When the backend cannot be reached and the offline cache is enabled the
last known events are shown instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var minRisk stream.Severity
			if flags.MinRisk != "" {
				s, ok := stream.ParseSeverity(flags.MinRisk)
				if !ok {
					return fmt.Errorf("invalid --min-risk %q", flags.MinRisk)
				}
				minRisk = s
			}
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				return runEventsList(cmd, c, flags, minRisk)
			})
		},
	}

	cmd.Flags().StringVar(&flags.CameraID, "camera", "", "Only list events from this camera")
	cmd.Flags().IntVar(&flags.Pages, "pages", 1, "Number of pages to load")
	cmd.Flags().StringVar(&flags.MinRisk, "min-risk", "", "Only list events at or above this risk level (low, medium, high, critical)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Print events as JSON")

	return cmd
}

func runEventsList(cmd *cobra.Command, c *di.Container, flags *EventsListFlags, minRisk stream.Severity) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	filter := views.FilterState{CameraID: flags.CameraID}

	events, err := c.Events.Events(ctx, filter)
	offline := false
	if err != nil {
		if c.Offline == nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		c.Logger.Warn("backend unavailable, using offline cache", "error", err)
		if events, err = c.Events.Offline(ctx, filter); err != nil {
			return fmt.Errorf("failed to read offline events: %w", err)
		}
		offline = true
	} else {
		for page := 1; page < flags.Pages; page++ {
			more, err := c.Events.LoadMore(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to load more events: %w", err)
			}
			if !more {
				break
			}
		}
		// Re-reading through Events could refetch and drop the extra pages.
		pages, err := querycache.GetAs[[]pagination.Page[stream.SecurityEvent]](c.Cache, services.EventListKey(filter))
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		events = pagination.Flatten(pages, func(ev stream.SecurityEvent) string { return ev.ID })
	}

	if minRisk != "" {
		kept := events[:0:0]
		for _, ev := range events {
			if ev.RiskLevel.AtLeast(minRisk) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}

	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	printEventTable(out, events)
	switch {
	case offline:
		fmt.Fprintf(out, "%d events from the offline cache (%s)\n", len(events), c.Offline.Path())
	case c.Events.HasMore(filter):
		fmt.Fprintf(out, "%d events, more available (use --pages)\n", len(events))
	default:
		fmt.Fprintf(out, "%d events\n", len(events))
	}
	return nil
}

func printEventTable(out io.Writer, events []stream.SecurityEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No security events.")
		return
	}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		reviewed := ""
		if ev.Reviewed {
			reviewed = "yes"
		}
		rows = append(rows, []string{
			ev.ID,
			ev.StartedAt.Local().Format("2006-01-02 15:04"),
			ev.CameraID,
			fmt.Sprintf("%d %s", ev.RiskScore, ev.RiskLevel),
			reviewed,
			truncateString(ev.Summary, 40),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "STARTED", "CAMERA", "RISK", "REVIEWED", "SUMMARY").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Inherit(headerStyle)
			}
			if col == 3 && row >= 0 && row < len(events) {
				return style.Inherit(severityStyle(events[row].RiskLevel))
			}
			return style
		})
	fmt.Fprintln(out, t.String())
}

// newEventMutationCommand builds a subcommand that applies fn to one
// event id
func newEventMutationCommand(a *app, use, short string, fn func(*di.Container, *cobra.Command, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " EVENT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				msg, err := fn(c, cmd, args[0])
				if err != nil {
					return fmt.Errorf("failed to %s event %s: %w", use, args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
}
