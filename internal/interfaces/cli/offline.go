package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/offline"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

var errOfflineDisabled = errors.New("offline cache is disabled (set offline.enabled in the config file)")

func newOfflineCommand(a *app) *cobra.Command {
	offlineCmd := &cobra.Command{
		Use:   "offline",
		Short: "Inspect the offline event cache",
		Long: `Inspect the local SQLite copy of recently fetched and pushed security
events. It is what "hsi events list" falls back to when the backend is
unreachable.`,
	}

	offlineCmd.AddCommand(newOfflineListCommand(a))
	offlineCmd.AddCommand(newOfflineClearCommand(a))

	return offlineCmd
}

func newOfflineListCommand(a *app) *cobra.Command {
	var (
		kind   string
		camera string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := offline.Query{CameraID: camera, Limit: limit}
			if kind != "" {
				k, ok := stream.ParseKind(kind)
				if !ok {
					return fmt.Errorf("unknown record kind %q", kind)
				}
				q.Kind = k
			}

			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				if c.Offline == nil {
					return errOfflineDisabled
				}
				records, err := c.Offline.GetAll(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("failed to read offline cache: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintf(out, "Offline cache %s is empty.\n", c.Offline.Path())
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						rec.ID,
						string(rec.Kind),
						rec.CameraID,
						rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
						rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
					})
				}
				t := table.New().
					Border(lipgloss.NormalBorder()).
					BorderStyle(mutedStyle).
					Headers("ID", "KIND", "CAMERA", "TIMESTAMP", "CACHED").
					Rows(rows...).
					StyleFunc(func(row, col int) lipgloss.Style {
						if row == table.HeaderRow {
							return headerStyle.Padding(0, 1)
						}
						return lipgloss.NewStyle().Padding(0, 1)
					})
				fmt.Fprintln(out, t.String())
				fmt.Fprintf(out, "%d records in %s\n", len(records), c.Offline.Path())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only list records of this kind")
	cmd.Flags().StringVar(&camera, "camera", "", "Only list records from this camera")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records (0 for all)")

	return cmd
}

func newOfflineClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				if c.Offline == nil {
					return errOfflineDisabled
				}
				n, err := c.Offline.Clear(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to clear offline cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records from %s\n", n, c.Offline.Path())
				return nil
			})
		},
	}
}
