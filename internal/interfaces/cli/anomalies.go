package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

func newAnomaliesCommand(a *app) *cobra.Command {
	anomaliesCmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Review zone anomalies",
	}

	anomaliesCmd.AddCommand(&cobra.Command{
		Use:   "list ZONE_ID",
		Short: "List the anomalies of a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				anomalies, err := c.Zones.Anomalies(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to list anomalies: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(anomalies) == 0 {
					fmt.Fprintf(out, "No anomalies in zone %s.\n", args[0])
					return nil
				}
				for _, an := range anomalies {
					ack := " "
					if an.Acknowledged {
						ack = "✓"
					}
					fmt.Fprintf(out, "%s %s %s %-8s %s\n",
						ack,
						an.DetectedAt.Local().Format("2006-01-02 15:04"),
						an.ID,
						severityStyle(an.Severity).Render(string(an.Severity)),
						an.Description)
				}
				return nil
			})
		},
	})

	anomaliesCmd.AddCommand(&cobra.Command{
		Use:   "ack ANOMALY_ID",
		Short: "Acknowledge an anomaly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				an, err := c.Zones.Acknowledge(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to acknowledge anomaly %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged anomaly %s in zone %s\n", an.ID, an.ZoneID)
				return nil
			})
		},
	})

	return anomaliesCmd
}
