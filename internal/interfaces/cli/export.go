package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/application/services"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/api"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/transport/sse"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

// ExportFlags holds command-line flags for the export command
type ExportFlags struct {
	Format   string
	CameraID string
	Since    time.Duration
	Timeout  time.Duration
}

func newExportCommand(a *app) *cobra.Command {
	flags := &ExportFlags{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export security events and follow the job progress",
		Long: `Start an export job on the backend and follow its progress stream
until it completes or fails.

Examples:
  hsi export                           # Last 24 hours as CSV
  hsi export --format json --since 168h --camera driveway`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, containerOptions{}, func(c *di.Container) error {
				return runExport(cmd, c, flags)
			})
		},
	}

	cmd.Flags().StringVar(&flags.Format, "format", "csv", "Export format (csv, json)")
	cmd.Flags().StringVar(&flags.CameraID, "camera", "", "Only export events from this camera")
	cmd.Flags().DurationVar(&flags.Since, "since", 24*time.Hour, "Export events started within this window")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 5*time.Minute, "Give up when the job has not finished in time")

	return cmd
}

// progressPrinter serializes progress lines written from the stream
// goroutine and the command goroutine
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *progressPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func runExport(cmd *cobra.Command, c *di.Container, flags *ExportFlags) error {
	ctx := cmd.Context()
	printer := &progressPrinter{out: cmd.OutOrStdout()}

	now := c.Clock.Now().UTC()
	job, err := c.API.CreateExport(ctx, api.ExportRequest{
		Format:   flags.Format,
		CameraID: flags.CameraID,
		From:     now.Add(-flags.Since),
		To:       now,
	})
	if err != nil {
		return fmt.Errorf("failed to start export: %w", err)
	}
	printer.printf("Export job %s %s\n", job.JobID, job.Status)

	logger := c.Logger.Named("export")
	progress := connection.NewLifecycle(connection.Options{
		Transport: &sse.Transport{
			URL:    c.API.ExportStreamURL(job.JobID),
			APIKey: c.Config.API.APIKey,
			Logger: logger,
		},
		Retry:  c.Config.Retry,
		Clock:  c.Clock,
		Logger: logger,
	})
	defer progress.Close()

	failed := make(chan connection.Status, 1)
	stopStatus := progress.OnStatus(func(s connection.Status) {
		if s.State == connection.StateExhausted || s.State == connection.StateError {
			select {
			case failed <- s:
			default:
			}
		}
	})
	defer stopStatus()

	exp := services.NewExportJob(services.Deps{Source: progress, Clock: c.Clock, Logger: logger}, job.JobID,
		func(p services.ExportProgress) {
			if p.Status == services.ExportRunning {
				printer.printf("  %3.0f%% %s\n", p.Percent, p.Message)
			}
		})
	defer exp.Close()

	if err := progress.Start(ctx); err != nil {
		return fmt.Errorf("failed to follow export %s: %w", job.JobID, err)
	}

	select {
	case <-exp.Done():
	case s := <-failed:
		// The stream ends after the final event, so a finished job wins.
		if !exp.Progress().Done() {
			return fmt.Errorf("export %s progress stream %s: %s", job.JobID, s.State, s.LastError)
		}
	case <-c.Clock.After(flags.Timeout):
		return fmt.Errorf("export %s did not finish within %s", job.JobID, flags.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	p := exp.Progress()
	if p.Status == services.ExportFailed {
		return fmt.Errorf("export %s failed: %w", job.JobID, p.Err)
	}
	printer.printf("Export complete: %s\n", c.API.URL(p.DownloadURL, nil))
	return nil
}
