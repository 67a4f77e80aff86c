package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/config"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/di"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// app carries the global flags to every subcommand and builds the
// dependency container on demand
type app struct {
	configPath string
	overrides  config.Overrides
}

// containerOptions tune how a command wants its container built
type containerOptions struct {
	// quiet discards logging, for commands that own the terminal
	quiet bool
	// notifyOut receives delivered notifications
	notifyOut io.Writer
}

// container builds the dependency container for cmd. The caller must
// call Shutdown on it.
func (a *app) container(cmd *cobra.Command, opts containerOptions) (*di.Container, error) {
	return di.NewContainer(cmd.Context(), di.Options{
		ConfigPath: a.configPath,
		Overrides:  a.overrides,
		LogOutput:  cmd.ErrOrStderr(),
		Quiet:      opts.quiet,
		NotifyOut:  opts.notifyOut,
	})
}

// withContainer runs fn with a container and shuts it down afterwards
func (a *app) withContainer(cmd *cobra.Command, opts containerOptions, fn func(*di.Container) error) (err error) {
	c, err := a.container(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := c.Shutdown(context.WithoutCancel(cmd.Context())); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
	}()
	return fn(c)
}

// NewRootCommand builds the hsi command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "hsi",
		Short: "Home security intelligence client",
		Long: `hsi is a terminal client for the home security intelligence backend.

It follows detections, batch analysis, zone activity and risk scored
events in real time over WebSocket or MQTT, manages the security event
history through the REST API and keeps an offline copy of recent events.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(versionText())

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file path (default is "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().BoolVar(&a.overrides.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.overrides.APIURL, "api-url", "", "Backend REST base URL")
	rootCmd.PersistentFlags().StringVar(&a.overrides.WSURL, "ws-url", "", "Backend WebSocket URL")

	rootCmd.AddCommand(newWatchCommand(a))
	rootCmd.AddCommand(newTailCommand(a))
	rootCmd.AddCommand(newEventsCommand(a))
	rootCmd.AddCommand(newAnomaliesCommand(a))
	rootCmd.AddCommand(newExportCommand(a))
	rootCmd.AddCommand(newOfflineCommand(a))
	rootCmd.AddCommand(newConfigCommand(a))
	rootCmd.AddCommand(newMockServerCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), "hsi version "+Version+"\n"+buildDetails())
		},
	}
}

func versionText() string {
	return "{{.Name}} version {{.Version}}\n" + buildDetails()
}

func buildDetails() string {
	return fmt.Sprintf("Build time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH)
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// Execute runs the command tree and returns the process exit code
func Execute(ctx context.Context) int {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
