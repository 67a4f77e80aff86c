package cli

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/logging"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/mockapi"
)

// MockServerFlags holds command-line flags for the mock-server command
type MockServerFlags struct {
	Addr       string
	APIKey     string
	Seed       int
	Interval   time.Duration
	RateLimit  int
	RateWindow time.Duration
	RandSeed   uint64
}

func newMockServerCommand() *cobra.Command {
	flags := &MockServerFlags{}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run an in-memory stand-in for the backend",
		Long: `Serve the backend REST API, the /ws/events push channel and export
progress streams from memory, with simulated camera activity.

Examples:
  hsi mock-server                                  # :8000, a batch every 3s
  hsi mock-server --rate-limit 30 --interval 1s
  hsi --api-url http://localhost:8000 watch        # in another terminal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			level := "info"
			if debug {
				level = "debug"
			}
			logger := logging.New(logging.Options{Name: "mock-server", Level: level, Output: cmd.ErrOrStderr()})

			server := mockapi.New(mockapi.Options{
				APIKey:     flags.APIKey,
				RateLimit:  flags.RateLimit,
				RateWindow: flags.RateWindow,
				Logger:     logger,
			})

			seed := flags.RandSeed
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			rng := rand.New(rand.NewPCG(seed, seed>>1))
			server.Seed(flags.Seed, rng)

			ctx := cmd.Context()
			if flags.Interval > 0 {
				go server.Simulate(ctx, flags.Interval, rng)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Mock backend on %s (seed %d). Press Ctrl+C to stop.\n", flags.Addr, seed)
			return server.Run(ctx, flags.Addr)
		},
	}

	cmd.Flags().StringVar(&flags.Addr, "addr", ":8000", "Listen address")
	cmd.Flags().StringVar(&flags.APIKey, "api-key", "", "Require this X-API-Key")
	cmd.Flags().IntVar(&flags.Seed, "seed", 40, "Number of past events to start with")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 3*time.Second, "Simulated batch interval (0 disables simulation)")
	cmd.Flags().IntVar(&flags.RateLimit, "rate-limit", 0, "REST requests allowed per window (0 disables limiting)")
	cmd.Flags().DurationVar(&flags.RateWindow, "rate-window", time.Minute, "Rate limit window")
	cmd.Flags().Uint64Var(&flags.RandSeed, "rand-seed", 0, "Seed for simulated data (0 picks one)")

	return cmd
}
