package cli

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/config"
)

// originFields are the settings whose source config show --origins reports
var originFields = []string{
	"api.base_url",
	"api.api_key",
	"stream.transport",
	"stream.websocket_url",
	"stream.mqtt_broker",
	"offline.enabled",
	"offline.path",
	"log.level",
}

func newConfigCommand(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
		Long: `Inspect the effective hsi configuration.

Settings are merged from defaults, the config file, HSI_* environment
variables and command line flags, later sources winning.`,
	}

	configCmd.AddCommand(newConfigShowCommand(a))
	configCmd.AddCommand(newConfigPathCommand(a))

	return configCmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	var origins bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := config.NewRepository(a.configPath, a.overrides, hclog.NewNullLogger())
			cfg, err := repo.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			masked := *cfg
			masked.API.APIKey = maskAPIKey(cfg.API.APIKey)
			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, string(data))
			if origins {
				fmt.Fprintln(out, "\nSources:")
				for _, field := range originFields {
					fmt.Fprintf(out, "  %-22s %s\n", field, repo.Origin(field))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&origins, "origins", false, "Also print which source set each key setting")
	return cmd
}

// maskAPIKey masks the API key for display
func maskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "(not set)"
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

func newConfigPathCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			repo := config.NewRepository(a.configPath, a.overrides, hclog.NewNullLogger())
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file path: %s\n", repo.Path())
		},
	}
}
