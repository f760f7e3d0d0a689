package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/remoteio/cmd/remoteio/cmdutil"
	"github.com/marmos91/remoteio/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the RemoteIO configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  remoteio config validate

  # Validate specific config file
  remoteio config validate --config /etc/remoteio/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cmdutil.ConfigFile)
	if err != nil {
		return err
	}

	displayPath := cmdutil.ConfigFile
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if err := cfg.Server.RequireCredentials(); err != nil {
		warnings = append(warnings, "Server credentials not configured - 'remoteio start' will refuse to run")
	}
	if cfg.Server.Root == "" {
		warnings = append(warnings, "server.root is empty - clients can reach the whole filesystem")
	}
	if cfg.Client.KeySize != cfg.Server.KeySize {
		warnings = append(warnings, fmt.Sprintf("client.key_size (%d) differs from server.key_size (%d)",
			cfg.Client.KeySize, cfg.Server.KeySize))
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Server port:     %d\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  Key size:        %d\n", cfg.Server.KeySize)
	_, _ = fmt.Fprintf(out, "  Workers:         %d\n", cfg.Server.Workers)
	_, _ = fmt.Fprintf(out, "  Max frame size:  %s\n", cfg.Server.MaxFrameSize)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
