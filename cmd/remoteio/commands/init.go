package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/remoteio/cmd/remoteio/cmdutil"
	"github.com/marmos91/remoteio/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample RemoteIO configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/remoteio/config.yaml.
Use --config to specify a custom path.

A random server password is generated and copied into the client section,
so a client on the same machine can connect without further setup.

Examples:
  # Initialize with default location
  remoteio init

  # Initialize with custom path
  remoteio init --config /etc/remoteio/config.yaml

  # Force overwrite existing config
  remoteio init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	var configPath string
	var err error

	if cmdutil.ConfigFile != "" {
		err = config.InitConfigToPath(cmdutil.ConfigFile, initForce)
		configPath = cmdutil.ConfigFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Review server.username, server.password and server.root")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: remoteio start")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: remoteio start --config %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nSecurity note:")
	_, _ = fmt.Fprintln(out, "  The generated password is stored in plain text in the file above.")
	_, _ = fmt.Fprintf(out, "  To keep it out of the file, set %s_SERVER_PASSWORD instead.\n", config.EnvPrefix)
	return nil
}
