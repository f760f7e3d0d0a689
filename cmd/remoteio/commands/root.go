// Package commands implements the remoteio CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/remoteio/cmd/remoteio/cmdutil"
	"github.com/marmos91/remoteio/cmd/remoteio/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "remoteio",
	Short: "RemoteIO - remote file access over an encrypted channel",
	Long: `RemoteIO serves a host's filesystem to authenticated clients over a
TCP connection upgraded to an encrypted channel.

The same binary runs the server ("remoteio start") and the client commands
(get, put, rm, mkdir, rmdir, exists, size, ls).

Use "remoteio [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.ConfigFile, "config", "", "config file (default: $XDG_CONFIG_HOME/remoteio/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmdirCmd)
	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(lsCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
