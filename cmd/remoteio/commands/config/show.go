package config

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/remoteio/cmd/remoteio/cmdutil"
	"github.com/marmos91/remoteio/internal/cli/output"
	"github.com/marmos91/remoteio/pkg/config"
)

const maskedSecret = "********"

var (
	showOutput  string
	showSecrets bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective RemoteIO configuration: file, environment and
defaults combined. Passwords are masked unless --show-secrets is given.

Examples:
  # Show config as YAML
  remoteio config show

  # Show as a flat key/value table
  remoteio config show --output table

  # Show specific config file as JSON
  remoteio config show --config /etc/remoteio/config.yaml -o json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json|table)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords in clear text")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cmdutil.ConfigFile)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if !showSecrets {
		maskSecrets(cfg)
	}

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, cfg)
	case output.FormatTable:
		pairs, err := flatten(cfg)
		if err != nil {
			return err
		}
		return output.KeyValues(out, pairs)
	default:
		return output.PrintYAML(out, cfg)
	}
}

func maskSecrets(cfg *config.Config) {
	if cfg.Server.Password != "" {
		cfg.Server.Password = maskedSecret
	}
	if cfg.Client.Password != "" {
		cfg.Client.Password = maskedSecret
	}
}

// flatten turns the YAML form of cfg into sorted dotted-key pairs, such as
// {"server.port", "9090"}.
func flatten(cfg *config.Config) ([][2]string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var pairs [][2]string
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for key, value := range node {
			if prefix != "" {
				key = prefix + "." + key
			}
			if sub, ok := value.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			pairs = append(pairs, [2]string{key, fmt.Sprint(value)})
		}
	}
	walk("", tree)

	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs, nil
}
