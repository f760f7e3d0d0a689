// Package cmdutil holds state and helpers shared by the remoteio commands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/remoteio/internal/cli/prompt"
	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/pkg/client"
	"github.com/marmos91/remoteio/pkg/config"
)

// DefaultsSource is reported by ConfigSource when no file is in use.
const DefaultsSource = "defaults"

// ConfigFile is the value of the global --config flag.
var ConfigFile string

// Flags holds the connection flags of the client commands.
var Flags = &ConnectionFlags{}

// ConnectionFlags override the client section of the configuration.
type ConnectionFlags struct {
	Host     string
	Port     int
	User     string
	Password string
	KeySize  int
	Timeout  time.Duration
}

// ErrPasswordRequired is returned when no password is configured and stdin
// is not a terminal to prompt on.
var ErrPasswordRequired = errors.New("no password configured: use --password, client.password or " +
	config.EnvPrefix + "_CLIENT_PASSWORD")

// InitLogger initializes the structured logger from configuration, writing
// to output.
func InitLogger(cfg *config.Config, output string) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// ConfigSource returns the configuration file in use, or DefaultsSource.
func ConfigSource() string {
	if ConfigFile != "" {
		return ConfigFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return DefaultsSource
}

// AddConnectionFlags registers the flags shared by the client commands.
func AddConnectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&Flags.Host, "host", "", "Server host (default: client.host)")
	f.IntVar(&Flags.Port, "port", 0, "Server port (default: client.port)")
	f.StringVarP(&Flags.User, "user", "u", "", "Username (default: client.username)")
	f.StringVar(&Flags.Password, "password", "", "Password (default: client.password, prompted when empty)")
	f.IntVar(&Flags.KeySize, "key-size", 0, "RSA key size in bits, must match the server (default: client.key_size)")
	f.DurationVar(&Flags.Timeout, "timeout", 0, "Timeout for connecting and for the command (default: client.timeout)")
}

// ClientConfig loads the client section and applies flag overrides. It
// does not require a configuration file.
func ClientConfig() (*config.Config, error) {
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return nil, err
	}

	c := &cfg.Client
	if Flags.Host != "" {
		c.Host = Flags.Host
	}
	if Flags.Port != 0 {
		c.Port = Flags.Port
	}
	if Flags.User != "" {
		c.Username = Flags.User
	}
	if Flags.Password != "" {
		c.Password = Flags.Password
	}
	if Flags.KeySize != 0 {
		c.KeySize = Flags.KeySize
	}
	if Flags.Timeout != 0 {
		c.Timeout = Flags.Timeout
	}
	return cfg, nil
}

// Connect opens an authenticated session using the client configuration,
// prompting for the password when needed.
func Connect(ctx context.Context, cfg *config.ClientConfig) (*client.Session, error) {
	password := cfg.Password
	if password == "" {
		if !prompt.IsInteractive() {
			return nil, ErrPasswordRequired
		}
		p, err := prompt.Password(fmt.Sprintf("Password for %s@%s", cfg.Username, cfg.Host))
		if err != nil {
			return nil, err
		}
		password = p
	}

	s := client.New(cfg.Host, cfg.Port,
		client.WithDialTimeout(cfg.Timeout),
		client.WithMaxFrameSize(cfg.MaxFrameSize),
	)

	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := s.Start(ctx, cfg.Username, password, cfg.KeySize); err != nil {
		return nil, err
	}
	return s, nil
}

// RunSession connects, runs fn under the command timeout and closes the
// session. Client log output goes to stderr so stdout carries only results.
func RunSession(cmd *cobra.Command, fn func(ctx context.Context, s *client.Session) error) error {
	cfg, err := ClientConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg, "stderr"); err != nil {
		return err
	}

	s, err := Connect(cmd.Context(), &cfg.Client)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx, cancel := withTimeout(cmd.Context(), cfg.Client.Timeout)
	defer cancel()
	return fn(ctx, s)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
