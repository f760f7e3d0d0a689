package cmdutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remoteio/internal/cli/prompt"
	"github.com/marmos91/remoteio/pkg/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	oldFlags, oldFile := *Flags, ConfigFile
	t.Cleanup(func() {
		*Flags = oldFlags
		ConfigFile = oldFile
	})
	*Flags = ConnectionFlags{}
}

func TestClientConfigFlagOverrides(t *testing.T) {
	resetFlags(t)

	ConfigFile = filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(ConfigFile, []byte(`
client:
  host: files.internal
  port: 7000
  username: alice
  password: from-file
`), 0o600))

	cfg, err := ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "files.internal", cfg.Client.Host)
	assert.Equal(t, 7000, cfg.Client.Port)
	assert.Equal(t, "alice", cfg.Client.Username)

	Flags.Host = "127.0.0.1"
	Flags.Password = "from-flag"
	Flags.KeySize = 1024
	Flags.Timeout = 3 * time.Second

	cfg, err = ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Client.Host)
	assert.Equal(t, 7000, cfg.Client.Port, "unset flags keep the file value")
	assert.Equal(t, "from-flag", cfg.Client.Password)
	assert.Equal(t, 1024, cfg.Client.KeySize)
	assert.Equal(t, 3*time.Second, cfg.Client.Timeout)
}

func TestClientConfigWithoutFile(t *testing.T) {
	resetFlags(t)
	ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultClientHost, cfg.Client.Host)
	assert.Equal(t, config.DefaultServerPort, cfg.Client.Port)
}

func TestConfigSource(t *testing.T) {
	resetFlags(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	ConfigFile = ""
	assert.Equal(t, DefaultsSource, ConfigSource())

	ConfigFile = "/etc/remoteio/config.yaml"
	assert.Equal(t, "/etc/remoteio/config.yaml", ConfigSource())
}

func TestConnectRequiresPassword(t *testing.T) {
	if prompt.IsInteractive() {
		t.Skip("stdin is a terminal")
	}

	cfg := config.GetDefaultConfig().Client
	cfg.Username = "admin"

	_, err := Connect(context.Background(), &cfg)
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	ctx, cancel = withTimeout(context.Background(), time.Minute)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.True(t, ok)
}
