package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const configHeader = `# RemoteIO Configuration File
#
# Every key can be overridden with an environment variable named
# REMOTEIO_<SECTION>_<KEY>, for example REMOTEIO_SERVER_PASSWORD.
#
# Clients must use the same key_size as the server they connect to.
# Sizes accept human-readable values such as "64Mi" or "1GB".

`

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path. The server
// identity gets the username "admin" and a freshly generated password,
// which the client section reuses.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateSampleConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateSampleConfig() ([]byte, error) {
	cfg := GetDefaultConfig()
	cfg.Server.Username = "admin"
	cfg.Server.Password = generatePassword()
	cfg.Client.Username = cfg.Server.Username
	cfg.Client.Password = cfg.Server.Password

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample config: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.Write(body)
	return buf.Bytes(), nil
}

// generatePassword returns 32 random hex characters.
func generatePassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
