package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("logging:\n  level: INFO\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath, func(cfg *Config) { changes <- cfg })
	}()

	// Keep rewriting until the watcher is running and picks one up. A write
	// may be observed while the file is still truncated, so wait for the
	// full content.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	var got *Config
	for got == nil || got.Logging.Level != "DEBUG" {
		select {
		case got = <-changes:
		case <-tick.C:
			if err := os.WriteFile(configPath, []byte("logging:\n  level: DEBUG\n"), 0644); err != nil {
				t.Fatalf("Failed to rewrite config file: %v", err)
			}
		case <-deadline:
			t.Fatal("Timed out waiting for reload")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "config.yaml"), func(*Config) {})
	if err == nil {
		t.Fatal("Expected error watching a missing directory")
	}
}
