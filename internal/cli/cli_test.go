package cli

import (
	"testing"

	"github.com/chanpod/agent-sessions-sub001/internal/config"
)

func TestConfigSetCommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := configSetCmd.RunE(configSetCmd, []string{"model", "test-model"}); err != nil {
		t.Fatalf("config set: %v", err)
	}

	cfg, err := config.LoadFile()
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", cfg.Model)
	}
}

func TestConfigSetCommand_UnknownKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := configSetCmd.RunE(configSetCmd, []string{"bogus", "x"}); err == nil {
		t.Error("unknown key should error")
	}
	// Reset the exit code mutated by the failed command.
	exitCode = ExitSuccess
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"serve":       false,
		"fingerprint": false,
		"cache":       false,
		"config":      false,
		"version":     false,
	}
	rootCmd.AddCommand(serveCmd, fingerprintCmd, cacheCmd, configCmd, versionCmd)
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}
