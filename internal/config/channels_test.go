package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveChannelsWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.configDir = dir
	cfg.configFile = filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfg.configFile, []byte("provider: googleai\nchannels: general\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.SaveChannels([]string{"general", "vrp", "new_topic"}); err != nil {
		t.Fatalf("SaveChannels: %v", err)
	}

	raw, err := os.ReadFile(cfg.configFile)
	if err != nil {
		t.Fatal(err)
	}
	content := string(raw)
	if !strings.Contains(content, "general,vrp,new_topic") {
		t.Errorf("channel list not written: %s", content)
	}
	// Unrelated keys survive the rewrite.
	if !strings.Contains(content, "googleai") {
		t.Errorf("existing keys lost: %s", content)
	}

	if cfg.Channels != "general,vrp,new_topic" {
		t.Errorf("in-memory channels = %q", cfg.Channels)
	}
	if got := cfg.ChannelList(); len(got) != 3 {
		t.Errorf("ChannelList() = %v", got)
	}
}

func TestSaveChannelsCreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.configDir = dir

	if err := cfg.SaveChannels([]string{"general"}); err != nil {
		t.Fatalf("SaveChannels: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}
