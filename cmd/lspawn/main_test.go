package main

import (
	"testing"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/config"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/lua"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	err := applyFlags(cfg, options{strategy: "poll", format: "json", logLevel: "debug"})
	if err != nil {
		t.Fatalf("applyFlags() = %v", err)
	}
	if cfg.Reactor.Strategy != "poll" || cfg.Output.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Output.Color != "auto" {
		t.Errorf("unset flag changed Color to %q", cfg.Output.Color)
	}

	if err := applyFlags(config.Default(), options{strategy: "kqueue"}); err == nil {
		t.Error("applyFlags() accepted an unknown strategy")
	}
}

func TestCapabilities(t *testing.T) {
	caps, err := capabilities([]string{"process.spawn", "shell"})
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 || caps[0] != lua.CapabilityProcess || caps[1] != lua.CapabilityShell {
		t.Errorf("capabilities() = %v", caps)
	}
	if _, err := capabilities([]string{"network"}); err == nil {
		t.Error("capabilities() accepted an unknown name")
	}
}
