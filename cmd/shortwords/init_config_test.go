package main

import (
	"path/filepath"
	"testing"

	"github.com/japaniel/shortwords/pkg/config"
	"github.com/urfave/cli/v2"
)

func TestInitConfigWritesEffectiveConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "shortwords.toml")
	run := func(args ...string) error {
		app := newApp()
		app.ExitErrHandler = func(*cli.Context, error) {}
		return app.Run(append([]string{"shortwords", "--config", out, "--db", "custom.db", "--log-level", "error"}, args...))
	}

	if err := run("init-config"); err != nil {
		t.Fatalf("init-config: %v", err)
	}
	cfg, err := config.Load(out)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.DB.Path != "custom.db" {
		t.Fatalf("expected db path custom.db, got %q", cfg.DB.Path)
	}
	if cfg.Ingest.Workers != config.Default().Ingest.Workers {
		t.Fatalf("expected default workers, got %d", cfg.Ingest.Workers)
	}

	if err := run("init-config"); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
	if err := run("init-config", "--force"); err != nil {
		t.Fatalf("init-config --force: %v", err)
	}
}
