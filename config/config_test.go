package config_test

import (
	"os"
	"testing"

	"github.com/itoxiq/triplit/config"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/kv"
	"github.com/itoxiq/triplit/migrate"
	"github.com/itoxiq/triplit/schema"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("TRIPLIT_LOG_LEVEL")
	os.Unsetenv("TRIPLIT_TRACE_SUBSYSTEMS")
	os.Unsetenv("TRIPLIT_CLIENT_ID")

	c := config.Load()
	if c.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.LogLevel)
	}
	if c.TraceSubsystems != "" {
		t.Fatalf("expected no default trace subsystems, got %q", c.TraceSubsystems)
	}
}

func TestEnvOverridesDefault(t *testing.T) {
	os.Setenv("TRIPLIT_LOG_LEVEL", "debug")
	defer os.Unsetenv("TRIPLIT_LOG_LEVEL")

	c := config.Load()
	if c.LogLevel != "debug" {
		t.Fatalf("expected env override to win, got %q", c.LogLevel)
	}
}

func TestResolveRejectsSchemaAndMigrationsTogether(t *testing.T) {
	s := schema.NewSchema()
	_, err := config.Resolve(
		config.WithSchema(s),
		config.WithMigrations([]migrate.Migration{{Version: 1}}),
	)
	if !errkit.Is(err, errkit.InvalidMigrationOperation) {
		t.Fatalf("expected InvalidMigrationOperation, got %v", err)
	}
}

func TestResolveBackfillsClockAndSource(t *testing.T) {
	c, err := config.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Clock == nil {
		t.Fatal("expected a default clock to be assigned")
	}
	if c.Source == nil {
		t.Fatal("expected a default in-memory source to be assigned")
	}
}

func TestResolveHonorsExplicitClientID(t *testing.T) {
	c, err := config.Resolve(func(cfg *config.Config) { cfg.DefaultClientID = "fixed-id" })
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := c.Clock.ClientID(); got != "fixed-id" {
		t.Fatalf("expected clock client id fixed-id, got %q", got)
	}
}

func TestStorageScopesDefaultsToSingleDefaultScope(t *testing.T) {
	c, err := config.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	scopes := c.StorageScopes()
	if _, ok := scopes["default"]; !ok {
		t.Fatalf("expected a \"default\" storage scope, got %+v", scopes)
	}
}

func TestStorageScopesUsesNamedSources(t *testing.T) {
	local := kv.NewMemStore()
	sync := kv.NewMemStore()
	c, err := config.Resolve(config.WithSources(map[string]kv.Store{"local": local, "sync": sync}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	scopes := c.StorageScopes()
	if len(scopes) != 2 {
		t.Fatalf("expected 2 named scopes, got %+v", scopes)
	}
	if _, ok := scopes["local"]; !ok {
		t.Fatal("expected \"local\" scope to be present")
	}
	if _, ok := scopes["sync"]; !ok {
		t.Fatal("expected \"sync\" scope to be present")
	}
}
