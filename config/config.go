// Package config assembles the options a DB is constructed with
// (spec.md §6 "Construction": `new DB({ schema?, migrations?, source?,
// sources?, tenantId?, clock?, variables? })`), plus the handful of
// environment-variable defaults that make sense for an embedded
// library. Precedence is three-tier, lowest first: environment
// defaults, then constructor Options, then values an embedder sets
// directly on the returned Config — matching the teacher's
// env-variables-then-flags-then-database hierarchy with the database
// tier dropped (there is no admin entity store to own it here).
package config

import (
	"os"

	"github.com/google/uuid"
	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/kv"
	"github.com/itoxiq/triplit/migrate"
	"github.com/itoxiq/triplit/schema"
)

var errBothSchemaAndMigrations = errkit.New(errkit.InvalidMigrationOperation, "config: providing both Schema and Migrations is an error")

// Config holds the fully-resolved set of options a DB is built from.
type Config struct {
	// Schema pins the DB to a fixed schema at construction. Mutually
	// exclusive with Migrations (spec.md §6).
	Schema *schema.Schema

	// Migrations seeds the DB with a migration chain to apply up to
	// its latest version at construction. Mutually exclusive with
	// Schema.
	Migrations []migrate.Migration

	// Source is the single KV storage scope used when Sources is
	// empty. Defaults to an in-memory store if neither is set.
	Source kv.Store

	// Sources names multiple coexisting storage scopes (spec.md §6
	// "Persisted layout": "local vs. sync"), keyed by scope name.
	// Transact restricts participation to a subset of these names.
	Sources map[string]kv.Store

	// TenantID namespaces every entity id this DB mints, so multiple
	// tenants can share the same underlying storage scopes.
	TenantID string

	// Clock produces the commit timestamps for this DB's
	// transactions. Defaults to an HLC seeded from DefaultClientID.
	Clock clock.Clock

	// Variables is the process-wide session-variable scope `$name`
	// leaves resolve against (spec.md §5 "Shared resources").
	Variables map[string]interface{}

	// LogLevel is the logger's minimum severity ("trace", "debug",
	// "info", "warn", "error").
	// Environment: TRIPLIT_LOG_LEVEL
	// Default: "info"
	LogLevel string

	// TraceSubsystems is a comma-separated list of logger subsystems
	// to enable TRACE-level output for (e.g. "migrate,store").
	// Environment: TRIPLIT_TRACE_SUBSYSTEMS
	// Default: "" (none enabled)
	TraceSubsystems string

	// DefaultClientID seeds the default clock's ClientID when no
	// Option supplies one.
	// Environment: TRIPLIT_CLIENT_ID
	// Default: "" (Load leaves this empty; Resolve then gives the default
	// clock a random "client-"-prefixed UUID string of its own).
	DefaultClientID string
}

// Option mutates a Config under construction. Options are applied in
// the order given, after environment defaults and before the zero-value
// backfill in Resolve.
type Option func(*Config)

// WithSchema pins the DB to a fixed schema. Errors if Migrations is
// also set (checked by Resolve, not here, since Option application
// order shouldn't matter for this validation).
func WithSchema(s *schema.Schema) Option {
	return func(c *Config) { c.Schema = s }
}

// WithMigrations seeds the DB with a migration chain.
func WithMigrations(migrations []migrate.Migration) Option {
	return func(c *Config) { c.Migrations = migrations }
}

// WithSource sets the single default storage scope.
func WithSource(store kv.Store) Option {
	return func(c *Config) { c.Source = store }
}

// WithSources sets multiple named storage scopes.
func WithSources(sources map[string]kv.Store) Option {
	return func(c *Config) { c.Sources = sources }
}

// WithTenantID namespaces entity ids minted by this DB.
func WithTenantID(id string) Option {
	return func(c *Config) { c.TenantID = id }
}

// WithClock overrides the logical clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithVariables seeds the process-wide session-variable scope.
func WithVariables(vars map[string]interface{}) Option {
	return func(c *Config) { c.Variables = vars }
}

// Load builds a Config from environment defaults (the lowest-priority
// tier), ready for Option overrides.
//
// Environment variables:
//
//	TRIPLIT_LOG_LEVEL         - logger minimum severity (default "info")
//	TRIPLIT_TRACE_SUBSYSTEMS  - comma-separated logger trace subsystems
//	TRIPLIT_CLIENT_ID         - default clock client id
func Load() *Config {
	return &Config{
		LogLevel:        getEnv("TRIPLIT_LOG_LEVEL", "info"),
		TraceSubsystems: getEnv("TRIPLIT_TRACE_SUBSYSTEMS", ""),
		DefaultClientID: getEnv("TRIPLIT_CLIENT_ID", ""),
		Variables:       map[string]interface{}{},
	}
}

// Resolve applies opts over a freshly Load-ed Config (so explicit
// Options, the middle priority tier, win over environment defaults),
// then backfills anything still unset with package defaults (Source,
// Clock). It returns InvalidMigrationOperation if both Schema and
// Migrations are set, mirroring spec.md §6: "Providing both `schema`
// and `migrations` is an error."
func Resolve(opts ...Option) (*Config, error) {
	c := Load()
	for _, opt := range opts {
		opt(c)
	}

	if c.Schema != nil && len(c.Migrations) > 0 {
		return nil, errBothSchemaAndMigrations
	}

	if c.Clock == nil {
		clientID := c.DefaultClientID
		if clientID == "" {
			clientID = randomClientID()
		}
		c.Clock = clock.NewHLC(clientID)
	}

	if c.Source == nil && len(c.Sources) == 0 {
		c.Source = kv.NewMemStore()
	}

	return c, nil
}

// StorageScopes returns the named storage scopes this Config resolves
// to: Sources verbatim if set, otherwise a single "default" scope
// wrapping Source.
func (c *Config) StorageScopes() map[string]kv.Store {
	if len(c.Sources) > 0 {
		return c.Sources
	}
	return map[string]kv.Store{"default": c.Source}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// randomClientID derives a clock client id the same way
// triple.GenerateExternalID mints entity ids, so a caller who doesn't
// supply a ClientID still gets one unique enough not to collide with
// another process's clock.
func randomClientID() string {
	return "client-" + uuid.NewString()
}
