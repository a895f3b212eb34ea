package config

import (
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Postgres.MaintenanceDB != "postgres" {
		t.Errorf("maintenanceDB: got %s", c.Postgres.MaintenanceDB)
	}
	if !c.Postgres.Pooling {
		t.Error("pooling should default on")
	}
	if c.Postgres.DefaultSchema != "public" {
		t.Errorf("defaultSchema: got %s", c.Postgres.DefaultSchema)
	}
	if c.Server.TenantCookie != "tenant_id" {
		t.Errorf("tenantCookie: got %s", c.Server.TenantCookie)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"POSTGRES_URI":          "postgres://u:p@db.example:5432",
		"PG_MAINTENANCE_DB":     "template1",
		"PG_MIN_CONNECTION":     "2",
		"PG_MAX_CONNECTION":     "20",
		"PG_CONNECTION_TIMEOUT": "10",
		"PG_POOL_RECYCLE":       "600",
		"PG_MAX_RETRY":          "7",
		"PG_RETRY_QUERY":        "true",
		"PG_ANTI_PERSISTENT":    "true",
		"PG_ENABLE_POOLING":     "false",
		"PG_DEFAULT_SCHEMA":     "tenantdata",
		"MODULE_NAME":           "unit-test",
		"DEFER_GEN_REFRESH":     "true",
		"MODELS_PATH":           "/tmp/models",
		"MIGRATIONS_PATH":       "/tmp/migrations",
		"SERVER_PORT":           "9090",
		"TENANT_COOKIE":         "org_id",
		"JWT_KEY":               "secret",
		"LOG_LEVEL":             "debug",
	}
	look := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	c := Default()
	c.applyEnv(look)

	if c.Postgres.URI != "postgres://u:p@db.example:5432" {
		t.Errorf("uri: got %s", c.Postgres.URI)
	}
	if c.Postgres.MaintenanceDB != "template1" {
		t.Errorf("maintenanceDB: got %s", c.Postgres.MaintenanceDB)
	}
	if c.Postgres.MinConns != 2 || c.Postgres.MaxConns != 20 {
		t.Errorf("conns: got %d..%d", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	if c.Postgres.ConnectTimeout != 10 || c.Postgres.PoolRecycle != 600 {
		t.Errorf("timeouts: got %d, %d", c.Postgres.ConnectTimeout, c.Postgres.PoolRecycle)
	}
	if c.Postgres.MaxRetry != 7 {
		t.Errorf("maxRetry: got %d", c.Postgres.MaxRetry)
	}
	if !c.Postgres.RetryQuery || !c.Postgres.AntiPersistent || c.Postgres.Pooling {
		t.Errorf(
			"flags: retry=%v antiPersistent=%v pooling=%v",
			c.Postgres.RetryQuery, c.Postgres.AntiPersistent, c.Postgres.Pooling,
		)
	}
	if c.Postgres.DefaultSchema != "tenantdata" {
		t.Errorf("defaultSchema: got %s", c.Postgres.DefaultSchema)
	}
	if c.Module.Name != "unit-test" || !c.Module.DeferGenRefresh {
		t.Errorf("module: %+v", c.Module)
	}
	if c.Paths.ModelsDir != "/tmp/models" || c.Paths.MigrationsDir != "/tmp/migrations" {
		t.Errorf("paths: %+v", c.Paths)
	}
	if c.Server.Port != 9090 || c.Server.TenantCookie != "org_id" || c.Server.JWTKey != "secret" {
		t.Errorf("server: %+v", c.Server)
	}
	if c.Server.LogLevel != "debug" {
		t.Errorf("logLevel: got %s", c.Server.LogLevel)
	}
}

func TestApplyEnv_UnsetKeysKeepDefaults(t *testing.T) {
	c := Default()
	c.applyEnv(func(string) (string, bool) { return "", false })

	want := Default()
	if c.Postgres != want.Postgres || c.Module != want.Module || c.Server != want.Server {
		t.Errorf("config changed without environment: %+v", c)
	}
}

func TestValidate(t *testing.T) {
	t.Run("a missing URI is an error", func(t *testing.T) {
		c := Default()
		if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "POSTGRES_URI") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("a trailing slash is trimmed", func(t *testing.T) {
		c := Default()
		c.Postgres.URI = "postgres://db.example:5432/"
		if err := c.Validate(); err != nil {
			t.Fatal(err)
		}
		if c.Postgres.URI != "postgres://db.example:5432" {
			t.Errorf("uri: got %s", c.Postgres.URI)
		}
	})

	t.Run("a non-postgres scheme is rejected", func(t *testing.T) {
		c := Default()
		c.Postgres.URI = "mysql://db.example:3306"
		if err := c.Validate(); err == nil {
			t.Error("no error for mysql scheme")
		}
	})

	t.Run("the postgresql scheme spelling is accepted", func(t *testing.T) {
		c := Default()
		c.Postgres.URI = "postgresql://db.example:5432"
		if err := c.Validate(); err != nil {
			t.Error(err)
		}
	})

	t.Run("inverted pool bounds are rejected", func(t *testing.T) {
		c := Default()
		c.Postgres.URI = "postgres://db.example:5432"
		c.Postgres.MinConns = 10
		c.Postgres.MaxConns = 2
		if err := c.Validate(); err == nil {
			t.Error("no error for maxConns < minConns")
		}
	})
}
