package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/notify"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rebano.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "memory", c.Cache.Kind)
	assert.Equal(t, 3, c.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, c.Reconcile.WriteTimeout)
	assert.Equal(t, 4, c.Reconcile.Concurrency)
	assert.Equal(t, 500, c.Audit.PageSize)
	assert.Equal(t, "Members", c.Reconcile.DefaultCategory)
	assert.Equal(t, 10*time.Minute, c.Lock.TTL)
	assert.Equal(t, string(notify.ModeOnFailure), c.Notify.Mode)
	assert.False(t, c.Reconcile.Policy.DeleteOrphanedProfiles)
}

func TestLoad_YAML(t *testing.T) {
	p := writeYAML(t, `
app:
  env: staging
storage:
  driver: postgres
  dsn: postgres://u:p@localhost:5432/app
  postgres:
    max_open_conns: 20
cache:
  kind: redis
  redis:
    addr: redis.local:6380
  identity_ttl: 2m
reconcile:
  concurrency: 8
  write_timeout: 3s
  policy:
    create_missing_profile: true
    deduplicate_members: true
verify:
  expected_reductions:
    membersUnlinked: 1
notify:
  mode: always
  to: [ops@x.com]
  smtp:
    host: smtp.x.com
    port: 465
    tls_mode: ssl
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "staging", c.App.Env)
	assert.Equal(t, "postgres", c.StoreConfig().Name)
	assert.Equal(t, 20, c.StoreConfig().MaxOpenConns)
	assert.Equal(t, "auth.users", c.StoreConfig().IdentityTable)

	cc := c.CacheConfig()
	assert.Equal(t, "redis", cc.Driver)
	assert.Equal(t, "redis.local", cc.Host)
	assert.Equal(t, 6380, cc.Port)
	assert.Equal(t, 2*time.Minute, c.Cache.IdentityTTL)

	eo := c.EngineOptions()
	assert.Equal(t, 8, eo.Concurrency)
	assert.Equal(t, 3*time.Second, eo.WriteTimeout)
	assert.Equal(t, 3, eo.Retry.MaxAttempts)

	assert.True(t, c.Reconcile.Policy.CreateMissingProfile)
	assert.True(t, c.Reconcile.Policy.DeduplicateMembers)
	assert.False(t, c.Reconcile.Policy.CreateMissingMember)

	assert.Equal(t, map[audit.Category]int{audit.MembersUnlinked: 1}, c.VerifyOptions().ExpectedReductions)

	no := c.NotifyOptions()
	assert.Equal(t, notify.ModeAlways, no.Mode)
	assert.Equal(t, []string{"ops@x.com"}, no.To)
	assert.Equal(t, "ssl", c.Notify.SMTP.TLSMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeYAML(t, `
storage:
  driver: memory
reconcile:
  default_category: Others
`)
	t.Setenv("STORAGE_DRIVER", "REST")
	t.Setenv("REST_URL", "https://proj.example.co")
	t.Setenv("REST_JWT_SECRET", "s3cret")
	t.Setenv("RECONCILE_DEFAULT_CATEGORY", "Pastors")
	t.Setenv("RECONCILE_CONCURRENCY", "2")
	t.Setenv("NOTIFY_TO", "a@x.com, b@x.com,")
	t.Setenv("SMTP_HOST", "smtp.x.com")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("AUDIT_MAX_PAGES", "not-a-number")

	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "rest", c.Storage.Driver)
	assert.Equal(t, "https://proj.example.co", c.StoreConfig().BaseURL)
	assert.Equal(t, "s3cret", c.StoreConfig().JWTSecret)
	assert.Equal(t, "Pastors", c.Reconcile.DefaultCategory)
	assert.Equal(t, 2, c.Reconcile.Concurrency)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, c.Notify.To)
	assert.Equal(t, "debug", c.Log.Level)
	// valores que no parsean se ignoran
	assert.Equal(t, 0, c.Audit.MaxPages)
}

func TestLoad_SnapshotPathRelativeToFile(t *testing.T) {
	p := writeYAML(t, `
storage:
  driver: memory
  memory:
    snapshot_path: data/snap.json
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(p), "data", "snap.json"), c.Storage.Memory.SnapshotPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeYAML(t, "storage: [nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"rest without credentials", func(c *Config) {
			c.Storage.Driver = "rest"
			c.Storage.REST.URL = "https://x"
		}, "service_key or jwt_secret"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage.driver"},
		{"redis bad addr", func(c *Config) {
			c.Cache.Kind = "redis"
			c.Cache.Redis.Addr = "no-port"
		}, "cache.redis.addr"},
		{"max pages without page size", func(c *Config) {
			c.Audit.PageSize = 0
			c.Audit.MaxPages = 2
		}, "audit.max_pages"},
		{"jitter out of range", func(c *Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"unknown category", func(c *Config) {
			c.Verify.ExpectedReductions = map[string]int{"bogus": 1}
		}, "unknown category"},
		{"bad notify mode", func(c *Config) { c.Notify.Mode = "sometimes" }, "notify.mode"},
		{"recipients without smtp", func(c *Config) { c.Notify.To = []string{"a@x.com"} }, "notify.smtp.host"},
		{"prod without admin token", func(c *Config) { c.App.Env = "prod" }, "admin_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	c := Default()
	c.Storage.Driver = "mongo"
	c.Cache.Kind = "memcached"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "cache.kind")
}
