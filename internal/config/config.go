package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/cache"
	"github.com/dropDatabas3/rebano/internal/notify"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/reconcile"
	"github.com/dropDatabas3/rebano/internal/retry"
	"github.com/dropDatabas3/rebano/internal/store"
	"github.com/dropDatabas3/rebano/internal/verify"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env  string `yaml:"env"`
		Name string `yaml:"name"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Storage struct {
		Driver string `yaml:"driver"` // postgres | rest | memory
		DSN    string `yaml:"dsn"`

		Postgres struct {
			MaxOpenConns  int    `yaml:"max_open_conns"`
			MaxIdleConns  int    `yaml:"max_idle_conns"`
			IdentityTable string `yaml:"identity_table"`
		} `yaml:"postgres"`

		REST struct {
			URL        string        `yaml:"url"`
			ServiceKey string        `yaml:"service_key"`
			JWTSecret  string        `yaml:"jwt_secret"`
			Timeout    time.Duration `yaml:"timeout"`
		} `yaml:"rest"`

		Memory struct {
			SnapshotPath string `yaml:"snapshot_path"`
		} `yaml:"memory"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		DefaultTTL time.Duration `yaml:"default_ttl"`
		// IdentityTTL > 0 activa el cache de lectura de identidades.
		IdentityTTL time.Duration `yaml:"identity_ttl"`
	} `yaml:"cache"`

	Lock struct {
		Key string        `yaml:"key"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"lock"`

	Audit struct {
		PageSize int `yaml:"page_size"`
		MaxPages int `yaml:"max_pages"` // 0 = sin corte
	} `yaml:"audit"`

	Reconcile struct {
		DefaultCategory string           `yaml:"default_category"`
		Concurrency     int              `yaml:"concurrency"`
		WriteTimeout    time.Duration    `yaml:"write_timeout"`
		SampleSize      int              `yaml:"sample_size"`
		SkipTokenCheck  bool             `yaml:"skip_token_check"`
		Policy          reconcile.Policy `yaml:"policy"` // policy de serve y de verify sin flags
	} `yaml:"reconcile"`

	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
		Jitter      float64       `yaml:"jitter"`
	} `yaml:"retry"`

	Verify struct {
		ExpectedReductions map[string]int `yaml:"expected_reductions"`
	} `yaml:"verify"`

	Notify struct {
		Mode          string            `yaml:"mode"` // never | always | on_failure
		To            []string          `yaml:"to"`
		SubjectPrefix string            `yaml:"subject_prefix"`
		SMTP          notify.SMTPConfig `yaml:"smtp"`
	} `yaml:"notify"`

	Server struct {
		Addr       string        `yaml:"addr"`
		AdminToken string        `yaml:"admin_token"`
		AuditTTL   time.Duration `yaml:"audit_ttl"`
		// ScheduleInterval > 0 corre verificaciones periódicas con Reconcile.Policy.
		ScheduleInterval time.Duration `yaml:"schedule_interval"`
	} `yaml:"server"`
}

// Default retorna una configuración usable sin archivo: store en memoria,
// cache en memoria y la policy vacía.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "rebano"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Postgres.IdentityTable == "" {
		c.Storage.Postgres.IdentityTable = "auth.users"
	}
	if c.Storage.Postgres.MaxOpenConns == 0 {
		c.Storage.Postgres.MaxOpenConns = 10
	}
	if c.Storage.REST.Timeout == 0 {
		c.Storage.REST.Timeout = 15 * time.Second
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "rebano"
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 10 * time.Minute
	}
	if c.Audit.PageSize == 0 {
		c.Audit.PageSize = 500
	}
	if c.Reconcile.DefaultCategory == "" {
		c.Reconcile.DefaultCategory = "Members"
	}
	if c.Reconcile.Concurrency == 0 {
		c.Reconcile.Concurrency = 4
	}
	if c.Reconcile.WriteTimeout == 0 {
		c.Reconcile.WriteTimeout = 10 * time.Second
	}
	if c.Reconcile.SampleSize == 0 {
		c.Reconcile.SampleSize = 5
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = retry.Default.MaxAttempts
		c.Retry.BaseDelay = retry.Default.BaseDelay
		c.Retry.MaxDelay = retry.Default.MaxDelay
		c.Retry.Jitter = retry.Default.Jitter
	}
	if c.Notify.Mode == "" {
		c.Notify.Mode = string(notify.ModeOnFailure)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.AuditTTL == 0 {
		c.Server.AuditTTL = 30 * time.Second
	}
}

// Load lee el YAML (si path no está vacío), completa defaults, aplica
// overrides de entorno y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()

	// El snapshot relativo se resuelve respecto al directorio del YAML.
	if p := strings.TrimSpace(c.Storage.Memory.SnapshotPath); p != "" && path != "" && !filepath.IsAbs(p) {
		c.Storage.Memory.SnapshotPath = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvStr("POSTGRES_IDENTITY_TABLE"); ok {
		c.Storage.Postgres.IdentityTable = v
	}
	if v, ok := getEnvStr("REST_URL"); ok {
		c.Storage.REST.URL = v
	}
	if v, ok := getEnvStr("REST_SERVICE_KEY"); ok {
		c.Storage.REST.ServiceKey = v
	}
	if v, ok := getEnvStr("REST_JWT_SECRET"); ok {
		c.Storage.REST.JWTSecret = v
	}
	if v, ok := getEnvDur("REST_TIMEOUT"); ok {
		c.Storage.REST.Timeout = v
	}
	if v, ok := getEnvStr("MEMORY_SNAPSHOT_PATH"); ok {
		c.Storage.Memory.SnapshotPath = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvDur("CACHE_IDENTITY_TTL"); ok {
		c.Cache.IdentityTTL = v
	}

	// LOCK
	if v, ok := getEnvStr("LOCK_KEY"); ok {
		c.Lock.Key = v
	}
	if v, ok := getEnvDur("LOCK_TTL"); ok {
		c.Lock.TTL = v
	}

	// AUDIT
	if v, ok := getEnvInt("AUDIT_PAGE_SIZE"); ok {
		c.Audit.PageSize = v
	}
	if v, ok := getEnvInt("AUDIT_MAX_PAGES"); ok {
		c.Audit.MaxPages = v
	}

	// RECONCILE
	if v, ok := getEnvStr("RECONCILE_DEFAULT_CATEGORY"); ok {
		c.Reconcile.DefaultCategory = v
	}
	if v, ok := getEnvInt("RECONCILE_CONCURRENCY"); ok {
		c.Reconcile.Concurrency = v
	}
	if v, ok := getEnvDur("RECONCILE_WRITE_TIMEOUT"); ok {
		c.Reconcile.WriteTimeout = v
	}
	if v, ok := getEnvBool("RECONCILE_SKIP_TOKEN_CHECK"); ok {
		c.Reconcile.SkipTokenCheck = v
	}

	// RETRY
	if v, ok := getEnvInt("RETRY_MAX_ATTEMPTS"); ok {
		c.Retry.MaxAttempts = v
	}
	if v, ok := getEnvDur("RETRY_BASE_DELAY"); ok {
		c.Retry.BaseDelay = v
	}

	// NOTIFY + SMTP
	if v, ok := getEnvStr("NOTIFY_MODE"); ok {
		c.Notify.Mode = strings.ToLower(v)
	}
	if v, ok := getEnvCSV("NOTIFY_TO"); ok {
		c.Notify.To = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.Notify.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.Notify.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.Notify.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.Notify.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.Notify.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.Notify.SMTP.TLSMode = strings.ToLower(v) // auto|starttls|ssl|none
	}
	if v, ok := getEnvBool("SMTP_INSECURE_SKIP_VERIFY"); ok {
		c.Notify.SMTP.InsecureSkipVerify = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("ADMIN_TOKEN"); ok {
		c.Server.AdminToken = v
	}
	if v, ok := getEnvDur("SERVER_AUDIT_TTL"); ok {
		c.Server.AuditTTL = v
	}
	if v, ok := getEnvDur("SCHEDULE_INTERVAL"); ok {
		c.Server.ScheduleInterval = v
	}
}

// Validate junta todos los problemas en un único error.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			bad("storage.dsn is required for postgres")
		}
	case "rest":
		if c.Storage.REST.URL == "" {
			bad("storage.rest.url is required for rest")
		}
		if c.Storage.REST.ServiceKey == "" && c.Storage.REST.JWTSecret == "" {
			bad("storage.rest needs service_key or jwt_secret")
		}
	case "memory":
	default:
		bad("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			bad("cache.redis.addr is required for redis")
		} else if _, _, err := splitAddr(c.Cache.Redis.Addr); err != nil {
			bad("cache.redis.addr: %v", err)
		}
	default:
		bad("unknown cache.kind %q", c.Cache.Kind)
	}

	if c.Audit.PageSize < 0 || c.Audit.MaxPages < 0 {
		bad("audit.page_size and audit.max_pages must be >= 0")
	}
	if c.Audit.MaxPages > 0 && c.Audit.PageSize == 0 {
		bad("audit.max_pages needs audit.page_size")
	}
	if c.Reconcile.Concurrency < 1 {
		bad("reconcile.concurrency must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		bad("retry.max_attempts must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		bad("retry.jitter must be within [0,1]")
	}
	if _, err := verify.ParseExpectations(c.Verify.ExpectedReductions); err != nil {
		errs = append(errs, fmt.Errorf("config: verify.expected_reductions: %w", err))
	}
	if !notify.Mode(c.Notify.Mode).Valid() {
		bad("unknown notify.mode %q", c.Notify.Mode)
	}
	if c.Notify.Mode != string(notify.ModeNever) && len(c.Notify.To) > 0 && c.Notify.SMTP.Host == "" {
		bad("notify.smtp.host is required when notify.to is set")
	}
	if strings.EqualFold(c.App.Env, "prod") && c.Server.AdminToken == "" {
		bad("server.admin_token is required in prod")
	}
	return errors.Join(errs...)
}

func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", p)
	}
	return host, port, nil
}

// ---- Conversión a opciones de cada componente ----

// StoreConfig arma la configuración del adapter elegido.
func (c *Config) StoreConfig() store.AdapterConfig {
	return store.AdapterConfig{
		Name:          c.Storage.Driver,
		DSN:           c.Storage.DSN,
		MaxOpenConns:  c.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:  c.Storage.Postgres.MaxIdleConns,
		IdentityTable: c.Storage.Postgres.IdentityTable,
		BaseURL:       c.Storage.REST.URL,
		ServiceKey:    c.Storage.REST.ServiceKey,
		JWTSecret:     c.Storage.REST.JWTSecret,
		Timeout:       c.Storage.REST.Timeout,
		SnapshotPath:  c.Storage.Memory.SnapshotPath,
	}
}

// CacheConfig arma la configuración del cliente de cache.
func (c *Config) CacheConfig() cache.Config {
	cfg := cache.Config{
		Driver:     c.Cache.Kind,
		Password:   c.Cache.Redis.Password,
		DB:         c.Cache.Redis.DB,
		Prefix:     c.Cache.Redis.Prefix,
		DefaultTTL: c.Cache.DefaultTTL,
	}
	if c.Cache.Kind == "redis" {
		cfg.Host, cfg.Port, _ = splitAddr(c.Cache.Redis.Addr)
	}
	return cfg
}

// RetryPolicy política de reintentos de escrituras y envíos.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

func (c *Config) AuditOptions() audit.Options {
	return audit.Options{Page: store.PageOptions{PageSize: c.Audit.PageSize, MaxPages: c.Audit.MaxPages}}
}

// EngineOptions opciones del engine. El cliente de locks lo completa quien
// construye el engine.
func (c *Config) EngineOptions() reconcile.Options {
	return reconcile.Options{
		DefaultCategory: c.Reconcile.DefaultCategory,
		Concurrency:     c.Reconcile.Concurrency,
		WriteTimeout:    c.Reconcile.WriteTimeout,
		Retry:           c.RetryPolicy(),
		SampleSize:      c.Reconcile.SampleSize,
		SkipTokenCheck:  c.Reconcile.SkipTokenCheck,
		LockKey:         c.Lock.Key,
		LockTTL:         c.Lock.TTL,
	}
}

func (c *Config) NotifyOptions() notify.Options {
	return notify.Options{
		To:            c.Notify.To,
		Mode:          notify.Mode(c.Notify.Mode),
		SubjectPrefix: c.Notify.SubjectPrefix,
		Retry:         c.RetryPolicy(),
	}
}

// VerifyOptions opciones del harness. Validate ya rechazó categorías desconocidas.
func (c *Config) VerifyOptions() verify.Options {
	exp, _ := verify.ParseExpectations(c.Verify.ExpectedReductions)
	return verify.Options{ExpectedReductions: exp}
}

func (c *Config) LoggerConfig(version string) logger.Config {
	return logger.Config{Env: c.App.Env, Level: c.Log.Level, ServiceName: c.App.Name, Version: version}
}
