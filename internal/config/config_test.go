package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5000, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 100, cfg.WebSocket.BufferSize)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.True(t, cfg.Consultation.EnforceTransitions)
	assert.Equal(t, 100, cfg.RateLimit.PerMinute)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)

	assert.Error(t, cfg.Validate(), "defaults carry no JWT secret")
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":            func(c *Config) { c.HTTP.Port = 0 },
		"secret":          func(c *Config) { c.Auth.JWTSecret = "" },
		"ping vs pong":    func(c *Config) { c.WebSocket.PingInterval = c.WebSocket.PongWait },
		"buffer":          func(c *Config) { c.WebSocket.BufferSize = 0 },
		"driver":          func(c *Config) { c.Store.Driver = "postgres" },
		"mongo uri":       func(c *Config) { c.Store.Driver = DriverMongo },
		"sqlite path":     func(c *Config) { c.Database.Path = "" },
		"negative limits": func(c *Config) { c.RateLimit.Burst = -1 },
		"redis pool":      func(c *Config) { c.Redis.PoolSize = -1 },
		"redis retries":   func(c *Config) { c.Redis.MaxRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := validConfig()
	cfg.Store.Driver = DriverMemory
	cfg.Database.Path = ""
	assert.NoError(t, cfg.Validate(), "the memory driver ignores SQLite settings")
}

func TestStoreConfigAndAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = "/tmp/x.db"
	cfg.Database.WriteTimeout = 3 * time.Second

	db := cfg.StoreConfig()
	assert.Equal(t, "/tmp/x.db", db.Path)
	assert.Equal(t, 3*time.Second, db.WriteTimeout)
	assert.NoError(t, db.Validate())
	assert.Equal(t, "0.0.0.0:5000", cfg.Address())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MOBIDOC_HTTP_PORT", "6000")
	t.Setenv("MOBIDOC_AUTH_JWT_SECRET", "from-env")
	t.Setenv("MOBIDOC_AUTH_ACCESS_TTL", "5m")
	t.Setenv("MOBIDOC_WEBSOCKET_BUFFER_SIZE", "8")
	t.Setenv("MOBIDOC_STORE_MONGO_URI", "mongodb://db:27017")
	t.Setenv("MOBIDOC_CONSULTATION_ENFORCE_TRANSITIONS", "false")
	t.Setenv("MOBIDOC_RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("MOBIDOC_REDIS_POOL_SIZE", "25")
	t.Setenv("MOBIDOC_REDIS_MAX_RETRIES", "5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.HTTP.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 8, cfg.WebSocket.BufferSize)
	assert.Equal(t, "mongodb://db:27017", cfg.Store.MongoURI)
	assert.False(t, cfg.Consultation.EnforceTransitions)
	assert.Equal(t, 10, cfg.RateLimit.PerMinute)
	assert.Equal(t, 25, cfg.Redis.PoolSize)
	assert.Equal(t, 5, cfg.Redis.MaxRetries)
	assert.Equal(t, DefaultConfig().Database.Path, cfg.Database.Path, "unset variables keep defaults")
}

func TestLoadFromEnv_BadValue(t *testing.T) {
	t.Setenv("MOBIDOC_HTTP_PORT", "not-a-number")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "mobidoc.yaml", `
http:
  port: 7000
auth:
  jwt_secret: from-file
  refresh_ttl: 48h
websocket:
  ping_interval: 10s
store:
  driver: memory
redis:
  pool_size: 4
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Redis.PoolSize)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait, "keys absent from the file keep defaults")
}

func TestLoadFromFile_JSONAndMissing(t *testing.T) {
	path := writeFile(t, "mobidoc.json", `{"rate_limit": {"per_minute": 5, "burst": 1}}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.PerMinute)
	assert.Equal(t, 1, cfg.RateLimit.Burst)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("MOBIDOC_AUTH_JWT_SECRET", "from-env")
	t.Setenv("MOBIDOC_HTTP_PORT", "6000")
	t.Setenv("MOBIDOC_LOG_LEVEL", "debug")
	path := writeFile(t, "mobidoc.yaml", "http:\n  port: 7000\n")

	cfg, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port, "file beats environment")
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret, "environment beats defaults")
	assert.Equal(t, "debug", cfg.Log.Level)

	cfg, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.HTTP.Port)
}

func TestLoadConfigWithPrecedence_Invalid(t *testing.T) {
	t.Setenv("MOBIDOC_AUTH_JWT_SECRET", "")

	_, err := LoadConfigWithPrecedence("")
	assert.ErrorContains(t, err, "JWT secret")
}
