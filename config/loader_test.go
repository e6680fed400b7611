// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "LRU", cfg.Cache.Policy)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

cache:
  policy: FIFO
  capacity: 2
  default_ttl: 10m

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

llm:
  api_keys:
    - sk-one
    - sk-two
    - sk-three
  retry_factor: 2
  call_timeout: 45s
  cooldown_multiplier: 3
  resolve_timeout: 90s

store:
  backend: dynamodb
  dynamo_table: answers

batch:
  concurrency: 4
  snapshot_every: 10
  key_timeout: 20s

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, "FIFO", cfg.Cache.Policy)
	assert.Equal(t, 2, cfg.Cache.Capacity)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	// 未出现在 YAML 中的字段保持默认
	assert.Equal(t, 16, cfg.Cache.Shards)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, []string{"sk-one", "sk-two", "sk-three"}, cfg.LLM.APIKeys)
	assert.Equal(t, 2, cfg.LLM.RetryFactor)
	assert.Equal(t, 45*time.Second, cfg.LLM.CallTimeout)
	assert.InDelta(t, 3.0, cfg.LLM.CooldownMultiplier, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.LLM.ResolveTimeout)

	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	assert.Equal(t, "answers", cfg.Store.DynamoTable)

	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, 10, cfg.Batch.SnapshotEvery)
	assert.Equal(t, 20*time.Second, cfg.Batch.KeyTimeout)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("QAFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("QAFLOW_CACHE_POLICY", "LFU")
	t.Setenv("QAFLOW_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("QAFLOW_LLM_API_KEYS", "sk-a, sk-b ,sk-c")
	t.Setenv("QAFLOW_LLM_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("QAFLOW_LLM_COOLDOWN_MULTIPLIER", "1.5")
	t.Setenv("QAFLOW_STORE_AUTO_MIGRATE", "true")
	t.Setenv("QAFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("QAFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "LFU", cfg.Cache.Policy)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, []string{"sk-a", "sk-b", "sk-c"}, cfg.LLM.APIKeys)
	assert.InDelta(t, 2.5, cfg.LLM.RequestsPerSecond, 1e-9)
	assert.InDelta(t, 1.5, cfg.LLM.CooldownMultiplier, 1e-9)
	assert.True(t, cfg.Store.AutoMigrate)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
llm:
  model: "yaml-model"
  base_url: "http://yaml.example"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("QAFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("QAFLOW_LLM_MODEL", "env-model")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "http://yaml.example", cfg.LLM.BaseURL)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_BATCH_CONCURRENCY", "3")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("QAFLOW_CACHE_CAPACITY", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QAFLOW_CACHE_CAPACITY")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("QAFLOW_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.Error(t, err)

	_, err = NewLoader().
		WithValidator((*Config).Validate).
		Load()
	assert.NoError(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "lowercase policy accepted",
			modify:  func(c *Config) { c.Cache.Policy = "random" },
			wantErr: false,
		},
		{
			name:    "invalid HTTP port (negative)",
			modify:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: true,
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown cache policy",
			modify:  func(c *Config) { c.Cache.Policy = "MRU" },
			wantErr: true,
		},
		{
			name:    "zero cache capacity",
			modify:  func(c *Config) { c.Cache.Capacity = 0 },
			wantErr: true,
		},
		{
			name:    "unknown cache backend",
			modify:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: true,
		},
		{
			name:    "unknown store backend",
			modify:  func(c *Config) { c.Store.Backend = "cassandra" },
			wantErr: true,
		},
		{
			name:    "retry factor below one",
			modify:  func(c *Config) { c.LLM.RetryFactor = 0 },
			wantErr: true,
		},
		{
			name:    "invalid temperature (too high)",
			modify:  func(c *Config) { c.LLM.Temperature = 3.0 },
			wantErr: true,
		},
		{
			name:    "cooldown multiplier below one",
			modify:  func(c *Config) { c.LLM.CooldownMultiplier = 0.5 },
			wantErr: true,
		},
		{
			name:    "negative resolve timeout",
			modify:  func(c *Config) { c.LLM.ResolveTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative batch key timeout",
			modify:  func(c *Config) { c.Batch.KeyTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero batch concurrency",
			modify:  func(c *Config) { c.Batch.Concurrency = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJWTConfig_Enabled(t *testing.T) {
	assert.False(t, JWTConfig{}.Enabled())
	assert.True(t, JWTConfig{Secret: "s"}.Enabled())
	assert.True(t, JWTConfig{PublicKey: "pem"}.Enabled())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name: "unknown driver",
			config: DatabaseConfig{
				Driver: "unknown",
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("QAFLOW_LLM_MODEL", "env-only-model")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only-model", cfg.LLM.Model)
}
