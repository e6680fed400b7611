// =============================================================================
// 📦 qaflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		JWT:       JWTConfig{},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Store:     DefaultStoreConfig(),
		LLM:       DefaultLLMConfig(),
		Scorer:    DefaultScorerConfig(),
		Batch:     DefaultBatchConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
		MaxConnections:  1024,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "qaflow",
		SampleRate:   0.1,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:     "redis",
		Policy:      "LRU",
		Capacity:    100,
		DefaultTTL:  time.Hour,
		Shards:      16,
		SyncOnStart: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:           "localhost:6379",
		Password:       "",
		DB:             0,
		KeyPrefix:      "qaflow:cache:",
		PoolSize:       20,
		MinIdleConns:   2,
		CommandTimeout: 2 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "qaflow",
		Password:        "",
		Name:            "qaflow",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AcquireTimeout:  5 * time.Second,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:         "sql",
		AutoMigrate:     false,
		DynamoTable:     "qaflow_records",
		DynamoRegion:    "us-east-1",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "qaflow",
		MongoCollection: "records",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:            "https://openrouter.ai/api/v1",
		Model:              "nvidia/nemotron-nano-9b-v2:free",
		CallTimeout:        30 * time.Second,
		RetryFactor:        1,
		BackoffInitial:     500 * time.Millisecond,
		BackoffMax:         10 * time.Second,
		CooldownInitial:    10 * time.Second,
		CooldownMax:        5 * time.Minute,
		CooldownMultiplier: 2.0,
		ResolveTimeout:     2 * time.Minute,
		Temperature:        0.2,
		MaxTokens:          1024,
		Title:              "qaflow",
	}
}

// DefaultScorerConfig 返回默认评分配置
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{Enabled: false}
}

// DefaultBatchConfig 返回默认批处理配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Concurrency:   8,
		BatchSize:     200,
		SnapshotPath:  "qaflow-snapshot.json",
		SnapshotEvery: 40,
	}
}
