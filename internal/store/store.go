package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/qaflow/types"
)

// =============================================================================
// 🗃️ 记录存储
// =============================================================================

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Store 持久化记录存储。
// 传输故障包装为 types.ErrStoreUnavailable，记录不存在返回 ErrNotFound。
type Store interface {
	// Get 按 ID 读取记录
	Get(ctx context.Context, id string) (*types.Record, error)

	// Upsert 按 ID 插入或更新记录。
	// 已有记录的 request_text/reference_value 仅在当前为空时被覆盖；
	// 传入的空 computed_value 与空分数不会清除已有值。
	Upsert(ctx context.Context, rec *types.Record) error

	// Pending 列出 computed_value 为空的记录，按 created_at、id 升序
	Pending(ctx context.Context, limit int) ([]*types.Record, error)

	// Ping 检查存储连通性
	Ping(ctx context.Context) error

	// Close 释放连接
	Close() error
}

// Backend 存储后端类型
type Backend string

const (
	BackendSQL      Backend = "sql"
	BackendDynamoDB Backend = "dynamodb"
	BackendMongoDB  Backend = "mongodb"
)

// Config 存储配置
type Config struct {
	// 后端类型：sql、dynamodb、mongodb
	Backend Backend `yaml:"backend" json:"backend" env:"BACKEND"`

	// 启动时对 SQL 后端执行 AutoMigrate（生产环境建议使用 qaflow migrate）
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`

	// 单次 Pending 查询的默认上限
	PendingLimit int `yaml:"pending_limit" json:"pending_limit" env:"PENDING_LIMIT"`

	DynamoDB DynamoConfig `yaml:"dynamodb" json:"dynamodb" env:"DYNAMODB"`
	MongoDB  MongoConfig  `yaml:"mongodb" json:"mongodb" env:"MONGODB"`
}

// DefaultConfig 返回默认存储配置
func DefaultConfig() Config {
	return Config{
		Backend:      BackendSQL,
		PendingLimit: 1000,
		DynamoDB:     DefaultDynamoConfig(),
		MongoDB:      DefaultMongoConfig(),
	}
}

func validateRecord(rec *types.Record) error {
	if rec == nil || rec.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "record id is required")
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultConfig().PendingLimit
	}
	return limit
}

// =============================================================================
// 📊 指标装饰器
// =============================================================================

// QueryRecorder 存储查询指标记录器
type QueryRecorder interface {
	RecordStoreQuery(backend, operation, status string, duration time.Duration)
}

type instrumented struct {
	next    Store
	backend string
	rec     QueryRecorder
}

// Instrument 为存储附加查询指标；rec 为 nil 时原样返回
func Instrument(s Store, backend Backend, rec QueryRecorder) Store {
	if rec == nil {
		return s
	}
	return &instrumented{next: s, backend: string(backend), rec: rec}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	i.rec.RecordStoreQuery(i.backend, op, status, time.Since(start))
}

func (i *instrumented) Get(ctx context.Context, id string) (rec *types.Record, err error) {
	defer func(start time.Time) { i.observe("get", start, err) }(time.Now())
	return i.next.Get(ctx, id)
}

func (i *instrumented) Upsert(ctx context.Context, rec *types.Record) (err error) {
	defer func(start time.Time) { i.observe("upsert", start, err) }(time.Now())
	return i.next.Upsert(ctx, rec)
}

func (i *instrumented) Pending(ctx context.Context, limit int) (recs []*types.Record, err error) {
	defer func(start time.Time) { i.observe("pending", start, err) }(time.Now())
	return i.next.Pending(ctx, limit)
}

func (i *instrumented) Ping(ctx context.Context) error { return i.next.Ping(ctx) }
func (i *instrumented) Close() error                   { return i.next.Close() }
