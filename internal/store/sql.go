package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/qaflow/internal/database"
	"github.com/BaSui01/qaflow/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 🐘 SQL 存储（postgres / mysql / sqlite）
// =============================================================================

// SQLStore 基于 GORM 的记录存储
type SQLStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewSQLStore 创建 SQL 存储；autoMigrate 为 true 时同步 records 表结构
func NewSQLStore(ctx context.Context, pool *database.PoolManager, autoMigrate bool, logger *zap.Logger) (*SQLStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "store_sql")),
	}

	if autoMigrate {
		db, err := s.session(ctx)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(&types.Record{}); err != nil {
			return nil, types.StoreUnavailable("migrate", err)
		}
	}

	s.logger.Info("sql record store initialized",
		zap.String("dialect", pool.Dialect()),
		zap.Bool("auto_migrate", autoMigrate))
	return s, nil
}

func (s *SQLStore) session(ctx context.Context) (*gorm.DB, error) {
	db, err := s.pool.Session(ctx)
	if err != nil {
		return nil, types.StoreUnavailable("session", err)
	}
	return db, nil
}

// Get 按 ID 读取记录
func (s *SQLStore) Get(ctx context.Context, id string) (*types.Record, error) {
	ctx, cancel := s.pool.WithAcquireTimeout(ctx)
	defer cancel()
	db, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	var rec types.Record
	err = db.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, types.StoreUnavailable("get", err)
	}
	return &rec, nil
}

// Upsert INSERT ... ON CONFLICT (id) DO UPDATE
func (s *SQLStore) Upsert(ctx context.Context, rec *types.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	ctx, cancel := s.pool.WithAcquireTimeout(ctx)
	defer cancel()
	db, err := s.session(ctx)
	if err != nil {
		return err
	}

	row := *rec
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: upsertAssignments(s.pool.Dialect()),
	}).Create(&row).Error
	if err != nil {
		return types.StoreUnavailable("upsert", err)
	}

	s.logger.Debug("record upserted",
		zap.String("id", rec.ID),
		zap.String("source", string(rec.Source)),
		zap.Bool("resolved", rec.Resolved()))
	return nil
}

// upsertAssignments 冲突时的列赋值。
// mysql 的 ON DUPLICATE KEY UPDATE 通过 VALUES(col) 引用新值，
// postgres 与 sqlite 通过 excluded.col 引用新值、records.col 引用旧值。
func upsertAssignments(dialect string) clause.Set {
	var keepUnlessEmpty, preferIncoming, coalesce func(col string) clause.Expr
	if dialect == "mysql" {
		keepUnlessEmpty = func(col string) clause.Expr {
			return gorm.Expr("IF(" + col + " = '', VALUES(" + col + "), " + col + ")")
		}
		preferIncoming = func(col string) clause.Expr {
			return gorm.Expr("IF(VALUES(" + col + ") = '', " + col + ", VALUES(" + col + "))")
		}
		coalesce = func(col string) clause.Expr {
			return gorm.Expr("COALESCE(VALUES(" + col + "), " + col + ")")
		}
	} else {
		keepUnlessEmpty = func(col string) clause.Expr {
			return gorm.Expr("CASE WHEN records." + col + " = '' THEN excluded." + col + " ELSE records." + col + " END")
		}
		preferIncoming = func(col string) clause.Expr {
			return gorm.Expr("CASE WHEN excluded." + col + " = '' THEN records." + col + " ELSE excluded." + col + " END")
		}
		coalesce = func(col string) clause.Expr {
			return gorm.Expr("COALESCE(excluded." + col + ", records." + col + ")")
		}
	}

	set := clause.Set{
		{Column: clause.Column{Name: "request_text"}, Value: keepUnlessEmpty("request_text")},
		{Column: clause.Column{Name: "reference_value"}, Value: keepUnlessEmpty("reference_value")},
		{Column: clause.Column{Name: "computed_value"}, Value: preferIncoming("computed_value")},
		{Column: clause.Column{Name: "source"}, Value: preferIncoming("source")},
	}
	for _, col := range []string{"similarity_score", "quality_score", "completeness_score", "overall_score", "evaluated_at"} {
		set = append(set, clause.Assignment{Column: clause.Column{Name: col}, Value: coalesce(col)})
	}
	return set
}

// Pending 列出未计算的记录
func (s *SQLStore) Pending(ctx context.Context, limit int) ([]*types.Record, error) {
	ctx, cancel := s.pool.WithAcquireTimeout(ctx)
	defer cancel()
	db, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	var recs []*types.Record
	err = db.Where("computed_value = ? OR computed_value IS NULL", "").
		Order("created_at ASC").Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, types.StoreUnavailable("pending", err)
	}
	return recs, nil
}

// Ping 检查数据库连接
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return types.StoreUnavailable("ping", err)
	}
	return nil
}

// Close 关闭连接池
func (s *SQLStore) Close() error {
	return s.pool.Close()
}
