package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/qaflow/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

// =============================================================================
// 🍃 MongoDB 存储
// =============================================================================

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI            string        `yaml:"uri" json:"uri" env:"URI"`
	Database       string        `yaml:"database" json:"database" env:"DATABASE"`
	Collection     string        `yaml:"collection" json:"collection" env:"COLLECTION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT"`
	MaxPoolSize    uint64        `yaml:"max_pool_size" json:"max_pool_size" env:"MAX_POOL_SIZE"`
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "qaflow",
		Collection:     "records",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    20,
	}
}

// MongoStore 基于 MongoDB 的记录存储，文档 _id 即记录 ID
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
	logger *zap.Logger
}

// ConnectMongo 连接 MongoDB 并确保 pending 查询索引存在
func ConnectMongo(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		now:    time.Now,
		logger: logger.With(zap.String("component", "store_mongodb")),
	}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "computed_value", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		s.logger.Warn("failed to ensure pending index", zap.Error(err))
	}

	s.logger.Info("mongodb record store initialized",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))
	return s, nil
}

// Get 按 _id 读取记录
func (s *MongoStore) Get(ctx context.Context, id string) (*types.Record, error) {
	var rec types.Record
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, types.StoreUnavailable("get", err)
	}
	return &rec, nil
}

// Upsert 使用聚合管道更新实现合并语义
func (s *MongoStore) Upsert(ctx context.Context, rec *types.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: rec.ID}},
		mongoUpsertPipeline(rec, s.now().UTC()),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return types.StoreUnavailable("upsert", err)
	}
	return nil
}

// keepUnlessEmpty 已有值非空时保留，否则写入新值。
// 新值经 $literal 包装，避免以 $ 开头的文本被解释为字段路径。
func keepUnlessEmpty(field, incoming string) bson.D {
	return bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$gt", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, ""}}}, ""}}},
		"$" + field,
		bson.D{{Key: "$literal", Value: incoming}},
	}}}
}

// mongoUpsertPipeline 构造单阶段 $set 管道
func mongoUpsertPipeline(rec *types.Record, now time.Time) mongo.Pipeline {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	set := bson.D{
		{Key: "request_text", Value: keepUnlessEmpty("request_text", rec.RequestText)},
		{Key: "reference_value", Value: keepUnlessEmpty("reference_value", rec.ReferenceValue)},
		{Key: "created_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$created_at", createdAt}}}},
	}
	if rec.ComputedValue != "" {
		set = append(set, bson.E{Key: "computed_value", Value: bson.D{{Key: "$literal", Value: rec.ComputedValue}}})
	}
	if rec.Source != "" {
		set = append(set, bson.E{Key: "source", Value: string(rec.Source)})
	}
	scores := []struct {
		key string
		v   *float64
	}{
		{"similarity_score", rec.SimilarityScore},
		{"quality_score", rec.QualityScore},
		{"completeness_score", rec.CompletenessScore},
		{"overall_score", rec.OverallScore},
	}
	for _, sc := range scores {
		if sc.v != nil {
			set = append(set, bson.E{Key: sc.key, Value: *sc.v})
		}
	}
	if rec.EvaluatedAt != nil {
		set = append(set, bson.E{Key: "evaluated_at", Value: *rec.EvaluatedAt})
	}
	return mongo.Pipeline{bson.D{{Key: "$set", Value: set}}}
}

// mongoPendingFilter computed_value 缺失或为空
func mongoPendingFilter() bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "computed_value", Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: "computed_value", Value: ""}},
	}}}
}

// Pending 列出未计算记录
func (s *MongoStore) Pending(ctx context.Context, limit int) ([]*types.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cur, err := s.coll.Find(ctx, mongoPendingFilter(), opts)
	if err != nil {
		return nil, types.StoreUnavailable("pending", err)
	}
	defer cur.Close(ctx)

	var recs []*types.Record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, types.StoreUnavailable("pending", err)
	}
	return recs, nil
}

// Ping 检查主节点连通性
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return types.StoreUnavailable("ping", err)
	}
	return nil
}

// Close 断开连接
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
