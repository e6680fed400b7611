package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/qaflow/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// =============================================================================
// ☁️ DynamoDB 存储
// =============================================================================

// DynamoConfig DynamoDB 配置
type DynamoConfig struct {
	// 表名，分区键为字符串属性 id
	Table string `yaml:"table" json:"table" env:"TABLE"`

	// 区域
	Region string `yaml:"region" json:"region" env:"REGION"`

	// 自定义端点（DynamoDB Local 等），为空使用 AWS 默认端点
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"ENDPOINT"`
}

// DefaultDynamoConfig 返回默认 DynamoDB 配置
func DefaultDynamoConfig() DynamoConfig {
	return DynamoConfig{
		Table:  "qaflow_records",
		Region: "us-east-1",
	}
}

// DynamoAPI DynamoDB 客户端中存储用到的方法
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore 基于 DynamoDB 的记录存储
type DynamoStore struct {
	api    DynamoAPI
	table  string
	now    func() time.Time
	logger *zap.Logger
}

// ConnectDynamo 读取默认 AWS 凭证链创建客户端，并通过 DescribeTable 验证表可用
func ConnectDynamo(ctx context.Context, cfg DynamoConfig, logger *zap.Logger) (*DynamoStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	s := NewDynamoStore(client, cfg.Table, logger)
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("dynamodb record store initialized",
		zap.String("table", cfg.Table),
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint))
	return s, nil
}

// NewDynamoStore 使用现有客户端创建存储
func NewDynamoStore(api DynamoAPI, table string, logger *zap.Logger) *DynamoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoStore{
		api:    api,
		table:  table,
		now:    time.Now,
		logger: logger.With(zap.String("component", "store_dynamodb")),
	}
}

func (s *DynamoStore) key(id string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"id": &ddbtypes.AttributeValueMemberS{Value: id},
	}
}

// Get 一致性读取记录
func (s *DynamoStore) Get(ctx context.Context, id string) (*types.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, types.StoreUnavailable("get", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec types.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, types.StoreUnavailable("get", fmt.Errorf("decode item: %w", err))
	}
	return &rec, nil
}

// Upsert 使用 UpdateItem 合并写入
func (s *DynamoStore) Upsert(ctx context.Context, rec *types.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	expr, names, values, err := buildDynamoUpdate(rec, s.now().UTC())
	if err != nil {
		return types.StoreUnavailable("upsert", err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(rec.ID),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return types.StoreUnavailable("upsert", err)
	}
	return nil
}

// buildDynamoUpdate 构造 SET 表达式。
// 空字符串属性不写入 DynamoDB，因此 request_text/reference_value/created_at
// 使用 if_not_exists 保留已有值；其余字段仅在传入非空时覆盖。
func buildDynamoUpdate(rec *types.Record, now time.Time) (string, map[string]string, map[string]ddbtypes.AttributeValue, error) {
	names := map[string]string{}
	values := map[string]ddbtypes.AttributeValue{}
	var clauses []string

	add := func(attr string, v any, keepExisting bool) error {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", attr, err)
		}
		n, p := "#"+attr, ":"+attr
		names[n] = attr
		values[p] = av
		if keepExisting {
			clauses = append(clauses, fmt.Sprintf("%s = if_not_exists(%s, %s)", n, n, p))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = %s", n, p))
		}
		return nil
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	fields := []struct {
		attr string
		v    any
		set  bool
		keep bool
	}{
		{"request_text", rec.RequestText, rec.RequestText != "", true},
		{"reference_value", rec.ReferenceValue, rec.ReferenceValue != "", true},
		{"created_at", createdAt, true, true},
		{"computed_value", rec.ComputedValue, rec.ComputedValue != "", false},
		{"source", rec.Source, rec.Source != "", false},
		{"similarity_score", rec.SimilarityScore, rec.SimilarityScore != nil, false},
		{"quality_score", rec.QualityScore, rec.QualityScore != nil, false},
		{"completeness_score", rec.CompletenessScore, rec.CompletenessScore != nil, false},
		{"overall_score", rec.OverallScore, rec.OverallScore != nil, false},
		{"evaluated_at", rec.EvaluatedAt, rec.EvaluatedAt != nil, false},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := add(f.attr, f.v, f.keep); err != nil {
			return "", nil, nil, err
		}
	}
	return "SET " + strings.Join(clauses, ", "), names, values, nil
}

// Pending 扫描未计算记录后按 created_at、id 排序截断。
// 扫描是全表操作，适合批处理而非在线路径。
func (s *DynamoStore) Pending(ctx context.Context, limit int) ([]*types.Record, error) {
	limit = normalizeLimit(limit)
	in := &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("attribute_not_exists(#cv) OR #cv = :empty"),
		ExpressionAttributeNames: map[string]string{"#cv": "computed_value"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":empty": &ddbtypes.AttributeValueMemberS{Value: ""},
		},
	}

	var recs []*types.Record
	p := dynamodb.NewScanPaginator(s.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, types.StoreUnavailable("pending", err)
		}
		var batch []*types.Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, types.StoreUnavailable("pending", fmt.Errorf("decode items: %w", err))
		}
		recs = append(recs, batch...)
	}

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Ping DescribeTable 检查表是否可用
func (s *DynamoStore) Ping(ctx context.Context) error {
	out, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return types.StoreUnavailable("ping", err)
	}
	if out.Table != nil && out.Table.TableStatus != ddbtypes.TableStatusActive &&
		out.Table.TableStatus != ddbtypes.TableStatusUpdating {
		return types.StoreUnavailable("ping", fmt.Errorf("table %s is %s", s.table, out.Table.TableStatus))
	}
	return nil
}

// Close 客户端无需显式关闭
func (s *DynamoStore) Close() error { return nil }
