package types

import "time"

// Source 解析结果来源
type Source string

const (
	SourceCache  Source = "cache"
	SourceStore  Source = "store"
	SourceClient Source = "client"
)

// Record 持久化存储中的一条记录
type Record struct {
	ID                string     `gorm:"primaryKey;size:255" json:"id" bson:"_id" dynamodbav:"id"`
	RequestText       string     `gorm:"type:text;not null;default:''" json:"request_text" bson:"request_text,omitempty" dynamodbav:"request_text,omitempty"`
	ReferenceValue    string     `gorm:"type:text;not null;default:''" json:"reference_value" bson:"reference_value,omitempty" dynamodbav:"reference_value,omitempty"`
	ComputedValue     string     `gorm:"type:text;not null;default:''" json:"computed_value" bson:"computed_value,omitempty" dynamodbav:"computed_value,omitempty"`
	Source            Source     `gorm:"size:16;not null;default:''" json:"source,omitempty" bson:"source,omitempty" dynamodbav:"source,omitempty"`
	SimilarityScore   *float64   `json:"similarity_score,omitempty" bson:"similarity_score,omitempty" dynamodbav:"similarity_score,omitempty"`
	QualityScore      *float64   `json:"quality_score,omitempty" bson:"quality_score,omitempty" dynamodbav:"quality_score,omitempty"`
	CompletenessScore *float64   `json:"completeness_score,omitempty" bson:"completeness_score,omitempty" dynamodbav:"completeness_score,omitempty"`
	OverallScore      *float64   `json:"overall_score,omitempty" bson:"overall_score,omitempty" dynamodbav:"overall_score,omitempty"`
	CreatedAt         time.Time  `json:"created_at" bson:"created_at" dynamodbav:"created_at"`
	EvaluatedAt       *time.Time `json:"evaluated_at,omitempty" bson:"evaluated_at,omitempty" dynamodbav:"evaluated_at,omitempty"`
}

// TableName 指定表名
func (Record) TableName() string { return "records" }

// Resolved 记录是否已有计算结果
func (r *Record) Resolved() bool {
	return r != nil && r.ComputedValue != ""
}

// Prompt 返回用于上游调用的提示词，缺省为记录 ID
func (r *Record) Prompt() string {
	if r.RequestText != "" {
		return r.RequestText
	}
	return r.ID
}
