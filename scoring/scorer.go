package scoring

import (
	"context"
	"errors"
	"math"
)

// ErrDisabled 评分未启用，调用方不写入任何分数
var ErrDisabled = errors.New("scoring disabled")

// Scores 一次评分结果，取值范围 [0, 1]
type Scores struct {
	Similarity   float64 `json:"similarity_score"`
	Quality      float64 `json:"quality_score"`
	Completeness float64 `json:"completeness_score"`
	Overall      float64 `json:"overall_score"`
}

// Scorer 对候选值与参考值进行评分
type Scorer interface {
	Score(ctx context.Context, reference, candidate string) (Scores, error)
}

// Overall 加权总分：相似度 0.5、质量 0.3、完整度 0.2，保留 6 位小数
func Overall(similarity, quality, completeness float64) float64 {
	v := similarity*0.5 + quality*0.3 + completeness*0.2
	return math.Round(v*1e6) / 1e6
}

// NewScores 由三个分项构造并计算总分
func NewScores(similarity, quality, completeness float64) Scores {
	return Scores{
		Similarity:   similarity,
		Quality:      quality,
		Completeness: completeness,
		Overall:      Overall(similarity, quality, completeness),
	}
}

// Noop 不评分的 Scorer
type Noop struct{}

// Score 总是返回 ErrDisabled
func (Noop) Score(context.Context, string, string) (Scores, error) {
	return Scores{}, ErrDisabled
}
