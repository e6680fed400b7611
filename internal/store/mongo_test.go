package store

import (
	"testing"
	"time"

	"github.com/BaSui01/qaflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func setFields(t *testing.T, rec *types.Record, now time.Time) map[string]any {
	t.Helper()
	p := mongoUpsertPipeline(rec, now)
	require.Len(t, p, 1)
	require.Equal(t, "$set", p[0][0].Key)
	set, ok := p[0][0].Value.(bson.D)
	require.True(t, ok)

	out := map[string]any{}
	for _, e := range set {
		out[e.Key] = e.Value
	}
	return out
}

func TestMongoUpsertPipeline_MergeSemantics(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evaluated := now.Add(time.Minute)
	fields := setFields(t, &types.Record{
		ID:            "q1",
		RequestText:   "$where",
		ComputedValue: "answer",
		Source:        types.SourceClient,
		QualityScore:  f64(0.4),
		EvaluatedAt:   &evaluated,
	}, now)

	assert.Contains(t, fields, "request_text")
	assert.Contains(t, fields, "reference_value")
	assert.Contains(t, fields, "created_at")
	assert.Equal(t, bson.D{{Key: "$literal", Value: "answer"}}, fields["computed_value"])
	assert.Equal(t, "client", fields["source"])
	assert.Equal(t, 0.4, fields["quality_score"])
	assert.Equal(t, evaluated, fields["evaluated_at"])
	assert.NotContains(t, fields, "similarity_score")

	// 以 $ 开头的请求文本作为字面量写入
	assert.Equal(t, keepUnlessEmpty("request_text", "$where"), fields["request_text"])
	cond := fields["request_text"].(bson.D)[0].Value.(bson.A)
	assert.Equal(t, bson.D{{Key: "$literal", Value: "$where"}}, cond[2])
	assert.Equal(t, "$request_text", cond[1])
}

func TestMongoUpsertPipeline_SeedDoesNotClearComputed(t *testing.T) {
	fields := setFields(t, &types.Record{ID: "q1", RequestText: "text"}, time.Now())

	assert.NotContains(t, fields, "computed_value")
	assert.NotContains(t, fields, "source")
}

func TestMongoPendingFilter(t *testing.T) {
	f := mongoPendingFilter()
	require.Len(t, f, 1)
	assert.Equal(t, "$or", f[0].Key)
	assert.Len(t, f[0].Value, 2)
}
