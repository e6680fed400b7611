package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/qaflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryCall struct {
	backend, op, status string
}

type recordingRecorder struct {
	mu    sync.Mutex
	calls []queryCall
}

func (r *recordingRecorder) RecordStoreQuery(backend, op, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, queryCall{backend, op, status})
}

func TestInstrument(t *testing.T) {
	api := newFakeDynamo()
	api.items["q1"] = mustItem(t, types.Record{ID: "q1", ComputedValue: "v"})
	rec := &recordingRecorder{}
	s := Instrument(NewDynamoStore(api, "records", nil), BackendDynamoDB, rec)
	ctx := context.Background()

	_, err := s.Get(ctx, "q1")
	require.NoError(t, err)
	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Upsert(ctx, &types.Record{ID: "q2"}))
	assert.Error(t, s.Upsert(ctx, &types.Record{}))

	assert.Equal(t, []queryCall{
		{"dynamodb", "get", "ok"},
		{"dynamodb", "get", "not_found"},
		{"dynamodb", "upsert", "ok"},
		{"dynamodb", "upsert", "error"},
	}, rec.calls)
}

func TestInstrument_NilRecorder(t *testing.T) {
	inner := NewDynamoStore(newFakeDynamo(), "records", nil)
	assert.Same(t, Store(inner), Instrument(inner, BackendDynamoDB, nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, BackendSQL, cfg.Backend)
	assert.Equal(t, 1000, normalizeLimit(0))
	assert.Equal(t, 5, normalizeLimit(5))
	assert.Equal(t, "records", cfg.MongoDB.Collection)
}
