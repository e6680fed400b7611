package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/qaflow/batch"
	"github.com/BaSui01/qaflow/config"
	"github.com/BaSui01/qaflow/types"
)

func TestCollectKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nfirst\n\n  second  \n"), 0o600))

	keys, err := collectKeys(path, []string{"third", "  "})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, keys)
}

func TestCollectKeys_MissingFile(t *testing.T) {
	_, err := collectKeys(filepath.Join(t.TempDir(), "nope.txt"), nil)
	assert.ErrorContains(t, err, "open keys file")
}

func TestReadKeys(t *testing.T) {
	keys, err := readKeys(strings.NewReader("a\r\nb\n#c\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func sampleReport() *batch.Report {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &batch.Report{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Total:      3,
		Hits:       1,
		Misses:     1,
		Errors:     1,
		Resolved:   2,
		Outcomes: []batch.Outcome{
			{Key: "a", Value: "1", Source: types.SourceCache},
			{Key: "b", Value: "2", Source: types.SourceClient},
			{Key: "c", Error: errors.New("upstream down").Error()},
		},
	}
}

func TestPrintReport_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), false))

	out := buf.String()
	assert.Contains(t, out, "run run-1 completed in 1.5s")
	assert.Contains(t, out, "total=3 resolved=2 hits=1 misses=1 errors=1 skipped=0")
	assert.Contains(t, out, `failed "c": upstream down`)
	assert.NotContains(t, out, `"a"`)
}

func TestPrintReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), true))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Len(t, decoded["outcomes"], 3)
}

func TestInitLogger(t *testing.T) {
	tests := []config.LogConfig{
		{Level: "debug", Format: "json"},
		{Level: "warn", Format: "console", EnableCaller: true},
		{Level: "not-a-level"},
	}
	for _, cfg := range tests {
		logger := initLogger(cfg)
		require.NotNil(t, logger)
	}

	logger := initLogger(config.LogConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel), "debug should be disabled at warn level")
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel), "warn should be enabled")
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{}
	assert.Empty(t, authMiddleware(cfg, nopLogger()))

	cfg.Server.APIKeys = []string{"k"}
	assert.Len(t, authMiddleware(cfg, nopLogger()), 1)

	cfg.JWT.Secret = "s"
	assert.Len(t, authMiddleware(cfg, nopLogger()), 1)
}
