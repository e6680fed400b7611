package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BaSui01/qaflow/internal/cache"
	"go.uber.org/zap"
)

// Snapshot 批量运行的进度快照
type Snapshot struct {
	RunID          string       `json:"run_id"`
	Hits           int64        `json:"hits"`
	Misses         int64        `json:"misses"`
	Errors         int64        `json:"errors"`
	Resolved       int64        `json:"resolved"`
	KeysInCache    int          `json:"keys_in_cache"`
	UsedMemory     int64        `json:"used_memory_bytes"`
	MaxMemory      int64        `json:"max_memory_bytes"`
	EvictionPolicy cache.Policy `json:"eviction_policy"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SnapshotSink 快照落地目标
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, s Snapshot) error
}

// FileSink 将快照写入 JSON 文件。
// 先写同目录临时文件再 rename，读者不会看到写了一半的内容。
type FileSink struct {
	path string
}

// NewFileSink 创建文件快照
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path 快照文件路径
func (f *FileSink) Path() string { return f.path }

// WriteSnapshot 原子写入快照
func (f *FileSink) WriteSnapshot(_ context.Context, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // rename 成功后为空操作

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LogSink 以日志形式输出快照，未配置快照文件时使用
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志快照
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// WriteSnapshot 输出一条 Info 日志
func (l *LogSink) WriteSnapshot(_ context.Context, s Snapshot) error {
	l.logger.Info("batch snapshot",
		zap.String("run_id", s.RunID),
		zap.Int64("hits", s.Hits),
		zap.Int64("misses", s.Misses),
		zap.Int64("errors", s.Errors),
		zap.Int64("resolved", s.Resolved),
		zap.Int("keys_in_cache", s.KeysInCache),
		zap.Int64("used_memory_bytes", s.UsedMemory),
		zap.String("eviction_policy", string(s.EvictionPolicy)))
	return nil
}
