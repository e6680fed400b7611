package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/qaflow/internal/metrics"
	"github.com/BaSui01/qaflow/types"
)

// =============================================================================
// 🌱 seed 命令
// =============================================================================

// 单行记录的最大长度
const maxLineBytes = 4 << 20

// seedLine JSON Lines 输入中的一行
type seedLine struct {
	ID             string `json:"id"`
	RequestText    string `json:"request_text"`
	ReferenceValue string `json:"reference_value"`
}

// upserter 记录写入目标
type upserter interface {
	Upsert(ctx context.Context, rec *types.Record) error
}

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "JSON Lines file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		r = f
	}

	// seed 只需要存储，不初始化缓存与上游客户端
	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("qaflow", prometheus.NewRegistry(), logger),
	}
	if a.store, err = a.openStore(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer a.close()

	n, err := seedRecords(ctx, r, a.store)
	logger.Info("seed finished", zap.Int("records", n), zap.Error(err))
	if err == nil {
		fmt.Printf("seeded %d records\n", n)
	}
	return err
}

// seedRecords 逐行解析 JSON Lines 并写入存储，返回成功写入的条数。
// 空行被忽略；缺少 id 或无法解析的行使整个导入失败。
func seedRecords(ctx context.Context, r io.Reader, dst upserter) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	n, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := parseSeedLine(line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := dst.Upsert(ctx, rec); err != nil {
			return n, fmt.Errorf("line %d: upsert %q: %w", lineNo, rec.ID, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read seed file: %w", err)
	}
	return n, nil
}

func parseSeedLine(line string) (*types.Record, error) {
	var in seedLine
	dec := json.NewDecoder(strings.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, errors.New("record id is required")
	}
	return &types.Record{
		ID:             id,
		RequestText:    in.RequestText,
		ReferenceValue: in.ReferenceValue,
	}, nil
}
