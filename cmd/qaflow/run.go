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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/qaflow/batch"
	"github.com/BaSui01/qaflow/internal/telemetry"
)

// =============================================================================
// 🚚 run 命令
// =============================================================================

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	keysFile := fs.String("file", "", "File with one key per line (- for stdin)")
	pending := fs.Bool("pending", false, "Resolve every pending record in the store")
	concurrency := fs.Int("concurrency", 0, "Worker count (0 uses batch.concurrency)")
	asJSON := fs.Bool("json", false, "Print the full report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	var keys []string
	if !*pending {
		if keys, err = collectKeys(*keysFile, fs.Args()); err != nil {
			return err
		}
		if len(keys) == 0 {
			return errors.New("no keys given: pass keys as arguments, --file, or --pending")
		}
	}

	defer telemetry.Start(ctx, cfg.Telemetry, logger, telemetryOptions(cfg, "run")...)()

	a, err := buildApp(ctx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	defer a.close()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}

	var report *batch.Report
	if *pending {
		report, err = runner.RunPending(ctx, a.store, *concurrency)
	} else {
		report, err = runner.Run(ctx, keys, *concurrency)
	}
	if report != nil {
		if werr := printReport(os.Stdout, report, *asJSON); werr != nil {
			logger.Warn("failed to print report", zap.Error(werr))
		}
	}
	return err
}

// collectKeys 合并文件中的键与命令行参数，忽略空行与 # 注释行
func collectKeys(path string, args []string) ([]string, error) {
	var keys []string
	if path != "" {
		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open keys file: %w", err)
			}
			defer f.Close()
			r = f
		}
		fileKeys, err := readKeys(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fileKeys...)
	}
	for _, k := range args {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func readKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return keys, nil
}

// printReport 输出运行汇总；asJSON 时输出完整报告
func printReport(w io.Writer, r *batch.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	status := "completed"
	if r.Cancelled {
		status = "cancelled"
	}
	_, err := fmt.Fprintf(w, "run %s %s in %s: total=%d resolved=%d hits=%d misses=%d errors=%d skipped=%d\n",
		r.RunID, status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		r.Total, r.Resolved, r.Hits, r.Misses, r.Errors, r.Skipped)
	if err != nil {
		return err
	}
	for _, o := range r.Outcomes {
		if o.Error == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "  failed %q: %s\n", o.Key, o.Error); err != nil {
			return err
		}
	}
	return nil
}
