package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/qaflow/config"
	"github.com/BaSui01/qaflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 处理 migrate 命令：qaflow migrate <subcommand> [options] [version]
func runMigrate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		printMigrateUsage()
		return fmt.Errorf("migrate subcommand is required")
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage()
		return nil
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	m, err := newMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(os.Stdout)
	return cli.Run(ctx, sub, fs.Args())
}

// newMigrator --db-url 优先；否则使用配置文件中的数据库配置
func newMigrator(configPath, dbType, dbURL string) (*migration.SchemaMigrator, error) {
	if dbURL != "" {
		if dbType == "" {
			return nil, fmt.Errorf("--db-type is required with --db-url")
		}
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  qaflow migrate <subcommand> [options] [version]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  steps <n> Apply (n > 0) or rollback (n < 0) n migrations
  status    Show migration status
  version   Show current migration version
  info      Show migration details and record counts
  verify    Check the schema is current and the records table is complete
  goto <v>  Migrate to a specific version
  force <v> Force set migration version (use with caution)
  reset     Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  qaflow migrate up
  qaflow migrate status --config /etc/qaflow/config.yaml
  qaflow migrate goto 1
  qaflow migrate verify --config /etc/qaflow/config.yaml
  qaflow migrate up --db-type sqlite --db-url "sqlite3://qaflow.db"`)
}
