package migration

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/BaSui01/qaflow/config"
)

// NewMigratorFromConfig 使用应用配置中的数据库连接创建迁移器
func NewMigratorFromConfig(cfg *config.Config) (*SchemaMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	d, err := ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(Config{Dialect: d, URL: migrationURL(d, cfg.Database)})
}

// NewMigratorFromURL 使用显式连接串创建迁移器
func NewMigratorFromURL(dialect, rawURL string) (*SchemaMigrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return NewMigrator(Config{Dialect: d, URL: rawURL})
}

// NewMigratorFromDB 复用已打开的连接，迁移器关闭时一并关闭该连接
func NewMigratorFromDB(dialect string, db *sql.DB) (*SchemaMigrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return NewMigrator(Config{Dialect: d, DB: db})
}

// migrationURL 迁移文件含多条语句，MySQL 需要 multiStatements；SQLite 的 Name 即文件路径
func migrationURL(d Dialect, db config.DatabaseConfig) string {
	switch d {
	case DialectPostgres:
		sslMode := db.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(db.User, db.Password),
			Host:     db.Host + ":" + strconv.Itoa(db.Port),
			Path:     "/" + db.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String()
	case DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			db.User, db.Password, db.Host, db.Port, db.Name)
	case DialectSQLite:
		return "file:" + db.Name + "?mode=rwc"
	default:
		return ""
	}
}
