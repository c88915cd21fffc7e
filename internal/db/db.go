package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Options 描述打开数据库所需的参数。
type Options struct {
	// Driver 取值 sqlite / postgres，为空时使用 sqlite。
	Driver string
	// Path 为 sqlite 文件路径，为空时回退到 moodjournal.db。
	Path string
	// DSN 为 postgres 连接串。
	DSN string
}

// Init 初始化数据库连接并执行自动迁移。
func Init(opts Options) error {
	dialector, err := openDialector(opts)
	if err != nil {
		return err
	}

	DB, err = gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return err
	}

	return Migrate(DB)
}

// Migrate 为表格存储与系统设置创建表结构。
func Migrate(gdb *gorm.DB) error {
	if gdb == nil {
		return errors.New("database not initialized")
	}
	return gdb.AutoMigrate(&SheetRow{}, &SystemSetting{})
}

func openDialector(opts Options) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		path := strings.TrimSpace(opts.Path)
		if path == "" {
			path = "moodjournal.db"
		}
		if err := ensureParentDir(path); err != nil {
			return nil, err
		}
		return sqlite.Open(path), nil
	case "postgres", "postgresql":
		dsn := strings.TrimSpace(opts.DSN)
		if dsn == "" {
			return nil, errors.New("postgres driver requires DATABASE_DSN")
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
