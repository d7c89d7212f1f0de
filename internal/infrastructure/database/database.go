package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gameledger/internal/config"
	"gameledger/internal/model"
)

// ============================================================================
// 存储后端
// ============================================================================
//
// 支持两种部署形态，仓储层语义完全一致：
//   - sqlite：内嵌单机库，不需要连接池（写连接收敛为 1）
//   - mysql：共享服务库，带连接池配置
//
// 方言差异（自增语法、upsert 语法）由 gorm 的 driver + clause 层屏蔽，
// 仓储代码不感知具体后端。
//
// ============================================================================

// Open 按配置打开存储后端并迁移表结构
//
// 打开失败直接返回错误，由 main 决定终止启动（账本子系统不允许无库运行）。
func Open(cfg *config.StorageConfig) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	if cfg.Type == "mysql" {
		db, err = openMySQL(&cfg.MySQL, gormCfg)
	} else {
		db, err = openSQLite(&cfg.SQLite, gormCfg)
	}
	if err != nil {
		return nil, err
	}

	// 自动迁移表结构和索引
	if err := db.AutoMigrate(&model.Account{}, &model.AuditRecord{}); err != nil {
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}

	logrus.Infof("[Database] 存储后端已打开: type=%s", cfg.Type)
	return db, nil
}

func openSQLite(cfg *config.SQLiteConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.File), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// SQLite 是单写入方，写连接收敛为 1 避免 SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openMySQL(cfg *config.MySQLConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	params := cfg.Params
	if params == "" {
		params = "charset=utf8mb4&parseTime=True&loc=Local"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		params,
	)

	db, err := gorm.Open(mysql.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Pool.MinIdleConns)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.Pool.IdleTimeoutMs) * time.Millisecond)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.MaxLifetimeMs) * time.Millisecond)

	return db, nil
}

// Close 关闭底层连接，shutdown 阶段调用
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
