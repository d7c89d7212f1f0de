package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"gameledger/pkg/money"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Format    FormatConfig    `mapstructure:"format"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
	Autosave  AutosaveConfig  `mapstructure:"autosave"`
	Flush     FlushConfig     `mapstructure:"flush"`
	Pay       PayConfig       `mapstructure:"pay"`
	AntiAbuse AntiAbuseConfig `mapstructure:"anti_abuse"`
	TopCache  TopCacheConfig  `mapstructure:"top_cache"`
	Top       TopConfig       `mapstructure:"top"`
	Balances  BalancesConfig  `mapstructure:"balances"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Player    PlayerConfig    `mapstructure:"player"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig 存储后端配置
// type 取值 sqlite（内嵌单机库）或 mysql（共享服务库），两者语义完全一致
type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
}

type SQLiteConfig struct {
	File string `mapstructure:"file"`
}

type MySQLConfig struct {
	Host     string     `mapstructure:"host"`
	Port     int        `mapstructure:"port"`
	Database string     `mapstructure:"database"`
	User     string     `mapstructure:"user"`
	Password string     `mapstructure:"password"`
	Params   string     `mapstructure:"params"`
	Pool     PoolConfig `mapstructure:"pool"`
}

// PoolConfig 连接池配置，只对 mysql 生效
type PoolConfig struct {
	MaxOpenConns  int   `mapstructure:"max_open_conns"`
	MinIdleConns  int   `mapstructure:"min_idle_conns"`
	ConnTimeoutMs int64 `mapstructure:"conn_timeout_ms"`
	IdleTimeoutMs int64 `mapstructure:"idle_timeout_ms"`
	MaxLifetimeMs int64 `mapstructure:"max_lifetime_ms"`
}

type FormatConfig struct {
	Decimals int    `mapstructure:"decimals"` // 小数位数 D，0-8
	Locale   string `mapstructure:"locale"`
}

// CurrencyConfig 货币展示配置，format 模板支持 {amount} {symbol} {name} 占位符
type CurrencyConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Singular string `mapstructure:"singular"`
	Plural   string `mapstructure:"plural"`
	Format   string `mapstructure:"format"`
}

type AutosaveConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

type FlushConfig struct {
	DirtyThreshold int `mapstructure:"dirty_threshold"` // 脏账户数达到阈值时触发自动刷盘
}

// PayConfig 玩家间转账配置
type PayConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	Min                   float64 `mapstructure:"min"`
	TaxPercent            float64 `mapstructure:"tax_percent"`
	CooldownSeconds       int     `mapstructure:"cooldown_seconds"`
	AllowPaySelf          bool    `mapstructure:"allow_pay_self"`
	TaxMode               string  `mapstructure:"tax_mode"` // sink（销毁）或 treasury（入国库账户）
	TreasuryID            string  `mapstructure:"treasury_id"`
	ConfirmAbove          float64 `mapstructure:"confirm_above"`
	ConfirmTimeoutSeconds int     `mapstructure:"confirm_timeout_seconds"`
}

// TreasuryUUID 解析国库账户ID，非法时返回零值 UUID
func (p PayConfig) TreasuryUUID() uuid.UUID {
	id, err := uuid.Parse(p.TreasuryID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// AntiAbuseConfig 反滥用检测配置，阈值为 0 表示关闭对应检查
type AntiAbuseConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	AlertAdmins       bool    `mapstructure:"alert_admins"`
	BlockOnTrigger    bool    `mapstructure:"block_on_trigger"`
	AutoFlag          bool    `mapstructure:"auto_flag"`
	MaxTxPerMinute    int     `mapstructure:"max_tx_per_minute"`
	WindowSeconds     int     `mapstructure:"window_seconds"`
	WindowMaxAmount   float64 `mapstructure:"window_max_amount"`
	DailyMaxAmount    float64 `mapstructure:"daily_max_amount"`
	SingleTxMaxAmount float64 `mapstructure:"single_tx_max_amount"`
}

type TopCacheConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	RefreshMinutes int  `mapstructure:"refresh_minutes"`
	Size           int  `mapstructure:"size"`
}

type TopConfig struct {
	Default int `mapstructure:"default"`
	Max     int `mapstructure:"max"`
}

type BalancesConfig struct {
	OnlyOnline bool    `mapstructure:"only_online"`
	PerPage    int     `mapstructure:"per_page"`
	Sort       string  `mapstructure:"sort"` // BAL_DESC / BAL_ASC / NAME_ASC / NAME_DESC
	Min        float64 `mapstructure:"min"`
}

type AuditConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	PerPage            int  `mapstructure:"per_page"`
	PurgeOnStart       bool `mapstructure:"purge_on_start"`
	PurgeOlderThanDays int  `mapstructure:"purge_older_than_days"`
}

type PlayerConfig struct {
	HistoryDaysLimit  int `mapstructure:"history_days_limit"`
	HistoryMaxResults int `mapstructure:"history_max_results"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AdminAlerts    string `mapstructure:"admin_alerts"`
	TransferEvents string `mapstructure:"transfer_events"`
}

type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.normalize()
	return config, nil
}

// normalize 对配置做下限收敛，避免非法值把系统置于不可用状态
func (c *Config) normalize() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}

	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	if c.Storage.Type != "mysql" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.SQLite.File == "" {
		c.Storage.SQLite.File = "gameledger.db"
	}
	c.Storage.MySQL.Pool.MaxOpenConns = maxInt(1, c.Storage.MySQL.Pool.MaxOpenConns)
	c.Storage.MySQL.Pool.MinIdleConns = maxInt(0, c.Storage.MySQL.Pool.MinIdleConns)
	c.Storage.MySQL.Pool.ConnTimeoutMs = maxInt64(1000, c.Storage.MySQL.Pool.ConnTimeoutMs)
	c.Storage.MySQL.Pool.IdleTimeoutMs = maxInt64(1000, c.Storage.MySQL.Pool.IdleTimeoutMs)
	c.Storage.MySQL.Pool.MaxLifetimeMs = maxInt64(1000, c.Storage.MySQL.Pool.MaxLifetimeMs)

	c.Format.Decimals = money.ClampDecimals(c.Format.Decimals)

	c.Autosave.IntervalMinutes = maxInt(1, c.Autosave.IntervalMinutes)
	c.Flush.DirtyThreshold = maxInt(1, c.Flush.DirtyThreshold)

	c.Pay.TaxPercent = maxFloat(0, c.Pay.TaxPercent)
	c.Pay.CooldownSeconds = maxInt(0, c.Pay.CooldownSeconds)
	c.Pay.ConfirmAbove = maxFloat(0, c.Pay.ConfirmAbove)
	c.Pay.ConfirmTimeoutSeconds = maxInt(1, c.Pay.ConfirmTimeoutSeconds)
	if !strings.EqualFold(c.Pay.TaxMode, "treasury") {
		c.Pay.TaxMode = "sink"
	}

	c.AntiAbuse.MaxTxPerMinute = maxInt(0, c.AntiAbuse.MaxTxPerMinute)
	c.AntiAbuse.WindowSeconds = maxInt(0, c.AntiAbuse.WindowSeconds)
	c.AntiAbuse.WindowMaxAmount = maxFloat(0, c.AntiAbuse.WindowMaxAmount)
	c.AntiAbuse.DailyMaxAmount = maxFloat(0, c.AntiAbuse.DailyMaxAmount)
	c.AntiAbuse.SingleTxMaxAmount = maxFloat(0, c.AntiAbuse.SingleTxMaxAmount)

	c.TopCache.RefreshMinutes = maxInt(1, c.TopCache.RefreshMinutes)
	c.TopCache.Size = maxInt(1, c.TopCache.Size)
	c.Top.Default = maxInt(1, c.Top.Default)
	c.Top.Max = maxInt(1, c.Top.Max)

	c.Balances.PerPage = maxInt(1, c.Balances.PerPage)
	if c.Balances.Sort == "" {
		c.Balances.Sort = "BAL_DESC"
	}

	c.Audit.PerPage = maxInt(1, c.Audit.PerPage)
	c.Audit.PurgeOlderThanDays = maxInt(1, c.Audit.PurgeOlderThanDays)

	c.Player.HistoryDaysLimit = maxInt(1, c.Player.HistoryDaysLimit)
	c.Player.HistoryMaxResults = maxInt(1, c.Player.HistoryMaxResults)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ============================================================================
// 配置热更新
// ============================================================================

// Holder 配置持有者
//
// reload_config 管理操作需要在不重启进程的前提下替换配置，
// 各服务不直接持有 *Config，而是持有 Holder，每次读取当前快照。
// 读路径无锁（原子指针），替换整体原子生效。
type Holder struct {
	v atomic.Pointer[Config]
}

func NewHolder(c *Config) *Holder {
	h := &Holder{}
	h.v.Store(c)
	return h
}

// Get 返回当前配置快照，调用方不得修改返回值
func (h *Holder) Get() *Config {
	return h.v.Load()
}

// Set 原子替换配置
func (h *Holder) Set(c *Config) {
	h.v.Store(c)
}
