package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gameledger/internal/model"
)

// 排序键，list 接口使用
const (
	SortBalDesc  = "BAL_DESC"
	SortBalAsc   = "BAL_ASC"
	SortNameAsc  = "NAME_ASC"
	SortNameDesc = "NAME_DESC"
)

// AccountRepository 账户表仓储
//
// 只有 warmup（LoadAll）和全服查询走这里的读路径；
// 热路径的余额读写都在内存缓存，仓储唯一的写入口是 UpsertBatch。
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// LoadAll 全表扫描，仅在启动 warmup 时调用
func (r *AccountRepository) LoadAll(ctx context.Context) ([]model.Account, error) {
	var rows []model.Account
	err := r.db.WithContext(ctx).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("加载账户表失败: %w", err)
	}
	return rows, nil
}

// UpsertBatch 批量落盘脏账户
//
// 【关键点】整批走一条带 upsert 子句的批量插入：
// 1. 幂等 —— 以 id 为冲突键，重复执行结果一致
// 2. 全有全无 —— 语句失败时整批视为失败，调用方保留脏集合等待重试
//
// sqlite 生成 ON CONFLICT ... DO UPDATE，mysql 生成 ON DUPLICATE KEY UPDATE，
// 由 gorm clause 层按方言翻译。
func (r *AccountRepository) UpsertBatch(ctx context.Context, rows []model.Account) error {
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	for i := range rows {
		rows[i].UpdatedMs = now
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "balance", "updated_ms", "notify", "locked", "last_activity_ms",
			}),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("批量落盘账户失败: %w", err)
	}
	return nil
}

// CountByMin 统计余额不低于 min 的账户数
func (r *AccountRepository) CountByMin(ctx context.Context, min float64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("balance >= ?", min).
		Count(&total).Error
	return total, err
}

// List 分页列出余额不低于 min 的账户
func (r *AccountRepository) List(ctx context.Context, min float64, sort string, limit, offset int) ([]model.Account, error) {
	var rows []model.Account
	err := r.db.WithContext(ctx).
		Where("balance >= ?", min).
		Order(orderBy(sort)).
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

// Top 余额榜前 limit 名，余额降序、同额按名字升序
func (r *AccountRepository) Top(ctx context.Context, min float64, limit int) ([]model.Account, error) {
	var rows []model.Account
	err := r.db.WithContext(ctx).
		Where("balance >= ?", min).
		Order("balance DESC, name ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// RankOf 返回账户的余额排名：1 + 余额严格更高的账户数
// 账户不存在时按余额 0 参与排名
func (r *AccountRepository) RankOf(ctx context.Context, id uuid.UUID) (int, error) {
	var balance float64
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Select("balance").
		Where("id = ?", id.String()).
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}

	var higher int64
	err = r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("balance > ?", balance).
		Count(&higher).Error
	if err != nil {
		return 0, err
	}

	return int(higher) + 1, nil
}

func orderBy(sort string) string {
	switch strings.ToUpper(strings.TrimSpace(sort)) {
	case SortBalAsc:
		return "balance ASC, name ASC"
	case SortNameAsc:
		return "name ASC, balance DESC"
	case SortNameDesc:
		return "name DESC, balance DESC"
	default:
		return "balance DESC, name ASC"
	}
}
