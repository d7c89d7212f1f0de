package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gameledger/internal/model"
)

var ErrAuditNotFound = errors.New("审计记录不存在")

// recentIDsCap recent 查询的硬上限
const recentIDsCap = 200

// AuditQuery 审计流水过滤条件
// 指针字段为 nil 表示不过滤该维度
type AuditQuery struct {
	PlayerID  *uuid.UUID // 匹配 actor 或 target
	Source    *string
	Type      *string
	Days      *int // 只看最近 N 天
	MinAmount *float64
	Flagged   *bool
	Page      int // >= 1，超出范围时收敛到 [1, pages]
	PerPage   int // >= 1
	LimitCap  int // >= 1，实际页大小 = min(PerPage, LimitCap)
}

// AuditPage 分页查询结果
type AuditPage struct {
	Rows  []model.AuditRecord `json:"rows"`
	Page  int                 `json:"page"`
	Pages int                 `json:"pages"`
	Total int64               `json:"total"`
}

// AuditRepository 审计流水仓储
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert 写入一条审计记录，返回后端分配的主键
func (r *AuditRepository) Insert(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("写入审计记录失败: %w", err)
	}
	return rec.ID, nil
}

// Flag 标记一条流水
// 只改标记四元组，其余字段不动
func (r *AuditRepository) Flag(ctx context.Context, id int64, by *uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"flagged":       true,
			"flag_reason":   reason,
			"flagged_by":    uuidPtrString(by),
			"flagged_at_ms": time.Now().UnixMilli(),
		}).Error
}

// Unflag 撤销标记，清空原因但保留撤销人与时间
func (r *AuditRepository) Unflag(ctx context.Context, id int64, by *uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"flagged":       false,
			"flag_reason":   nil,
			"flagged_by":    uuidPtrString(by),
			"flagged_at_ms": time.Now().UnixMilli(),
		}).Error
}

// GetByID 按主键查询
func (r *AuditRepository) GetByID(ctx context.Context, id int64) (*model.AuditRecord, error) {
	var rec model.AuditRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuditNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// RecentIDs 最近 limit 条流水的主键，limit 收敛到 [1, 200]
func (r *AuditRepository) RecentIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > recentIDsCap {
		limit = recentIDsCap
	}

	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Order("at_epoch_ms DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// PurgeOlderThan 删除 days 天之前的流水，返回删除条数
func (r *AuditRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UnixMilli() - int64(days)*86_400_000
	result := r.db.WithContext(ctx).
		Where("at_epoch_ms < ?", cutoff).
		Delete(&model.AuditRecord{})
	return result.RowsAffected, result.Error
}

// Query 过滤 + 分页查询，按 at_epoch_ms 降序
func (r *AuditRepository) Query(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	base := r.db.WithContext(ctx).Model(&model.AuditRecord{})

	if q.PlayerID != nil {
		s := q.PlayerID.String()
		base = base.Where("actor_id = ? OR target_id = ?", s, s)
	}
	if q.Source != nil {
		base = base.Where("source = ?", strings.ToUpper(*q.Source))
	}
	if q.Type != nil {
		base = base.Where("type = ?", strings.ToUpper(*q.Type))
	}
	if q.Days != nil {
		cutoff := time.Now().UnixMilli() - int64(*q.Days)*86_400_000
		base = base.Where("at_epoch_ms >= ?", cutoff)
	}
	if q.MinAmount != nil {
		base = base.Where("amount >= ?", *q.MinAmount)
	}
	if q.Flagged != nil {
		base = base.Where("flagged = ?", *q.Flagged)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计审计记录失败: %w", err)
	}

	perPage := maxI(1, q.PerPage)
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	if pages < 1 {
		pages = 1
	}

	// 页码收敛到 [1, pages]
	page := q.Page
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	offset := (page - 1) * perPage

	limitCap := maxI(1, q.LimitCap)
	safePerPage := perPage
	if safePerPage > limitCap {
		safePerPage = limitCap
	}

	var rows []model.AuditRecord
	err := base.Session(&gorm.Session{}).
		Order("at_epoch_ms DESC").
		Limit(safePerPage).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}

	return &AuditPage{Rows: rows, Page: page, Pages: pages, Total: total}, nil
}

func uuidPtrString(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}
