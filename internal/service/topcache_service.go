package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
)

// ============================================================================
// 余额榜缓存
// ============================================================================
//
// 排行查询是展示型需求，允许分钟级陈旧，不值得每次打后端。
// 刷新协程定期从后端重建快照，读方无锁读原子指针，
// 看到的永远是某一次刷新的完整结果。刷新失败保留旧快照。
// ============================================================================

// TopEntry 榜单条目
type TopEntry struct {
	Rank    int       `json:"rank"`
	Name    string    `json:"name"`
	Balance float64   `json:"balance"`
	ID      uuid.UUID `json:"id"`
}

type TopCacheService struct {
	repo AccountsRepo
	cfg  *config.Holder
	log  *logrus.Logger

	snapshot        atomic.Pointer[[]TopEntry]
	lastRefreshAtMs atomic.Int64
}

func NewTopCacheService(repo AccountsRepo, cfg *config.Holder, log *logrus.Logger) *TopCacheService {
	s := &TopCacheService{repo: repo, cfg: cfg, log: log}
	empty := []TopEntry{}
	s.snapshot.Store(&empty)
	return s
}

// Refresh 从后端重建快照
// 失败时告警并保留上一份快照
func (s *TopCacheService) Refresh(ctx context.Context) error {
	c := s.cfg.Get()

	rows, err := s.repo.Top(ctx, c.Balances.Min, c.TopCache.Size)
	if err != nil {
		s.log.WithError(err).Warn("[TopCache] 刷新失败，保留旧快照")
		return err
	}

	entries := make([]TopEntry, 0, len(rows))
	for _, r := range rows {
		id, perr := uuid.Parse(r.ID)
		if perr != nil {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		// 名次跟着收进快照的行数走，跳过坏行不留空档
		entries = append(entries, TopEntry{
			Rank:    len(entries) + 1,
			Name:    name,
			Balance: r.Balance,
			ID:      id,
		})
	}

	s.snapshot.Store(&entries)
	s.lastRefreshAtMs.Store(time.Now().UnixMilli())
	s.log.WithField("entries", len(entries)).Debug("[TopCache] 快照已刷新")
	return nil
}

// Snapshot 返回当前快照的前 n 条，调用方不得修改返回切片
func (s *TopCacheService) Snapshot(n int) []TopEntry {
	entries := *s.snapshot.Load()
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}

// LastRefreshAtMs 最近一次成功刷新的时间（毫秒），0 表示从未
func (s *TopCacheService) LastRefreshAtMs() int64 {
	return s.lastRefreshAtMs.Load()
}
