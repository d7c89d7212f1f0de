package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/model"
)

// ============================================================================
// 审计服务
// ============================================================================
//
// 【核心原则：审计永远不拖慢经济操作】
//   - Log 只往有界通道里投递，不等待后端
//   - 通道满时丢弃最新一条并告警，绝不阻塞调用方
//   - 后端写入失败只记日志，不向上传播
//
// 审计是尽力而为的流水，经济状态的权威在账户缓存，不在这张表。
// ============================================================================

// auditQueueCap 投递通道容量，满了之后走丢弃路径
const auditQueueCap = 1024

// FlagInfo 写入时附带的标记信息，自动标记路径使用
type FlagInfo struct {
	Flag      bool
	Reason    string
	FlaggedBy *uuid.UUID
}

type auditEntry struct {
	rec  model.AuditRecord
	flag *FlagInfo
}

type AuditService struct {
	repo AuditRepo
	cfg  *config.Holder
	log  *logrus.Logger

	enabled atomic.Bool
	queue   chan auditEntry
	wg      sync.WaitGroup

	closeOnce sync.Once
	dropped   atomic.Int64

	now func() time.Time
}

func NewAuditService(repo AuditRepo, cfg *config.Holder, log *logrus.Logger) *AuditService {
	s := &AuditService{
		repo:  repo,
		cfg:   cfg,
		log:   log,
		queue: make(chan auditEntry, auditQueueCap),
		now:   time.Now,
	}
	s.enabled.Store(cfg.Get().Audit.Enabled)
	return s
}

// Start 启动写入协程
func (s *AuditService) Start() {
	s.wg.Add(1)
	go s.worker()
}

func (s *AuditService) worker() {
	defer s.wg.Done()
	for entry := range s.queue {
		s.persist(entry)
	}
}

func (s *AuditService) persist(entry auditEntry) {
	ctx := context.Background()

	id, err := s.repo.Insert(ctx, &entry.rec)
	if err != nil {
		// 写入失败只告警，流水丢失不影响经济状态
		s.log.WithError(err).Warn("[Audit] 流水写入失败")
		return
	}

	if entry.flag != nil && entry.flag.Flag {
		if err := s.repo.Flag(ctx, id, entry.flag.FlaggedBy, entry.flag.Reason); err != nil {
			s.log.WithError(err).WithField("id", id).Warn("[Audit] 自动标记失败")
		}
	}
}

// Log 投递一条流水，永不阻塞
// source/typ 见 model 包常量；actor/target 可为 nil（系统操作）
func (s *AuditService) Log(source, typ string, actor, target *uuid.UUID, amount float64, flag *FlagInfo) {
	if !s.enabled.Load() {
		return
	}

	rec := model.AuditRecord{
		AtEpochMs: s.now().UnixMilli(),
		Source:    source,
		Type:      typ,
		Amount:    amount,
	}
	if actor != nil {
		v := actor.String()
		rec.ActorID = &v
	}
	if target != nil {
		v := target.String()
		rec.TargetID = &v
	}

	select {
	case s.queue <- auditEntry{rec: rec, flag: flag}:
	default:
		// 丢弃最新一条，保住已排队的
		n := s.dropped.Add(1)
		s.log.WithField("dropped_total", n).Warn("[Audit] 流水队列已满，丢弃记录")
	}
}

// SetEnabled 运行时开关审计
func (s *AuditService) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled 当前开关状态
func (s *AuditService) Enabled() bool {
	return s.enabled.Load()
}

// Dropped 累计丢弃条数
func (s *AuditService) Dropped() int64 {
	return s.dropped.Load()
}

// QueueDepth 当前排队条数
func (s *AuditService) QueueDepth() int {
	return len(s.queue)
}

// Close 停止接收并等待已排队的流水写完
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

// PurgeOnStart 按配置异步清理过期流水，失败不影响启动
func (s *AuditService) PurgeOnStart() {
	c := s.cfg.Get()
	if !c.Audit.PurgeOnStart {
		return
	}
	days := c.Audit.PurgeOlderThanDays

	go func() {
		n, err := s.repo.PurgeOlderThan(context.Background(), days)
		if err != nil {
			s.log.WithError(err).Warn("[Audit] 启动清理失败")
			return
		}
		if n > 0 {
			s.log.WithFields(logrus.Fields{"purged": n, "days": days}).Info("[Audit] 启动清理完成")
		}
	}()
}
