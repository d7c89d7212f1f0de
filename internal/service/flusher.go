package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
)

// ============================================================================
// 刷盘协调器
// ============================================================================
//
// 【刷盘触发的三个来源】
//   1. 管理操作（give/take/set、手动 flush）-> Request 异步合并
//   2. 脏账户数达到阈值                     -> MaybeAutoFlush
//   3. 周期任务与停机                       -> FlushSync 同步等待
//
// 【并发保证】
//   - flushMu 保证任意时刻最多一次刷盘在执行，停机的 FlushSync
//     会等待进行中的异步刷盘结束后再落一次
//   - queued 把刷盘进行期间的新请求合并为"结束后再补一轮"，
//     而不是为每个请求各起一轮
// ============================================================================

type Flusher struct {
	store *AccountStore
	cfg   *config.Holder
	log   *logrus.Logger

	flushMu sync.Mutex
	queued  atomic.Bool

	lastFlushAtMs       atomic.Int64
	lastFlushDurationMs atomic.Int64
}

func NewFlusher(store *AccountStore, cfg *config.Holder, log *logrus.Logger) *Flusher {
	return &Flusher{store: store, cfg: cfg, log: log}
}

// Request 请求一次异步刷盘
// 已有刷盘在排队或执行时只置合并标记，不重复起协程
func (f *Flusher) Request() {
	if !f.queued.CompareAndSwap(false, true) {
		return
	}
	go func() {
		f.flushMu.Lock()
		defer f.flushMu.Unlock()
		// 合并标记要等拿到 flushMu 之后才摘：
		// 刷盘进行期间的 Request 只置标记，由本协程随后补上一轮
		f.queued.Store(false)
		f.flushLocked(context.Background())
	}()
}

// FlushSync 同步刷盘，周期任务和停机路径使用
func (f *Flusher) FlushSync(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()
	return f.flushLocked(ctx)
}

// MaybeAutoFlush 脏账户数达到阈值时触发异步刷盘
func (f *Flusher) MaybeAutoFlush() {
	if f.store.DirtySize() >= f.cfg.Get().Flush.DirtyThreshold {
		f.Request()
	}
}

// flushLocked 执行一轮刷盘，调用方必须持有 flushMu
func (f *Flusher) flushLocked(ctx context.Context) error {
	dirty := f.store.DirtySize()
	if dirty == 0 {
		return nil
	}

	start := time.Now()
	err := f.store.FlushDirty(ctx)
	elapsed := time.Since(start)

	f.lastFlushAtMs.Store(start.UnixMilli())
	f.lastFlushDurationMs.Store(elapsed.Milliseconds())

	if err != nil {
		// 失败时脏集合保留在缓存里，下一次触发重试
		f.log.WithError(err).WithField("dirty", dirty).Warn("[Flusher] 刷盘失败，等待重试")
		return err
	}

	f.log.WithFields(logrus.Fields{
		"accounts": dirty,
		"cost":     elapsed.String(),
	}).Info("[Flusher] 刷盘完成")
	return nil
}

// Queued 是否有合并后的异步刷盘在等待执行
func (f *Flusher) Queued() bool {
	return f.queued.Load()
}

// LastFlushAtMs 最近一次刷盘的开始时间（毫秒），0 表示尚未刷过
func (f *Flusher) LastFlushAtMs() int64 {
	return f.lastFlushAtMs.Load()
}

// LastFlushDurationMs 最近一次刷盘耗时（毫秒）
func (f *Flusher) LastFlushDurationMs() int64 {
	return f.lastFlushDurationMs.Load()
}
