package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"gameledger/internal/config"
	"gameledger/pkg/money"
)

// ============================================================================
// 反滥用检测
// ============================================================================
//
// 对每个发送者维护三组滑动窗口序列：
//   - 速率窗口：最近 60 秒内的转账时间戳
//   - 短窗金额：最近 window_seconds 秒内的转账金额
//   - 日累计：  最近 24 小时内的转账金额
//
// 【判定顺序】本次事件先入窗再比较，按固定顺序取第一个命中的：
//   RATE_LIMIT_PER_MINUTE > WINDOW_MAX_AMOUNT > DAILY_MAX_AMOUNT > SINGLE_TX_MAX_AMOUNT
//
// 阈值为 0 的检查视为关闭（短窗金额还要求 window_seconds > 0）。
// 命中只说明"可疑"，是否真正拦截
// 由 block_on_trigger 决定，两个判定分开返回。
// ============================================================================

const (
	rateWindowMs  = 60_000
	dailyWindowMs = 86_400_000
)

// 触发原因，固定取值，原样进入自动标记的 flag_reason 和运营告警
const (
	ReasonRateLimit         = "RATE_LIMIT_PER_MINUTE"
	ReasonWindowMaxAmount   = "WINDOW_MAX_AMOUNT"
	ReasonDailyMaxAmount    = "DAILY_MAX_AMOUNT"
	ReasonSingleTxMaxAmount = "SINGLE_TX_MAX_AMOUNT"
)

// AntiAbuseResult 检测结果
// Triggered 表示命中任一规则；Block 表示需要拦截本次转账
type AntiAbuseResult struct {
	Triggered bool
	Block     bool
	Reason    string
}

type amountAt struct {
	atMs   int64
	amount float64
}

type senderWindow struct {
	times  []int64    // 速率窗口
	window []amountAt // 短窗金额
	daily  []amountAt // 日累计
}

type AntiAbuseService struct {
	cfg *config.Holder

	mu      sync.Mutex
	senders map[uuid.UUID]*senderWindow

	now func() time.Time
}

func NewAntiAbuseService(cfg *config.Holder) *AntiAbuseService {
	return &AntiAbuseService{
		cfg:     cfg,
		senders: make(map[uuid.UUID]*senderWindow),
		now:     time.Now,
	}
}

// CheckPay 记录一次转账尝试并返回检测结果
// 事件总是入窗：被拦截的尝试同样计入后续窗口
func (s *AntiAbuseService) CheckPay(from uuid.UUID, amount float64) AntiAbuseResult {
	return s.check(from, amount, true)
}

// Recheck 只评估不记录
// 扣款前的二次检测使用：本次尝试在入口处已经入窗，
// 这里对着共享状态重新评估，关掉确认/并发带来的时间窗
func (s *AntiAbuseService) Recheck(from uuid.UUID, amount float64) AntiAbuseResult {
	return s.check(from, amount, false)
}

func (s *AntiAbuseService) check(from uuid.UUID, amount float64, record bool) AntiAbuseResult {
	c := s.cfg.Get().AntiAbuse
	if !c.Enabled {
		return AntiAbuseResult{}
	}

	nowMs := s.now().UnixMilli()
	windowMs := int64(c.WindowSeconds) * 1000

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.senders[from]
	if !ok {
		w = &senderWindow{}
		s.senders[from] = w
	}

	// 先剪枝再入窗
	w.times = pruneTimes(w.times, nowMs-rateWindowMs)
	w.window = pruneAmounts(w.window, nowMs-windowMs)
	w.daily = pruneAmounts(w.daily, nowMs-dailyWindowMs)

	if record {
		w.times = append(w.times, nowMs)
		w.window = append(w.window, amountAt{atMs: nowMs, amount: amount})
		w.daily = append(w.daily, amountAt{atMs: nowMs, amount: amount})
	}

	reason := ""
	switch {
	case c.MaxTxPerMinute > 0 && len(w.times) > c.MaxTxPerMinute:
		reason = ReasonRateLimit
	case c.WindowSeconds > 0 && c.WindowMaxAmount > 0 && sumAmounts(w.window)-money.Epsilon > c.WindowMaxAmount:
		reason = ReasonWindowMaxAmount
	case c.DailyMaxAmount > 0 && sumAmounts(w.daily)-money.Epsilon > c.DailyMaxAmount:
		reason = ReasonDailyMaxAmount
	case c.SingleTxMaxAmount > 0 && amount-money.Epsilon > c.SingleTxMaxAmount:
		reason = ReasonSingleTxMaxAmount
	}

	if reason == "" {
		return AntiAbuseResult{}
	}
	return AntiAbuseResult{
		Triggered: true,
		Block:     c.BlockOnTrigger,
		Reason:    reason,
	}
}

// Reset 清空某个发送者的窗口，管理排查用
func (s *AntiAbuseService) Reset(from uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.senders, from)
}

// TrackedSenders 当前持有窗口的发送者数
func (s *AntiAbuseService) TrackedSenders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.senders)
}

// pruneTimes 丢掉 cutoff 之前的时间戳
func pruneTimes(ts []int64, cutoffMs int64) []int64 {
	i := 0
	for i < len(ts) && ts[i] <= cutoffMs {
		i++
	}
	return ts[i:]
}

// pruneAmounts 丢掉 cutoff 之前的金额记录
func pruneAmounts(as []amountAt, cutoffMs int64) []amountAt {
	i := 0
	for i < len(as) && as[i].atMs <= cutoffMs {
		i++
	}
	return as[i:]
}

func sumAmounts(as []amountAt) float64 {
	sum := 0.0
	for _, a := range as {
		sum += a.amount
	}
	return sum
}
