package service

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/model"
	"gameledger/pkg/money"
)

// ============================================================================
// 转账编排
// ============================================================================
//
// 【流水线顺序】开关 -> 对方存在 -> 禁止自转 -> 对方锁定 ->
// 金额取整/下限 -> 冷却 -> 反滥用 -> 大额确认 -> 执行转账
//
// 【两次反滥用检测】入口处检测并记录一次，真正扣款前再评估一次：
// 大额确认会把执行推迟到确认调用，中间可能又发生了别的转账，
// 扣款前的二次评估关掉这个窗口。二次评估对着共享的窗口状态，
// 但不把同一笔再记一次。
//
// 【冷却先于反滥用】冷却时间戳在反滥用检测之前落下，
// 被拦截的尝试同样消耗冷却窗口，拦截不能被用来探测阈值。
//
// 执行阶段之前的任何失败都不改变任何状态。
// ============================================================================

// pendingPay 等待确认的大额转账，按发送者索引，惰性过期
type pendingPay struct {
	to          uuid.UUID
	amount      float64
	expiresAtMs int64
}

// TransferResult 转账成功的结果
type TransferResult struct {
	Amount    float64   `json:"amount"`
	Tax       float64   `json:"tax"`
	Received  float64   `json:"received"`
	Recipient uuid.UUID `json:"recipient"`
	Triggered bool      `json:"triggered"` // 反滥用命中但未拦截
	Reason    string    `json:"reason,omitempty"`
}

type TransferService struct {
	cfg       *config.Holder
	store     *AccountStore
	antiAbuse *AntiAbuseService
	audit     *AuditService
	flusher   *Flusher
	notifier  *Notifier
	log       *logrus.Logger

	mu        sync.Mutex
	lastPayMs map[uuid.UUID]int64
	pending   map[uuid.UUID]pendingPay

	now func() time.Time
}

func NewTransferService(
	cfg *config.Holder,
	store *AccountStore,
	antiAbuse *AntiAbuseService,
	audit *AuditService,
	flusher *Flusher,
	notifier *Notifier,
	log *logrus.Logger,
) *TransferService {
	return &TransferService{
		cfg:       cfg,
		store:     store,
		antiAbuse: antiAbuse,
		audit:     audit,
		flusher:   flusher,
		notifier:  notifier,
		log:       log,
		lastPayMs: make(map[uuid.UUID]int64),
		pending:   make(map[uuid.UUID]pendingPay),
		now:       time.Now,
	}
}

// Pay 发起一次转账
// 需要确认时返回 *ConfirmationRequiredError，由 Confirm 接续执行
func (s *TransferService) Pay(from, to uuid.UUID, amount float64) (*TransferResult, error) {
	c := s.cfg.Get()
	pay := c.Pay

	if !pay.Enabled {
		return nil, ErrPayDisabled
	}
	if !s.store.Exists(to) {
		return nil, ErrPlayerNotFound
	}
	if from == to && !pay.AllowPaySelf {
		return nil, ErrSelfPay
	}
	if s.store.Locked(to) {
		return nil, ErrTargetLocked
	}

	amount = money.Round(amount, c.Format.Decimals)
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount+money.Epsilon < pay.Min {
		return nil, &BelowMinError{Min: pay.Min}
	}

	// 冷却：查与盖章在同一把锁内
	if pay.CooldownSeconds > 0 {
		nowMs := s.now().UnixMilli()
		s.mu.Lock()
		last := s.lastPayMs[from]
		leftMs := last + int64(pay.CooldownSeconds)*1000 - nowMs
		if leftMs > 0 {
			s.mu.Unlock()
			return nil, &CooldownError{SecondsLeft: (leftMs + 999) / 1000}
		}
		s.lastPayMs[from] = nowMs
		s.mu.Unlock()
	}

	ar := s.antiAbuse.CheckPay(from, amount)
	if ar.Triggered {
		s.alertAdmins(from, amount, ar)
		if ar.Block {
			return nil, &BlockedError{Reason: ar.Reason}
		}
	}

	if pay.ConfirmAbove > 0 && amount >= pay.ConfirmAbove {
		exp := s.now().UnixMilli() + int64(pay.ConfirmTimeoutSeconds)*1000
		s.mu.Lock()
		s.pending[from] = pendingPay{to: to, amount: amount, expiresAtMs: exp}
		s.mu.Unlock()
		return nil, &ConfirmationRequiredError{Amount: amount, ExpiresAtMs: exp}
	}

	return s.doTransfer(from, to, amount)
}

// Confirm 执行此前挂起的大额转账
func (s *TransferService) Confirm(from uuid.UUID) (*TransferResult, error) {
	s.mu.Lock()
	pp, ok := s.pending[from]
	if !ok {
		s.mu.Unlock()
		return nil, ErrConfirmationMissing
	}
	delete(s.pending, from)
	s.mu.Unlock()

	if s.now().UnixMilli() > pp.expiresAtMs {
		return nil, ErrConfirmationExpired
	}

	return s.doTransfer(from, pp.to, pp.amount)
}

// HasPending 发送者是否有未过期的待确认转账
func (s *TransferService) HasPending(from uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pp, ok := s.pending[from]
	return ok && s.now().UnixMilli() <= pp.expiresAtMs
}

// doTransfer 执行阶段：反滥用二次评估、扣款、入账、税、审计、通知
func (s *TransferService) doTransfer(from, to uuid.UUID, amount float64) (*TransferResult, error) {
	c := s.cfg.Get()
	dec := c.Format.Decimals

	amount = money.Round(amount, dec)
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ar := s.antiAbuse.Recheck(from, amount)
	if ar.Triggered {
		s.alertAdmins(from, amount, ar)
		if ar.Block {
			return nil, &BlockedError{Reason: ar.Reason}
		}
	}

	if !s.store.Has(from, amount) {
		return nil, ErrInsufficientFunds
	}

	tax := money.Round(amount*(c.Pay.TaxPercent/100.0), dec)
	received := money.Round(maxF(0, amount-tax), dec)

	// has 和 remove 之间窗口里余额可能已被并发消耗，以 remove 的结果为准
	if !s.store.Remove(from, amount) {
		return nil, ErrInsufficientFunds
	}

	s.store.Add(to, received)

	if tax > money.Epsilon && strings.EqualFold(c.Pay.TaxMode, "treasury") {
		if treasury := c.Pay.TreasuryUUID(); treasury != uuid.Nil {
			s.store.Add(treasury, tax)
		}
	}

	var flag *FlagInfo
	if c.AntiAbuse.Enabled && c.AntiAbuse.AutoFlag && ar.Triggered {
		by := from
		flag = &FlagInfo{Flag: true, Reason: "ANTI_ABUSE:" + ar.Reason, FlaggedBy: &by}
	}

	s.audit.Log(model.SourcePay, model.TypeTransfer, &from, &to, amount, flag)
	s.flusher.MaybeAutoFlush()

	if s.store.NotifyEnabled(to) {
		s.notifier.NotifyPlayer(to, "pay.received",
			money.Format(received, dec)+" <- "+s.store.Name(from))
	}
	s.notifier.TransferEvent(from, to, amount, tax, received)

	return &TransferResult{
		Amount:    amount,
		Tax:       tax,
		Received:  received,
		Recipient: to,
		Triggered: ar.Triggered,
		Reason:    ar.Reason,
	}, nil
}

func (s *TransferService) alertAdmins(from uuid.UUID, amount float64, ar AntiAbuseResult) {
	c := s.cfg.Get().AntiAbuse
	if !c.Enabled || !c.AlertAdmins {
		return
	}
	reason := ar.Reason
	if reason == "" {
		reason = "UNKNOWN"
	}
	s.log.WithFields(logrus.Fields{
		"player": from.String(),
		"amount": amount,
		"reason": reason,
	}).Warn("[Transfer] 反滥用命中")
	s.notifier.AdminAlert(from, reason, amount)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
