package service

import (
	"strings"

	"github.com/google/uuid"

	"gameledger/internal/config"
	"gameledger/internal/model"
	"gameledger/pkg/money"
)

// ============================================================================
// 经济适配层
// ============================================================================
//
// 面向其他插件/系统的标准经济接口：存取款、开户、余额查询、金额格式化。
// 约定是"结果对象而非错误"：失败通过 Reason 字段表达
// （negative / player_not_found / not_enough），调用方照常拿到 NewBalance。
// 成功的存取款以 VAULT 来源写入审计流水。
// ============================================================================

// 经济操作失败原因
const (
	ReasonNegative       = "negative"
	ReasonPlayerNotFound = "player_not_found"
	ReasonNotEnough      = "not_enough"
)

// EconomyResult 经济操作结果
type EconomyResult struct {
	Success    bool    `json:"success"`
	NewBalance float64 `json:"new_balance"`
	Reason     string  `json:"reason,omitempty"`
}

type EconomyService struct {
	cfg     *config.Holder
	store   *AccountStore
	audit   *AuditService
	flusher *Flusher
}

func NewEconomyService(cfg *config.Holder, store *AccountStore, audit *AuditService, flusher *Flusher) *EconomyService {
	return &EconomyService{cfg: cfg, store: store, audit: audit, flusher: flusher}
}

// HasAccount 账户是否存在
func (s *EconomyService) HasAccount(id uuid.UUID) bool {
	return s.store.Exists(id)
}

// CreateAccount 开户，已存在时也返回 true
func (s *EconomyService) CreateAccount(id uuid.UUID) bool {
	s.store.Ensure(id)
	return true
}

// GetBalance 查询余额，未知账户为 0
func (s *EconomyService) GetBalance(id uuid.UUID) float64 {
	return s.store.Balance(id)
}

// Has 余额是否足以支付 amount
func (s *EconomyService) Has(id uuid.UUID, amount float64) bool {
	return s.store.Has(id, amount)
}

// Deposit 存入 amount
func (s *EconomyService) Deposit(id uuid.UUID, amount float64) EconomyResult {
	if amount < 0 {
		return EconomyResult{NewBalance: s.store.Balance(id), Reason: ReasonNegative}
	}

	if !s.store.Exists(id) {
		return EconomyResult{Reason: ReasonPlayerNotFound}
	}

	s.store.Add(id, amount)
	s.audit.Log(model.SourceVault, model.TypeDeposit, nil, &id, amount, nil)
	s.flusher.MaybeAutoFlush()
	return EconomyResult{Success: true, NewBalance: s.store.Balance(id)}
}

// Withdraw 取出 amount
func (s *EconomyService) Withdraw(id uuid.UUID, amount float64) EconomyResult {
	if amount < 0 {
		return EconomyResult{NewBalance: s.store.Balance(id), Reason: ReasonNegative}
	}

	if !s.store.Exists(id) {
		return EconomyResult{Reason: ReasonPlayerNotFound}
	}

	if !s.store.Remove(id, amount) {
		return EconomyResult{NewBalance: s.store.Balance(id), Reason: ReasonNotEnough}
	}

	s.audit.Log(model.SourceVault, model.TypeWithdraw, nil, &id, amount, nil)
	s.flusher.MaybeAutoFlush()
	return EconomyResult{Success: true, NewBalance: s.store.Balance(id)}
}

// FractionalDigits 小数位数 D
func (s *EconomyService) FractionalDigits() int {
	return s.cfg.Get().Format.Decimals
}

// CurrencyNameSingular 货币单数名
func (s *EconomyService) CurrencyNameSingular() string {
	return s.cfg.Get().Currency.Singular
}

// CurrencyNamePlural 货币复数名
func (s *EconomyService) CurrencyNamePlural() string {
	return s.cfg.Get().Currency.Plural
}

// Format 按 currency.format 模板格式化金额
// 模板占位符：{amount} {symbol} {name}，|amount| == 1 时用单数名
func (s *EconomyService) Format(amount float64) string {
	c := s.cfg.Get()

	text := money.Format(amount, c.Format.Decimals)
	name := c.Currency.Plural
	if amount == 1 || amount == -1 {
		name = c.Currency.Singular
	}

	tpl := c.Currency.Format
	if tpl == "" {
		tpl = "{symbol}{amount}"
	}

	out := strings.ReplaceAll(tpl, "{amount}", text)
	out = strings.ReplaceAll(out, "{symbol}", c.Currency.Symbol)
	out = strings.ReplaceAll(out, "{name}", name)
	return out
}
