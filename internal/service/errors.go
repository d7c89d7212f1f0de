package service

import (
	"errors"
	"fmt"
)

// 转账/经济操作的业务错误
// 服务层只返回这些错误，由 HTTP 层映射为对外的提示；任何错误都不会越过命令边界
var (
	ErrPayDisabled         = errors.New("转账功能未开启")
	ErrPlayerNotFound      = errors.New("玩家不存在")
	ErrSelfPay             = errors.New("不能给自己转账")
	ErrTargetLocked        = errors.New("对方账户已锁定，无法接收转账")
	ErrInvalidAmount       = errors.New("金额非法")
	ErrInsufficientFunds   = errors.New("余额不足")
	ErrConfirmationMissing = errors.New("没有待确认的转账")
	ErrConfirmationExpired = errors.New("待确认的转账已过期")
)

// BelowMinError 金额低于转账下限
type BelowMinError struct {
	Min float64
}

func (e *BelowMinError) Error() string {
	return fmt.Sprintf("金额低于转账下限 %v", e.Min)
}

// CooldownError 转账冷却中
type CooldownError struct {
	SecondsLeft int64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("转账冷却中，剩余 %d 秒", e.SecondsLeft)
}

// BlockedError 被反滥用检测拦截
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "转账被拦截: " + e.Reason
}

// ConfirmationRequiredError 大额转账需要二次确认
type ConfirmationRequiredError struct {
	Amount      float64
	ExpiresAtMs int64
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("大额转账需要确认: %v", e.Amount)
}
