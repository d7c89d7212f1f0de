package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gameledger/pkg/response"
)

// ============================================================
// 经济适配接口（面向其他系统的标准经济操作）
// ============================================================

// EcoAccount 账户是否存在
// GET /api/v1/economy/account/:id
func (h *Handler) EcoAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	response.Success(c, gin.H{"exists": h.economy.HasAccount(id)})
}

// EcoCreateAccount 开户
// POST /api/v1/economy/account/:id
func (h *Handler) EcoCreateAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	response.Success(c, gin.H{"created": h.economy.CreateAccount(id)})
}

// EcoBalance 查询余额
// GET /api/v1/economy/account/:id/balance
func (h *Handler) EcoBalance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	balance := h.economy.GetBalance(id)
	response.Success(c, gin.H{
		"balance":   balance,
		"formatted": h.economy.Format(balance),
	})
}

// EcoHas 余额是否足额
// GET /api/v1/economy/account/:id/has?amount=10
func (h *Handler) EcoHas(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil {
		response.ParamError(c, "amount 参数错误")
		return
	}
	response.Success(c, gin.H{"has": h.economy.Has(id, amount)})
}

// EcoAmountRequest 存取款请求
type EcoAmountRequest struct {
	ID     string  `json:"id" binding:"required,uuid"`
	Amount float64 `json:"amount"`
}

// EcoDeposit 存款
// POST /api/v1/economy/deposit
func (h *Handler) EcoDeposit(c *gin.Context) {
	var req EcoAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	response.Success(c, h.economy.Deposit(uuid.MustParse(req.ID), req.Amount))
}

// EcoWithdraw 取款
// POST /api/v1/economy/withdraw
func (h *Handler) EcoWithdraw(c *gin.Context) {
	var req EcoAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	response.Success(c, h.economy.Withdraw(uuid.MustParse(req.ID), req.Amount))
}

// EcoCurrency 货币元信息
// GET /api/v1/economy/currency
func (h *Handler) EcoCurrency(c *gin.Context) {
	response.Success(c, gin.H{
		"fractional_digits": h.economy.FractionalDigits(),
		"name_singular":     h.economy.CurrencyNameSingular(),
		"name_plural":       h.economy.CurrencyNamePlural(),
	})
}

// EcoFormat 金额格式化
// GET /api/v1/economy/format?amount=2.5
func (h *Handler) EcoFormat(c *gin.Context) {
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil {
		response.ParamError(c, "amount 参数错误")
		return
	}
	response.Success(c, gin.H{"formatted": h.economy.Format(amount)})
}
