package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"gameledger/internal/config"
	"gameledger/internal/repository"
	"gameledger/internal/service"
	"gameledger/pkg/money"
	"gameledger/pkg/response"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg        *config.Holder
	configPath string

	store     *service.AccountStore
	transfer  *service.TransferService
	economy   *service.EconomyService
	audit     *service.AuditService
	auditRepo *repository.AuditRepository
	antiAbuse *service.AntiAbuseService
	topCache  *service.TopCacheService
	flusher   *service.Flusher
	db        *gorm.DB
	log       *logrus.Logger
}

// Deps 处理器依赖，由 main 显式装配
type Deps struct {
	Cfg        *config.Holder
	ConfigPath string
	Store      *service.AccountStore
	Transfer   *service.TransferService
	Economy    *service.EconomyService
	Audit      *service.AuditService
	AuditRepo  *repository.AuditRepository
	AntiAbuse  *service.AntiAbuseService
	TopCache   *service.TopCacheService
	Flusher    *service.Flusher
	DB         *gorm.DB
	Log        *logrus.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:        d.Cfg,
		configPath: d.ConfigPath,
		store:      d.Store,
		transfer:   d.Transfer,
		economy:    d.Economy,
		audit:      d.Audit,
		auditRepo:  d.AuditRepo,
		antiAbuse:  d.AntiAbuse,
		topCache:   d.TopCache,
		flusher:    d.Flusher,
		db:         d.DB,
		log:        d.Log,
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.ParamError(c, "玩家ID格式错误")
		return uuid.Nil, false
	}
	return id, true
}

// parseOnlineSet 解析 online 参数里逗号分隔的在线玩家ID集合
func parseOnlineSet(c *gin.Context) ([]uuid.UUID, bool) {
	raw := c.Query("online")
	if raw == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			response.ParamError(c, "online 参数错误")
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// ============================================================
// 玩家接口
// ============================================================

// GetBalance 查询玩家余额
// GET /api/v1/player/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !h.store.Exists(id) {
		response.Error(c, response.CodePlayerNotFound, "玩家不存在")
		return
	}

	balance := h.store.Balance(id)
	response.Success(c, gin.H{
		"player_id": id.String(),
		"balance":   balance,
		"formatted": h.economy.Format(balance),
	})
}

// PayRequest 转账请求
type PayRequest struct {
	From   string  `json:"from" binding:"required,uuid"`
	To     string  `json:"to" binding:"required,uuid"`
	Amount float64 `json:"amount" binding:"required"`
}

// Pay 玩家间转账
// POST /api/v1/pay
func (h *Handler) Pay(c *gin.Context) {
	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	from := uuid.MustParse(req.From)
	to := uuid.MustParse(req.To)

	res, err := h.transfer.Pay(from, to, req.Amount)
	if err != nil {
		h.writeTransferError(c, err)
		return
	}
	response.Success(c, res)
}

// ConfirmRequest 大额转账确认请求
type ConfirmRequest struct {
	From string `json:"from" binding:"required,uuid"`
}

// PayConfirm 确认此前挂起的大额转账
// POST /api/v1/pay/confirm
func (h *Handler) PayConfirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	res, err := h.transfer.Confirm(uuid.MustParse(req.From))
	if err != nil {
		h.writeTransferError(c, err)
		return
	}
	response.Success(c, res)
}

// writeTransferError 把业务错误映射为对外错误码
func (h *Handler) writeTransferError(c *gin.Context, err error) {
	var (
		belowMin *service.BelowMinError
		cooldown *service.CooldownError
		blocked  *service.BlockedError
		confirm  *service.ConfirmationRequiredError
	)

	switch {
	case errors.Is(err, service.ErrPayDisabled):
		response.Error(c, response.CodePayDisabled, err.Error())
	case errors.Is(err, service.ErrPlayerNotFound):
		response.Error(c, response.CodePlayerNotFound, err.Error())
	case errors.Is(err, service.ErrSelfPay), errors.Is(err, service.ErrInvalidAmount):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrTargetLocked):
		response.Error(c, response.CodeLocked, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		response.Error(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrConfirmationMissing):
		response.Error(c, response.CodeConfirmationMissing, err.Error())
	case errors.Is(err, service.ErrConfirmationExpired):
		response.Error(c, response.CodeConfirmationMissing, err.Error())
	case errors.As(err, &belowMin):
		response.BusinessError(c, response.CodeBelowMin, err.Error(), gin.H{"min": belowMin.Min})
	case errors.As(err, &cooldown):
		response.BusinessError(c, response.CodeRateLimited, err.Error(), gin.H{"seconds_left": cooldown.SecondsLeft})
	case errors.As(err, &blocked):
		response.BusinessError(c, response.CodeBlocked, err.Error(), gin.H{"reason": blocked.Reason})
	case errors.As(err, &confirm):
		response.BusinessError(c, response.CodeConfirmationRequired, err.Error(), gin.H{
			"amount":        confirm.Amount,
			"expires_at_ms": confirm.ExpiresAtMs,
		})
	default:
		response.ServerError(c, err.Error())
	}
}

// JoinRequest 玩家进服
type JoinRequest struct {
	ID   string `json:"id" binding:"required,uuid"`
	Name string `json:"name" binding:"required"`
}

// PlayerJoin 玩家进服：懒开户、同步显示名、更新活动时间
// POST /api/v1/player/join
func (h *Handler) PlayerJoin(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	id := uuid.MustParse(req.ID)
	h.store.Ensure(id)
	h.store.UpdateName(id, req.Name)
	h.store.Touch(id)

	response.Success(c, gin.H{"balance": h.store.Balance(id)})
}

// QuitRequest 玩家退服
type QuitRequest struct {
	ID string `json:"id" binding:"required,uuid"`
}

// PlayerQuit 玩家退服：更新活动时间并请求一次异步刷盘
// POST /api/v1/player/quit
func (h *Handler) PlayerQuit(c *gin.Context) {
	var req QuitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	id := uuid.MustParse(req.ID)
	if h.store.Exists(id) {
		h.store.Touch(id)
		h.flusher.Request()
	}
	response.Success(c, nil)
}

// SettingsRequest 玩家偏好设置
type SettingsRequest struct {
	Notify *bool `json:"notify"`
}

// UpdateSettings 更新玩家偏好
// POST /api/v1/player/:id/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !h.store.Exists(id) {
		response.Error(c, response.CodePlayerNotFound, "玩家不存在")
		return
	}

	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if req.Notify != nil {
		h.store.SetNotify(id, *req.Notify)
	}
	response.Success(c, gin.H{"notify": h.store.NotifyEnabled(id)})
}

// Top 余额榜
// GET /api/v1/top?n=10            快照缓存（默认）
// GET /api/v1/top?n=10&live=true  实时查库
// GET /api/v1/top?n=10&online=a,b 在线集合内存榜
func (h *Handler) Top(c *gin.Context) {
	cfg := h.cfg.Get()

	n := cfg.Top.Default
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			response.ParamError(c, "n 参数错误")
			return
		}
		n = v
	}
	if n > cfg.Top.Max {
		n = cfg.Top.Max
	}

	if c.Query("online") != "" {
		online, ok := parseOnlineSet(c)
		if !ok {
			return
		}
		response.Success(c, gin.H{"rows": h.store.TopOnline(online, cfg.Balances.Min, n)})
		return
	}

	if c.Query("live") == "true" {
		rows, err := h.store.TopDB(c.Request.Context(), cfg.Balances.Min, n)
		if err != nil {
			response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
			return
		}
		response.Success(c, gin.H{"rows": rows})
		return
	}

	response.Success(c, gin.H{
		"entries":            h.topCache.Snapshot(n),
		"last_refresh_at_ms": h.topCache.LastRefreshAtMs(),
	})
}

// Balances 余额列表
// GET /api/v1/balances?page=1&sort=BAL_DESC
// only_online 模式下游戏服通过 online 参数带上当前在线集合，列表走内存
func (h *Handler) Balances(c *gin.Context) {
	cfg := h.cfg.Get()

	page := 1
	if raw := c.Query("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			response.ParamError(c, "page 参数错误")
			return
		}
		page = v
	}
	sort := c.DefaultQuery("sort", cfg.Balances.Sort)

	if cfg.Balances.OnlyOnline {
		online, ok := parseOnlineSet(c)
		if !ok {
			return
		}
		response.Success(c, gin.H{
			"rows":  h.store.ListOnline(online, cfg.Balances.Min, sort, page, cfg.Balances.PerPage),
			"page":  page,
			"total": h.store.CountOnline(online, cfg.Balances.Min),
		})
		return
	}

	rows, err := h.store.ListDB(c.Request.Context(), cfg.Balances.Min, sort, page, cfg.Balances.PerPage)
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}
	total, err := h.store.CountDB(c.Request.Context(), cfg.Balances.Min)
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}

	response.Success(c, gin.H{
		"rows":  rows,
		"page":  page,
		"total": total,
	})
}

// History 玩家流水历史
// GET /api/v1/player/:id/history?days=7
func (h *Handler) History(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	cfg := h.cfg.Get()

	days := cfg.Player.HistoryDaysLimit
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			response.ParamError(c, "days 参数错误")
			return
		}
		if v < days {
			days = v
		}
	}

	page, err := h.auditRepo.Query(c.Request.Context(), repository.AuditQuery{
		PlayerID: &id,
		Days:     &days,
		Page:     1,
		PerPage:  cfg.Player.HistoryMaxResults,
		LimitCap: cfg.Player.HistoryMaxResults,
	})
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}
	response.Success(c, page)
}

// Rank 玩家全服余额排名
// GET /api/v1/player/:id/rank
func (h *Handler) Rank(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !h.store.Exists(id) {
		response.Error(c, response.CodePlayerNotFound, "玩家不存在")
		return
	}

	rank, err := h.store.RankOf(c.Request.Context(), id)
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}

	balance := h.store.Balance(id)
	response.Success(c, gin.H{
		"rank":      rank,
		"balance":   balance,
		"formatted": money.Format(balance, h.store.Decimals()),
	})
}
