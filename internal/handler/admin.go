package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gameledger/internal/config"
	"gameledger/internal/model"
	"gameledger/internal/repository"
	"gameledger/pkg/response"
)

// ============================================================
// 管理接口
// ============================================================

// Reload 热加载配置
// POST /api/v1/admin/reload
func (h *Handler) Reload(c *gin.Context) {
	cfg, err := config.LoadConfig(h.configPath)
	if err != nil {
		response.ServerError(c, "配置加载失败: "+err.Error())
		return
	}

	h.cfg.Set(cfg)
	h.audit.SetEnabled(cfg.Audit.Enabled)
	h.log.Info("[Admin] 配置已热加载")
	response.Success(c, nil)
}

// Flush 手动同步刷盘
// POST /api/v1/admin/flush
func (h *Handler) Flush(c *gin.Context) {
	if err := h.flusher.FlushSync(c.Request.Context()); err != nil {
		response.Error(c, response.CodeBackendUnavailable, "刷盘失败: "+err.Error())
		return
	}
	response.Success(c, gin.H{
		"last_flush_at_ms":   h.flusher.LastFlushAtMs(),
		"last_flush_cost_ms": h.flusher.LastFlushDurationMs(),
		"dirty_after_flush":  h.store.DirtySize(),
	})
}

// Stats 运行状态
// GET /api/v1/admin/stats
func (h *Handler) Stats(c *gin.Context) {
	response.Success(c, gin.H{
		"accounts_cached":        h.store.Size(),
		"dirty":                  h.store.DirtySize(),
		"audit_enabled":          h.audit.Enabled(),
		"audit_queue_depth":      h.audit.QueueDepth(),
		"audit_dropped":          h.audit.Dropped(),
		"tracked_senders":        h.antiAbuse.TrackedSenders(),
		"flush_queued":           h.flusher.Queued(),
		"last_flush_at_ms":       h.flusher.LastFlushAtMs(),
		"last_flush_cost_ms":     h.flusher.LastFlushDurationMs(),
		"top_last_refresh_at_ms": h.topCache.LastRefreshAtMs(),
	})
}

// Health 健康检查：后端连通性 + 连接池状态
// GET /health
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(503, gin.H{"status": "degraded", "error": err.Error()})
		return
	}

	stats := sqlDB.Stats()
	c.JSON(200, gin.H{
		"status": "ok",
		"db": gin.H{
			"open_conns": stats.OpenConnections,
			"in_use":     stats.InUse,
			"idle":       stats.Idle,
			"wait_count": stats.WaitCount,
		},
	})
}

// AdminAmountRequest 管理加扣款请求
type AdminAmountRequest struct {
	ID     string  `json:"id" binding:"required,uuid"`
	Amount float64 `json:"amount" binding:"required"`
	By     string  `json:"by" binding:"omitempty,uuid"` // 操作者，可空表示控制台
}

func (r AdminAmountRequest) actor() *uuid.UUID {
	if r.By == "" {
		return nil
	}
	id := uuid.MustParse(r.By)
	return &id
}

// Give 管理发钱
// POST /api/v1/admin/give
func (h *Handler) Give(c *gin.Context) {
	var req AdminAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Amount <= 0 {
		response.ParamError(c, "金额必须为正数")
		return
	}

	id := uuid.MustParse(req.ID)
	h.store.Add(id, req.Amount)
	h.audit.Log(model.SourceCommand, model.TypeGive, req.actor(), &id, req.Amount, nil)
	h.flusher.Request()

	response.Success(c, gin.H{"balance": h.store.Balance(id)})
}

// Take 管理扣钱
// POST /api/v1/admin/take
func (h *Handler) Take(c *gin.Context) {
	var req AdminAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Amount <= 0 {
		response.ParamError(c, "金额必须为正数")
		return
	}

	id := uuid.MustParse(req.ID)
	if !h.store.Remove(id, req.Amount) {
		response.Error(c, response.CodeInsufficientFunds, "余额不足")
		return
	}
	h.audit.Log(model.SourceCommand, model.TypeTake, req.actor(), &id, req.Amount, nil)
	h.flusher.Request()

	response.Success(c, gin.H{"balance": h.store.Balance(id)})
}

// Set 管理设置余额
// POST /api/v1/admin/set
func (h *Handler) Set(c *gin.Context) {
	var req AdminAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Amount < 0 {
		response.ParamError(c, "金额不能为负数")
		return
	}

	id := uuid.MustParse(req.ID)
	h.store.Set(id, req.Amount)
	h.audit.Log(model.SourceCommand, model.TypeSet, req.actor(), &id, req.Amount, nil)
	h.flusher.Request()

	response.Success(c, gin.H{"balance": h.store.Balance(id)})
}

// LockRequest 账户锁定请求
type LockRequest struct {
	Locked bool `json:"locked"`
}

// Lock 锁定/解锁账户
// POST /api/v1/admin/player/:id/lock
func (h *Handler) Lock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !h.store.Exists(id) {
		response.Error(c, response.CodePlayerNotFound, "玩家不存在")
		return
	}

	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	h.store.SetLocked(id, req.Locked)
	response.Success(c, gin.H{"locked": h.store.Locked(id)})
}

// GetTx 按主键查询流水
// GET /api/v1/admin/tx/detail/:id
func (h *Handler) GetTx(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "流水ID格式错误")
		return
	}

	rec, err := h.auditRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAuditNotFound) {
			response.Error(c, response.CodeTxNotFound, "流水不存在")
			return
		}
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}
	response.Success(c, rec)
}

// RecentTx 最近流水的主键列表
// GET /api/v1/admin/tx/recent?limit=50
func (h *Handler) RecentTx(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.ParamError(c, "limit 参数错误")
			return
		}
		limit = v
	}

	ids, err := h.auditRepo.RecentIDs(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}
	response.Success(c, gin.H{"ids": ids})
}

// FlagRequest 标记流水请求
type FlagRequest struct {
	By     string `json:"by" binding:"omitempty,uuid"`
	Reason string `json:"reason" binding:"required"`
}

// FlagTx 人工标记一条流水
// POST /api/v1/admin/tx/flag/:id
func (h *Handler) FlagTx(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "流水ID格式错误")
		return
	}

	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var by *uuid.UUID
	if req.By != "" {
		v := uuid.MustParse(req.By)
		by = &v
	}

	if err := h.auditRepo.Flag(c.Request.Context(), id, by, req.Reason); err != nil {
		response.Error(c, response.CodeBackendUnavailable, "标记失败")
		return
	}
	response.Success(c, nil)
}

// UnflagRequest 撤销标记请求
type UnflagRequest struct {
	By string `json:"by" binding:"omitempty,uuid"`
}

// UnflagTx 撤销流水标记
// POST /api/v1/admin/tx/unflag/:id
func (h *Handler) UnflagTx(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "流水ID格式错误")
		return
	}

	var req UnflagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var by *uuid.UUID
	if req.By != "" {
		v := uuid.MustParse(req.By)
		by = &v
	}

	if err := h.auditRepo.Unflag(c.Request.Context(), id, by); err != nil {
		response.Error(c, response.CodeBackendUnavailable, "撤销标记失败")
		return
	}
	response.Success(c, nil)
}

// QueryAudit 审计流水过滤查询
// GET /api/v1/admin/audit?player=&source=&type=&days=&min_amount=&flagged=&page=1
func (h *Handler) QueryAudit(c *gin.Context) {
	cfg := h.cfg.Get()
	q := repository.AuditQuery{
		Page:     1,
		PerPage:  cfg.Audit.PerPage,
		LimitCap: cfg.Audit.PerPage,
	}

	if raw := c.Query("player"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.ParamError(c, "player 参数错误")
			return
		}
		q.PlayerID = &id
	}
	if raw := c.Query("source"); raw != "" {
		v := strings.ToUpper(raw)
		q.Source = &v
	}
	if raw := c.Query("type"); raw != "" {
		v := strings.ToUpper(raw)
		q.Type = &v
	}
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			response.ParamError(c, "days 参数错误")
			return
		}
		q.Days = &v
	}
	if raw := c.Query("min_amount"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			response.ParamError(c, "min_amount 参数错误")
			return
		}
		q.MinAmount = &v
	}
	if raw := c.Query("flagged"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.ParamError(c, "flagged 参数错误")
			return
		}
		q.Flagged = &v
	}
	if raw := c.Query("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.ParamError(c, "page 参数错误")
			return
		}
		q.Page = v
	}

	page, err := h.auditRepo.Query(c.Request.Context(), q)
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "后端暂不可用")
		return
	}
	response.Success(c, page)
}

// AuditToggleRequest 审计开关请求
type AuditToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleAudit 运行时开关审计
// POST /api/v1/admin/audit/enabled
func (h *Handler) ToggleAudit(c *gin.Context) {
	var req AuditToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	h.audit.SetEnabled(req.Enabled)
	response.Success(c, gin.H{"enabled": h.audit.Enabled()})
}

// PurgeRequest 流水清理请求
type PurgeRequest struct {
	Days int `json:"days" binding:"required,min=1"`
}

// PurgeAudit 清理 N 天前的流水
// POST /api/v1/admin/audit/purge
func (h *Handler) PurgeAudit(c *gin.Context) {
	var req PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	n, err := h.auditRepo.PurgeOlderThan(c.Request.Context(), req.Days)
	if err != nil {
		response.Error(c, response.CodeBackendUnavailable, "清理失败")
		return
	}
	response.Success(c, gin.H{"purged": n})
}

// ResetAntiAbuse 清空某发送者的反滥用窗口
// POST /api/v1/admin/antiabuse/:id/reset
func (h *Handler) ResetAntiAbuse(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	h.antiAbuse.Reset(id)
	response.Success(c, nil)
}
