package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(d Deps) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(d.Log))
	r.Use(LoggerMiddleware(d.Log))
	r.Use(CORSMiddleware())

	h := NewHandler(d)

	api := r.Group("/api/v1")
	{
		// 玩家相关
		player := api.Group("/player")
		{
			player.POST("/join", h.PlayerJoin)
			player.POST("/quit", h.PlayerQuit)
			player.GET("/:id/balance", h.GetBalance)
			player.GET("/:id/rank", h.Rank)
			player.GET("/:id/history", h.History)
			player.POST("/:id/settings", h.UpdateSettings)
		}

		// 转账相关
		pay := api.Group("/pay")
		{
			pay.POST("", h.Pay)
			pay.POST("/confirm", h.PayConfirm)
		}

		// 列表与排行
		api.GET("/top", h.Top)
		api.GET("/balances", h.Balances)

		// 经济适配
		economy := api.Group("/economy")
		{
			economy.GET("/account/:id", h.EcoAccount)
			economy.POST("/account/:id", h.EcoCreateAccount)
			economy.GET("/account/:id/balance", h.EcoBalance)
			economy.GET("/account/:id/has", h.EcoHas)
			economy.POST("/deposit", h.EcoDeposit)
			economy.POST("/withdraw", h.EcoWithdraw)
			economy.GET("/currency", h.EcoCurrency)
			economy.GET("/format", h.EcoFormat)
		}

		// 管理相关
		admin := api.Group("/admin")
		{
			admin.POST("/reload", h.Reload)
			admin.POST("/flush", h.Flush)
			admin.GET("/stats", h.Stats)
			admin.POST("/give", h.Give)
			admin.POST("/take", h.Take)
			admin.POST("/set", h.Set)
			admin.POST("/player/:id/lock", h.Lock)
			admin.GET("/tx/recent", h.RecentTx)
			admin.GET("/tx/detail/:id", h.GetTx)
			admin.POST("/tx/flag/:id", h.FlagTx)
			admin.POST("/tx/unflag/:id", h.UnflagTx)
			admin.GET("/audit", h.QueryAudit)
			admin.POST("/audit/enabled", h.ToggleAudit)
			admin.POST("/audit/purge", h.PurgeAudit)
			admin.POST("/antiabuse/:id/reset", h.ResetAntiAbuse)
		}
	}

	// 健康检查
	r.GET("/health", h.Health)

	return r
}
