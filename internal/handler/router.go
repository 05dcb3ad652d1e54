package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 订单相关
		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.GET("/detail", h.GetOrder)
		}

		// 积分相关
		credits := api.Group("/credits")
		{
			credits.POST("/purchase", h.PurchaseCredits)
			credits.GET("/balance", h.GetBalance)
			credits.POST("/debit", h.DebitCredits)
			credits.GET("/usage", h.ListUsage)
		}

		// 购买记录（页面触发对账入口）
		api.GET("/purchases", h.ListPurchases)

		// 网关回调
		api.POST("/payments/webhook", h.PaymentWebhook)
	}

	// 健康检查与指标
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
