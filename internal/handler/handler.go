package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/repository"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/service"
	"github.com/molokoedovmp/aibazar2.0-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	purchaseService  *service.PurchaseService
	creditService    *service.CreditService
	reconcileService *service.ReconcileService
}

// NewHandler 创建处理器实例
func NewHandler(purchaseService *service.PurchaseService, creditService *service.CreditService, reconcileService *service.ReconcileService) *Handler {
	return &Handler{
		purchaseService:  purchaseService,
		creditService:    creditService,
		reconcileService: reconcileService,
	}
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrderRequest 创建工具购买订单请求
type CreateOrderRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	ToolID     int64  `json:"tool_id" binding:"required"`
	Amount     int64  `json:"amount" binding:"required,gt=0"`
	BuyerName  string `json:"buyer_name"`
	BuyerEmail string `json:"buyer_email"`
	BuyerPhone string `json:"buyer_phone"`
	Comment    string `json:"comment"`
}

// CreateOrder 创建订单并发起网关支付
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.purchaseService.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		UserID:     req.UserID,
		ToolID:     req.ToolID,
		Amount:     req.Amount,
		BuyerName:  req.BuyerName,
		BuyerEmail: req.BuyerEmail,
		BuyerPhone: req.BuyerPhone,
		Comment:    req.Comment,
	})
	if err != nil {
		// 只有网关侧失败才报网关不可用，本地失败照常走服务器错误
		if errors.Is(err, gateway.ErrGatewayUnavailable) {
			response.BusinessError(c, response.CodeGatewayUnavailable, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"order_no":         order.OrderNo,
		"status":           order.Status,
		"amount":           order.Amount,
		"confirmation_url": order.ConfirmationURL,
	})
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	order, err := h.purchaseService.GetOrder(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrTxnNotFound) {
			response.BusinessError(c, response.CodeOrderNotFound, "订单不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, order)
}

// ============================================================
// 积分相关接口
// ============================================================

// PurchaseCreditsRequest 积分充值请求
type PurchaseCreditsRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Credits    int64  `json:"credits" binding:"required,gt=0"`
	BuyerEmail string `json:"buyer_email"`
}

// PurchaseCredits 创建积分充值单并发起网关支付
// POST /api/v1/credits/purchase
func (h *Handler) PurchaseCredits(c *gin.Context) {
	var req PurchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	purchase, err := h.purchaseService.PurchaseCredits(c.Request.Context(), &service.PurchaseCreditsRequest{
		UserID:     req.UserID,
		Credits:    req.Credits,
		BuyerEmail: req.BuyerEmail,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayUnavailable) {
			response.BusinessError(c, response.CodeGatewayUnavailable, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"purchase_no":      purchase.PurchaseNo,
		"status":           purchase.Status,
		"credits":          purchase.Credits,
		"amount":           purchase.Amount,
		"confirmation_url": purchase.ConfirmationURL,
	})
}

// GetBalance 查询积分余额
// GET /api/v1/credits/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	info, err := h.creditService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, info)
}

// DebitRequest 积分扣减请求（AI 创作等计费功能调用）
type DebitRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
	Service string `json:"service" binding:"required"`
}

// DebitCredits 计费扣减积分
// POST /api/v1/credits/debit
func (h *Handler) DebitCredits(c *gin.Context) {
	var req DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.creditService.Debit(c.Request.Context(), req.UserID, req.Amount, req.Service); err != nil {
		if errors.Is(err, repository.ErrCreditsNotEnough) {
			response.BusinessError(c, response.CodeInsufficientCredits, "积分余额不足")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "扣减成功",
	})
}

// ListUsage 查询积分消耗流水
// GET /api/v1/credits/usage?user_id=xxx&page=1&page_size=10
func (h *Handler) ListUsage(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.creditService.ListUsage(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 购买记录（页面触发对账入口）
// ============================================================

// ListPurchases 查询购买记录，返回前顺手对账该用户的待定交易
// GET /api/v1/purchases?user_id=xxx&page=1&page_size=10
//
// PENDING 交易带 confirmation_url（"继续支付"入口），
// FAILED 交易只展示终态，不提供重试链接
func (h *Handler) ListPurchases(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	history, err := h.purchaseService.ListPurchases(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"orders":                 history.Orders,
		"orders_total":           history.OrdersTotal,
		"credit_purchases":       history.Purchases,
		"credit_purchases_total": history.PurchasesTotal,
		"page":                   page,
		"page_size":              pageSize,
	})
}

// ============================================================
// 网关回调
// ============================================================

// WebhookNotification 网关回调报文
// 只取 object.id，报文里的状态字段一律不信任
type WebhookNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
}

// PaymentWebhook 网关回调入口
// POST /api/v1/payments/webhook
//
// 【关键点】只要支付ID解析成功就必须应答 200，哪怕内部对账失败
// （失败只记日志）—— 否则网关会无限重试。状态以主动回查网关为准，
// 防御伪造或过期的推送报文
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var notification WebhookNotification
	if err := c.ShouldBindJSON(&notification); err != nil || notification.Object.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	if err := h.reconcileService.ReconcileByPaymentID(c.Request.Context(), notification.Object.ID); err != nil {
		log.Printf("[Webhook] 对账失败，等待网关重试或页面轮询: paymentID=%s, event=%s, err=%v",
			notification.Object.ID, notification.Event, err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
