package service

import (
	"context"
	"fmt"
	"log"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/config"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/repository"
	"github.com/molokoedovmp/aibazar2.0-sub000/pkg/idgen"
)

// PaymentCreator 网关创建支付接口，由 gateway.Client 实现
type PaymentCreator interface {
	CreatePayment(ctx context.Context, req *gateway.CreatePaymentRequest) (*gateway.Payment, error)
}

// PurchaseService 购买流程：本地建单 -> 网关创建支付 -> 绑定支付ID
// 之后的状态推进全部交给对账引擎
type PurchaseService struct {
	cfg        *config.Config
	store      *repository.LedgerStore
	gateway    PaymentCreator
	reconciler *ReconcileService
}

func NewPurchaseService(cfg *config.Config, store *repository.LedgerStore, creator PaymentCreator, reconciler *ReconcileService) *PurchaseService {
	return &PurchaseService{
		cfg:        cfg,
		store:      store,
		gateway:    creator,
		reconciler: reconciler,
	}
}

type CreateOrderRequest struct {
	UserID     int64
	ToolID     int64
	Amount     int64
	BuyerName  string
	BuyerEmail string
	BuyerPhone string
	Comment    string
}

// CreateOrder 创建工具购买订单并发起网关支付
// 网关创建失败时订单留在 CREATED（无支付ID），不会被对账引擎触碰
func (s *PurchaseService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*model.Order, error) {
	order := &model.Order{
		OrderNo:    idgen.GenerateOrderNo(),
		UserID:     req.UserID,
		ToolID:     req.ToolID,
		Amount:     req.Amount,
		Currency:   s.cfg.Business.Currency,
		Status:     model.StatusCreated,
		BuyerName:  req.BuyerName,
		BuyerEmail: req.BuyerEmail,
		BuyerPhone: req.BuyerPhone,
		Comment:    req.Comment,
	}

	if err := s.store.Orders().Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	payment, err := s.gateway.CreatePayment(ctx, &gateway.CreatePaymentRequest{
		Amount:         order.Amount,
		Currency:       order.Currency,
		Description:    fmt.Sprintf("购买工具 #%d（订单 %s）", order.ToolID, order.OrderNo),
		ReturnURL:      s.cfg.Gateway.ReturnURL,
		IdempotenceKey: order.OrderNo, // 网关侧幂等键 = 本地单号
		Metadata: map[string]string{
			"kind": model.TxnKindOrder,
			"no":   order.OrderNo,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("发起网关支付失败: %w", err)
	}

	if err := s.store.Orders().BindPayment(ctx, order.OrderNo, payment.ID, payment.ConfirmationURL); err != nil {
		return nil, fmt.Errorf("绑定支付ID失败: %w", err)
	}

	order.Status = model.StatusPending
	order.PaymentID = payment.ID
	order.ConfirmationURL = payment.ConfirmationURL

	log.Printf("[Purchase] 订单已创建: orderNo=%s, userID=%d, amount=%d, paymentID=%s",
		order.OrderNo, order.UserID, order.Amount, payment.ID)
	return order, nil
}

type PurchaseCreditsRequest struct {
	UserID     int64
	Credits    int64
	BuyerEmail string
}

// PurchaseCredits 创建积分充值单并发起网关支付
// 金额 = 积分数量 × 配置单价
func (s *PurchaseService) PurchaseCredits(ctx context.Context, req *PurchaseCreditsRequest) (*model.CreditPurchase, error) {
	purchase := &model.CreditPurchase{
		PurchaseNo: idgen.GeneratePurchaseNo(),
		UserID:     req.UserID,
		Credits:    req.Credits,
		Amount:     req.Credits * s.cfg.Business.CreditPrice,
		Currency:   s.cfg.Business.Currency,
		Status:     model.StatusCreated,
		BuyerEmail: req.BuyerEmail,
	}

	if err := s.store.Credits().CreatePurchase(ctx, nil, purchase); err != nil {
		return nil, fmt.Errorf("创建充值单失败: %w", err)
	}

	payment, err := s.gateway.CreatePayment(ctx, &gateway.CreatePaymentRequest{
		Amount:         purchase.Amount,
		Currency:       purchase.Currency,
		Description:    fmt.Sprintf("充值 %d 积分（充值单 %s）", purchase.Credits, purchase.PurchaseNo),
		ReturnURL:      s.cfg.Gateway.ReturnURL,
		IdempotenceKey: purchase.PurchaseNo,
		Metadata: map[string]string{
			"kind": model.TxnKindCreditPurchase,
			"no":   purchase.PurchaseNo,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("发起网关支付失败: %w", err)
	}

	if err := s.store.Credits().BindPayment(ctx, purchase.PurchaseNo, payment.ID, payment.ConfirmationURL); err != nil {
		return nil, fmt.Errorf("绑定支付ID失败: %w", err)
	}

	purchase.Status = model.StatusPending
	purchase.PaymentID = payment.ID
	purchase.ConfirmationURL = payment.ConfirmationURL

	log.Printf("[Purchase] 充值单已创建: purchaseNo=%s, userID=%d, credits=%d, paymentID=%s",
		purchase.PurchaseNo, purchase.UserID, purchase.Credits, payment.ID)
	return purchase, nil
}

// PurchaseHistory 购买记录（订单 + 充值单分列返回）
type PurchaseHistory struct {
	Orders         []*model.Order          `json:"orders"`
	OrdersTotal    int64                   `json:"orders_total"`
	Purchases      []*model.CreditPurchase `json:"credit_purchases"`
	PurchasesTotal int64                   `json:"credit_purchases_total"`
}

// ListPurchases 查询用户购买记录，返回前顺手对账该用户所有待定交易
//
// 【关键点】页面轮询是回调之外的第二条收敛通道：回调丢了、晚了，
// 用户只要打开购买记录页，待定交易就会被重新对账。两条通道并发
// 命中同一笔交易也没关系，幂等性由账本存储兜底
func (s *PurchaseService) ListPurchases(ctx context.Context, userID int64, page, pageSize int) (*PurchaseHistory, error) {
	s.reconcilePending(ctx, userID)

	orders, ordersTotal, err := s.store.Orders().ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询订单列表失败: %w", err)
	}

	purchases, purchasesTotal, err := s.store.Credits().ListPurchasesByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询充值单列表失败: %w", err)
	}

	return &PurchaseHistory{
		Orders:         orders,
		OrdersTotal:    ordersTotal,
		Purchases:      purchases,
		PurchasesTotal: purchasesTotal,
	}, nil
}

// reconcilePending 收集用户全部待定交易并批量对账
// 任何一步失败都只记日志：列表页永远可用，对账留给下一次触发
func (s *PurchaseService) reconcilePending(ctx context.Context, userID int64) {
	var txns []*model.Transaction

	pendingOrders, err := s.store.Orders().ListPendingByUserID(ctx, userID)
	if err != nil {
		log.Printf("[Purchase] 查询待对账订单失败: userID=%d, err=%v", userID, err)
	} else {
		for _, order := range pendingOrders {
			txns = append(txns, order.AsTransaction())
		}
	}

	pendingPurchases, err := s.store.Credits().ListPendingPurchasesByUserID(ctx, userID)
	if err != nil {
		log.Printf("[Purchase] 查询待对账充值单失败: userID=%d, err=%v", userID, err)
	} else {
		for _, purchase := range pendingPurchases {
			txns = append(txns, purchase.AsTransaction())
		}
	}

	s.reconciler.ReconcileBatch(ctx, txns)
}

// GetOrder 查询订单详情
func (s *PurchaseService) GetOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	return s.store.Orders().GetByOrderNo(ctx, orderNo)
}
