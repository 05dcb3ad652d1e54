package model

import (
	"time"
)

// ============================================================================
// 交易状态机
// ============================================================================
//
// CREATED -> PENDING -> COMPLETED | FAILED
//
// 【重要】状态只能单向推进：
// 1. CREATED：本地已落库，尚未拿到网关支付ID
// 2. PENDING：网关已受理，等待支付结果（回调或页面轮询触发对账）
// 3. COMPLETED / FAILED 为终态，任何对账调用都不能再改写
// 4. paid_at 仅在 PENDING -> COMPLETED 跃迁时写入一次，之后永不覆盖

const (
	StatusCreated   = "CREATED"
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

var ValidStatusTransitions = map[string][]string{
	StatusCreated: {StatusPending, StatusFailed},
	StatusPending: {StatusCompleted, StatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 终态判断：COMPLETED / FAILED 之后不再有任何跃迁
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ============================================================================
// 交易统一视图
// ============================================================================

const (
	TxnKindOrder          = "ORDER"           // 工具购买订单
	TxnKindCreditPurchase = "CREDIT_PURCHASE" // 积分充值
)

// Transaction 订单与积分充值的统一视图（带类型标记，不落库）
// 对账引擎只面向该视图编写一次，积分入账副作用仅对 CREDIT_PURCHASE 生效
type Transaction struct {
	Kind            string     `json:"kind"`
	No              string     `json:"no"`
	UserID          int64      `json:"user_id"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	PaymentID       string     `json:"payment_id,omitempty"`
	ConfirmationURL string     `json:"confirmation_url,omitempty"`
	Credits         int64      `json:"credits,omitempty"` // 仅积分充值有效
	BuyerName       string     `json:"buyer_name,omitempty"`
	BuyerEmail      string     `json:"buyer_email,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (o *Order) AsTransaction() *Transaction {
	return &Transaction{
		Kind:            TxnKindOrder,
		No:              o.OrderNo,
		UserID:          o.UserID,
		Amount:          o.Amount,
		Currency:        o.Currency,
		Status:          o.Status,
		PaymentID:       o.PaymentID,
		ConfirmationURL: o.ConfirmationURL,
		BuyerName:       o.BuyerName,
		BuyerEmail:      o.BuyerEmail,
		PaidAt:          o.PaidAt,
		CreatedAt:       o.CreatedAt,
	}
}

func (p *CreditPurchase) AsTransaction() *Transaction {
	return &Transaction{
		Kind:            TxnKindCreditPurchase,
		No:              p.PurchaseNo,
		UserID:          p.UserID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          p.Status,
		PaymentID:       p.PaymentID,
		ConfirmationURL: p.ConfirmationURL,
		Credits:         p.Credits,
		BuyerEmail:      p.BuyerEmail,
		PaidAt:          p.PaidAt,
		CreatedAt:       p.CreatedAt,
	}
}
