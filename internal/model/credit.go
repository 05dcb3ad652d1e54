package model

import (
	"time"
)

// CreditPurchase 积分充值单表
// 与订单共用同一套状态机，区别在于完成时的副作用：入账 credits 积分
type CreditPurchase struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	UserID          int64      `gorm:"index;not null" json:"user_id"`
	Credits         int64      `gorm:"not null" json:"credits"` // 支付完成后入账的积分数量
	Amount          int64      `gorm:"not null" json:"amount"`  // 金额（最小货币单位）
	Currency        string     `gorm:"type:varchar(8);not null" json:"currency"`
	Status          string     `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentID       string     `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`
	ConfirmationURL string     `gorm:"type:varchar(512)" json:"confirmation_url"`
	BuyerEmail      string     `gorm:"type:varchar(128)" json:"buyer_email"`
	PaidAt          *time.Time `json:"paid_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditPurchase) TableName() string {
	return "credit_purchase"
}

// CreditBalance 用户积分账户表
//
// 【重要】余额设计原则：
// 1. total_credits 只增不减 —— 仅由已完成的充值单入账
// 2. used_credits 只增不减 —— 仅由计费扣减追加
// 3. 可用余额永远是派生值 max(total - used, 0)，不单独存储
// 4. 首次使用时懒创建，并附带少量免费赠送积分
type CreditBalance struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	TotalCredits int64     `gorm:"not null;default:0" json:"total_credits"`
	UsedCredits  int64     `gorm:"not null;default:0" json:"used_credits"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balance"
}

// Available 可用积分，派生值
func (b *CreditBalance) Available() int64 {
	available := b.TotalCredits - b.UsedCredits
	if available < 0 {
		return 0
	}
	return available
}

// CreditUsageRecord 积分消耗流水表
// 只追加，不修改，不删除 —— used_credits 背后的审计依据
type CreditUsageRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UsageNo   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"usage_no"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	Service   string    `gorm:"type:varchar(64);not null" json:"service"` // 计费服务标记，如 ai_compose
	Amount    int64     `gorm:"not null" json:"amount"`                   // 本次扣减的积分数
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditUsageRecord) TableName() string {
	return "credit_usage_record"
}
