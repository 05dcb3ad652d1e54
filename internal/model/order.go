package model

import (
	"time"
)

// Order 工具购买订单表
// 金额一律以最小货币单位（戈比）的整数存储，避免浮点误差
type Order struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID          int64      `gorm:"index;not null" json:"user_id"`
	ToolID          int64      `gorm:"index;not null" json:"tool_id"`                     // 购买的目录工具ID
	Amount          int64      `gorm:"not null" json:"amount"`                            // 金额（最小货币单位）
	Currency        string     `gorm:"type:varchar(8);not null" json:"currency"`          // 全站固定一种 ISO 货币
	Status          string     `gorm:"type:varchar(20);index;not null" json:"status"`     // 见 transaction.go 状态机
	PaymentID       string     `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`    // 网关侧支付ID，创建支付成功前为空
	ConfirmationURL string     `gorm:"type:varchar(512)" json:"confirmation_url"`         // 网关收银台链接，PENDING 时用于"继续支付"
	BuyerName       string     `gorm:"type:varchar(128)" json:"buyer_name"`               // 买家联系信息
	BuyerEmail      string     `gorm:"type:varchar(128)" json:"buyer_email"`
	BuyerPhone      string     `gorm:"type:varchar(32)" json:"buyer_phone"`
	Comment         string     `gorm:"type:varchar(512)" json:"comment"`
	PaidAt          *time.Time `json:"paid_at"` // 仅在首次进入 COMPLETED 时写入
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "tool_order"
}
