package repository

import (
	"context"
	"errors"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTxnNotFound      = errors.New("交易不存在")
	ErrTxnStatusInvalid = errors.New("交易状态不合法")
	ErrTxnKindInvalid   = errors.New("交易类型不合法")
	ErrAccountNotFound  = errors.New("积分账户不存在")
	ErrCreditsNotEnough = errors.New("积分余额不足")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTxnNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// BindPayment 网关受理成功后绑定支付ID并推进 CREATED -> PENDING
// 条件更新保证同一订单不会被绑定两次
func (r *OrderRepository) BindPayment(ctx context.Context, orderNo, paymentID, confirmationURL string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, model.StatusCreated).
		Updates(map[string]interface{}{
			"status":           model.StatusPending,
			"payment_id":       paymentID,
			"confirmation_url": confirmationURL,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTxnStatusInvalid
	}
	return nil
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}

// ListPendingByUserID 查询用户所有待对账订单（PENDING 且已绑定网关支付ID）
func (r *OrderRepository) ListPendingByUserID(ctx context.Context, userID int64) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND payment_id <> ''", userID, model.StatusPending).
		Find(&orders).Error
	return orders, err
}
