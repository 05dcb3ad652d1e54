package repository

import (
	"context"
	"errors"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreditRepository struct {
	db          *gorm.DB
	freeCredits int64 // 账户懒创建时的免费赠送积分
}

func NewCreditRepository(db *gorm.DB, freeCredits int64) *CreditRepository {
	return &CreditRepository{db: db, freeCredits: freeCredits}
}

// ============================================================
// 充值单
// ============================================================

func (r *CreditRepository) CreatePurchase(ctx context.Context, tx *gorm.DB, purchase *model.CreditPurchase) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(purchase).Error
}

func (r *CreditRepository) GetPurchaseByNo(ctx context.Context, purchaseNo string) (*model.CreditPurchase, error) {
	var purchase model.CreditPurchase
	err := r.db.WithContext(ctx).Where("purchase_no = ?", purchaseNo).First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTxnNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *CreditRepository) GetPurchaseByPaymentID(ctx context.Context, paymentID string) (*model.CreditPurchase, error) {
	var purchase model.CreditPurchase
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

// BindPayment 绑定网关支付ID并推进 CREATED -> PENDING
func (r *CreditRepository) BindPayment(ctx context.Context, purchaseNo, paymentID, confirmationURL string) error {
	result := r.db.WithContext(ctx).
		Model(&model.CreditPurchase{}).
		Where("purchase_no = ? AND status = ?", purchaseNo, model.StatusCreated).
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

func (r *CreditRepository) ListPurchasesByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditPurchase, int64, error) {
	var purchases []*model.CreditPurchase
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditPurchase{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&purchases).Error

	return purchases, total, err
}

func (r *CreditRepository) ListPendingPurchasesByUserID(ctx context.Context, userID int64) ([]*model.CreditPurchase, error) {
	var purchases []*model.CreditPurchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND payment_id <> ''", userID, model.StatusPending).
		Find(&purchases).Error
	return purchases, err
}

// ============================================================
// 积分账户
// ============================================================

// GetOrCreateBalance 查询积分账户，不存在则懒创建（带免费赠送积分）
// OnConflict DoNothing 保证并发创建同一账户时只有一行生效
func (r *CreditRepository) GetOrCreateBalance(ctx context.Context, userID int64) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	newBalance := &model.CreditBalance{
		UserID:       userID,
		TotalCredits: r.freeCredits,
		UsedCredits:  0,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Grant 积分入账：upsert + 原子自增
//
// 【关键点】total_credits 的增加必须是数据库侧的原子自增，
// 不能在应用层读-改-写：两笔充值单并发完成对账时各自加各自的数量
func (r *CreditRepository) Grant(ctx context.Context, tx *gorm.DB, userID int64, credits int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_credits": gorm.Expr("total_credits + ?", credits),
			}),
		}).
		Create(&model.CreditBalance{
			UserID:       userID,
			TotalCredits: r.freeCredits + credits, // 账户不存在时连同免费赠送一起建行
			UsedCredits:  0,
		}).Error
}

// Debit 积分扣减：条件更新，仅当派生可用余额足够时生效
// WHERE 条件和 UPDATE 同属一条语句，天然防止并发超扣
func (r *CreditRepository) Debit(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND total_credits - used_credits >= ?", userID, amount).
		Update("used_credits", gorm.Expr("used_credits + ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCreditsNotEnough
	}
	return nil
}

// ============================================================
// 消耗流水
// ============================================================

func (r *CreditRepository) CreateUsage(ctx context.Context, tx *gorm.DB, record *model.CreditUsageRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (r *CreditRepository) ListUsageByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditUsageRecord, int64, error) {
	var records []*model.CreditUsageRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditUsageRecord{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
