package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"
	"github.com/molokoedovmp/aibazar2.0-sub000/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// 账本存储
// ============================================================================
//
// 整个对账引擎唯一的共享可变状态。所有状态跃迁都走"条件检查 + 更新
// 同属一条 SQL / 同一个数据库事务"的写法，RowsAffected 告诉调用方
// 本次调用是否真的完成了跃迁 —— 这就是幂等入账的全部锚点，
// 不需要进程内锁、分布式锁或消息队列。

type LedgerStore struct {
	db      *gorm.DB
	orders  *OrderRepository
	credits *CreditRepository
}

func NewLedgerStore(db *gorm.DB, freeCredits int64) *LedgerStore {
	return &LedgerStore{
		db:      db,
		orders:  NewOrderRepository(db),
		credits: NewCreditRepository(db, freeCredits),
	}
}

func (s *LedgerStore) Orders() *OrderRepository {
	return s.orders
}

func (s *LedgerStore) Credits() *CreditRepository {
	return s.credits
}

// Get 按类型和单号读取交易视图
func (s *LedgerStore) Get(ctx context.Context, kind, no string) (*model.Transaction, error) {
	switch kind {
	case model.TxnKindOrder:
		order, err := s.orders.GetByOrderNo(ctx, no)
		if err != nil {
			return nil, err
		}
		return order.AsTransaction(), nil
	case model.TxnKindCreditPurchase:
		purchase, err := s.credits.GetPurchaseByNo(ctx, no)
		if err != nil {
			return nil, err
		}
		return purchase.AsTransaction(), nil
	default:
		return nil, ErrTxnKindInvalid
	}
}

// FindByPaymentID 按网关支付ID查找交易（回调入口用），先查订单再查充值单
func (s *LedgerStore) FindByPaymentID(ctx context.Context, paymentID string) (*model.Transaction, error) {
	order, err := s.orders.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if order != nil {
		return order.AsTransaction(), nil
	}

	purchase, err := s.credits.GetPurchaseByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if purchase != nil {
		return purchase.AsTransaction(), nil
	}

	return nil, nil
}

// Complete 首次完成跃迁 PENDING -> COMPLETED，返回本次调用是否为首次跃迁
//
// 【关键点】一个数据库事务内完成三件事：
// 1. 条件更新状态（WHERE status = PENDING），并发重复调用只有一个能命中
// 2. 写入 paid_at（条件保证此前必为 NULL，等价于 paid_at 只写一次）
// 3. 充值单命中时原子入账积分 —— 入账和状态跃迁同生共死，
//    所以无论 reconcile 被调多少次，积分都恰好加一次
func (s *LedgerStore) Complete(ctx context.Context, kind, no string, paidAt time.Time) (bool, error) {
	firstTime := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch kind {
		case model.TxnKindOrder:
			result := tx.Model(&model.Order{}).
				Where("order_no = ? AND status = ?", no, model.StatusPending).
				Updates(map[string]interface{}{
					"status":  model.StatusCompleted,
					"paid_at": paidAt,
				})
			if result.Error != nil {
				return result.Error
			}
			firstTime = result.RowsAffected > 0
			return nil

		case model.TxnKindCreditPurchase:
			var purchase model.CreditPurchase
			if err := tx.Where("purchase_no = ?", no).First(&purchase).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrTxnNotFound
				}
				return err
			}

			result := tx.Model(&model.CreditPurchase{}).
				Where("purchase_no = ? AND status = ?", no, model.StatusPending).
				Updates(map[string]interface{}{
					"status":  model.StatusCompleted,
					"paid_at": paidAt,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// 并发对账中别人先完成了，本次为冗余观察
				return nil
			}

			if err := s.credits.Grant(ctx, tx, purchase.UserID, purchase.Credits); err != nil {
				return fmt.Errorf("积分入账失败: %w", err)
			}
			firstTime = true
			return nil

		default:
			return ErrTxnKindInvalid
		}
	})

	if err != nil {
		return false, err
	}
	return firstTime, nil
}

// Fail 失败跃迁 PENDING -> FAILED，无任何资金侧副作用
// 已处于终态的交易直接视为冗余观察
func (s *LedgerStore) Fail(ctx context.Context, kind, no string) (bool, error) {
	var table interface{}
	var keyColumn string

	switch kind {
	case model.TxnKindOrder:
		table, keyColumn = &model.Order{}, "order_no"
	case model.TxnKindCreditPurchase:
		table, keyColumn = &model.CreditPurchase{}, "purchase_no"
	default:
		return false, ErrTxnKindInvalid
	}

	result := s.db.WithContext(ctx).
		Model(table).
		Where(keyColumn+" = ? AND status IN ?", no, []string{model.StatusCreated, model.StatusPending}).
		Update("status", model.StatusFailed)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DebitCredits 计费扣减：条件扣减 + 追加消耗流水，同一事务
// 余额不足返回 ErrCreditsNotEnough，绝不允许扣成负数
func (s *LedgerStore) DebitCredits(ctx context.Context, userID, amount int64, service string) error {
	if amount <= 0 {
		return fmt.Errorf("扣减数量必须大于0")
	}

	// 懒创建账户（带免费赠送），保证扣减语句有行可命中
	if _, err := s.credits.GetOrCreateBalance(ctx, userID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.credits.Debit(ctx, tx, userID, amount); err != nil {
			return err
		}

		record := &model.CreditUsageRecord{
			UsageNo: idgen.GenerateUsageNo(),
			UserID:  userID,
			Service: service,
			Amount:  amount,
		}
		if err := s.credits.CreateUsage(ctx, tx, record); err != nil {
			return fmt.Errorf("记录消耗流水失败: %w", err)
		}
		return nil
	})
}
