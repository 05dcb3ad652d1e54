package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"
)

// ============================================================================
// 对账引擎
// ============================================================================
//
// 交易的最终状态从两条互不相关、乱序且可能重复的通道到达：
// 网关回调推送、用户打开购买记录页触发的轮询。两条通道最终都收敛到
// 同一个 Reconcile 调用：查询网关权威状态 -> 幂等地应用到账本。
//
// 【关键点】Reconcile 是 (已持久化状态, 本次观察到的网关状态) 的纯幂等
// 函数，不是计数器，也不是事件重放。并发安全完全依赖账本存储的
// "条件检查+更新在同一事务内"，引擎层没有任何锁。

// Ledger 账本存储接口，由 repository.LedgerStore 实现
type Ledger interface {
	Get(ctx context.Context, kind, no string) (*model.Transaction, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*model.Transaction, error)
	Complete(ctx context.Context, kind, no string, paidAt time.Time) (bool, error)
	Fail(ctx context.Context, kind, no string) (bool, error)
}

// PaymentFetcher 网关查询接口，由 gateway.Client 实现
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
}

// Notifier 通知分发接口，由 notify.Dispatcher 实现
// 仅在首次跃迁时被调用一次；实现必须尽力而为，失败不回传
type Notifier interface {
	PaymentCompleted(txn *model.Transaction)
}

// BalanceCache 余额旁路缓存失效接口（可为 nil）
type BalanceCache interface {
	InvalidateBalance(ctx context.Context, userID int64)
}

type ReconcileService struct {
	ledger      Ledger
	gateway     PaymentFetcher
	notifier    Notifier
	cache       BalanceCache
	parallelism int
}

func NewReconcileService(ledger Ledger, fetcher PaymentFetcher, notifier Notifier, cache BalanceCache, parallelism int) *ReconcileService {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &ReconcileService{
		ledger:      ledger,
		gateway:     fetcher,
		notifier:    notifier,
		cache:       cache,
		parallelism: parallelism,
	}
}

// Reconcile 核心对账操作，返回本次调用是否完成了 PENDING -> COMPLETED 首次跃迁
//
// 永远不信任回调报文里携带的状态，一律按支付ID重新查询网关（防伪造/过期推送）。
// 网关不可用时原样返回错误，调用方跳过本轮，交易保持 PENDING 等待下一次触发。
func (s *ReconcileService) Reconcile(ctx context.Context, txn *model.Transaction) (bool, error) {
	// 终态只进不出：冗余观察直接短路
	if model.IsTerminalStatus(txn.Status) {
		return false, nil
	}
	// 没拿到网关支付ID的交易无从查起
	if txn.PaymentID == "" {
		return false, nil
	}

	payment, err := s.gateway.FetchPayment(ctx, txn.PaymentID)
	if err != nil {
		return false, fmt.Errorf("查询网关支付状态失败: %w", err)
	}

	switch gateway.MapStatus(payment.Status) {
	case model.StatusCompleted:
		paidAt := time.Now()
		if payment.PaidAt != nil {
			paidAt = *payment.PaidAt
		}
		firstTime, err := s.ledger.Complete(ctx, txn.Kind, txn.No, paidAt)
		if err != nil {
			return false, fmt.Errorf("交易完成入账失败: %w", err)
		}
		return firstTime, nil

	case model.StatusFailed:
		// 失败没有资金侧副作用，也不触发任何通知
		if _, err := s.ledger.Fail(ctx, txn.Kind, txn.No); err != nil {
			return false, fmt.Errorf("标记交易失败状态失败: %w", err)
		}
		return false, nil

	default:
		// 网关仍在处理（含未知状态），本轮无事发生
		return false, nil
	}
}

// ReconcileAndNotify 对账并在首次跃迁时触发通知
// 回调入口和页面轮询入口都走这里，保证通知至多有效触发一次
//
// 通知在存储事务之外、由首次跃迁返回值门控。进程若在入账提交后、
// 通知发出前崩溃，积分已到账但回执丢失 —— 这是已知且接受的缺口
func (s *ReconcileService) ReconcileAndNotify(ctx context.Context, txn *model.Transaction) (bool, error) {
	firstTime, err := s.Reconcile(ctx, txn)
	if err != nil {
		return false, err
	}
	if !firstTime {
		return false, nil
	}

	if txn.Kind == model.TxnKindCreditPurchase && s.cache != nil {
		s.cache.InvalidateBalance(ctx, txn.UserID)
	}

	// 重新读取拿到落库后的 paid_at 等字段再组装通知
	fresh, err := s.ledger.Get(ctx, txn.Kind, txn.No)
	if err != nil {
		log.Printf("[Reconcile] 交易已完成但读取通知数据失败: kind=%s, no=%s, err=%v", txn.Kind, txn.No, err)
		fresh = txn
	}
	if s.notifier != nil {
		s.notifier.PaymentCompleted(fresh)
	}

	log.Printf("[Reconcile] 交易首次完成: kind=%s, no=%s, userID=%d, amount=%d", txn.Kind, txn.No, txn.UserID, txn.Amount)
	return true, nil
}

// ReconcileByPaymentID 回调入口：按网关支付ID定位交易并对账
func (s *ReconcileService) ReconcileByPaymentID(ctx context.Context, paymentID string) error {
	txn, err := s.ledger.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("按支付ID查找交易失败: %w", err)
	}
	if txn == nil {
		// 不认识的支付ID：记录后当作无事发生，网关侧照常应答成功
		log.Printf("[Reconcile] 收到未知支付ID的回调: paymentID=%s", paymentID)
		return nil
	}

	_, err = s.ReconcileAndNotify(ctx, txn)
	return err
}

// ReconcileBatch 页面触发入口：并发对账一批待定交易（有界并行）
//
// 网关单次查询延迟远大于本地写入，串行会把页面打开时间拖到不可用；
// 单笔失败只记日志，不影响其余交易，留待下一轮重试
func (s *ReconcileService) ReconcileBatch(ctx context.Context, txns []*model.Transaction) {
	if len(txns) == 0 {
		return
	}

	sem := make(chan struct{}, s.parallelism)
	var wg sync.WaitGroup

	for _, txn := range txns {
		wg.Add(1)
		sem <- struct{}{}
		go func(t *model.Transaction) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := s.ReconcileAndNotify(ctx, t); err != nil {
				log.Printf("[Reconcile] 批量对账单笔失败: kind=%s, no=%s, err=%v", t.Kind, t.No, err)
			}
		}(txn)
	}

	wg.Wait()
}
