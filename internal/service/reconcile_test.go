package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// 测试用内存账本
// ============================================================
//
// 用互斥量模拟数据库"条件检查+更新同一事务"的语义：
// Complete/Fail 的检查和变更在同一临界区内完成

type fakeLedger struct {
	mu       sync.Mutex
	txns     map[string]*model.Transaction
	balances map[int64]int64 // userID -> totalCredits
	grants   int             // 入账次数统计
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		txns:     make(map[string]*model.Transaction),
		balances: make(map[int64]int64),
	}
}

// put 存入副本：Complete/Fail 改的是账本自己的行，
// 调用方手里的对象只是观察时刻的快照（和真实数据库一致）
func (l *fakeLedger) put(txn *model.Transaction) {
	copied := *txn
	l.txns[txn.No] = &copied
}

func (l *fakeLedger) Get(ctx context.Context, kind, no string) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txn := *l.txns[no]
	return &txn, nil
}

func (l *fakeLedger) FindByPaymentID(ctx context.Context, paymentID string) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, txn := range l.txns {
		if txn.PaymentID == paymentID {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) Complete(ctx context.Context, kind, no string, paidAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	txn := l.txns[no]
	if txn == nil || txn.Status != model.StatusPending {
		return false, nil
	}

	txn.Status = model.StatusCompleted
	txn.PaidAt = &paidAt
	if txn.Kind == model.TxnKindCreditPurchase {
		l.balances[txn.UserID] += txn.Credits
		l.grants++
	}
	return true, nil
}

func (l *fakeLedger) Fail(ctx context.Context, kind, no string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	txn := l.txns[no]
	if txn == nil || model.IsTerminalStatus(txn.Status) {
		return false, nil
	}
	txn.Status = model.StatusFailed
	return true, nil
}

func (l *fakeLedger) status(no string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txns[no].Status
}

func (l *fakeLedger) balance(userID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

type fakeGateway struct {
	payment *gateway.Payment
	err     error
	calls   int32
}

func (g *fakeGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.err != nil {
		return nil, g.err
	}
	return g.payment, nil
}

type fakeNotifier struct {
	calls int32
}

func (n *fakeNotifier) PaymentCompleted(txn *model.Transaction) {
	atomic.AddInt32(&n.calls, 1)
}

func pendingPurchase(no string, userID, credits int64) *model.Transaction {
	return &model.Transaction{
		Kind:      model.TxnKindCreditPurchase,
		No:        no,
		UserID:    userID,
		Credits:   credits,
		Amount:    credits * 1000,
		Currency:  "RUB",
		Status:    model.StatusPending,
		PaymentID: "pay-" + no,
	}
}

func newTestService(ledger *fakeLedger, gw *fakeGateway, notifier *fakeNotifier) *ReconcileService {
	return NewReconcileService(ledger, gw, notifier, nil, 4)
}

// ============================================================
// 幂等入账
// ============================================================

// 规格场景：50 积分充值单首次对账成功入账并通知一次，重复对账全部为空操作
func TestReconcileFirstTimeThenRedundant(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	ledger.put(txn)

	now := time.Now()
	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusSucceeded, PaidAt: &now}}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	firstTime, err := svc.ReconcileAndNotify(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, firstTime)
	assert.Equal(t, model.StatusCompleted, ledger.status("CRD1"))
	assert.Equal(t, int64(50), ledger.balance(7))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))

	// 第二次对账：冗余观察，积分和通知都不再变化
	fresh, _ := ledger.Get(context.Background(), txn.Kind, txn.No)
	firstTime, err = svc.ReconcileAndNotify(context.Background(), fresh)
	require.NoError(t, err)
	assert.False(t, firstTime)
	assert.Equal(t, int64(50), ledger.balance(7))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
}

// N 路并发对同一笔交易调用 reconcile，积分恰好入账一次，通知恰好一次
func TestReconcileConcurrentDuplicates(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	ledger.put(txn)

	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusSucceeded}}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	const n = 16
	var wg sync.WaitGroup
	var firstTimes int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 每个并发调用方都拿到自己观察时刻的快照，像回调和页面轮询同时命中一样
			snapshot := *txn
			firstTime, err := svc.ReconcileAndNotify(context.Background(), &snapshot)
			assert.NoError(t, err)
			if firstTime {
				atomic.AddInt32(&firstTimes, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firstTimes)
	assert.Equal(t, int64(50), ledger.balance(7))
	assert.Equal(t, 1, ledger.grants)
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
}

// ============================================================
// 错误与状态机边界
// ============================================================

// 网关不可用：状态和余额都不许变，错误原样传播等待下一轮
func TestReconcileGatewayUnavailable(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	ledger.put(txn)

	gw := &fakeGateway{err: gateway.ErrGatewayUnavailable}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	firstTime, err := svc.ReconcileAndNotify(context.Background(), txn)
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	assert.False(t, firstTime)
	assert.Equal(t, model.StatusPending, ledger.status("CRD1"))
	assert.Equal(t, int64(0), ledger.balance(7))
	assert.Equal(t, int32(0), atomic.LoadInt32(&notifier.calls))
}

// 网关报取消：进入 FAILED 终态，无资金副作用，不通知
func TestReconcileCanceled(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	ledger.put(txn)

	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusCanceled}}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	firstTime, err := svc.ReconcileAndNotify(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, firstTime)
	assert.Equal(t, model.StatusFailed, ledger.status("CRD1"))
	assert.Equal(t, int64(0), ledger.balance(7))
	assert.Equal(t, int32(0), atomic.LoadInt32(&notifier.calls))

	// 终态单向：即使网关后来报 succeeded，也不再有任何跃迁
	gw.payment = &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusSucceeded}
	fresh, _ := ledger.Get(context.Background(), txn.Kind, txn.No)
	firstTime, err = svc.ReconcileAndNotify(context.Background(), fresh)
	require.NoError(t, err)
	assert.False(t, firstTime)
	assert.Equal(t, model.StatusFailed, ledger.status("CRD1"))
}

// 网关报未知状态：按 PENDING 处理，绝不提前入账
func TestReconcileUnknownStatusStaysPending(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	ledger.put(txn)

	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: "brand_new_status"}}
	svc := newTestService(ledger, gw, &fakeNotifier{})

	firstTime, err := svc.ReconcileAndNotify(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, firstTime)
	assert.Equal(t, model.StatusPending, ledger.status("CRD1"))
	assert.Equal(t, int64(0), ledger.balance(7))
}

// 终态交易直接短路，连网关都不必查
func TestReconcileTerminalShortCircuit(t *testing.T) {
	ledger := newFakeLedger()
	paidAt := time.Now()
	txn := pendingPurchase("CRD1", 7, 50)
	txn.Status = model.StatusCompleted
	txn.PaidAt = &paidAt
	ledger.put(txn)

	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusSucceeded}}
	svc := newTestService(ledger, gw, &fakeNotifier{})

	firstTime, err := svc.Reconcile(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, firstTime)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gw.calls))
}

// 没有支付ID的交易无从对账
func TestReconcileWithoutPaymentID(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	txn.PaymentID = ""
	ledger.put(txn)

	gw := &fakeGateway{}
	svc := newTestService(ledger, gw, &fakeNotifier{})

	firstTime, err := svc.Reconcile(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, firstTime)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gw.calls))
}

// ============================================================
// 入口与批量
// ============================================================

// 回调入口：按支付ID定位；未知支付ID当作无事发生
func TestReconcileByPaymentID(t *testing.T) {
	ledger := newFakeLedger()
	txn := pendingPurchase("CRD1", 7, 50)
	ledger.put(txn)

	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusSucceeded}}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	require.NoError(t, svc.ReconcileByPaymentID(context.Background(), txn.PaymentID))
	assert.Equal(t, model.StatusCompleted, ledger.status("CRD1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))

	require.NoError(t, svc.ReconcileByPaymentID(context.Background(), "pay-nobody-knows"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
}

// 批量对账：单笔失败不影响其余交易
func TestReconcileBatch(t *testing.T) {
	ledger := newFakeLedger()
	for i, no := range []string{"CRD1", "CRD2", "CRD3"} {
		ledger.put(pendingPurchase(no, int64(i+1), 10))
	}

	gw := &fakeGateway{payment: &gateway.Payment{Status: gateway.PaymentStatusSucceeded}}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	var txns []*model.Transaction
	for _, no := range []string{"CRD1", "CRD2", "CRD3"} {
		txn, _ := ledger.Get(context.Background(), model.TxnKindCreditPurchase, no)
		txns = append(txns, txn)
	}
	svc.ReconcileBatch(context.Background(), txns)

	for i, no := range []string{"CRD1", "CRD2", "CRD3"} {
		assert.Equal(t, model.StatusCompleted, ledger.status(no))
		assert.Equal(t, int64(10), ledger.balance(int64(i+1)))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&notifier.calls))
}

// 订单完成不入积分，只通知
func TestReconcileOrderNoCreditSideEffect(t *testing.T) {
	ledger := newFakeLedger()
	txn := &model.Transaction{
		Kind:      model.TxnKindOrder,
		No:        "ORD1",
		UserID:    7,
		Amount:    5000,
		Currency:  "RUB",
		Status:    model.StatusPending,
		PaymentID: "pay-ORD1",
	}
	ledger.put(txn)

	gw := &fakeGateway{payment: &gateway.Payment{ID: txn.PaymentID, Status: gateway.PaymentStatusSucceeded}}
	notifier := &fakeNotifier{}
	svc := newTestService(ledger, gw, notifier)

	firstTime, err := svc.ReconcileAndNotify(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, firstTime)
	assert.Equal(t, model.StatusCompleted, ledger.status("ORD1"))
	assert.Equal(t, int64(0), ledger.balance(7))
	assert.Equal(t, 0, ledger.grants)
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
}
