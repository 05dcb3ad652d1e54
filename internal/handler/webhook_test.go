package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// 回调入口的契约：支付ID解析成功就必须 200，内部失败不外漏

type webhookLedger struct {
	mu  sync.Mutex
	txn *model.Transaction
}

func (l *webhookLedger) Get(ctx context.Context, kind, no string) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *l.txn
	return &copied, nil
}

func (l *webhookLedger) FindByPaymentID(ctx context.Context, paymentID string) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txn != nil && l.txn.PaymentID == paymentID {
		copied := *l.txn
		return &copied, nil
	}
	return nil, nil
}

func (l *webhookLedger) Complete(ctx context.Context, kind, no string, paidAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txn.Status != model.StatusPending {
		return false, nil
	}
	l.txn.Status = model.StatusCompleted
	l.txn.PaidAt = &paidAt
	return true, nil
}

func (l *webhookLedger) Fail(ctx context.Context, kind, no string) (bool, error) {
	return false, nil
}

type webhookGateway struct {
	payment *gateway.Payment
	err     error
}

func (g *webhookGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.payment, nil
}

type webhookNotifier struct {
	calls int
}

func (n *webhookNotifier) PaymentCompleted(txn *model.Transaction) {
	n.calls++
}

func newWebhookRouter(ledger *webhookLedger, gw *webhookGateway, notifier *webhookNotifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewReconcileService(ledger, gw, notifier, nil, 2)
	h := &Handler{reconcileService: svc}

	r := gin.New()
	r.POST("/api/v1/payments/webhook", h.PaymentWebhook)
	return r
}

func postWebhook(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentWebhookCompletesTransaction(t *testing.T) {
	ledger := &webhookLedger{txn: &model.Transaction{
		Kind:      model.TxnKindOrder,
		No:        "ORD1",
		UserID:    7,
		Status:    model.StatusPending,
		PaymentID: "pay-1",
	}}
	gw := &webhookGateway{payment: &gateway.Payment{ID: "pay-1", Status: gateway.PaymentStatusSucceeded}}
	notifier := &webhookNotifier{}
	r := newWebhookRouter(ledger, gw, notifier)

	// 报文里故意写着 canceled：状态必须以回查网关为准
	w := postWebhook(r, `{"event":"payment.canceled","object":{"id":"pay-1","status":"canceled"}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusCompleted, ledger.txn.Status)
	assert.Equal(t, 1, notifier.calls)
}

func TestPaymentWebhookBadBody(t *testing.T) {
	r := newWebhookRouter(&webhookLedger{}, &webhookGateway{}, &webhookNotifier{})

	assert.Equal(t, http.StatusBadRequest, postWebhook(r, `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, postWebhook(r, `{"event":"payment.succeeded","object":{}}`).Code)
}

// 网关不可用也要对网关回 200，交易保持 PENDING 等下一次触发
func TestPaymentWebhookGatewayDownStill200(t *testing.T) {
	ledger := &webhookLedger{txn: &model.Transaction{
		Kind:      model.TxnKindOrder,
		No:        "ORD1",
		Status:    model.StatusPending,
		PaymentID: "pay-1",
	}}
	gw := &webhookGateway{err: gateway.ErrGatewayUnavailable}
	r := newWebhookRouter(ledger, gw, &webhookNotifier{})

	w := postWebhook(r, `{"event":"payment.succeeded","object":{"id":"pay-1"}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPending, ledger.txn.Status)
}

// 未知支付ID：照常 200，什么都不发生
func TestPaymentWebhookUnknownPaymentID(t *testing.T) {
	ledger := &webhookLedger{txn: &model.Transaction{
		Kind:      model.TxnKindOrder,
		No:        "ORD1",
		Status:    model.StatusPending,
		PaymentID: "pay-1",
	}}
	gw := &webhookGateway{payment: &gateway.Payment{ID: "pay-2", Status: gateway.PaymentStatusSucceeded}}
	notifier := &webhookNotifier{}
	r := newWebhookRouter(ledger, gw, notifier)

	w := postWebhook(r, `{"event":"payment.succeeded","object":{"id":"pay-2"}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPending, ledger.txn.Status)
	assert.Equal(t, 0, notifier.calls)
}
