package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/config"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/gateway"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/repository"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/service"
	"github.com/molokoedovmp/aibazar2.0-sub000/pkg/response"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeCreator struct {
	payment *gateway.Payment
	err     error
}

func (f *fakeCreator) CreatePayment(ctx context.Context, req *gateway.CreatePaymentRequest) (*gateway.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func newOrderTestRouter(t *testing.T, creator *fakeCreator) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Gateway:  config.GatewayConfig{ReturnURL: "https://shop/return"},
		Business: config.BusinessConfig{Currency: "RUB", FreeCredits: 10, CreditPrice: 1000},
	}
	store := repository.NewLedgerStore(gormDB, cfg.Business.FreeCredits)
	purchaseService := service.NewPurchaseService(cfg, store, creator, nil)
	h := &Handler{purchaseService: purchaseService}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/order/create", h.CreateOrder)
	return r, mock
}

func postCreateOrder(r *gin.Engine) *response.Response {
	body := `{"user_id":7,"tool_id":3,"amount":5000,"buyer_email":"buyer@example.com"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/order/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return &resp
}

// 网关失败才报网关不可用
func TestCreateOrderGatewayUnavailable(t *testing.T) {
	creator := &fakeCreator{err: gateway.ErrGatewayUnavailable}
	r, mock := newOrderTestRouter(t, creator)

	mock.ExpectExec("INSERT INTO `tool_order`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	resp := postCreateOrder(r)
	assert.Equal(t, response.CodeGatewayUnavailable, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 本地建单失败和网关没有任何关系，报服务器错误
func TestCreateOrderLocalFailureIsServerError(t *testing.T) {
	creator := &fakeCreator{payment: &gateway.Payment{ID: "pay-1", ConfirmationURL: "https://gw/confirm/1"}}
	r, mock := newOrderTestRouter(t, creator)

	mock.ExpectExec("INSERT INTO `tool_order`").
		WillReturnError(errors.New("db down"))

	resp := postCreateOrder(r)
	assert.Equal(t, response.CodeServerError, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
