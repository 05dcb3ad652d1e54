package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/config"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"
)

// ============================================================================
// 支付网关客户端
// ============================================================================
//
// 网关是至少一次投递的外部事实源：同一笔支付可能回调零次、一次或多次。
// 客户端自身不做重试/退避 —— 任何传输层失败都包装成 ErrGatewayUnavailable
// 向上传播，调用方把它当作"本轮不做任何状态变更"，绝不能解释为支付失败。

var ErrGatewayUnavailable = errors.New("支付网关暂不可用")

// 网关侧状态词表
const (
	PaymentStatusPending           = "pending"
	PaymentStatusWaitingForCapture = "waiting_for_capture"
	PaymentStatusSucceeded         = "succeeded"
	PaymentStatusCanceled          = "canceled"
)

// MapStatus 网关状态 -> 本地交易状态的全映射
//
// 【关键点】未知状态一律按 PENDING 处理，绝不能映射成 COMPLETED：
// 宁可晚入账等下一轮对账，也不能提前加积分
func MapStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case PaymentStatusSucceeded:
		return model.StatusCompleted
	case PaymentStatusCanceled:
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

// Payment 网关侧支付对象（黑盒协议的本地子集）
type Payment struct {
	ID              string
	Status          string
	Paid            bool
	ConfirmationURL string
	PaidAt          *time.Time
}

// CreatePaymentRequest 创建支付请求
type CreatePaymentRequest struct {
	Amount         int64 // 最小货币单位
	Currency       string
	Description    string
	ReturnURL      string
	IdempotenceKey string // 等于本地单号，网关侧幂等
	Metadata       map[string]string
}

type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	httpClient *http.Client
}

func NewClient(cfg *config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// 网关的金额是字符串形式的十进制，如 "50.00"
func formatAmount(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

type paymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	CapturedAt string `json:"captured_at"`
}

func (r *paymentResponse) toPayment() *Payment {
	payment := &Payment{
		ID:              r.ID,
		Status:          r.Status,
		Paid:            r.Paid,
		ConfirmationURL: r.Confirmation.ConfirmationURL,
	}
	if r.CapturedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.CapturedAt); err == nil {
			payment.PaidAt = &t
		}
	}
	return payment
}

// CreatePayment 在网关创建支付，返回网关支付ID和收银台跳转链接
// POST {base}/payments，Idempotence-Key 取本地单号
func (c *Client) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*Payment, error) {
	body := map[string]interface{}{
		"amount": map[string]string{
			"value":    formatAmount(req.Amount),
			"currency": req.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"description": req.Description,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", req.IdempotenceKey)
	httpReq.SetBasicAuth(c.shopID, c.secretKey)

	return c.do(httpReq)
}

// FetchPayment 按网关支付ID查询权威状态
// GET {base}/payments/{id}
//
// 【关键点】查询失败（网络错误、5xx、响应体损坏）只能作为
// ErrGatewayUnavailable 传播，调用方跳过本轮对账等待重试，
// 绝不能据此把交易标成 FAILED
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.shopID, c.secretKey)

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (*Payment, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取响应失败: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrGatewayUnavailable, resp.StatusCode, truncate(raw, 256))
	}

	var pr paymentResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrGatewayUnavailable, err)
	}
	if pr.ID == "" {
		return nil, fmt.Errorf("%w: 响应缺少支付ID", ErrGatewayUnavailable)
	}

	return pr.toPayment(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
