package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/config"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/infrastructure/mq"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"

	"gopkg.in/gomail.v2"
)

// ============================================================================
// 通知分发器
// ============================================================================
//
// 只在交易首次进入 COMPLETED 时被对账引擎调用一次。
// 买家回执、销售通知、Kafka 事件三路相互独立、各自尽力而为：
// 任何一路失败只记日志，绝不回传、绝不回滚已提交的账本。

type Dispatcher struct {
	cfg    *config.Config
	dialer *gomail.Dialer
}

func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password),
	}
}

// 金额展示：最小货币单位 -> "50.00 RUB"
func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}

// PaymentCompleted 支付完成通知
func (d *Dispatcher) PaymentCompleted(txn *model.Transaction) {
	d.sendBuyerReceipt(txn)
	d.sendSalesAlert(txn)
	d.publishEvent(txn)
}

func (d *Dispatcher) sendBuyerReceipt(txn *model.Transaction) {
	if txn.BuyerEmail == "" {
		return
	}

	var subject, body string
	switch txn.Kind {
	case model.TxnKindCreditPurchase:
		subject = fmt.Sprintf("充值成功 — %s", txn.No)
		body = fmt.Sprintf("您的 %d 积分已到账。\n单号：%s\n金额：%s\n支付时间：%s\n",
			txn.Credits, txn.No, formatAmount(txn.Amount, txn.Currency), paidAtText(txn))
	default:
		subject = fmt.Sprintf("购买成功 — %s", txn.No)
		body = fmt.Sprintf("感谢购买！\n订单号：%s\n金额：%s\n支付时间：%s\n我们会尽快与您联系交付。\n",
			txn.No, formatAmount(txn.Amount, txn.Currency), paidAtText(txn))
	}

	if err := d.sendMail(txn.BuyerEmail, subject, body); err != nil {
		log.Printf("[Notify] 买家回执发送失败: no=%s, to=%s, err=%v", txn.No, txn.BuyerEmail, err)
		return
	}
	log.Printf("[Notify] 买家回执已发送: no=%s, to=%s", txn.No, txn.BuyerEmail)
}

func (d *Dispatcher) sendSalesAlert(txn *model.Transaction) {
	if d.cfg.Mail.SalesAddress == "" {
		return
	}

	subject := fmt.Sprintf("新支付完成 [%s] %s", txn.Kind, txn.No)
	body := fmt.Sprintf("单号：%s\n类型：%s\n用户：%d\n金额：%s\n联系人：%s <%s>\n支付时间：%s\n",
		txn.No, txn.Kind, txn.UserID, formatAmount(txn.Amount, txn.Currency),
		txn.BuyerName, txn.BuyerEmail, paidAtText(txn))

	if err := d.sendMail(d.cfg.Mail.SalesAddress, subject, body); err != nil {
		log.Printf("[Notify] 销售通知发送失败: no=%s, err=%v", txn.No, err)
		return
	}
	log.Printf("[Notify] 销售通知已发送: no=%s", txn.No)
}

// publishEvent 发布支付完成事件到 Kafka（分析/运营旁路，尽力而为）
func (d *Dispatcher) publishEvent(txn *model.Transaction) {
	topic := d.cfg.Kafka.Topic.PaymentCompleted
	if topic == "" || mq.KafkaProducer == nil {
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"kind":    txn.Kind,
		"no":      txn.No,
		"user_id": txn.UserID,
		"amount":  txn.Amount,
		"credits": txn.Credits,
		"paid_at": paidAtText(txn),
	})

	if err := mq.SendMessage(topic, txn.No, string(payload)); err != nil {
		log.Printf("[Notify] 支付完成事件发送失败: no=%s, err=%v", txn.No, err)
		return
	}
	log.Printf("[Notify] 支付完成事件已发送: topic=%s, no=%s", topic, txn.No)
}

func (d *Dispatcher) sendMail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", d.cfg.Mail.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return d.dialer.DialAndSend(m)
}

func paidAtText(txn *model.Transaction) string {
	if txn.PaidAt == nil {
		return ""
	}
	return txn.PaidAt.Format(time.RFC3339)
}
