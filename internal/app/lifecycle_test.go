package app

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/gateway"
	"github.com/vladislavdragonenkov/marketpay/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketpay/internal/service/payout"
	"github.com/vladislavdragonenkov/marketpay/internal/service/settlement"
)

// PurchaseLifecycleSuite прогоняет покупку и выплату через собранный runtime:
// intent, вебхук процессора, баланс продавца, заявка и результат выплаты.
type PurchaseLifecycleSuite struct {
	suite.Suite
	ctx context.Context
	rt  *runtime
}

func TestPurchaseLifecycleSuite(t *testing.T) {
	suite.Run(t, new(PurchaseLifecycleSuite))
}

func (s *PurchaseLifecycleSuite) SetupTest() {
	cfg := devConfig()
	cfg.Gateway.FakeAutoSucceed = false
	s.ctx = context.Background()

	rt, err := newRuntime(s.ctx, cfg, quietLogger())
	s.Require().NoError(err)
	s.rt = rt
}

func (s *PurchaseLifecycleSuite) TearDownTest() {
	s.rt.close()
}

func (s *PurchaseLifecycleSuite) fake() *gateway.Fake {
	s.Require().NotNil(s.rt.gateways.Fake)
	return s.rt.gateways.Fake
}

func (s *PurchaseLifecycleSuite) createIntent(buyerID, itemID string) domain.PaymentIntent {
	res, err := s.rt.settlement.CreateIntent(s.ctx, settlement.CreateIntentInput{BuyerID: buyerID, ItemID: itemID})
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusCreated, res.Intent.Status)
	return res.Intent
}

func (s *PurchaseLifecycleSuite) deliverSucceeded(eventID, intentID string) domain.WebhookOutcome {
	s.Require().NoError(s.fake().SetStatus(intentID, domain.IntentStatusSucceeded))
	payload, signature, err := s.fake().SignedEvent(eventID, gateway.EventIntentSucceeded, intentID)
	s.Require().NoError(err)

	res, err := s.rt.reconciler.Handle(s.ctx, payload, signature)
	s.Require().NoError(err)
	return res.Outcome
}

func (s *PurchaseLifecycleSuite) balance(accountID string) int64 {
	b, err := s.rt.settlement.Balance(s.ctx, accountID)
	s.Require().NoError(err)
	return b.AmountMinor
}

func (s *PurchaseLifecycleSuite) TestWebhookSettlesBeforeConfirm() {
	intent := s.createIntent("buyer-demo", "prompt-sql-tutor")

	// Пока процессор не подтвердил оплату, confirm ничего не пишет.
	_, err := s.rt.settlement.ConfirmPurchase(s.ctx, "buyer-demo", intent.ID)
	s.Require().ErrorIs(err, domain.ErrPaymentNotComplete)
	s.Zero(s.balance("seller-demo"))

	s.Equal(domain.WebhookOutcomeApplied, s.deliverSucceeded("evt_1", intent.ID))
	s.Equal(domain.WebhookOutcomeDuplicate, s.deliverSucceeded("evt_1", intent.ID))

	purchase, err := s.rt.settlement.ConfirmPurchase(s.ctx, "buyer-demo", intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.SettlementSourceWebhook, purchase.Source)
	s.Equal(int64(425), purchase.SellerAmountMinor)
	s.Equal(int64(75), purchase.PlatformFeeMinor)
	s.Equal(int64(425), s.balance("seller-demo"))

	view, err := s.rt.settlement.GetIntent(s.ctx, "buyer-demo", intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusSucceeded, view.Intent.Status)
	s.Require().NotNil(view.Purchase)
	s.NotEmpty(view.Timeline)

	_, err = s.rt.settlement.CreateIntent(s.ctx, settlement.CreateIntentInput{BuyerID: "buyer-demo", ItemID: "prompt-sql-tutor"})
	s.ErrorIs(err, domain.ErrAlreadyOwned)
}

func (s *PurchaseLifecycleSuite) TestDoublePurchaseIsRefunded() {
	first := s.createIntent("buyer-demo", "prompt-landing-copy")
	second := s.createIntent("buyer-demo", "prompt-landing-copy")
	s.NotEqual(first.ID, second.ID)

	s.Equal(domain.WebhookOutcomeApplied, s.deliverSucceeded("evt_first", first.ID))
	s.Equal(domain.WebhookOutcomeRejected, s.deliverSucceeded("evt_second", second.ID))

	s.Equal(1, s.fake().Refunds(second.ID))
	s.Zero(s.fake().Refunds(first.ID))
	s.Equal(int64(1020), s.balance("seller-demo"))
}

func (s *PurchaseLifecycleSuite) TestPayPalPayoutResolvedByResultMessage() {
	for _, buyer := range []string{"buyer-1", "buyer-2"} {
		intent := s.createIntent(buyer, "prompt-travel-planner")
		s.Require().NoError(s.fake().SetStatus(intent.ID, domain.IntentStatusSucceeded))
		_, err := s.rt.settlement.ConfirmPurchase(s.ctx, buyer, intent.ID)
		s.Require().NoError(err)
	}
	s.Equal(int64(510), s.balance("seller-paypal"))

	request, err := s.rt.payouts.Request(s.ctx, payout.RequestInput{AccountID: "seller-paypal", AmountMinor: 300, IdempotencyKey: "payout-1"})
	s.Require().NoError(err)
	s.Equal(domain.PayoutStatusPending, request.Status)
	s.Equal(domain.PayoutProviderPayPal, request.Provider)
	s.Equal(int64(210), s.balance("seller-paypal"))

	// У PayPal нет исполнителя: заявка ждёт внешний результат.
	s.rt.payoutWorker.ProcessOnce(s.ctx)
	pending, err := s.rt.payouts.Get(s.ctx, "seller-paypal", request.ID)
	s.Require().NoError(err)
	s.Equal(domain.PayoutStatusPending, pending.Status)

	handler := kafka.NewPayoutResultHandler(s.rt.payouts, quietLogger())
	msg := &sarama.ConsumerMessage{
		Topic: kafka.TopicPayoutResults,
		Value: []byte(`{"payoutId":"` + request.ID + `","status":"paid","externalRef":"PP-42"}`),
	}
	s.Require().NoError(handler(s.ctx, msg))

	paid, err := s.rt.payouts.Get(s.ctx, "seller-paypal", request.ID)
	s.Require().NoError(err)
	s.Equal(domain.PayoutStatusPaid, paid.Status)
	s.Equal("PP-42", paid.ExternalRef)

	// Повтор того же результата идемпотентен, противоречащий уходит в DLQ.
	s.Require().NoError(handler(s.ctx, msg))
	conflict := &sarama.ConsumerMessage{
		Topic: kafka.TopicPayoutResults,
		Value: []byte(`{"payoutId":"` + request.ID + `","status":"rejected","reason":"late"}`),
	}
	s.ErrorIs(handler(s.ctx, conflict), kafka.ErrInvalidMessage)
	s.Equal(int64(210), s.balance("seller-paypal"))
}

func (s *PurchaseLifecycleSuite) TestRejectedPayoutCreditsBack() {
	intent := s.createIntent("buyer-demo", "prompt-landing-copy")
	s.Require().NoError(s.fake().SetStatus(intent.ID, domain.IntentStatusSucceeded))
	_, err := s.rt.settlement.ConfirmPurchase(s.ctx, "buyer-demo", intent.ID)
	s.Require().NoError(err)

	request, err := s.rt.payouts.Request(s.ctx, payout.RequestInput{AccountID: "seller-demo", AmountMinor: 1000})
	s.Require().NoError(err)
	s.Equal(int64(20), s.balance("seller-demo"))

	_, err = s.rt.payouts.Resolve(s.ctx, request.ID, domain.PayoutStatusRejected, "", "account closed")
	s.Require().NoError(err)
	s.Equal(int64(1020), s.balance("seller-demo"))
}
