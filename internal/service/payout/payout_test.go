package payout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/gateway"
	"github.com/vladislavdragonenkov/marketpay/internal/service/payout"
	"github.com/vladislavdragonenkov/marketpay/internal/storage/memory"
)

type fixture struct {
	svc    *payout.Service
	store  *memory.Store
	outbox *memory.OutboxRepository
	logger *log.Entry
}

// newFixture даёт продавцу seller-1 баланс 8500 через десять оплаченных покупок.
func newFixture(t *testing.T, provider domain.PayoutProvider, identity string) fixture {
	t.Helper()

	outbox := memory.NewOutboxRepository()
	store := memory.NewStore(outbox)
	ctx := context.Background()

	require.NoError(t, store.Catalog().UpsertItem(ctx, domain.Item{
		ID: "item-1", OwnerID: "seller-1", Title: "SQL tutor", PriceMinor: 1000, Currency: "usd", Active: true,
	}))
	require.NoError(t, store.Catalog().UpsertAccount(ctx, domain.Account{
		ID: "seller-1", Currency: "usd", PayoutProvider: provider, PayoutIdentity: identity,
	}))
	for i := 0; i < 10; i++ {
		buyer := "buyer-" + string(rune('a'+i))
		intent, err := store.Intents().Create(ctx, domain.PaymentIntent{
			ID: "pi_" + buyer, ItemID: "item-1", BuyerID: buyer, SellerID: "seller-1", AmountMinor: 1000, Currency: "usd",
		})
		require.NoError(t, err)
		_, _, err = store.Ledger().SettlePurchase(ctx, domain.Settlement{Purchase: domain.Purchase{
			ItemID: "item-1", BuyerID: buyer, SellerID: "seller-1", IntentID: intent.ID,
			AmountPaidMinor: 1000, SellerAmountMinor: 850, PlatformFeeMinor: 150, Currency: "usd",
		}})
		require.NoError(t, err)
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "payout-test")

	svc := payout.NewService(store.Catalog(), store.Ledger(), payout.WithLogger(entry))
	return fixture{svc: svc, store: store, outbox: outbox, logger: entry}
}

func (f fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.store.Ledger().Balance(context.Background(), "seller-1")
	require.NoError(t, err)
	return b
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderManual, "")

	tests := []struct {
		name string
		in   payout.RequestInput
		want error
	}{
		{"missing account", payout.RequestInput{AmountMinor: 2000}, domain.ErrAccountIDRequired},
		{"zero amount", payout.RequestInput{AccountID: "seller-1"}, domain.ErrAmountNotPositive},
		{"below minimum", payout.RequestInput{AccountID: "seller-1", AmountMinor: 999}, domain.ErrBelowMinimum},
		{"below minimum wins over balance", payout.RequestInput{AccountID: "nobody", AmountMinor: 500}, domain.ErrBelowMinimum},
		{"unknown account", payout.RequestInput{AccountID: "nobody", AmountMinor: 2000}, domain.ErrAccountNotFound},
		{"over balance", payout.RequestInput{AccountID: "seller-1", AmountMinor: 8501}, domain.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Request(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	require.Equal(t, int64(8500), f.balance(t))
}

func TestRequestDebitsAndReplays(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderStripeConnect, "acct_1")
	ctx := context.Background()

	p, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 5000, IdempotencyKey: "po-1"})
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusPending, p.Status)
	require.Equal(t, domain.PayoutProviderStripeConnect, p.Provider)
	require.Equal(t, "acct_1", p.Destination)
	require.Equal(t, int64(3500), f.balance(t))

	again, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 5000, IdempotencyKey: "po-1"})
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)
	require.Equal(t, int64(3500), f.balance(t))

	var requested int
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == domain.EventPayoutRequested {
			requested++
		}
	}
	require.Equal(t, 1, requested)
}

func TestConcurrentRequestsNeverOverdraw(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderManual, "")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Request(context.Background(), payout.RequestInput{AccountID: "seller-1", AmountMinor: 1000})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8, accepted)
	require.Equal(t, int64(500), f.balance(t))
}

func TestResolve(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderPayPal, "seller@example.com")
	ctx := context.Background()

	p, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 2000})
	require.NoError(t, err)

	rejected, err := f.svc.Resolve(ctx, p.ID, domain.PayoutStatusRejected, "", "paypal account closed")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusRejected, rejected.Status)
	require.Equal(t, int64(8500), f.balance(t))

	_, err = f.svc.Resolve(ctx, p.ID, domain.PayoutStatusRejected, "", "again")
	require.NoError(t, err)
	require.Equal(t, int64(8500), f.balance(t))

	_, err = f.svc.Resolve(ctx, p.ID, domain.PayoutStatusPaid, "ref", "")
	require.ErrorIs(t, err, domain.ErrPayoutNotPending)

	_, err = f.svc.Resolve(ctx, "missing", domain.PayoutStatusPaid, "", "")
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)

	_, err = f.svc.Resolve(ctx, p.ID, domain.PayoutStatusPending, "", "")
	require.ErrorIs(t, err, domain.ErrPayoutNotPending)
}

func TestGetChecksOwner(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderManual, "")
	ctx := context.Background()

	p, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 1000})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, "seller-1", p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, err = f.svc.Get(ctx, "seller-2", p.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestWorkerExecutesStripeConnect(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderStripeConnect, "acct_1")
	ctx := context.Background()
	fake := gateway.NewFake()

	p, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 3000})
	require.NoError(t, err)

	worker := payout.NewWorker(f.store.Ledger(), f.svc, []domain.PayoutExecutor{fake}, payout.WithWorkerLogger(f.logger))

	fake.FailNext(gateway.OpTransfer, domain.ErrGatewayUnavailable)
	worker.ProcessOnce(ctx)
	pending, err := f.store.Ledger().GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusPending, pending.Status)

	worker.ProcessOnce(ctx)
	paid, err := f.store.Ledger().GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusPaid, paid.Status)
	require.NotEmpty(t, paid.ExternalRef)
	require.Equal(t, int64(5500), f.balance(t))
	require.Equal(t, 2, fake.Calls(gateway.OpTransfer))
}

func TestWorkerRejectionCreditsBack(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderStripeConnect, "acct_1")
	ctx := context.Background()
	fake := gateway.NewFake()

	p, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 3000})
	require.NoError(t, err)
	require.Equal(t, int64(5500), f.balance(t))

	fake.FailNext(gateway.OpTransfer, domain.ErrGatewayRejected)
	payout.NewWorker(f.store.Ledger(), f.svc, []domain.PayoutExecutor{fake}, payout.WithWorkerLogger(f.logger)).ProcessOnce(ctx)

	rejected, err := f.store.Ledger().GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusRejected, rejected.Status)
	require.Equal(t, int64(8500), f.balance(t))
}

func TestWorkerSkipsProvidersWithoutExecutor(t *testing.T) {
	f := newFixture(t, domain.PayoutProviderPayPal, "seller@example.com")
	ctx := context.Background()
	fake := gateway.NewFake()

	p, err := f.svc.Request(ctx, payout.RequestInput{AccountID: "seller-1", AmountMinor: 3000})
	require.NoError(t, err)

	payout.NewWorker(f.store.Ledger(), f.svc, []domain.PayoutExecutor{fake}, payout.WithWorkerLogger(f.logger)).ProcessOnce(ctx)

	got, err := f.store.Ledger().GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusPending, got.Status)
	require.Zero(t, fake.Calls(gateway.OpTransfer))
}
