package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// Демо-данные для локального запуска без маркетплейса.
var (
	demoAccounts = []domain.Account{
		{ID: "seller-demo", Currency: "usd", PayoutProvider: domain.PayoutProviderStripeConnect, PayoutIdentity: "acct_demo_seller"},
		{ID: "seller-paypal", Currency: "usd", PayoutProvider: domain.PayoutProviderPayPal, PayoutIdentity: "seller@example.com"},
		{ID: "buyer-demo", Currency: "usd"},
	}
	demoItems = []domain.Item{
		{ID: "prompt-sql-tutor", OwnerID: "seller-demo", Title: "SQL tutor", PriceMinor: 500, Currency: "usd", Active: true},
		{ID: "prompt-landing-copy", OwnerID: "seller-demo", Title: "Landing page copywriter", PriceMinor: 1200, Currency: "usd", Active: true},
		{ID: "prompt-travel-planner", OwnerID: "seller-paypal", Title: "Travel planner", PriceMinor: 300, Currency: "usd", Active: true},
		{ID: "prompt-retired", OwnerID: "seller-paypal", Title: "Retired prompt", PriceMinor: 100, Currency: "usd", Active: false},
	}
)

func seedDemoData(ctx context.Context, catalog domain.CatalogRepository, logger *log.Entry) error {
	for _, account := range demoAccounts {
		if err := catalog.UpsertAccount(ctx, account); err != nil {
			return fmt.Errorf("seed account %s: %w", account.ID, err)
		}
	}
	for _, item := range demoItems {
		if err := catalog.UpsertItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %s: %w", item.ID, err)
		}
	}
	logger.WithFields(log.Fields{
		"accounts": len(demoAccounts),
		"items":    len(demoItems),
	}).Info("demo data seeded")
	return nil
}
