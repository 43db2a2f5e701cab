package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/gateway"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
	"github.com/vladislavdragonenkov/marketpay/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketpay/internal/service/payout"
	"github.com/vladislavdragonenkov/marketpay/internal/service/settlement"
	"github.com/vladislavdragonenkov/marketpay/internal/service/webhook"
	"github.com/vladislavdragonenkov/marketpay/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketpay/internal/transport/httpapi"
)

const testSecret = "test-jwt-secret"

type apiFixture struct {
	router *gin.Engine
	fake   *gateway.Fake
	store  *memory.Store
}

func newAPI(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	outbox := memory.NewOutboxRepository()
	store := memory.NewStore(outbox)
	timeline := memory.NewTimelineRepository()
	fake := gateway.NewFake()
	ctx := context.Background()

	require.NoError(t, store.Catalog().UpsertItem(ctx, domain.Item{
		ID: "item-1", OwnerID: "seller-1", Title: "SQL tutor", PriceMinor: 1000, Currency: "usd", Active: true,
	}))
	require.NoError(t, store.Catalog().UpsertAccount(ctx, domain.Account{
		ID: "seller-1", Currency: "usd", PayoutProvider: domain.PayoutProviderStripeConnect, PayoutIdentity: "acct_1",
	}))

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "http-test")
	reg := prometheus.NewRegistry()

	purchases := settlement.NewService(store.Catalog(), store.Intents(), store.Ledger(), fake,
		settlement.WithTimeline(timeline),
		settlement.WithOutbox(outbox),
		settlement.WithMetrics(metrics.NewSettlementMetricsWithRegisterer(reg)),
		settlement.WithLogger(entry),
	)
	reconciler := webhook.NewReconciler(fake, store.Intents(), store.WebhookEvents(), purchases,
		webhook.WithTimeline(timeline),
		webhook.WithLogger(entry),
	)
	payouts := payout.NewService(store.Catalog(), store.Ledger(), payout.WithMinimum(500), payout.WithLogger(entry))

	router, err := httpapi.NewRouter(httpapi.Dependencies{
		Purchases:   purchases,
		Payouts:     payouts,
		Webhooks:    reconciler,
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour),
		Metrics:     metrics.NewHTTPMetrics(reg),
		Logger:      entry,
	}, httpapi.AuthConfig{Mode: httpapi.AuthModeJWT, JWTSecret: testSecret})
	require.NoError(t, err)

	return apiFixture{router: router, fake: fake, store: store}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	signed, err := httpapi.SignToken(testSecret, sub, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return signed
}

func (f apiFixture) do(t *testing.T, method, path, sub string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, sub))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f apiFixture) createIntent(t *testing.T, buyer, key string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/payments/create-intent", buyer, map[string]string{"itemId": "item-1"},
		map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeJSON(t, w)["intentId"].(string)
}

func TestPurchaseFlowThroughWebhook(t *testing.T) {
	f := newAPI(t)

	intentID := f.createIntent(t, "buyer-1", "k-1")

	// Повтор с тем же ключом возвращает тот же intent.
	w := f.do(t, http.MethodPost, "/payments/create-intent", "buyer-1", map[string]string{"itemId": "item-1"},
		map[string]string{"Idempotency-Key": "k-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, intentID, decodeJSON(t, w)["intentId"])

	require.NoError(t, f.fake.SetStatus(intentID, domain.IntentStatusSucceeded))
	payload, signature, err := f.fake.SignedEvent("evt_1", gateway.EventIntentSucceeded, intentID)
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/payments/webhook", "", payload, map[string]string{"Stripe-Signature": signature})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, string(domain.WebhookOutcomeApplied), decodeJSON(t, w)["outcome"])

	// Подтверждение клиента после вебхука возвращает ту же покупку.
	w = f.do(t, http.MethodPost, "/payments/confirm", "buyer-1", map[string]string{"intentId": intentID}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	purchase := decodeJSON(t, w)["purchase"].(map[string]any)
	require.Equal(t, "webhook", purchase["source"])
	require.EqualValues(t, 850, purchase["sellerAmountCents"])

	w = f.do(t, http.MethodGet, "/payments/balance", "seller-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	balance := decodeJSON(t, w)
	require.EqualValues(t, 850, balance["balanceCents"])
	require.Equal(t, "$8.50", balance["balanceFormatted"])

	w = f.do(t, http.MethodGet, "/payments/intents/"+intentID, "buyer-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeJSON(t, w)
	require.NotNil(t, view["purchase"])
	require.NotEmpty(t, view["timeline"])

	w = f.do(t, http.MethodGet, "/payments/intents/"+intentID, "buyer-2", nil, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/payments/purchases", "buyer-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeJSON(t, w)["purchases"], 1)

	w = f.do(t, http.MethodGet, "/payments/earnings", "seller-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	earnings := decodeJSON(t, w)
	require.EqualValues(t, 850, earnings["totalEarningsCents"])
	require.EqualValues(t, 1, earnings["totalSales"])

	w = f.do(t, http.MethodGet, "/payments/ledger?limit=10", "seller-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeJSON(t, w)["entries"], 1)

	// Второй intent на уже купленный товар отклоняется.
	w = f.do(t, http.MethodPost, "/payments/create-intent", "buyer-1", map[string]string{"itemId": "item-1"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "already_owned", decodeJSON(t, w)["code"])
}

func TestPayoutIdempotency(t *testing.T) {
	f := newAPI(t)
	for _, buyer := range []string{"buyer-1", "buyer-2"} {
		intentID := f.createIntent(t, buyer, "k")
		require.NoError(t, f.fake.SetStatus(intentID, domain.IntentStatusSucceeded))
		w := f.do(t, http.MethodPost, "/payments/confirm", buyer, map[string]string{"intentId": intentID}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	headers := map[string]string{"Idempotency-Key": "payout-1"}
	w := f.do(t, http.MethodPost, "/payments/payout", "seller-1", map[string]int64{"amountCents": 1000}, headers)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decodeJSON(t, w)
	require.Equal(t, "pending", first["status"])
	payoutID := first["payoutRequestId"].(string)

	w = f.do(t, http.MethodPost, "/payments/payout", "seller-1", map[string]int64{"amountCents": 1000}, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	require.Equal(t, payoutID, decodeJSON(t, w)["payoutRequestId"])

	w = f.do(t, http.MethodPost, "/payments/payout", "seller-1", map[string]int64{"amountCents": 600}, headers)
	require.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/payments/balance", "seller-1", nil, nil)
	require.EqualValues(t, 700, decodeJSON(t, w)["balanceCents"])

	w = f.do(t, http.MethodGet, "/payments/ledger", "seller-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeJSON(t, w)["entries"].([]any)
	require.Len(t, entries, 3)
	debit := entries[0].(map[string]any)
	require.Equal(t, "payout_debit", debit["kind"])
	require.EqualValues(t, -1000, debit["amountCents"])

	w = f.do(t, http.MethodGet, "/payments/payouts/"+payoutID, "seller-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/payments/payouts/"+payoutID, "buyer-1", nil, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	intentID := f.createIntent(t, "buyer-1", "k-1")

	tests := []struct {
		name       string
		method     string
		path       string
		sub        string
		body       any
		headers    map[string]string
		prepare    func()
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing token", method: http.MethodGet, path: "/payments/balance",
			wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated",
		},
		{
			name: "garbage token", method: http.MethodGet, path: "/payments/balance",
			headers:    map[string]string{"Authorization": "Bearer nope"},
			wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated",
		},
		{
			name: "unknown item", method: http.MethodPost, path: "/payments/create-intent", sub: "buyer-1",
			body:       map[string]string{"itemId": "missing"},
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "empty item", method: http.MethodPost, path: "/payments/create-intent", sub: "buyer-1",
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest, wantCode: "validation_failed",
		},
		{
			name: "gateway unavailable", method: http.MethodPost, path: "/payments/create-intent", sub: "buyer-2",
			body:       map[string]string{"itemId": "item-1"},
			prepare:    func() { f.fake.FailNext(gateway.OpCreateIntent, domain.ErrGatewayUnavailable) },
			wantStatus: http.StatusServiceUnavailable, wantCode: "gateway_unavailable",
		},
		{
			name: "confirm before payment", method: http.MethodPost, path: "/payments/confirm", sub: "buyer-1",
			body:       map[string]string{"intentId": intentID},
			wantStatus: http.StatusPaymentRequired, wantCode: "payment_not_complete",
		},
		{
			name: "confirm foreign intent", method: http.MethodPost, path: "/payments/confirm", sub: "buyer-9",
			body:       map[string]string{"intentId": intentID},
			wantStatus: http.StatusForbidden, wantCode: "forbidden",
		},
		{
			name: "payout below minimum", method: http.MethodPost, path: "/payments/payout", sub: "seller-1",
			body:       map[string]int64{"amountCents": 100},
			wantStatus: http.StatusUnprocessableEntity, wantCode: "below_minimum",
		},
		{
			name: "payout over balance", method: http.MethodPost, path: "/payments/payout", sub: "seller-1",
			body:       map[string]int64{"amountCents": 5000},
			wantStatus: http.StatusUnprocessableEntity, wantCode: "insufficient_balance",
		},
		{
			name: "balance of unknown account", method: http.MethodGet, path: "/payments/balance", sub: "nobody",
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "bad limit", method: http.MethodGet, path: "/payments/purchases?limit=abc", sub: "buyer-1",
			wantStatus: http.StatusBadRequest, wantCode: "validation_failed",
		},
		{
			name: "bad webhook signature", method: http.MethodPost, path: "/payments/webhook",
			body:       []byte(`{"id":"evt_x","type":"payment_intent.succeeded"}`),
			headers:    map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"},
			wantStatus: http.StatusBadRequest, wantCode: "signature_invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare()
			}
			w := f.do(t, tt.method, tt.path, tt.sub, tt.body, tt.headers)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			require.Equal(t, tt.wantCode, decodeJSON(t, w)["code"])
			if tt.wantStatus == http.StatusServiceUnavailable {
				require.NotEmpty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestHeaderAuthMode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/whoami", httpapi.Authenticate(httpapi.AuthConfig{Mode: httpapi.AuthModeHeader}), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "seller-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthConfigValidate(t *testing.T) {
	require.Error(t, httpapi.AuthConfig{Mode: httpapi.AuthModeJWT}.Validate())
	require.Error(t, httpapi.AuthConfig{Mode: "basic"}.Validate())
	require.NoError(t, httpapi.AuthConfig{Mode: httpapi.AuthModeHeader}.Validate())
}

func TestJWTWrongAlgorithmRejected(t *testing.T) {
	f := newAPI(t)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "seller-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/payments/balance", "", nil, map[string]string{"Authorization": "Bearer " + unsigned})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
