package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
	"github.com/vladislavdragonenkov/marketpay/internal/service/idempotency"
)

// Dependencies - сервисы, которые обслуживает HTTP API.
type Dependencies struct {
	Purchases   PurchaseService
	Payouts     PayoutService
	Webhooks    WebhookHandler
	Idempotency *idempotency.Guard
	Metrics     *metrics.HTTPMetrics
	Logger      *log.Entry
}

// NewRouter собирает gin-роутер платёжного API.
func NewRouter(deps Dependencies, auth AuthConfig) (*gin.Engine, error) {
	if deps.Purchases == nil || deps.Payouts == nil || deps.Webhooks == nil {
		return nil, errors.New("httpapi: purchases, payouts and webhooks are required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("httpapi: idempotency guard is required")
	}
	if err := auth.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	h := &handlers{
		purchases: deps.Purchases,
		payouts:   deps.Payouts,
		webhooks:  deps.Webhooks,
		logger:    logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.NoRoute(func(c *gin.Context) {
		writeProblem(c, http.StatusNotFound, "not_found", "route not found")
	})

	payments := router.Group("/payments")
	// Вебхук аутентифицируется подписью процессора, а не пользователем.
	payments.POST("/webhook", h.handleWebhook)

	authed := payments.Group("", Authenticate(auth))
	authed.POST("/create-intent", h.createIntent)
	authed.POST("/confirm", h.confirm)
	authed.GET("/balance", h.balance)
	authed.POST("/payout", Idempotent(deps.Idempotency, "payout", logger), h.requestPayout)
	authed.GET("/payouts/:id", h.getPayout)
	authed.GET("/purchases", h.listPurchases)
	authed.GET("/earnings", h.earnings)
	authed.GET("/ledger", h.ledger)
	authed.GET("/intents/:id", h.intent)

	return router, nil
}
