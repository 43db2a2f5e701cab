package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketpay/internal/health"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
	"github.com/vladislavdragonenkov/marketpay/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketpay/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketpay/internal/service/payout"
	"github.com/vladislavdragonenkov/marketpay/internal/service/settlement"
	"github.com/vladislavdragonenkov/marketpay/internal/service/webhook"
	"github.com/vladislavdragonenkov/marketpay/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/marketpay/internal/version"
)

const shutdownTimeout = 5 * time.Second

// runtime - собранный сервис: хранилище, процессор, сервисы, воркеры и серверы.
type runtime struct {
	cfg    Config
	logger *log.Entry

	storage   *runtimeDependencies
	gateways  *gatewayStack
	messaging *messagingDependencies

	settlement *settlement.Service
	payouts    *payout.Service
	reconciler *webhook.Reconciler

	router *gin.Engine
	health *healthcheck.Handler

	outboxWorker  *outbox.Worker
	payoutWorker  *payout.Worker
	cleanupWorker *idempotency.CleanupWorker
}

// Run собирает сервис и обслуживает запросы до отмены ctx.
// При штатной остановке возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithField("build", version.String()).Info("starting marketpay")

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	return rt.serve(ctx)
}

func newRuntime(ctx context.Context, cfg Config, logger *log.Entry) (*runtime, error) {
	settlementMetrics := metrics.NewSettlementMetrics()

	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, storage: storage}

	if cfg.SeedDemo {
		if err := seedDemoData(ctx, storage.Catalog, logger); err != nil {
			rt.close()
			return nil, err
		}
	}

	rt.gateways, err = initGateway(cfg, settlementMetrics, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	fees, err := domain.NewFeePolicy(cfg.SellerShare)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.settlement = settlement.NewService(storage.Catalog, storage.Intents, storage.Ledger, rt.gateways.Gateway,
		settlement.WithFeePolicy(fees),
		settlement.WithTimeline(storage.Timeline),
		settlement.WithOutbox(storage.Outbox),
		settlement.WithMetrics(settlementMetrics),
		settlement.WithLogger(logger.WithField("component", "settlement")),
	)
	rt.payouts = payout.NewService(storage.Catalog, storage.Ledger,
		payout.WithMinimum(cfg.PayoutMinimumMinor),
		payout.WithMetrics(settlementMetrics),
		payout.WithLogger(logger.WithField("component", "payout")),
	)
	rt.reconciler = webhook.NewReconciler(rt.gateways.Gateway, storage.Intents, storage.WebhookEvents, rt.settlement,
		webhook.WithTimeline(storage.Timeline),
		webhook.WithMetrics(settlementMetrics),
		webhook.WithLogger(logger.WithField("component", "webhook")),
	)

	rt.messaging, err = initMessaging(cfg.Kafka, rt.payouts, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryDelay),
	}
	if rt.messaging.DLQPublisher != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(rt.messaging.DLQPublisher))
	}
	rt.outboxWorker = outbox.NewWorker(storage.Outbox, rt.messaging.Publisher, outboxOpts...)

	rt.payoutWorker = payout.NewWorker(storage.Ledger, rt.payouts, rt.gateways.Executors,
		payout.WithWorkerLogger(logger.WithField("component", "payout-worker")),
		payout.WithPollInterval(cfg.Payout.PollInterval),
		payout.WithBatchSize(cfg.Payout.BatchSize),
	)
	rt.cleanupWorker = idempotency.NewCleanupWorker(storage.Idempotency,
		idempotency.WithCleanupLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanup.Interval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanup.BatchSize),
	)

	rt.router, err = httpapi.NewRouter(httpapi.Dependencies{
		Purchases:   rt.settlement,
		Payouts:     rt.payouts,
		Webhooks:    rt.reconciler,
		Idempotency: idempotency.NewGuard(storage.Idempotency, cfg.Idempotency.TTL),
		Metrics:     metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		Logger:      logger.WithField("component", "http"),
	}, cfg.Auth.toHTTP())
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.health = rt.newHealthHandler()
	return rt, nil
}

func (rt *runtime) newHealthHandler() *healthcheck.Handler {
	h := healthcheck.NewHandler(version.Service, version.GetVersion())
	if rt.storage.Ping != nil {
		h.RegisterChecker("storage", healthcheck.NewFuncChecker("storage", rt.storage.Ping))
	}
	h.RegisterChecker("gateway", healthcheck.NewBreakerChecker("gateway", rt.gateways.Breaker))
	h.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", func() (int, error) {
		stats, err := rt.storage.Outbox.Stats()
		if err != nil {
			return 0, err
		}
		return stats.PendingCount, nil
	}, rt.cfg.Outbox.MaxPending))
	return h
}

// serve запускает серверы и воркеры; первая ошибка любого из них останавливает остальные.
func (rt *runtime) serve(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", rt.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", rt.cfg.HTTPAddr, err)
	}
	metricsLis, err := net.Listen("tcp", rt.cfg.MetricsAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen metrics %s: %w", rt.cfg.MetricsAddr, err)
	}
	var grpcLis net.Listener
	if rt.cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", rt.cfg.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			_ = metricsLis.Close()
			return fmt.Errorf("listen grpc %s: %w", rt.cfg.GRPCAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	apiSrv := &http.Server{Handler: rt.router, ReadHeaderTimeout: 5 * time.Second}
	serveHTTP(gctx, g, apiSrv, httpLis, rt.logger.WithField("server", "api"))
	rt.logger.Infof("HTTP API слушает %s", httpLis.Addr())

	metricsSrv := &http.Server{Handler: newMetricsMux(rt.health), ReadHeaderTimeout: 5 * time.Second}
	serveHTTP(gctx, g, metricsSrv, metricsLis, rt.logger.WithField("server", "metrics"))
	rt.logger.Infof("метрики доступны по адресу %s/metrics", metricsLis.Addr())
	rt.logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", metricsLis.Addr(), metricsLis.Addr(), metricsLis.Addr())

	if grpcLis != nil {
		serveGRPC(gctx, g, grpcLis, rt.logger.WithField("server", "grpc"))
	}

	g.Go(func() error {
		rt.outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		rt.payoutWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		rt.cleanupWorker.Run(gctx)
		return nil
	})
	if rt.messaging.Consumer != nil {
		if err := rt.messaging.Consumer.Start(gctx); err != nil {
			rt.logger.WithError(err).Error("failed to start payout results consumer")
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		rt.logger.Info("marketpay остановлен")
	}
	return ctx.Err()
}

func (rt *runtime) close() {
	rt.messaging.Close(rt.logger)
	if rt.storage != nil && rt.storage.Close != nil {
		if err := rt.storage.Close(); err != nil {
			rt.logger.WithError(err).Warn("failed to close storage")
		}
	}
}

func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, lis net.Listener, logger *log.Entry) {
	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", lis.Addr(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
		return nil
	})
}

// newMetricsMux отдаёт /metrics и пробы для оркестратора.
func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// serveGRPC поднимает gRPC health и reflection для проб оркестратора.
func serveGRPC(ctx context.Context, g *errgroup.Group, lis net.Listener, logger *log.Entry) {
	grpcMetrics := grpcServerMetrics(logger)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(version.Service, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			server.Stop()
		}
		return nil
	})
}

func grpcServerMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}
