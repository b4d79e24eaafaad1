// Package app wires the checkout and payment pipeline into a running HTTP
// server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/soukly/souk-commerce/internal/domain/cart"
	"github.com/soukly/souk-commerce/internal/domain/coupon"
	"github.com/soukly/souk-commerce/internal/domain/order"
	"github.com/soukly/souk-commerce/internal/domain/payment"
	"github.com/soukly/souk-commerce/internal/domain/stock"
	"github.com/soukly/souk-commerce/internal/handler"
	"github.com/soukly/souk-commerce/internal/paymob"
	"github.com/soukly/souk-commerce/internal/storage/postgres"
	"github.com/soukly/souk-commerce/pkg/health"
	"github.com/soukly/souk-commerce/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	stockRepo := postgres.NewStockRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)

	// Domain services.
	ledger := stock.NewLedger(stockRepo)
	cartValidator := cart.NewValidator(productRepo)
	couponEngine := coupon.NewEngine(couponRepo)
	orderService := order.NewService(productRepo, ledger, couponEngine, orderRepo)

	paymobClient := paymob.NewClient(paymob.Config{
		BaseURL:             cfg.Paymob.BaseURL,
		APIKey:              cfg.Paymob.APIKey,
		HMACSecret:          cfg.Paymob.HMACSecret,
		WalletIntegrationID: cfg.Paymob.WalletIntegrationID,
	}, nil)
	paymentService := payment.NewService(
		paymentRepo, orderRepo, ledger,
		paymobClient, paymobClient,
		"paymob", cfg.Currency,
	)

	// HTTP handlers.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := handler.NewHandler(
		handler.Config{PaymentRedirectBase: cfg.PaymentRedirectBase},
		cartValidator,
		ledger,
		orderService,
		orderRepo,
		paymentService,
	)
	h.Register(e)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	healthSvc.RegisterEndpoints(mux)
	mux.Handle("/api/", e)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				// Probes and the provider's webhook retries are exempt; the
				// webhook is authenticated by its HMAC, not by source volume.
				Skip: func(r *http.Request) bool {
					switch r.URL.Path {
					case "/livez", "/readyz", "/api/payments/webhook/paymob":
						return true
					}
					return false
				},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("souk-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
