package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/peerex/peerex-core/internal/auth"
	"github.com/peerex/peerex-core/internal/config"
	"github.com/peerex/peerex-core/internal/database"
	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/ledger"
	"github.com/peerex/peerex-core/internal/matching"
	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/settlement"
	"github.com/peerex/peerex-core/internal/swap"
	"github.com/peerex/peerex-core/internal/trading"
	"github.com/peerex/peerex-core/pkg/middleware"
)

// init configures logging based on environment settings. In development
// mode it enables pretty printing with timestamps; debug logging can be
// enabled via the DEBUG environment variable.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Event bus: NATS when configured, structured log otherwise.
	var publisher events.Publisher
	if cfg.NATS.Enabled {
		natsPub, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsPub.Close()
		publisher = natsPub
	} else {
		publisher = events.NewLogPublisher()
	}

	spreadPercent, err := decimal.NewFromString(cfg.Trading.SpreadPercent)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid spread_percent")
	}
	takerFeePercent, err := decimal.NewFromString(cfg.Trading.TakerFeePercent)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid taker_fee_percent")
	}

	// Price oracle: a fixed development table, optionally fronted by the
	// redis cache. Production swaps the fixed source for the live oracle
	// collaborator behind the same interface.
	var priceSource pricing.Source = pricing.NewFixedSource(map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(85000),
		"ETH": decimal.NewFromInt(4200),
		"LTC": decimal.NewFromInt(120),
	})
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
		priceSource = pricing.NewCachedSource(priceSource, rdb, 30*time.Second)
	}
	resolver := pricing.NewResolver(priceSource, spreadPercent)

	// Core services.
	ledgerService := ledger.NewService(db, publisher, cfg.Trading.PlatformUserID)
	if err := ledgerService.EnsureBalances(cfg.Trading.PlatformUserID, cfg.Trading.Assets); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize platform balances")
	}

	locks := matching.NewLockRegistry()
	engine := matching.NewEngine(db, locks, resolver, takerFeePercent)
	executor := settlement.NewExecutor(db, ledgerService, publisher,
		time.Duration(cfg.Trading.PaymentWindowMinutes)*time.Minute)
	tradingService := trading.NewService(db, engine, executor, resolver, publisher)
	swapService := swap.NewService(db, ledgerService, resolver)

	authService := auth.NewService(cfg.Auth.JWTSecret)
	if cfg.IsDebug {
		authService.RegisterAPICredentials("test-api-key", "test-api-secret", "test-user")
		if err := ledgerService.EnsureBalances("test-user", cfg.Trading.Assets); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to initialize test user balances")
		}
	}

	// Background consistency check over the audit trail.
	reconciler := ledger.NewReconciler(ledgerService.Database(), 10*time.Minute)
	reconcilerCtx, reconcilerCancel := context.WithCancel(context.Background())
	defer reconcilerCancel()
	go reconciler.Start(reconcilerCtx)

	// HTTP wiring.
	if !cfg.IsDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg,
		auth.NewGinHandlers(authService),
		trading.NewGinHandlers(tradingService, settlement.NewDatabase(db)),
		ledger.NewGinHandlers(ledgerService),
		swap.NewGinHandlers(swapService),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints:
// - Auth routes: public token exchange
// - User routes: orders, balances, ledger, trades, swap (JWT protected)
// - Internal routes: the balance mutation funnel for collaborators
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	swapHandlers *swap.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			orders := protected.Group("/orders")
			{
				orders.POST("", tradingHandlers.CreateOrderHandler())
				orders.GET("", tradingHandlers.GetOrdersHandler())
				orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
				orders.POST("/:order_id/cancel", tradingHandlers.CancelOrderHandler())
				orders.POST("/:order_id/pause", tradingHandlers.PauseOrderHandler())
				orders.POST("/:order_id/resume", tradingHandlers.ResumeOrderHandler())
			}

			protected.GET("/balances", ledgerHandlers.GetBalancesHandler())
			protected.GET("/ledger/:asset", ledgerHandlers.GetHistoryHandler())
			protected.GET("/trades", tradingHandlers.GetTradesHandler())
			protected.POST("/swap", swapHandlers.SwapHandler())
		}

		// Internal routes (should additionally be protected by internal
		// network isolation).
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/balance-mutations", ledgerHandlers.MutateHandler())
		}
	}
}
