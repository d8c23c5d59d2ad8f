package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/config"
	"github.com/fairyhunter13/checkout-ledger/internal/handler"
	"github.com/fairyhunter13/checkout-ledger/internal/repository"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
	"github.com/fairyhunter13/checkout-ledger/internal/validator"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	policy, err := cfg.Checkout.Policy()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid checkout configuration")
	}
	loc, err := cfg.Checkin.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid check-in configuration")
	}

	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.ConnectRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "Checkout Ledger",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	validate := validator.New()

	// Repositories
	memberRepo := repository.NewMemberRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	redemptionRepo := repository.NewRedemptionRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	pointsRepo := repository.NewPointsRepository(pool)
	errorLogRepo := repository.NewErrorLogRepository(pool)

	var stagedStore service.StagedCouponStore = repository.NewStagedCouponRepository(pool)
	if cfg.Checkout.StagedCouponStore == "memory" {
		stagedStore = service.NewMemoryStagedCouponStore(nil)
	}
	log.Info().Str("store", cfg.Checkout.StagedCouponStore).Msg("staged coupon store selected")

	// Services
	couponService := service.NewCouponService(pool, couponRepo, redemptionRepo)
	pointsService := service.NewPointsService(pool, memberRepo, pointsRepo, errorLogRepo)
	cartService := service.NewCartService(service.CartDeps{
		DB:        pool,
		Members:   memberRepo,
		Carts:     cartRepo,
		Catalog:   catalogRepo,
		Coupons:   couponService,
		Staged:    stagedStore,
		Policy:    policy,
		StagedTTL: cfg.Checkout.StagedCouponTTL,
	})
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		DB:      pool,
		Members: memberRepo,
		Carts:   cartRepo,
		Points:  pointsRepo,
		Coupons: couponService,
		Staged:  stagedStore,
		Policy:  policy,
	})
	orderService := service.NewOrderService(service.OrderDeps{
		DB:       pool,
		Checkout: checkoutService,
		Coupons:  couponService,
		Ledger:   pointsService,
		Members:  memberRepo,
		Orders:   orderRepo,
		Catalog:  catalogRepo,
		Carts:    cartRepo,
		Points:   pointsRepo,
		Staged:   stagedStore,
	})
	checkinService := service.NewCheckinService(service.CheckinDeps{
		DB:           pool,
		Members:      memberRepo,
		Points:       pointsRepo,
		Ledger:       pointsService,
		Location:     loc,
		LookbackDays: cfg.Checkin.LookbackDays,
	})

	// Handlers
	healthHandler := handler.NewHealthHandler(pool)
	cartHandler := handler.NewCartHandler(cartService, validate)
	couponHandler := handler.NewCouponHandler(couponService)
	checkoutHandler := handler.NewCheckoutHandler(checkoutService, orderService, validate)
	pointsHandler := handler.NewPointsHandler(pointsService, validate)
	checkinHandler := handler.NewCheckinHandler(checkinService)

	app.Get("/health", healthHandler.Check)

	api := app.Group("/api")

	cart := api.Group("/cart")
	cart.Get("/", cartHandler.GetCart)
	cart.Delete("/", cartHandler.Clear)
	cart.Post("/items", cartHandler.AddItem)
	cart.Post("/items/remove", cartHandler.RemoveItems)
	cart.Patch("/items/:lineId", cartHandler.UpdateQuantity)
	cart.Delete("/items/:lineId", cartHandler.RemoveItem)
	cart.Post("/coupon", cartHandler.ApplyCoupon)
	cart.Delete("/coupon", cartHandler.RemoveCoupon)
	cart.Get("/validate", cartHandler.Validate)

	api.Get("/coupons", couponHandler.ListWallet)
	api.Get("/coupons/:id", couponHandler.GetCoupon)
	api.Post("/coupons/:id/claim", couponHandler.ClaimCoupon)

	checkout := api.Group("/checkout")
	checkout.Get("/validate", checkoutHandler.Validate)
	checkout.Get("/summary", checkoutHandler.Summary)
	checkout.Post("/orders", checkoutHandler.CreateOrder)

	points := api.Group("/points")
	points.Get("/", pointsHandler.Balance)
	points.Get("/history", pointsHandler.History)
	points.Post("/earn", pointsHandler.Earn)
	points.Post("/use", pointsHandler.Use)
	points.Post("/refund", pointsHandler.Refund)
	points.Post("/expire", pointsHandler.Expire)

	api.Get("/checkin", checkinHandler.Info)
	api.Post("/checkin", checkinHandler.Checkin)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	pool.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
