package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/client"
	"github.com/khemia0101-del/openclaw-concierge/internal/config"
	"github.com/khemia0101-del/openclaw-concierge/internal/db"
	"github.com/khemia0101-del/openclaw-concierge/internal/http"
	"github.com/khemia0101-del/openclaw-concierge/internal/repository"
	"github.com/khemia0101-del/openclaw-concierge/internal/service"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting concierge service", zap.String("port", cfg.Server.Port))

	pool, err := db.NewPool(cfg, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	instanceRepo := repository.NewInstanceRepository(pool)
	subscriptionRepo := repository.NewSubscriptionRepository(pool)
	billingRepo := repository.NewBillingRepository(pool)
	leadRepo := repository.NewLeadRepository(pool)
	affiliateRepo := repository.NewAffiliateRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	// External clients
	stripeClient := client.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, logger)
	doClient := client.NewDOClient(cfg.DigitalOcean.APIToken, logger)
	if !doClient.Configured() {
		logger.Warn("DO_API_TOKEN not set, deployments will fail with a stored provisioning error")
	}

	// Services
	affiliateService := service.NewAffiliateService(affiliateRepo, logger)
	checkoutService := service.NewCheckoutService(
		cfg,
		stripeClient,
		subscriptionRepo,
		billingRepo,
		leadRepo,
		instanceRepo,
		affiliateService,
		logger,
	)
	provisionService := service.NewProvisionService(
		cfg,
		instanceRepo,
		subscriptionRepo,
		billingRepo,
		logRepo,
		doClient,
		stripeClient,
		checkoutService,
		logger,
	)

	webhookHandler := http.NewWebhookHandler(stripeClient, checkoutService, logger)
	server := http.NewServer(cfg, pool, checkoutService, provisionService, affiliateService, webhookHandler, logger)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.Run(addr); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
}
