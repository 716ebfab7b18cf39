package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/config"
	"github.com/khemia0101-del/openclaw-concierge/internal/service"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	webhook *WebhookHandler
	cfg     *config.Config
	db      *pgxpool.Pool
}

// Per-IP limiter for the unauthenticated onboarding endpoints.
var onboardingRateLimiter = NewRateLimiter(30, time.Minute)

// Deploys are expensive; one active instance per user means a handful of
// attempts per hour covers every retry scenario.
var deployRateLimiter = NewRateLimiter(5, time.Hour)

// Per-user limiter for the authenticated dashboard.
var dashboardRateLimiter = NewRateLimiter(60, time.Minute)

func NewServer(
	cfg *config.Config,
	db *pgxpool.Pool,
	checkout *service.CheckoutService,
	provision *service.ProvisionService,
	affiliates *service.AffiliateService,
	webhook *WebhookHandler,
	logger *zap.Logger,
) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: NewHandler(checkout, provision, affiliates, logger),
		webhook: webhook,
		cfg:     cfg,
		db:      db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "concierge-service",
		})
	})

	// Onboarding API. Pre-auth by design: requests are gated by the Stripe
	// session they carry, not by a JWT.
	onboarding := s.router.Group("/api/v1/onboarding")
	onboarding.Use(RateLimitMiddleware(onboardingRateLimiter))
	{
		onboarding.POST("/checkout", s.handler.CreateCheckout)
		onboarding.POST("/verify", s.handler.VerifyPayment)
		onboarding.POST("/deploy", RateLimitMiddleware(deployRateLimiter), s.handler.Deploy)
		onboarding.GET("/status", s.handler.DeployStatus)
		onboarding.POST("/retry", RateLimitMiddleware(deployRateLimiter), s.handler.RetryDeploy)
	}

	// Dashboard API, JWT-authenticated.
	dashboard := s.router.Group("/api/v1/dashboard")
	dashboard.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	dashboard.Use(RateLimitMiddleware(dashboardRateLimiter))
	{
		dashboard.GET("/status", s.handler.DashboardStatus)
		dashboard.POST("/restart", s.handler.RestartInstance)
		dashboard.GET("/logs", s.handler.InstanceLogs)
		dashboard.DELETE("/instance", s.handler.DeleteInstance)

		dashboard.POST("/affiliate", s.handler.CreateAffiliate)
		dashboard.GET("/affiliate/stats", s.handler.AffiliateStats)
		dashboard.GET("/affiliate/referrals", s.handler.AffiliateReferrals)
	}

	// Public referral tracking.
	s.router.GET("/api/v1/public/ref/:code", s.handler.TrackReferral)

	// Stripe webhooks. Signature verification replaces auth here.
	s.router.POST("/api/webhooks/stripe", s.webhook.HandleStripe)

	// Internal API for service-to-service calls.
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.POST("/leads/migrate", s.handler.MigrateLead)

		dbAdminHandler := NewDBAdminHandler(s.db, s.cfg.Database.Schema)
		dbAdmin := internal.Group("/admin/db")
		{
			dbAdmin.GET("/tables", dbAdminHandler.ListTables)
			dbAdmin.GET("/tables/:table/schema", dbAdminHandler.GetTableSchema)
			dbAdmin.GET("/tables/:table/rows", dbAdminHandler.QueryRows)
		}
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
