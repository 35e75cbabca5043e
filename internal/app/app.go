package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nevisai/server/internal/module/auth"
	"github.com/nevisai/server/internal/module/credits"
	"github.com/nevisai/server/internal/module/generation"
	"github.com/nevisai/server/internal/module/payment"
	paymentprovider "github.com/nevisai/server/internal/module/payment/provider"
	"github.com/nevisai/server/internal/module/plan"
	sharedcache "github.com/nevisai/server/internal/shared/cache"
	"github.com/nevisai/server/internal/shared/config"
	"github.com/nevisai/server/internal/shared/database"
	"github.com/nevisai/server/internal/shared/logger"
	"github.com/nevisai/server/internal/shared/metrics"
	"github.com/nevisai/server/internal/shared/middleware"
)

// App wires the modules together and owns their shared resources.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	metrics   *metrics.Metrics

	// Handlers
	planHandler       *plan.Handler
	creditsHandler    *credits.Handler
	paymentHandler    *payment.Handler
	webhookHandler    *payment.WebhookHandler
	generationHandler *generation.Handler

	// Services shared across modules
	creditsService credits.Service
	planService    plan.Service
	paymentService *payment.Service
}

// New creates and wires the application.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	app := &App{
		config:    cfg,
		logger:    log,
		zapLogger: zapLog,
		metrics:   metrics.New("nevis", nil),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	if err := database.Migrate(db,
		&plan.Plan{},
		&credits.Account{},
		&credits.Transaction{},
		&credits.UsageEntry{},
		&payment.WebhookEvent{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	// Redis is optional: without it balance reads always hit the database.
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		app.redis = redisClient
	}

	if err := app.initModules(); err != nil {
		return nil, err
	}
	app.initRouter()
	return app, nil
}

func (a *App) initModules() error {
	cfg := a.config

	// Plan catalog
	planRepo := plan.NewRepository(a.db)
	a.planService = plan.NewService(planRepo, a.zapLogger)
	if err := a.planService.SeedDefaults(context.Background()); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	a.planHandler = plan.NewHandler(a.planService, a.zapLogger)

	// Credit ledger
	creditsRepo := credits.NewRepository(a.db, cfg.Credits.LockTimeout)
	balanceCache := credits.NewBalanceCache(a.redis, cfg.Credits.BalanceCacheTTL)
	a.creditsService = credits.NewService(creditsRepo, balanceCache, a.metrics, cfg.Credits, a.zapLogger)
	a.creditsHandler = credits.NewHandler(a.creditsService, a.zapLogger)

	// Payments
	stripeProvider := paymentprovider.NewStripeProvider(&paymentprovider.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	})
	paymentRepo := payment.NewRepository(a.db)
	a.paymentService = payment.NewService(stripeProvider, a.planService, paymentRepo, a.zapLogger)
	a.paymentHandler = payment.NewHandler(a.paymentService, a.zapLogger)
	a.webhookHandler = payment.NewWebhookHandler(a.paymentService, a.creditsService, a.metrics, a.zapLogger)

	// Generation
	proxyClient := generation.NewClient(cfg.Generation, a.zapLogger)
	var store generation.ContentStore
	if cfg.Storage.Bucket != "" {
		uploader, err := generation.NewUploader(context.Background(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("init uploader: %w", err)
		}
		store = uploader
	}
	generationService := generation.NewService(proxyClient, store, a.creditsService, a.zapLogger)
	a.generationHandler = generation.NewHandler(generationService, a.zapLogger)

	return nil
}

func (a *App) initRouter() {
	router := gin.New()
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(a.logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.Metrics(a.metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks authenticate by signature, not by bearer token.
	a.webhookHandler.RegisterRoutes(router.Group("/webhooks"))

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret:            a.config.Auth.JWTSecret,
		AccessTokenExpiry: a.config.Auth.AccessTokenExpiry,
		Issuer:            a.config.Auth.Issuer,
	})

	v1 := router.Group("/api/v1")
	a.planHandler.RegisterRoutes(v1)

	authed := v1.Group("")
	authed.Use(middleware.RequireAuth(jwtManager))
	a.creditsHandler.RegisterRoutes(authed)
	a.paymentHandler.RegisterRoutes(authed)
	a.generationHandler.RegisterRoutes(authed)

	a.router = router
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the application's shared resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := sharedcache.Close(a.redis); err != nil {
			a.zapLogger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.zapLogger.Warn("close database", zap.Error(err))
		}
	}
	_ = a.zapLogger.Sync()
}
