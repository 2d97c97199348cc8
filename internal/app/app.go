package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/hmcts/refunds-api/cmd/server/docs" // swagger docs
	"github.com/hmcts/refunds-api/internal/client"
	"github.com/hmcts/refunds-api/internal/client/idam"
	"github.com/hmcts/refunds-api/internal/client/notify"
	"github.com/hmcts/refunds-api/internal/client/payments"
	"github.com/hmcts/refunds-api/internal/client/reconciliation"
	"github.com/hmcts/refunds-api/internal/module/refund"
	sharedcache "github.com/hmcts/refunds-api/internal/shared/cache"
	"github.com/hmcts/refunds-api/internal/shared/config"
	"github.com/hmcts/refunds-api/internal/shared/database"
	"github.com/hmcts/refunds-api/internal/shared/events"
	"github.com/hmcts/refunds-api/internal/shared/httpclient"
	"github.com/hmcts/refunds-api/internal/shared/logger"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
	"github.com/hmcts/refunds-api/internal/shared/middleware"
)

// App wires the refunds service together.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	metrics   *metrics.Metrics
	eventBus  *events.Bus

	refundHandler *refund.Handler
	refundService *refund.Service
	reissueEngine *refund.ReissueEngine
	userCache     *idam.UserCache
}

// New creates a new application instance.
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
		metrics:   metrics.New("refunds"),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	app.redis = redisClient

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()
	return app, nil
}

// Router returns the configured HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	api := r.Group("/", middleware.RequireAuth(a.config.Auth.JWTSecret))
	a.refundHandler.RegisterRoutes(api)

	return r
}

// initModules builds the refund module and its collaborator clients.
func (a *App) initModules() error {
	ctx := context.Background()

	if err := a.db.AutoMigrate(
		&refund.Refund{},
		&refund.StatusHistory{},
		&refund.RefundReason{},
		&refund.RejectionReason{},
	); err != nil {
		return fmt.Errorf("migrate refund tables: %w", err)
	}
	if err := seedReasons(a.db); err != nil {
		return fmt.Errorf("seed reason catalogue: %w", err)
	}

	a.eventBus = events.NewBus(a.zapLogger)

	httpClient := httpclient.New(a.config.HTTPClient)
	tokens := client.NewTokenSource(ctx, a.config.Auth)

	paymentsClient := payments.New(a.config.Clients.Payments, httpClient, tokens, a.config.Breaker, a.metrics, a.zapLogger)
	reconciliationClient, err := reconciliation.New(ctx, a.config.Clients.Reconciliation, httpClient, tokens, a.config.Breaker, a.metrics, a.zapLogger)
	if err != nil {
		return fmt.Errorf("init reconciliation client: %w", err)
	}
	notifyClient := notify.New(a.config.Clients.Notify, httpClient, tokens, a.config.Breaker, a.redis, a.metrics, a.zapLogger)
	idamClient := idam.New(a.config.Clients.Idam, httpClient, tokens, a.config.Breaker, a.metrics, a.zapLogger)
	a.userCache = idam.NewUserCache(idamClient, a.redis, a.config.Clients.Idam.UserCacheTTL, a.metrics, a.zapLogger)

	repo := refund.NewRepository(a.db)
	sm := refund.NewStateMachine()
	ledger := refund.NewLedger(repo)
	locks := refund.NewLocks()

	a.refundService = refund.NewService(
		repo, sm, ledger, locks,
		paymentsClient, reconciliationClient, notifyClient, a.userCache,
		a.eventBus, a.metrics, a.zapLogger,
	)
	a.reissueEngine = refund.NewReissueEngine(
		repo, sm, ledger, locks,
		paymentsClient, notifyClient,
		a.eventBus, a.metrics, a.zapLogger,
	)
	a.refundHandler = refund.NewHandler(a.refundService, a.reissueEngine)

	a.registerEventHandlers()
	return nil
}

// registerEventHandlers subscribes the domain metrics to the event bus;
// committed transitions are counted from the events they publish.
func (a *App) registerEventHandlers() {
	m := a.metrics
	a.eventBus.Register(events.NewHandlerFunc(
		[]string{events.RefundStatusChangedType},
		func(e events.Event) error {
			if sc, ok := e.(*events.RefundStatusChangedEvent); ok {
				m.RecordTransition(sc.Event, true)
			}
			return nil
		},
	))
}

// Stop releases the application's resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	_ = a.zapLogger.Sync()
}
