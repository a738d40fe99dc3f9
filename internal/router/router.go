package router

import (
	"bencidata/internal/config"
	"bencidata/internal/handler"
	"bencidata/internal/infra"
	"bencidata/internal/metrics"
	"bencidata/internal/middleware"
	"bencidata/internal/repository"
	"bencidata/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Services is the composition root shared by the HTTP engine and the workers.
type Services struct {
	Topology service.TopologyService
	Dispense service.DispenseService
	Sessions service.SessionService
	Loads    service.LoadService
	Cashbook service.CashbookService
	Audit    service.AuditService
}

// NewServices wires Service ← Repository ← DB. notifier may be nil, in which
// case committed closes are not queued for audit.
func NewServices(cfg *config.Config, db *gorm.DB, m *metrics.Metrics, notifier service.CloseNotifier) *Services {
	branchRepo := repository.NewBranchRepository(db)
	shiftRepo := repository.NewShiftRepository(db)
	topologyRepo := repository.NewTopologyRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	dispenseRepo := repository.NewDispenseRepository(db)
	loadRepo := repository.NewLoadRepository(db)
	cashbookRepo := repository.NewCashbookRepository(db)

	thresholds := service.DivergenceThresholds{
		WarnPct:     decimal.NewFromFloat(cfg.DivergenceWarnPct),
		CriticalPct: decimal.NewFromFloat(cfg.DivergenceCriticalPct),
	}

	topologySvc := service.NewTopologyService(topologyRepo, shiftRepo, branchRepo, cfg.TopologyCacheTTL())
	auditSvc := service.NewAuditService(sessionRepo, dispenseRepo, loadRepo, cashbookRepo, topologyRepo, m, thresholds, cfg.MaxSessionAge())

	return &Services{
		Topology: topologySvc,
		Dispense: service.NewDispenseService(dispenseRepo, topologySvc, topologyRepo, sessionRepo, branchRepo, m),
		Sessions: service.NewSessionService(service.SessionDeps{
			Sessions:   sessionRepo,
			Shifts:     shiftRepo,
			Branches:   branchRepo,
			Topology:   topologyRepo,
			Dispenses:  dispenseRepo,
			Loads:      loadRepo,
			Cashbook:   cashbookRepo,
			Audit:      auditSvc,
			Notifier:   notifier,
			Metrics:    m,
			Thresholds: thresholds,
		}),
		Loads:    service.NewLoadService(loadRepo, sessionRepo, topologyRepo, branchRepo),
		Cashbook: service.NewCashbookService(cashbookRepo, loadRepo, sessionRepo, topologyRepo),
		Audit:    auditSvc,
	}
}

// New returns the configured Gin engine. rdb and queueCB only feed /health.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, m *metrics.Metrics, svcs *Services, queueCB *infra.CircuitBreaker) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())

	// ── Handlers ─────────────────────────────────────────────────────────────
	iotH := handler.NewIoTHandler(svcs.Dispense)
	sessionsH := handler.NewSessionsHandler(svcs.Sessions)
	loadsH := handler.NewLoadsHandler(svcs.Loads)
	topologyH := handler.NewTopologyHandler(svcs.Topology, svcs.Loads)
	cashbookH := handler.NewCashbookHandler(svcs.Cashbook)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, queueCB))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Device channel: no auth, per-IP throttling answered in the device contract
	r.POST("/api/iot/proxy/",
		middleware.DeviceRateLimiter(rate.Limit(cfg.IoTRateLimitRPS), cfg.IoTRateLimitBurst),
		iotH.Proxy)

	v1 := r.Group("/v1",
		middleware.RateLimiter(rate.Limit(cfg.APIRateLimitRPS), cfg.APIRateLimitBurst),
		middleware.JWTAuth(cfg.JWTSecret))
	{
		// Branch scope and role checks live in the services (authz package).
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/start", sessionsH.Start)
			sessions.POST("", sessionsH.Open)
			sessions.GET("", sessionsH.List)
			sessions.GET("/:id", sessionsH.Get)
			sessions.POST("/:id/close", sessionsH.Close)
			sessions.GET("/:id/reconciliation", sessionsH.Reconciliation)
			sessions.POST("/:id/fuel-loads", loadsH.FuelLoad)
			sessions.POST("/:id/product-loads", loadsH.ProductLoad)
			sessions.POST("/:id/product-sales", cashbookH.ProductSale)
			sessions.POST("/:id/credit-sales", cashbookH.CreditSale)
			sessions.POST("/:id/withdrawals", cashbookH.Withdrawal)
			sessions.POST("/:id/card-vouchers", cashbookH.CardVoucher)
			sessions.POST("/:id/attendant-payments", cashbookH.AttendantPayments)
			sessions.GET("/:id/totals", cashbookH.Totals)
		}

		v1.POST("/credit-sales/:id/paid", cashbookH.MarkCreditSalePaid)

		branches := v1.Group("/branches/:branch_id")
		{
			branches.GET("/topology", topologyH.Get)
			branches.POST("/tanks", topologyH.CreateTank)
			branches.POST("/islands", topologyH.CreateIsland)
			branches.POST("/machines", topologyH.CreateMachine)
			branches.POST("/nozzles", topologyH.CreateNozzle)
			branches.POST("/shifts", topologyH.CreateShift)
			branches.POST("/products", topologyH.CreateProduct)
			branches.POST("/prices", topologyH.CreatePrice)
		}
	}

	return r
}
