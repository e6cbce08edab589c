package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hooklane/hooklane/internal/agent"
	agentdomain "github.com/hooklane/hooklane/internal/agent/domain"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/hooklane/hooklane/internal/config"
	"github.com/hooklane/hooklane/internal/earnings"
	earningsdomain "github.com/hooklane/hooklane/internal/earnings/domain"
	"github.com/hooklane/hooklane/internal/execution"
	executiondomain "github.com/hooklane/hooklane/internal/execution/domain"
	"github.com/hooklane/hooklane/internal/ledger"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	"github.com/hooklane/hooklane/internal/observability"
	obslogger "github.com/hooklane/hooklane/internal/observability/logger"
	obsmetrics "github.com/hooklane/hooklane/internal/observability/metrics"
	obstracing "github.com/hooklane/hooklane/internal/observability/tracing"
	"github.com/hooklane/hooklane/internal/payment"
	paymentdomain "github.com/hooklane/hooklane/internal/payment/domain"
	"github.com/hooklane/hooklane/internal/ratelimit"
	"github.com/hooklane/hooklane/internal/reconcile"
	"github.com/hooklane/hooklane/internal/seed"
	"github.com/hooklane/hooklane/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	observability.Module,
	fx.Provide(registerGin),
	clock.Module,
	ledger.Module,
	agent.Module,
	webhook.Module,
	execution.Module,
	earnings.Module,
	payment.Module,
	reconcile.Module,
	ratelimit.Module,
	fx.Invoke(seed.EnsureSystemAccounts),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	ledgerSvc    ledgerdomain.Service
	agentSvc     agentdomain.Service
	executionSvc executiondomain.Service
	earningsSvc  earningsdomain.Service
	paymentSvc   paymentdomain.Service
	reconcileSvc reconcile.Service
	limiter      *ratelimit.ExecuteLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	LedgerSvc    ledgerdomain.Service
	AgentSvc     agentdomain.Service
	ExecutionSvc executiondomain.Service
	EarningsSvc  earningsdomain.Service
	PaymentSvc   paymentdomain.Service
	ReconcileSvc reconcile.Service
	Limiter      *ratelimit.ExecuteLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		ledgerSvc:    p.LedgerSvc,
		agentSvc:     p.AgentSvc,
		executionSvc: p.ExecutionSvc,
		earningsSvc:  p.EarningsSvc,
		paymentSvc:   p.PaymentSvc,
		reconcileSvc: p.ReconcileSvc,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Accounts --------
	api.POST("/accounts", s.CreateAccount)
	api.GET("/accounts/:id", s.GetAccountByID)
	api.GET("/accounts/:id/balance", s.GetAccountBalance)
	api.GET("/accounts/:id/entries", s.ListAccountEntries)
	api.GET("/accounts/:id/reconcile", s.ReconcileAccount)

	// -------- Agents --------
	api.POST("/agents", s.RegisterAgent)
	api.GET("/agents", s.ListAgents)
	api.GET("/agents/:id", s.GetAgentByID)
	api.PATCH("/agents/:id", s.UpdateAgent)
	api.GET("/agents/:id/earnings", s.GetAgentEarnings)

	// -------- Executions --------
	api.POST("/executions", s.ExecuteRateLimit(), s.ExecuteAgent)
	api.GET("/executions", s.ListExecutions)
	api.GET("/executions/:id", s.GetExecutionByID)

	// -------- Payouts --------
	api.POST("/payouts", s.RequestPayout)
	api.GET("/payouts", s.ListPayouts)
	api.GET("/payouts/:id", s.GetPayoutByID)

	// -------- Top-ups --------
	api.POST("/topups", s.CreateTopUp)
	api.GET("/topups", s.ListTopUps)
	api.GET("/topups/:id", s.GetTopUpByID)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.PaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/reconcile", s.RunReconciliation)
	admin.POST("/reconcile/accounts/:id/repair", s.RepairAccount)
	admin.POST("/reconcile/earnings/:agentId/repair", s.RepairEarnings)
	admin.POST("/payouts/:id/complete", s.CompletePayout)
	admin.POST("/payouts/:id/fail", s.FailPayout)
}
