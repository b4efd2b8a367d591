package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"github.com/smallbiznis/tontine/internal/config"
	dashboarddomain "github.com/smallbiznis/tontine/internal/dashboard/domain"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	"github.com/smallbiznis/tontine/internal/observability"
	obsmiddleware "github.com/smallbiznis/tontine/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tontine/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine *gin.Engine
	log    *zap.Logger
	clock  clock.Clock

	agentSvc        agentdomain.Service
	clientSvc       clientdomain.Service
	subscriptionSvc subscriptiondomain.Service
	obligationSvc   obligationdomain.Service
	commissionSvc   commissiondomain.Service
	enforcementSvc  enforcementdomain.Service
	paymentSvc      paymentdomain.Service
	dashboardSvc    dashboarddomain.Service
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Log   *zap.Logger
	Clock clock.Clock

	AgentSvc        agentdomain.Service
	ClientSvc       clientdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	ObligationSvc   obligationdomain.Service
	CommissionSvc   commissiondomain.Service
	EnforcementSvc  enforcementdomain.Service
	PaymentSvc      paymentdomain.Service
	DashboardSvc    dashboarddomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine: p.Gin,
		log:    p.Log.Named("http.server"),
		clock:  p.Clock,

		agentSvc:        p.AgentSvc,
		clientSvc:       p.ClientSvc,
		subscriptionSvc: p.SubscriptionSvc,
		obligationSvc:   p.ObligationSvc,
		commissionSvc:   p.CommissionSvc,
		enforcementSvc:  p.EnforcementSvc,
		paymentSvc:      p.PaymentSvc,
		dashboardSvc:    p.DashboardSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerAPIRoutes()
	s.registerWebhookRoutes()
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AgentRequired())
	gate := s.AgentGate()

	// -------- Clients --------
	api.POST("/clients", gate, s.CreateClient)
	api.GET("/clients/:id", s.GetClientByID)
	api.GET("/clients/:id/loan", s.GetClientLoan)

	// -------- Subscriptions --------
	api.POST("/subscriptions", gate, s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.GET("/subscriptions/:id/progress", s.GetSubscriptionProgress)
	api.PATCH("/subscriptions/:id/daily-amount", gate, s.UpdateDailyAmount)
	api.GET("/subscriptions/:id/obligations", s.ListSubscriptionObligations)

	// -------- Obligations --------
	api.POST("/subscriptions/:id/obligations/mark", gate, s.MarkObligations)
	api.POST("/obligations/:id/unmark", gate, s.UnmarkObligation)
	api.POST("/obligations/:id/write-off", gate, s.WriteOffObligation)
	api.GET("/obligations/late", s.ListLateObligations)

	// -------- Agents --------
	agents := api.Group("/agents/:id", s.SameAgent())
	agents.GET("/commissions", s.ListAgentCommissions)
	agents.GET("/commissions/stats", s.GetAgentCommissionStats)
	agents.GET("/enforcement", s.GetAgentEnforcement)
	agents.GET("/dashboard", s.GetAgentDashboard)
	agents.GET("/payments", s.ListAgentPayments)

	// -------- Payments --------
	// Blocked agents must still be able to pay their commissions.
	api.POST("/payments", s.InitiatePayment)
	api.GET("/payments/:transaction_id", s.GetPaymentStatus)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}
