package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/yardcraft/internal/account"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/auth"
	"github.com/smallbiznis/yardcraft/internal/authorization"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/events"
	"github.com/smallbiznis/yardcraft/internal/generation"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	"github.com/smallbiznis/yardcraft/internal/imagegen"
	"github.com/smallbiznis/yardcraft/internal/imagery"
	"github.com/smallbiznis/yardcraft/internal/ledger"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	obslogger "github.com/smallbiznis/yardcraft/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	obstracing "github.com/smallbiznis/yardcraft/internal/observability/tracing"
	"github.com/smallbiznis/yardcraft/internal/payment"
	"github.com/smallbiznis/yardcraft/internal/payment/autoreload"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	"github.com/smallbiznis/yardcraft/internal/providers"
	providerdomain "github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	"github.com/smallbiznis/yardcraft/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	auth.Module,
	authorization.Module,
	events.Module,
	account.Module,
	ledger.Module,
	imagery.Module,
	imagegen.Module,
	generation.Module,
	providers.Module,
	payment.Module,
	autoreload.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
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
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	cfg             config.Config
	policy          *config.GenerationPolicyHolder
	clock           clock.Clock
	verifier        *auth.Verifier
	authzSvc        authorization.Service
	accountSvc      accountdomain.Service
	ledgerSvc       ledgerdomain.Service
	generationSvc   generationdomain.Service
	webhookSvc      paymentdomain.WebhookService
	paymentProvider providerdomain.Provider
	submitLimiter   *ratelimit.SubmissionLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Policy          *config.GenerationPolicyHolder
	Clock           clock.Clock
	Verifier        *auth.Verifier
	AuthzSvc        authorization.Service
	AccountSvc      accountdomain.Service
	LedgerSvc       ledgerdomain.Service
	GenerationSvc   generationdomain.Service
	WebhookSvc      paymentdomain.WebhookService
	PaymentProvider providerdomain.Provider
	SubmitLimiter   *ratelimit.SubmissionLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		policy:          p.Policy,
		clock:           p.Clock,
		verifier:        p.Verifier,
		authzSvc:        p.AuthzSvc,
		accountSvc:      p.AccountSvc,
		ledgerSvc:       p.LedgerSvc,
		generationSvc:   p.GenerationSvc,
		webhookSvc:      p.WebhookSvc,
		paymentProvider: p.PaymentProvider,
		submitLimiter:   p.SubmitLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.AuthRequired())

	api.POST("/accounts", s.authorize(authorization.ObjectAccount, authorization.ActionAccountRegister), s.RegisterAccount)

	owned := api.Group("", s.AccountRequired())

	// -------- Generations --------
	owned.POST("/generations",
		s.authorize(authorization.ObjectGeneration, authorization.ActionGenerationSubmit),
		s.SubmissionRateLimit(),
		s.SubmitGeneration,
	)
	owned.GET("/generations", s.authorize(authorization.ObjectGeneration, authorization.ActionGenerationView), s.ListGenerations)
	owned.GET("/generations/:id", s.authorize(authorization.ObjectGeneration, authorization.ActionGenerationView), s.GetGeneration)

	// -------- Balance & ledger --------
	owned.GET("/balance", s.authorize(authorization.ObjectBalance, authorization.ActionBalanceView), s.GetBalance)
	owned.GET("/ledger", s.authorize(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListLedger)

	// -------- Payments --------
	owned.POST("/checkout/tokens", s.authorize(authorization.ObjectCheckout, authorization.ActionCheckoutCreate), s.CreateTokenCheckout)
	owned.POST("/checkout/subscription", s.authorize(authorization.ObjectCheckout, authorization.ActionCheckoutCreate), s.CreateSubscriptionCheckout)
	owned.PUT("/auto-reload", s.authorize(authorization.ObjectAutoReload, authorization.ActionAutoReloadConfigure), s.ConfigureAutoReload)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.POST("/accounts/:id/adjust", s.authorize(authorization.ObjectAccount, authorization.ActionAccountAdjust), s.AdjustAccount)
	admin.POST("/accounts/:id/deactivate", s.authorize(authorization.ObjectAccount, authorization.ActionAccountDeactivate), s.DeactivateAccount)
	admin.POST("/generations/recover", s.authorize(authorization.ObjectGeneration, authorization.ActionGenerationRecover), s.RecoverGenerations)
}
