package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/bot"
	"github.com/tutorstack/tutorcrm/internal/config"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/observability"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	"github.com/tutorstack/tutorcrm/internal/sweep"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(start),
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Metrics  *observability.Metrics
	Accounts accountdomain.Service
	Ledger   ledgerdomain.Service
	Payments paymentdomain.Service
	Webhooks paymentdomain.WebhookService
	Sweeper  *sweep.Service
	Bot      *bot.Handler
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	engine   *gin.Engine
	accounts accountdomain.Service
	ledger   ledgerdomain.Service
	payments paymentdomain.Service
	webhooks paymentdomain.WebhookService
	sweeper  *sweep.Service
	bot      *bot.Handler
}

func NewServer(p Params) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:      p.Cfg,
		log:      p.Log.Named("server"),
		engine:   gin.New(),
		accounts: p.Accounts,
		ledger:   p.Ledger,
		payments: p.Payments,
		webhooks: p.Webhooks,
		sweeper:  p.Sweeper,
		bot:      p.Bot,
	}
	s.engine.Use(gin.Recovery())
	s.routes(p.Metrics)
	return s
}

func (s *Server) routes(m *observability.Metrics) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	s.engine.POST("/webhooks/yookassa", s.handleGatewayWebhook)
	s.engine.POST("/telegram/webhook/:token", s.handleBotWebhook)

	admin := s.engine.Group("/api/admin", s.apiKeyRequired())
	{
		admin.GET("/students", s.listStudents)
		admin.GET("/students/:id/payments", s.listStudentPayments)
		admin.GET("/payments", s.paymentMatrix)
		admin.GET("/payments/pending", s.listPendingPayments)
		admin.GET("/payments/years", s.listPaymentYears)
		admin.POST("/payments/cash", s.markCashPayment)
		admin.POST("/balance/credit", s.creditBalance)
		admin.POST("/sweep", s.runSweep)
	}
}

// apiKeyRequired gates staff endpoints on the X-API-Key header. An empty
// configured key disables the surface entirely.
func (s *Server) apiKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.cfg.Admin.APIKey
		if key == "" {
			respondError(c, http.StatusForbidden, "admin_api_disabled")
			c.Abort()
			return
		}
		got := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			respondError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func start(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
