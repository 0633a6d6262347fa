package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fieldbill/internal/audit/domain"
	"github.com/smallbiznis/fieldbill/internal/config"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/internal/observability"
	obsmiddleware "github.com/smallbiznis/fieldbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fieldbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fieldbill/internal/observability/tracing"
	receiptdomain "github.com/smallbiznis/fieldbill/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if httpMetrics != nil {
		r.GET("/metrics", gin.WrapH(httpMetrics.Handler()))
	}

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
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine      *gin.Engine
	customerSvc customerdomain.Service
	jobSvc      jobdomain.Service
	invoiceSvc  invoicedomain.Service
	receiptSvc  receiptdomain.Service
	auditSvc    auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	CustomerSvc customerdomain.Service
	JobSvc      jobdomain.Service
	InvoiceSvc  invoicedomain.Service
	ReceiptSvc  receiptdomain.Service
	AuditSvc    auditdomain.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		customerSvc: p.CustomerSvc,
		jobSvc:      p.JobSvc,
		invoiceSvc:  p.InvoiceSvc,
		receiptSvc:  p.ReceiptSvc,
		auditSvc:    p.AuditSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.PATCH("/customers/:id", s.UpdateCustomer)
	api.DELETE("/customers/:id", s.DeleteCustomer)

	// -------- Jobs --------
	api.GET("/jobs", s.ListJobs)
	api.POST("/jobs", s.CreateJob)
	api.GET("/jobs/:id", s.GetJobByID)
	api.PATCH("/jobs/:id", s.UpdateJob)
	api.POST("/jobs/:id/status", s.UpdateJobStatus)
	api.DELETE("/jobs/:id", s.DeleteJob)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.PATCH("/invoices/:id", s.UpdateInvoice)
	api.DELETE("/invoices/:id", s.DeleteInvoice)
	api.GET("/invoices/:id/pdf", s.DownloadInvoicePDF)
	api.POST("/invoices/:id/send", s.SendInvoice)
	api.POST("/invoices/:id/sent", s.MarkInvoiceSent)
	api.POST("/invoices/:id/delivered", s.MarkInvoiceDelivered)
	api.POST("/invoices/:id/paid", s.MarkInvoicePaid)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	// -------- Receipts --------
	api.GET("/receipts", s.ListReceipts)
	api.POST("/receipts", s.CreateReceipt)
	api.GET("/receipts/:id", s.GetReceiptByID)
	api.DELETE("/receipts/:id", s.DeleteReceipt)
	api.GET("/receipts/:id/pdf", s.DownloadReceiptPDF)
	api.POST("/receipts/:id/send", s.SendReceipt)

	if s.auditSvc != nil {
		api.GET("/audit_logs", s.ListAuditLogs)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
