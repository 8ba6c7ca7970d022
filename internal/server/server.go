package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/glcore/internal/audit"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	"github.com/smallbiznis/glcore/internal/config"
	"github.com/smallbiznis/glcore/internal/fixedasset"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
	"github.com/smallbiznis/glcore/internal/ledger"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/glcore/internal/observability/metrics"
	"github.com/smallbiznis/glcore/internal/reconciliation"
	recondomain "github.com/smallbiznis/glcore/internal/reconciliation/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	ledger.Module,
	reconciliation.Module,
	fixedasset.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	ledgerSvc     ledgerdomain.Service
	reconSvc      recondomain.Service
	fixedAssetSvc fixedassetdomain.Service
	auditSvc      auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	LedgerSvc     ledgerdomain.Service
	ReconSvc      recondomain.Service
	FixedAssetSvc fixedassetdomain.Service
	AuditSvc      auditdomain.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		ledgerSvc:     p.LedgerSvc,
		reconSvc:      p.ReconSvc,
		fixedAssetSvc: p.FixedAssetSvc,
		auditSvc:      p.AuditSvc,
	}

	svc.registerLedgerRoutes()
	svc.registerReconciliationRoutes()
	svc.registerFixedAssetRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerLedgerRoutes() {
	gl := s.engine.Group("/gl", s.TenantRequired())

	gl.POST("/accounts", s.CreateAccount)
	gl.GET("/accounts", s.ListAccounts)
	gl.GET("/accounts/:id", s.GetAccountByID)
	gl.GET("/accounts/:id/balance", s.GetAccountBalance)

	gl.POST("/postings", s.CreatePosting)
	gl.GET("/postings", s.ListPostings)
	gl.GET("/postings/:id", s.GetPostingByID)

	gl.GET("/trial-balance", s.GetTrialBalance)
}

func (s *Server) registerReconciliationRoutes() {
	recon := s.engine.Group("/gl/reconciliations", s.TenantRequired())

	recon.POST("", s.CreateWorkspace)
	recon.GET("", s.ListWorkspaces)
	recon.GET("/:id", s.GetWorkspaceByID)
	recon.GET("/:id/history", s.GetWorkspaceHistory)

	recon.POST("/:id/check", s.CheckWorkspace)
	recon.POST("/:id/prepare", s.PrepareWorkspace)
	recon.POST("/:id/review", s.ReviewWorkspace)
	recon.POST("/:id/certify", s.CertifyWorkspace)
	recon.POST("/:id/reject", s.RejectWorkspace)
	recon.POST("/:id/attachments", s.AttachToWorkspace)
}

func (s *Server) registerFixedAssetRoutes() {
	fa := s.engine.Group("/fa", s.TenantRequired())

	fa.POST("/assets", s.UpsertAsset)
	fa.GET("/assets", s.ListAssets)
	fa.GET("/assets/:id", s.GetAssetByID)
	fa.GET("/assets/:id/history", s.GetAssetHistory)
	fa.POST("/assets/:id/schedule", s.BuildAssetSchedule)

	fa.POST("/groups", s.UpsertGroup)
	fa.POST("/groups/:id/members", s.AddGroupMember)
	fa.POST("/groups/:id/schedule", s.BuildGroupSchedule)

	fa.GET("/schedules/:id", s.GetScheduleByID)
	fa.POST("/schedules/:id/post/:period", s.PostSchedulePeriod)

	fa.POST("/aros", s.UpsertARO)
	fa.POST("/aros/:id/schedule", s.BuildAroSchedule)
	fa.POST("/schedules/:id/accrete/:period", s.PostAccretionPeriod)

	fa.POST("/impairments/preview", s.PreviewImpairment)
	fa.POST("/impairments", s.PostImpairment)
}
