package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/featuregate/internal/audit"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/invalidation"
	"github.com/smallbiznis/featuregate/internal/locks"
	"github.com/smallbiznis/featuregate/internal/observability"
	obsmiddleware "github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/featuregate/internal/observability/tracing"
	"github.com/smallbiznis/featuregate/internal/taxonomy"
	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	taxonomy.Module,
	entitlement.Module,
	invalidation.Module,
	locks.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
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
	engine         *gin.Engine
	log            *zap.Logger
	cfg            config.Config
	gates          *config.GatesHolder
	entitlementSvc entitlementdomain.Service
	taxonomySvc    taxonomydomain.Service
	auditSvc       auditdomain.Service
	authzSvc       authorization.Service
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Log            *zap.Logger
	Cfg            config.Config
	Gates          *config.GatesHolder
	EntitlementSvc entitlementdomain.Service
	TaxonomySvc    taxonomydomain.Service
	AuditSvc       auditdomain.Service
	AuthzSvc       authorization.Service
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		log:            p.Log.Named("http.server"),
		cfg:            p.Cfg,
		gates:          p.Gates,
		entitlementSvc: p.EntitlementSvc,
		taxonomySvc:    p.TaxonomySvc,
		auditSvc:       p.AuditSvc,
		authzSvc:       p.AuthzSvc,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	catalog := s.engine.Group("/v1/catalog", s.Identity())
	{
		catalog.GET("", s.GetCatalog)
		catalog.POST("/modules", s.authorizeOrgAction(authorization.ObjectTaxonomy, authorization.ActionTaxonomyManage), s.CreateModule)
		catalog.POST("/modules/:module_key/archive", s.authorizeOrgAction(authorization.ObjectTaxonomy, authorization.ActionTaxonomyManage), s.ArchiveModule)
		catalog.POST("/modules/:module_key/submodules", s.authorizeOrgAction(authorization.ObjectTaxonomy, authorization.ActionTaxonomyManage), s.CreateSubmodule)
		catalog.POST("/modules/:module_key/submodules/:key/archive", s.authorizeOrgAction(authorization.ObjectTaxonomy, authorization.ActionTaxonomyManage), s.ArchiveSubmodule)
	}

	orgs := s.engine.Group("/v1/orgs/:org_id", s.Identity(), s.OrgContext())
	{
		orgs.GET("/entitlements",
			s.authorizeOrgAction(authorization.ObjectEntitlement, authorization.ActionEntitlementView),
			s.GetEntitlements)
		orgs.POST("/entitlements/apply",
			s.authorizeOrgAction(authorization.ObjectEntitlement, authorization.ActionEntitlementApply),
			s.ApplyEntitlements)
		orgs.POST("/entitlements/reset", s.ResetEntitlements)
		orgs.GET("/audit-events",
			s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView),
			s.ListAuditEvents)
		orgs.GET("/menu",
			s.authorizeOrgAction(authorization.ObjectMenu, authorization.ActionMenuView),
			s.GetMenu)
	}
}
