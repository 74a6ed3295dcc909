// Package server binds the import engine's external contracts (submission,
// status, history, reversal) to a thin gin surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/printmeter/internal/config"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"github.com/smallbiznis/printmeter/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	importSvc     domain.Service
	submitLimiter *ratelimit.SubmitLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	ImportSvc     domain.Service
	SubmitLimiter *ratelimit.SubmitLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		importSvc:     p.ImportSvc,
		submitLimiter: p.SubmitLimiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	v1.POST("/imports", s.SubmitImport)
	v1.GET("/imports", s.ListImports)
	v1.GET("/imports/:id", s.ImportStatus)
	v1.POST("/imports/:id/reverse", s.ReverseImport)
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

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)
