package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/subledger-io/subledger/internal/config"
	organizationservice "github.com/subledger-io/subledger/internal/organization/service"
	webhookservice "github.com/subledger-io/subledger/internal/webhook/service"
)

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log.Named("http")))
	return engine
}

type Params struct {
	fx.In

	Engine *gin.Engine
	Log    *zap.Logger
	Cfg    config.Config
	DB     *gorm.DB
	Ingest *webhookservice.Ingest
	OrgSvc *organizationservice.Service
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	cfg    config.Config
	db     *gorm.DB
	ingest *webhookservice.Ingest
	orgsvc *organizationservice.Service
}

func NewServer(p Params) *Server {
	return &Server{
		engine: p.Engine,
		log:    p.Log.Named("server"),
		cfg:    p.Cfg,
		db:     p.DB,
		ingest: p.Ingest,
		orgsvc: p.OrgSvc,
	}
}

func (s *Server) RegisterRoutes() {
	s.engine.POST("/organizations", s.PostOrganization)
	s.engine.POST("/webhook/stripe", s.PostWebhook)
	s.engine.GET("/webhook/dlq", s.ListDeadLetters)
	s.engine.POST("/webhook/replay/:id", s.ReplayEvent)

	s.engine.GET("/healthz", s.GetHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// GetHealth reports liveness plus a database ping so orchestrators can
// tell a wedged connection pool from a healthy process.
func (s *Server) GetHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// RunHTTP starts the listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
