// Package server exposes the training and prediction services over HTTP.
// Handlers are thin glue: request binding, service calls, error mapping and
// SSE relay of progress events. All behavior lives in the services.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/churnkit/config"
	"github.com/YuminosukeSato/churnkit/insight"
	"github.com/YuminosukeSato/churnkit/predict"
	"github.com/YuminosukeSato/churnkit/registry"
	"github.com/YuminosukeSato/churnkit/train"
)

// Server wires the HTTP API.
type Server struct {
	cfg        config.Config
	trainSvc   *train.Service
	predictSvc *predict.Service
	insightSvc *insight.Service
	reg        *registry.Registry
	log        zerolog.Logger
	engine     *gin.Engine
}

// New assembles the router.
func New(
	cfg config.Config,
	trainSvc *train.Service,
	predictSvc *predict.Service,
	insightSvc *insight.Service,
	reg *registry.Registry,
	logger zerolog.Logger,
) *Server {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:        cfg,
		trainSvc:   trainSvc,
		predictSvc: predictSvc,
		insightSvc: insightSvc,
		reg:        reg,
		log:        logger,
		engine:     gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.POST("/train", s.handleTrain)
	s.engine.POST("/train/stream", s.handleTrainStream)
	s.engine.POST("/predict", s.handlePredict)
	s.engine.POST("/predict/stream", s.handlePredictStream)
	s.engine.GET("/schema/:model_id", s.handleSchema)
	s.engine.GET("/summary/:model_id", s.handleSummary)

	return s
}

// Handler returns the http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.log.Info().Str("listen", s.cfg.Listen).Msg("http server starting")
	return s.engine.Run(s.cfg.Listen)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "app": s.cfg.AppName})
}
