package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justin4957/latency-anomaly-detector/internal/artifact"
	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/internal/logging"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/rs/zerolog/log"
)

// Server is the inference HTTP API. The model it serves is loaded once by
// the caller and shared read-only by all handlers.
type Server struct {
	conf   config.ServerConfig
	model  *artifact.Model
	engine *gin.Engine
	server *http.Server
}

// New builds the API around an already loaded model.
func New(conf config.ServerConfig, model *artifact.Model) (*Server, error) {
	if model == nil || model.Forest == nil {
		return nil, errors.New("server requires a loaded model")
	}
	s := &Server{conf: conf, model: model}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	if !logging.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.GinMiddleware())
	engine.Use(corsMiddleware(s.conf.CorsAllowedOrigins))
	engine.NoMethod(func(ctx *gin.Context) {
		respondError(ctx, http.StatusMethodNotAllowed, "Method not allowed")
	})
	engine.NoRoute(func(ctx *gin.Context) {
		respondError(ctx, http.StatusNotFound, "Not found")
	})
	engine.HandleMethodNotAllowed = true

	engine.POST("/predict", s.handlePredict)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/model", s.handleModel)
	return engine
}

// Handler exposes the routing engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening in the background.
func (s *Server) Start(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)
	log.Info().Msgf("starting to listen at %s", addr)
	s.server = &http.Server{
		Handler:      s.engine,
		Addr:         addr,
		WriteTimeout: time.Duration(s.conf.WriteTimeoutSecs) * time.Second,
		ReadTimeout:  time.Duration(s.conf.ReadTimeoutSecs) * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
}

// Stop shuts the listener down, waiting for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Warn().Msg("shutting down inference API server")
	return s.server.Shutdown(ctx)
}

func respondError(ctx *gin.Context, status int, msg string) {
	ctx.AbortWithStatusJSON(status, models.ErrorResponse{Error: msg})
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var allowedOrigin string
		currOrigin := ctx.Request.Header.Get("Origin")
		for _, origin := range allowed {
			if currOrigin == origin || origin == "*" {
				allowedOrigin = origin
				break
			}
		}
		if allowedOrigin != "" {
			ctx.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Origin")
			ctx.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		}

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}
