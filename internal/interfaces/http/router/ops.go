package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/config"
	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/interfaces/http/handler"
	"github.com/diarco/connexa-sync/internal/interfaces/http/middleware"
)

// OpsOptions wires the ops API
type OpsOptions struct {
	ServiceName    string
	Version        string
	Checks         map[string]handler.Pinger
	Runs           handler.RunScheduler
	Meter          metric.Meter // nil disables HTTP metrics
	Tracing        bool
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewOpsEngine builds the gin engine serving health and run endpoints
func NewOpsEngine(opts OpsOptions) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(middleware.Tracing(middleware.TracingConfig{ServiceName: opts.ServiceName, Enabled: opts.Tracing}))
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.SpanEnricher())
	engine.Use(middleware.HTTPMetrics(opts.Meter))
	engine.Use(middleware.Secure())
	engine.Use(middleware.Timeout(opts.RequestTimeout))

	system := handler.NewSystemHandler(opts.ServiceName, opts.Version, opts.Checks)
	engine.GET("/healthz", system.Health)
	engine.GET("/livez", system.Live)

	r := NewRouter(engine)
	r.Register(NewDomainGroup("/system").GET("/info", system.GetSystemInfo))
	if opts.Runs != nil {
		runs := handler.NewRunHandler(opts.Runs)
		r.Register(NewDomainGroup("/runs").
			GET("", runs.List).
			GET("/:id", runs.Get).
			POST("", runs.Trigger))
	}
	r.Setup()

	return engine
}

// Server runs the ops engine until its context ends
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a Server from the HTTP settings
func NewServer(cfg config.HTTPConfig, h http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      h,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: log,
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Ops API stopped")
	return nil
}
