package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/appshare/internal/api/http"
	"github.com/GriffinCanCode/appshare/internal/api/middleware"
	"github.com/GriffinCanCode/appshare/internal/api/ws"
	"github.com/GriffinCanCode/appshare/internal/domain/app"
	"github.com/GriffinCanCode/appshare/internal/domain/capture"
	"github.com/GriffinCanCode/appshare/internal/domain/events"
	"github.com/GriffinCanCode/appshare/internal/domain/gateway"
	"github.com/GriffinCanCode/appshare/internal/domain/input"
	"github.com/GriffinCanCode/appshare/internal/domain/session"
	"github.com/GriffinCanCode/appshare/internal/domain/stream"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/config"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appshare/internal/shared/command"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

const sinkPingTimeout = 3 * time.Second

// Server wraps the HTTP server and the gateway components
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	router     *gin.Engine
	httpServer *http.Server
	coord      *gateway.Coordinator
	capture    *capture.Manager
	dispatcher *events.Dispatcher
	tracer     *tracing.Tracer
	metrics    *monitoring.Metrics
	closers    []io.Closer
}

// NewServer builds every component from cfg. Metrics register on reg; a
// nil reg uses the prometheus default registry.
func NewServer(cfg *config.Config, reg *prometheus.Registry) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing appshare gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("display", cfg.Apps.Display),
		zap.Strings("allowed_applications", cfg.Apps.Allowed),
		zap.Bool("auth_disabled", cfg.Auth.Disabled),
	)
	if cfg.Auth.Disabled {
		logger.Warn("Authentication disabled; the X-User-ID header is trusted")
	}

	// Metrics first (needed by other components)
	var (
		metrics        *monitoring.Metrics
		metricsHandler http.Handler
	)
	if reg != nil {
		metrics = monitoring.NewMetricsWith(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		metrics = monitoring.NewMetrics()
		metricsHandler = promhttp.Handler()
	}

	tracer := tracing.New("appshare", logger.Component("tracing"))

	s := &Server{
		config:  cfg,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
	}

	s.dispatcher = events.NewDispatcher(logger.Component("events"), cfg.Events.Buffer).WithMetrics(metrics)
	if err := s.attachSinks(); err != nil {
		tracer.Close()
		return nil, err
	}

	// Process supervisor
	var catalog *app.Catalog
	if cfg.Apps.CatalogFile != "" {
		catalog, err = app.LoadCatalog(cfg.Apps.Allowed, cfg.Apps.CatalogFile)
	} else {
		catalog, err = app.NewCatalog(cfg.Apps.Allowed)
	}
	if err != nil {
		s.dispatcher.Close()
		tracer.Close()
		return nil, fmt.Errorf("failed to build application catalogue: %w", err)
	}
	if err := os.MkdirAll(cfg.Apps.Home, 0o755); err != nil {
		logger.Warn("Failed to create application home", zap.String("home", cfg.Apps.Home), zap.Error(err))
	}
	launcher := app.NewExecLauncher(cfg.Apps.Home, cfg.Apps.UsePTY, cfg.Apps.LogBufferSize, logger.Component("launcher"))
	supervisor := app.NewSupervisor(app.Config{
		MaxConcurrent: cfg.Apps.MaxConcurrent,
		Display:       cfg.Apps.Display,
		Home:          cfg.Apps.Home,
		StopGrace:     cfg.Apps.StopGrace,
	}, catalog, launcher, s.dispatcher, nil, logger.Component("supervisor")).WithMetrics(metrics)

	sessions := session.NewRegistry(session.Config{
		MaxParticipants: cfg.Sessions.MaxParticipants,
	}, s.dispatcher, nil, logger.Component("sessions")).WithMetrics(metrics)

	hub := stream.NewHub(stream.Config{
		QueueSize:    cfg.Stream.QueueSize,
		SendTimeout:  cfg.Stream.SendTimeout,
		InputTimeout: cfg.Stream.InputTimeout,
		Room:         types.RoomConfig{FrameRate: cfg.Stream.FrameRate, Quality: cfg.Stream.Quality},
	}, nil, logger.Component("stream")).WithMetrics(metrics)

	// Input goes to the display through xdotool and xclip
	if !command.Available("xdotool") {
		logger.Warn("xdotool not found; input injection will fail")
	}
	injectors := input.NewFactory(command.NewExecRunner(cfg.Apps.Display, cfg.Stream.InputTimeout), logger.Component("input"))
	sinks := func(pid int) stream.InputSink { return injectors.ForProcess(pid) }

	s.coord = gateway.NewCoordinator(gateway.Config{
		SweepInterval:  cfg.Sessions.SweepInterval,
		SessionTimeout: cfg.Sessions.Timeout,
	}, supervisor, sessions, hub, sinks, nil, logger.Component("gateway")).WithMetrics(metrics)
	s.dispatcher.Subscribe(s.coord.HandleEvent)

	if cfg.Capture.Enabled {
		encoder, err := capture.NewEncoder(cfg.Capture.Encoder)
		if err != nil {
			s.dispatcher.Close()
			tracer.Close()
			return nil, fmt.Errorf("failed to create frame encoder: %w", err)
		}
		var audio capture.AudioSource
		if cfg.Capture.AudioEnabled {
			audio = &capture.ParecSource{Device: cfg.Capture.AudioDevice, Rate: cfg.Capture.AudioRate}
		}
		grabber := capture.NewX11Grabber(command.NewExecRunner(cfg.Apps.Display, cfg.Capture.Timeout), cfg.Capture.Format)
		s.capture = capture.NewManager(capture.Config{
			Timeout:       cfg.Capture.Timeout,
			SkipUnchanged: cfg.Capture.SkipUnchanged,
			AudioChunk:    cfg.Capture.AudioChunk,
		}, grabber, encoder, hub, s.coord.ResolveCapture, audio, nil, logger.Component("capture")).WithMetrics(metrics)
		hub.OnRoomChange(s.capture.HandleRoomEvent)
		logger.Info("Screen capture enabled",
			zap.String("encoder", encoder.Name()),
			zap.String("format", cfg.Capture.Format),
			zap.Bool("audio", audio != nil),
		)
	}

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Disabled)
	handlers := apihttp.NewHandlers(s.coord, logger.Component("http"))
	wsHandler := ws.NewHandler(ws.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		InputRate:      cfg.Stream.InputRate,
		InputBurst:     cfg.Stream.InputBurst,
	}, s.coord, auth, tracer, logger.Component("ws")).WithMetrics(metrics)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metricsHandler))
	handlers.Register(router.Group("/api", middleware.Auth(auth)))
	router.GET("/ws", wsHandler.HandleConnection)

	s.router = router
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// attachSinks wires the lifecycle event sinks. Remote sinks sit behind a
// circuit breaker.
func (s *Server) attachSinks() error {
	cfg := s.config.Events
	s.dispatcher.AddSink(events.NewLogSink(s.logger.Component("events")), 0, cfg.SinkTimeout)

	if cfg.RedisURL != "" {
		sink, err := events.NewRedisSink(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return fmt.Errorf("failed to create redis event sink: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sinkPingTimeout)
		if err := sink.Ping(ctx); err != nil {
			s.logger.Warn("Redis event sink unreachable; events will be retried through the breaker", zap.Error(err))
		}
		cancel()
		s.dispatcher.AddSink(events.Guard(sink, nil, s.logger.Logger, s.metrics), 0, cfg.SinkTimeout)
		s.closers = append(s.closers, sink)
		s.logger.Info("Redis event sink enabled", zap.String("channel", cfg.RedisChannel))
	}

	if cfg.WebhookURL != "" {
		sink := events.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout, cfg.WebhookRetries, s.logger.Component("webhook"))
		s.dispatcher.AddSink(events.Guard(sink, nil, s.logger.Logger, s.metrics), 0, cfg.SinkTimeout)
		s.logger.Info("Webhook event sink enabled")
	}
	return nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP and sweeps idle sessions until ctx is done or the
// listener fails, then shuts everything down
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.coord.EnableLiveDesktopInput(ctx); err != nil {
		s.logger.Warn("Live desktop input unavailable", zap.Error(err))
	}
	go s.coord.RunSweeper(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer shutdownCancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops accepting requests, stops capture, stops every
// application, drains lifecycle events and closes the remaining channels
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if s.capture != nil {
		if err := s.capture.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
	}
	if err := s.coord.StopApplications(ctx); err != nil {
		errs = append(errs, fmt.Errorf("applications: %w", err))
	}
	s.dispatcher.Close()
	if err := s.coord.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.tracer.Close()

	s.logger.Info("Server stopped")
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
