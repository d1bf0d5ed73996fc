package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gemini-relay/internal/audit"
	"gemini-relay/internal/config"
	"gemini-relay/internal/models"
	"gemini-relay/internal/router"
	"gemini-relay/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	writeTimeoutSlack   = 15 * time.Second
)

// Recorder persists per-request outcome metadata.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type Server struct {
	cfg      config.Config
	router   *router.Router
	recorder Recorder
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware. The
// recorder is optional.
func New(cfg config.Config, rt *router.Router, recorder Recorder) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:      cfg,
		router:   rt,
		recorder: recorder,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address, "default_model", s.cfg.Gemini.DefaultModel)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: s.cfg.Gemini.Timeout + writeTimeoutSlack,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/chat", s.handleChat)
	s.app.POST("/api/chat", s.handleChat)
	s.app.POST("/.netlify/functions/chat", s.handleChat)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": s.cfg.Gemini.APIKey != "",
	})
}

func (s *Server) handleChat(c echo.Context) (err error) {
	start := time.Now()
	entry := audit.Entry{
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		Shape:     models.ShapeUnknown.String(),
	}
	defer func() {
		if r := recover(); r != nil {
			s.record(c.Request().Context(), entry, fmt.Errorf("panic: %v", r), time.Since(start))
			panic(r)
		}
		s.record(c.Request().Context(), entry, err, time.Since(start))
	}()

	data, err := readRequestBody(c)
	if err != nil {
		return err
	}

	req, err := translator.ParseChatRequest(data)
	if err != nil {
		return requestError{
			Status: http.StatusBadRequest,
			Body: models.ErrorBody{
				Error:   "Invalid JSON in request body",
				Kind:    models.KindInvalidRequest,
				Details: rootMessage(err),
			},
		}
	}
	entry.Shape = req.Shape.String()
	entry.Model = req.Model

	res, err := s.router.Chat(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	entry.Model = res.Model

	return writeOutcome(c, res.Outcome)
}

func (s *Server) record(ctx context.Context, entry audit.Entry, err error, latency time.Duration) {
	entry.Latency = latency
	entry.Kind = "success"
	entry.Status = http.StatusOK

	var reqErr requestError
	if errors.As(err, &reqErr) {
		entry.Kind = string(reqErr.Body.Kind)
		entry.Status = reqErr.Status
	} else if err != nil {
		entry.Kind = string(models.KindInternalError)
		entry.Status = http.StatusInternalServerError
	}

	if s.recorder == nil {
		return
	}
	if rerr := s.recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		slog.Warn("failed to record outcome", "request_id", entry.RequestID, "err", rerr)
	}
}

func readRequestBody(c echo.Context) ([]byte, error) {
	req := c.Request()
	if req.Body == nil {
		return nil, missingBody()
	}
	defer req.Body.Close()

	data, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, requestError{
				Status: http.StatusRequestEntityTooLarge,
				Body: models.ErrorBody{
					Error: fmt.Sprintf("Request body exceeds %d bytes", maxBodyBytes),
					Kind:  models.KindInvalidRequest,
				},
			}
		}
		return nil, requestError{
			Status: http.StatusBadRequest,
			Body: models.ErrorBody{
				Error:   "Failed to read request body",
				Kind:    models.KindInvalidRequest,
				Details: err.Error(),
			},
		}
	}
	if len(data) == 0 {
		return nil, missingBody()
	}
	return data, nil
}

func missingBody() error {
	return requestError{
		Status: http.StatusBadRequest,
		Body:   models.ErrorBody{Error: "Missing request body", Kind: models.KindInvalidRequest},
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("gemini-relay ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /chat")
	fmt.Println("  POST /api/chat")
	fmt.Println("  POST /.netlify/functions/chat")
	fmt.Printf("Example:\n  curl http://%s:%d/chat -H 'Content-Type: application/json' -d '{\"prompt\":\"hello\"}'\n\n", host, port)
}
