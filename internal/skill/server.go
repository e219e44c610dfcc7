package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/tasktalk/internal/locale"
)

const shutdownTimeout = 5 * time.Second

// maxEnvelopeBytes caps a request body; platform envelopes are a few KB.
const maxEnvelopeBytes = 64 << 10

// Server exposes a Handler as the skill's HTTPS endpoint.
type Server struct {
	handler *Handler
	router  *gin.Engine
	logger  *slog.Logger
}

// NewServer creates the webhook server.
func NewServer(handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()

	s := &Server{
		handler: handler,
		router:  router,
		logger:  logger,
	}

	router.Use(s.logRequests(), gin.CustomRecovery(s.recover))

	router.GET("/healthz", s.handleHealth)
	router.POST("/skill", s.handleSkill)

	return s
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("skill endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSkill(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEnvelopeBytes)

	var env RequestEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request envelope too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request envelope"})
		return
	}
	if env.Request.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request type is required"})
		return
	}

	c.JSON(http.StatusOK, s.handler.Handle(c.Request.Context(), env))
}

// recover answers with the generic error speech so the device never goes
// silent.
func (s *Server) recover(c *gin.Context, err any) {
	s.logger.Error("panic serving request", "path", c.Request.URL.Path, "panic", fmt.Sprint(err))
	str := s.handler.prompts.For(s.handler.defaultLocale)
	c.AbortWithStatusJSON(http.StatusOK, ask(str.Get(locale.ErrorGeneric)))
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
