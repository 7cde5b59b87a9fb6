package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/observability/metrics"
)

// HealthFunc reports component status for /healthz
type HealthFunc func() map[string]any

// Endpoint serves /metrics and /healthz
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	metrics       *Metrics
	health        HealthFunc
	started       time.Time
	log           logger.Logger
}

// NewEndpoint creates an endpoint bound to listenAddress. health may be nil.
func NewEndpoint(listenAddress string, m *Metrics, health HealthFunc) *Endpoint {
	e := &Endpoint{
		echo:          echo.New(),
		listenAddress: listenAddress,
		metrics:       m,
		health:        health,
		started:       time.Now(),
		log:           logger.Global().Module("observability"),
	}

	e.echo.HideBanner = true
	e.echo.HidePort = true
	e.echo.Server.ReadHeaderTimeout = 5 * time.Second
	e.echo.Use(echomw.Recover())

	e.echo.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.echo.GET("/healthz", e.handleHealth)

	return e
}

func (e *Endpoint) handleHealth(c echo.Context) error {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(e.started).Seconds(),
	}
	if e.health != nil {
		for k, v := range e.health() {
			body[k] = v
		}
	}
	return c.JSON(http.StatusOK, body)
}

// ServeHTTP lets tests drive the endpoint without a listener
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.echo.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		e.log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		errCh <- e.echo.Start(e.listenAddress)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	e.log.Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metrics.ShutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(shutdownCtx); err != nil {
		e.log.Error("metrics endpoint shutdown error", logger.Error(err))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
