package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"classpulse/internal/logging"
	"classpulse/internal/websocket"
)

// HTTPServer matches the *http.Server lifecycle methods
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// socketCloser closes every live socket before the listener stops
type socketCloser interface {
	CloseAll(code int, reason string) int
}

// httpService runs the HTTP listener under the supervisor.
// FUNCTIONAL DISCOVERY: Hijacked WebSocket connections are invisible to
// http.Server.Shutdown, so sockets get their 1001 close frame first.
type httpService struct {
	server          HTTPServer
	sockets         socketCloser
	shutdownTimeout time.Duration
}

func newHTTPService(server HTTPServer, sockets socketCloser, shutdownTimeout time.Duration) *httpService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &httpService{
		server:          server,
		sockets:         sockets,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service. A listener failure is returned so the
// supervisor restarts it; cancellation closes sockets then shuts down.
func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		closed := h.sockets.CloseAll(websocket.CloseGoingAway, websocket.ShutdownReason)
		logging.Info().Int("sockets", closed).Msg("Closed WebSocket connections for shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "http-server"
}
