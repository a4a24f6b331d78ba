package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// HTTPService runs an http.Server under a supervisor.
type HTTPService struct {
	name    string
	addr    string
	handler http.Handler
	log     *zap.Logger

	mu      sync.Mutex
	boundTo net.Addr
}

func NewHTTPService(name, addr string, handler http.Handler, logger *zap.Logger) *HTTPService {
	return &HTTPService{
		name:    name,
		addr:    addr,
		handler: handler,
		log:     logging.OrGlobal(logger).Named(name),
	}
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts the server down.
func (h *HTTPService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.boundTo = ln.Addr()
	h.mu.Unlock()

	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	h.log.Info("http server listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.log.Warn("http shutdown incomplete", zap.Error(err))
			srv.Close()
		}
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", h.name, err)
	}
}

func (h *HTTPService) String() string {
	return h.name
}

// Addr returns the bound address once Serve is listening.
func (h *HTTPService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boundTo
}
