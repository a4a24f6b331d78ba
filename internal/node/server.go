package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/metrics"
)

var ErrServerStarted = errors.New("peer server already started")

// Server answers chunk requests from peers out of a shared directory. Each
// accepted connection is served by its own goroutine; connections share
// nothing but read access to the directory.
type Server struct {
	port      int
	sharedDir string
	log       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopChan chan struct{}
	errc     chan error
	wg       sync.WaitGroup
}

// NewServer prepares a server for listenPort and sharedDir. Port 0 picks a
// free port on Start.
func NewServer(listenPort int, sharedDir string, logger *zap.Logger) *Server {
	return &Server{
		port:      listenPort,
		sharedDir: sharedDir,
		log:       logging.OrGlobal(logger).Named("peer-server"),
	}
}

// Start binds the listening socket and begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}

	s.listener = ln
	s.conns = make(map[net.Conn]struct{})
	s.stopChan = make(chan struct{})
	s.errc = make(chan error, 1)

	s.wg.Add(1)
	go s.acceptLoop(ln, s.stopChan, s.errc)

	s.log.Info("peer server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("shared_dir", s.sharedDir))
	return nil
}

// Stop closes the listener and every open peer connection, then waits for
// their goroutines to return. In-flight requests are not drained.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.listener = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("peer server stopped")
}

// Serve runs the server until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	errc := s.errc
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case err := <-errc:
		s.Stop()
		return err
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "peer-server"
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener, stop <-chan struct{}, errc chan<- error) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error("accept failed", zap.Error(err))
			errc <- fmt.Errorf("accept: %w", err)
			return
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// track registers conn for shutdown. It reports false once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	metrics.PeerConnectionOpened()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	metrics.PeerConnectionClosed()
}
