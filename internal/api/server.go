// Package api provides the JSON HTTP front end of a p2p node.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/dynamodb"
	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/types"
)

// Catalog rescans a directory and returns its records.
type Catalog interface {
	List(dir string) []types.FileRecord
}

type Downloader interface {
	DownloadFromPeer(ctx context.Context, host, filename, outputPath string) (*types.DownloadResult, error)
}

// Directory answers peer and file holder queries from the registry.
type Directory interface {
	ListPeers(ctx context.Context) ([]*dynamodb.PeerInfo, error)
	FileHolders(ctx context.Context, digest string) ([]*dynamodb.FileAvailability, error)
}

type Options struct {
	NodeID      string
	PeerPort    int
	ShareDir    string
	DownloadDir string
}

type Server struct {
	catalog    Catalog
	downloader Downloader
	directory  Directory // optional
	opts       Options
	started    time.Time
	log        *zap.Logger
}

func NewServer(opts Options, catalog Catalog, downloader Downloader, logger *zap.Logger) *Server {
	return &Server{
		catalog:    catalog,
		downloader: downloader,
		opts:       opts,
		started:    time.Now(),
		log:        logging.OrGlobal(logger).Named("api"),
	}
}

// SetDirectory enables the registry-backed endpoints.
func (s *Server) SetDirectory(d Directory) {
	s.directory = d
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /api/files/{hash}/peers", s.handleFileHolders)
	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("POST /api/download", s.handleDownload)

	// CORS preflight
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "API endpoint not found")
	})

	return logging.Middleware(s.log)(corsMiddleware(metrics.Middleware(mux)))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, map[string]string{"error": message})
}
