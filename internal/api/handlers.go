package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/client"
	"github.com/timskillet/p2pshare/internal/dynamodb"
	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/types"
)

const maxDownloadBody = 4096

type StatusResponse struct {
	Status    string `json:"status"`
	NodeID    string `json:"node_id"`
	PeerPort  int    `json:"peer_port"`
	UptimeSec int64  `json:"uptime"`
	SharedDir string `json:"shared_dir"`
}

type FilesResponse struct {
	Files []types.FileRecord `json:"files"`
	Count int                `json:"count"`
}

// DownloadRequest names a file and the peers that hold it. Only the first
// peer is contacted. peer_url and host are accepted in place of peers.
type DownloadRequest struct {
	Filename string   `json:"filename"`
	Peers    []string `json:"peers"`
	PeerURL  string   `json:"peer_url"`
	Host     string   `json:"host"`
}

func (r *DownloadRequest) targetHost() string {
	for _, p := range r.Peers {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	if r.PeerURL != "" {
		return r.PeerURL
	}
	return r.Host
}

type PeersResponse struct {
	Peers []*dynamodb.PeerInfo `json:"peers"`
	Count int                  `json:"count"`
}

type HoldersResponse struct {
	Hash  string                       `json:"hash"`
	Peers []*dynamodb.FileAvailability `json:"peers"`
	Count int                          `json:"count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, StatusResponse{
		Status:    "running",
		NodeID:    s.opts.NodeID,
		PeerPort:  s.opts.PeerPort,
		UptimeSec: int64(time.Since(s.started) / time.Second),
		SharedDir: s.opts.ShareDir,
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files := s.catalog.List(s.opts.ShareDir)
	s.sendJSON(w, http.StatusOK, FilesResponse{Files: files, Count: len(files)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context())

	var req DownloadRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxDownloadBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := filepath.Base(strings.TrimSpace(req.Filename))
	if req.Filename == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		s.sendError(w, http.StatusBadRequest, "missing filename")
		return
	}
	host := req.targetHost()
	if host == "" {
		s.sendError(w, http.StatusBadRequest, "no peer given")
		return
	}

	if err := os.MkdirAll(s.opts.DownloadDir, 0755); err != nil {
		log.Error("cannot create download directory", zap.String("dir", s.opts.DownloadDir), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "download directory unavailable")
		return
	}
	output := filepath.Join(s.opts.DownloadDir, name)

	result, err := s.downloader.DownloadFromPeer(r.Context(), host, req.Filename, output)
	s.sendJSON(w, downloadStatus(err), result)
}

func downloadStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrIO):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		s.sendJSON(w, http.StatusOK, PeersResponse{Peers: []*dynamodb.PeerInfo{}})
		return
	}
	peers, err := s.directory.ListPeers(r.Context())
	if err != nil {
		logging.WithContext(r.Context()).Warn("list peers failed", zap.Error(err))
		s.sendError(w, http.StatusBadGateway, "peer registry unavailable")
		return
	}
	if peers == nil {
		peers = []*dynamodb.PeerInfo{}
	}
	s.sendJSON(w, http.StatusOK, PeersResponse{Peers: peers, Count: len(peers)})
}

func (s *Server) handleFileHolders(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(r.PathValue("hash"))
	if s.directory == nil {
		s.sendJSON(w, http.StatusOK, HoldersResponse{Hash: hash, Peers: []*dynamodb.FileAvailability{}})
		return
	}
	holders, err := s.directory.FileHolders(r.Context(), hash)
	if err != nil {
		logging.WithContext(r.Context()).Warn("file holder lookup failed", zap.String("hash", hash), zap.Error(err))
		s.sendError(w, http.StatusBadGateway, "peer registry unavailable")
		return
	}
	if holders == nil {
		holders = []*dynamodb.FileAvailability{}
	}
	s.sendJSON(w, http.StatusOK, HoldersResponse{Hash: hash, Peers: holders, Count: len(holders)})
}
