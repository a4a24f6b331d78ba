package node

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/integrity"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/protocol"
)

// maxServableSize is the largest file whose chunk count fits the wire field.
const maxServableSize = uint64(math.MaxUint32) * protocol.ChunkSize

var (
	errNameNotServable = errors.New("name does not refer to a shared file")
	errFileTooLarge    = errors.New("file too large for the chunk protocol")
)

// handleConn serves requests on conn until the peer disconnects or the socket
// is closed by Stop. Protocol problems are answered in-band and the loop
// continues.
func (s *Server) handleConn(conn net.Conn) {
	log := s.log.With(zap.String("peer", conn.RemoteAddr().String()))
	log.Debug("peer connected")

	buf := make([]byte, protocol.ChunkSize)
	for {
		req, err := protocol.ReadChunkRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug("peer disconnected")
			} else {
				log.Debug("connection ended", zap.Error(err))
			}
			return
		}

		resp, body := s.serveChunk(req, buf, log)
		if err := protocol.WriteChunkResponse(conn, resp, body); err != nil {
			log.Debug("write response failed", zap.Error(err))
			return
		}
		metrics.RecordChunkServed(resp.Type.String(), len(body))
	}
}

// serveChunk builds the response for a single request. The returned body
// aliases buf and is only valid until the next call.
func (s *Server) serveChunk(req protocol.ChunkRequest, buf []byte, log *zap.Logger) (protocol.ChunkResponse, []byte) {
	resp := protocol.ChunkResponse{ChunkIndex: req.ChunkIndex}

	if req.Type != protocol.MsgChunkRequest {
		log.Warn("unexpected message type", zap.Stringer("type", req.Type))
		resp.Type = protocol.MsgError
		return resp, nil
	}
	if req.Reserved != 0 {
		log.Debug("reserved field is non-zero", zap.Uint32("reserved", req.Reserved))
	}

	f, size, err := s.openShared(req.Filename)
	if err != nil {
		if errors.Is(err, errNameNotServable) || errors.Is(err, fs.ErrNotExist) {
			log.Debug("file not found", zap.String("file", req.Filename))
			resp.Type = protocol.MsgFileNotFound
		} else {
			log.Warn("cannot open shared file", zap.String("file", req.Filename), zap.Error(err))
			resp.Type = protocol.MsgError
		}
		return resp, nil
	}
	defer f.Close()

	resp.TotalChunks = protocol.TotalChunks(size)

	// A zero-length file has no chunks; chunk 0 answers with an empty body
	// so the peer can complete the transfer.
	if size == 0 && req.ChunkIndex == 0 {
		resp.Type = protocol.MsgChunkResponse
		return resp, nil
	}

	offset, length, ok := protocol.ChunkBounds(size, req.ChunkIndex)
	if !ok {
		log.Debug("chunk index out of range",
			zap.String("file", req.Filename),
			zap.Uint32("chunk", req.ChunkIndex),
			zap.Uint32("total", resp.TotalChunks))
		resp.Type = protocol.MsgError
		return resp, nil
	}

	body := buf[:length]
	if n, err := f.ReadAt(body, offset); n != len(body) {
		log.Warn("read chunk failed", zap.String("file", req.Filename), zap.Int("read", n), zap.Error(err))
		resp.Type = protocol.MsgError
		return resp, nil
	}

	resp.Type = protocol.MsgChunkResponse
	resp.ChunkSize = length
	resp.Checksum = integrity.ChunkChecksum(body)
	return resp, body
}

// openShared resolves name to a regular file directly inside the shared
// directory. Path separators, dot names and hidden files are rejected.
func (s *Server) openShared(name string) (*os.File, uint64, error) {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return nil, 0, errNameNotServable
	}

	path := filepath.Join(s.sharedDir, name)
	if li, err := os.Lstat(path); err != nil {
		return nil, 0, err
	} else if !li.Mode().IsRegular() {
		return nil, 0, errNameNotServable
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, errNameNotServable
	}
	size := uint64(info.Size())
	if size > maxServableSize {
		f.Close()
		return nil, 0, errFileTooLarge
	}
	return f, size, nil
}
