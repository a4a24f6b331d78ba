// Package client downloads files from peers over the chunk protocol.
package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/protocol"
	"github.com/timskillet/p2pshare/internal/types"
)

// DefaultTimeout bounds the connect and every send or receive on a peer
// connection.
const DefaultTimeout = 30 * time.Second

type Client struct {
	ports   []int
	timeout time.Duration
	log     *zap.Logger
}

func New(logger *zap.Logger) *Client {
	return &Client{
		ports:   protocol.CandidatePorts(),
		timeout: DefaultTimeout,
		log:     logging.OrGlobal(logger).Named("peer-client"),
	}
}

// Discover connects to host on the first candidate port that accepts.
func (c *Client) Discover(ctx context.Context, host string) (net.Conn, int, error) {
	host = NormalizeHost(host)
	if host == "" {
		return nil, 0, fmt.Errorf("%w: empty host", ErrConnection)
	}

	d := net.Dialer{Timeout: c.timeout}
	for _, port := range c.ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			c.log.Debug("peer port found", zap.String("addr", addr))
			return conn, port, nil
		}
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		}
		c.log.Debug("candidate port unavailable", zap.String("addr", addr), zap.Error(err))
	}
	return nil, 0, fmt.Errorf("%w: no candidate port open on %s (tried %v)", ErrConnection, host, c.ports)
}

// DownloadFromPeer fetches filename from host into outputPath, truncating any
// existing content. The result is always non-nil; on failure the returned
// error wraps one of the package's failure classes and result.Reason holds
// its message. A partially written output file is left in place.
func (c *Client) DownloadFromPeer(ctx context.Context, host, filename, outputPath string) (*types.DownloadResult, error) {
	host = NormalizeHost(host)
	result := &types.DownloadResult{Filename: filename, SourceHost: host}

	id := uuid.NewString()
	log := c.log.With(
		zap.String("session", id),
		zap.String("host", host),
		zap.String("file", filename))

	n, err := c.download(ctx, id, host, filename, outputPath, log)
	result.Bytes = n
	metrics.RecordDownload(Outcome(err))
	if err != nil {
		result.Reason = err.Error()
		log.Warn("download failed", zap.Uint64("bytes", n), zap.Error(err))
		return result, err
	}

	result.Success = true
	log.Info("download complete", zap.Uint64("bytes", n), zap.String("output", outputPath))
	return result, nil
}

func (c *Client) download(ctx context.Context, id, host, filename, outputPath string, log *zap.Logger) (uint64, error) {
	conn, port, err := c.Discover(ctx, host)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	log = log.With(zap.Int("port", port))

	out, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("%w: create output: %v", ErrIO, err)
	}

	s := newSession(id, conn, out, filename, c.timeout, log)
	runErr := s.run()
	closeErr := out.Close()

	if runErr != nil {
		if ctx.Err() != nil {
			runErr = fmt.Errorf("%w (%v)", runErr, ctx.Err())
		}
		return s.written, runErr
	}
	if closeErr != nil {
		return s.written, fmt.Errorf("%w: close output: %v", ErrIO, closeErr)
	}
	return s.written, nil
}

// NormalizeHost reduces a URL or host:port to its host part.
func NormalizeHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			return u.Hostname()
		}
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
}
