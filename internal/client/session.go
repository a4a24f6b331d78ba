package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/integrity"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/protocol"
)

type state int

const (
	stateIdle state = iota
	stateRequestSent
	stateAwaitingHeader
	stateAwaitingBody
	stateVerifyingChunk
	stateComplete
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRequestSent:
		return "request-sent"
	case stateAwaitingHeader:
		return "awaiting-header"
	case stateAwaitingBody:
		return "awaiting-body"
	case stateVerifyingChunk:
		return "verifying-chunk"
	case stateComplete:
		return "complete"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session is one sequential transfer over an established connection. Only
// one request is outstanding at a time and chunks are appended to out in
// index order.
type session struct {
	id       string
	conn     net.Conn
	out      io.Writer
	filename string
	timeout  time.Duration
	log      *zap.Logger

	state     state
	index     uint32
	total     uint32
	haveTotal bool
	header    protocol.ChunkResponse
	body      []byte
	written   uint64
	err       error
}

func newSession(id string, conn net.Conn, out io.Writer, filename string, timeout time.Duration, log *zap.Logger) *session {
	return &session{
		id:       id,
		conn:     conn,
		out:      out,
		filename: filename,
		timeout:  timeout,
		log:      log,
		body:     make([]byte, protocol.ChunkSize),
	}
}

// run drives the state machine until the transfer completes or fails.
func (s *session) run() error {
	for s.state != stateComplete && s.state != stateFailed {
		switch s.state {
		case stateIdle:
			s.sendRequest()
		case stateRequestSent:
			s.setState(stateAwaitingHeader)
			s.readHeader()
		case stateAwaitingBody:
			s.readBody()
		case stateVerifyingChunk:
			s.verifyChunk()
		default:
			s.fail(fmt.Errorf("%w: session in unexpected state %s", ErrProtocol, s.state))
		}
	}
	return s.err
}

func (s *session) setState(next state) {
	s.log.Debug("session transition",
		zap.Stringer("from", s.state),
		zap.Stringer("to", next),
		zap.Uint32("chunk", s.index))
	s.state = next
}

func (s *session) fail(err error) {
	s.err = err
	s.setState(stateFailed)
}

func (s *session) sendRequest() {
	s.conn.SetDeadline(time.Now().Add(s.timeout))
	if err := protocol.WriteChunkRequest(s.conn, protocol.NewChunkRequest(s.filename, s.index)); err != nil {
		s.fail(fmt.Errorf("%w: send request for chunk %d: %v", ErrProtocol, s.index, err))
		return
	}
	s.setState(stateRequestSent)
}

func (s *session) readHeader() {
	s.conn.SetDeadline(time.Now().Add(s.timeout))
	hdr, err := protocol.ReadChunkResponse(s.conn)
	if err != nil {
		s.fail(fmt.Errorf("%w: read header for chunk %d: %v", ErrProtocol, s.index, err))
		return
	}

	switch hdr.Type {
	case protocol.MsgChunkResponse:
	case protocol.MsgFileNotFound:
		s.fail(fmt.Errorf("%w: %s", ErrNotFound, s.filename))
		return
	case protocol.MsgError:
		s.fail(fmt.Errorf("%w: peer reported an error for chunk %d", ErrProtocol, s.index))
		return
	default:
		s.fail(fmt.Errorf("%w: unexpected message type %s", ErrProtocol, hdr.Type))
		return
	}

	if hdr.ChunkIndex != s.index {
		s.fail(fmt.Errorf("%w: requested chunk %d, peer answered %d", ErrProtocol, s.index, hdr.ChunkIndex))
		return
	}
	if !s.haveTotal {
		s.total = hdr.TotalChunks
		s.haveTotal = true
		s.log.Debug("transfer size known", zap.Uint32("total_chunks", s.total))
	}

	s.header = hdr
	s.setState(stateAwaitingBody)
}

func (s *session) readBody() {
	body := s.body[:s.header.ChunkSize]
	s.conn.SetDeadline(time.Now().Add(s.timeout))
	if _, err := io.ReadFull(s.conn, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = protocol.ErrShortMessage
		}
		s.fail(fmt.Errorf("%w: read body of chunk %d: %v", ErrProtocol, s.index, err))
		return
	}
	s.setState(stateVerifyingChunk)
}

func (s *session) verifyChunk() {
	body := s.body[:s.header.ChunkSize]
	if sum := integrity.ChunkChecksum(body); sum != s.header.Checksum {
		s.fail(fmt.Errorf("%w: chunk %d checksum mismatch: expected %d, got %d",
			ErrIntegrity, s.index, s.header.Checksum, sum))
		return
	}

	if _, err := s.out.Write(body); err != nil {
		s.fail(fmt.Errorf("%w: write chunk %d: %v", ErrIO, s.index, err))
		return
	}
	s.written += uint64(len(body))
	metrics.RecordBytesDownloaded(len(body))

	s.index++
	if s.index >= s.total {
		s.setState(stateComplete)
		return
	}
	s.sendRequest()
}
