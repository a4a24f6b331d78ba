// Package protocol defines the binary chunk transfer messages exchanged
// between peers.
//
// Messages are fixed size and carry no length prefix. All integer fields are
// little-endian uint32 values, including the message type.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// ChunkSize is the transfer unit. The final chunk of a file may be shorter.
	ChunkSize = 65536

	// MaxFilename is the width of the filename field, NUL terminator included.
	MaxFilename = 256

	// RequestSize is the encoded size of a ChunkRequest.
	RequestSize = 4 + MaxFilename + 4 + 4

	// ResponseHeaderSize is the encoded size of a ChunkResponse header.
	ResponseHeaderSize = 5 * 4
)

// MessageType identifies a message on the wire.
type MessageType uint32

const (
	MsgChunkRequest  MessageType = 1
	MsgChunkResponse MessageType = 2
	MsgFileNotFound  MessageType = 3
	MsgError         MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MsgChunkRequest:
		return "ChunkRequest"
	case MsgChunkResponse:
		return "ChunkResponse"
	case MsgFileNotFound:
		return "FileNotFound"
	case MsgError:
		return "Error"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

var candidatePorts = [...]int{8080, 9000, 8888, 9001, 9002}

// CandidatePorts returns the ordered list of ports probed during peer
// discovery. The returned slice is a copy.
func CandidatePorts() []int {
	ports := make([]int, len(candidatePorts))
	copy(ports, candidatePorts[:])
	return ports
}

var (
	ErrShortMessage = errors.New("protocol: short message")
	ErrChunkTooBig  = errors.New("protocol: chunk size exceeds limit")
)

var byteOrder = binary.LittleEndian

// ChunkRequest asks a peer for one chunk of a named file.
type ChunkRequest struct {
	Type       MessageType
	Filename   string
	ChunkIndex uint32
	Reserved   uint32
}

// NewChunkRequest builds a request for chunk idx of name.
func NewChunkRequest(name string, idx uint32) ChunkRequest {
	return ChunkRequest{Type: MsgChunkRequest, Filename: name, ChunkIndex: idx}
}

// MarshalBinary encodes the request. Filenames longer than MaxFilename-1
// bytes are truncated so that the field always ends with a NUL.
func (r ChunkRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	byteOrder.PutUint32(buf[0:], uint32(r.Type))
	name := r.Filename
	if len(name) > MaxFilename-1 {
		name = name[:MaxFilename-1]
	}
	copy(buf[4:4+MaxFilename], name)
	byteOrder.PutUint32(buf[4+MaxFilename:], r.ChunkIndex)
	byteOrder.PutUint32(buf[8+MaxFilename:], r.Reserved)
	return buf, nil
}

// UnmarshalBinary decodes a request from exactly RequestSize bytes.
func (r *ChunkRequest) UnmarshalBinary(b []byte) error {
	if len(b) < RequestSize {
		return ErrShortMessage
	}
	r.Type = MessageType(byteOrder.Uint32(b[0:]))
	name := b[4 : 4+MaxFilename]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	r.Filename = string(name)
	r.ChunkIndex = byteOrder.Uint32(b[4+MaxFilename:])
	r.Reserved = byteOrder.Uint32(b[8+MaxFilename:])
	return nil
}

// ChunkResponse is the header sent in reply to a ChunkRequest. When Type is
// MsgChunkResponse, ChunkSize raw bytes follow it on the wire.
type ChunkResponse struct {
	Type        MessageType
	ChunkIndex  uint32
	ChunkSize   uint32
	TotalChunks uint32
	Checksum    uint32
}

func (r ChunkResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResponseHeaderSize)
	byteOrder.PutUint32(buf[0:], uint32(r.Type))
	byteOrder.PutUint32(buf[4:], r.ChunkIndex)
	byteOrder.PutUint32(buf[8:], r.ChunkSize)
	byteOrder.PutUint32(buf[12:], r.TotalChunks)
	byteOrder.PutUint32(buf[16:], r.Checksum)
	return buf, nil
}

func (r *ChunkResponse) UnmarshalBinary(b []byte) error {
	if len(b) < ResponseHeaderSize {
		return ErrShortMessage
	}
	r.Type = MessageType(byteOrder.Uint32(b[0:]))
	r.ChunkIndex = byteOrder.Uint32(b[4:])
	r.ChunkSize = byteOrder.Uint32(b[8:])
	r.TotalChunks = byteOrder.Uint32(b[12:])
	r.Checksum = byteOrder.Uint32(b[16:])
	return nil
}

// HasBody reports whether chunk bytes follow this header.
func (r ChunkResponse) HasBody() bool {
	return r.Type == MsgChunkResponse
}

// ReadChunkRequest reads exactly one request from r.
func ReadChunkRequest(r io.Reader) (ChunkRequest, error) {
	var req ChunkRequest
	buf := make([]byte, RequestSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return req, shortRead(err)
	}
	err := req.UnmarshalBinary(buf)
	return req, err
}

// WriteChunkRequest writes one request to w.
func WriteChunkRequest(w io.Writer, req ChunkRequest) error {
	buf, _ := req.MarshalBinary()
	_, err := w.Write(buf)
	return err
}

// ReadChunkResponse reads exactly one response header from r. The body, if
// any, is left unread.
func ReadChunkResponse(r io.Reader) (ChunkResponse, error) {
	var resp ChunkResponse
	buf := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return resp, shortRead(err)
	}
	if err := resp.UnmarshalBinary(buf); err != nil {
		return resp, err
	}
	if resp.HasBody() && resp.ChunkSize > ChunkSize {
		return resp, fmt.Errorf("%w: %d", ErrChunkTooBig, resp.ChunkSize)
	}
	return resp, nil
}

// WriteChunkResponse writes the header followed by body in a single write.
// body must be nil unless resp.Type is MsgChunkResponse.
func WriteChunkResponse(w io.Writer, resp ChunkResponse, body []byte) error {
	hdr, _ := resp.MarshalBinary()
	if len(body) == 0 {
		_, err := w.Write(hdr)
		return err
	}
	msg := make([]byte, 0, len(hdr)+len(body))
	msg = append(msg, hdr...)
	msg = append(msg, body...)
	_, err := w.Write(msg)
	return err
}

// shortRead maps a partially read message to ErrShortMessage. A clean EOF
// before any byte is kept as io.EOF so callers can tell a closed peer apart.
func shortRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortMessage
	}
	return err
}

// TotalChunks returns ceil(size / ChunkSize).
func TotalChunks(size uint64) uint32 {
	return uint32((size + ChunkSize - 1) / ChunkSize)
}

// ChunkBounds returns the byte offset and length of chunk idx in a file of
// the given size. ok is false when the chunk starts at or beyond the end of
// the file.
func ChunkBounds(size uint64, idx uint32) (offset int64, length uint32, ok bool) {
	start := uint64(idx) * ChunkSize
	if start >= size {
		return 0, 0, false
	}
	n := size - start
	if n > ChunkSize {
		n = ChunkSize
	}
	return int64(start), uint32(n), true
}
