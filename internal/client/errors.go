package client

import "errors"

// Failure classes of a download. Errors returned by the client wrap exactly
// one of these; test with errors.Is.
var (
	ErrConnection = errors.New("connection error")
	ErrProtocol   = errors.New("protocol error")
	ErrIntegrity  = errors.New("integrity error")
	ErrNotFound   = errors.New("file not found on peer")
	ErrIO         = errors.New("i/o error")
)

// Outcome returns a short label for err, used for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConnection):
		return "connection_error"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrIntegrity):
		return "integrity_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIO):
		return "io_error"
	default:
		return "error"
	}
}
