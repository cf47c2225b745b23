package energylive

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrMissingAPIKey   = errors.New("energylive: api key is required")
	ErrForbidden       = errors.New("energylive: api key rejected")
	ErrReadTimeout     = errors.New("energylive: live stream read timeout")
	ErrMalformedRecord = errors.New("energylive: malformed live record")
)

// StatusError is returned for non-2xx responses other than 403.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("energylive: %s returned status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("energylive: %s returned status %d: %s", e.Path, e.Code, e.Body)
}

// IsDisconnect reports whether err is an ordinary end of a live stream: the
// idle read timer expired or the server closed the connection.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrReadTimeout),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
