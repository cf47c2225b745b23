package energylive

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const maxLineSize = 64 * 1024

// LiveStream reads a device event stream line by line. A timer cancels the
// underlying request when nothing was read for the configured read timeout.
type LiveStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

func newLiveStream(cancel context.CancelFunc, timeout time.Duration) *LiveStream {
	s := &LiveStream{
		cancel:  cancel,
		timeout: timeout,
	}
	s.timer = time.AfterFunc(timeout, func() {
		s.expired.Store(true)
		cancel()
	})
	return s
}

func (s *LiveStream) attach(body io.ReadCloser) {
	s.body = body
	s.scanner = bufio.NewScanner(idleReader{stream: s})
	s.scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	s.timer.Reset(s.timeout)
}

// Next blocks until the next line arrives. It returns io.EOF when the server
// ends the stream and ErrReadTimeout when the stream went silent.
func (s *LiveStream) Next() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if s.expired.Load() {
		return "", ErrReadTimeout
	}
	return "", io.EOF
}

func (s *LiveStream) Close() error {
	var err error
	s.once.Do(func() {
		s.timer.Stop()
		s.cancel()
		if s.body != nil {
			err = s.body.Close()
		}
	})
	return err
}

type idleReader struct {
	stream *LiveStream
}

func (r idleReader) Read(p []byte) (int, error) {
	n, err := r.stream.body.Read(p)
	if n > 0 {
		r.stream.timer.Reset(r.stream.timeout)
	}
	if err != nil && err != io.EOF && r.stream.expired.Load() {
		return n, ErrReadTimeout
	}
	return n, err
}
