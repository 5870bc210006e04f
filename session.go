package snapserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one accepted connection: handshake, frame decoding and sending.
//
// Concurrency:
//   - Start runs the read loop and blocks; it must be called from one goroutine.
//   - Stop, Send and SendString are safe to call from any goroutine.
type Session struct {
	// ID correlates log lines and callbacks. It plays no part in the protocol.
	ID string

	raw    net.Conn
	opts   *Options
	logger *slog.Logger

	running    atomic.Bool
	closed     atomic.Bool
	handshaken atomic.Bool
	// set by Stop, so a Stop that comes before Start is not lost
	stopRequested atomic.Bool

	// guards bw and the write side of raw
	wMu sync.Mutex
	bw  *bufio.Writer

	// read loop state, only touched by the goroutine running Start.
	classified bool
	upgrading  bool
	inMessage  bool
	message    []byte
}

// NewSession wraps an accepted connection. Callbacks and limits come from opts.
func NewSession(c net.Conn, opts *Options) *Session {
	opts = withDefaults(opts)
	id := uuid.New().String()

	return &Session{
		ID:     id,
		raw:    c,
		opts:   opts,
		logger: opts.Logger.With("session", id, "remote_addr", c.RemoteAddr().String()),
		bw:     bufio.NewWriterSize(c, opts.WriteBufferSize),
	}
}

// Returns the underlying net conn.
func (s *Session) NetConn() net.Conn {
	return s.raw
}

func (s *Session) RemoteAddr() net.Addr {
	return s.raw.RemoteAddr()
}

func (s *Session) IsRunning() bool {
	return s.running.Load()
}

// IsHandshaken reports whether the opening handshake was answered.
func (s *Session) IsHandshaken() bool {
	return s.handshaken.Load()
}

// Start runs the read loop until Stop is called, ctx is done, the peer goes
// away, or a protocol violation occurs. It returns nil for the first three and
// a FatalError for anything else.
//
// Calling Start on a running session fires OnStopped(nil) and returns ErrAlreadyRunning.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return Fatal(ErrConnClosed)
	}
	if !s.running.CompareAndSwap(false, true) {
		if s.opts.OnStopped != nil {
			s.opts.OnStopped(nil)
		}
		return ErrAlreadyRunning
	}
	if s.stopRequested.Load() {
		s.teardown()
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	if s.opts.Limiter != nil {
		s.opts.Limiter.addClient(s)
	}

	s.logger.Debug("session started")
	err := s.readLoop(ctx)

	if err != nil {
		s.logger.Warn("session failed", "error", err)
		s.exception(err)
	}
	s.teardown()

	return Fatal(err)
}

// Stop asks the read loop to exit. It does not wait for it.
// Stopping a session that was not started yet makes its Start return at once.
func (s *Session) Stop() {
	s.stopRequested.Store(true)
	if s.running.CompareAndSwap(true, false) {
		// unblocks a pending Read, the loop then sees running == false.
		_ = s.raw.SetReadDeadline(time.Now())
	}
}

func (s *Session) teardown() {
	s.running.Store(false)

	s.wMu.Lock()
	s.closed.Store(true)
	_ = s.raw.Close()
	s.bw = nil
	s.wMu.Unlock()

	s.message = nil

	if s.opts.Limiter != nil {
		s.opts.Limiter.removeClient(s)
	}

	s.logger.Debug("session stopped")
	if s.opts.OnStopped != nil {
		s.opts.OnStopped(s)
	}
}

func (s *Session) exception(err error) {
	if s.opts.OnException != nil {
		s.opts.OnException(s, err)
	}
}

// readLoop reads whatever the socket has and feeds it to process, in order.
// Bytes that do not form a whole frame yet are kept for the next read.
func (s *Session) readLoop(ctx context.Context) error {
	chunk := make([]byte, s.opts.ReadBufferSize)
	var buf []byte

	for s.running.Load() {
		n, err := s.raw.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			rest, perr := s.process(ctx, buf)
			if errors.Is(perr, errPeerClosed) {
				return nil
			}
			if cerr := ctx.Err(); cerr != nil && errors.Is(perr, cerr) {
				// a write cut short by cancellation, not a peer failure
				return nil
			}
			if perr != nil {
				return perr
			}
			// compact, rest always aliases the tail of buf
			buf = append(buf[:0], rest...)
		}

		if err != nil {
			if !s.running.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// deadline set through NetConn, not by Stop
				_ = s.raw.SetReadDeadline(time.Time{})
				continue
			}
			return err
		}
	}

	return nil
}
