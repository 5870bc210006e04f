package snapserver

import (
	"context"
	"time"

	"github.com/Atheer-Ganayem/snapserver/internal/frame"
)

// Send writes b to the peer as one text message, split into fragments of
// Options.FragmentSize bytes, and flushes.
//
// The returned error must be checked. If it's of type snapserver.FatalError,
// the session is already closed and its read loop is ending. Every failure is
// also passed to OnException.
func (s *Session) Send(ctx context.Context, b []byte) error {
	if s.closed.Load() {
		return Fatal(ErrConnClosed)
	}

	p := frame.AppendFragments(make([]byte, 0, len(b)+2*frame.FragmentCount(len(b), s.opts.FragmentSize)), b, s.opts.FragmentSize)

	if err := s.write(ctx, p); err != nil {
		s.exception(err)
		return err
	}

	return nil
}

// SendString sends str as UTF-8. An empty string is sent as an empty frame.
func (s *Session) SendString(ctx context.Context, str string) error {
	if str == "" {
		return s.Send(ctx, nil)
	}
	return s.Send(ctx, []byte(str))
}

// write sends p in one locked buffered write. The deadline is the earlier of
// Options.WriteWait and the ctx deadline.
func (s *Session) write(ctx context.Context, p []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.wMu.Lock()
	defer s.wMu.Unlock()

	if s.closed.Load() || s.bw == nil {
		return Fatal(ErrConnClosed)
	}

	deadline := time.Now().Add(s.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.raw.SetWriteDeadline(deadline); err != nil {
		return s.writeFailed(ctx, err)
	}
	// cancellation cuts a blocked write short
	stop := context.AfterFunc(ctx, func() {
		_ = s.raw.SetWriteDeadline(time.Now())
	})
	defer stop()

	if _, err := s.bw.Write(p); err != nil {
		return s.writeFailed(ctx, err)
	}
	if err := s.bw.Flush(); err != nil {
		return s.writeFailed(ctx, err)
	}

	return nil
}

// writeFailed closes the socket after a failed write, since the peer may
// have received part of a frame. The read loop then exits through teardown.
// wMu must be held.
func (s *Session) writeFailed(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		err = cerr
	}

	s.Stop()
	s.closed.Store(true)
	_ = s.raw.Close()
	s.bw = nil

	s.logger.Debug("write failed, closing session", "error", err)
	return Fatal(err)
}
