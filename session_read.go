package snapserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Atheer-Ganayem/snapserver/internal/frame"
)

// minClassifyLength is how many bytes must be buffered before the first
// bytes of a connection are classified as a handshake or a frame.
const minClassifyLength = 3

// errPeerClosed ends the read loop without an error when the peer sends a close frame.
var errPeerClosed = errors.New("peer sent close frame")

// process consumes every complete unit held in buf: the upgrade request
// first, if there is one, then frames in arrival order. It returns the
// unconsumed tail of buf.
func (s *Session) process(ctx context.Context, buf []byte) ([]byte, error) {
	for len(buf) > 0 {
		if !s.classified {
			if len(buf) < minClassifyLength {
				return buf, nil
			}
			s.classified = true
			// peers that never send an upgrade request go straight to framing
			s.upgrading = isUpgradeRequest(buf)
		}

		if s.upgrading {
			n := requestLength(buf)
			if n < 0 {
				if len(buf) > s.opts.MaxHandshakeSize {
					return nil, ErrHandshakeTooLarge
				}
				return buf, nil
			}
			if n > s.opts.MaxHandshakeSize {
				return nil, ErrHandshakeTooLarge
			}

			if err := s.handshake(ctx, buf[:n]); err != nil {
				return nil, err
			}
			s.upgrading = false
			buf = buf[n:]
			continue
		}

		f, n, err := frame.Parse(buf)
		if errors.Is(err, frame.ErrIncomplete) {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		buf = buf[n:]

		if err := s.dispatch(&f); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// handshake answers the upgrade request held in req.
func (s *Session) handshake(ctx context.Context, req []byte) error {
	key := secWebSocketKey(string(req))
	if key == "" {
		_ = s.write(ctx, appendBadRequest(nil, ErrMissingSecKey.Error()))
		return ErrMissingSecKey
	}

	if err := s.write(ctx, appendHandshakeResponse(nil, AcceptKey(key))); err != nil {
		return fmt.Errorf("writing handshake response: %w", err)
	}

	s.handshaken.Store(true)
	s.logger.Debug("handshake complete")
	if s.opts.OnHandshake != nil {
		s.opts.OnHandshake(s)
	}

	return nil
}

// dispatch handles one decoded frame. Data frames are joined into messages;
// a close frame ends the session; ping and pong are dropped.
func (s *Session) dispatch(f *frame.Frame) error {
	switch {
	case f.OPCODE == frame.OpcodeClose:
		return errPeerClosed
	case f.OPCODE == frame.OpcodePing, f.OPCODE == frame.OpcodePong:
		return nil
	case !f.IsData():
		return ErrInvalidOPCODE
	}

	if f.OPCODE == frame.OpcodeContinuation {
		if !s.inMessage {
			return ErrUnexpectedContinuation
		}
	} else {
		if s.inMessage {
			return ErrExpectedContinuation
		}
		s.inMessage = true
	}

	if len(s.message)+len(f.Payload) > s.opts.MaxMessageSize {
		return ErrMessageTooLarge
	}
	s.message = append(s.message, f.Payload...)

	if !f.FIN {
		return nil
	}

	data := s.message
	s.message = nil
	s.inMessage = false
	if data == nil {
		data = []byte{}
	}

	return s.deliver(data)
}

func (s *Session) deliver(data []byte) error {
	if s.opts.Limiter != nil && !s.opts.Limiter.allow(s) {
		s.logger.Debug("message dropped", "error", ErrRateLimited, "size", len(data))
		return s.opts.Limiter.hit(s)
	}

	if s.opts.OnData != nil {
		s.opts.OnData(s, data)
	}
	if s.opts.OnText != nil {
		s.opts.OnText(s, string(data))
	}

	return nil
}
