package snapserver

import (
	"log/slog"
	"time"

	"github.com/Atheer-Ganayem/snapserver/internal/frame"
)

const (
	// DefaultPort is the port used when the caller has no preference.
	DefaultPort = 80

	defaultWriteWait          = time.Second * 5
	defaultAcceptPollInterval = time.Millisecond * 100

	DefaultMaxMessageSize   = 1 << 20 // 1MB
	DefaultMaxHandshakeSize = 8 << 10 // 8KB
	DefaultReadBufferSize   = 4096
	DefaultWriteBufferSize  = 4096
)

type Options struct {
	// Ran when a listener accepts a connection, before the session starts reading.
	OnClient func(s *Session)
	// Ran when a listener stops. Receives nil when Start was called on a running listener.
	OnListenerStopped func(l *Listener)

	// Ran after the opening handshake was answered.
	OnHandshake func(s *Session)
	// Ran for every complete message received.
	OnData func(s *Session, data []byte)
	// Ran right after OnData with the UTF-8 view of the same message.
	// Empty messages are delivered as "".
	OnText func(s *Session, text string)
	// Ran once when a session's loop exits. Receives nil when Start was called on a running session.
	OnStopped func(s *Session)
	// Ran for failures of the read loop and of Send.
	OnException func(s *Session, err error)

	// If not set it will default to slog.Default().
	Logger *slog.Logger
	// If not set it will default to DefaultRegistry().
	Registry *Registry
	// Optional per-session inbound message limiter.
	Limiter *RateLimiter

	// If not set it will default to 5 seconds.
	WriteWait time.Duration
	// How often an idle accept loop re-checks its running flag. If not set it will default to 100ms.
	AcceptPollInterval time.Duration

	// Max payload bytes per outbound fragment, at most 125. If not set it will default to 63.
	FragmentSize int
	// Max size of a message sent by the client, fragments included. If not set it will default to 1MB.
	MaxMessageSize int
	// Max size of the HTTP upgrade request. If not set it will default to 8KB.
	MaxHandshakeSize int
	// if not set it will default to 4096 bytes
	ReadBufferSize int
	// if not set it will default to 4096 bytes
	WriteBufferSize int
}

func (opt *Options) WithDefault() {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Registry == nil {
		opt.Registry = DefaultRegistry()
	}
	if opt.WriteWait == 0 {
		opt.WriteWait = defaultWriteWait
	}
	if opt.AcceptPollInterval == 0 {
		opt.AcceptPollInterval = defaultAcceptPollInterval
	}
	if opt.FragmentSize <= 0 || opt.FragmentSize > frame.MaxBaseLength {
		opt.FragmentSize = frame.DefaultFragmentSize
	}
	if opt.MaxMessageSize == 0 {
		opt.MaxMessageSize = DefaultMaxMessageSize
	}
	if opt.MaxHandshakeSize == 0 {
		opt.MaxHandshakeSize = DefaultMaxHandshakeSize
	}
	if opt.ReadBufferSize == 0 {
		opt.ReadBufferSize = DefaultReadBufferSize
	}
	if opt.WriteBufferSize == 0 {
		opt.WriteBufferSize = DefaultWriteBufferSize
	}
}

// withDefaults returns a defaulted copy of opts so the caller's struct is never mutated.
func withDefaults(opts *Options) *Options {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.WithDefault()
	return &o
}
