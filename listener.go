package snapserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNotListening = errors.New("listener is not bound, call Listen first")

// Listener binds one EndpointKey and hands every accepted connection to a new Session.
type Listener struct {
	opts     *Options
	registry *Registry
	logger   *slog.Logger

	running atomic.Bool
	serving atomic.Bool

	// guards everything below
	mu       sync.Mutex
	key      EndpointKey
	ln       net.Listener
	cancel   context.CancelFunc
	stopCtx  context.Context
	done     chan struct{}
	sessions map[*Session]struct{}

	// accept goroutines and session goroutines of the current run
	wg sync.WaitGroup
}

// NewListener creates a listener for a literal IP address and a port.
// Port 0 picks an ephemeral port when Listen runs.
func NewListener(address string, port int, opts *Options) (*Listener, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	opts = withDefaults(opts)
	key := EndpointKey{Address: ip.String(), Port: port}

	done := make(chan struct{})
	close(done)

	return &Listener{
		opts:     opts,
		registry: opts.Registry,
		logger:   opts.Logger.With("endpoint", key.String()),
		key:      key,
		done:     done,
	}, nil
}

// NewListenerAddr is NewListener for an already parsed address.
func NewListenerAddr(addr netip.Addr, port int, opts *Options) (*Listener, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, addr)
	}
	return NewListener(addr.Unmap().String(), port, opts)
}

// Key returns the endpoint of the listener. After Listen it carries the bound port.
func (l *Listener) Key() EndpointKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key
}

// Addr returns the bound address, or nil when the listener is not bound.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) IsRunning() bool {
	return l.running.Load()
}

// Done is closed when the current run has fully stopped.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Sessions returns the sessions accepted by the current run that are still tracked.
func (l *Listener) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Session, 0, len(l.sessions))
	for s := range l.sessions {
		out = append(out, s)
	}
	return out
}

// Start binds the endpoint and runs the accept loop until Stop is called or ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the endpoint and registers it.
// It fails with ErrEndpointBusy if another listener of the same registry holds the key.
// Calling Listen on a running listener fires OnListenerStopped(nil) and returns ErrAlreadyRunning.
func (l *Listener) Listen() error {
	if !l.running.CompareAndSwap(false, true) {
		if l.opts.OnListenerStopped != nil {
			l.opts.OnListenerStopped(nil)
		}
		return ErrAlreadyRunning
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// the previous run is still shutting down
	select {
	case <-l.done:
	default:
		l.running.Store(false)
		return ErrAlreadyRunning
	}

	ln, key, err := l.registry.bind(l.key, l)
	if err != nil {
		l.running.Store(false)
		return err
	}

	l.ln = ln
	l.key = key
	l.sessions = make(map[*Session]struct{})
	l.done = make(chan struct{})
	l.stopCtx, l.cancel = context.WithCancel(context.Background())
	l.logger = l.opts.Logger.With("endpoint", key.String())

	l.logger.Info("listening")
	return nil
}

// Serve runs the accept loop of a bound listener.
// At most one accept is outstanding at any time.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln, key, stopCtx := l.ln, l.key, l.stopCtx
	if ln == nil {
		l.mu.Unlock()
		return ErrNotListening
	}
	// claimed under mu so Stop knows whether it must tear down by itself
	if !l.serving.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(stopCtx, cancel)
	defer stop()

	ready := make(chan struct{}, 1)
	ticker := time.NewTicker(l.opts.AcceptPollInterval)
	defer ticker.Stop()

	for l.running.Load() {
		if l.registry.markBusy(key) {
			l.wg.Add(1)
			go l.acceptOne(ctx, ln, key, ready)
		}

		select {
		case <-ctx.Done():
			l.running.Store(false)
		case <-ready:
		case <-ticker.C:
		}
	}

	cancel()
	l.shutdown(ln, key)
	return nil
}

// Stop asks the accept loop to exit. It does not wait; use Done for that.
// A listener that was bound with Listen but never served is torn down
// before Stop returns.
func (l *Listener) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}

	l.mu.Lock()
	cancel := l.cancel
	ln, key := l.ln, l.key
	unserved := ln != nil && !l.serving.Load()
	if unserved {
		// a later Serve sees ErrNotListening instead of racing the teardown
		l.ln = nil
	}
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unserved {
		l.shutdown(ln, key)
	}
}

// acceptOne waits for a single connection. Failures are dropped; the loop
// retries on its next tick.
func (l *Listener) acceptOne(ctx context.Context, ln net.Listener, key EndpointKey, ready chan<- struct{}) {
	defer l.wg.Done()

	c, err := ln.Accept()
	if err != nil {
		if l.running.Load() {
			l.logger.Debug("accept failed", "error", err)
		}
		l.registry.markReady(key)
		return
	}

	s := NewSession(c, l.opts)
	if !l.track(s) {
		_ = c.Close()
		l.registry.markReady(key)
		return
	}
	l.registry.markReady(key)
	select {
	case ready <- struct{}{}:
	default:
	}

	l.logger.Debug("client accepted", "session", s.ID, "remote_addr", c.RemoteAddr().String())
	if l.opts.OnClient != nil {
		l.opts.OnClient(s)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.forget(s)
		_ = s.Start(ctx)
	}()
}

func (l *Listener) track(s *Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessions == nil || !l.running.Load() {
		return false
	}
	l.sessions[s] = struct{}{}
	return true
}

func (l *Listener) forget(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s)
}

func (l *Listener) shutdown(ln net.Listener, key EndpointKey) {
	_ = ln.Close()

	for _, s := range l.Sessions() {
		s.Stop()
	}
	l.wg.Wait()

	l.registry.release(key, l)

	l.mu.Lock()
	l.ln = nil
	l.sessions = nil
	l.cancel = nil
	l.serving.Store(false)
	done := l.done
	l.mu.Unlock()

	l.running.Store(false)
	close(done)

	l.logger.Info("listener stopped")
	if l.opts.OnListenerStopped != nil {
		l.opts.OnListenerStopped(l)
	}
}
