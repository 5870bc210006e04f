package snapserver

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
)

// EndpointKey identifies a bound (address, port) pair.
type EndpointKey struct {
	Address string
	Port    int
}

func (k EndpointKey) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(k.Port))
}

type endpoint struct {
	listener *Listener
	ln       net.Listener
	// busy is true while an accept is outstanding for this endpoint.
	busy bool
}

// Registry tracks the listeners bound by this process, at most one per EndpointKey.
type Registry struct {
	endpoints map[EndpointKey]*endpoint
	mu        sync.RWMutex
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry used when Options.Registry is nil.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[EndpointKey]*endpoint),
	}
}

// bind opens a TCP socket for key and registers it to l.
// The check and the bind happen under the same lock, so two listeners racing
// for one key can never both end up bound. Port 0 binds an ephemeral port and
// the returned key carries the port that was actually bound.
func (r *Registry) bind(key EndpointKey, l *Listener) (net.Listener, EndpointKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[key]; ok && key.Port != 0 {
		return nil, key, fmt.Errorf("%w: %s", ErrEndpointBusy, key)
	}

	ln, err := net.Listen("tcp", key.String())
	if err != nil {
		return nil, key, err
	}

	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		key.Port = addr.Port
	}
	if _, ok := r.endpoints[key]; ok {
		ln.Close()
		return nil, key, fmt.Errorf("%w: %s", ErrEndpointBusy, key)
	}

	r.endpoints[key] = &endpoint{listener: l, ln: ln}
	return ln, key, nil
}

// release removes key if it is still owned by l.
func (r *Registry) release(key EndpointKey, l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.endpoints[key]; ok && e.listener == l {
		delete(r.endpoints, key)
	}
}

// markBusy flags an accept as outstanding for key.
// It returns false if one already is, or if key is not registered.
func (r *Registry) markBusy(key EndpointKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.endpoints[key]
	if !ok || e.busy {
		return false
	}
	e.busy = true
	return true
}

func (r *Registry) markReady(key EndpointKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.endpoints[key]; ok {
		e.busy = false
	}
}

// IsBusy reports whether an accept is outstanding for key.
func (r *Registry) IsBusy(key EndpointKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[key]
	return ok && e.busy
}

// Lookup returns the listener bound to key.
func (r *Registry) Lookup(key EndpointKey) (*Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[key]
	if !ok {
		return nil, false
	}
	return e.listener, true
}

// Keys returns the registered keys sorted by address then port.
func (r *Registry) Keys() []EndpointKey {
	r.mu.RLock()
	keys := make([]EndpointKey, 0, len(r.endpoints))
	for k := range r.endpoints {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.SortFunc(keys, func(a, b EndpointKey) int {
		return cmp.Or(cmp.Compare(a.Address, b.Address), cmp.Compare(a.Port, b.Port))
	})
	return keys
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Shutdown stops every registered listener and waits for them to finish or for ctx to be done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	listeners := make([]*Listener, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		listeners = append(listeners, e.listener)
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		l.Stop()
	}

	for _, l := range listeners {
		select {
		case <-l.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
