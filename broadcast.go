package snapserver

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcast sends data to every handshaken session tracked by l and returns
// how many sends succeeded.
func (l *Listener) Broadcast(ctx context.Context, data []byte) (int, error) {
	sessions := l.Sessions()
	return workersBroadcast(ctx, sessions, data, broadcastWorkers(len(sessions)))
}

// BroadcastString is Broadcast for text.
func (l *Listener) BroadcastString(ctx context.Context, str string) (int, error) {
	return l.Broadcast(ctx, []byte(str))
}

func broadcastWorkers(n int) int {
	return n/10 + 2
}

func workersBroadcast(ctx context.Context, sessions []*Session, data []byte, workers int) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	ch := make(chan *Session, workers)
	done := make(chan struct{})
	var n int64

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range ch {
				if ctx.Err() != nil {
					continue
				}
				if !s.IsHandshaken() {
					continue
				}
				if err := s.Send(ctx, data); err == nil {
					atomic.AddInt64(&n, 1)
				}
			}
		}()
	}

	go func() {
		for _, s := range sessions {
			if ctx.Err() != nil {
				break
			}
			ch <- s
		}
		close(ch)
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return int(atomic.LoadInt64(&n)), nil
	case <-ctx.Done():
		return int(atomic.LoadInt64(&n)), ctx.Err()
	}
}
