package sequencer

import (
	"sync"
	"time"
)

// Loop calls tick on a wall-clock ticker from its own goroutine.
type Loop struct {
	interval time.Duration
	tick     func()

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

func NewLoop(interval time.Duration, tick func()) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{interval: interval, tick: tick}
}

// Start launches the goroutine unless it is already running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit != nil {
		return
	}
	quit, done := make(chan struct{}), make(chan struct{})
	l.quit, l.done = quit, done
	go func() {
		defer close(done)
		t := time.NewTicker(l.interval)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-t.C:
				l.tick()
			}
		}
	}()
}

// Stop signals the goroutine to exit without waiting for it, so it may be
// called while tick is blocked on a lock the caller holds. The returned
// channel closes once the goroutine has exited.
func (l *Loop) Stop() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	close(l.quit)
	done := l.done
	l.quit, l.done = nil, nil
	return done
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quit != nil
}
