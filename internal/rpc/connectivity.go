package rpc

import (
	"sync"
	"sync/atomic"
)

// Monitor tracks whether the backend is reachable. The HTTP backend flips it
// on every call outcome; the offline queue subscribes to online transitions
// to trigger a drain.
type Monitor struct {
	online atomic.Bool

	mu   sync.Mutex
	subs []chan struct{}
}

func NewMonitor() *Monitor {
	m := &Monitor{}
	m.online.Store(true)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) MarkOffline() {
	m.online.Store(false)
}

// MarkOnline records restored connectivity and pings subscribers once per
// offline-to-online transition.
func (m *Monitor) MarkOnline() {
	if m.online.Swap(true) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives a signal whenever connectivity
// comes back. The channel is buffered; a slow consumer misses coalesced
// signals, never blocks the monitor.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, ch)
	return ch
}
