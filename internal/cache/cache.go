// Package cache holds small in-process caches with periodic expiry sweeps.
package cache

import (
	"sync"
	"time"

	"savtogether/internal/clock"
)

// Cache is the read/write surface shared by the caches in this package.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Size() int
}

// Cleaner is a cache that can drop its expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps registered caches on an interval.
type Manager struct {
	clock  clock.Clock
	caches []Cleaner

	// OnSweep, if set, receives the number of entries dropped by each sweep.
	OnSweep func(removed int)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		clock: clk,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Register adds c to the sweep. Call before Start.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

func (m *Manager) Start(interval time.Duration) {
	go m.run(interval)
}

func (m *Manager) run(interval time.Duration) {
	defer close(m.done)

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			removed := 0
			for _, c := range m.caches {
				removed += c.CleanExpired()
			}
			if m.OnSweep != nil {
				m.OnSweep(removed)
			}
		case <-m.stop:
			return
		}
	}
}

// Stop ends the sweep and waits for it. It must follow Start.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
}
