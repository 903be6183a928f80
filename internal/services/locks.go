package services

import (
	"sync"

	"finrec/internal/core"
)

// partitionLocks hands out one mutex per partition and forgets it once no
// goroutine holds or waits for it.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[core.PartitionKey]*partitionLock
}

type partitionLock struct {
	mu   sync.Mutex
	refs int
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: map[core.PartitionKey]*partitionLock{}}
}

// lock blocks until key is free and returns the release func.
func (p *partitionLocks) lock(key core.PartitionKey) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &partitionLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *partitionLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
