package orch

import (
	"context"
	"sync"
)

type keyedSem struct {
	ch   chan struct{}
	refs int
}

// keyedLock serializes work per key. Waiters give up when their ctx ends.
type keyedLock struct {
	mu   sync.Mutex
	sems map[string]*keyedSem
}

func newKeyedLock() *keyedLock {
	return &keyedLock{sems: make(map[string]*keyedSem)}
}

func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.sems[key]
	if !ok {
		s = &keyedSem{ch: make(chan struct{}, 1)}
		k.sems[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				k.put(key, s)
			})
		}, nil
	case <-ctx.Done():
		k.put(key, s)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) put(key string, s *keyedSem) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.sems, key)
	}
}

func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sems)
}
