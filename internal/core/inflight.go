package core

import (
	"sync"
	"sync/atomic"
)

// inflightSet holds the ids currently owned by a worker of one host.
type inflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[string]struct{})}
}

// TryAdd claims id and reports false if it is already claimed.
func (s *inflightSet) TryAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inflightSet) Remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *inflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// claim is a worker's hold on a parallelism slot and an in-flight id. It is
// shared with the goroutine running Fetch and the chain, and released only
// after every holder is done, so a stage left running past ResourceTimeout
// keeps both.
type claim struct {
	holders atomic.Int32
	release func()
}

func newClaim(release func()) *claim {
	c := &claim{release: release}
	c.holders.Store(1)
	return c
}

func (c *claim) hold() {
	c.holders.Add(1)
}

func (c *claim) done() {
	if c.holders.Add(-1) == 0 {
		c.release()
	}
}
