package recovery

import (
	"sync"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// resourceSet is an insertion-ordered set keyed by address. The first
// resource recorded for an address wins.
type resourceSet struct {
	mu    sync.Mutex
	index map[string]struct{}
	items []*crawler.Resource
}

func newResourceSet() *resourceSet {
	return &resourceSet{index: make(map[string]struct{})}
}

func (s *resourceSet) add(r *crawler.Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[r.URL]; ok {
		return false
	}
	s.index[r.URL] = struct{}{}
	s.items = append(s.items, r)
	return true
}

func (s *resourceSet) snapshot() []*crawler.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*crawler.Resource, len(s.items))
	copy(out, s.items)
	return out
}

func (s *resourceSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
