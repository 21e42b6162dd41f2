package messaging

import "sync"

// recentSet remembers the last max keys in insertion order.
type recentSet struct {
	mu    sync.Mutex
	items map[string]struct{}
	order []string
	max   int
}

func newRecentSet(max int) *recentSet {
	return &recentSet{items: make(map[string]struct{}, max), max: max}
}

// add reports false when key was already present.
func (s *recentSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.max {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
	return true
}
