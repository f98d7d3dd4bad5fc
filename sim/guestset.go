package sim

import (
	"github.com/emirpasic/gods/maps/treemap"
)

// GuestSet is a set of guests kept in the total order of their GuestKey.
// Keys are snapshots, so a guest's position never changes after insertion.
type GuestSet struct {
	tree *treemap.Map
}

// NewGuestSet returns an empty set.
func NewGuestSet() *GuestSet {
	return &GuestSet{tree: treemap.NewWith(func(a, b interface{}) int {
		return CompareGuestKeys(a.(GuestKey), b.(GuestKey))
	})}
}

// Add inserts g; adding a guest twice is a no-op.
func (s *GuestSet) Add(g *Guest) { s.tree.Put(g.Key(), g) }

// Remove deletes g if present.
func (s *GuestSet) Remove(g *Guest) { s.tree.Remove(g.Key()) }

// Contains reports membership.
func (s *GuestSet) Contains(g *Guest) bool {
	_, ok := s.tree.Get(g.Key())
	return ok
}

// Len returns the number of guests.
func (s *GuestSet) Len() int { return s.tree.Size() }

// First returns the most important guest, or nil.
func (s *GuestSet) First() *Guest {
	_, v := s.tree.Min()
	if v == nil {
		return nil
	}
	return v.(*Guest)
}

// Last returns the least important guest, or nil.
func (s *GuestSet) Last() *Guest {
	_, v := s.tree.Max()
	if v == nil {
		return nil
	}
	return v.(*Guest)
}

// Items returns the guests from most to least important.
func (s *GuestSet) Items() []*Guest {
	values := s.tree.Values()
	out := make([]*Guest, len(values))
	for i, v := range values {
		out[i] = v.(*Guest)
	}
	return out
}
