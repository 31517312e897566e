package catalog

import (
	"slices"
	"sync/atomic"

	"primate-rag/internal/domain"
)

type memberSet struct {
	ids  map[string]int
	docs []domain.Document
}

// Membership is the set of live documents. Reads are lock-free; Replace
// swaps in a whole new set.
type Membership struct {
	set atomic.Pointer[memberSet]
}

var _ domain.MembershipFeed = (*Membership)(nil)

// NewMembership creates a set holding docs.
func NewMembership(docs []domain.Document) *Membership {
	m := &Membership{}
	m.Replace(docs)
	return m
}

func (m *Membership) load() *memberSet {
	if s := m.set.Load(); s != nil {
		return s
	}
	return &memberSet{}
}

// Replace makes docs the live set.
func (m *Membership) Replace(docs []domain.Document) {
	s := &memberSet{ids: make(map[string]int, len(docs)), docs: slices.Clone(docs)}
	for i, d := range s.docs {
		s.ids[d.ID] = i
	}
	m.set.Store(s)
}

// Contains reports whether id is live.
func (m *Membership) Contains(id string) bool {
	_, ok := m.load().ids[id]
	return ok
}

// IDs returns the live ids, sorted.
func (m *Membership) IDs() []string {
	s := m.load()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Documents returns the live documents in catalog order.
func (m *Membership) Documents() []domain.Document {
	return slices.Clone(m.load().docs)
}

// Lookup returns the live document with id.
func (m *Membership) Lookup(id string) (domain.Document, bool) {
	s := m.load()
	i, ok := s.ids[id]
	if !ok {
		return domain.Document{}, false
	}
	return s.docs[i], true
}

// Len returns the number of live documents.
func (m *Membership) Len() int {
	return len(m.load().ids)
}
