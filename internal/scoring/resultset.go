package scoring

import (
	"sync"

	"github.com/sells-group/lead-scanner/internal/model"
)

// AddOutcome reports what ResultSet.Add did.
type AddOutcome int

const (
	// Added means the identity was new.
	Added AddOutcome = iota
	// Replaced means an existing lead with the same identity scored lower
	// and was swapped in place.
	Replaced
	// Duplicate means an existing lead scored at least as high; the new one
	// was dropped.
	Duplicate
)

func (o AddOutcome) String() string {
	switch o {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	default:
		return "duplicate"
	}
}

// ResultSet is an insertion-ordered collection of leads with at most one
// lead per identity key. It is safe for concurrent use.
type ResultSet struct {
	mu    sync.RWMutex
	leads []model.Lead
	index map[string]int
}

// NewResultSet creates an empty set.
func NewResultSet() *ResultSet {
	return &ResultSet{index: make(map[string]int)}
}

// Add inserts l, or keeps whichever of l and the existing duplicate scored
// higher. A replacement keeps the original position.
func (s *ResultSet) Add(l model.Lead) AddOutcome {
	key := IdentityKey(l)

	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[key]; ok {
		if l.Score > s.leads[i].Score {
			s.leads[i] = l
			return Replaced
		}
		return Duplicate
	}
	s.index[key] = len(s.leads)
	s.leads = append(s.leads, l)
	return Added
}

// Len returns the number of leads.
func (s *ResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}

// Leads returns a copy of the leads in insertion order.
func (s *ResultSet) Leads() []model.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Lead, len(s.leads))
	copy(out, s.leads)
	return out
}
