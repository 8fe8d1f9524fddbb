// Package memory provides an in-memory audit sink for development and
// tests. Entries live in process memory and are lost on restart.
package memory

import (
	"sync"

	"github.com/wardenfs/warden/pkg/audit"
)

// MemorySink stores audit entries in an append-only slice.
type MemorySink struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the entry.
func (s *MemorySink) Append(entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of every stored entry, in append order.
func (s *MemorySink) Entries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByOrganization returns stored entries for one organization, in append
// order.
func (s *MemorySink) ByOrganization(orgID string) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, entry := range s.entries {
		if entry.OrganizationID == orgID {
			out = append(out, entry)
		}
	}
	return out
}
