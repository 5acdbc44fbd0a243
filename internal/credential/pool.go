package credential

import (
	"fmt"
	"sync"

	"multiapi-go/internal/provider"
)

// Pool holds one provider's records in insertion order together with
// the round-robin cursor. The pool mutex is the mutual-exclusion scope
// for everything inside it: selection, quota mutation, and admin
// operations on one provider serialize here without touching other
// providers.
type Pool struct {
	mu       sync.Mutex
	provider provider.Provider
	records  []*Record
	cursor   int
}

func NewPool(p provider.Provider) *Pool {
	return &Pool{provider: p}
}

func (p *Pool) Provider() provider.Provider { return p.provider }

// Update runs fn under the pool lock with direct access to the records
// and the current cursor, then stores the cursor fn returns. This is
// the critical section selections run in: reset application,
// eligibility, cursor advance and reservation form one atomic unit.
func (p *Pool) Update(fn func(records []*Record, cursor int) int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = fn(p.records, p.cursor)
	if len(p.records) == 0 {
		p.cursor = 0
	} else {
		p.cursor %= len(p.records)
		if p.cursor < 0 {
			p.cursor += len(p.records)
		}
	}
}

// Do runs fn under the pool lock without moving the cursor.
func (p *Pool) Do(fn func(records []*Record)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.records)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Add appends a record, preserving insertion order. Duplicate
// identifiers within one pool are rejected.
func (p *Pool) Add(r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Provider != p.provider {
		return fmt.Errorf("credential %s belongs to %s, pool is %s", r.Suffix(), r.Provider, p.provider)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.records {
		if existing.Identifier == r.Identifier {
			return fmt.Errorf("credential %s already present in %s pool", r.Suffix(), p.provider)
		}
	}
	p.records = append(p.records, r)
	return nil
}

// RemoveBySuffix removes the first record whose identifier ends with
// suffix and returns its final state. The cursor is adjusted so the
// rotation does not skip a neighbor.
func (p *Pool) RemoveBySuffix(suffix string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.records {
		if !r.MatchesSuffix(suffix) {
			continue
		}
		st := r.State()
		p.records = append(p.records[:i], p.records[i+1:]...)
		if i < p.cursor {
			p.cursor--
		}
		if p.cursor >= len(p.records) {
			p.cursor = 0
		}
		return st, true
	}
	return State{}, false
}

// RemoveByIdentifier removes the record whose identifier matches
// exactly. Config reload uses this; suffix matching stays an admin
// convenience, where one identifier being a suffix of another cannot
// pick the wrong record here.
func (p *Pool) RemoveByIdentifier(identifier string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.records {
		if r.Identifier != identifier {
			continue
		}
		st := r.State()
		p.records = append(p.records[:i], p.records[i+1:]...)
		if i < p.cursor {
			p.cursor--
		}
		if p.cursor >= len(p.records) {
			p.cursor = 0
		}
		return st, true
	}
	return State{}, false
}

// SetActiveBySuffix flips the administrative flag on the first record
// whose identifier ends with suffix and returns its new state.
func (p *Pool) SetActiveBySuffix(suffix string, active bool) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if r.MatchesSuffix(suffix) {
			r.IsActive = active
			return r.State(), true
		}
	}
	return State{}, false
}

// Snapshot returns value copies of every record for stats and
// persistence.
func (p *Pool) Snapshot() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r.State())
	}
	return out
}
