package credential

import "multiapi-go/internal/provider"

// Pools is the fixed per-provider pool set. The set of providers and
// their declared order are decided at construction and never change;
// only pool contents do.
type Pools struct {
	order []provider.Provider
	byKey map[provider.Provider]*Pool
}

// NewPools builds one empty pool per provider in the declared order.
// Duplicates in the order are collapsed, keeping the first position.
func NewPools(order []provider.Provider) *Pools {
	ps := &Pools{byKey: make(map[provider.Provider]*Pool, len(order))}
	for _, p := range order {
		if _, dup := ps.byKey[p]; dup {
			continue
		}
		ps.byKey[p] = NewPool(p)
		ps.order = append(ps.order, p)
	}
	return ps
}

// Get returns the pool for a provider, if that provider is configured.
func (ps *Pools) Get(p provider.Provider) (*Pool, bool) {
	pool, ok := ps.byKey[p]
	return pool, ok
}

// Order returns a copy of the declared provider order.
func (ps *Pools) Order() []provider.Provider {
	out := make([]provider.Provider, len(ps.order))
	copy(out, ps.order)
	return out
}

// Snapshot captures every pool's records.
func (ps *Pools) Snapshot() map[provider.Provider][]State {
	out := make(map[provider.Provider][]State, len(ps.order))
	for _, p := range ps.order {
		out[p] = ps.byKey[p].Snapshot()
	}
	return out
}

// TotalRecords counts records across all pools.
func (ps *Pools) TotalRecords() int {
	n := 0
	for _, pool := range ps.byKey {
		n += pool.Len()
	}
	return n
}
