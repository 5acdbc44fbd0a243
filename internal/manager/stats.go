package manager

import (
	"multiapi-go/internal/credential"
	"multiapi-go/internal/monitoring"
	"multiapi-go/internal/storage"
)

// KeyStats is the reportable view of one credential.
type KeyStats struct {
	KeySuffix string `json:"key_suffix"`
	Usage     int    `json:"usage"`
	Limit     int    `json:"limit"`
	IsActive  bool   `json:"is_active"`
	LastReset string `json:"last_reset"`
	Priority  int    `json:"priority"`
}

// ProviderStats aggregates one pool.
type ProviderStats struct {
	Keys        int        `json:"keys"`
	ActiveKeys  int        `json:"active_keys"`
	TotalUsage  int        `json:"total_usage"`
	TotalLimit  int        `json:"total_limit"`
	Credentials []KeyStats `json:"credentials"`
}

// Stats is a read-only snapshot across pools plus the daily aggregate.
type Stats struct {
	Providers map[string]ProviderStats `json:"providers"`
	Today     storage.DailyStats       `json:"today"`
	Daily     []storage.DailyStats     `json:"daily"`
}

// Stats snapshots every pool under its own lock; no transport state is
// touched.
func (m *Manager) Stats() Stats {
	out := Stats{Providers: make(map[string]ProviderStats, len(m.order))}
	now := m.now()

	for _, p := range m.order {
		pool, ok := m.pools.Get(p)
		if !ok {
			continue
		}
		ps := ProviderStats{}
		eligible := 0
		pool.Do(func(records []*credential.Record) {
			for _, r := range records {
				m.tracker.ApplyResetIfDue(r, now)
				ps.Keys++
				if r.IsActive {
					ps.ActiveKeys++
				}
				if m.tracker.Eligible(r, now) {
					eligible++
				}
				ps.TotalUsage += r.CurrentUsage
				ps.TotalLimit += r.DailyLimit
				ps.Credentials = append(ps.Credentials, KeyStats{
					KeySuffix: r.Suffix(),
					Usage:     r.CurrentUsage,
					Limit:     r.DailyLimit,
					IsActive:  r.IsActive,
					LastReset: r.LastReset,
					Priority:  r.Priority,
				})
			}
		})
		monitoring.EligibleCredentials.WithLabelValues(p.String()).Set(float64(eligible))
		out.Providers[p.String()] = ps
	}

	out.Today = m.recorder.Today()
	out.Daily = m.recorder.Snapshot()
	return out
}
