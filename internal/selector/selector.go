package selector

import (
	"fmt"
	"strings"
	"time"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/quota"
)

// Strategy names the rotation policy applied within one provider pool.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Priority   Strategy = "priority"
	UsageBased Strategy = "usage_based"
)

// ParseStrategy normalizes a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case RoundRobin, Priority, UsageBased:
		return st, nil
	case "":
		return RoundRobin, nil
	}
	return "", fmt.Errorf("unknown rotation strategy %q", s)
}

// Selector picks the next credential from a pool under the configured
// strategy. It reads quota state through the tracker and never commits
// usage; the one mutation it performs is reserving the chosen record,
// so the eligibility check and the admission are a single atomic unit.
type Selector struct {
	strategy Strategy
	tracker  *quota.Tracker
}

func New(strategy Strategy, tracker *quota.Tracker) *Selector {
	return &Selector{strategy: strategy, tracker: tracker}
}

func (s *Selector) Strategy() Strategy { return s.strategy }

// Select returns an eligible record from the pool, already reserved
// against its daily limit. The caller must end the attempt with
// Commit or Release on the same pool. Returns
// NoEligibleCredentialError when a full scan finds nothing.
func (s *Selector) Select(pool *credential.Pool, now time.Time) (*credential.Record, error) {
	var picked *credential.Record
	pool.Update(func(records []*credential.Record, cursor int) int {
		switch s.strategy {
		case Priority:
			picked = s.pickPriority(records, now)
		case UsageBased:
			picked = s.pickUsageBased(records, now)
		default:
			picked, cursor = s.pickRoundRobin(records, cursor, now)
		}
		if picked != nil {
			s.tracker.Reserve(picked)
		}
		return cursor
	})
	if picked == nil {
		return nil, &errors.NoEligibleCredentialError{Provider: pool.Provider()}
	}
	return picked, nil
}

// pickRoundRobin scans at most one full cycle starting at the cursor
// and moves the cursor just past the returned slot, so ineligible
// records are skipped without ever looping.
func (s *Selector) pickRoundRobin(records []*credential.Record, cursor int, now time.Time) (*credential.Record, int) {
	n := len(records)
	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		if s.tracker.Eligible(records[idx], now) {
			return records[idx], idx + 1
		}
	}
	return nil, cursor
}

// pickPriority returns the highest-priority eligible record; insertion
// order breaks ties, so results are deterministic.
func (s *Selector) pickPriority(records []*credential.Record, now time.Time) *credential.Record {
	var best *credential.Record
	for _, r := range records {
		if !s.tracker.Eligible(r, now) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}

// pickUsageBased returns the eligible record with the lowest
// usage/limit ratio. Ratios are compared cross-multiplied in integers
// so equal ratios tie exactly and fall back to insertion order.
func (s *Selector) pickUsageBased(records []*credential.Record, now time.Time) *credential.Record {
	var best *credential.Record
	for _, r := range records {
		if !s.tracker.Eligible(r, now) {
			continue
		}
		if best == nil || r.CurrentUsage*best.DailyLimit < best.CurrentUsage*r.DailyLimit {
			best = r
		}
	}
	return best
}
