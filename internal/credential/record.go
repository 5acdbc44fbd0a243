package credential

import (
	"fmt"
	"strings"

	"multiapi-go/internal/provider"
)

// DateLayout is the calendar-date form used for LastReset, both in
// memory and in every persisted document.
const DateLayout = "2006-01-02"

const (
	DefaultDailyLimit = 1000
	DefaultPriority   = 1
)

// Record is one API key plus its quota state, scoped to a single
// provider. Records are owned by a Pool; every field mutation happens
// inside that pool's critical sections.
type Record struct {
	Identifier   string
	Provider     provider.Provider
	Endpoint     string
	DailyLimit   int
	CurrentUsage int
	LastReset    string
	IsActive     bool
	Priority     int

	// pending counts in-flight reservations admitted against the
	// daily limit but not yet committed or released.
	pending int
}

// State is the persisted form of a Record. Field names follow the
// api_config.json document schema.
type State struct {
	Identifier   string `json:"key" yaml:"key"`
	Provider     string `json:"provider" yaml:"provider"`
	Endpoint     string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	DailyLimit   int    `json:"daily_limit" yaml:"daily_limit"`
	CurrentUsage int    `json:"current_usage" yaml:"current_usage"`
	LastReset    string `json:"last_reset" yaml:"last_reset"`
	IsActive     *bool  `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	Priority     int    `json:"priority" yaml:"priority"`
}

// FromState builds a Record from its persisted form, applying the
// document defaults (limit 1000, priority 1, active true) before
// validating.
func FromState(st State) (*Record, error) {
	p, err := provider.Parse(st.Provider)
	if err != nil {
		return nil, err
	}
	r := &Record{
		Identifier:   st.Identifier,
		Provider:     p,
		Endpoint:     st.Endpoint,
		DailyLimit:   st.DailyLimit,
		CurrentUsage: st.CurrentUsage,
		LastReset:    st.LastReset,
		IsActive:     st.IsActive == nil || *st.IsActive,
		Priority:     st.Priority,
	}
	if r.DailyLimit == 0 {
		r.DailyLimit = DefaultDailyLimit
	}
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the fields a record must carry before it may join a
// pool.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Identifier) == "" {
		return fmt.Errorf("credential identifier is empty")
	}
	if !provider.Valid(r.Provider) {
		return fmt.Errorf("credential %s: unknown provider %q", r.Suffix(), r.Provider)
	}
	if r.DailyLimit <= 0 {
		return fmt.Errorf("credential %s: daily_limit must be positive, got %d", r.Suffix(), r.DailyLimit)
	}
	if r.CurrentUsage < 0 {
		return fmt.Errorf("credential %s: current_usage must not be negative, got %d", r.Suffix(), r.CurrentUsage)
	}
	return nil
}

// State snapshots the record into its persisted form. Caller must hold
// the owning pool's lock.
func (r *Record) State() State {
	active := r.IsActive
	return State{
		Identifier:   r.Identifier,
		Provider:     r.Provider.String(),
		Endpoint:     r.Endpoint,
		DailyLimit:   r.DailyLimit,
		CurrentUsage: r.CurrentUsage,
		LastReset:    r.LastReset,
		IsActive:     &active,
		Priority:     r.Priority,
	}
}

// Clone returns an independent copy. Caller must hold the owning
// pool's lock.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Reserve admits one in-flight request against the limit. Pool lock
// required.
func (r *Record) Reserve() { r.pending++ }

// Unreserve returns an admission slot after a failed or canceled
// attempt. Pool lock required.
func (r *Record) Unreserve() {
	if r.pending > 0 {
		r.pending--
	}
}

// InFlight reports the current reservation count. Pool lock required.
func (r *Record) InFlight() int { return r.pending }

// ResolvedEndpoint returns the endpoint override or the provider
// default.
func (r *Record) ResolvedEndpoint() string {
	if r.Endpoint != "" {
		return r.Endpoint
	}
	return r.Provider.DefaultEndpoint()
}

// Suffix returns the redacted identifier used everywhere the record is
// logged or reported.
func (r *Record) Suffix() string { return RedactIdentifier(r.Identifier) }

// MatchesSuffix reports whether the record's identifier ends with the
// given suffix. A full identifier matches as its own suffix.
func (r *Record) MatchesSuffix(suffix string) bool {
	return suffix != "" && strings.HasSuffix(r.Identifier, suffix)
}

// RedactIdentifier keeps at most the last 8 characters, and never more
// than half of a short identifier, so key material cannot leak through
// logs or stats.
func RedactIdentifier(id string) string {
	keep := 8
	if half := len(id) / 2; half < keep {
		keep = half
	}
	return "..." + id[len(id)-keep:]
}
