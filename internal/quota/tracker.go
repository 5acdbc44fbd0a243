package quota

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/monitoring"
	"multiapi-go/internal/storage"
)

// Tracker owns the quota arithmetic for credential records: daily
// resets, eligibility, and the reserve/commit/release cycle around each
// transport attempt. It never takes locks itself; every method that
// touches a record must be called inside the owning pool's critical
// section. Persistence of usage mutations is write-behind and can
// never fail a request.
type Tracker struct {
	loc       *time.Location
	resetHour int
	tracking  bool

	store   storage.Store
	writes  chan usageWrite
	stopped chan struct{}
	onReset func(provider, suffix, date string)
}

type usageWrite struct {
	provider   string
	identifier string
	usage      int
	lastReset  string
}

// writeQueueSize bounds the write-behind queue; overflow drops the
// write and counts a persistence failure, the in-memory state stays
// authoritative.
const writeQueueSize = 256

// Options configures a Tracker.
type Options struct {
	Location  *time.Location // timezone the reset hour is local to
	ResetHour int            // 0..23
	Tracking  bool           // enable_usage_tracking
	Store     storage.Store  // nil disables persistence

	// OnReset, when set, is notified after a daily reset. It runs
	// inside the pool critical section and must not block.
	OnReset func(provider, suffix, date string)
}

func NewTracker(opts Options) *Tracker {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	t := &Tracker{
		loc:       loc,
		resetHour: opts.ResetHour,
		tracking:  opts.Tracking,
		store:     opts.Store,
		writes:    make(chan usageWrite, writeQueueSize),
		stopped:   make(chan struct{}),
		onReset:   opts.OnReset,
	}
	go t.persistWorker()
	return t
}

// EffectiveDate returns the quota day now falls in: the calendar date
// in the configured timezone after shifting back by the reset hour, so
// the day rolls over at reset time rather than midnight.
func (t *Tracker) EffectiveDate(now time.Time) string {
	shifted := now.In(t.loc).Add(-time.Duration(t.resetHour) * time.Hour)
	return shifted.Format(credential.DateLayout)
}

// ApplyResetIfDue zeroes the usage counter when the effective date has
// moved past the record's last reset. Forward-only: a clock that moved
// backward never triggers a reset, so quota cannot be bypassed by
// clock manipulation. Idempotent within one day. Pool lock required.
func (t *Tracker) ApplyResetIfDue(r *credential.Record, now time.Time) bool {
	today := t.EffectiveDate(now)
	// DateLayout strings order lexicographically, so > is a date
	// comparison. An unset LastReset counts as infinitely old.
	if r.LastReset != "" && today <= r.LastReset {
		return false
	}
	if r.LastReset == "" {
		r.LastReset = today
		return false
	}
	r.CurrentUsage = 0
	r.LastReset = today
	t.enqueue(r)
	log.WithFields(log.Fields{
		"provider":   r.Provider,
		"credential": r.Suffix(),
		"date":       today,
	}).Info("daily usage reset")
	if t.onReset != nil {
		t.onReset(r.Provider.String(), r.Suffix(), today)
	}
	return true
}

// Eligible reports whether the record may serve a request right now:
// administratively active and under its daily limit with in-flight
// reservations counted in. Applies any due reset first. Pool lock
// required.
func (t *Tracker) Eligible(r *credential.Record, now time.Time) bool {
	if !r.IsActive {
		return false
	}
	t.ApplyResetIfDue(r, now)
	return r.CurrentUsage+r.InFlight() < r.DailyLimit
}

// Reserve admits one attempt against the limit. The caller must have
// checked Eligible in the same critical section. Pool lock required.
func (t *Tracker) Reserve(r *credential.Record) { r.Reserve() }

// Release gives an admission slot back after a failed or canceled
// attempt, leaving usage untouched. Pool lock required.
func (t *Tracker) Release(r *credential.Record) { r.Unreserve() }

// Commit converts a reservation into recorded usage after a successful
// attempt and enqueues the persistence write. Pool lock required.
func (t *Tracker) Commit(r *credential.Record) {
	r.Unreserve()
	if !t.tracking {
		return
	}
	r.CurrentUsage++
	monitoring.CredentialUsage.WithLabelValues(r.Provider.String(), r.Suffix()).Set(float64(r.CurrentUsage))
	t.enqueue(r)
}

// RecordUsage increments usage outside the reserve cycle. Kept for
// callers that bypass reservation (admin backfills); Commit is the
// request path. Pool lock required.
func (t *Tracker) RecordUsage(r *credential.Record) {
	if !t.tracking {
		return
	}
	r.CurrentUsage++
	t.enqueue(r)
}

func (t *Tracker) enqueue(r *credential.Record) {
	if t.store == nil || !t.tracking {
		return
	}
	w := usageWrite{
		provider:   r.Provider.String(),
		identifier: r.Identifier,
		usage:      r.CurrentUsage,
		lastReset:  r.LastReset,
	}
	select {
	case t.writes <- w:
	default:
		monitoring.PersistFailures.Inc()
		log.WithFields(log.Fields{
			"provider":   w.provider,
			"credential": credential.RedactIdentifier(w.identifier),
		}).Warn("usage write queue full, dropping write")
	}
}

func (t *Tracker) persistWorker() {
	defer close(t.stopped)
	for w := range t.writes {
		t.persist(w)
	}
}

func (t *Tracker) persist(w usageWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := t.store.UpdateUsage(ctx, w.provider, w.identifier, w.usage, w.lastReset)
	if err == nil || storage.IsNotFound(err) {
		// A removed credential may still have a write in flight;
		// nothing to update then.
		return
	}
	monitoring.PersistFailures.Inc()
	perr := &errors.PersistenceError{Op: "update_usage", Err: err}
	log.WithError(perr).WithFields(log.Fields{
		"provider":   w.provider,
		"credential": credential.RedactIdentifier(w.identifier),
	}).Warn("usage persistence failed, in-memory state stays authoritative")
}

// Flush drains queued writes. Used on shutdown and by tests; the
// request path never waits on it.
func (t *Tracker) Flush(ctx context.Context) error {
	for {
		select {
		case w, ok := <-t.writes:
			if !ok {
				return nil
			}
			t.persist(w)
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}

// Close stops the persist worker after draining what is already
// queued.
func (t *Tracker) Close(ctx context.Context) error {
	close(t.writes)
	select {
	case <-t.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
