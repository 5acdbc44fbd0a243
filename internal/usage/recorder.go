package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/errors"
	"multiapi-go/internal/events"
	"multiapi-go/internal/monitoring"
	"multiapi-go/internal/storage"
)

// Attempt is one observability record: which provider and credential
// (redacted) served an attempt, how it went, and how long it took.
type Attempt struct {
	ID        string        `json:"id"`
	Provider  string        `json:"provider"`
	KeySuffix string        `json:"credential"`
	State     string        `json:"state"`
	Success   bool          `json:"success"`
	Outcome   string        `json:"outcome"` // success, retryable_failure, permanent_failure
	Error     string        `json:"error,omitempty"`
	LatencyMS int64         `json:"latency_ms"`
	Latency   time.Duration `json:"-"`
}

// Recorder fans per-attempt events out to the observability sinks
// (logrus, prometheus, the event hub) and maintains the daily
// aggregate, persisted write-behind like the quota counters.
type Recorder struct {
	mu    sync.Mutex
	days  map[string]storage.DailyStats
	today func(time.Time) string

	store   storage.Store
	hub     events.Publisher
	writes  chan dailyWrite
	stopped chan struct{}
}

type dailyWrite struct {
	date     string
	provider string
	success  bool
}

// NewRecorder builds a Recorder. today maps a wall-clock instant to
// the quota day, so aggregates roll over at the configured reset hour
// together with the per-credential counters. store and hub may be nil.
func NewRecorder(store storage.Store, hub events.Publisher, today func(time.Time) string) *Recorder {
	if today == nil {
		today = func(now time.Time) string { return now.UTC().Format("2006-01-02") }
	}
	r := &Recorder{
		days:    make(map[string]storage.DailyStats),
		today:   today,
		store:   store,
		hub:     hub,
		writes:  make(chan dailyWrite, 256),
		stopped: make(chan struct{}),
	}
	go r.persistWorker()
	return r
}

// Load primes the in-memory aggregates from the store, so stats()
// survives a restart.
func (r *Recorder) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	days, err := r.store.ListDaily(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, day := range days {
		r.days[day.Date] = day
	}
	return nil
}

// RecordAttempt ingests one finished attempt.
func (r *Recorder) RecordAttempt(a Attempt) {
	if a.Outcome == "" {
		if a.Success {
			a.Outcome = "success"
		} else {
			a.Outcome = "retryable_failure"
		}
	}
	monitoring.AttemptsTotal.WithLabelValues(a.Provider, a.Outcome).Inc()
	monitoring.AttemptDuration.WithLabelValues(a.Provider).Observe(a.Latency.Seconds())

	entry := log.WithFields(log.Fields{
		"attempt_id": a.ID,
		"provider":   a.Provider,
		"credential": a.KeySuffix,
		"state":      a.State,
		"latency_ms": a.LatencyMS,
	})
	if a.Success {
		entry.Info("attempt succeeded")
	} else {
		entry.WithField("error", a.Error).Info("attempt failed")
	}

	date := r.today(time.Now())
	r.mu.Lock()
	day := r.days[date]
	day.Date = date
	day.TotalRequests++
	if a.Success {
		day.SuccessfulRequests++
	} else {
		day.FailedRequests++
	}
	if day.ProvidersUsed == nil {
		day.ProvidersUsed = make(map[string]int64)
	}
	day.ProvidersUsed[a.Provider]++
	r.days[date] = day
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.Publish(context.Background(), events.TopicAttemptFinished, a,
			map[string]string{"provider": a.Provider})
	}
	r.enqueue(dailyWrite{date: date, provider: a.Provider, success: a.Success})
}

func (r *Recorder) enqueue(w dailyWrite) {
	if r.store == nil {
		return
	}
	select {
	case r.writes <- w:
	default:
		monitoring.PersistFailures.Inc()
		log.Warn("daily aggregate write queue full, dropping write")
	}
}

func (r *Recorder) persistWorker() {
	defer close(r.stopped)
	for w := range r.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := r.store.IncrementDaily(ctx, w.date, w.provider, w.success)
		cancel()
		if err != nil {
			monitoring.PersistFailures.Inc()
			perr := &errors.PersistenceError{Op: "increment_daily", Err: err}
			log.WithError(perr).Warn("daily aggregate persistence failed")
		}
	}
}

// Today returns the current day's aggregate.
func (r *Recorder) Today() storage.DailyStats {
	date := r.today(time.Now())
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneDay(r.days[date], date)
}

// Snapshot returns every known day, oldest first.
func (r *Recorder) Snapshot() []storage.DailyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.DailyStats, 0, len(r.days))
	for date, day := range r.days {
		out = append(out, cloneDay(day, date))
	}
	sortDays(out)
	return out
}

func cloneDay(day storage.DailyStats, date string) storage.DailyStats {
	day.Date = date
	providers := make(map[string]int64, len(day.ProvidersUsed))
	for p, n := range day.ProvidersUsed {
		providers[p] = n
	}
	day.ProvidersUsed = providers
	return day
}

func sortDays(days []storage.DailyStats) {
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
}

// Close drains the write-behind queue and stops the worker.
func (r *Recorder) Close(ctx context.Context) error {
	close(r.writes)
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
