package fallback

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
	"multiapi-go/internal/quota"
	"multiapi-go/internal/selector"
	"multiapi-go/internal/transport"
)

// State names one step of the per-request machine.
type State string

const (
	StateAttempting    State = "attempting"
	StateRetryingSame  State = "retrying_same_provider"
	StateSwitchingProv State = "switching_provider"
	StateSucceeded     State = "succeeded"
	StateExhausted     State = "exhausted"
)

// AttemptEvent is emitted once per transport attempt for the
// observability sink. The credential appears only as its redacted
// suffix.
type AttemptEvent struct {
	ID        string
	State     State
	Provider  provider.Provider
	KeySuffix string
	Success   bool
	Err       error
	Latency   time.Duration
}

// Outcome is a successful run: the upstream response plus which
// provider and credential served it, and the failures absorbed along
// the way.
type Outcome struct {
	Response  *transport.Response
	Provider  provider.Provider
	KeySuffix string
	Absorbed  []errors.AttemptCause
}

// Options wires a Coordinator. Now and Wait exist so tests drive the
// clock and the backoff; both default to real time.
type Options struct {
	Pools      *credential.Pools
	Selector   *selector.Selector
	Tracker    *quota.Tracker
	Transports transport.Registry

	RetryAttempts  int           // extra attempts per provider after the first
	RetryDelay     time.Duration // base backoff, scaled linearly by attempt count
	AttemptTimeout time.Duration // per transport attempt; 0 means no deadline

	Now       func() time.Time
	Wait      func(ctx context.Context, d time.Duration) error
	OnAttempt func(AttemptEvent)
}

// Coordinator drives one logical request across credentials and
// providers: select, attempt, retry with linear backoff, switch
// provider, and finally aggregate every cause into one ExhaustedError.
type Coordinator struct {
	opts Options
}

func New(opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Wait == nil {
		opts.Wait = sleepWait
	}
	return &Coordinator{opts: opts}
}

// sleepWait blocks for d or until ctx is done, whichever comes first.
func sleepWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the state machine over the given provider order.
// Retryable failures are absorbed; the caller sees the first success,
// the context's error on cancellation, or one ExhaustedError carrying
// the ordered attempt causes.
func (c *Coordinator) Run(ctx context.Context, order []provider.Provider, payload []byte) (*Outcome, error) {
	var causes []errors.AttemptCause
	var skipped []*errors.NoEligibleCredentialError

	for provIdx, prov := range order {
		pool, ok := c.opts.Pools.Get(prov)
		if !ok {
			continue
		}
		tr, err := c.opts.Transports.Get(prov)
		if err != nil {
			// A configured provider without a transport cannot serve;
			// construction validates this, so it only means a pool
			// added for a provider the registry lacks.
			log.WithError(err).Warn("skipping provider without transport")
			continue
		}
		if provIdx > 0 {
			log.WithField("provider", prov).Debug("switching provider")
		}

		// Attempt counter is per provider and resets on switch.
		for attempt := 1; attempt <= c.opts.RetryAttempts+1; attempt++ {
			rec, err := c.opts.Selector.Select(pool, c.opts.Now())
			if err != nil {
				var ne *errors.NoEligibleCredentialError
				if stderrors.As(err, &ne) {
					skipped = append(skipped, ne)
				}
				break // nothing left in this pool, try the next provider
			}

			outcome, terr := c.attempt(ctx, tr, pool, rec, payload, attempt, provIdx)
			if terr == nil {
				outcome.Absorbed = causes
				return outcome, nil
			}
			if cerr := context.Cause(ctx); cerr != nil {
				return nil, cerr
			}
			if stderrors.Is(terr.err, context.Canceled) {
				return nil, context.Canceled
			}

			causes = append(causes, errors.AttemptCause{
				ID:        terr.attemptID,
				Provider:  prov,
				KeySuffix: rec.Suffix(),
				Err:       terr.err,
				Latency:   terr.latency,
			})

			if !errors.IsRetryable(terr.err) {
				// Permanent failures repeat on retry; surface now.
				return nil, &errors.ExhaustedError{Attempts: causes, Skipped: skipped}
			}
			if attempt > c.opts.RetryAttempts {
				break // retry budget for this provider is spent
			}
			if err := c.opts.Wait(ctx, c.opts.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, context.Cause(ctx)
			}
		}
	}

	return nil, &errors.ExhaustedError{Attempts: causes, Skipped: skipped}
}

// attemptFailure carries one failed attempt back to the main loop.
type attemptFailure struct {
	attemptID string
	err       error
	latency   time.Duration
}

func (f *attemptFailure) Error() string { return f.err.Error() }
func (f *attemptFailure) Unwrap() error { return f.err }

// attempt runs a single reserved transport call and settles the
// reservation: commit on success, release otherwise.
func (c *Coordinator) attempt(ctx context.Context, tr transport.Transport, pool *credential.Pool, rec *credential.Record, payload []byte, attempt, provIdx int) (*Outcome, *attemptFailure) {
	attemptID := uuid.NewString()
	state := StateAttempting
	if attempt > 1 {
		state = StateRetryingSame
	} else if provIdx > 0 {
		state = StateSwitchingProv
	}

	attemptCtx := ctx
	if c.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := tr.Complete(attemptCtx, rec, payload)
	latency := time.Since(start)

	if err == nil {
		pool.Do(func([]*credential.Record) { c.opts.Tracker.Commit(rec) })
		c.emit(AttemptEvent{
			ID:        attemptID,
			State:     StateSucceeded,
			Provider:  rec.Provider,
			KeySuffix: rec.Suffix(),
			Success:   true,
			Latency:   latency,
		})
		return &Outcome{Response: resp, Provider: rec.Provider, KeySuffix: rec.Suffix()}, nil
	}

	pool.Do(func([]*credential.Record) { c.opts.Tracker.Release(rec) })
	if stderrors.Is(err, context.Canceled) {
		// Caller walked away; no event, no usage, no cause recorded.
		return nil, &attemptFailure{attemptID: attemptID, err: err, latency: latency}
	}
	c.emit(AttemptEvent{
		ID:        attemptID,
		State:     state,
		Provider:  rec.Provider,
		KeySuffix: rec.Suffix(),
		Err:       err,
		Latency:   latency,
	})
	log.WithError(err).WithFields(log.Fields{
		"attempt_id": attemptID,
		"provider":   rec.Provider,
		"credential": rec.Suffix(),
		"attempt":    attempt,
	}).Debug("transport attempt failed")
	return nil, &attemptFailure{attemptID: attemptID, err: err, latency: latency}
}

func (c *Coordinator) emit(ev AttemptEvent) {
	if c.opts.OnAttempt != nil {
		c.opts.OnAttempt(ev)
	}
}
