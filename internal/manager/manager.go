package manager

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"multiapi-go/internal/config"
	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/events"
	"multiapi-go/internal/fallback"
	"multiapi-go/internal/monitoring"
	"multiapi-go/internal/monitoring/tracing"
	"multiapi-go/internal/provider"
	"multiapi-go/internal/quota"
	"multiapi-go/internal/selector"
	"multiapi-go/internal/storage"
	"multiapi-go/internal/transport"
	"multiapi-go/internal/usage"
	"multiapi-go/internal/utils"
)

// Request is one logical completion call. Provider, when set, names the
// preferred provider to try first; the declared fallback order follows.
type Request struct {
	Payload  []byte
	Provider string
}

// Result is a successful completion: the unmodified upstream response
// plus which provider and credential (redacted) served it and the
// failures absorbed along the fallback path.
type Result struct {
	Response  *transport.Response
	Provider  string
	KeyUsed   string
	Model     string
	Absorbed  []errors.AttemptCause
	RequestMS int64
}

// Options wires a Manager. Config and Transports are required; Store
// and Hub may be nil (no persistence, no event stream). Now and Wait
// exist for tests.
type Options struct {
	Config     *config.Config
	Store      storage.Store
	Transports transport.Registry
	Hub        *events.Hub

	Now  func() time.Time
	Wait func(ctx context.Context, d time.Duration) error
}

// Manager is the facade over pools, quota, selection and fallback.
// Settings are immutable for its lifetime; ReloadCredentials only moves
// credential sets.
type Manager struct {
	settings config.Settings
	order    []provider.Provider

	pools    *credential.Pools
	tracker  *quota.Tracker
	selector *selector.Selector
	coord    *fallback.Coordinator
	recorder *usage.Recorder

	store storage.Store
	hub   *events.Hub
	now   func() time.Time

	tracer    trace.Tracer
	closeOnce sync.Once
	closeErr  error
}

// New validates the configuration, merges config credentials with live
// store state, and wires the request pipeline. Any violation surfaces
// as a ConfigurationError before the first request.
func New(opts Options) (*Manager, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, &errors.ConfigurationError{Reason: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategy, err := selector.ParseStrategy(cfg.Settings.RotationStrategy)
	if err != nil {
		return nil, &errors.ConfigurationError{Field: "rotation_strategy", Reason: err.Error()}
	}
	loc, err := utils.ParseLocation(cfg.Settings.Timezone)
	if err != nil {
		return nil, &errors.ConfigurationError{Field: "timezone", Reason: err.Error()}
	}

	order := resolveDeclaredOrder(cfg)
	// Every provider that carries keys must be servable.
	for name, records := range cfg.APIKeys {
		if len(records) == 0 {
			continue
		}
		p, perr := provider.Parse(name)
		if perr != nil {
			return nil, &errors.ConfigurationError{Field: "api_keys", Reason: perr.Error()}
		}
		if _, terr := opts.Transports.Get(p); terr != nil {
			return nil, &errors.ConfigurationError{
				Field:  "transports",
				Reason: fmt.Sprintf("provider %s has credentials but no transport", p),
			}
		}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		settings: cfg.Settings,
		order:    order,
		pools:    credential.NewPools(order),
		store:    opts.Store,
		hub:      opts.Hub,
		now:      opts.Now,
		tracer:   tracing.Tracer("manager"),
	}

	m.tracker = quota.NewTracker(quota.Options{
		Location:  loc,
		ResetHour: cfg.Settings.DailyResetHour,
		Tracking:  cfg.Settings.TrackingEnabled(),
		Store:     opts.Store,
		OnReset:   m.publishReset,
	})
	m.selector = selector.New(strategy, m.tracker)
	m.recorder = usage.NewRecorder(opts.Store, publisherOrNil(opts.Hub), m.tracker.EffectiveDate)
	if opts.Store != nil {
		loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.recorder.Load(loadCtx); err != nil {
			log.WithError(err).Warn("daily aggregates not loaded from store, starting empty")
		}
		cancel()
	}

	if err := m.loadCredentials(cfg); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.tracker.Close(closeCtx)
		_ = m.recorder.Close(closeCtx)
		return nil, err
	}

	m.coord = fallback.New(fallback.Options{
		Pools:          m.pools,
		Selector:       m.selector,
		Tracker:        m.tracker,
		Transports:     opts.Transports,
		RetryAttempts:  cfg.Settings.Attempts(),
		RetryDelay:     cfg.Settings.Delay(),
		AttemptTimeout: cfg.Settings.Timeout(),
		Now:            opts.Now,
		Wait:           opts.Wait,
		OnAttempt:      m.onAttempt,
	})

	log.WithFields(log.Fields{
		"providers":   len(order),
		"credentials": m.pools.TotalRecords(),
		"strategy":    strategy,
	}).Info("manager ready")
	return m, nil
}

// loadCredentials builds the pools from the config document merged
// with live store state: the store wins for usage/last_reset/is_active,
// the config wins for endpoint/limit/priority.
func (m *Manager) loadCredentials(cfg *config.Config) error {
	stored := make(map[string]credential.State)
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		states, err := m.store.ListCredentials(ctx)
		if err != nil {
			log.WithError(err).Warn("store unavailable at startup, using config state")
		}
		for _, st := range states {
			stored[st.Provider+"\x00"+st.Identifier] = st
		}
	}

	for name, states := range cfg.APIKeys {
		p, err := provider.Parse(name)
		if err != nil {
			return &errors.ConfigurationError{Field: "api_keys", Reason: err.Error()}
		}
		pool, ok := m.pools.Get(p)
		if !ok {
			return &errors.ConfigurationError{
				Field:  "provider_order",
				Reason: fmt.Sprintf("provider %s has credentials but is not in the order", p),
			}
		}
		for _, st := range states {
			if live, ok := stored[name+"\x00"+st.Identifier]; ok {
				st.CurrentUsage = live.CurrentUsage
				st.LastReset = live.LastReset
				st.IsActive = live.IsActive
			}
			rec, err := credential.FromState(st)
			if err != nil {
				return &errors.ConfigurationError{Field: "api_keys." + name, Reason: err.Error()}
			}
			if err := pool.Add(rec); err != nil {
				return &errors.ConfigurationError{Field: "api_keys." + name, Reason: err.Error()}
			}
		}
	}
	return nil
}

// Complete runs one logical request through selection, transport and
// fallback. The error is a ConfigurationError for an unknown preferred
// provider, the context's error on cancellation, or one ExhaustedError.
func (m *Manager) Complete(ctx context.Context, req Request) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "manager.Complete")
	defer span.End()

	order, err := m.resolveOrder(req.Provider)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("preferred", req.Provider))

	start := time.Now()
	outcome, err := m.coord.Run(ctx, order, req.Payload)
	elapsed := time.Since(start)

	if err != nil {
		monitoring.RequestDuration.WithLabelValues("none", "error").Observe(elapsed.Seconds())
		span.RecordError(err)
		return nil, err
	}

	monitoring.RequestDuration.
		WithLabelValues(outcome.Provider.String(), strconv.Itoa(outcome.Response.Status)).
		Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("provider", outcome.Provider.String()),
		attribute.Int("absorbed_failures", len(outcome.Absorbed)),
	)
	if outcome.Provider != order[0] {
		monitoring.ProviderSwitches.
			WithLabelValues(order[0].String(), outcome.Provider.String()).Inc()
	}

	return &Result{
		Response:  outcome.Response,
		Provider:  outcome.Provider.String(),
		KeyUsed:   outcome.KeySuffix,
		Model:     outcome.Response.Model,
		Absorbed:  outcome.Absorbed,
		RequestMS: elapsed.Milliseconds(),
	}, nil
}

// resolveOrder places the preferred provider first, then the declared
// order minus the preferred, order preserved.
func (m *Manager) resolveOrder(preferred string) ([]provider.Provider, error) {
	if preferred == "" {
		return m.order, nil
	}
	p, err := provider.Parse(preferred)
	if err != nil {
		return nil, &errors.ConfigurationError{Field: "provider", Reason: err.Error()}
	}
	out := make([]provider.Provider, 0, len(m.order))
	out = append(out, p)
	for _, o := range m.order {
		if o != p {
			out = append(out, o)
		}
	}
	return out, nil
}

// onAttempt feeds each finished transport attempt to the recorder.
func (m *Manager) onAttempt(ev fallback.AttemptEvent) {
	a := usage.Attempt{
		ID:        ev.ID,
		Provider:  ev.Provider.String(),
		KeySuffix: ev.KeySuffix,
		State:     string(ev.State),
		Success:   ev.Success,
		Latency:   ev.Latency,
		LatencyMS: ev.Latency.Milliseconds(),
	}
	if ev.Err != nil {
		a.Error = ev.Err.Error()
		if errors.IsRetryable(ev.Err) {
			a.Outcome = "retryable_failure"
		} else {
			a.Outcome = "permanent_failure"
		}
	}
	m.recorder.RecordAttempt(a)
}

func (m *Manager) publishReset(providerName, suffix, date string) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(context.Background(), events.TopicUsageReset, map[string]string{
		"provider":   providerName,
		"credential": suffix,
		"date":       date,
	}, nil)
}

func publisherOrNil(hub *events.Hub) events.Publisher {
	if hub == nil {
		return nil
	}
	return hub
}

func resolveDeclaredOrder(cfg *config.Config) []provider.Provider {
	order := cfg.ProviderOrderParsed()
	seen := make(map[provider.Provider]bool, len(order))
	for _, p := range order {
		seen[p] = true
	}
	// Providers that carry keys but were left out of a custom order are
	// appended so their credentials are not stranded.
	for _, p := range provider.DefaultOrder {
		if seen[p] {
			continue
		}
		if len(cfg.APIKeys[p.String()]) > 0 {
			order = append(order, p)
			log.WithField("provider", p).Warn("provider has credentials but is missing from provider_order, appending")
		}
	}
	return order
}

// Order returns the declared fallback order.
func (m *Manager) Order() []provider.Provider {
	out := make([]provider.Provider, len(m.order))
	copy(out, m.order)
	return out
}

// Flush drains the write-behind queues.
func (m *Manager) Flush(ctx context.Context) error {
	return m.tracker.Flush(ctx)
}

// Close stops the background workers after draining queued writes.
// Safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		if err := m.tracker.Close(ctx); err != nil {
			m.closeErr = err
		}
		if err := m.recorder.Close(ctx); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	})
	return m.closeErr
}
