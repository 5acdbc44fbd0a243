package manager

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/events"
	"multiapi-go/internal/provider"
)

// AddCredential validates and appends a new record to its provider's
// pool, persists it, and publishes credentials.changed. Duplicate
// identifiers within the pool are rejected.
func (m *Manager) AddCredential(ctx context.Context, st credential.State) error {
	rec, err := credential.FromState(st)
	if err != nil {
		return err
	}
	pool, ok := m.pools.Get(rec.Provider)
	if !ok {
		return &errors.ConfigurationError{
			Field:  "provider",
			Reason: fmt.Sprintf("provider %s is not in the configured order", rec.Provider),
		}
	}
	if err := pool.Add(rec); err != nil {
		return err
	}

	m.persistSave(ctx, rec.State())
	m.publishChange("added", rec.Provider, rec.Suffix())
	log.WithFields(log.Fields{
		"provider":   rec.Provider,
		"credential": rec.Suffix(),
	}).Info("credential added")
	return nil
}

// RemoveCredential removes the first record in the provider's pool
// whose identifier ends with suffix.
func (m *Manager) RemoveCredential(ctx context.Context, providerName, suffix string) error {
	p, pool, err := m.adminPool(providerName)
	if err != nil {
		return err
	}
	st, ok := pool.RemoveBySuffix(suffix)
	if !ok {
		return fmt.Errorf("no %s credential matches suffix %q", p, suffix)
	}

	if m.store != nil {
		if err := m.store.DeleteCredential(ctx, st.Provider, st.Identifier); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"provider":   st.Provider,
				"credential": credential.RedactIdentifier(st.Identifier),
			}).Warn("credential delete not persisted")
		}
	}
	m.publishChange("removed", p, credential.RedactIdentifier(st.Identifier))
	log.WithFields(log.Fields{
		"provider":   p,
		"credential": credential.RedactIdentifier(st.Identifier),
	}).Info("credential removed")
	return nil
}

// SetActive flips the administrative flag on the first record whose
// identifier ends with suffix. A full identifier matches as its own
// suffix.
func (m *Manager) SetActive(ctx context.Context, providerName, suffix string, active bool) error {
	p, pool, err := m.adminPool(providerName)
	if err != nil {
		return err
	}
	st, ok := pool.SetActiveBySuffix(suffix, active)
	if !ok {
		return fmt.Errorf("no %s credential matches suffix %q", p, suffix)
	}

	m.persistSave(ctx, st)
	action := "disabled"
	if active {
		action = "enabled"
	}
	m.publishChange(action, p, credential.RedactIdentifier(st.Identifier))
	log.WithFields(log.Fields{
		"provider":   p,
		"credential": credential.RedactIdentifier(st.Identifier),
		"active":     active,
	}).Info("credential toggled")
	return nil
}

func (m *Manager) adminPool(providerName string) (provider.Provider, *credential.Pool, error) {
	p, err := provider.Parse(providerName)
	if err != nil {
		return "", nil, &errors.ConfigurationError{Field: "provider", Reason: err.Error()}
	}
	pool, ok := m.pools.Get(p)
	if !ok {
		return "", nil, &errors.ConfigurationError{
			Field:  "provider",
			Reason: fmt.Sprintf("provider %s is not in the configured order", p),
		}
	}
	return p, pool, nil
}

func (m *Manager) persistSave(ctx context.Context, st credential.State) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveCredential(ctx, st); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider":   st.Provider,
			"credential": credential.RedactIdentifier(st.Identifier),
		}).Warn("credential save not persisted")
	}
}

func (m *Manager) publishChange(action string, p provider.Provider, suffix string) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(context.Background(), events.TopicCredentialsChanged, map[string]string{
		"action":     action,
		"provider":   p.String(),
		"credential": suffix,
	}, nil)
}
