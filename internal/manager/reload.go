package manager

import (
	"context"
	"reflect"

	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/config"
	"multiapi-go/internal/credential"
	"multiapi-go/internal/events"
)

// ReloadCredentials applies a changed config document to the live
// pools: new identifiers are added, endpoint/limit/priority of existing
// ones are updated in place, absent ones are dropped. Usage state of
// surviving records is preserved. Settings never change at runtime;
// differences are logged and require a restart.
func (m *Manager) ReloadCredentials(ctx context.Context, cfg *config.Config) error {
	if !reflect.DeepEqual(m.settings, cfg.Settings) {
		log.Warn("settings changed in config file; settings are fixed at startup, restart to apply")
	}

	added, updated, removed := 0, 0, 0
	for _, p := range m.order {
		pool, ok := m.pools.Get(p)
		if !ok {
			continue
		}
		desired := make(map[string]credential.State)
		for _, st := range cfg.APIKeys[p.String()] {
			desired[st.Identifier] = st
		}

		// Update survivors in place, note which identifiers exist.
		existing := make(map[string]bool)
		pool.Do(func(records []*credential.Record) {
			for _, r := range records {
				existing[r.Identifier] = true
				st, ok := desired[r.Identifier]
				if !ok {
					continue
				}
				limit := st.DailyLimit
				if limit == 0 {
					limit = credential.DefaultDailyLimit
				}
				priority := st.Priority
				if priority == 0 {
					priority = credential.DefaultPriority
				}
				if r.Endpoint != st.Endpoint || r.DailyLimit != limit || r.Priority != priority {
					r.Endpoint = st.Endpoint
					r.DailyLimit = limit
					r.Priority = priority
					updated++
				}
			}
		})

		// Drop records the document no longer carries.
		for id := range existing {
			if _, keep := desired[id]; keep {
				continue
			}
			if st, ok := pool.RemoveByIdentifier(id); ok {
				removed++
				if m.store != nil {
					if err := m.store.DeleteCredential(ctx, st.Provider, st.Identifier); err != nil {
						log.WithError(err).Warn("reload: credential delete not persisted")
					}
				}
			}
		}

		// Add the new ones, insertion order from the document.
		for _, st := range cfg.APIKeys[p.String()] {
			if existing[st.Identifier] {
				continue
			}
			rec, err := credential.FromState(st)
			if err != nil {
				log.WithError(err).WithField("provider", p).Warn("reload: skipping invalid credential")
				continue
			}
			if err := pool.Add(rec); err != nil {
				log.WithError(err).WithField("provider", p).Warn("reload: skipping credential")
				continue
			}
			added++
			m.persistSave(ctx, rec.State())
		}
	}

	log.WithFields(log.Fields{
		"added":   added,
		"updated": updated,
		"removed": removed,
	}).Info("credentials reloaded")
	if m.hub != nil {
		m.hub.Publish(ctx, events.TopicConfigReloaded, map[string]int{
			"added":   added,
			"updated": updated,
			"removed": removed,
		}, nil)
	}
	return nil
}
