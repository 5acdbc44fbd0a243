package config

import (
	"fmt"

	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
	"multiapi-go/internal/selector"
	"multiapi-go/internal/utils"
)

// Validate checks every recognized setting. Construction refuses a
// manager on the first violation, before any request is processed.
func (c *Config) Validate() error {
	s := c.Settings
	if _, err := selector.ParseStrategy(s.RotationStrategy); err != nil {
		return &errors.ConfigurationError{Field: "rotation_strategy", Reason: err.Error()}
	}
	if s.Attempts() < 0 {
		return &errors.ConfigurationError{
			Field:  "retry_attempts",
			Reason: fmt.Sprintf("must be >= 0, got %d", s.Attempts()),
		}
	}
	if s.RetryDelay != nil && *s.RetryDelay < 0 {
		return &errors.ConfigurationError{
			Field:  "retry_delay",
			Reason: fmt.Sprintf("must be >= 0 seconds, got %v", *s.RetryDelay),
		}
	}
	if s.DailyResetHour < 0 || s.DailyResetHour > 23 {
		return &errors.ConfigurationError{
			Field:  "daily_reset_hour",
			Reason: fmt.Sprintf("must be in 0..23, got %d", s.DailyResetHour),
		}
	}
	if s.RequestTimeout <= 0 {
		return &errors.ConfigurationError{
			Field:  "request_timeout",
			Reason: fmt.Sprintf("must be > 0 seconds, got %v", s.RequestTimeout),
		}
	}
	if _, err := utils.ParseLocation(s.Timezone); err != nil {
		return &errors.ConfigurationError{Field: "timezone", Reason: err.Error()}
	}
	for _, name := range s.ProviderOrder {
		if _, err := provider.Parse(name); err != nil {
			return &errors.ConfigurationError{Field: "provider_order", Reason: err.Error()}
		}
	}
	// The provider set is fixed; an unknown pool name is a typo that
	// would silently strand its keys.
	for name := range c.APIKeys {
		if _, err := provider.Parse(name); err != nil {
			return &errors.ConfigurationError{Field: "api_keys", Reason: err.Error()}
		}
	}
	switch c.Storage.Backend {
	case "file", "redis", "mongodb", "postgres", "git":
	default:
		return &errors.ConfigurationError{
			Field:  "storage.backend",
			Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend),
		}
	}
	return nil
}

// ProviderOrderParsed resolves the declared fallback order, falling
// back to the fixed default order.
func (c *Config) ProviderOrderParsed() []provider.Provider {
	if len(c.Settings.ProviderOrder) == 0 {
		out := make([]provider.Provider, len(provider.DefaultOrder))
		copy(out, provider.DefaultOrder)
		return out
	}
	out := make([]provider.Provider, 0, len(c.Settings.ProviderOrder))
	for _, name := range c.Settings.ProviderOrder {
		p, err := provider.Parse(name)
		if err != nil {
			continue // Validate already rejected unknown names
		}
		out = append(out, p)
	}
	return out
}
