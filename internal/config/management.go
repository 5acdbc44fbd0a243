package config

import "golang.org/x/crypto/bcrypt"

// CheckManagementKey verifies a candidate against the configured
// management credential, plain or bcrypt-hashed. An empty candidate
// never matches.
func CheckManagementKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.Server.ManagementKey != "" && candidate == cfg.Server.ManagementKey {
		return true
	}
	if cfg.Server.ManagementKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.Server.ManagementKeyHash), []byte(candidate)) == nil
	}
	return false
}

// ManagementKeyValidator returns a closure for the auth middleware.
func ManagementKeyValidator(cfg *Config) func(string) bool {
	return func(candidate string) bool {
		return CheckManagementKey(cfg, candidate)
	}
}
