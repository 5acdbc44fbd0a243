package config

import (
	"time"

	"multiapi-go/internal/credential"
)

// Config is the full configuration document: the credential pools, the
// rotation/retry settings, and the server and storage sections the
// binaries need. Struct tags carry both forms because the document may
// be api_config.json or a YAML equivalent.
type Config struct {
	APIKeys  map[string][]credential.State `json:"api_keys" yaml:"api_keys"`
	Settings Settings                      `json:"settings" yaml:"settings"`
	Server   Server                        `json:"server,omitempty" yaml:"server,omitempty"`
	Storage  Storage                       `json:"storage,omitempty" yaml:"storage,omitempty"`

	path string
}

// Path returns the file this configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Settings is the recognized option set. Loaded once at manager
// construction and immutable for the manager's lifetime; changing them
// means rebuilding the manager.
// RetryAttempts and EnableUsageTracking are pointers because their
// zero values (0 retries, tracking off) are legal explicit settings
// that must stay distinguishable from an absent key.
type Settings struct {
	RotationStrategy    string   `json:"rotation_strategy" yaml:"rotation_strategy"`
	RetryAttempts       *int     `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	RetryDelay          *float64 `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"` // seconds
	EnableUsageTracking *bool    `json:"enable_usage_tracking,omitempty" yaml:"enable_usage_tracking,omitempty"`
	DailyResetHour      int      `json:"daily_reset_hour" yaml:"daily_reset_hour"`
	Timezone            string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	RequestTimeout      float64  `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"` // seconds
	ProviderOrder       []string `json:"provider_order,omitempty" yaml:"provider_order,omitempty"`
	// AutoRotate is accepted for document compatibility; rotation is
	// always on.
	AutoRotate bool `json:"auto_rotate" yaml:"auto_rotate"`
}

// Attempts returns the retry budget per provider.
func (s Settings) Attempts() int {
	if s.RetryAttempts == nil {
		return DefaultRetryAttempts
	}
	return *s.RetryAttempts
}

// TrackingEnabled reports whether usage counters are maintained.
func (s Settings) TrackingEnabled() bool {
	return s.EnableUsageTracking == nil || *s.EnableUsageTracking
}

// Delay returns the base retry delay as a duration.
func (s Settings) Delay() time.Duration {
	d := DefaultRetryDelay
	if s.RetryDelay != nil {
		d = *s.RetryDelay
	}
	return time.Duration(d * float64(time.Second))
}

// Timeout returns the per-attempt transport timeout.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout * float64(time.Second))
}

// Server configures the HTTP surface of cmd/server.
type Server struct {
	Listen            string  `json:"listen,omitempty" yaml:"listen,omitempty"`
	Debug             bool    `json:"debug,omitempty" yaml:"debug,omitempty"`
	LogFile           string  `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	ManagementKey     string  `json:"management_key,omitempty" yaml:"management_key,omitempty"`
	ManagementKeyHash string  `json:"management_key_hash,omitempty" yaml:"management_key_hash,omitempty"`
	RateLimitRPS      float64 `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps,omitempty"`
	RateLimitBurst    int     `json:"rate_limit_burst,omitempty" yaml:"rate_limit_burst,omitempty"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`

	MongoURI      string `json:"mongodb_uri,omitempty" yaml:"mongodb_uri,omitempty"`
	MongoDatabase string `json:"mongodb_database,omitempty" yaml:"mongodb_database,omitempty"`

	PostgresDSN string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`

	GitDir         string `json:"git_dir,omitempty" yaml:"git_dir,omitempty"`
	GitRemoteURL   string `json:"git_remote_url,omitempty" yaml:"git_remote_url,omitempty"`
	GitBranch      string `json:"git_branch,omitempty" yaml:"git_branch,omitempty"`
	GitAuthorName  string `json:"git_author_name,omitempty" yaml:"git_author_name,omitempty"`
	GitAuthorEmail string `json:"git_author_email,omitempty" yaml:"git_author_email,omitempty"`
}

const (
	DefaultRotationStrategy = "round_robin"
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = 1.0
	DefaultRequestTimeout   = 30.0
	DefaultListen           = ":8080"
	DefaultStorageBackend   = "file"
)

// applyDefaults fills unset fields in place.
func (c *Config) applyDefaults() {
	if c.APIKeys == nil {
		c.APIKeys = make(map[string][]credential.State)
	}
	s := &c.Settings
	if s.RotationStrategy == "" {
		s.RotationStrategy = DefaultRotationStrategy
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
}
