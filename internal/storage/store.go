package storage

import (
	"context"
	"errors"
	"time"

	"multiapi-go/internal/credential"
)

// Store persists credential state and daily usage aggregates. The
// manager treats every write as best-effort: a failed write is logged
// and retried on the next mutation, never surfaced to a request.
type Store interface {
	Initialize(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error

	// Credential state. SaveCredential upserts; UpdateUsage touches an
	// existing row only and returns ErrNotFound for removed records so
	// a late usage write cannot resurrect them.
	ListCredentials(ctx context.Context) ([]credential.State, error)
	SaveCredential(ctx context.Context, st credential.State) error
	UpdateUsage(ctx context.Context, provider, identifier string, usage int, lastReset string) error
	DeleteCredential(ctx context.Context, provider, identifier string) error

	// Daily aggregates, keyed by calendar date (credential.DateLayout).
	IncrementDaily(ctx context.Context, date, provider string, success bool) error
	GetDaily(ctx context.Context, date string) (DailyStats, error)
	ListDaily(ctx context.Context) ([]DailyStats, error)

	// Backup and migration between backends.
	ExportData(ctx context.Context) (*Export, error)
	ImportData(ctx context.Context, data *Export) error
}

// DailyStats mirrors the usage_stats.json document shape.
type DailyStats struct {
	Date               string           `json:"date"`
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	ProvidersUsed      map[string]int64 `json:"providers_used"`
}

// Export is the portable dump moved between backends by credctl.
type Export struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Credentials []credential.State `json:"credentials"`
	Daily       []DailyStats       `json:"daily"`
}

// ErrNotFound is returned when a key is not present in the backend.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "key not found: " + e.Key
}

// ErrNotSupported is returned by backends that cannot perform an
// operation.
type ErrNotSupported struct {
	Operation string
}

func (e *ErrNotSupported) Error() string {
	return "operation not supported: " + e.Operation
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

const opTimeout = 5 * time.Second

// withOpTimeout bounds a single backend operation unless the caller
// already set a deadline.
func withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, opTimeout)
}
