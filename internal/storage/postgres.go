package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/migrations"
)

// PostgresStore backs credential state and daily aggregates with two
// tables managed by the embedded migrations. Daily usage is kept one
// row per (date, provider) so an increment stays a single upsert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Initialize(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := migrations.PostgresUp(p.db); err != nil {
		return fmt.Errorf("postgres store: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) ListCredentials(ctx context.Context) ([]credential.State, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `
		SELECT provider, identifier, endpoint, daily_limit, current_usage, last_reset, is_active, priority
		FROM credentials
		ORDER BY provider, identifier`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list credentials: %w", err)
	}
	defer rows.Close()

	var out []credential.State
	for rows.Next() {
		var st credential.State
		var active bool
		if err := rows.Scan(&st.Provider, &st.Identifier, &st.Endpoint,
			&st.DailyLimit, &st.CurrentUsage, &st.LastReset, &active, &st.Priority); err != nil {
			return nil, fmt.Errorf("postgres store: scan credential: %w", err)
		}
		st.IsActive = &active
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveCredential(ctx context.Context, st credential.State) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	active := st.IsActive == nil || *st.IsActive
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credentials (provider, identifier, endpoint, daily_limit, current_usage, last_reset, is_active, priority, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (provider, identifier) DO UPDATE SET
			endpoint = EXCLUDED.endpoint,
			daily_limit = EXCLUDED.daily_limit,
			current_usage = EXCLUDED.current_usage,
			last_reset = EXCLUDED.last_reset,
			is_active = EXCLUDED.is_active,
			priority = EXCLUDED.priority,
			updated_at = now()`,
		st.Provider, st.Identifier, st.Endpoint, st.DailyLimit,
		st.CurrentUsage, st.LastReset, active, st.Priority)
	if err != nil {
		return fmt.Errorf("postgres store: save credential: %w", err)
	}
	return nil
}

func (p *PostgresStore) UpdateUsage(ctx context.Context, provider, identifier string, usage int, lastReset string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := p.db.ExecContext(ctx, `
		UPDATE credentials
		SET current_usage = $3, last_reset = $4, updated_at = now()
		WHERE provider = $1 AND identifier = $2`,
		provider, identifier, usage, lastReset)
	if err != nil {
		return fmt.Errorf("postgres store: update usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	return nil
}

func (p *PostgresStore) DeleteCredential(ctx context.Context, provider, identifier string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE provider = $1 AND identifier = $2`,
		provider, identifier)
	if err != nil {
		return fmt.Errorf("postgres store: delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	return nil
}

func (p *PostgresStore) IncrementDaily(ctx context.Context, date, provider string, success bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	successInc, failedInc := 0, 1
	if success {
		successInc, failedInc = 1, 0
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO daily_usage (date, provider, total, success, failed)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (date, provider) DO UPDATE SET
			total = daily_usage.total + 1,
			success = daily_usage.success + $3,
			failed = daily_usage.failed + $4`,
		date, provider, successInc, failedInc)
	if err != nil {
		return fmt.Errorf("postgres store: increment daily: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDaily(ctx context.Context, date string) (DailyStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `
		SELECT provider, total, success, failed
		FROM daily_usage
		WHERE date = $1`, date)
	if err != nil {
		return DailyStats{}, fmt.Errorf("postgres store: get daily: %w", err)
	}
	defer rows.Close()

	day := DailyStats{Date: date, ProvidersUsed: make(map[string]int64)}
	found := false
	for rows.Next() {
		var provider string
		var total, success, failed int64
		if err := rows.Scan(&provider, &total, &success, &failed); err != nil {
			return DailyStats{}, fmt.Errorf("postgres store: scan daily: %w", err)
		}
		found = true
		day.TotalRequests += total
		day.SuccessfulRequests += success
		day.FailedRequests += failed
		day.ProvidersUsed[provider] += total
	}
	if err := rows.Err(); err != nil {
		return DailyStats{}, err
	}
	if !found {
		return DailyStats{}, &ErrNotFound{Key: date}
	}
	return day, nil
}

func (p *PostgresStore) ListDaily(ctx context.Context) ([]DailyStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `
		SELECT date, provider, total, success, failed
		FROM daily_usage
		ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list daily: %w", err)
	}
	defer rows.Close()

	byDate := make(map[string]*DailyStats)
	var order []string
	for rows.Next() {
		var date, provider string
		var total, success, failed int64
		if err := rows.Scan(&date, &provider, &total, &success, &failed); err != nil {
			return nil, fmt.Errorf("postgres store: scan daily: %w", err)
		}
		day, ok := byDate[date]
		if !ok {
			day = &DailyStats{Date: date, ProvidersUsed: make(map[string]int64)}
			byDate[date] = day
			order = append(order, date)
		}
		day.TotalRequests += total
		day.SuccessfulRequests += success
		day.FailedRequests += failed
		day.ProvidersUsed[provider] += total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]DailyStats, 0, len(order))
	for _, date := range order {
		out = append(out, *byDate[date])
	}
	return out, nil
}

func (p *PostgresStore) ExportData(ctx context.Context) (*Export, error) {
	creds, err := p.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := p.ListDaily(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{ExportedAt: time.Now().UTC(), Credentials: creds, Daily: daily}, nil
}

func (p *PostgresStore) ImportData(ctx context.Context, data *Export) error {
	for _, st := range data.Credentials {
		if err := p.SaveCredential(ctx, st); err != nil {
			return err
		}
	}
	opCtx, cancel := withOpTimeout(ctx)
	defer cancel()
	tx, err := p.db.BeginTx(opCtx, nil)
	if err != nil {
		return fmt.Errorf("postgres store: import: %w", err)
	}
	defer tx.Rollback()
	for _, day := range data.Daily {
		// Attribute successes and failures to the first provider slot;
		// per-provider split of outcomes is not kept in the export shape.
		first := true
		for provider, n := range day.ProvidersUsed {
			success, failed := int64(0), int64(0)
			if first {
				success, failed = day.SuccessfulRequests, day.FailedRequests
				first = false
			}
			if _, err := tx.ExecContext(opCtx, `
				INSERT INTO daily_usage (date, provider, total, success, failed)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (date, provider) DO UPDATE SET
					total = EXCLUDED.total,
					success = EXCLUDED.success,
					failed = EXCLUDED.failed`,
				day.Date, provider, n, success, failed); err != nil {
				return fmt.Errorf("postgres store: import daily: %w", err)
			}
		}
	}
	return tx.Commit()
}
