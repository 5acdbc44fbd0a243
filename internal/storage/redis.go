package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"multiapi-go/internal/credential"
)

// RedisStore keeps credential state as JSON values and daily
// aggregates as hashes so increments stay atomic server-side.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "multiapi:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Initialize(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisStore) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) credKey(provider, identifier string) string {
	return r.prefix + "cred:" + provider + ":" + identifier
}

func (r *RedisStore) dailyKey(date string) string {
	return r.prefix + "usage:" + date
}

func (r *RedisStore) ListCredentials(ctx context.Context) ([]credential.State, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var out []credential.State
	iter := r.client.Scan(ctx, 0, r.prefix+"cred:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis store: get %s: %w", iter.Val(), err)
		}
		var st credential.State
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("redis store: decode credential: %w", err)
		}
		out = append(out, st)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store: scan credentials: %w", err)
	}
	return out, nil
}

func (r *RedisStore) SaveCredential(ctx context.Context, st credential.State) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.credKey(st.Provider, st.Identifier), data, 0).Err()
}

func (r *RedisStore) UpdateUsage(ctx context.Context, provider, identifier string, usage int, lastReset string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	key := r.credKey(provider, identifier)
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	if err != nil {
		return fmt.Errorf("redis store: get %s: %w", key, err)
	}
	var st credential.State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("redis store: decode credential: %w", err)
	}
	st.CurrentUsage = usage
	st.LastReset = lastReset
	updated, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, updated, 0).Err()
}

func (r *RedisStore) DeleteCredential(ctx context.Context, provider, identifier string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	n, err := r.client.Del(ctx, r.credKey(provider, identifier)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	return nil
}

func (r *RedisStore) IncrementDaily(ctx context.Context, date, provider string, success bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	key := r.dailyKey(date)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	if success {
		pipe.HIncrBy(ctx, key, "success", 1)
	} else {
		pipe.HIncrBy(ctx, key, "failed", 1)
	}
	pipe.HIncrBy(ctx, key, "prov:"+provider, 1)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetDaily(ctx context.Context, date string) (DailyStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	fields, err := r.client.HGetAll(ctx, r.dailyKey(date)).Result()
	if err != nil {
		return DailyStats{}, err
	}
	if len(fields) == 0 {
		return DailyStats{}, &ErrNotFound{Key: date}
	}
	return dailyFromHash(date, fields), nil
}

func (r *RedisStore) ListDaily(ctx context.Context) ([]DailyStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var out []DailyStats
	iter := r.client.Scan(ctx, 0, r.prefix+"usage:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		date := strings.TrimPrefix(key, r.prefix+"usage:")
		out = append(out, dailyFromHash(date, fields))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store: scan usage: %w", err)
	}
	sortDaily(out)
	return out, nil
}

func (r *RedisStore) ExportData(ctx context.Context) (*Export, error) {
	creds, err := r.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := r.ListDaily(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{ExportedAt: time.Now().UTC(), Credentials: creds, Daily: daily}, nil
}

func (r *RedisStore) ImportData(ctx context.Context, data *Export) error {
	for _, st := range data.Credentials {
		if err := r.SaveCredential(ctx, st); err != nil {
			return err
		}
	}
	for _, day := range data.Daily {
		key := r.dailyKey(day.Date)
		fields := map[string]interface{}{
			"total":   day.TotalRequests,
			"success": day.SuccessfulRequests,
			"failed":  day.FailedRequests,
		}
		for p, n := range day.ProvidersUsed {
			fields["prov:"+p] = n
		}
		if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
			return err
		}
	}
	return nil
}

func dailyFromHash(date string, fields map[string]string) DailyStats {
	day := DailyStats{Date: date, ProvidersUsed: make(map[string]int64)}
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case field == "total":
			day.TotalRequests = n
		case field == "success":
			day.SuccessfulRequests = n
		case field == "failed":
			day.FailedRequests = n
		case strings.HasPrefix(field, "prov:"):
			day.ProvidersUsed[strings.TrimPrefix(field, "prov:")] = n
		}
	}
	return day
}

func sortDaily(days []DailyStats) {
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
}
