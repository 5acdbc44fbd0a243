package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiapi-go/internal/events"
	"multiapi-go/internal/storage"
)

func fixedToday(time.Time) string { return "2026-03-10" }

func TestRecordAttemptAggregates(t *testing.T) {
	rec := NewRecorder(nil, nil, fixedToday)
	defer rec.Close(context.Background())

	rec.RecordAttempt(Attempt{Provider: "openai", Success: true, Latency: 120 * time.Millisecond})
	rec.RecordAttempt(Attempt{Provider: "openai", Success: false, Error: "rate limited"})
	rec.RecordAttempt(Attempt{Provider: "anthropic", Success: true})

	day := rec.Today()
	assert.Equal(t, "2026-03-10", day.Date)
	assert.EqualValues(t, 3, day.TotalRequests)
	assert.EqualValues(t, 2, day.SuccessfulRequests)
	assert.EqualValues(t, 1, day.FailedRequests)
	assert.EqualValues(t, 2, day.ProvidersUsed["openai"])
	assert.EqualValues(t, 1, day.ProvidersUsed["anthropic"])
}

func TestRecordAttemptPublishesToHub(t *testing.T) {
	hub := events.NewHub()
	var got []events.Event
	hub.Subscribe(events.TopicAttemptFinished, func(_ context.Context, ev events.Event) {
		got = append(got, ev)
	})

	rec := NewRecorder(nil, hub, fixedToday)
	defer rec.Close(context.Background())

	rec.RecordAttempt(Attempt{ID: "a-1", Provider: "google", KeySuffix: "...abcd1234", Success: true})

	require.Len(t, got, 1)
	attempt, ok := got[0].Payload.(Attempt)
	require.True(t, ok)
	assert.Equal(t, "a-1", attempt.ID)
	assert.Equal(t, "...abcd1234", attempt.KeySuffix)
	assert.Equal(t, "google", got[0].Metadata["provider"])
}

func TestRecorderPersistsDaily(t *testing.T) {
	store := storage.NewFileStore(t.TempDir() + "/api_config.json")
	require.NoError(t, store.Initialize(context.Background()))

	rec := NewRecorder(store, nil, fixedToday)
	rec.RecordAttempt(Attempt{Provider: "openai", Success: true})
	rec.RecordAttempt(Attempt{Provider: "openai", Success: false})
	require.NoError(t, rec.Close(context.Background()))

	day, err := store.GetDaily(context.Background(), "2026-03-10")
	require.NoError(t, err)
	assert.EqualValues(t, 2, day.TotalRequests)
	assert.EqualValues(t, 1, day.SuccessfulRequests)
	assert.EqualValues(t, 1, day.FailedRequests)
}

func TestRecorderLoad(t *testing.T) {
	store := storage.NewFileStore(t.TempDir() + "/api_config.json")
	require.NoError(t, store.Initialize(context.Background()))
	require.NoError(t, store.IncrementDaily(context.Background(), "2026-03-09", "openai", true))

	rec := NewRecorder(store, nil, fixedToday)
	defer rec.Close(context.Background())
	require.NoError(t, rec.Load(context.Background()))

	days := rec.Snapshot()
	require.Len(t, days, 1)
	assert.Equal(t, "2026-03-09", days[0].Date)
	assert.EqualValues(t, 1, days[0].TotalRequests)
}

func TestSnapshotIsACopy(t *testing.T) {
	rec := NewRecorder(nil, nil, fixedToday)
	defer rec.Close(context.Background())
	rec.RecordAttempt(Attempt{Provider: "openai", Success: true})

	snap := rec.Today()
	snap.ProvidersUsed["openai"] = 99

	assert.EqualValues(t, 1, rec.Today().ProvidersUsed["openai"])
}
