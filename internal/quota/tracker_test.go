package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/provider"
)

func newRecord(t *testing.T, usage, limit int, lastReset string) *credential.Record {
	t.Helper()
	r, err := credential.FromState(credential.State{
		Identifier:   "sk-test-0123456789abcdef",
		Provider:     "openai",
		DailyLimit:   limit,
		CurrentUsage: usage,
		LastReset:    lastReset,
	})
	require.NoError(t, err)
	return r
}

func TestApplyResetIfDue(t *testing.T) {
	tr := NewTracker(Options{Tracking: true})
	defer tr.Close(context.Background())

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r := newRecord(t, 42, 100, "2026-03-09")

	assert.True(t, tr.ApplyResetIfDue(r, now))
	assert.Equal(t, 0, r.CurrentUsage)
	assert.Equal(t, "2026-03-10", r.LastReset)

	// Second call within the same day is a no-op.
	r.CurrentUsage = 7
	assert.False(t, tr.ApplyResetIfDue(r, now))
	assert.Equal(t, 7, r.CurrentUsage)
}

func TestResetIgnoresBackwardClock(t *testing.T) {
	tr := NewTracker(Options{Tracking: true})
	defer tr.Close(context.Background())

	r := newRecord(t, 99, 100, "2026-03-10")
	yesterday := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)

	assert.False(t, tr.ApplyResetIfDue(r, yesterday))
	assert.Equal(t, 99, r.CurrentUsage)
	assert.Equal(t, "2026-03-10", r.LastReset)
}

func TestResetHourShiftsTheBoundary(t *testing.T) {
	tr := NewTracker(Options{ResetHour: 6, Tracking: true})
	defer tr.Close(context.Background())

	r := newRecord(t, 50, 100, "2026-03-09")

	// 05:59 on the 10th still belongs to the 9th's quota day.
	before := time.Date(2026, 3, 10, 5, 59, 0, 0, time.UTC)
	assert.False(t, tr.ApplyResetIfDue(r, before))
	assert.Equal(t, 50, r.CurrentUsage)

	after := time.Date(2026, 3, 10, 6, 1, 0, 0, time.UTC)
	assert.True(t, tr.ApplyResetIfDue(r, after))
	assert.Equal(t, 0, r.CurrentUsage)
}

func TestResetHourUsesConfiguredTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+07:00", 7*3600)
	tr := NewTracker(Options{Location: loc, Tracking: true})
	defer tr.Close(context.Background())

	// 20:00 UTC on the 9th is already the 10th in UTC+7.
	now := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)
	r := newRecord(t, 10, 100, "2026-03-09")
	assert.True(t, tr.ApplyResetIfDue(r, now))
	assert.Equal(t, "2026-03-10", r.LastReset)
}

func TestEligible(t *testing.T) {
	tr := NewTracker(Options{Tracking: true})
	defer tr.Close(context.Background())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r := newRecord(t, 99, 100, "2026-03-10")
	assert.True(t, tr.Eligible(r, now))

	tr.Reserve(r)
	assert.False(t, tr.Eligible(r, now), "reservation counts against the limit")

	tr.Commit(r)
	assert.Equal(t, 100, r.CurrentUsage)
	assert.False(t, tr.Eligible(r, now))

	r.IsActive = false
	r.CurrentUsage = 0
	assert.False(t, tr.Eligible(r, now), "inactive records are never eligible")
}

func TestEligibleAfterPendingReset(t *testing.T) {
	tr := NewTracker(Options{Tracking: true})
	defer tr.Close(context.Background())

	// At the limit yesterday, eligible again today after the reset.
	r := newRecord(t, 100, 100, "2026-03-09")
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.True(t, tr.Eligible(r, now))
	assert.Equal(t, 0, r.CurrentUsage)
}

func TestReleaseReturnsAdmissionSlot(t *testing.T) {
	tr := NewTracker(Options{Tracking: true})
	defer tr.Close(context.Background())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r := newRecord(t, 99, 100, "2026-03-10")
	tr.Reserve(r)
	require.False(t, tr.Eligible(r, now))
	tr.Release(r)
	assert.True(t, tr.Eligible(r, now))
	assert.Equal(t, 99, r.CurrentUsage, "release never records usage")
}

func TestCommitDisabledTracking(t *testing.T) {
	tr := NewTracker(Options{Tracking: false})
	defer tr.Close(context.Background())

	r := newRecord(t, 5, 100, "2026-03-10")
	tr.Reserve(r)
	tr.Commit(r)
	assert.Equal(t, 5, r.CurrentUsage, "tracking disabled leaves the counter alone")
}

func TestQuotaInvariantUnderReserveCommit(t *testing.T) {
	tr := NewTracker(Options{Tracking: true})
	defer tr.Close(context.Background())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r := newRecord(t, 0, 5, "2026-03-10")
	admitted := 0
	for i := 0; i < 20; i++ {
		if !tr.Eligible(r, now) {
			break
		}
		tr.Reserve(r)
		tr.Commit(r)
		admitted++
	}
	assert.Equal(t, 5, admitted)
	assert.Equal(t, 5, r.CurrentUsage)
	assert.LessOrEqual(t, r.CurrentUsage, r.DailyLimit)
}

func TestEffectiveDate(t *testing.T) {
	tests := []struct {
		name string
		hour int
		now  time.Time
		want string
	}{
		{"midnight boundary", 0, time.Date(2026, 3, 10, 0, 0, 1, 0, time.UTC), "2026-03-10"},
		{"before reset hour", 4, time.Date(2026, 3, 10, 3, 59, 0, 0, time.UTC), "2026-03-09"},
		{"at reset hour", 4, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC), "2026-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(Options{ResetHour: tt.hour, Tracking: true})
			defer tr.Close(context.Background())
			assert.Equal(t, tt.want, tr.EffectiveDate(tt.now))
		})
	}
}

func TestResetNotification(t *testing.T) {
	var gotProvider, gotDate string
	tr := NewTracker(Options{
		Tracking: true,
		OnReset: func(p, _, date string) {
			gotProvider, gotDate = p, date
		},
	})
	defer tr.Close(context.Background())

	r := newRecord(t, 3, 10, "2026-03-09")
	tr.ApplyResetIfDue(r, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, provider.OpenAI.String(), gotProvider)
	assert.Equal(t, "2026-03-10", gotDate)
}
