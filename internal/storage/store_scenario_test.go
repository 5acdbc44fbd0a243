package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"multiapi-go/internal/credential"
)

// storeScenario runs the conformance checks every backend must pass.
func storeScenario(t *testing.T, ctx context.Context, s Store) {
	t.Helper()
	active := true

	require.NoError(t, s.SaveCredential(ctx, credential.State{
		Identifier: "sk-test-openai-aaaa1111",
		Provider:   "openai",
		DailyLimit: 100,
		IsActive:   &active,
		Priority:   2,
	}))
	require.NoError(t, s.SaveCredential(ctx, credential.State{
		Identifier: "sk-ant-test-bbbb2222",
		Provider:   "anthropic",
		DailyLimit: 50,
		IsActive:   &active,
		Priority:   1,
	}))

	creds, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 2)

	require.NoError(t, s.UpdateUsage(ctx, "openai", "sk-test-openai-aaaa1111", 7, "2026-08-27"))
	creds, err = s.ListCredentials(ctx)
	require.NoError(t, err)
	var found bool
	for _, st := range creds {
		if st.Provider == "openai" {
			found = true
			require.Equal(t, 7, st.CurrentUsage)
			require.Equal(t, "2026-08-27", st.LastReset)
		}
	}
	require.True(t, found)

	err = s.UpdateUsage(ctx, "openai", "sk-never-stored", 1, "2026-08-27")
	require.True(t, IsNotFound(err), "expected not-found, got %v", err)

	require.NoError(t, s.IncrementDaily(ctx, "2026-08-27", "openai", true))
	require.NoError(t, s.IncrementDaily(ctx, "2026-08-27", "openai", false))
	require.NoError(t, s.IncrementDaily(ctx, "2026-08-27", "anthropic", true))
	require.NoError(t, s.IncrementDaily(ctx, "2026-08-26", "openai", true))

	day, err := s.GetDaily(ctx, "2026-08-27")
	require.NoError(t, err)
	require.EqualValues(t, 3, day.TotalRequests)
	require.EqualValues(t, 2, day.SuccessfulRequests)
	require.EqualValues(t, 1, day.FailedRequests)
	require.EqualValues(t, 2, day.ProvidersUsed["openai"])
	require.EqualValues(t, 1, day.ProvidersUsed["anthropic"])

	_, err = s.GetDaily(ctx, "2020-01-01")
	require.True(t, IsNotFound(err))

	days, err := s.ListDaily(ctx)
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, "2026-08-26", days[0].Date)
	require.Equal(t, "2026-08-27", days[1].Date)

	dump, err := s.ExportData(ctx)
	require.NoError(t, err)
	require.Len(t, dump.Credentials, 2)
	require.Len(t, dump.Daily, 2)
	require.False(t, dump.ExportedAt.IsZero())

	require.NoError(t, s.DeleteCredential(ctx, "anthropic", "sk-ant-test-bbbb2222"))
	creds, err = s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)

	err = s.DeleteCredential(ctx, "anthropic", "sk-ant-test-bbbb2222")
	require.True(t, IsNotFound(err))

	require.NoError(t, s.ImportData(ctx, dump))
	creds, err = s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 2)
}
