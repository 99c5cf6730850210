package store_test

import (
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/store"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.SQLite {
	t.Helper()

	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "nested", "autopilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s
}

func TestCookiesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	expires := time.Now().Add(24 * time.Hour).Truncate(time.Second).UTC()
	jar := []entity.Cookie{
		{Name: "sid", Value: "a1", Domain: ".chat.test", Path: "/", Expires: expires, HTTPOnly: true, Secure: true, SameSite: "Lax"},
		{Name: "lang", Value: "ru", Domain: ".chat.test", Path: "/"},
		{Name: "old", Value: "x", Domain: ".chat.test", Path: "/", Expires: time.Now().Add(-time.Hour)},
	}

	require.NoError(t, s.SaveCookies(ctx, "agent-a", jar))

	got, err := s.LoadCookies(ctx, "agent-a")
	require.NoError(t, err)

	want := []entity.Cookie{jar[1], jar[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cookies mismatch (-want +got):\n%s", diff)
	}

	other, err := s.LoadCookies(ctx, "agent-b")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveCookiesReplacesJar(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveCookies(ctx, "agent", []entity.Cookie{{Name: "a", Value: "1", Domain: "d", Path: "/"}}))
	require.NoError(t, s.SaveCookies(ctx, "agent", []entity.Cookie{{Name: "b", Value: "2", Domain: "d", Path: "/"}}))

	got, err := s.LoadCookies(ctx, "agent")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		summary := &entity.RunSummary{
			RunID:      uuid.New(),
			Identity:   "agent",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Succeeded:  i != 1,
			Outcomes: []entity.ActionOutcome{
				{Action: entity.ActionAuthenticate, Succeeded: true, Status: entity.OutcomeSucceeded},
			},
		}
		require.NoError(t, s.SaveRun(ctx, summary))
	}

	runs, err := s.RecentRuns(ctx, "agent", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, base.Add(2*time.Minute).Equal(runs[0].StartedAt), runs[0].StartedAt)
	assert.False(t, runs[1].Succeeded)
	assert.Equal(t, entity.ActionAuthenticate, runs[0].Outcomes[0].Action)

	all, err := s.RecentRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "autopilot.db")

	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveCookies(ctx, "agent", []entity.Cookie{{Name: "sid", Value: "1", Domain: "d", Path: "/"}}))
	require.NoError(t, s.Close(ctx))

	s, err = store.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close(ctx)

	got, err := s.LoadCookies(ctx, "agent")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
