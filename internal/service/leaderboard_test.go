package service

import (
	"context"
	"testing"
	"time"

	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store/memstore"
	"github.com/stretchr/testify/require"
)

func newLeaderboardsEnv(t *testing.T) (*Leaderboards, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return NewLeaderboards(st, nil, &testConfig().Limits, testLogger()), st
}

func TestRebuildReplacesWholeSnapshot(t *testing.T) {
	l, st := newLeaderboardsEnv(t)
	ctx := context.Background()

	seedUser(st, "first@example.com", "first", map[string]interface{}{"weeklyExp": 50.0, "monthlyExp": 120.0})
	seedUser(st, "second@example.com", "second", map[string]interface{}{"weeklyExp": 30.0, "monthlyExp": 80.0})
	seedUser(st, "zero@example.com", "zero", nil)

	// A stale row from someone who since fell out of the ranking.
	st.Seed(domain.LeaderboardUsersCol(domain.PeriodWeekly)+"/stale@example.com", map[string]interface{}{
		"rank": 1.0, "nickname": "stale", "userEmail": "stale@example.com", "weeklyExp": 999.0,
	})

	require.NoError(t, l.RebuildSnapshots(ctx))

	paths := st.PathsUnder(domain.LeaderboardUsersCol(domain.PeriodWeekly) + "/")
	require.Len(t, paths, 2)

	top, err := st.Get(ctx, domain.LeaderboardUsersCol(domain.PeriodWeekly)+"/first@example.com")
	require.NoError(t, err)
	require.Equal(t, 1.0, top.F64("rank"))
	require.Equal(t, 50.0, top.F64("weeklyExp"))

	runnerUp, err := st.Get(ctx, domain.LeaderboardUsersCol(domain.PeriodWeekly)+"/second@example.com")
	require.NoError(t, err)
	require.Equal(t, 2.0, runnerUp.F64("rank"))

	// The stale row is gone, not merely demoted.
	_, err = st.Get(ctx, domain.LeaderboardUsersCol(domain.PeriodWeekly)+"/stale@example.com")
	require.Error(t, err)

	// The monthly snapshot was rebuilt too.
	monthly := st.PathsUnder(domain.LeaderboardUsersCol(domain.PeriodMonthly) + "/")
	require.Len(t, monthly, 2)
}

func TestResetPeriodArchivesWinnersAndZeroesCounters(t *testing.T) {
	l, st := newLeaderboardsEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)

	seedUser(st, "gold@example.com", "gold", map[string]interface{}{"weeklyExp": 90.0})
	seedUser(st, "silver@example.com", "silver", map[string]interface{}{"weeklyExp": 60.0})
	seedUser(st, "bronze@example.com", "bronze", map[string]interface{}{"weeklyExp": 40.0})
	seedUser(st, "fourth@example.com", "fourth", map[string]interface{}{"weeklyExp": 10.0})
	st.Seed(domain.LeaderboardUsersCol(domain.PeriodWeekly)+"/gold@example.com", map[string]interface{}{
		"rank": 1.0, "userEmail": "gold@example.com", "weeklyExp": 90.0,
	})

	require.NoError(t, l.ResetPeriod(ctx, domain.PeriodWeekly, now))

	archive, err := st.Get(ctx, domain.PreviousWinnersPath(domain.PeriodWeekly))
	require.NoError(t, err)
	require.Equal(t, "2026-03-02", archive.Str("week"))
	winners, ok := archive.Data["winners"].([]interface{})
	require.True(t, ok)
	require.Len(t, winners, 3)
	first := winners[0].(map[string]interface{})
	require.Equal(t, "gold@example.com", first["userEmail"])
	require.Equal(t, 90.0, first["exp"])

	// Winners got a history entry; the fourth place did not.
	gold, err := st.Get(ctx, domain.UserPath("gold@example.com"))
	require.NoError(t, err)
	history, ok := gold.Data["weeklyHistory"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 1)
	entry := history[0].(map[string]interface{})
	require.Equal(t, "2026-03-02", entry["week"])
	fourth, err := st.Get(ctx, domain.UserPath("fourth@example.com"))
	require.NoError(t, err)
	require.Nil(t, fourth.Data["weeklyHistory"])

	// Every counter is zero and the reset timestamp is stamped.
	for _, email := range []string{"gold@example.com", "silver@example.com", "bronze@example.com", "fourth@example.com"} {
		user, err := st.Get(ctx, domain.UserPath(email))
		require.NoError(t, err)
		require.Zero(t, user.F64("weeklyExp"), email)
		require.True(t, user.Has("lastExpResetTimestamp"), email)
	}

	// The stale snapshot is dropped.
	require.Empty(t, st.PathsUnder(domain.LeaderboardUsersCol(domain.PeriodWeekly)+"/"))
}

func TestResetPeriodMonthlyLabelAndHallOfFame(t *testing.T) {
	l, st := newLeaderboardsEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 10, 0, 0, time.UTC)

	seedUser(st, "gold@example.com", "gold", map[string]interface{}{"monthlyExp": 200.0})

	require.NoError(t, l.ResetPeriod(ctx, domain.PeriodMonthly, now))

	// The job runs on April 1st just past midnight; the archive labels the
	// month that ended.
	archive, err := st.Get(ctx, domain.PreviousWinnersPath(domain.PeriodMonthly))
	require.NoError(t, err)
	require.Equal(t, "2026-03", archive.Str("month"))

	gold, err := st.Get(ctx, domain.UserPath("gold@example.com"))
	require.NoError(t, err)
	hall, ok := gold.Data["hallOfFame"].([]interface{})
	require.True(t, ok)
	require.Len(t, hall, 1)
	require.Equal(t, "2026-03", hall[0].(map[string]interface{})["month"])
	require.Zero(t, gold.F64("monthlyExp"))
	// The reset timestamp is a weekly concern only.
	require.False(t, gold.Has("lastExpResetTimestamp"))
}

func TestPeriodLabelYearRollover(t *testing.T) {
	jan1 := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	require.Equal(t, "2025-12", periodLabel(domain.PeriodMonthly, jan1))
	require.Equal(t, "2026-01-01", periodLabel(domain.PeriodWeekly, jan1))
}

func TestResetPeriodWithNoActivity(t *testing.T) {
	l, st := newLeaderboardsEnv(t)
	ctx := context.Background()

	seedUser(st, "idle@example.com", "idle", nil)

	require.NoError(t, l.ResetPeriod(ctx, domain.PeriodWeekly, time.Now()))

	// No winners archive is written when nobody scored.
	_, err := st.Get(ctx, domain.PreviousWinnersPath(domain.PeriodWeekly))
	require.Error(t, err)
}
