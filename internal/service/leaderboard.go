package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/ranking"
	"github.com/runhub-backend/internal/store"
)

// Leaderboards maintains the top-N snapshots and runs the period resets.
// Snapshots are derived data: each rebuild deletes the whole snapshot and
// writes it fresh, so users who fell out of the top N leave no stale rows.
type Leaderboards struct {
	st       store.Store
	index    *ranking.Index
	logger   *slog.Logger
	topN     int
	pageSize int
}

// NewLeaderboards creates the leaderboard rotation service. index may be nil
// when the Redis serving index is disabled.
func NewLeaderboards(st store.Store, index *ranking.Index, limits *config.LimitsConfig, logger *slog.Logger) *Leaderboards {
	return &Leaderboards{
		st:       st,
		index:    index,
		logger:   logger,
		topN:     limits.LeaderboardSize,
		pageSize: limits.PurgePageSize,
	}
}

// RebuildSnapshots rebuilds the weekly and monthly snapshots. A failure in
// one period does not block the other.
func (l *Leaderboards) RebuildSnapshots(ctx context.Context) error {
	var firstErr error
	for _, p := range []domain.Period{domain.PeriodWeekly, domain.PeriodMonthly} {
		if err := l.rebuild(ctx, p); err != nil {
			l.logger.Error("snapshot rebuild failed", "period", p, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (l *Leaderboards) rebuild(ctx context.Context, p domain.Period) error {
	snapshotCol := domain.LeaderboardUsersCol(p)
	if _, err := store.Purge(ctx, l.st, snapshotCol, l.pageSize); err != nil {
		return fmt.Errorf("clearing %s snapshot: %w", p, err)
	}

	top, err := l.st.Query(ctx, store.Query{
		Collection: domain.ColUsers,
		OrderBy:    p.ExpField(),
		Desc:       true,
		Limit:      l.topN,
	})
	if err != nil {
		return fmt.Errorf("ranking users: %w", err)
	}

	bw := store.NewBatchWriter(l.st)
	scores := make(map[string]float64, len(top))
	for rank, user := range top {
		exp := user.F64(p.ExpField())
		entry := map[string]interface{}{
			"rank":       rank + 1,
			"nickname":   user.Str("nickname"),
			"userEmail":  user.ID,
			p.ExpField(): exp,
		}
		if err := bw.Set(ctx, snapshotCol+"/"+user.ID, entry); err != nil {
			return fmt.Errorf("writing %s snapshot: %w", p, err)
		}
		scores[user.ID] = exp
	}
	if _, err := bw.Flush(ctx); err != nil {
		return fmt.Errorf("writing %s snapshot: %w", p, err)
	}

	if l.index != nil {
		if err := l.index.Rebuild(ctx, p, scores); err != nil {
			l.logger.Warn("ranking index rebuild failed", "period", p, "error", err)
		}
	}

	l.logger.Info("leaderboard snapshot rebuilt", "period", p, "entries", len(top))
	return nil
}

// ResetPeriod archives the top 3 into the previous-winners record and each
// winner's history, zeroes every user's period counter in id-ordered pages,
// and drops the stale snapshot. Each page commits independently so a failure
// leaves completed pages behind; re-running skips already-zeroed users.
func (l *Leaderboards) ResetPeriod(ctx context.Context, p domain.Period, now time.Time) error {
	if err := l.archiveWinners(ctx, p, now); err != nil {
		l.logger.Error("archiving winners failed", "period", p, "error", err)
	}

	zeroed, err := l.zeroCounters(ctx, p, now)
	if err != nil {
		return fmt.Errorf("zeroing %s counters: %w", p, err)
	}

	if _, err := store.Purge(ctx, l.st, domain.LeaderboardUsersCol(p), l.pageSize); err != nil {
		return fmt.Errorf("dropping %s snapshot: %w", p, err)
	}

	if l.index != nil {
		if err := l.index.Clear(ctx, p); err != nil {
			l.logger.Warn("ranking index clear failed", "period", p, "error", err)
		}
	}

	l.logger.Info("period reset completed", "period", p, "zeroed", zeroed)
	return nil
}

func (l *Leaderboards) archiveWinners(ctx context.Context, p domain.Period, now time.Time) error {
	top, err := l.st.Query(ctx, store.Query{
		Collection: domain.ColUsers,
		OrderBy:    p.ExpField(),
		Desc:       true,
		Limit:      3,
	})
	if err != nil {
		return fmt.Errorf("ranking users: %w", err)
	}

	label := periodLabel(p, now)
	labelField := "week"
	if p == domain.PeriodMonthly {
		labelField = "month"
	}

	winners := make([]interface{}, 0, len(top))
	ops := make([]store.Op, 0, len(top)+1)
	for rank, user := range top {
		exp := user.F64(p.ExpField())
		if exp <= 0 {
			continue
		}
		winners = append(winners, map[string]interface{}{
			"rank":      rank + 1,
			"nickname":  user.Str("nickname"),
			"userEmail": user.ID,
			"exp":       exp,
		})
		ops = append(ops, store.Update(user.Path, map[string]interface{}{
			p.HistoryField(): store.ArrayUnion{Values: []interface{}{map[string]interface{}{
				"rank":     rank + 1,
				labelField: label,
				"exp":      exp,
			}}},
		}))
	}
	if len(winners) == 0 {
		return nil
	}

	ops = append(ops, store.Set(domain.PreviousWinnersPath(p), map[string]interface{}{
		"winners":   winners,
		labelField:  label,
		"updatedAt": store.Timestamp(now),
	}))
	if err := l.st.Commit(ctx, ops); err != nil {
		return fmt.Errorf("writing winner archive: %w", err)
	}
	return nil
}

// zeroCounters scans the whole user table in id-ordered pages and zeroes
// non-zero period counters. The weekly pass also stamps a reset timestamp on
// users that never had one.
func (l *Leaderboards) zeroCounters(ctx context.Context, p domain.Period, now time.Time) (int, error) {
	zeroed := 0
	cursor := ""
	for {
		users, err := l.st.Query(ctx, store.Query{
			Collection: domain.ColUsers,
			Limit:      l.pageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return zeroed, err
		}
		if len(users) == 0 {
			return zeroed, nil
		}

		bw := store.NewBatchWriter(l.st)
		for _, user := range users {
			updates := map[string]interface{}{}
			if user.F64(p.ExpField()) > 0 {
				updates[p.ExpField()] = float64(0)
			}
			if p == domain.PeriodWeekly && !user.Has("lastExpResetTimestamp") {
				updates["lastExpResetTimestamp"] = store.Timestamp(now)
			}
			if len(updates) == 0 {
				continue
			}
			if err := bw.Update(ctx, user.Path, updates); err != nil {
				return zeroed, err
			}
			zeroed++
		}
		if _, err := bw.Flush(ctx); err != nil {
			return zeroed, err
		}
		cursor = users[len(users)-1].ID
	}
}

// periodLabel names the period being archived. The monthly reset runs just
// after the month rolls over, so its label is the month that ended, not the
// month the job runs in.
func periodLabel(p domain.Period, now time.Time) string {
	if p == domain.PeriodMonthly {
		return time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location()).Format("2006-01")
	}
	return now.Format("2006-01-02")
}
