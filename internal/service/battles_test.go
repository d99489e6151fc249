package service

import (
	"context"
	"testing"

	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store/memstore"
	"github.com/stretchr/testify/require"
)

func newBattlesEnv(t *testing.T) (*Battles, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	feed, _ := testFeed(st)
	return NewBattles(st, feed, testLogger()), st
}

func seedBattlePair(st *memstore.Store) {
	seedUser(st, "challenger@example.com", "challenger", nil)
	seedUser(st, "opponent@example.com", "opponent", nil)
}

func TestSendBattleRequestValidation(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	tests := []struct {
		name     string
		in       domain.BattleRequestInput
		wantKind domain.ErrorKind
	}{
		{"missing opponent", domain.BattleRequestInput{TargetDistanceKm: 5}, domain.KindInvalidArgument},
		{"self battle", domain.BattleRequestInput{OpponentEmail: "challenger@example.com", TargetDistanceKm: 5}, domain.KindInvalidArgument},
		{"zero distance", domain.BattleRequestInput{OpponentEmail: "opponent@example.com"}, domain.KindInvalidArgument},
		{"unknown opponent", domain.BattleRequestInput{OpponentEmail: "ghost@example.com", TargetDistanceKm: 5}, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.SendBattleRequest(ctx, userPrincipal("challenger@example.com"), tt.in)
			require.Equal(t, tt.wantKind, domain.KindOf(err))
		})
	}
}

func TestRespondToBattleRequest(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	id, err := b.SendBattleRequest(ctx, userPrincipal("challenger@example.com"), domain.BattleRequestInput{
		OpponentEmail: "opponent@example.com", TargetDistanceKm: 5,
	})
	require.NoError(t, err)

	// Only the challenged user may respond.
	err = b.RespondToBattleRequest(ctx, userPrincipal("challenger@example.com"), id, domain.BattleResponseAccept)
	require.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	require.NoError(t, b.RespondToBattleRequest(ctx, userPrincipal("opponent@example.com"), id, domain.BattleResponseAccept))

	battle, err := st.Get(ctx, domain.BattlePath(id))
	require.NoError(t, err)
	require.Equal(t, domain.BattleStatusAccepted, battle.Str("status"))

	// Already answered.
	err = b.RespondToBattleRequest(ctx, userPrincipal("opponent@example.com"), id, domain.BattleResponseReject)
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))
}

func TestCancelBattle(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	id, err := b.SendBattleRequest(ctx, userPrincipal("challenger@example.com"), domain.BattleRequestInput{
		OpponentEmail: "opponent@example.com", TargetDistanceKm: 5,
	})
	require.NoError(t, err)

	// Outsiders may not cancel.
	seedUser(st, "mallory@example.com", "mallory", nil)
	err = b.CancelBattle(ctx, userPrincipal("mallory@example.com"), id)
	require.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	require.NoError(t, b.CancelBattle(ctx, userPrincipal("opponent@example.com"), id))

	battle, err := st.Get(ctx, domain.BattlePath(id))
	require.NoError(t, err)
	require.Equal(t, domain.BattleStatusCancelled, battle.Str("status"))
	require.Equal(t, "opponent@example.com", battle.Str("cancellerEmail"))

	// Repeat cancellation is a no-op.
	require.NoError(t, b.CancelBattle(ctx, userPrincipal("challenger@example.com"), id))
}

func TestAsyncBattleDecisiveSettlement(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	id, err := b.SendAsyncBattleRequest(ctx, userPrincipal("challenger@example.com"), domain.BattleRequestInput{
		OpponentEmail: "opponent@example.com", TargetDistanceKm: 5,
	})
	require.NoError(t, err)

	// Challenger runs first; the battle moves to running.
	err = b.CompleteAsyncBattle(ctx, userPrincipal("challenger@example.com"), domain.BattleCompleteInput{
		BattleID: id,
		RunData:  domain.RunResult{ElapsedSeconds: 600.00, DistanceKm: 5},
	})
	require.NoError(t, err)

	battle, err := st.Get(ctx, domain.AsyncBattlePath(id))
	require.NoError(t, err)
	require.Equal(t, domain.BattleStatusRunning, battle.Str("status"))

	// Opponent finishes faster and wins.
	err = b.CompleteAsyncBattle(ctx, userPrincipal("opponent@example.com"), domain.BattleCompleteInput{
		BattleID: id,
		RunData:  domain.RunResult{ElapsedSeconds: 550.25, DistanceKm: 5},
	})
	require.NoError(t, err)

	battle, err = st.Get(ctx, domain.AsyncBattlePath(id))
	require.NoError(t, err)
	require.Equal(t, domain.BattleStatusFinished, battle.Str("status"))
	require.False(t, battle.Bool("isDraw"))
	require.Equal(t, "opponent@example.com", battle.Str("winnerEmail"))
	require.Equal(t, "challenger@example.com", battle.Str("loserEmail"))
	require.Equal(t, 550.25, battle.F64("winnerTime"))
	require.Equal(t, 600.00, battle.F64("loserTime"))

	winner, err := st.Get(ctx, domain.UserPath("opponent@example.com"))
	require.NoError(t, err)
	require.Equal(t, 1.0, winner.F64("battleWins"))
	loser, err := st.Get(ctx, domain.UserPath("challenger@example.com"))
	require.NoError(t, err)
	require.Equal(t, 1.0, loser.F64("battleLosses"))
}

func TestAsyncBattleDraw(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	id, err := b.SendAsyncBattleRequest(ctx, userPrincipal("challenger@example.com"), domain.BattleRequestInput{
		OpponentEmail: "opponent@example.com", TargetDistanceKm: 5,
	})
	require.NoError(t, err)

	run := domain.RunResult{ElapsedSeconds: 500.00, DistanceKm: 5}
	require.NoError(t, b.CompleteAsyncBattle(ctx, userPrincipal("challenger@example.com"), domain.BattleCompleteInput{BattleID: id, RunData: run}))
	require.NoError(t, b.CompleteAsyncBattle(ctx, userPrincipal("opponent@example.com"), domain.BattleCompleteInput{BattleID: id, RunData: run}))

	battle, err := st.Get(ctx, domain.AsyncBattlePath(id))
	require.NoError(t, err)
	require.True(t, battle.Bool("isDraw"))
	require.Empty(t, battle.Str("winnerEmail"))

	for _, email := range []string{"challenger@example.com", "opponent@example.com"} {
		user, err := st.Get(ctx, domain.UserPath(email))
		require.NoError(t, err)
		require.Equal(t, 1.0, user.F64("battleDraws"))
		require.Zero(t, user.F64("battleWins"))
	}
}

func TestAsyncBattleDuplicateSubmission(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	id, err := b.SendAsyncBattleRequest(ctx, userPrincipal("challenger@example.com"), domain.BattleRequestInput{
		OpponentEmail: "opponent@example.com", TargetDistanceKm: 5,
	})
	require.NoError(t, err)

	// Opponent cannot settle before the challenger has run.
	err = b.CompleteAsyncBattle(ctx, userPrincipal("opponent@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 400},
	})
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))

	require.NoError(t, b.CompleteAsyncBattle(ctx, userPrincipal("challenger@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 600},
	}))

	// A second challenger submission loses.
	err = b.CompleteAsyncBattle(ctx, userPrincipal("challenger@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 590},
	})
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))

	require.NoError(t, b.CompleteAsyncBattle(ctx, userPrincipal("opponent@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 610},
	}))

	// Submissions after settlement are refused too.
	err = b.CompleteAsyncBattle(ctx, userPrincipal("opponent@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 605},
	})
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))

	// The stored result reflects the first settlement only.
	battle, err := st.Get(ctx, domain.AsyncBattlePath(id))
	require.NoError(t, err)
	require.Equal(t, "challenger@example.com", battle.Str("winnerEmail"))
	require.Equal(t, 600.0, battle.F64("winnerTime"))
}

func TestCancelAsyncBattle(t *testing.T) {
	b, st := newBattlesEnv(t)
	ctx := context.Background()
	seedBattlePair(st)

	id, err := b.SendAsyncBattleRequest(ctx, userPrincipal("challenger@example.com"), domain.BattleRequestInput{
		OpponentEmail: "opponent@example.com", TargetDistanceKm: 5,
	})
	require.NoError(t, err)

	require.NoError(t, b.CompleteAsyncBattle(ctx, userPrincipal("challenger@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 600},
	}))

	// Cancellable while running.
	require.NoError(t, b.CancelAsyncBattle(ctx, userPrincipal("opponent@example.com"), id))
	// Repeat cancellation is a no-op.
	require.NoError(t, b.CancelAsyncBattle(ctx, userPrincipal("challenger@example.com"), id))

	// Cancelled battles refuse further runs.
	err = b.CompleteAsyncBattle(ctx, userPrincipal("opponent@example.com"), domain.BattleCompleteInput{
		BattleID: id, RunData: domain.RunResult{ElapsedSeconds: 500},
	})
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))
}
