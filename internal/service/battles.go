package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/store"
)

// Battles runs the synchronous and asynchronous battle state machines.
// Asynchronous settlement guards every check with commit preconditions, so a
// duplicate or late submission loses the commit instead of racing it.
type Battles struct {
	st     store.Store
	feed   *notify.Feed
	logger *slog.Logger
}

// NewBattles creates the battle service.
func NewBattles(st store.Store, feed *notify.Feed, logger *slog.Logger) *Battles {
	return &Battles{st: st, feed: feed, logger: logger}
}

// SendBattleRequest creates a synchronous battle in the pending state.
func (b *Battles) SendBattleRequest(ctx context.Context, caller *domain.Principal, in domain.BattleRequestInput) (string, error) {
	if err := requirePrincipal(caller); err != nil {
		return "", err
	}
	if err := b.validateRequest(ctx, caller, in); err != nil {
		return "", err
	}

	battleID := uuid.NewString()
	callerNickname := b.nicknameOf(ctx, caller.Email, in.Nickname)
	battle := map[string]interface{}{
		"challengerEmail":    caller.Email,
		"challengerNickname": callerNickname,
		"opponentEmail":      in.OpponentEmail,
		"opponentNickname":   b.nicknameOf(ctx, in.OpponentEmail, ""),
		"targetDistanceKm":   in.TargetDistanceKm,
		"status":             domain.BattleStatusPending,
		"participants":       []interface{}{caller.Email, in.OpponentEmail},
		"createdAt":          store.Timestamp(time.Now()),
	}
	if err := b.st.Commit(ctx, []store.Op{store.Set(domain.BattlePath(battleID), battle)}); err != nil {
		return "", domain.Internal("creating battle", err)
	}

	b.notify(ctx, in.OpponentEmail, domain.Notification{
		Title:     "Battle challenge",
		Body:      fmt.Sprintf("%s challenged you to a %.1f km battle", callerNickname, in.TargetDistanceKm),
		Type:      domain.NotificationBattleRequest,
		RelatedID: battleID,
	})
	return battleID, nil
}

// RespondToBattleRequest accepts or rejects a pending synchronous battle.
// Only the addressed opponent may respond.
func (b *Battles) RespondToBattleRequest(ctx context.Context, caller *domain.Principal, battleID, response string) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}

	var status string
	switch response {
	case domain.BattleResponseAccept:
		status = domain.BattleStatusAccepted
	case domain.BattleResponseReject:
		status = domain.BattleStatusRejected
	default:
		return domain.InvalidArgument("response must be accept or reject")
	}

	battle, err := b.getBattle(ctx, domain.BattlePath(battleID))
	if err != nil {
		return err
	}
	if battle.Str("opponentEmail") != caller.Email {
		return domain.PermissionDenied("only the challenged user may respond")
	}
	if battle.Str("status") != domain.BattleStatusPending {
		return domain.FailedPrecondition("battle request already answered")
	}

	op := store.Update(domain.BattlePath(battleID), map[string]interface{}{
		"status":      status,
		"respondedAt": store.Timestamp(time.Now()),
	})
	op.Precond = &store.Precond{Fields: []store.FieldCond{
		{Field: "status", Op: "==", Values: []interface{}{domain.BattleStatusPending}},
	}}
	if err := b.st.Commit(ctx, []store.Op{op}); err != nil {
		return commitErr("battle request already answered", err)
	}

	verb := "accepted"
	if status == domain.BattleStatusRejected {
		verb = "rejected"
	}
	b.notify(ctx, battle.Str("challengerEmail"), domain.Notification{
		Title:     "Battle " + verb,
		Body:      fmt.Sprintf("%s %s your battle challenge", battle.Str("opponentNickname"), verb),
		Type:      domain.NotificationBattleRequest,
		RelatedID: battleID,
	})
	return nil
}

// CancelBattle cancels a synchronous battle. Either participant may cancel
// while the battle has not started running or finished. The canceller is
// recorded on the document.
func (b *Battles) CancelBattle(ctx context.Context, caller *domain.Principal, battleID string) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}

	battle, err := b.getBattle(ctx, domain.BattlePath(battleID))
	if err != nil {
		return err
	}
	other, err := b.otherParticipant(battle, caller.Email)
	if err != nil {
		return err
	}
	switch battle.Str("status") {
	case domain.BattleStatusRunning, domain.BattleStatusFinished:
		return domain.FailedPrecondition("battle can no longer be cancelled")
	case domain.BattleStatusCancelled:
		return nil
	}

	op := store.Update(domain.BattlePath(battleID), map[string]interface{}{
		"status":         domain.BattleStatusCancelled,
		"cancellerEmail": caller.Email,
		"cancelledAt":    store.Timestamp(time.Now()),
	})
	op.Precond = &store.Precond{Fields: []store.FieldCond{
		{Field: "status", Op: "in", Values: []interface{}{
			domain.BattleStatusPending, domain.BattleStatusAccepted,
		}},
	}}
	if err := b.st.Commit(ctx, []store.Op{op}); err != nil {
		return commitErr("battle can no longer be cancelled", err)
	}

	b.notify(ctx, other, domain.Notification{
		Title:     "Battle cancelled",
		Body:      fmt.Sprintf("%s cancelled the battle", b.nicknameOf(ctx, caller.Email, "")),
		Type:      domain.NotificationBattleCancel,
		RelatedID: battleID,
	})
	return nil
}

// SendAsyncBattleRequest creates an asynchronous battle awaiting the
// challenger's run.
func (b *Battles) SendAsyncBattleRequest(ctx context.Context, caller *domain.Principal, in domain.BattleRequestInput) (string, error) {
	if err := requirePrincipal(caller); err != nil {
		return "", err
	}
	if err := b.validateRequest(ctx, caller, in); err != nil {
		return "", err
	}

	battleID := uuid.NewString()
	callerNickname := b.nicknameOf(ctx, caller.Email, in.Nickname)
	battle := map[string]interface{}{
		"challengerEmail":    caller.Email,
		"challengerNickname": callerNickname,
		"opponentEmail":      in.OpponentEmail,
		"opponentNickname":   b.nicknameOf(ctx, in.OpponentEmail, ""),
		"targetDistanceKm":   in.TargetDistanceKm,
		"status":             domain.BattleStatusPending,
		"createdAt":          store.Timestamp(time.Now()),
	}
	if err := b.st.Commit(ctx, []store.Op{store.Set(domain.AsyncBattlePath(battleID), battle)}); err != nil {
		return "", domain.Internal("creating async battle", err)
	}

	b.notify(ctx, in.OpponentEmail, domain.Notification{
		Title:     "Async battle challenge",
		Body:      fmt.Sprintf("%s challenged you to a %.1f km async battle", callerNickname, in.TargetDistanceKm),
		Type:      domain.NotificationBattleRequest,
		RelatedID: battleID,
	})
	return battleID, nil
}

// CompleteAsyncBattle records a participant's run. The challenger submits
// first, moving the battle to running; the opponent's submission settles it.
// All state checks are re-asserted as commit preconditions, so concurrent
// duplicate submissions cannot both win.
func (b *Battles) CompleteAsyncBattle(ctx context.Context, caller *domain.Principal, in domain.BattleCompleteInput) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}
	if in.RunData.ElapsedSeconds <= 0 {
		return domain.InvalidArgument("elapsed time must be positive")
	}

	path := domain.AsyncBattlePath(in.BattleID)
	battle, err := b.getBattle(ctx, path)
	if err != nil {
		return err
	}
	if _, err := b.otherParticipant(battle, caller.Email); err != nil {
		return err
	}
	switch battle.Str("status") {
	case domain.BattleStatusFinished, domain.BattleStatusCancelled:
		return domain.FailedPrecondition("battle is already " + battle.Str("status"))
	}

	if caller.Email == battle.Str("challengerEmail") {
		return b.submitChallengerRun(ctx, battle, in)
	}
	return b.settle(ctx, battle, in)
}

func (b *Battles) submitChallengerRun(ctx context.Context, battle *store.Doc, in domain.BattleCompleteInput) error {
	if battle.Has("challengerRunData") {
		return domain.FailedPrecondition("run already submitted for this battle")
	}

	op := store.Update(battle.Path, map[string]interface{}{
		"challengerRunData": runDataMap(in.RunData),
		"status":            domain.BattleStatusRunning,
	})
	op.Precond = &store.Precond{Fields: []store.FieldCond{
		{Field: "status", Op: "==", Values: []interface{}{domain.BattleStatusPending}},
		{Field: "challengerRunData", Op: "null"},
	}}
	if err := b.st.Commit(ctx, []store.Op{op}); err != nil {
		return commitErr("run already submitted for this battle", err)
	}

	b.notify(ctx, battle.Str("opponentEmail"), domain.Notification{
		Title:     "Your turn",
		Body:      fmt.Sprintf("%s finished their run. Your turn!", battle.Str("challengerNickname")),
		Type:      domain.NotificationBattleTurn,
		RelatedID: battle.ID,
	})
	return nil
}

// settle applies the opponent's run and computes the outcome. The battle
// update and both users' counters commit atomically; the preconditions make
// settlement exactly once.
func (b *Battles) settle(ctx context.Context, battle *store.Doc, in domain.BattleCompleteInput) error {
	if battle.Has("opponentRunData") {
		return domain.FailedPrecondition("run already submitted for this battle")
	}
	if !battle.Has("challengerRunData") {
		return domain.FailedPrecondition("waiting for the challenger's run")
	}

	challengerEmail := battle.Str("challengerEmail")
	opponentEmail := battle.Str("opponentEmail")
	challengerTime := battle.F64("challengerRunData.elapsedSeconds")
	opponentTime := in.RunData.ElapsedSeconds

	updates := map[string]interface{}{
		"opponentRunData": runDataMap(in.RunData),
		"status":          domain.BattleStatusFinished,
		"finishedAt":      store.Timestamp(time.Now()),
	}

	var counters []store.Op
	isDraw := challengerTime == opponentTime
	updates["isDraw"] = isDraw
	if isDraw {
		for _, email := range []string{challengerEmail, opponentEmail} {
			counters = append(counters, store.Update(domain.UserPath(email), map[string]interface{}{
				"battleDraws": store.Increment{By: 1},
			}))
		}
	} else {
		winnerEmail, loserEmail := opponentEmail, challengerEmail
		winnerTime, loserTime := opponentTime, challengerTime
		if challengerTime < opponentTime {
			winnerEmail, loserEmail = challengerEmail, opponentEmail
			winnerTime, loserTime = challengerTime, opponentTime
		}
		updates["winnerEmail"] = winnerEmail
		updates["loserEmail"] = loserEmail
		updates["winnerTime"] = winnerTime
		updates["loserTime"] = loserTime
		counters = append(counters,
			store.Update(domain.UserPath(winnerEmail), map[string]interface{}{
				"battleWins": store.Increment{By: 1},
			}),
			store.Update(domain.UserPath(loserEmail), map[string]interface{}{
				"battleLosses": store.Increment{By: 1},
			}),
		)
	}

	battleOp := store.Update(battle.Path, updates)
	battleOp.Precond = &store.Precond{Fields: []store.FieldCond{
		{Field: "status", Op: "==", Values: []interface{}{domain.BattleStatusRunning}},
		{Field: "challengerRunData", Op: "not-null"},
		{Field: "opponentRunData", Op: "null"},
	}}
	if err := b.st.Commit(ctx, append([]store.Op{battleOp}, counters...)); err != nil {
		return commitErr("run already submitted for this battle", err)
	}

	b.sendResultNotifications(ctx, battle, isDraw, challengerTime, opponentTime)
	return nil
}

// CancelAsyncBattle cancels an asynchronous battle. Allowed to either
// participant at any point before settlement; repeated cancellation is a
// no-op.
func (b *Battles) CancelAsyncBattle(ctx context.Context, caller *domain.Principal, battleID string) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}

	battle, err := b.getBattle(ctx, domain.AsyncBattlePath(battleID))
	if err != nil {
		return err
	}
	other, err := b.otherParticipant(battle, caller.Email)
	if err != nil {
		return err
	}
	switch battle.Str("status") {
	case domain.BattleStatusFinished:
		return domain.FailedPrecondition("battle is already finished")
	case domain.BattleStatusCancelled:
		return nil
	}

	op := store.Update(battle.Path, map[string]interface{}{
		"status":         domain.BattleStatusCancelled,
		"cancellerEmail": caller.Email,
		"cancelledAt":    store.Timestamp(time.Now()),
	})
	op.Precond = &store.Precond{Fields: []store.FieldCond{
		{Field: "status", Op: "in", Values: []interface{}{
			domain.BattleStatusPending, domain.BattleStatusRunning,
		}},
	}}
	if err := b.st.Commit(ctx, []store.Op{op}); err != nil {
		return commitErr("battle is already finished", err)
	}

	b.notify(ctx, other, domain.Notification{
		Title:     "Battle cancelled",
		Body:      fmt.Sprintf("%s cancelled the async battle", b.nicknameOf(ctx, caller.Email, "")),
		Type:      domain.NotificationBattleCancel,
		RelatedID: battleID,
	})
	return nil
}

func (b *Battles) sendResultNotifications(ctx context.Context, battle *store.Doc, isDraw bool, challengerTime, opponentTime float64) {
	challengerEmail := battle.Str("challengerEmail")
	opponentEmail := battle.Str("opponentEmail")
	challengerNickname := battle.Str("challengerNickname")
	opponentNickname := battle.Str("opponentNickname")

	// Each recipient gets the result from their own perspective.
	perspective := func(won bool, other string) string {
		if isDraw {
			return fmt.Sprintf("Your battle with %s ended in a draw", other)
		}
		if won {
			return fmt.Sprintf("You beat %s!", other)
		}
		return fmt.Sprintf("%s won this one", other)
	}

	b.notify(ctx, challengerEmail, domain.Notification{
		Title:     "Battle finished",
		Body:      perspective(challengerTime < opponentTime, opponentNickname),
		Type:      domain.NotificationBattleResult,
		RelatedID: battle.ID,
	})
	b.notify(ctx, opponentEmail, domain.Notification{
		Title:     "Battle finished",
		Body:      perspective(opponentTime < challengerTime, challengerNickname),
		Type:      domain.NotificationBattleResult,
		RelatedID: battle.ID,
	})
}

func (b *Battles) validateRequest(ctx context.Context, caller *domain.Principal, in domain.BattleRequestInput) error {
	if in.OpponentEmail == "" {
		return domain.InvalidArgument("opponent email is required")
	}
	if in.OpponentEmail == caller.Email {
		return domain.InvalidArgument("cannot battle yourself")
	}
	if in.TargetDistanceKm <= 0 {
		return domain.InvalidArgument("target distance must be positive")
	}
	ok, err := exists(ctx, b.st, domain.UserPath(in.OpponentEmail))
	if err != nil {
		return domain.Internal("looking up opponent", err)
	}
	if !ok {
		return domain.NotFound("opponent not found")
	}
	return nil
}

func (b *Battles) getBattle(ctx context.Context, path string) (*store.Doc, error) {
	battle, err := b.st.Get(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("battle not found")
		}
		return nil, domain.Internal("loading battle", err)
	}
	return battle, nil
}

// otherParticipant authorizes the caller and returns the opposite side.
func (b *Battles) otherParticipant(battle *store.Doc, email string) (string, error) {
	switch email {
	case battle.Str("challengerEmail"):
		return battle.Str("opponentEmail"), nil
	case battle.Str("opponentEmail"):
		return battle.Str("challengerEmail"), nil
	}
	return "", domain.PermissionDenied("not a participant of this battle")
}

func runDataMap(r domain.RunResult) map[string]interface{} {
	data := map[string]interface{}{
		"elapsedSeconds": r.ElapsedSeconds,
		"distanceKm":     r.DistanceKm,
	}
	if r.AveragePace != "" {
		data["averagePace"] = r.AveragePace
	}
	if r.CompletedAt != "" {
		data["completedAt"] = r.CompletedAt
	}
	return data
}

func (b *Battles) notify(ctx context.Context, email string, n domain.Notification) {
	if err := b.feed.SendToUser(ctx, email, n); err != nil {
		b.logger.Warn("battle notification failed", "email", email, "type", n.Type, "error", err)
	}
}

func (b *Battles) nicknameOf(ctx context.Context, email, fallback string) string {
	if fallback != "" {
		return fallback
	}
	doc, err := b.st.Get(ctx, domain.UserPath(email))
	if err != nil {
		return email
	}
	if n := doc.Str("nickname"); n != "" {
		return n
	}
	return email
}
