package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/runhub-backend/internal/auth"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store"
)

// Accounts orchestrates cascading account deletion: every subordinate
// collection, every cross-user reference, and finally the identity record.
type Accounts struct {
	st       store.Store
	auth     auth.Service
	logger   *slog.Logger
	pageSize int
}

// NewAccounts creates the account purge orchestrator.
func NewAccounts(st store.Store, authSvc auth.Service, limits *config.LimitsConfig, logger *slog.Logger) *Accounts {
	return &Accounts{st: st, auth: authSvc, logger: logger, pageSize: limits.PurgePageSize}
}

// StepResult is the tagged outcome of one named purge sub-operation.
type StepResult struct {
	Name string
	Err  error
}

// DeleteAccount is the callable entry point: it purges the caller's data and
// then removes the identity record. Data-step failures are logged and do not
// abort sibling steps; only an identity-deletion failure propagates, since
// everything before it is retry safe.
func (a *Accounts) DeleteAccount(ctx context.Context, caller *domain.Principal) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}

	results := a.PurgeUserData(ctx, caller.Email)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			a.logger.Error("account purge step failed", "email", caller.Email, "step", r.Name, "error", r.Err)
		}
	}
	a.logger.Info("account data purged", "email", caller.Email, "steps", len(results), "failed", failed)

	if err := a.DeleteIdentity(ctx, caller.Email); err != nil {
		return domain.Internal("deleting identity", err)
	}
	return nil
}

// DeleteIdentity removes the authentication principal for an email. An
// already-absent principal is success, keeping the operation idempotent.
func (a *Accounts) DeleteIdentity(ctx context.Context, email string) error {
	user, err := a.auth.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolving identity: %w", err)
	}
	if err := a.auth.Delete(ctx, user.UID); err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		return fmt.Errorf("deleting identity: %w", err)
	}
	return nil
}

// PurgeUserData removes every trace of a user from the store. Steps run as a
// best-effort batch of named sub-operations; each returns a tagged result and
// a failure in one never blocks the others. Every step is existence-gated, so
// the whole purge can be re-invoked after a partial failure.
func (a *Accounts) PurgeUserData(ctx context.Context, email string) []StepResult {
	// Capture the nickname and friend list first; chat room ids cannot be
	// derived once the friend edges are gone.
	var nickname string
	if profile, err := a.st.Get(ctx, domain.UserPath(email)); err == nil {
		nickname = profile.Str("nickname")
	}

	var friendEmails []string
	if friends, err := a.st.Query(ctx, store.Query{Collection: domain.FriendsCol(email)}); err == nil {
		for _, doc := range friends {
			friendEmails = append(friendEmails, doc.ID)
		}
	} else {
		a.logger.Warn("listing friends before purge failed", "email", email, "error", err)
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"subcollections", func(ctx context.Context) error { return a.purgeSubcollections(ctx, email) }},
		{"workouts", func(ctx context.Context) error { return a.purgeWorkouts(ctx, email) }},
		{"top-level documents", func(ctx context.Context) error { return a.deleteTopLevelDocs(ctx, email, nickname) }},
		{"authored posts", func(ctx context.Context) error { return a.deleteAuthoredContent(ctx, email) }},
		{"comments", func(ctx context.Context) error { return a.deleteComments(ctx, email) }},
		{"challenge membership", func(ctx context.Context) error { return a.stripChallengeMembership(ctx, email) }},
		{"friend references", func(ctx context.Context) error { return a.deleteFriendReferences(ctx, email) }},
		{"chat rooms", func(ctx context.Context) error { return a.deleteChatRooms(ctx, email, friendEmails) }},
	}

	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, name string, run func(context.Context) error) {
			defer wg.Done()
			results[i] = StepResult{Name: name, Err: run(ctx)}
		}(i, step.name, step.run)
	}
	wg.Wait()

	// The profile document goes last so a partial purge can still resolve
	// the nickname on retry.
	if err := a.st.Commit(ctx, []store.Op{store.Delete(domain.UserPath(email))}); err != nil {
		results = append(results, StepResult{Name: "profile document", Err: err})
	} else {
		results = append(results, StepResult{Name: "profile document"})
	}
	return results
}

func (a *Accounts) purgeSubcollections(ctx context.Context, email string) error {
	collections := []string{
		domain.UserPath(email) + "/activeQuests",
		domain.UserPath(email) + "/completedQuestsLog",
		domain.FriendsCol(email),
		domain.FriendRequestsCol(email),
		domain.NotificationItemsCol(email),
		domain.ColGhostRuns + "/" + email + "/records",
		domain.ColRunningGoals + "/" + email + "/dailyGoals",
		domain.ColRunningData + "/" + email + "/goals",
	}
	for _, col := range collections {
		if _, err := store.Purge(ctx, a.st, col, a.pageSize); err != nil {
			return fmt.Errorf("purging %s: %w", col, err)
		}
	}
	return nil
}

// purgeWorkouts enumerates the workout documents first so each workout's
// nested records collection can be purged before the workout itself.
func (a *Accounts) purgeWorkouts(ctx context.Context, email string) error {
	workouts, err := a.st.Query(ctx, store.Query{Collection: domain.WorkoutsCol(email)})
	if err != nil {
		return fmt.Errorf("listing workouts: %w", err)
	}
	for _, workout := range workouts {
		if _, err := store.Purge(ctx, a.st, domain.WorkoutRecordsCol(email, workout.ID), a.pageSize); err != nil {
			return fmt.Errorf("purging workout records: %w", err)
		}
	}
	if _, err := store.Purge(ctx, a.st, domain.WorkoutsCol(email), a.pageSize); err != nil {
		return fmt.Errorf("purging workouts: %w", err)
	}
	return nil
}

func (a *Accounts) deleteTopLevelDocs(ctx context.Context, email, nickname string) error {
	paths := []string{
		domain.ColRunningData + "/" + email,
		domain.ColRunningGoals + "/" + email,
		domain.ColGhostRuns + "/" + email,
		domain.ColNotifications + "/" + email,
	}
	if nickname != "" {
		paths = append(paths, domain.NicknamePath(strings.ToLower(nickname)))
	}

	bw := store.NewBatchWriter(a.st)
	for _, path := range paths {
		ok, err := exists(ctx, a.st, path)
		if err != nil {
			return fmt.Errorf("checking %s: %w", path, err)
		}
		if !ok {
			continue
		}
		if err := bw.Delete(ctx, path); err != nil {
			return err
		}
	}
	_, err := bw.Flush(ctx)
	return err
}

// deleteAuthoredContent removes community posts and challenges the user
// created, including each document's comments collection.
func (a *Accounts) deleteAuthoredContent(ctx context.Context, email string) error {
	for _, col := range []string{domain.ColFreeTalks, domain.ColChallenges} {
		docs, err := a.st.Query(ctx, store.Query{
			Collection: col,
			Filters:    []store.Filter{{Field: "userEmail", Op: "==", Value: email}},
		})
		if err != nil {
			return fmt.Errorf("listing authored %s: %w", col, err)
		}
		for _, doc := range docs {
			if _, err := store.Purge(ctx, a.st, doc.Path+"/comments", a.pageSize); err != nil {
				return fmt.Errorf("purging comments of %s: %w", doc.Path, err)
			}
			if err := a.st.Commit(ctx, []store.Op{store.Delete(doc.Path)}); err != nil {
				return fmt.Errorf("deleting %s: %w", doc.Path, err)
			}
		}
	}
	return nil
}

// deleteComments sweeps the user's comments everywhere via a collection-group
// query.
func (a *Accounts) deleteComments(ctx context.Context, email string) error {
	docs, err := a.st.Query(ctx, store.Query{
		Collection: domain.GroupComments,
		Group:      true,
		Filters:    []store.Filter{{Field: "userEmail", Op: "==", Value: email}},
	})
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}

	bw := store.NewBatchWriter(a.st)
	for _, doc := range docs {
		if err := bw.Delete(ctx, doc.Path); err != nil {
			return err
		}
	}
	_, err = bw.Flush(ctx)
	return err
}

// stripChallengeMembership removes the user from every challenge that lists
// them: the participants array entry and the parallel participant-map key
// drop in the same update so the two can never diverge.
func (a *Accounts) stripChallengeMembership(ctx context.Context, email string) error {
	docs, err := a.st.Query(ctx, store.Query{
		Collection: domain.ColChallenges,
		Filters:    []store.Filter{{Field: "participants", Op: "array-contains", Value: email}},
	})
	if err != nil {
		return fmt.Errorf("listing joined challenges: %w", err)
	}

	bw := store.NewBatchWriter(a.st)
	for _, doc := range docs {
		updates := map[string]interface{}{
			"participants": store.ArrayRemove{Values: []interface{}{email}},
		}
		// Map keys are emails and emails contain dots, so a dotted field
		// path cannot address them. Rebuild the whole map instead.
		if pm, ok := doc.Data["participantMap"].(map[string]interface{}); ok {
			if _, present := pm[email]; present {
				rebuilt := make(map[string]interface{}, len(pm)-1)
				for k, v := range pm {
					if k != email {
						rebuilt[k] = v
					}
				}
				updates["participantMap"] = rebuilt
			}
		}
		if err := bw.Update(ctx, doc.Path, updates); err != nil {
			return err
		}
	}
	_, err = bw.Flush(ctx)
	return err
}

// deleteFriendReferences removes friend edges and requests under other
// users' subcollections that point at the departing user.
func (a *Accounts) deleteFriendReferences(ctx context.Context, email string) error {
	queries := []store.Query{
		{
			Collection: domain.GroupFriends,
			Group:      true,
			Filters:    []store.Filter{{Field: "email", Op: "==", Value: email}},
		},
		{
			Collection: domain.GroupFriendRequests,
			Group:      true,
			Filters:    []store.Filter{{Field: "senderEmail", Op: "==", Value: email}},
		},
	}

	bw := store.NewBatchWriter(a.st)
	for _, q := range queries {
		docs, err := a.st.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("listing friend references: %w", err)
		}
		for _, doc := range docs {
			if err := bw.Delete(ctx, doc.Path); err != nil {
				return err
			}
		}
	}
	_, err := bw.Flush(ctx)
	return err
}

func (a *Accounts) deleteChatRooms(ctx context.Context, email string, friendEmails []string) error {
	for _, friend := range friendEmails {
		roomID := domain.ChatRoomID(email, friend)
		if _, err := store.Purge(ctx, a.st, domain.ChatMessagesCol(roomID), a.pageSize); err != nil {
			return fmt.Errorf("purging messages of %s: %w", roomID, err)
		}
		if err := a.st.Commit(ctx, []store.Op{store.Delete(domain.ColChatRooms + "/" + roomID)}); err != nil {
			return fmt.Errorf("deleting room %s: %w", roomID, err)
		}
	}
	return nil
}
