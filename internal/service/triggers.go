package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/ranking"
	"github.com/runhub-backend/internal/store"
)

// Triggers reacts to data-change events: running records feed event
// challenges and experience counters, comments fan out notifications, and
// nickname changes propagate into leaderboard snapshots.
type Triggers struct {
	st     store.Store
	index  *ranking.Index
	feed   *notify.Feed
	logger *slog.Logger
}

// NewTriggers creates the trigger service. index may be nil.
func NewTriggers(st store.Store, index *ranking.Index, feed *notify.Feed, logger *slog.Logger) *Triggers {
	return &Triggers{st: st, index: index, feed: feed, logger: logger}
}

// HandleChange dispatches one change event. Unknown types are logged and
// dropped; the topic may carry events this service does not react to.
func (t *Triggers) HandleChange(ctx context.Context, ev domain.ChangeEvent) error {
	switch ev.Type {
	case domain.ChangeRunningRecordCreated:
		return t.runningRecordCreated(ctx, ev)
	case domain.ChangeChallengeComment:
		return t.challengeCommentCreated(ctx, ev)
	case domain.ChangeFreeTalkComment:
		return t.freeTalkCommentCreated(ctx, ev)
	case domain.ChangeUserUpdated:
		return t.userUpdated(ctx, ev)
	}
	t.logger.Debug("ignoring change event", "type", ev.Type)
	return nil
}

// runningRecordCreated credits the run to every active event challenge the
// runner joined before the record, then awards period experience.
func (t *Triggers) runningRecordCreated(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.DistanceKm <= 0 || ev.UserEmail == "" {
		return nil
	}

	recordedAt := ev.RecordedAt
	if recordedAt == "" {
		recordedAt = store.Timestamp(time.Now())
	}

	challenges, err := t.st.Query(ctx, store.Query{
		Collection: domain.ColEventChallenges,
		Filters:    []store.Filter{{Field: "status", Op: "==", Value: domain.EventStatusActive}},
	})
	if err != nil {
		return fmt.Errorf("listing active challenges: %w", err)
	}

	bw := store.NewBatchWriter(t.st)
	for _, challenge := range challenges {
		path := domain.EventParticipantsCol(challenge.ID) + "/" + ev.UserEmail
		participant, err := t.st.Get(ctx, path)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return fmt.Errorf("loading participant: %w", err)
		}
		// Credit only runs recorded at or after this participant's join
		// time; the gate is per challenge since join times differ.
		if joined := participant.Str("joinedAt"); joined != "" && recordedAt < joined {
			continue
		}
		err = bw.Update(ctx, path, map[string]interface{}{
			"totalDistance": store.Increment{By: ev.DistanceKm},
		})
		if err != nil {
			return err
		}
	}
	if _, err := bw.Flush(ctx); err != nil {
		return fmt.Errorf("crediting challenge distance: %w", err)
	}

	return t.awardExperience(ctx, ev.UserEmail, ev.DistanceKm)
}

// awardExperience grants one point per completed kilometer, minimum one for
// any positive-distance run, to both period counters and the serving index.
func (t *Triggers) awardExperience(ctx context.Context, email string, distanceKm float64) error {
	points := math.Floor(distanceKm)
	if points < 1 {
		points = 1
	}

	err := t.st.Commit(ctx, []store.Op{store.Update(domain.UserPath(email), map[string]interface{}{
		"weeklyExp":  store.Increment{By: points},
		"monthlyExp": store.Increment{By: points},
	})})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.logger.Warn("experience award for unknown user", "email", email)
			return nil
		}
		return fmt.Errorf("awarding experience: %w", err)
	}

	if t.index != nil {
		for _, p := range []domain.Period{domain.PeriodWeekly, domain.PeriodMonthly} {
			if err := t.index.AddExperience(ctx, p, email, points); err != nil {
				t.logger.Warn("ranking index update failed", "period", p, "email", email, "error", err)
			}
		}
	}
	return nil
}

// challengeCommentCreated notifies the challenge participants and author,
// excluding whoever commented.
func (t *Triggers) challengeCommentCreated(ctx context.Context, ev domain.ChangeEvent) error {
	challenge, err := t.st.Get(ctx, domain.ChallengePath(ev.TargetID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading challenge: %w", err)
	}

	recipients := map[string]bool{}
	for _, email := range challenge.Strings("participants") {
		recipients[email] = true
	}
	if author := challenge.Str("userEmail"); author != "" {
		recipients[author] = true
	}
	delete(recipients, ev.UserEmail)

	return t.fanOut(ctx, recipients, domain.Notification{
		Title:     "New comment",
		Body:      fmt.Sprintf("%s commented on %s", commenterName(ev), challenge.Str("title")),
		Type:      domain.NotificationComment,
		RelatedID: ev.TargetID,
	})
}

// freeTalkCommentCreated notifies the post author and everyone who commented
// before, excluding whoever commented.
func (t *Triggers) freeTalkCommentCreated(ctx context.Context, ev domain.ChangeEvent) error {
	postPath := domain.ColFreeTalks + "/" + ev.TargetID
	post, err := t.st.Get(ctx, postPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading post: %w", err)
	}

	recipients := map[string]bool{}
	if author := post.Str("userEmail"); author != "" {
		recipients[author] = true
	}
	comments, err := t.st.Query(ctx, store.Query{Collection: postPath + "/comments"})
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}
	for _, comment := range comments {
		if email := comment.Str("userEmail"); email != "" {
			recipients[email] = true
		}
	}
	delete(recipients, ev.UserEmail)

	return t.fanOut(ctx, recipients, domain.Notification{
		Title:     "New comment",
		Body:      fmt.Sprintf("%s commented on %s", commenterName(ev), post.Str("title")),
		Type:      domain.NotificationComment,
		RelatedID: ev.TargetID,
	})
}

// userUpdated propagates a nickname change into any existing snapshot rows.
// Snapshot entries are derived data, but they survive until the next rebuild
// and would show the stale name all day.
func (t *Triggers) userUpdated(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.NewNickname == "" || ev.NewNickname == ev.PreviousNickname {
		return nil
	}

	for _, p := range []domain.Period{domain.PeriodWeekly, domain.PeriodMonthly} {
		path := domain.LeaderboardUsersCol(p) + "/" + ev.UserEmail
		ok, err := exists(ctx, t.st, path)
		if err != nil {
			return fmt.Errorf("checking snapshot entry: %w", err)
		}
		if !ok {
			continue
		}
		err = t.st.Commit(ctx, []store.Op{store.Update(path, map[string]interface{}{
			"nickname": ev.NewNickname,
		})})
		if err != nil {
			return fmt.Errorf("updating snapshot entry: %w", err)
		}
	}
	return nil
}

func (t *Triggers) fanOut(ctx context.Context, recipients map[string]bool, n domain.Notification) error {
	if len(recipients) == 0 {
		return nil
	}
	emails := make([]string, 0, len(recipients))
	for email := range recipients {
		emails = append(emails, email)
	}
	return t.feed.SendToUsers(ctx, emails, n)
}

func commenterName(ev domain.ChangeEvent) string {
	if ev.Nickname != "" {
		return ev.Nickname
	}
	return ev.UserEmail
}
