package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/runhub-backend/internal/auth"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/store"
)

// Users runs the scheduled identity sweeps: purging abandoned signups and
// sending birthday greetings.
type Users struct {
	st       store.Store
	auth     auth.Service
	accounts *Accounts
	feed     *notify.Feed
	logger   *slog.Logger
	grace    time.Duration
	pageSize int
}

// NewUsers creates the user sweep service.
func NewUsers(st store.Store, authSvc auth.Service, accounts *Accounts, feed *notify.Feed, cfg *config.Config, logger *slog.Logger) *Users {
	return &Users{
		st:       st,
		auth:     authSvc,
		accounts: accounts,
		feed:     feed,
		logger:   logger,
		grace:    cfg.Scheduler.GracePeriod,
		pageSize: cfg.Limits.AuthPageSize,
	}
}

// PurgeUnverified removes accounts that never verified their email within
// the grace period, data first, identity last.
func (u *Users) PurgeUnverified(ctx context.Context, now time.Time) error {
	return u.sweepIdentities(ctx, "unverified", func(ctx context.Context, user *auth.User) (bool, error) {
		if user.EmailVerified {
			return false, nil
		}
		return now.Sub(user.CreatedAt) >= u.grace, nil
	})
}

// PurgeIncomplete removes accounts whose signup never produced a usable
// profile: no nickname or no birthdate after the grace period.
func (u *Users) PurgeIncomplete(ctx context.Context, now time.Time) error {
	return u.sweepIdentities(ctx, "incomplete", func(ctx context.Context, user *auth.User) (bool, error) {
		if now.Sub(user.CreatedAt) < u.grace {
			return false, nil
		}
		profile, err := u.st.Get(ctx, domain.UserPath(user.Email))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return true, nil
			}
			return false, err
		}
		return profile.Str("nickname") == "" || profile.Str("birthdate") == "", nil
	})
}

// sweepIdentities pages the identity listing and purges every principal the
// predicate selects. Per-user failures are logged and the sweep continues;
// the next run retries whatever is left.
func (u *Users) sweepIdentities(ctx context.Context, reason string, match func(context.Context, *auth.User) (bool, error)) error {
	purged := 0
	token := ""
	for {
		page, err := u.auth.List(ctx, u.pageSize, token)
		if err != nil {
			return fmt.Errorf("listing identities: %w", err)
		}

		for i := range page.Users {
			user := &page.Users[i]
			matched, err := match(ctx, user)
			if err != nil {
				u.logger.Error("identity sweep check failed", "reason", reason, "email", user.Email, "error", err)
				continue
			}
			if !matched {
				continue
			}

			for _, r := range u.accounts.PurgeUserData(ctx, user.Email) {
				if r.Err != nil {
					u.logger.Error("identity sweep purge step failed",
						"reason", reason, "email", user.Email, "step", r.Name, "error", r.Err)
				}
			}
			if err := u.auth.Delete(ctx, user.UID); err != nil && !errors.Is(err, auth.ErrUserNotFound) {
				u.logger.Error("identity delete failed", "reason", reason, "email", user.Email, "error", err)
				continue
			}
			purged++
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if purged > 0 {
		u.logger.Info("identity sweep completed", "reason", reason, "purged", purged)
	}
	return nil
}

// SendBirthdayGreetings notifies every user whose stored birthdate falls on
// today's month and day.
func (u *Users) SendBirthdayGreetings(ctx context.Context, now time.Time) error {
	monthDay := now.Format("-01-02")
	sent := 0
	cursor := ""
	for {
		users, err := u.st.Query(ctx, store.Query{
			Collection: domain.ColUsers,
			Limit:      u.pageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		if len(users) == 0 {
			break
		}

		for _, user := range users {
			birthdate := user.Str("birthdate")
			if birthdate == "" || !strings.HasSuffix(birthdate, monthDay) {
				continue
			}
			nickname := user.Str("nickname")
			if nickname == "" {
				nickname = user.ID
			}
			err := u.feed.SendToUser(ctx, user.ID, domain.Notification{
				Title: "Happy birthday!",
				Body:  fmt.Sprintf("Happy birthday, %s! Have a great run today.", nickname),
				Type:  domain.NotificationAdminPersonal,
			})
			if err != nil {
				u.logger.Warn("birthday notification failed", "email", user.ID, "error", err)
				continue
			}
			sent++
		}
		cursor = users[len(users)-1].ID
	}

	if sent > 0 {
		u.logger.Info("birthday greetings sent", "count", sent)
	}
	return nil
}
