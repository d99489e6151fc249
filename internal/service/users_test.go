package service

import (
	"context"
	"testing"
	"time"

	"github.com/runhub-backend/internal/auth"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store/memstore"
	"github.com/stretchr/testify/require"
)

func newUsersEnv(t *testing.T) (*Users, *memstore.Store, *auth.Memory) {
	t.Helper()
	st := memstore.New()
	authSvc := auth.NewMemory()
	feed, _ := testFeed(st)
	accounts := NewAccounts(st, authSvc, &testConfig().Limits, testLogger())
	return NewUsers(st, authSvc, accounts, feed, testConfig(), testLogger()), st, authSvc
}

func TestPurgeUnverified(t *testing.T) {
	u, st, authSvc := newUsersEnv(t)
	ctx := context.Background()
	now := time.Now()

	authSvc.Add(auth.User{UID: "u1", Email: "stale@example.com", EmailVerified: false, CreatedAt: now.Add(-time.Hour)})
	authSvc.Add(auth.User{UID: "u2", Email: "fresh@example.com", EmailVerified: false, CreatedAt: now.Add(-time.Minute)})
	authSvc.Add(auth.User{UID: "u3", Email: "verified@example.com", EmailVerified: true, CreatedAt: now.Add(-time.Hour)})
	seedUser(st, "stale@example.com", "stale", nil)

	require.NoError(t, u.PurgeUnverified(ctx, now))

	_, err := authSvc.GetByEmail(ctx, "stale@example.com")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
	require.Empty(t, st.PathsUnder(domain.UserPath("stale@example.com")))

	// Inside the grace period and verified accounts survive.
	_, err = authSvc.GetByEmail(ctx, "fresh@example.com")
	require.NoError(t, err)
	_, err = authSvc.GetByEmail(ctx, "verified@example.com")
	require.NoError(t, err)
}

func TestPurgeIncomplete(t *testing.T) {
	u, st, authSvc := newUsersEnv(t)
	ctx := context.Background()
	now := time.Now()

	authSvc.Add(auth.User{UID: "u1", Email: "noprofile@example.com", EmailVerified: true, CreatedAt: now.Add(-time.Hour)})
	authSvc.Add(auth.User{UID: "u2", Email: "nonickname@example.com", EmailVerified: true, CreatedAt: now.Add(-time.Hour)})
	authSvc.Add(auth.User{UID: "u3", Email: "complete@example.com", EmailVerified: true, CreatedAt: now.Add(-time.Hour)})
	st.Seed(domain.UserPath("nonickname@example.com"), map[string]interface{}{"birthdate": "1990-01-01"})
	seedUser(st, "complete@example.com", "done", map[string]interface{}{"birthdate": "1990-01-01"})

	require.NoError(t, u.PurgeIncomplete(ctx, now))

	_, err := authSvc.GetByEmail(ctx, "noprofile@example.com")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
	_, err = authSvc.GetByEmail(ctx, "nonickname@example.com")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
	_, err = authSvc.GetByEmail(ctx, "complete@example.com")
	require.NoError(t, err)
}

func TestSendBirthdayGreetings(t *testing.T) {
	u, st, _ := newUsersEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	seedUser(st, "birthday@example.com", "cake", map[string]interface{}{"birthdate": "1992-08-29"})
	seedUser(st, "other@example.com", "other", map[string]interface{}{"birthdate": "1992-08-30"})
	seedUser(st, "nodate@example.com", "nodate", nil)

	require.NoError(t, u.SendBirthdayGreetings(ctx, now))

	require.Len(t, st.PathsUnder(domain.NotificationItemsCol("birthday@example.com")), 1)
	require.Empty(t, st.PathsUnder(domain.NotificationItemsCol("other@example.com")))
	require.Empty(t, st.PathsUnder(domain.NotificationItemsCol("nodate@example.com")))
}
