package service

import (
	"context"
	"testing"

	"github.com/runhub-backend/internal/auth"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/push"
	"github.com/runhub-backend/internal/store/memstore"
	"github.com/stretchr/testify/require"
)

const superEmail = "super@example.com"

func newAdminEnv(t *testing.T) (*Admin, *memstore.Store, *auth.Memory, *push.Recorder) {
	t.Helper()
	st := memstore.New()
	authSvc := auth.NewMemory()
	feed, rec := testFeed(st)
	cfg := config.DefaultConfig()
	cfg.Auth.SuperAdminEmail = superEmail
	return NewAdmin(st, authSvc, feed, cfg, testLogger()), st, authSvc, rec
}

func TestSetAdminRoleHierarchy(t *testing.T) {
	a, st, authSvc, _ := newAdminEnv(t)
	ctx := context.Background()
	authSvc.Add(auth.User{UID: "t1", Email: "target@example.com"})
	seedUser(st, "target@example.com", "target", nil)

	superAdmin := adminPrincipal(superEmail, domain.RoleSuperAdmin)
	generalAdmin := adminPrincipal("general@example.com", domain.RoleGeneralAdmin)
	plainAdmin := adminPrincipal("plain@example.com", domain.RoleAdmin)

	tests := []struct {
		name     string
		caller   *domain.Principal
		email    string
		role     string
		perms    map[string]bool
		wantKind domain.ErrorKind
	}{
		{"non-admin caller", userPrincipal("user@example.com"), "target@example.com", domain.RoleAdmin, map[string]bool{"notices": true}, domain.KindPermissionDenied},
		{"plain admin cannot manage roles", plainAdmin, "target@example.com", domain.RoleAdmin, map[string]bool{"notices": true}, domain.KindPermissionDenied},
		{"invalid role", superAdmin, "target@example.com", "owner", nil, domain.KindInvalidArgument},
		{"general admin cannot grant super", generalAdmin, "target@example.com", domain.RoleSuperAdmin, nil, domain.KindPermissionDenied},
		{"general admin cannot appoint general", generalAdmin, "target@example.com", domain.RoleGeneralAdmin, nil, domain.KindPermissionDenied},
		{"general admin cannot touch super account", generalAdmin, superEmail, domain.RoleAdmin, map[string]bool{"notices": true}, domain.KindPermissionDenied},
		{"admin role needs permissions", superAdmin, "target@example.com", domain.RoleAdmin, nil, domain.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.SetAdminRole(ctx, tt.caller, tt.email, tt.role, tt.perms)
			require.Equal(t, tt.wantKind, domain.KindOf(err))
		})
	}

	// The happy path sets claims and mirrors the role onto the profile.
	require.NoError(t, a.SetAdminRole(ctx, superAdmin, "target@example.com", domain.RoleAdmin, map[string]bool{"notices": true}))
	user, err := authSvc.GetByEmail(ctx, "target@example.com")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, user.Claims["role"])
	require.Equal(t, true, user.Claims["isAdmin"])
	profile, err := st.Get(ctx, domain.UserPath("target@example.com"))
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, profile.Str("role"))

	// A general admin may grant the plain admin role to a regular account.
	require.NoError(t, a.SetAdminRole(ctx, generalAdmin, "target@example.com", domain.RoleAdmin, map[string]bool{"events": true}))
}

func TestRemoveAdminRole(t *testing.T) {
	a, _, authSvc, _ := newAdminEnv(t)
	ctx := context.Background()
	superAdmin := adminPrincipal(superEmail, domain.RoleSuperAdmin)
	generalAdmin := adminPrincipal("general@example.com", domain.RoleGeneralAdmin)

	authSvc.Add(auth.User{UID: "t1", Email: "demoted@example.com", Claims: map[string]interface{}{"role": domain.RoleAdmin}})
	authSvc.Add(auth.User{UID: "t2", Email: "bigshot@example.com", Claims: map[string]interface{}{"role": domain.RoleSuperAdmin}})

	// Absent identity is success.
	require.NoError(t, a.RemoveAdminRole(ctx, superAdmin, "ghost@example.com"))

	// The super admin account itself is untouchable.
	err := a.RemoveAdminRole(ctx, superAdmin, superEmail)
	require.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	// Only a super admin may demote a super admin.
	err = a.RemoveAdminRole(ctx, generalAdmin, "bigshot@example.com")
	require.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	require.NoError(t, a.RemoveAdminRole(ctx, superAdmin, "demoted@example.com"))
	user, err := authSvc.GetByEmail(ctx, "demoted@example.com")
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, user.Claims["role"])
}

func TestSetSuperAdminRole(t *testing.T) {
	a, _, authSvc, _ := newAdminEnv(t)
	ctx := context.Background()
	authSvc.Add(auth.User{UID: "s1", Email: superEmail})

	// Only the configured account may bootstrap itself.
	err := a.SetSuperAdminRole(ctx, userPrincipal("someone@example.com"))
	require.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	require.NoError(t, a.SetSuperAdminRole(ctx, userPrincipal(superEmail)))
	user, err := authSvc.GetByEmail(ctx, superEmail)
	require.NoError(t, err)
	require.Equal(t, domain.RoleSuperAdmin, user.Claims["role"])
}

func TestNotifyAllUsers(t *testing.T) {
	a, st, _, rec := newAdminEnv(t)
	ctx := context.Background()
	seedUser(st, "a@example.com", "a", nil)
	seedUser(st, "b@example.com", "b", nil)

	err := a.NotifyAllUsers(ctx, userPrincipal("user@example.com"), "t", "m")
	require.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	err = a.NotifyAllUsers(ctx, adminPrincipal("admin@example.com", domain.RoleAdmin), " ", "m")
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	require.NoError(t, a.NotifyAllUsers(ctx, adminPrincipal("admin@example.com", domain.RoleAdmin), "Maintenance", "Back at noon"))

	require.Len(t, st.PathsUnder(domain.NotificationItemsCol("a@example.com")), 1)
	require.Len(t, st.PathsUnder(domain.NotificationItemsCol("b@example.com")), 1)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "all", msgs[0].Topic)
	require.Equal(t, "Maintenance", msgs[0].Title)
}

func TestNotifyUser(t *testing.T) {
	a, st, _, rec := newAdminEnv(t)
	ctx := context.Background()
	seedUser(st, "target@example.com", "target", map[string]interface{}{"fcmToken": "tok-1"})

	err := a.NotifyUser(ctx, adminPrincipal("admin@example.com", domain.RoleAdmin), "ghost@example.com", "t", "m")
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))

	require.NoError(t, a.NotifyUser(ctx, adminPrincipal("admin@example.com", domain.RoleAdmin), "target@example.com", "Hello", "Check in"))
	require.Len(t, st.PathsUnder(domain.NotificationItemsCol("target@example.com")), 1)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "tok-1", msgs[0].Token)
}

func TestClearAdminChat(t *testing.T) {
	a, st, _, _ := newAdminEnv(t)
	ctx := context.Background()
	st.Seed(domain.ColAdminChat+"/m1", map[string]interface{}{"text": "one"})
	st.Seed(domain.ColAdminChat+"/m2", map[string]interface{}{"text": "two"})

	require.NoError(t, a.ClearAdminChat(ctx, adminPrincipal("admin@example.com", domain.RoleAdmin)))
	require.Empty(t, st.PathsUnder(domain.ColAdminChat+"/"))
}

func TestAnnouncements(t *testing.T) {
	a, st, _, _ := newAdminEnv(t)
	ctx := context.Background()
	admin := adminPrincipal("admin@example.com", domain.RoleAdmin)

	_, err := a.CreateAnnouncement(ctx, admin, "", "body")
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	id, err := a.CreateAnnouncement(ctx, admin, "Release", "New routes are live")
	require.NoError(t, err)

	doc, err := st.Get(ctx, domain.ColAnnouncements+"/"+id)
	require.NoError(t, err)
	require.Equal(t, "Release", doc.Str("title"))
	require.True(t, doc.Bool("isMain"))
	require.Equal(t, "admin@example.com", doc.Str("createdBy"))

	require.NoError(t, a.RemoveAnnouncement(ctx, admin, id))
	// Removing again is success.
	require.NoError(t, a.RemoveAnnouncement(ctx, admin, id))
}
