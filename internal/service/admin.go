package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/runhub-backend/internal/auth"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/store"
)

// Admin implements privileged operations: role management, broadcast and
// targeted notifications, admin chat maintenance, and announcements.
type Admin struct {
	st              store.Store
	auth            auth.Service
	feed            *notify.Feed
	logger          *slog.Logger
	superAdminEmail string
	pageSize        int
}

// NewAdmin creates the admin service.
func NewAdmin(st store.Store, authSvc auth.Service, feed *notify.Feed, cfg *config.Config, logger *slog.Logger) *Admin {
	return &Admin{
		st:              st,
		auth:            authSvc,
		feed:            feed,
		logger:          logger,
		superAdminEmail: cfg.Auth.SuperAdminEmail,
		pageSize:        cfg.Limits.PurgePageSize,
	}
}

// SetAdminRole grants an admin role. Hierarchy rules: only a super admin may
// grant super_admin or touch the configured super-admin account, and a
// general admin may not appoint another general admin. The admin role
// requires an explicit permissions set.
func (a *Admin) SetAdminRole(ctx context.Context, caller *domain.Principal, email, role string, permissions map[string]bool) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if caller.Role == domain.RoleAdmin {
		return domain.PermissionDenied("role management requires a general or super admin")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.InvalidArgument("email is required")
	}

	valid := false
	for _, r := range domain.ValidAdminRoles {
		if role == r {
			valid = true
			break
		}
	}
	if !valid {
		return domain.InvalidArgument("invalid role: " + role)
	}

	if role == domain.RoleSuperAdmin && caller.Role != domain.RoleSuperAdmin {
		return domain.PermissionDenied("only a super admin may grant super_admin")
	}
	if role == domain.RoleGeneralAdmin && caller.Role != domain.RoleSuperAdmin {
		return domain.PermissionDenied("only a super admin may appoint a general admin")
	}
	if email == a.superAdminEmail && caller.Role != domain.RoleSuperAdmin {
		return domain.PermissionDenied("the super admin account cannot be modified")
	}
	if role == domain.RoleAdmin && len(permissions) == 0 {
		return domain.InvalidArgument("the admin role requires a permissions set")
	}

	user, err := a.auth.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return domain.NotFound("user not found")
		}
		return domain.Internal("resolving user", err)
	}

	claims := map[string]interface{}{
		"role":    role,
		"isAdmin": true,
	}
	if role == domain.RoleAdmin {
		perms := make(map[string]interface{}, len(permissions))
		for k, v := range permissions {
			perms[k] = v
		}
		claims["adminPermissions"] = perms
	}
	if err := a.auth.SetClaims(ctx, user.UID, claims); err != nil {
		return domain.Internal("setting claims", err)
	}

	if err := a.st.Commit(ctx, []store.Op{store.Update(domain.UserPath(email), map[string]interface{}{
		"role": role,
	})}); err != nil && !errors.Is(err, store.ErrNotFound) {
		a.logger.Warn("updating profile role failed", "email", email, "error", err)
	}

	a.logger.Info("admin role granted", "email", email, "role", role, "by", caller.Email)
	return nil
}

// RemoveAdminRole resets a user's role to plain user. An absent auth
// principal is treated as success, keeping removal idempotent.
func (a *Admin) RemoveAdminRole(ctx context.Context, caller *domain.Principal, email string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if caller.Role == domain.RoleAdmin {
		return domain.PermissionDenied("role management requires a general or super admin")
	}
	if email == "" {
		return domain.InvalidArgument("email is required")
	}
	if email == a.superAdminEmail {
		return domain.PermissionDenied("the super admin account cannot be modified")
	}

	user, err := a.auth.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil
		}
		return domain.Internal("resolving user", err)
	}
	if role, _ := user.Claims["role"].(string); role == domain.RoleSuperAdmin && caller.Role != domain.RoleSuperAdmin {
		return domain.PermissionDenied("only a super admin may remove a super admin")
	}

	if err := a.auth.SetClaims(ctx, user.UID, map[string]interface{}{
		"role": domain.RoleUser,
	}); err != nil {
		return domain.Internal("clearing claims", err)
	}

	if err := a.st.Commit(ctx, []store.Op{store.Update(domain.UserPath(email), map[string]interface{}{
		"role": domain.RoleUser,
	})}); err != nil {
		a.logger.Warn("updating profile role failed", "email", email, "error", err)
	}

	a.logger.Info("admin role removed", "email", email, "by", caller.Email)
	return nil
}

// SetSuperAdminRole bootstraps the configured super-admin account. Only the
// account itself may invoke it.
func (a *Admin) SetSuperAdminRole(ctx context.Context, caller *domain.Principal) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}
	if a.superAdminEmail == "" || caller.Email != a.superAdminEmail {
		return domain.PermissionDenied("not the super admin account")
	}

	user, err := a.auth.GetByEmail(ctx, caller.Email)
	if err != nil {
		return domain.Internal("resolving user", err)
	}
	if err := a.auth.SetClaims(ctx, user.UID, map[string]interface{}{
		"role":    domain.RoleSuperAdmin,
		"isAdmin": true,
	}); err != nil {
		return domain.Internal("setting claims", err)
	}
	a.logger.Info("super admin role granted", "email", caller.Email)
	return nil
}

// NotifyAllUsers pushes to the shared broadcast topic and appends a feed
// item for every user, batched under the commit ceiling.
func (a *Admin) NotifyAllUsers(ctx context.Context, caller *domain.Principal, title, message string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	title, message = strings.TrimSpace(title), strings.TrimSpace(message)
	if title == "" || message == "" {
		return domain.InvalidArgument("title and message are required")
	}

	n := domain.Notification{Title: title, Body: message, Type: domain.NotificationAdminBroadcast}
	if err := a.feed.Broadcast(ctx, n); err != nil {
		a.logger.Warn("broadcast push failed", "error", err)
	}

	// Page the user table; the topic push already covers delivery, so only
	// feed items are written here.
	now := store.Timestamp(time.Now())
	bw := store.NewBatchWriter(a.st)
	cursor := ""
	for {
		users, err := a.st.Query(ctx, store.Query{
			Collection: domain.ColUsers,
			Limit:      a.pageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return domain.Internal("listing users", err)
		}
		if len(users) == 0 {
			break
		}
		for _, user := range users {
			item := map[string]interface{}{
				"title":     title,
				"body":      message,
				"type":      domain.NotificationAdminBroadcast,
				"isRead":    false,
				"createdAt": now,
			}
			path := domain.NotificationItemsCol(user.ID) + "/" + uuid.NewString()
			if err := bw.Set(ctx, path, item); err != nil {
				return domain.Internal("writing feed items", err)
			}
		}
		cursor = users[len(users)-1].ID
	}
	written, err := bw.Flush(ctx)
	if err != nil {
		return domain.Internal("writing feed items", err)
	}

	a.logger.Info("broadcast notification sent", "items", written, "by", caller.Email)
	return nil
}

// NotifyUser stores a feed item for one user and pushes if they have a
// device token.
func (a *Admin) NotifyUser(ctx context.Context, caller *domain.Principal, targetEmail, title, message string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	title, message = strings.TrimSpace(title), strings.TrimSpace(message)
	if targetEmail == "" || title == "" || message == "" {
		return domain.InvalidArgument("target email, title and message are required")
	}

	if ok, err := exists(ctx, a.st, domain.UserPath(targetEmail)); err != nil {
		return domain.Internal("looking up user", err)
	} else if !ok {
		return domain.NotFound("user not found")
	}

	if err := a.feed.SendToUser(ctx, targetEmail, domain.Notification{
		Title: title,
		Body:  message,
		Type:  domain.NotificationAdminPersonal,
	}); err != nil {
		return domain.Internal("sending notification", err)
	}
	return nil
}

// ClearAdminChat purges the shared admin chat collection.
func (a *Admin) ClearAdminChat(ctx context.Context, caller *domain.Principal) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	deleted, err := store.Purge(ctx, a.st, domain.ColAdminChat, a.pageSize)
	if err != nil {
		return domain.Internal("clearing admin chat", err)
	}
	a.logger.Info("admin chat cleared", "messages", deleted, "by", caller.Email)
	return nil
}

// CreateAnnouncement stores a main announcement and returns its id.
func (a *Admin) CreateAnnouncement(ctx context.Context, caller *domain.Principal, title, message string) (string, error) {
	if err := requireAdmin(caller); err != nil {
		return "", err
	}
	title, message = strings.TrimSpace(title), strings.TrimSpace(message)
	if title == "" || message == "" {
		return "", domain.InvalidArgument("title and message are required")
	}

	id := uuid.NewString()
	announcement := map[string]interface{}{
		"title":     title,
		"message":   message,
		"isMain":    true,
		"createdBy": caller.Email,
		"createdAt": store.Timestamp(time.Now()),
	}
	if err := a.st.Commit(ctx, []store.Op{store.Set(domain.ColAnnouncements+"/"+id, announcement)}); err != nil {
		return "", domain.Internal("creating announcement", err)
	}
	return id, nil
}

// RemoveAnnouncement deletes an announcement. Removal of an already-absent
// announcement is success.
func (a *Admin) RemoveAnnouncement(ctx context.Context, caller *domain.Principal, announcementID string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if announcementID == "" {
		return domain.InvalidArgument("announcement id is required")
	}

	path := domain.ColAnnouncements + "/" + announcementID
	if ok, err := exists(ctx, a.st, path); err != nil {
		return domain.Internal("looking up announcement", err)
	} else if !ok {
		return nil
	}
	if err := a.st.Commit(ctx, []store.Op{store.Delete(path)}); err != nil {
		return domain.Internal("removing announcement", err)
	}
	return nil
}
