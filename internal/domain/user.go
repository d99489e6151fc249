package domain

// AdminRole values, ordered by privilege.
const (
	RoleUser         = "user"
	RoleAdmin        = "admin"
	RoleGeneralAdmin = "general_admin"
	RoleSuperAdmin   = "super_admin"
)

// ValidAdminRoles lists the roles assignable through the admin API.
var ValidAdminRoles = []string{RoleGeneralAdmin, RoleAdmin, RoleSuperAdmin}

// Period identifies a leaderboard accumulation window.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ExpField returns the user-profile counter field for the period.
func (p Period) ExpField() string {
	if p == PeriodMonthly {
		return "monthlyExp"
	}
	return "weeklyExp"
}

// HistoryField returns the user-profile ranking-history field for the period.
func (p Period) HistoryField() string {
	if p == PeriodMonthly {
		return "hallOfFame"
	}
	return "weeklyHistory"
}

// Principal is the authenticated actor invoking an operation.
type Principal struct {
	UID              string
	Email            string
	Role             string
	AdminPermissions map[string]bool
}

// IsAdmin reports whether the principal carries any admin role.
func (p *Principal) IsAdmin() bool {
	switch p.Role {
	case RoleAdmin, RoleGeneralAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// UserSearchResult is one entry of a nickname search, annotated with the
// friendship status relative to the caller.
type UserSearchResult struct {
	Email            string `json:"email"`
	Nickname         string `json:"nickname"`
	ProfileImageURL  string `json:"profileImageUrl,omitempty"`
	FriendshipStatus string `json:"friendshipStatus"`
}

// Friendship status values returned by user search.
const (
	FriendshipFriends         = "friends"
	FriendshipPendingSent     = "pending_sent"
	FriendshipPendingReceived = "pending_received"
	FriendshipNone            = "none"
)
