package domain

// Notification feed item types.
const (
	NotificationFriendRequest  = "friend_request"
	NotificationFriendAccepted = "friend_accepted"
	NotificationBattleRequest  = "battle_request"
	NotificationBattleTurn     = "battle_turn"
	NotificationBattleResult   = "battle_result"
	NotificationBattleCancel   = "battle_cancelled"
	NotificationComment        = "comment"
	NotificationAdminBroadcast = "admin_broadcast"
	NotificationAdminPersonal  = "admin_personal"
)

// Notification is an append-only feed entry delivered to a recipient.
type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	RelatedID string `json:"relatedId,omitempty"`
}
