package domain

// Document path scheme. Users are keyed by email; nickname reservations by
// the lowercased nickname; chat rooms by the canonical pair id.

// Top-level collections.
const (
	ColUsers           = "users"
	ColNicknames       = "nicknames"
	ColChallenges      = "challenges"
	ColEventChallenges = "eventChallenges"
	ColFreeTalks       = "freeTalks"
	ColChatRooms       = "chatRooms"
	ColBattles         = "battles"
	ColAsyncBattles    = "asyncBattles"
	ColAnnouncements   = "announcements"
	ColAdminChat       = "adminChat"
	ColNotifications   = "notifications"
	ColRunningData     = "runningData"
	ColRunningGoals    = "runningGoals"
	ColGhostRuns       = "ghostRuns"
	ColMetadata        = "metadata"
)

// Collection-group names for cross-user sweeps.
const (
	GroupFriends        = "friends"
	GroupFriendRequests = "friendRequests"
	GroupComments       = "comments"
)

func UserPath(email string) string          { return ColUsers + "/" + email }
func NicknamePath(nickname string) string   { return ColNicknames + "/" + nickname }
func FriendsCol(email string) string        { return UserPath(email) + "/friends" }
func FriendPath(owner, friend string) string {
	return FriendsCol(owner) + "/" + friend
}
func FriendRequestsCol(email string) string { return UserPath(email) + "/friendRequests" }
func FriendRequestPath(recipient, sender string) string {
	return FriendRequestsCol(recipient) + "/" + sender
}
func NotificationItemsCol(email string) string {
	return ColNotifications + "/" + email + "/items"
}
func ChatRoomPath(a, b string) string { return ColChatRooms + "/" + ChatRoomID(a, b) }
func ChatMessagesCol(roomID string) string {
	return ColChatRooms + "/" + roomID + "/messages"
}
func BattlePath(id string) string      { return ColBattles + "/" + id }
func AsyncBattlePath(id string) string { return ColAsyncBattles + "/" + id }
func ChallengePath(id string) string   { return ColChallenges + "/" + id }
func EventChallengePath(id string) string {
	return ColEventChallenges + "/" + id
}
func EventParticipantsCol(eventID string) string {
	return EventChallengePath(eventID) + "/participants"
}
func WorkoutsCol(email string) string {
	return ColRunningData + "/" + email + "/workouts"
}
func WorkoutRecordsCol(email, workoutID string) string {
	return WorkoutsCol(email) + "/" + workoutID + "/records"
}

// LeaderboardUsersCol returns the snapshot collection for a period.
func LeaderboardUsersCol(p Period) string {
	if p == PeriodMonthly {
		return "monthlyLeaderboard/current/users"
	}
	return "weeklyLeaderboard/current/users"
}

// PreviousWinnersPath returns the archived-winners metadata document.
func PreviousWinnersPath(p Period) string {
	if p == PeriodMonthly {
		return ColMetadata + "/previousMonthWinners"
	}
	return ColMetadata + "/previousWeekWinners"
}
