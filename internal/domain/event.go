package domain

// Change-event types consumed from the data-change topic.
const (
	ChangeRunningRecordCreated = "running_record_created"
	ChangeChallengeComment     = "challenge_comment_created"
	ChangeFreeTalkComment      = "free_talk_comment_created"
	ChangeUserUpdated          = "user_updated"
)

// ChangeEvent is one data-change message. Fields beyond Type and UserEmail
// are populated per event type.
type ChangeEvent struct {
	Type      string `json:"type"`
	UserEmail string `json:"userEmail"`

	// Running record fields.
	DistanceKm float64 `json:"distanceKm,omitempty"`
	RecordedAt string  `json:"recordedAt,omitempty"`

	// Comment fields.
	TargetID string `json:"targetId,omitempty"`
	Nickname string `json:"nickname,omitempty"`

	// Profile update fields.
	PreviousNickname string `json:"previousNickname,omitempty"`
	NewNickname      string `json:"newNickname,omitempty"`
}
