package domain

// Synchronous battle statuses.
const (
	BattleStatusPending   = "pending"
	BattleStatusAccepted  = "accepted"
	BattleStatusRejected  = "rejected"
	BattleStatusRunning   = "running"
	BattleStatusFinished  = "finished"
	BattleStatusCancelled = "cancelled"
)

// Responses accepted by RespondToBattleRequest.
const (
	BattleResponseAccept = "accept"
	BattleResponseReject = "reject"
)

// RunResult is one participant's submitted run for an asynchronous battle.
type RunResult struct {
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	DistanceKm     float64 `json:"distanceKm"`
	AveragePace    string  `json:"averagePace,omitempty"`
	CompletedAt    string  `json:"completedAt,omitempty"`
}

// BattleRequestInput creates a battle (synchronous or asynchronous).
type BattleRequestInput struct {
	OpponentEmail    string  `json:"opponentEmail"`
	TargetDistanceKm float64 `json:"targetDistanceKm"`
	Nickname         string  `json:"nickname,omitempty"`
}

// BattleRespondInput answers a pending synchronous battle request.
type BattleRespondInput struct {
	BattleID string `json:"battleId"`
	Response string `json:"response"`
}

// BattleCompleteInput submits a run for an asynchronous battle.
type BattleCompleteInput struct {
	BattleID string    `json:"battleId"`
	RunData  RunResult `json:"runData"`
	Nickname string    `json:"nickname,omitempty"`
}
