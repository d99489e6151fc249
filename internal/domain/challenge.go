package domain

// Event challenge lifecycle statuses.
const (
	EventStatusActive      = "active"
	EventStatusCalculating = "calculating"
	EventStatusEnded       = "ended"
)
