package domain

// MaxFriends caps active friend edges per user. Admins are exempt.
const MaxFriends = 30

// ChatRoomID derives the canonical room id for a pair of users. The
// lexicographically smaller id always comes first, so both participants
// compute the same room id regardless of who initiates.
func ChatRoomID(a, b string) string {
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}
