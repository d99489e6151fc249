package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store/memstore"
	"github.com/stretchr/testify/require"
)

func newFriendsEnv(t *testing.T) (*Friends, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	feed, _ := testFeed(st)
	return NewFriends(st, feed, &testConfig().Limits, testLogger()), st
}

func TestSendRequestValidation(t *testing.T) {
	f, st := newFriendsEnv(t)
	ctx := context.Background()
	seedUser(st, "alice@example.com", "alice", nil)

	tests := []struct {
		name      string
		caller    *domain.Principal
		recipient string
		wantKind  domain.ErrorKind
	}{
		{"no principal", nil, "bob@example.com", domain.KindUnauthenticated},
		{"empty recipient", userPrincipal("alice@example.com"), "  ", domain.KindInvalidArgument},
		{"self request", userPrincipal("alice@example.com"), "alice@example.com", domain.KindInvalidArgument},
		{"unknown recipient", userPrincipal("alice@example.com"), "ghost@example.com", domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.SendRequest(ctx, tt.caller, tt.recipient)
			require.Error(t, err)
			require.Equal(t, tt.wantKind, domain.KindOf(err))
		})
	}
}

func TestSendRequestCreatesPendingRequest(t *testing.T) {
	f, st := newFriendsEnv(t)
	ctx := context.Background()
	seedUser(st, "alice@example.com", "alice", nil)
	seedUser(st, "bob@example.com", "bob", nil)

	require.NoError(t, f.SendRequest(ctx, userPrincipal("alice@example.com"), "bob@example.com"))

	req, err := st.Get(ctx, domain.FriendRequestPath("bob@example.com", "alice@example.com"))
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", req.Str("senderEmail"))
	require.Equal(t, "pending", req.Str("status"))

	// A second request while the first is pending is rejected.
	err = f.SendRequest(ctx, userPrincipal("alice@example.com"), "bob@example.com")
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))

	// So is a request in the opposite direction.
	err = f.SendRequest(ctx, userPrincipal("bob@example.com"), "alice@example.com")
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))
}

func TestFriendCap(t *testing.T) {
	f, st := newFriendsEnv(t)
	ctx := context.Background()
	seedUser(st, "alice@example.com", "alice", nil)
	seedUser(st, "bob@example.com", "bob", nil)

	// 29 friends: one below the cap, the request goes through.
	for i := 0; i < 29; i++ {
		email := fmt.Sprintf("friend%02d@example.com", i)
		st.Seed(domain.FriendPath("alice@example.com", email), map[string]interface{}{"email": email})
	}
	require.NoError(t, f.SendRequest(ctx, userPrincipal("alice@example.com"), "bob@example.com"))

	// The 30th friend fills the cap.
	st.Seed(domain.FriendPath("alice@example.com", "friend29@example.com"), map[string]interface{}{
		"email": "friend29@example.com",
	})
	seedUser(st, "carol@example.com", "carol", nil)
	err := f.SendRequest(ctx, userPrincipal("alice@example.com"), "carol@example.com")
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))

	// Accepting at the cap fails the same way.
	st.Seed(domain.FriendRequestPath("alice@example.com", "dave@example.com"), map[string]interface{}{
		"senderEmail": "dave@example.com",
		"status":      "pending",
	})
	err = f.AcceptRequest(ctx, userPrincipal("alice@example.com"), "dave@example.com")
	require.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))

	// Admins are exempt from the cap.
	err = f.SendRequest(ctx, adminPrincipal("alice@example.com", domain.RoleAdmin), "carol@example.com")
	require.NoError(t, err)
}

func TestAcceptRequestCreatesBothEdges(t *testing.T) {
	f, st := newFriendsEnv(t)
	ctx := context.Background()
	seedUser(st, "alice@example.com", "alice", nil)
	seedUser(st, "bob@example.com", "bob", nil)
	require.NoError(t, f.SendRequest(ctx, userPrincipal("alice@example.com"), "bob@example.com"))

	require.NoError(t, f.AcceptRequest(ctx, userPrincipal("bob@example.com"), "alice@example.com"))

	edge, err := st.Get(ctx, domain.FriendPath("bob@example.com", "alice@example.com"))
	require.NoError(t, err)
	require.Equal(t, "alice", edge.Str("nickname"))

	back, err := st.Get(ctx, domain.FriendPath("alice@example.com", "bob@example.com"))
	require.NoError(t, err)
	require.Equal(t, "bob", back.Str("nickname"))

	_, err = st.Get(ctx, domain.FriendRequestPath("bob@example.com", "alice@example.com"))
	require.Error(t, err)
}

func TestAcceptRequestWithoutRequest(t *testing.T) {
	f, st := newFriendsEnv(t)
	seedUser(st, "bob@example.com", "bob", nil)

	err := f.AcceptRequest(context.Background(), userPrincipal("bob@example.com"), "alice@example.com")
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRejectOrRemoveTearsDownBothSides(t *testing.T) {
	f, st := newFriendsEnv(t)
	ctx := context.Background()
	seedUser(st, "alice@example.com", "alice", nil)
	seedUser(st, "bob@example.com", "bob", nil)
	st.Seed(domain.FriendPath("alice@example.com", "bob@example.com"), map[string]interface{}{"email": "bob@example.com"})
	st.Seed(domain.FriendPath("bob@example.com", "alice@example.com"), map[string]interface{}{"email": "alice@example.com"})
	roomID := domain.ChatRoomID("alice@example.com", "bob@example.com")
	st.Seed(domain.ChatRoomPath("alice@example.com", "bob@example.com"), map[string]interface{}{"participants": []interface{}{"alice@example.com", "bob@example.com"}})
	st.Seed(domain.ChatMessagesCol(roomID)+"/m1", map[string]interface{}{"text": "hi"})

	require.NoError(t, f.RejectOrRemove(ctx, userPrincipal("alice@example.com"), "bob@example.com"))

	require.Empty(t, st.PathsUnder(domain.FriendPath("alice@example.com", "bob@example.com")))
	require.Empty(t, st.PathsUnder(domain.FriendPath("bob@example.com", "alice@example.com")))
	require.Empty(t, st.PathsUnder(domain.ColChatRooms+"/"+roomID))

	// Removing an absent friendship is still success.
	require.NoError(t, f.RejectOrRemove(ctx, userPrincipal("alice@example.com"), "bob@example.com"))
}

func TestSearchAnnotatesFriendshipStatus(t *testing.T) {
	f, st := newFriendsEnv(t)
	ctx := context.Background()
	seedUser(st, "alice@example.com", "alice", nil)
	seedUser(st, "bob@example.com", "runner", nil)
	seedUser(st, "carol@example.com", "runner", nil)
	seedUser(st, "dave@example.com", "runner", nil)
	seedUser(st, "erin@example.com", "runner", nil)

	st.Seed(domain.FriendPath("alice@example.com", "bob@example.com"), map[string]interface{}{"email": "bob@example.com"})
	st.Seed(domain.FriendRequestPath("carol@example.com", "alice@example.com"), map[string]interface{}{"senderEmail": "alice@example.com"})
	st.Seed(domain.FriendRequestPath("alice@example.com", "dave@example.com"), map[string]interface{}{"senderEmail": "dave@example.com"})

	results, err := f.Search(ctx, userPrincipal("alice@example.com"), "runner")
	require.NoError(t, err)
	require.Len(t, results, 4)

	byEmail := map[string]string{}
	for _, r := range results {
		byEmail[r.Email] = r.FriendshipStatus
	}
	require.Equal(t, domain.FriendshipFriends, byEmail["bob@example.com"])
	require.Equal(t, domain.FriendshipPendingSent, byEmail["carol@example.com"])
	require.Equal(t, domain.FriendshipPendingReceived, byEmail["dave@example.com"])
	require.Equal(t, domain.FriendshipNone, byEmail["erin@example.com"])
}

func TestSearchExcludesCaller(t *testing.T) {
	f, st := newFriendsEnv(t)
	seedUser(st, "alice@example.com", "runner", nil)

	results, err := f.Search(context.Background(), userPrincipal("alice@example.com"), "runner")
	require.NoError(t, err)
	require.Empty(t, results)
}
