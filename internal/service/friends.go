package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/store"
)

// Friends manages friend requests, friend edges, and user search.
type Friends struct {
	st          store.Store
	feed        *notify.Feed
	logger      *slog.Logger
	maxFriends  int
	searchLimit int
}

// NewFriends creates the friends service.
func NewFriends(st store.Store, feed *notify.Feed, limits *config.LimitsConfig, logger *slog.Logger) *Friends {
	return &Friends{
		st:          st,
		feed:        feed,
		logger:      logger,
		maxFriends:  limits.MaxFriends,
		searchLimit: limits.SearchLimit,
	}
}

// SendRequest creates a pending friend request addressed to the recipient.
func (f *Friends) SendRequest(ctx context.Context, caller *domain.Principal, recipientEmail string) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		return domain.InvalidArgument("recipient email is required")
	}
	if recipientEmail == caller.Email {
		return domain.InvalidArgument("cannot send a friend request to yourself")
	}

	recipient, err := f.st.Get(ctx, domain.UserPath(recipientEmail))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("user not found")
		}
		return domain.Internal("looking up recipient", err)
	}

	if err := f.checkFriendCap(ctx, caller); err != nil {
		return err
	}

	alreadyFriends, err := exists(ctx, f.st, domain.FriendPath(caller.Email, recipientEmail))
	if err != nil {
		return domain.Internal("checking friendship", err)
	}
	if alreadyFriends {
		return domain.FailedPrecondition("already friends")
	}
	for _, path := range []string{
		domain.FriendRequestPath(recipientEmail, caller.Email),
		domain.FriendRequestPath(caller.Email, recipientEmail),
	} {
		pending, err := exists(ctx, f.st, path)
		if err != nil {
			return domain.Internal("checking pending requests", err)
		}
		if pending {
			return domain.FailedPrecondition("a friend request is already pending")
		}
	}

	callerNickname := f.nicknameOf(ctx, caller.Email)
	request := map[string]interface{}{
		"senderEmail":    caller.Email,
		"senderNickname": callerNickname,
		"status":         "pending",
		"createdAt":      store.Timestamp(time.Now()),
	}
	op := store.Set(domain.FriendRequestPath(recipientEmail, caller.Email), request)
	op.Precond = &store.Precond{Exists: boolPtr(false)}
	if err := f.st.Commit(ctx, []store.Op{op}); err != nil {
		return commitErr("a friend request is already pending", err)
	}

	if err := f.feed.SendToUser(ctx, recipientEmail, domain.Notification{
		Title: "New friend request",
		Body:  fmt.Sprintf("%s sent you a friend request", callerNickname),
		Type:  domain.NotificationFriendRequest,
	}); err != nil {
		f.logger.Warn("friend request notification failed", "recipient", recipient.ID, "error", err)
	}
	return nil
}

// AcceptRequest turns a pending request into a symmetric pair of friend
// edges. Both edges and the request removal commit atomically.
func (f *Friends) AcceptRequest(ctx context.Context, caller *domain.Principal, senderEmail string) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}
	if senderEmail == "" {
		return domain.InvalidArgument("sender email is required")
	}

	requestPath := domain.FriendRequestPath(caller.Email, senderEmail)
	if ok, err := exists(ctx, f.st, requestPath); err != nil {
		return domain.Internal("looking up friend request", err)
	} else if !ok {
		return domain.NotFound("friend request not found")
	}

	if err := f.checkFriendCap(ctx, caller); err != nil {
		return err
	}

	now := store.Timestamp(time.Now())
	callerNickname := f.nicknameOf(ctx, caller.Email)
	senderNickname := f.nicknameOf(ctx, senderEmail)

	ops := []store.Op{
		store.Set(domain.FriendPath(caller.Email, senderEmail), map[string]interface{}{
			"email":     senderEmail,
			"nickname":  senderNickname,
			"createdAt": now,
		}),
		store.Set(domain.FriendPath(senderEmail, caller.Email), map[string]interface{}{
			"email":     caller.Email,
			"nickname":  callerNickname,
			"createdAt": now,
		}),
		store.Delete(requestPath),
	}
	if err := f.st.Commit(ctx, ops); err != nil {
		return domain.Internal("accepting friend request", err)
	}

	if err := f.feed.SendToUser(ctx, senderEmail, domain.Notification{
		Title: "Friend request accepted",
		Body:  fmt.Sprintf("%s accepted your friend request", callerNickname),
		Type:  domain.NotificationFriendAccepted,
	}); err != nil {
		f.logger.Warn("friend accept notification failed", "sender", senderEmail, "error", err)
	}
	return nil
}

// RejectOrRemove deletes the friendship in both directions along with any
// pending requests between the pair, in one atomic commit, then tears down
// the pair's chat room. Absent documents are fine; the operation is
// idempotent.
func (f *Friends) RejectOrRemove(ctx context.Context, caller *domain.Principal, friendEmail string) error {
	if err := requirePrincipal(caller); err != nil {
		return err
	}
	if friendEmail == "" {
		return domain.InvalidArgument("friend email is required")
	}

	ops := []store.Op{
		store.Delete(domain.FriendPath(caller.Email, friendEmail)),
		store.Delete(domain.FriendPath(friendEmail, caller.Email)),
		store.Delete(domain.FriendRequestPath(caller.Email, friendEmail)),
		store.Delete(domain.FriendRequestPath(friendEmail, caller.Email)),
	}
	if err := f.st.Commit(ctx, ops); err != nil {
		return domain.Internal("removing friendship", err)
	}

	// Chat teardown is best effort; the friendship removal already committed.
	roomID := domain.ChatRoomID(caller.Email, friendEmail)
	if _, err := store.Purge(ctx, f.st, domain.ChatMessagesCol(roomID), 0); err != nil {
		f.logger.Warn("chat message purge failed", "room", roomID, "error", err)
	}
	if err := f.st.Commit(ctx, []store.Op{store.Delete(domain.ChatRoomPath(caller.Email, friendEmail))}); err != nil {
		f.logger.Warn("chat room delete failed", "room", roomID, "error", err)
	}
	return nil
}

// Search finds users by exact nickname and annotates each result with the
// friendship status relative to the caller. The caller never appears in the
// results. The three status lookups per result run concurrently.
func (f *Friends) Search(ctx context.Context, caller *domain.Principal, nickname string) ([]domain.UserSearchResult, error) {
	if err := requirePrincipal(caller); err != nil {
		return nil, err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, domain.InvalidArgument("nickname is required")
	}

	docs, err := f.st.Query(ctx, store.Query{
		Collection: domain.ColUsers,
		Filters:    []store.Filter{{Field: "nickname", Op: "==", Value: nickname}},
		Limit:      f.searchLimit,
	})
	if err != nil {
		return nil, domain.Internal("searching users", err)
	}

	results := make([]domain.UserSearchResult, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == caller.Email {
			continue
		}
		status, err := f.friendshipStatus(ctx, caller.Email, doc.ID)
		if err != nil {
			return nil, domain.Internal("resolving friendship status", err)
		}
		results = append(results, domain.UserSearchResult{
			Email:            doc.ID,
			Nickname:         doc.Str("nickname"),
			ProfileImageURL:  doc.Str("profileImageUrl"),
			FriendshipStatus: status,
		})
	}
	return results, nil
}

func (f *Friends) friendshipStatus(ctx context.Context, callerEmail, otherEmail string) (string, error) {
	var friend, sent, received bool
	errs := make([]error, 3)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		friend, errs[0] = exists(ctx, f.st, domain.FriendPath(callerEmail, otherEmail))
	}()
	go func() {
		defer wg.Done()
		sent, errs[1] = exists(ctx, f.st, domain.FriendRequestPath(otherEmail, callerEmail))
	}()
	go func() {
		defer wg.Done()
		received, errs[2] = exists(ctx, f.st, domain.FriendRequestPath(callerEmail, otherEmail))
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}

	switch {
	case friend:
		return domain.FriendshipFriends, nil
	case sent:
		return domain.FriendshipPendingSent, nil
	case received:
		return domain.FriendshipPendingReceived, nil
	}
	return domain.FriendshipNone, nil
}

func (f *Friends) checkFriendCap(ctx context.Context, caller *domain.Principal) error {
	if caller.IsAdmin() {
		return nil
	}
	count, err := f.st.Count(ctx, store.Query{Collection: domain.FriendsCol(caller.Email)})
	if err != nil {
		return domain.Internal("counting friends", err)
	}
	if count >= int64(f.maxFriends) {
		return domain.FailedPrecondition(fmt.Sprintf("friend limit of %d reached", f.maxFriends))
	}
	return nil
}

func (f *Friends) nicknameOf(ctx context.Context, email string) string {
	doc, err := f.st.Get(ctx, domain.UserPath(email))
	if err != nil {
		return email
	}
	if n := doc.Str("nickname"); n != "" {
		return n
	}
	return email
}
