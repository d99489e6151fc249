// Package notify writes notification feed items and forwards push payloads
// to recipients carrying a device token.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/push"
	"github.com/runhub-backend/internal/store"
)

// Feed delivers notifications: one append-only feed item per recipient plus
// a best-effort push when the recipient has a registered token.
type Feed struct {
	st     store.Store
	push   push.Notifier
	logger *slog.Logger
}

// NewFeed creates a notification feed writer.
func NewFeed(st store.Store, notifier push.Notifier, logger *slog.Logger) *Feed {
	return &Feed{st: st, push: notifier, logger: logger}
}

// SendToUsers writes a feed item for every recipient in one batched pass,
// then pushes to each recipient that has a device token. Push failures are
// logged, never propagated; the feed item is the durable record.
func (f *Feed) SendToUsers(ctx context.Context, emails []string, n domain.Notification) error {
	if len(emails) == 0 {
		return nil
	}

	now := store.Timestamp(time.Now())
	bw := store.NewBatchWriter(f.st)
	for _, email := range emails {
		item := map[string]interface{}{
			"title":     n.Title,
			"body":      n.Body,
			"type":      n.Type,
			"isRead":    false,
			"createdAt": now,
		}
		if n.RelatedID != "" {
			item["relatedId"] = n.RelatedID
		}
		path := domain.NotificationItemsCol(email) + "/" + uuid.NewString()
		if err := bw.Set(ctx, path, item); err != nil {
			return fmt.Errorf("writing notification items: %w", err)
		}
	}
	if _, err := bw.Flush(ctx); err != nil {
		return fmt.Errorf("writing notification items: %w", err)
	}

	for _, email := range emails {
		f.pushToUser(ctx, email, n)
	}
	return nil
}

// SendToUser delivers to a single recipient.
func (f *Feed) SendToUser(ctx context.Context, email string, n domain.Notification) error {
	return f.SendToUsers(ctx, []string{email}, n)
}

// Broadcast pushes to the shared topic subscribed by every device.
func (f *Feed) Broadcast(ctx context.Context, n domain.Notification) error {
	return f.push.Send(ctx, push.Message{
		Topic: "all",
		Title: n.Title,
		Body:  n.Body,
		Data:  pushData(n),
	})
}

func (f *Feed) pushToUser(ctx context.Context, email string, n domain.Notification) {
	user, err := f.st.Get(ctx, domain.UserPath(email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			f.logger.Warn("looking up push token", "email", email, "error", err)
		}
		return
	}
	token := user.Str("fcmToken")
	if token == "" {
		return
	}

	err = f.push.Send(ctx, push.Message{
		Token: token,
		Title: n.Title,
		Body:  n.Body,
		Data:  pushData(n),
	})
	if err != nil {
		f.logger.Warn("push delivery failed", "email", email, "error", err)
	}
}

func pushData(n domain.Notification) map[string]string {
	data := map[string]string{"type": n.Type}
	if n.RelatedID != "" {
		data["relatedId"] = n.RelatedID
	}
	return data
}
