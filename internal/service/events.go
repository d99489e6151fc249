package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store"
)

// Events drives the event-challenge lifecycle: active challenges move to
// calculating once their end time passes, then to ended after a fixed settle
// delay that absorbs in-flight distance contributions.
type Events struct {
	st          store.Store
	logger      *slog.Logger
	settleDelay time.Duration
	pageSize    int
	randIntn    func(n int) int
}

// NewEvents creates the event challenge service.
func NewEvents(st store.Store, cfg *config.Config, logger *slog.Logger) *Events {
	return &Events{
		st:          st,
		logger:      logger,
		settleDelay: cfg.Scheduler.SettleDelay,
		pageSize:    cfg.Limits.PurgePageSize,
		randIntn:    rand.Intn,
	}
}

// Sweep advances every challenge whose transition is due. Failures on one
// challenge are logged and do not block the others; the next sweep retries.
func (e *Events) Sweep(ctx context.Context, now time.Time) error {
	if err := e.startCalculating(ctx, now); err != nil {
		e.logger.Error("event sweep: calculating phase failed", "error", err)
	}
	if err := e.settleCalculated(ctx, now); err != nil {
		e.logger.Error("event sweep: settle phase failed", "error", err)
		return err
	}
	return nil
}

// startCalculating moves expired active challenges into the aggregation
// window, stamping the transition time the settle phase measures from.
func (e *Events) startCalculating(ctx context.Context, now time.Time) error {
	docs, err := e.st.Query(ctx, store.Query{
		Collection: domain.ColEventChallenges,
		Filters: []store.Filter{
			{Field: "status", Op: "==", Value: domain.EventStatusActive},
			{Field: "endDate", Op: "<=", Value: store.Timestamp(now)},
		},
	})
	if err != nil {
		return err
	}

	for _, doc := range docs {
		op := store.Update(doc.Path, map[string]interface{}{
			"status":          domain.EventStatusCalculating,
			"aggregationTime": store.Timestamp(now),
		})
		op.Precond = &store.Precond{Fields: []store.FieldCond{
			{Field: "status", Op: "==", Values: []interface{}{domain.EventStatusActive}},
		}}
		if err := e.st.Commit(ctx, []store.Op{op}); err != nil && !errors.Is(err, store.ErrPrecondition) {
			e.logger.Error("starting aggregation failed", "event", doc.ID, "error", err)
		}
	}
	return nil
}

// settleCalculated ends challenges whose aggregation window has elapsed.
// The check measures from the calculating transition, never from the
// challenge's own end time again.
func (e *Events) settleCalculated(ctx context.Context, now time.Time) error {
	cutoff := store.Timestamp(now.Add(-e.settleDelay))
	docs, err := e.st.Query(ctx, store.Query{
		Collection: domain.ColEventChallenges,
		Filters: []store.Filter{
			{Field: "status", Op: "==", Value: domain.EventStatusCalculating},
			{Field: "aggregationTime", Op: "<=", Value: cutoff},
		},
	})
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if err := e.settle(ctx, &doc, now); err != nil {
			e.logger.Error("settling event failed", "event", doc.ID, "error", err)
		}
	}
	return nil
}

func (e *Events) settle(ctx context.Context, event *store.Doc, now time.Time) error {
	participants, err := e.st.Query(ctx, store.Query{
		Collection: domain.EventParticipantsCol(event.ID),
		OrderBy:    "totalDistance",
		Desc:       true,
	})
	if err != nil {
		return err
	}

	winners := map[string]interface{}{}
	if len(participants) > 0 {
		top := participantWinner(&participants[0])
		winners["topRunner"] = top

		// The lucky runner is drawn uniformly from everyone below the top.
		// A sole participant fills both slots.
		if len(participants) == 1 {
			winners["luckyRunner"] = top
		} else {
			lucky := participants[1+e.randIntn(len(participants)-1)]
			winners["luckyRunner"] = participantWinner(&lucky)
		}
	}

	op := store.Update(event.Path, map[string]interface{}{
		"status":  domain.EventStatusEnded,
		"winners": winners,
		"endedAt": store.Timestamp(now),
	})
	op.Precond = &store.Precond{Fields: []store.FieldCond{
		{Field: "status", Op: "==", Values: []interface{}{domain.EventStatusCalculating}},
	}}
	if err := e.st.Commit(ctx, []store.Op{op}); err != nil && !errors.Is(err, store.ErrPrecondition) {
		return err
	}

	e.logger.Info("event challenge ended", "event", event.ID, "participants", len(participants))
	return nil
}

// Delete removes an event challenge and its participant records. Admin only.
// Deleting an absent challenge is success.
func (e *Events) Delete(ctx context.Context, caller *domain.Principal, eventID string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if eventID == "" {
		return domain.InvalidArgument("event id is required")
	}

	if _, err := store.Purge(ctx, e.st, domain.EventParticipantsCol(eventID), e.pageSize); err != nil {
		return domain.Internal("purging participants", err)
	}
	if err := e.st.Commit(ctx, []store.Op{store.Delete(domain.EventChallengePath(eventID))}); err != nil {
		return domain.Internal("deleting event challenge", err)
	}
	e.logger.Info("event challenge deleted", "event", eventID, "by", caller.Email)
	return nil
}

func participantWinner(p *store.Doc) map[string]interface{} {
	return map[string]interface{}{
		"email":    p.ID,
		"nickname": p.Str("nickname"),
		"distance": p.F64("totalDistance"),
	}
}
