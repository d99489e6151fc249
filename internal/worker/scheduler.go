package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/push"
	"github.com/runhub-backend/internal/service"
)

// Scheduler hosts the periodic jobs: signup purges, push reminders, the
// daily leaderboard rebuild, the weekly and monthly resets, the event
// challenge sweep, and the birthday sweep. Every job is a short independent
// unit of work; a failed run logs and waits for the next cycle.
type Scheduler struct {
	cron         *cron.Cron
	logger       *slog.Logger
	users        *service.Users
	leaderboards *service.Leaderboards
	events       *service.Events
	notifier     push.Notifier
	mu           sync.Mutex
	running      bool
}

// NewScheduler creates the job scheduler in the configured timezone.
func NewScheduler(
	cfg *config.SchedulerConfig,
	users *service.Users,
	leaderboards *service.Leaderboards,
	events *service.Events,
	notifier push.Notifier,
	logger *slog.Logger,
) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		cron:         cron.New(cron.WithLocation(loc)),
		logger:       logger,
		users:        users,
		leaderboards: leaderboards,
		events:       events,
		notifier:     notifier,
	}, nil
}

// Start registers every job and begins the schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	jobs := []struct {
		spec string
		name string
		run  func(context.Context, time.Time) error
	}{
		{"*/10 * * * *", "unverified purge", s.users.PurgeUnverified},
		{"*/10 * * * *", "incomplete purge", s.users.PurgeIncomplete},
		{"*/10 * * * *", "event sweep", s.events.Sweep},
		{"0 0 * * *", "leaderboard rebuild", func(ctx context.Context, _ time.Time) error {
			return s.leaderboards.RebuildSnapshots(ctx)
		}},
		{"5 0 * * 1", "weekly reset", func(ctx context.Context, now time.Time) error {
			return s.leaderboards.ResetPeriod(ctx, domain.PeriodWeekly, now)
		}},
		{"10 0 1 * *", "monthly reset", func(ctx context.Context, now time.Time) error {
			return s.leaderboards.ResetPeriod(ctx, domain.PeriodMonthly, now)
		}},
		{"0 9 * * *", "birthday sweep", s.users.SendBirthdayGreetings},
		{"0 7 * * *", "morning reminder", s.reminder("Good morning!", "Start your day with a run.")},
		{"0 17 * * *", "evening reminder", s.reminder("Time to move", "An evening run clears the head.")},
		{"0 21 * * *", "night reminder", s.reminder("Last call", "Close out your daily goal before midnight.")},
	}

	for _, job := range jobs {
		name, run := job.name, job.run
		_, err := s.cron.AddFunc(job.spec, func() {
			s.runJob(name, run)
		})
		if err != nil {
			return fmt.Errorf("scheduling %s: %w", name, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop halts the schedule and waits for any in-flight job to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runJob(name string, run func(context.Context, time.Time) error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 9*time.Minute)
	defer cancel()

	if err := run(ctx, start); err != nil {
		s.logger.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("scheduled job completed", "job", name, "duration", time.Since(start))
}

// reminder builds a job pushing to the broadcast topic.
func (s *Scheduler) reminder(title, body string) func(context.Context, time.Time) error {
	return func(ctx context.Context, _ time.Time) error {
		return s.notifier.Send(ctx, push.Message{
			Topic: "all",
			Title: title,
			Body:  body,
			Data:  map[string]string{"type": "reminder"},
		})
	}
}
