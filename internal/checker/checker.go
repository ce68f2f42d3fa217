// Package checker runs the periodic evaluation pass that keeps dose states
// honest while the process sleeps between user actions: it re-reads the
// active medications, lets the tracker advance their events and promotes
// missed doses to durable records.
package checker

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/logger"
	"github.com/medminder/medminder/internal/reminder"
	"github.com/medminder/medminder/internal/services"
	"github.com/medminder/medminder/internal/tracker"
)

const passSchedule = "@every 1m"

// Checker evaluates all registered sessions once a minute. A session is one
// user actively talking to the bot, mapped to the chat their reminders go to.
type Checker struct {
	repo  domain.MedicationRepository
	track *tracker.Tracker
	doses *services.DoseService
	orch  *reminder.Orchestrator

	cron *cron.Cron

	mu       sync.RWMutex
	sessions map[string]int64 // user id -> chat id
}

func New(
	repo domain.MedicationRepository,
	track *tracker.Tracker,
	doses *services.DoseService,
	orch *reminder.Orchestrator,
) *Checker {
	return &Checker{
		repo:     repo,
		track:    track,
		doses:    doses,
		orch:     orch,
		sessions: make(map[string]int64),
	}
}

// RegisterSession starts evaluating the user's medications on every pass.
// Re-registering an existing user just updates the chat id.
func (c *Checker) RegisterSession(userID string, chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = chatID
}

// Start launches the periodic pass. Call Stop to halt it.
func (c *Checker) Start(ctx context.Context) error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc(passSchedule, func() {
		c.RunPass(ctx)
	})
	if err != nil {
		return err
	}
	c.cron.Start()
	logger.Info("Dose state checker started", "schedule", passSchedule)
	return nil
}

// Stop halts the periodic pass, waiting for a running one to finish.
func (c *Checker) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	logger.Info("Dose state checker stopped")
}

// RunPass evaluates every session once. Exported so tests can drive passes
// against a fake clock without waiting on cron.
func (c *Checker) RunPass(ctx context.Context) {
	c.track.DropPastDays()

	c.mu.RLock()
	sessions := make(map[string]int64, len(c.sessions))
	for userID, chatID := range c.sessions {
		sessions[userID] = chatID
	}
	c.mu.RUnlock()

	for userID, chatID := range sessions {
		c.evaluateUser(ctx, userID, chatID)
	}
}

func (c *Checker) evaluateUser(ctx context.Context, userID string, chatID int64) {
	meds, err := c.repo.ListActiveMedications(ctx, userID)
	if err != nil {
		logger.Error("Checker pass failed to list medications", "user_id", userID, "error", err)
		return
	}

	for i := range meds {
		med := &meds[i]
		if med.IsOccasional() {
			continue
		}

		c.track.InitializeDay(med)

		// Promote newly missed doses to durable records. Failures are logged
		// and retried on the next pass; the recorded flag keeps retries from
		// duplicating.
		for _, ev := range c.track.UnrecordedMissed(med.ID) {
			if err := c.doses.PersistMissed(ctx, med, ev); err != nil {
				logger.Error("Failed to promote missed dose",
					"medication_id", med.ID, "time_of_day", ev.TimeOfDay, "error", err)
			}
		}

		c.orch.Deliver(chatID, med, c.track.EventsFor(med.ID))
	}
}
