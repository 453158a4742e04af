package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultCleanupAge is how long an untouched transcript survives
const DefaultCleanupAge = 30 * 24 * time.Hour

// Cleanup periodically deletes transcripts that have gone stale
type Cleanup struct {
	store    *Store
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	entryID  cron.EntryID
	running  bool
}

// NewCleanup creates a cleanup job. The schedule is a standard
// five-field cron expression.
func NewCleanup(store *Store, schedule string, maxAge time.Duration) (*Cleanup, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if schedule == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	return &Cleanup{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		cron:     cron.New(),
	}, nil
}

// Start schedules the sweep
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	entryID, err := c.cron.AddFunc(c.schedule, func() {
		if _, err := c.Sweep(); err != nil {
			log.Error().Err(err).Msg("Transcript sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	c.entryID = entryID
	c.cron.Start()
	c.running = true

	log.Info().
		Str("schedule", c.schedule).
		Dur("max_age", c.maxAge).
		Msg("Transcript cleanup started")

	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}

	c.cron.Remove(c.entryID)
	<-c.cron.Stop().Done()
	c.running = false

	log.Info().Msg("Transcript cleanup stopped")

	return nil
}

// Sweep deletes every transcript older than maxAge and reports how
// many were removed.
func (c *Cleanup) Sweep() (int, error) {
	sessions, err := c.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	deleted := 0
	for _, sessionID := range sessions {
		age, err := c.store.Age(sessionID)
		if err != nil {
			log.Warn().
				Str("session_id", sessionID).
				Err(err).
				Msg("Failed to stat transcript")
			continue
		}

		if age < c.maxAge {
			continue
		}

		if err := c.store.Delete(context.Background(), sessionID); err != nil {
			log.Warn().
				Str("session_id", sessionID).
				Err(err).
				Msg("Failed to delete stale transcript")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Stale transcripts removed")
	}

	return deleted, nil
}
