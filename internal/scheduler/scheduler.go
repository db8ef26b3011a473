// Package scheduler turns cron schedules into queued scan jobs. One
// replica at a time runs the poll loop, coordinated by an advisory lock.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/queue"
)

// Scheduler polls for due schedules and enqueues scan jobs.
type Scheduler struct {
	store              *database.Store
	queue              *queue.Queue
	pollInterval       time.Duration
	minTriggerInterval time.Duration
	parser             cron.Parser
	logger             *log.Logger
}

// New builds a scheduler with standard 5-field cron parsing (steps,
// ranges and lists included).
func New(store *database.Store, q *queue.Queue, pollInterval, minTriggerInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if minTriggerInterval <= 0 {
		minTriggerInterval = time.Minute
	}
	return &Scheduler{
		store:              store,
		queue:              q,
		pollInterval:       pollInterval,
		minTriggerInterval: minTriggerInterval,
		parser:             cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:             log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

// Next parses expr and returns the first tick strictly after t.
func (s *Scheduler) Next(expr string, t time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, core.NewError(core.CodeValidation, "invalid cron expression", err)
	}
	return sched.Next(t), nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	s.logger.Printf("started (poll=%s min_trigger=%s)", s.pollInterval, s.minTriggerInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		_, err := s.store.WithAdvisoryLock(ctx, database.LockScheduler, s.tick)
		if err != nil && ctx.Err() == nil {
			s.logger.Printf("tick failed: %v", err)
		}
	}
}

// tick fires every due schedule once and re-derives its next run.
func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return err
	}
	for _, sched := range due {
		if err := s.trigger(ctx, sched, now); err != nil {
			s.logger.Printf("trigger schedule %s failed: %v", sched.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) trigger(ctx context.Context, sched core.Schedule, now time.Time) error {
	// Guard against misconfigured sub-minute expressions.
	if sched.LastRunAt != nil && now.Sub(*sched.LastRunAt) < s.minTriggerInterval {
		next := now.Add(s.minTriggerInterval)
		return s.store.MarkScheduleTriggered(ctx, sched.ID, *sched.LastRunAt, next)
	}

	job := &core.ScanJob{TenantID: sched.TenantID, TargetID: sched.TargetID}
	if err := s.store.CreateScanJob(ctx, job); err != nil {
		return err
	}
	payload := core.ScanTask{JobID: job.ID.String(), TargetID: sched.TargetID.String()}
	if _, err := s.queue.Enqueue(ctx, sched.TenantID, queue.TaskScan, payload, queue.PriorityScheduled); err != nil {
		return err
	}

	next, err := s.Next(sched.CronExpression, now)
	if err != nil {
		// Expression went bad after creation: push it a day out so the
		// loop doesn't spin, and leave a trace for the operator.
		s.logger.Printf("schedule %s has invalid cron %q: %v", sched.ID, sched.CronExpression, err)
		next = now.Add(24 * time.Hour)
	}
	if min := now.Add(s.minTriggerInterval); next.Before(min) {
		next = min
	}
	s.logger.Printf("triggered schedule %s (target=%s next=%s)", sched.ID, sched.TargetID, next.Format(time.RFC3339))
	return s.store.MarkScheduleTriggered(ctx, sched.ID, now, next)
}
