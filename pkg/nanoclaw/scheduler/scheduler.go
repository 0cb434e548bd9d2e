// Package scheduler fires stored cron tasks as synthetic agent turns.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// FireFunc receives a task when its schedule comes due.
type FireFunc func(ctx context.Context, task store.Task)

// Scheduler drives the tasks table with robfig/cron.
type Scheduler struct {
	store  *store.Store
	fire   FireFunc
	logger *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler over the persisted tasks.
func New(st *store.Store, fire FireFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   st,
		fire:    fire,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads persisted tasks and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	tasks, err := s.store.GetAllTasks()
	if err != nil {
		return fmt.Errorf("scheduler: load tasks: %w", err)
	}

	s.mu.Lock()
	for _, t := range tasks {
		if t.Status != store.TaskStatusActive {
			continue
		}
		if err := s.schedule(t); err != nil {
			s.logger.Warn("scheduler: skipping task with invalid schedule",
				"id", t.ID, "schedule", t.Schedule, "error", err)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", len(tasks), "cron_entries", len(s.cron.Entries()))
	return nil
}

// Stop gracefully shuts down the scheduler, waiting briefly for running
// fires to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// Add persists a task and registers it with cron. A missing ID gets a fresh
// UUID.
func (s *Scheduler) Add(t store.Task) (store.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.GroupFolder == "" {
		return t, fmt.Errorf("scheduler: task group folder is required")
	}
	if _, err := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	).Parse(t.Schedule); err != nil {
		return t, fmt.Errorf("scheduler: invalid schedule %q: %w", t.Schedule, err)
	}

	if err := s.store.AddTask(t); err != nil {
		return t, err
	}

	if s.cron != nil {
		s.mu.Lock()
		err := s.schedule(t)
		s.mu.Unlock()
		if err != nil {
			return t, err
		}
	}

	s.logger.Info("scheduler: task added", "id", t.ID, "schedule", t.Schedule, "folder", t.GroupFolder)
	return t, nil
}

// Remove unschedules and deletes a task.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if err := s.store.DeleteTask(id); err != nil {
		return err
	}
	s.logger.Info("scheduler: task removed", "id", id)
	return nil
}

// List returns every persisted task.
func (s *Scheduler) List() ([]store.Task, error) {
	return s.store.GetAllTasks()
}

// schedule registers one task with cron. Caller holds s.mu.
func (s *Scheduler) schedule(t store.Task) error {
	entryID, err := s.cron.AddFunc(t.Schedule, func() { s.run(t) })
	if err != nil {
		return err
	}
	s.entries[t.ID] = entryID

	next := s.cron.Entry(entryID).Next
	if !next.IsZero() {
		if err := s.store.SetTaskNextRun(t.ID, next); err != nil {
			s.logger.Warn("scheduler: record next run failed", "id", t.ID, "error", err)
		}
	}
	return nil
}

// run fires one due task.
func (s *Scheduler) run(t store.Task) {
	s.logger.Info("scheduler: task due", "id", t.ID, "folder", t.GroupFolder)
	s.fire(s.ctx, t)

	s.mu.Lock()
	entryID, ok := s.entries[t.ID]
	s.mu.Unlock()
	if ok {
		if next := s.cron.Entry(entryID).Next; !next.IsZero() {
			if err := s.store.SetTaskNextRun(t.ID, next); err != nil {
				s.logger.Warn("scheduler: record next run failed", "id", t.ID, "error", err)
			}
		}
	}
}
