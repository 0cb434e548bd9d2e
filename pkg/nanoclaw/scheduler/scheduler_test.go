package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

func newTestScheduler(t *testing.T, fire FireFunc) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "nanoclaw.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return New(st, fire, logger), st
}

func TestAddValidatesSchedule(t *testing.T) {
	s, st := newTestScheduler(t, func(ctx context.Context, task store.Task) {})

	_, err := s.Add(store.Task{GroupFolder: "main", Schedule: "not a cron expr", Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
	tasks, _ := st.GetAllTasks()
	if len(tasks) != 0 {
		t.Errorf("invalid task was persisted")
	}

	task, err := s.Add(store.Task{GroupFolder: "main", Schedule: "0 9 * * *", Prompt: "daily summary"})
	if err != nil {
		t.Fatalf("add valid task: %v", err)
	}
	if task.ID == "" {
		t.Errorf("no ID assigned")
	}
	tasks, _ = st.GetAllTasks()
	if len(tasks) != 1 {
		t.Fatalf("task not persisted")
	}
}

func TestDueTaskFires(t *testing.T) {
	fired := make(chan store.Task, 1)
	s, _ := newTestScheduler(t, func(ctx context.Context, task store.Task) {
		select {
		case fired <- task:
		default:
		}
	})

	if _, err := s.Add(store.Task{ID: "t1", GroupFolder: "main", Schedule: "@every 50ms", Prompt: "ping"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case task := <-fired:
		if task.ID != "t1" {
			t.Errorf("fired task = %q", task.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("task never fired")
	}
}

func TestRemoveUnschedules(t *testing.T) {
	s, st := newTestScheduler(t, func(ctx context.Context, task store.Task) {})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	task, err := s.Add(store.Task{GroupFolder: "main", Schedule: "@hourly", Prompt: "x"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Remove(task.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	tasks, _ := st.GetAllTasks()
	if len(tasks) != 0 {
		t.Errorf("task still persisted after remove")
	}
	s.mu.Lock()
	_, still := s.entries[task.ID]
	s.mu.Unlock()
	if still {
		t.Errorf("task still scheduled after remove")
	}
}

func TestStartSkipsPausedTasks(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, st := newTestScheduler(t, func(ctx context.Context, task store.Task) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	if err := st.AddTask(store.Task{
		ID: "paused", GroupFolder: "main", Schedule: "@every 50ms",
		Prompt: "x", Status: store.TaskStatusPaused,
	}); err != nil {
		t.Fatalf("add task: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-fired:
		t.Errorf("paused task fired")
	case <-time.After(300 * time.Millisecond):
	}
}
