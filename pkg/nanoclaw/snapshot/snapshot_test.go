package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

func TestWriteOverwritesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()

	groups := []store.RegisteredGroup{
		{JID: "123@g.us", Name: "Main", Folder: "main", AddedAt: time.Now().UTC()},
	}
	tasks := []store.Task{
		{ID: "t1", GroupFolder: "main", Schedule: "@hourly", Prompt: "check inbox", Status: store.TaskStatusActive},
	}

	if err := Write(dir, groups, tasks); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Second invocation with fewer tasks must fully replace the files.
	if err := Write(dir, groups, nil); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "tasks.json"))
	if err != nil {
		t.Fatalf("read tasks snapshot: %v", err)
	}
	var got []store.Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal tasks snapshot: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty tasks snapshot, got %d entries", len(got))
	}

	data, err = os.ReadFile(filepath.Join(dir, "groups.json"))
	if err != nil {
		t.Fatalf("read groups snapshot: %v", err)
	}
	var gotGroups []store.RegisteredGroup
	if err := json.Unmarshal(data, &gotGroups); err != nil {
		t.Fatalf("unmarshal groups snapshot: %v", err)
	}
	if len(gotGroups) != 1 || gotGroups[0].Folder != "main" {
		t.Errorf("unexpected groups snapshot: %+v", gotGroups)
	}
}
