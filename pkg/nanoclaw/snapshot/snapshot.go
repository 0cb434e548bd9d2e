// Package snapshot writes the per-invocation context files that the agent
// container reads at startup. Each invocation gets a fresh copy; the agent
// never mutates them.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

const (
	groupsFile = "groups.json"
	tasksFile  = "tasks.json"
)

// Write dumps the registered groups and scheduled tasks as JSON under
// dir, overwriting any snapshot from a previous invocation.
func Write(dir string, groups []store.RegisteredGroup, tasks []store.Task) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory %q: %w", dir, err)
	}
	if err := writeJSON(filepath.Join(dir, groupsFile), groups); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, tasksFile), tasks)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %q: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %q: %w", path, err)
	}
	return nil
}
