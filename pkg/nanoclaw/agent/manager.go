// Package agent runs sandboxed agent turns: one ephemeral container per
// invocation, one invocation at a time per group folder.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/container"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/ipc"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/snapshot"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// CancelSentinel is the line written to an instance's stdin to request a
// graceful wind-down before the forced stop.
const CancelSentinel = "__NANOCLAW_CANCEL__"

// Errors.
var (
	ErrInvocationActive = fmt.Errorf("an invocation is already active for this folder")
)

// Config configures the agent manager.
type Config struct {
	// Image is the container image for agent instances.
	Image string `yaml:"image"`

	// GroupsDir is the parent directory of per-group folders.
	GroupsDir string `yaml:"groups_dir"`

	// IPCDir is the mailbox root shared with instances.
	IPCDir string `yaml:"ipc_dir"`

	// TurnTimeout bounds a single invocation. Default: 10 minutes.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// PollInterval is the mailbox poll cadence during a turn.
	PollInterval time.Duration `yaml:"poll_interval"`

	// GracePeriod is how long a cancelled instance gets to wind down after
	// the sentinel before the forced stop. Default: 10 seconds.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// DefaultConfig returns sensible defaults for the agent manager.
func DefaultConfig() Config {
	return Config{
		Image:        "nanoclaw-agent:latest",
		GroupsDir:    "data/groups",
		IPCDir:       "data/ipc",
		TurnTimeout:  10 * time.Minute,
		PollInterval: time.Second,
		GracePeriod:  10 * time.Second,
	}
}

// Input describes one agent turn.
type Input struct {
	Prompt       string `json:"prompt"`
	SessionToken string `json:"session_token,omitempty"`
	Folder       string `json:"folder"`
	JID          string `json:"jid"`
	IsMain       bool   `json:"is_main"`
}

// Output is the final result of a turn.
type Output struct {
	Result       string
	SessionToken string
}

// resultLine is the terminal stdout line emitted by the agent process.
type resultLine struct {
	Type      string `json:"type"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
}

// OnLaunch is called synchronously once the instance has started, with its
// name. The caller can use it to surface typing indicators or bookkeeping.
type OnLaunch func(instanceName string)

// OnIncremental receives interim agent messages surfaced through the IPC
// mailbox while the turn is still running.
type OnIncremental func(text string)

// Manager owns the invocation lifecycle for every group.
type Manager struct {
	config  Config
	runtime container.Runtime
	store   *store.Store
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]bool // folder → invocation in flight
}

// NewManager creates an agent manager.
func NewManager(cfg Config, runtime container.Runtime, st *store.Store, logger *slog.Logger) *Manager {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	return &Manager{
		config:  cfg,
		runtime: runtime,
		store:   st,
		logger:  logger.With("component", "agent"),
		active:  make(map[string]bool),
	}
}

// IsActive reports whether an invocation is currently in flight for folder.
// The daemon's idle-time mailbox poller uses it to leave active folders to
// the turn's own poller.
func (m *Manager) IsActive(folder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[folder]
}

// RunInvocation executes one agent turn for a group. A second concurrent
// call for the same folder fails with ErrInvocationActive; different folders
// run in parallel.
func (m *Manager) RunInvocation(ctx context.Context, group store.RegisteredGroup, input Input, onLaunch OnLaunch, onIncremental OnIncremental) (*Output, error) {
	m.mu.Lock()
	if m.active[input.Folder] {
		m.mu.Unlock()
		return nil, fmt.Errorf("agent: folder %q: %w", input.Folder, ErrInvocationActive)
	}
	m.active[input.Folder] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, input.Folder)
		m.mu.Unlock()
	}()

	return m.run(ctx, group, input, onLaunch, onIncremental)
}

func (m *Manager) run(ctx context.Context, group store.RegisteredGroup, input Input, onLaunch OnLaunch, onIncremental OnIncremental) (*Output, error) {
	groupDir := filepath.Join(m.config.GroupsDir, input.Folder)

	// Fresh context snapshot before every launch. The instance reads it,
	// never writes it.
	groups, err := m.store.GetAllRegisteredGroups()
	if err != nil {
		return nil, fmt.Errorf("agent: load groups for snapshot: %w", err)
	}
	tasks, err := m.store.GetAllTasks()
	if err != nil {
		return nil, fmt.Errorf("agent: load tasks for snapshot: %w", err)
	}
	if !input.IsMain {
		// Non-main groups only see themselves.
		var own []store.RegisteredGroup
		for _, g := range groups {
			if g.Folder == input.Folder {
				own = append(own, g)
			}
		}
		groups = own
	}
	if err := snapshot.Write(groupDir, groups, tasks); err != nil {
		return nil, fmt.Errorf("agent: write snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.TurnTimeout)
	defer cancel()

	name := container.InstanceName(time.Now())
	proc, err := m.runtime.Start(ctx, container.StartSpec{
		Name:     name,
		Image:    m.config.Image,
		GroupDir: groupDir,
		IPCDir:   filepath.Join(m.config.IPCDir, input.Folder),
		Env: map[string]string{
			"NANOCLAW_FOLDER": input.Folder,
			"NANOCLAW_JID":    input.JID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agent: start instance: %w", err)
	}
	m.logger.Info("agent: turn started", "folder", input.Folder, "instance", name)

	// Teardown on every exit path, success included: --rm handles the happy
	// path but a wedged instance must not outlive its turn.
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := m.runtime.Stop(stopCtx, name); err != nil {
			m.logger.Error("agent: teardown failed", "instance", name, "error", err)
		}
	}()

	if onLaunch != nil {
		onLaunch(name)
	}

	if err := m.writeInput(proc, input); err != nil {
		return nil, err
	}

	interim := m.interimPoller(input.Folder, onIncremental)
	defer interim.PollFolder(input.Folder) // final drain: interim before final

	out, err := m.collect(ctx, proc, interim, input.Folder)
	if err != nil {
		return nil, err
	}

	// Durability first: the token hits the database before the result is
	// handed back, so a crash after this point cannot fork the session.
	if out.SessionToken != "" {
		if err := m.store.SetSession(input.Folder, out.SessionToken); err != nil {
			return nil, fmt.Errorf("agent: persist session token: %w", err)
		}
	}

	m.logger.Info("agent: turn finished", "folder", input.Folder, "instance", name)
	return out, nil
}

func (m *Manager) writeInput(proc *container.Proc, input Input) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("agent: marshal input: %w", err)
	}
	if _, err := proc.Stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("agent: write input: %w", err)
	}
	return nil
}

// interimPoller builds a mailbox poller scoped to one turn.
func (m *Manager) interimPoller(folder string, onIncremental OnIncremental) *ipc.Poller {
	return ipc.NewPoller(m.config.IPCDir, m.config.PollInterval, m.logger, func(_, text string) {
		if onIncremental != nil {
			onIncremental(text)
		}
	})
}

// collect reads stdout until the result line, polling the mailbox for
// interim messages along the way.
func (m *Manager) collect(ctx context.Context, proc *container.Proc, interim *ipc.Poller, folder string) (*Output, error) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	var out *Output
	for {
		select {
		case <-ctx.Done():
			m.cancelProc(proc)
			return nil, fmt.Errorf("agent: turn cancelled: %w", ctx.Err())

		case <-ticker.C:
			interim.PollFolder(folder)

		case line, ok := <-proc.Lines:
			if !ok {
				if err := proc.Wait(); err != nil && out == nil {
					return nil, fmt.Errorf("agent: instance exited: %w", err)
				}
				if out == nil {
					return nil, fmt.Errorf("agent: instance exited without a result")
				}
				return out, nil
			}
			var res resultLine
			if err := json.Unmarshal([]byte(line), &res); err != nil || res.Type != "result" {
				continue // progress noise on stdout
			}
			if res.IsError {
				return nil, fmt.Errorf("agent: turn failed: %s", res.Result)
			}
			out = &Output{Result: res.Result, SessionToken: res.SessionID}
		}
	}
}

// cancelProc runs the two-step cancellation: sentinel plus closed stdin,
// bounded grace for a voluntary exit, then the forced stop. The forced stop
// is the deferred teardown in run, so both steps happen no matter what the
// instance does with the sentinel.
func (m *Manager) cancelProc(proc *container.Proc) {
	if proc.Stdin != nil {
		_, _ = proc.Stdin.Write([]byte(CancelSentinel + "\n"))
		_ = proc.Stdin.Close()
	}

	deadline := time.NewTimer(m.config.GracePeriod)
	defer deadline.Stop()
	for {
		select {
		case _, ok := <-proc.Lines:
			if !ok {
				return
			}
		case <-deadline.C:
			m.logger.Warn("agent: grace period expired, forcing stop", "instance", proc.Name)
			return
		}
	}
}
