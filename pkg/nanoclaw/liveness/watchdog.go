package liveness

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/container"
)

// WatchdogConfig configures the external watchdog and the instance reaper.
type WatchdogConfig struct {
	// HeartbeatPath is the heartbeat file written by the daemon.
	HeartbeatPath string `yaml:"heartbeat_path"`

	// Staleness is the maximum heartbeat age before the host is considered
	// wedged. Default: 5 minutes.
	Staleness time.Duration `yaml:"staleness"`

	// HostPattern is the command-line pattern identifying the daemon
	// process to kill.
	HostPattern string `yaml:"host_pattern"`

	// TurnTimeout, IdleTimeout and SafetyMargin add up to the maximum
	// instance lifetime used by the reaper.
	TurnTimeout  time.Duration `yaml:"turn_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	SafetyMargin time.Duration `yaml:"safety_margin"`
}

// DefaultWatchdogConfig returns sensible defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		HeartbeatPath: "data/heartbeat",
		Staleness:     5 * time.Minute,
		HostPattern:   "nanoclaw serve",
		TurnTimeout:   10 * time.Minute,
		IdleTimeout:   30 * time.Minute,
		SafetyMargin:  5 * time.Minute,
	}
}

// MaxLifetime is the instance age limit enforced by the reaper.
func (c WatchdogConfig) MaxLifetime() time.Duration {
	return c.TurnTimeout + c.IdleTimeout + c.SafetyMargin
}

// HeartbeatStale reports whether a heartbeat written at beat is considered
// stale at now. The boundary is exclusive: an age exactly at the threshold
// is still healthy.
func HeartbeatStale(beat, now time.Time, staleness time.Duration) bool {
	return now.Sub(beat) > staleness
}

// InstanceExpired reports whether an instance launched at launch has
// exceeded maxLifetime at now. The boundary is exclusive: an instance
// exactly at the limit is kept.
func InstanceExpired(launch, now time.Time, maxLifetime time.Duration) bool {
	return now.Sub(launch) > maxLifetime
}

// Watchdog checks host liveness and reaps overaged instances. It is built to
// run as a separate short-lived process driven by an external scheduler, so
// every check is a single idempotent pass.
type Watchdog struct {
	config  WatchdogConfig
	runtime container.Runtime
	logger  *slog.Logger
	killers func(pattern string) error
}

// NewWatchdog creates a watchdog.
func NewWatchdog(cfg WatchdogConfig, runtime container.Runtime, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		config:  cfg,
		runtime: runtime,
		logger:  logger.With("component", "watchdog"),
		killers: killByPattern,
	}
}

// RunOnce performs one watchdog pass: heartbeat check, then reap. The reap
// step runs unconditionally so a wedged or absent daemon cannot leak
// instances.
func (w *Watchdog) RunOnce(ctx context.Context) {
	w.checkHeartbeat(time.Now())
	w.reap(ctx, time.Now())
}

func (w *Watchdog) checkHeartbeat(now time.Time) {
	beat, err := ReadBeat(w.config.HeartbeatPath)
	if err != nil {
		// A missing or unreadable heartbeat is not proof of a wedged host:
		// the daemon may simply not have started yet. Log and move on.
		w.logger.Warn("watchdog: heartbeat unreadable", "path", w.config.HeartbeatPath, "error", err)
		return
	}

	age := now.Sub(beat)
	if !HeartbeatStale(beat, now, w.config.Staleness) {
		w.logger.Debug("watchdog: heartbeat healthy", "age", age.String())
		return
	}

	w.logger.Error("watchdog: heartbeat stale, killing host",
		"age", age.String(),
		"staleness", w.config.Staleness.String(),
		"pattern", w.config.HostPattern,
	)
	if err := w.killers(w.config.HostPattern); err != nil {
		w.logger.Error("watchdog: kill host failed", "error", err)
	}
}

func (w *Watchdog) reap(ctx context.Context, now time.Time) {
	names, err := w.runtime.List(ctx)
	if err != nil {
		w.logger.Error("watchdog: list instances failed", "error", err)
		return
	}

	max := w.config.MaxLifetime()
	for _, name := range names {
		launch, ok := container.ParseInstanceEpoch(name)
		if !ok {
			w.logger.Warn("watchdog: skipping unparseable instance name", "name", name)
			continue
		}
		if !InstanceExpired(launch, now, max) {
			continue
		}
		w.logger.Warn("watchdog: reaping overaged instance",
			"name", name,
			"age", now.Sub(launch).String(),
			"max_lifetime", max.String(),
		)
		if err := w.runtime.Stop(ctx, name); err != nil {
			w.logger.Error("watchdog: reap failed", "name", name, "error", err)
		}
	}
}

// killByPattern terminates processes whose command line matches pattern.
// The watchdog never restarts anything; supervision is the init system's job.
func killByPattern(pattern string) error {
	out, err := exec.Command("pkill", "-f", pattern).CombinedOutput()
	if err != nil {
		// Exit status 1 means no process matched, which is fine: the host
		// may have died on its own since the heartbeat went stale.
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil
		}
		return &killError{pattern: pattern, output: strings.TrimSpace(string(out)), err: err}
	}
	return nil
}

type killError struct {
	pattern string
	output  string
	err     error
}

func (e *killError) Error() string {
	return "watchdog: pkill -f " + e.pattern + ": " + e.err.Error() + ": " + e.output
}

func (e *killError) Unwrap() error { return e.err }
