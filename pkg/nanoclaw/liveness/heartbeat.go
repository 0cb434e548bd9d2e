// Package liveness keeps the host observable and the instance population
// bounded: a heartbeat file proves the daemon is alive, the watchdog kills a
// wedged daemon, and the reaper stops instances that overstayed their
// lifetime.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// HeartbeatConfig configures the heartbeat writer.
type HeartbeatConfig struct {
	// Path is the heartbeat file location.
	Path string `yaml:"path"`

	// Interval is the time between rewrites. Default: 30 seconds.
	Interval time.Duration `yaml:"interval"`
}

// DefaultHeartbeatConfig returns sensible defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Path:     "data/heartbeat",
		Interval: 30 * time.Second,
	}
}

// Heartbeat rewrites a single epoch-milliseconds value on a fixed interval.
type Heartbeat struct {
	config HeartbeatConfig
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewHeartbeat creates a heartbeat writer.
func NewHeartbeat(cfg HeartbeatConfig, logger *slog.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Heartbeat{
		config: cfg,
		logger: logger.With("component", "heartbeat"),
	}
}

// Start begins the heartbeat loop in a background goroutine. The first beat
// is written immediately so the watchdog never sees a stale file from a
// previous run.
func (h *Heartbeat) Start(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.beat()
	h.logger.Info("heartbeat started", "path", h.config.Path, "interval", h.config.Interval.String())

	go h.loop(hbCtx)
}

// Stop shuts down the heartbeat.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.beat()
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		}
	}
}

func (h *Heartbeat) beat() {
	if err := WriteBeat(h.config.Path, time.Now()); err != nil {
		h.logger.Error("heartbeat write failed", "error", err)
	}
}

// WriteBeat writes t as epoch milliseconds to path, replacing the previous
// value.
func WriteBeat(path string, t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("heartbeat: create directory: %w", err)
	}
	data := strconv.FormatInt(t.UnixMilli(), 10)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("heartbeat: write %q: %w", path, err)
	}
	return nil
}

// ReadBeat reads the last heartbeat time from path.
func ReadBeat(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("heartbeat: parse %q: %w", path, err)
	}
	return time.UnixMilli(ms), nil
}
