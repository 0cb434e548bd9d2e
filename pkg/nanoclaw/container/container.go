// Package container controls the sandboxed agent instances. Instances run in
// ephemeral containers driven through the docker CLI; the Runtime interface
// keeps the agent manager testable without a container engine.
package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// InstancePrefix is the name prefix shared by every agent instance.
const InstancePrefix = "nanoclaw-"

// instanceSeq disambiguates instances launched in the same millisecond.
// Container names must be unique per engine, and two folders can start a
// turn simultaneously.
var instanceSeq atomic.Uint64

// InstanceName builds the instance name for a launch at t:
// nanoclaw-<epoch-ms>-<seq>. The epoch milliseconds segment lets the reaper
// compute instance age from the name alone.
func InstanceName(t time.Time) string {
	return fmt.Sprintf("%s%d-%d", InstancePrefix, t.UnixMilli(), instanceSeq.Add(1))
}

// ParseInstanceEpoch extracts the launch time from an instance name. Anything
// after the epoch segment is an opaque uniquifier. Returns false for names
// that do not carry a well-formed epoch.
func ParseInstanceEpoch(name string) (time.Time, bool) {
	suffix, ok := strings.CutPrefix(name, InstancePrefix)
	if !ok || suffix == "" {
		return time.Time{}, false
	}
	epoch := suffix
	if i := strings.IndexByte(suffix, '-'); i >= 0 {
		epoch = suffix[:i]
	}
	if epoch == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// StartSpec describes an instance launch.
type StartSpec struct {
	Name     string
	Image    string
	GroupDir string            // mounted read-write at /workspace
	IPCDir   string            // mounted read-write at /ipc
	Env      map[string]string
	Args     []string
}

// Proc is a handle to a running instance.
type Proc struct {
	Name  string
	Stdin io.WriteCloser
	// Lines emits stdout lines and is closed when the process exits.
	Lines <-chan string
	// WaitFn blocks until exit. Set by the runtime; fakes override it.
	WaitFn func() error
}

// Wait blocks until the instance process exits.
func (p *Proc) Wait() error {
	if p.WaitFn == nil {
		return nil
	}
	return p.WaitFn()
}

// Runtime starts, stops and lists agent instances.
type Runtime interface {
	// Start launches an instance and returns a handle with live stdin/stdout.
	Start(ctx context.Context, spec StartSpec) (*Proc, error)

	// Stop force-removes an instance by name. Idempotent.
	Stop(ctx context.Context, name string) error

	// List returns the names of running instances carrying InstancePrefix.
	List(ctx context.Context) ([]string, error)
}

// DockerRuntime implements Runtime through the docker CLI.
type DockerRuntime struct {
	logger *slog.Logger
}

// NewDockerRuntime creates a docker-backed runtime.
func NewDockerRuntime(logger *slog.Logger) *DockerRuntime {
	return &DockerRuntime{logger: logger.With("component", "container")}
}

var _ Runtime = (*DockerRuntime)(nil)

// Start runs `docker run` attached, with the group folder and IPC mailbox
// bind-mounted. The container is removed by the engine on exit.
func (r *DockerRuntime) Start(ctx context.Context, spec StartSpec) (*Proc, error) {
	args := []string{
		"run", "-i", "--rm",
		"--name", spec.Name,
		"-v", spec.GroupDir + ":/workspace",
		"-v", spec.IPCDir + ":/ipc",
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Image)
	args = append(args, spec.Args...)

	// Deliberately not CommandContext: cancellation is handled by the agent
	// manager (sentinel + grace + Stop), not by killing the CLI process.
	cmd := exec.Command("docker", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("container: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("container: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("container: start %q: %w", spec.Name, err)
	}
	r.logger.Info("container: instance started", "name", spec.Name, "image", spec.Image)

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return &Proc{
		Name:   spec.Name,
		Stdin:  stdin,
		Lines:  lines,
		WaitFn: cmd.Wait,
	}, nil
}

// Stop force-removes the named instance. A missing container is not an
// error: the instance may already have exited on its own.
func (r *DockerRuntime) Stop(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "No such container") {
			return nil
		}
		return fmt.Errorf("container: stop %q: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	r.logger.Info("container: instance stopped", "name", name)
	return nil
}

// List returns running instance names that carry the nanoclaw prefix.
func (r *DockerRuntime) List(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "docker", "ps",
		"--filter", "name="+InstancePrefix, "--format", "{{.Names}}").Output()
	if err != nil {
		return nil, fmt.Errorf("container: list instances: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, InstancePrefix) {
			names = append(names, line)
		}
	}
	return names, nil
}
