// Package ipc implements the filesystem mailbox between agent instances and
// the host. Agents drop JSON envelope files into their folder's mailbox; the
// host polls, delivers the text and deletes the files.
//
// Delivery is at-least-once relative to crash recovery: a file is deleted
// after delivery is attempted, so a crash between delivery and deletion can
// replay a message on restart. In the normal path each file is delivered
// exactly once.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Envelope is the on-disk message format.
type Envelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EnvelopeMessage is the only envelope type delivered to chats.
const EnvelopeMessage = "message"

// MailboxDir returns the mailbox directory for a group folder.
func MailboxDir(root, folder string) string {
	return filepath.Join(root, folder, "messages")
}

// DeliverFunc receives the stripped, trimmed text of one envelope.
type DeliverFunc func(folder, text string)

// Poller scans every group mailbox under root on a fixed interval.
type Poller struct {
	root     string
	interval time.Duration
	logger   *slog.Logger
	deliver  DeliverFunc
	skip     func(folder string) bool
}

// NewPoller creates a mailbox poller rooted at root.
func NewPoller(root string, interval time.Duration, logger *slog.Logger, deliver DeliverFunc) *Poller {
	return &Poller{
		root:     root,
		interval: interval,
		logger:   logger.With("component", "ipc"),
		deliver:  deliver,
	}
}

// SetSkip installs a folder filter consulted before a mailbox is scanned in
// PollOnce. Folders with an in-flight turn are skipped this way so the
// envelopes stay on disk for the turn's own poller instead of being consumed
// here. Must be set before Start. PollFolder ignores the filter.
func (p *Poller) SetSkip(skip func(folder string) bool) {
	p.skip = skip
}

// Start runs the poll loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PollOnce()
			}
		}
	}()
}

// PollOnce scans every mailbox one time. Exported so the agent manager can
// drain a folder's mailbox at the end of a turn.
func (p *Poller) PollOnce() {
	folders, err := os.ReadDir(p.root)
	if err != nil {
		// The root appears when the first agent runs. Nothing to do yet.
		if os.IsNotExist(err) {
			return
		}
		p.logger.Warn("ipc: read root", "error", err)
		return
	}
	for _, f := range folders {
		if !f.IsDir() {
			continue
		}
		if p.skip != nil && p.skip(f.Name()) {
			continue
		}
		p.pollFolder(f.Name())
	}
}

// PollFolder scans a single folder's mailbox.
func (p *Poller) PollFolder(folder string) {
	p.pollFolder(folder)
}

func (p *Poller) pollFolder(folder string) {
	dir := MailboxDir(p.root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		p.logger.Warn("ipc: read mailbox", "folder", folder, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p.consumeFile(folder, path)
	}
}

// consumeFile reads, delivers and deletes one envelope file. The file is
// deleted whether or not it parsed: a malformed file would otherwise wedge
// the mailbox forever.
func (p *Poller) consumeFile(folder, path string) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("ipc: remove envelope", "path", path, "error", err)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("ipc: read envelope", "path", path, "error", err)
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		p.logger.Warn("ipc: malformed envelope dropped", "path", path, "error", err)
		return
	}
	if env.Type != EnvelopeMessage {
		p.logger.Debug("ipc: ignoring envelope", "path", path, "type", env.Type)
		return
	}

	text := strings.TrimSpace(StripInternal(env.Text))
	if text == "" {
		return
	}
	p.deliver(folder, text)
}

// WriteEnvelope drops an envelope into a folder's mailbox. Used by tests and
// by tooling that injects messages on the agent's behalf.
func WriteEnvelope(root, folder string, env Envelope) error {
	dir := MailboxDir(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ipc: create mailbox %q: %w", dir, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	name := fmt.Sprintf("%d.json", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("ipc: write envelope: %w", err)
	}
	return nil
}

// StripInternal removes every <internal>…</internal> region from s. An
// unterminated opening tag strips through the end of the string.
func StripInternal(s string) string {
	const open, close = "<internal>", "</internal>"
	var b strings.Builder
	for {
		i := strings.Index(s, open)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		rest := s[i+len(open):]
		j := strings.Index(rest, close)
		if j < 0 {
			return b.String()
		}
		s = rest[j+len(close):]
	}
}
