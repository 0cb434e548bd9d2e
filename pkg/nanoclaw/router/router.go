// Package router connects channels to the orchestration layer: every inbound
// message is persisted, registered conversations are forwarded for agent
// processing, and outbound sends are dispatched to whichever channel owns the
// JID.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// EnqueueFunc hands a registered group to the orchestration layer after a
// message passed gating.
type EnqueueFunc func(ctx context.Context, group store.RegisteredGroup)

// Router owns the channel set and the inbound/outbound flow.
type Router struct {
	channels []channels.Channel
	store    *store.Store
	logger   *slog.Logger
	enqueue  EnqueueFunc

	wg sync.WaitGroup
}

// New creates a router over an ordered channel list. Outbound dispatch probes
// OwnsJID in this order, so the list must partition the JID space.
func New(chs []channels.Channel, st *store.Store, enqueue EnqueueFunc, logger *slog.Logger) *Router {
	return &Router{
		channels: chs,
		store:    st,
		logger:   logger.With("component", "router"),
		enqueue:  enqueue,
	}
}

// Start launches one consumer goroutine per channel.
func (r *Router) Start(ctx context.Context) {
	for _, ch := range r.channels {
		r.wg.Add(1)
		go func(ch channels.Channel) {
			defer r.wg.Done()
			r.consume(ctx, ch)
		}(ch)
	}
}

// Wait blocks until every consumer has drained.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) consume(ctx context.Context, ch channels.Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Receive():
			if !ok {
				r.logger.Info("router: channel closed", "channel", ch.Name())
				return
			}
			r.HandleInbound(ctx, msg)
		}
	}
}

// HandleInbound persists a normalized message and forwards it into
// orchestration when its conversation is registered and gating passes.
// Persistence is unconditional: history accrues for unregistered chats too.
func (r *Router) HandleInbound(ctx context.Context, msg *channels.Message) {
	if err := r.store.UpsertChat(msg.ChatJID, msg.SenderName, msg.Timestamp); err != nil {
		r.logger.Error("router: upsert chat failed", "jid", msg.ChatJID, "error", err)
	}
	if err := r.store.StoreMessage(msg); err != nil {
		r.logger.Error("router: store message failed", "id", msg.ID, "error", err)
	}

	if msg.IsFromMe {
		return
	}

	group, err := r.store.GetRegisteredGroup(msg.ChatJID)
	if err != nil {
		r.logger.Error("router: registration lookup failed", "jid", msg.ChatJID, "error", err)
		return
	}
	if group == nil {
		return
	}
	if !TriggerMatches(*group, msg.Content) {
		return
	}

	r.logger.Debug("router: forwarding to agent", "jid", msg.ChatJID, "folder", group.Folder)
	if r.enqueue != nil {
		r.enqueue(ctx, *group)
	}
}

// TriggerMatches applies the group's gating rule. Groups without a trigger
// requirement accept everything; otherwise the trimmed content must start
// with the trigger word, case-insensitively.
func TriggerMatches(group store.RegisteredGroup, content string) bool {
	if !group.RequiresTrigger {
		return true
	}
	if group.Trigger == "" {
		return false
	}
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < len(group.Trigger) {
		return false
	}
	return strings.EqualFold(trimmed[:len(group.Trigger)], group.Trigger)
}

// Send dispatches text to the channel that owns the JID.
func (r *Router) Send(ctx context.Context, jid, text string) error {
	ch := r.channelFor(jid)
	if ch == nil {
		r.logger.Error("router: no channel owns jid", "jid", jid)
		return fmt.Errorf("router: send to %q: %w", jid, channels.ErrNoChannelForJID)
	}
	if err := ch.Send(ctx, jid, text); err != nil {
		return fmt.Errorf("router: send via %s: %w", ch.Name(), err)
	}
	return nil
}

// SetTyping toggles the typing indicator on the owning channel. Best-effort:
// failures are logged, never returned.
func (r *Router) SetTyping(ctx context.Context, jid string, typing bool) {
	ch := r.channelFor(jid)
	if ch == nil {
		return
	}
	if err := ch.SetTyping(ctx, jid, typing); err != nil {
		r.logger.Debug("router: set typing failed", "jid", jid, "error", err)
	}
}

func (r *Router) channelFor(jid string) channels.Channel {
	for _, ch := range r.channels {
		if ch.OwnsJID(jid) {
			return ch
		}
	}
	return nil
}
