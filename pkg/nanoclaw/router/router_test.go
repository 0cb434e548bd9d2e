package router

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// fakeChannel owns JIDs by suffix and records sends.
type fakeChannel struct {
	name   string
	suffix string
	sent   []string
	typing []bool
	inbox  chan *channels.Message
}

func newFakeChannel(name, suffix string) *fakeChannel {
	return &fakeChannel{name: name, suffix: suffix, inbox: make(chan *channels.Message, 8)}
}

func (f *fakeChannel) Name() string                     { return f.name }
func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error                { return nil }
func (f *fakeChannel) OwnsJID(jid string) bool          { return strings.HasSuffix(jid, f.suffix) }
func (f *fakeChannel) Receive() <-chan *channels.Message { return f.inbox }

func (f *fakeChannel) Send(ctx context.Context, jid, text string) error {
	f.sent = append(f.sent, jid+"|"+text)
	return nil
}

func (f *fakeChannel) SetTyping(ctx context.Context, jid string, typing bool) error {
	f.typing = append(f.typing, typing)
	return nil
}

var _ channels.Channel = (*fakeChannel)(nil)

func newTestRouter(t *testing.T, enqueue EnqueueFunc, chs ...channels.Channel) (*Router, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "nanoclaw.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return New(chs, st, enqueue, logger), st
}

func TestSendDispatchesByOwnership(t *testing.T) {
	wa := newFakeChannel("whatsapp", "@g.us")
	dc := newFakeChannel("discord", "@discord")
	r, _ := newTestRouter(t, nil, wa, dc)

	if err := r.Send(context.Background(), "123@g.us", "oi"); err != nil {
		t.Fatalf("send whatsapp: %v", err)
	}
	if err := r.Send(context.Background(), "555@discord", "hey"); err != nil {
		t.Fatalf("send discord: %v", err)
	}

	if len(wa.sent) != 1 || wa.sent[0] != "123@g.us|oi" {
		t.Errorf("whatsapp sent = %v", wa.sent)
	}
	if len(dc.sent) != 1 || dc.sent[0] != "555@discord|hey" {
		t.Errorf("discord sent = %v", dc.sent)
	}

	t.Run("unclaimed jid errors loudly", func(t *testing.T) {
		err := r.Send(context.Background(), "nobody@unknown", "lost")
		if !errors.Is(err, channels.ErrNoChannelForJID) {
			t.Errorf("expected ErrNoChannelForJID, got %v", err)
		}
		if len(wa.sent) != 1 || len(dc.sent) != 1 {
			t.Errorf("unclaimed send reached a channel")
		}
	})
}

func TestInboundPersistsUnconditionally(t *testing.T) {
	wa := newFakeChannel("whatsapp", "@g.us")
	enqueued := 0
	r, st := newTestRouter(t, func(ctx context.Context, g store.RegisteredGroup) { enqueued++ }, wa)

	msg := &channels.Message{
		ID:        "m1",
		ChatJID:   "999@g.us", // not registered
		Sender:    "42@s.whatsapp.net",
		Content:   "just chatting",
		Timestamp: time.Now().UTC(),
	}
	r.HandleInbound(context.Background(), msg)

	if enqueued != 0 {
		t.Errorf("unregistered chat was enqueued")
	}
	msgs, err := st.GetMessagesAfter("999@g.us", 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("message not persisted for unregistered chat")
	}
	chats, _ := st.GetAllChats()
	if len(chats) != 1 {
		t.Errorf("chat metadata not persisted")
	}
}

func TestTriggerGating(t *testing.T) {
	wa := newFakeChannel("whatsapp", "@g.us")
	var enqueued []string
	r, st := newTestRouter(t, func(ctx context.Context, g store.RegisteredGroup) {
		enqueued = append(enqueued, g.Folder)
	}, wa)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(st.RegisterGroup(store.RegisteredGroup{
		JID: "123@g.us", Folder: "familia", Trigger: "@bot", RequiresTrigger: true,
	}))
	must(st.RegisterGroup(store.RegisteredGroup{
		JID: "777@g.us", Folder: "main", RequiresTrigger: false,
	}))

	deliver := func(jid, content string, fromMe bool) {
		r.HandleInbound(context.Background(), &channels.Message{
			ID: "m-" + content, ChatJID: jid, Content: content,
			Timestamp: time.Now().UTC(), IsFromMe: fromMe,
		})
	}

	t.Run("untriggered content not forwarded", func(t *testing.T) {
		deliver("123@g.us", "bom dia pessoal", false)
		if len(enqueued) != 0 {
			t.Errorf("enqueued = %v", enqueued)
		}
	})

	t.Run("trigger prefix forwards, case-insensitive", func(t *testing.T) {
		deliver("123@g.us", "  @BOT faz um resumo", false)
		if len(enqueued) != 1 || enqueued[0] != "familia" {
			t.Errorf("enqueued = %v", enqueued)
		}
	})

	t.Run("trigger mid-message does not forward", func(t *testing.T) {
		deliver("123@g.us", "alguém chama o @bot depois", false)
		if len(enqueued) != 1 {
			t.Errorf("mid-message trigger forwarded: %v", enqueued)
		}
	})

	t.Run("no-trigger group forwards everything", func(t *testing.T) {
		deliver("777@g.us", "anything at all", false)
		if len(enqueued) != 2 || enqueued[1] != "main" {
			t.Errorf("enqueued = %v", enqueued)
		}
	})

	t.Run("own messages never forwarded", func(t *testing.T) {
		deliver("777@g.us", "echo of my own send", true)
		if len(enqueued) != 2 {
			t.Errorf("own message forwarded: %v", enqueued)
		}
		// but still persisted
		msgs, _ := st.GetMessagesAfter("777@g.us", 0)
		if len(msgs) != 2 {
			t.Errorf("own message not persisted, have %d", len(msgs))
		}
	})
}

func TestStartConsumesChannelInbox(t *testing.T) {
	wa := newFakeChannel("whatsapp", "@g.us")
	done := make(chan store.RegisteredGroup, 1)
	r, st := newTestRouter(t, func(ctx context.Context, g store.RegisteredGroup) { done <- g }, wa)

	if err := st.RegisterGroup(store.RegisteredGroup{JID: "123@g.us", Folder: "main"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	wa.inbox <- &channels.Message{ID: "m1", ChatJID: "123@g.us", Content: "hi", Timestamp: time.Now().UTC()}

	select {
	case g := <-done:
		if g.Folder != "main" {
			t.Errorf("folder = %q", g.Folder)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inbound message never reached orchestration")
	}
}
