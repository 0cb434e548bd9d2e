package ipc

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testPoller(t *testing.T, root string, deliver DeliverFunc) *Poller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewPoller(root, 50*time.Millisecond, logger, deliver)
}

func TestPollerDeliversAndDeletes(t *testing.T) {
	root := t.TempDir()

	var got []string
	p := testPoller(t, root, func(folder, text string) {
		got = append(got, folder+":"+text)
	})

	err := WriteEnvelope(root, "main", Envelope{Type: EnvelopeMessage, Text: "hello from the agent"})
	if err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	p.PollOnce()

	if len(got) != 1 || got[0] != "main:hello from the agent" {
		t.Fatalf("unexpected deliveries: %v", got)
	}

	entries, err := os.ReadDir(MailboxDir(root, "main"))
	if err != nil {
		t.Fatalf("read mailbox: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("envelope not deleted after delivery, %d files remain", len(entries))
	}

	// A second poll must not redeliver.
	p.PollOnce()
	if len(got) != 1 {
		t.Errorf("redelivery after delete: %v", got)
	}
}

func TestPollerDeletesMalformedWithoutDelivery(t *testing.T) {
	root := t.TempDir()

	delivered := 0
	p := testPoller(t, root, func(folder, text string) { delivered++ })

	dir := MailboxDir(root, "main")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p.PollOnce()

	if delivered != 0 {
		t.Errorf("malformed envelope was delivered %d times", delivered)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("malformed envelope not deleted, %d files remain", len(entries))
	}
}

func TestPollerIgnoresNonMessageTypes(t *testing.T) {
	root := t.TempDir()

	delivered := 0
	p := testPoller(t, root, func(folder, text string) { delivered++ })

	if err := WriteEnvelope(root, "main", Envelope{Type: "status", Text: "ignored"}); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	p.PollOnce()

	if delivered != 0 {
		t.Errorf("non-message envelope delivered")
	}
	entries, _ := os.ReadDir(MailboxDir(root, "main"))
	if len(entries) != 0 {
		t.Errorf("non-message envelope not deleted")
	}
}

func TestPollerToleratesMissingDirectories(t *testing.T) {
	p := testPoller(t, filepath.Join(t.TempDir(), "does-not-exist"), func(folder, text string) {
		t.Errorf("unexpected delivery from %s", folder)
	})
	p.PollOnce() // must not panic or log-spam
}

// A folder with an in-flight turn belongs to the turn's own poller. The
// global poller must leave its envelopes untouched at scan time — checking
// after consumption would already have deleted them.
func TestPollOnceSkipsFilteredFolders(t *testing.T) {
	root := t.TempDir()

	var got []string
	p := testPoller(t, root, func(folder, text string) {
		got = append(got, folder+":"+text)
	})
	active := map[string]bool{"busy": true}
	p.SetSkip(func(folder string) bool { return active[folder] })

	if err := WriteEnvelope(root, "busy", Envelope{Type: EnvelopeMessage, Text: "interim"}); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	if err := WriteEnvelope(root, "idle", Envelope{Type: EnvelopeMessage, Text: "leftover"}); err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	p.PollOnce()

	if len(got) != 1 || got[0] != "idle:leftover" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	entries, err := os.ReadDir(MailboxDir(root, "busy"))
	if err != nil {
		t.Fatalf("read mailbox: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("skipped folder's envelope was consumed, %d files remain", len(entries))
	}

	// The turn's own drain bypasses the filter and picks the envelope up.
	p.PollFolder("busy")
	if len(got) != 2 || got[1] != "busy:interim" {
		t.Errorf("turn drain missed the envelope: %v", got)
	}

	// Once the turn is over, PollOnce sees the folder again.
	delete(active, "busy")
	if err := WriteEnvelope(root, "busy", Envelope{Type: EnvelopeMessage, Text: "later"}); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	p.PollOnce()
	if len(got) != 3 || got[2] != "busy:later" {
		t.Errorf("folder not polled after skip cleared: %v", got)
	}
}

func TestStripInternal(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no regions", "plain text", "plain text"},
		{"single region", "before <internal>secret</internal> after", "before  after"},
		{"multiple regions", "<internal>a</internal>x<internal>b</internal>y", "xy"},
		{"unterminated strips to end", "keep <internal>rest is gone", "keep "},
		{"whole message internal", "<internal>tool call output</internal>", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripInternal(tc.in); got != tc.want {
				t.Errorf("StripInternal(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestInternalOnlyEnvelopeNotDelivered(t *testing.T) {
	root := t.TempDir()

	delivered := 0
	p := testPoller(t, root, func(folder, text string) { delivered++ })

	env := Envelope{Type: EnvelopeMessage, Text: "  <internal>bookkeeping</internal>  "}
	if err := WriteEnvelope(root, "main", env); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	p.PollOnce()

	if delivered != 0 {
		t.Errorf("internal-only envelope was delivered")
	}
}
