package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestSplitMessageBoundaries(t *testing.T) {
	t.Run("exactly at limit is one chunk", func(t *testing.T) {
		payload := strings.Repeat("a", maxMessageLen)
		chunks := SplitMessage(payload, maxMessageLen)
		if len(chunks) != 1 {
			t.Fatalf("expected 1 chunk, got %d", len(chunks))
		}
		if chunks[0] != payload {
			t.Errorf("chunk differs from payload")
		}
	})

	t.Run("one over the limit is two chunks", func(t *testing.T) {
		payload := strings.Repeat("a", maxMessageLen+1)
		chunks := SplitMessage(payload, maxMessageLen)
		if len(chunks) != 2 {
			t.Fatalf("expected 2 chunks, got %d", len(chunks))
		}
		if len(chunks[0]) != maxMessageLen {
			t.Errorf("first chunk len = %d", len(chunks[0]))
		}
		if chunks[1] != "a" {
			t.Errorf("second chunk = %q, want single character", chunks[1])
		}
	})

	t.Run("concatenation reconstructs the payload", func(t *testing.T) {
		payload := strings.Repeat("palavra ", 1000) // 8000 chars
		chunks := SplitMessage(payload, maxMessageLen)
		if strings.Join(chunks, "") != payload {
			t.Errorf("chunks do not reconstruct the payload")
		}
		for i, c := range chunks {
			if len([]rune(c)) > maxMessageLen {
				t.Errorf("chunk %d exceeds limit: %d", i, len([]rune(c)))
			}
		}
	})

	t.Run("cuts ignore word boundaries", func(t *testing.T) {
		payload := strings.Repeat("x", maxMessageLen-1) + " word"
		chunks := SplitMessage(payload, maxMessageLen)
		if len(chunks) != 2 {
			t.Fatalf("expected 2 chunks, got %d", len(chunks))
		}
		if !strings.HasSuffix(chunks[0], " ") {
			t.Errorf("cut moved off the exact boundary: %q", chunks[0][len(chunks[0])-5:])
		}
	})

	t.Run("multibyte runes never split", func(t *testing.T) {
		payload := strings.Repeat("ã", maxMessageLen+5)
		chunks := SplitMessage(payload, maxMessageLen)
		if len(chunks) != 2 {
			t.Fatalf("expected 2 chunks, got %d", len(chunks))
		}
		if got := len([]rune(chunks[1])); got != 5 {
			t.Errorf("second chunk runes = %d, want 5", got)
		}
		if strings.Join(chunks, "") != payload {
			t.Errorf("chunks corrupt multibyte payload")
		}
	})
}

func TestOwnsJIDPartition(t *testing.T) {
	d := New(DefaultConfig(), nil)

	owned := []string{"123456789@discord", "@discord"}
	for _, jid := range owned {
		if !d.OwnsJID(jid) {
			t.Errorf("should own %q", jid)
		}
	}

	notOwned := []string{"5511999999999@s.whatsapp.net", "123@g.us", "123456789", "discord"}
	for _, jid := range notOwned {
		if d.OwnsJID(jid) {
			t.Errorf("should not own %q", jid)
		}
	}
}

func TestDisplayNameFallbackChain(t *testing.T) {
	cases := []struct {
		name   string
		member *discordgo.Member
		user   *discordgo.User
		want   string
	}{
		{
			name:   "server nick wins",
			member: &discordgo.Member{Nick: "Zé do Bot"},
			user:   &discordgo.User{ID: "1", Username: "ze", GlobalName: "Zé"},
			want:   "Zé do Bot",
		},
		{
			name: "global name next",
			user: &discordgo.User{ID: "1", Username: "ze", GlobalName: "Zé"},
			want: "Zé",
		},
		{
			name: "username next",
			user: &discordgo.User{ID: "1", Username: "ze"},
			want: "ze",
		},
		{
			name: "raw id last",
			user: &discordgo.User{ID: "424242"},
			want: "424242",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DisplayName(tc.member, tc.user); got != tc.want {
				t.Errorf("DisplayName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveNameMemoized(t *testing.T) {
	d := New(DefaultConfig(), nil)

	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "99", Username: "ana", GlobalName: "Ana"},
	}}
	if got := d.resolveName(m); got != "Ana" {
		t.Fatalf("first resolve = %q", got)
	}

	// A later message without the global name must still hit the cache.
	m2 := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "99", Username: "ana"},
	}}
	if got := d.resolveName(m2); got != "Ana" {
		t.Errorf("memoized resolve = %q, want cached %q", got, "Ana")
	}
}
