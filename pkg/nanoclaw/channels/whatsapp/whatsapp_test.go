package whatsapp

import (
	"log/slog"
	"os"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestParseJID(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"full user jid", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net", false},
		{"group jid", "123456789-987654@g.us", "123456789-987654@g.us", false},
		{"bare phone number", "5511999999999", "5511999999999@s.whatsapp.net", false},
		{"formatted phone", "+55 (11) 99999-9999", "5511999999999@s.whatsapp.net", false},
		{"too short", "12345", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jid, err := parseJID(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %v", tc.input, jid)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseJID(%q): %v", tc.input, err)
			}
			if jid.String() != tc.want {
				t.Errorf("parseJID(%q) = %q, want %q", tc.input, jid.String(), tc.want)
			}
		})
	}
}

func TestOwnsJIDPartition(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	w := New(DefaultConfig(), logger)

	owned := []string{
		"5511999999999@s.whatsapp.net",
		"123456789-987654@g.us",
		"98765@lid",
		"status@broadcast",
	}
	for _, jid := range owned {
		if !w.OwnsJID(jid) {
			t.Errorf("should own %q", jid)
		}
	}

	notOwned := []string{"123456789@discord", "5511999999999", "someone@example.com"}
	for _, jid := range notOwned {
		if w.OwnsJID(jid) {
			t.Errorf("should not own %q", jid)
		}
	}
}

func TestPickSenderNameFallbackChain(t *testing.T) {
	cases := []struct {
		name                             string
		display, fullName, contactPush   string
		raw                              string
		want                             string
	}{
		{"display wins", "Maria", "Maria Silva", "maria.s", "5511988887777", "Maria"},
		{"full name next", "", "Maria Silva", "maria.s", "5511988887777", "Maria Silva"},
		{"contact push next", "", "", "maria.s", "5511988887777", "maria.s"},
		{"raw id last", "", "", "", "5511988887777", "5511988887777"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pickSenderName(tc.display, tc.fullName, tc.contactPush, tc.raw)
			if got != tc.want {
				t.Errorf("pickSenderName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	t.Run("conversation", func(t *testing.T) {
		msg := &waE2E.Message{Conversation: proto.String("oi")}
		if got := extractText(msg); got != "oi" {
			t.Errorf("extractText = %q", got)
		}
	})

	t.Run("extended text", func(t *testing.T) {
		msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("com link")}}
		if got := extractText(msg); got != "com link" {
			t.Errorf("extractText = %q", got)
		}
	})

	t.Run("image caption", func(t *testing.T) {
		msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("olha isso")}}
		if got := extractText(msg); got != "olha isso" {
			t.Errorf("extractText = %q", got)
		}
	})

	t.Run("nil and empty", func(t *testing.T) {
		if got := extractText(nil); got != "" {
			t.Errorf("extractText(nil) = %q", got)
		}
		if got := extractText(&waE2E.Message{}); got != "" {
			t.Errorf("extractText(empty) = %q", got)
		}
	})
}
