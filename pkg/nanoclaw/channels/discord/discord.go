// Package discord implements the Discord channel for NanoClaw using discordgo.
//
// JIDs on this channel are "<channelID>@discord". Discord limits messages to
// 2000 characters, so outbound text is sent as sequential exact-boundary
// chunks.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels"
)

// JIDSuffix marks JIDs owned by the Discord channel.
const JIDSuffix = "@discord"

// maxMessageLen is Discord's hard per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Enabled turns the channel on/off.
	Enabled bool `yaml:"enabled"`

	// Token is the Discord bot token. Usually resolved from the
	// environment or OS keyring rather than written here.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the router.
	messages chan *channels.Message

	// connected tracks connection state.
	connected atomic.Bool

	// names memoizes resolved display names by user ID.
	namesMu sync.Mutex
	names   map[string]string
}

var _ channels.Channel = (*Discord)(nil)

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.Message, 256),
		names:    make(map[string]string),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// OwnsJID reports whether the JID belongs to Discord. Pure suffix check.
func (d *Discord) OwnsJID(jid string) bool {
	return strings.HasSuffix(jid, JIDSuffix)
}

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send delivers text to the channel behind the JID, splitting into
// exact-boundary chunks when it exceeds the platform limit.
func (d *Discord) Send(ctx context.Context, jid, text string) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	channelID := strings.TrimSuffix(jid, JIDSuffix)

	for _, chunk := range SplitMessage(text, maxMessageLen) {
		if _, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: chunk}); err != nil {
			return fmt.Errorf("discord: send to %s: %w", channelID, err)
		}
	}
	return nil
}

// SetTyping triggers the typing indicator. Discord has no explicit "stop
// typing"; the indicator expires on its own, so typing=false is a no-op.
func (d *Discord) SetTyping(ctx context.Context, jid string, typing bool) error {
	if d.session == nil || !typing {
		return nil
	}
	return d.session.ChannelTyping(strings.TrimSuffix(jid, JIDSuffix))
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.Message {
	return d.messages
}

// SplitMessage cuts s into sequential chunks of at most limit characters.
// Cuts land exactly on the boundary with no word-splitting awareness: a
// payload exactly at the limit is a single chunk.
func SplitMessage(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(runes) > limit {
		chunks = append(chunks, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(chunks, string(runes))
}

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" {
		allowed := false
		for _, id := range d.cfg.AllowedGuilds {
			if id == m.GuildID {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
	}

	msg := &channels.Message{
		ID:         m.ID,
		ChatJID:    m.ChannelID + JIDSuffix,
		Sender:     m.Author.ID,
		SenderName: d.resolveName(m),
		Content:    m.Content,
		Timestamp:  m.Timestamp.UTC(),
		IsFromMe:   m.Author.ID == s.State.User.ID,
	}

	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// resolveName memoizes the author's display name. Lookup never fails hard:
// the raw user ID is the final fallback.
func (d *Discord) resolveName(m *discordgo.MessageCreate) string {
	d.namesMu.Lock()
	defer d.namesMu.Unlock()

	if name, ok := d.names[m.Author.ID]; ok {
		return name
	}

	var member *discordgo.Member
	if m.Member != nil {
		member = m.Member
	}
	name := DisplayName(member, m.Author)
	d.names[m.Author.ID] = name
	return name
}

// DisplayName picks the best available name for a user: server nickname,
// then global display name, then username, then the raw ID.
func DisplayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	if user.Username != "" {
		return user.Username
	}
	return user.ID
}
