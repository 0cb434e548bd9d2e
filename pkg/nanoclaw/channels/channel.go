// Package channels defines the interface and types for NanoClaw communication
// channels. Each channel (WhatsApp, Discord) implements the Channel interface
// so the router can receive and send messages in a unified way.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers a text message to the chat identified by jid.
	Send(ctx context.Context, jid string, text string) error

	// SetTyping toggles the typing indicator for the chat. Best-effort.
	SetTyping(ctx context.Context, jid string, typing bool) error

	// OwnsJID reports whether this channel is responsible for the JID.
	// Implementations must be pure functions of the JID string, and the
	// set of channels in a process must partition the JID space.
	OwnsJID(jid string) bool

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *Message
}

// Message is a normalized message, identical in shape for every channel.
type Message struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// ChatJID is the canonical conversation identifier.
	ChatJID string

	// Sender is the platform identifier of the author.
	Sender string

	// SenderName is the resolved display name of the author.
	SenderName string

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent, in UTC.
	Timestamp time.Time

	// IsFromMe indicates the message was authored by the connected account.
	IsFromMe bool
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrNoChannelForJID     = fmt.Errorf("no channel owns this jid")
	ErrSendFailed          = fmt.Errorf("failed to send message")
)
