// Package whatsapp – events.go converts whatsmeow events into normalized
// NanoClaw messages.
package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connection established")

	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost, whatsmeow will reconnect")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out remotely, QR scan required", "reason", evt.Reason)

	case *events.PushName:
		// Invalidate the cached name so the next message re-resolves.
		w.namesMu.Lock()
		delete(w.names, evt.JID.ToNonAD().String())
		w.namesMu.Unlock()
	}
}

// handleMessageEvt converts one WhatsApp message into the normalized form.
// Own messages are forwarded too: the router persists them and skips
// orchestration.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	text := extractText(evt.Message)
	if text == "" {
		return
	}

	// WhatsApp may report senders as LIDs (linked identities); resolve to
	// the phone JID so registrations keyed by phone number keep matching.
	sender := evt.Info.Sender
	if sender.Server == "lid" && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, sender); err == nil && !alt.IsEmpty() {
			sender = alt
		}
	}
	chat := evt.Info.Chat
	if chat.Server == "lid" && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, chat); err == nil && !alt.IsEmpty() {
			chat = alt
		}
	}

	w.emitMessage(&channels.Message{
		ID:         string(evt.Info.ID),
		ChatJID:    chat.String(),
		Sender:     sender.String(),
		SenderName: w.resolveSenderName(sender, evt.Info.PushName),
		Content:    text,
		Timestamp:  evt.Info.Timestamp.UTC(),
		IsFromMe:   evt.Info.IsFromMe,
	})
}

// extractText pulls the text content out of a WhatsApp message. Non-text
// messages yield "".
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

// resolveSenderName memoizes the sender's display name. The push name from
// the event wins; otherwise the contact store is consulted once per JID.
// Lookup failure falls back to the raw user part and never drops a message.
func (w *WhatsApp) resolveSenderName(jid types.JID, pushName string) string {
	key := jid.ToNonAD().String()

	w.namesMu.Lock()
	defer w.namesMu.Unlock()

	if pushName != "" {
		w.names[key] = pushName
		return pushName
	}
	if name, ok := w.names[key]; ok {
		return name
	}

	var fullName, contactPush string
	if w.client != nil && w.client.Store != nil && w.client.Store.Contacts != nil {
		if contact, err := w.client.Store.Contacts.GetContact(w.ctx, jid); err == nil && contact.Found {
			fullName = contact.FullName
			contactPush = contact.PushName
		}
	}

	name := pickSenderName(pushName, fullName, contactPush, jid.User)
	w.names[key] = name
	return name
}

// pickSenderName applies the display-name fallback chain: push (display)
// name, then contact full name, then contact push name, then the raw id.
func pickSenderName(display, fullName, contactPush, raw string) string {
	if display != "" {
		return display
	}
	if fullName != "" {
		return fullName
	}
	if contactPush != "" {
		return contactPush
	}
	return raw
}
