// Package events provides type-safe definitions for the webhook payloads that
// flow between the messaging platform, the ticketing platform, and the
// synchronization engine. Both inbound event streams are decoded into these
// types before any processing decision is made.
package events

import (
	"fmt"
	"strings"
)

// MimeTextPlain is the only message part type that is synchronized.
// Parts with any other mime type are ignored.
const MimeTextPlain = "text/plain"

// Conversation represents a messaging-platform thread of messages.
// Conversations are ephemeral in this system: they are persisted in the
// pending store only between their creation event and their first message.
type Conversation struct {
	ID           string            `json:"id"`                     // Platform-assigned conversation identifier
	Participants []string          `json:"participants,omitempty"` // User IDs participating in the thread
	Metadata     map[string]string `json:"metadata,omitempty"`     // Free-form conversation metadata
}

// ConversationRef is the embedded conversation reference carried on a Message.
type ConversationRef struct {
	ID string `json:"id"`
}

// Sender identifies the user that sent a Message.
type Sender struct {
	UserID string `json:"user_id"`
}

// MessagePart is a single mime-typed chunk of message content.
type MessagePart struct {
	MimeType string `json:"mime_type"`
	Body     string `json:"body"`
}

// Message represents a single messaging-platform message. Messages are
// transient: they are consumed once per event and never stored.
type Message struct {
	Conversation ConversationRef `json:"conversation"`
	Sender       Sender          `json:"sender"`
	Parts        []MessagePart   `json:"parts"`
}

// PlainTextParts returns the bodies of all text/plain parts, in order.
func (m *Message) PlainTextParts() []string {
	var parts []string
	for _, p := range m.Parts {
		if p.MimeType == MimeTextPlain {
			parts = append(parts, p.Body)
		}
	}
	return parts
}

// PlainText returns all text/plain part bodies joined with newlines.
// Returns the empty string if the message carries no plain-text parts.
func (m *Message) PlainText() string {
	return strings.Join(m.PlainTextParts(), "\n")
}

// FirstPlainText returns the body of the first text/plain part, or the
// empty string if there is none.
func (m *Message) FirstPlainText() string {
	for _, p := range m.Parts {
		if p.MimeType == MimeTextPlain {
			return p.Body
		}
	}
	return ""
}

// Type identifies a messaging-platform webhook event.
type Type string

const (
	// TypeConversationCreated fires when a new conversation is opened.
	TypeConversationCreated Type = "conversation.created"

	// TypeMessageSent fires when a message is posted into a conversation.
	TypeMessageSent Type = "message.sent"
)

// Validate checks if the Type is a known event type.
func (t Type) Validate() error {
	switch t {
	case TypeConversationCreated, TypeMessageSent:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", t)
	}
}

// Event is the decoded messaging-platform webhook envelope. Exactly one of
// Conversation or Message is populated, matching the event type.
type Event struct {
	Type         Type          `json:"type"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`
}

// Validate checks that the envelope carries the payload its type requires.
func (e *Event) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}

	switch e.Type {
	case TypeConversationCreated:
		if e.Conversation == nil {
			return fmt.Errorf("%s event has no conversation payload", e.Type)
		}
		if e.Conversation.ID == "" {
			return fmt.Errorf("%s event has empty conversation id", e.Type)
		}
	case TypeMessageSent:
		if e.Message == nil {
			return fmt.Errorf("%s event has no message payload", e.Type)
		}
		if e.Message.Conversation.ID == "" {
			return fmt.Errorf("%s event has empty conversation id", e.Type)
		}
	}

	return nil
}

// CommentEvent is the decoded ticketing-platform notification payload,
// produced by the trigger's JSON template when an agent posts a public
// comment on a synchronized ticket.
type CommentEvent struct {
	TicketID   string `json:"id"`          // Ticket identifier on the ticketing platform
	ExternalID string `json:"external_id"` // Conversation ID the ticket was created from
	Sender     string `json:"sender"`      // Display name of the commenting agent
	Comment    string `json:"comment"`     // Latest public comment body
}

// Validate checks that the comment event can be routed to a conversation.
func (c *CommentEvent) Validate() error {
	if c.ExternalID == "" {
		return fmt.Errorf("comment event has empty external_id")
	}
	if c.Comment == "" {
		return fmt.Errorf("comment event has empty comment")
	}
	return nil
}
