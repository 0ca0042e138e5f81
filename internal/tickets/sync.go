// Package tickets implements the ticket synchronizer: turning messages into
// tickets and comments, and locating the ticket that belongs to a
// conversation. The conversation ID is always written as the ticket's
// external ID, which is the invariant that keeps ticket creation checkable.
package tickets

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"github.com/deskhook/deskhook/internal/identity"
	"github.com/deskhook/deskhook/internal/ticketing"
	"github.com/deskhook/deskhook/pkg/events"
)

// MarkerTag is applied to every ticket this system creates. The webhook
// trigger fires only for tickets carrying this tag, so comments on unrelated
// tickets never flow back into conversations.
const MarkerTag = "deskhook-conversation"

// maxSubjectLen is the longest subject written to a ticket.
const maxSubjectLen = 60

// sentenceBoundary matches from the first sentence-ending punctuation that is
// followed by whitespace through the end of the text.
var sentenceBoundary = regexp.MustCompile(`(?s)([.;?])\s.*`)

// Synchronizer creates tickets and comments from messages.
type Synchronizer struct {
	client    *ticketing.Client
	registrar *identity.Registrar
}

// NewSynchronizer creates a ticket synchronizer.
func NewSynchronizer(client *ticketing.Client, registrar *identity.Registrar) *Synchronizer {
	return &Synchronizer{client: client, registrar: registrar}
}

// Subject derives a ticket subject from message text. Text within the length
// limit passes through unchanged. Longer text is first cut at the first
// sentence boundary; if the first sentence is itself too long, it is
// hard-truncated with an ellipsis.
func Subject(text string) string {
	if len(text) <= maxSubjectLen {
		return text
	}

	text = sentenceBoundary.ReplaceAllString(text, "$1")
	if len(text) > maxSubjectLen {
		text = text[:maxSubjectLen-3] + "..."
	}
	return text
}

// CreateTicket creates a ticket from a conversation's first message. The
// sender is resolved (and registered if needed) as the requester, the subject
// comes from the first plain-text part, and the ticket body is all plain-text
// parts joined with newlines.
func (s *Synchronizer) CreateTicket(ctx context.Context, msg *events.Message, conv *events.Conversation) (*ticketing.Ticket, error) {
	text := msg.FirstPlainText()
	if text == "" {
		return nil, fmt.Errorf("message in conversation %s has no plain-text parts", conv.ID)
	}

	user, err := s.registrar.RegisterUser(ctx, msg.Sender.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requester: %w", err)
	}

	subject := Subject(text)
	log.Printf("[Tickets] Creating ticket %q for conversation %s from %s", subject, conv.ID, user.Name)

	ticket, err := s.client.CreateTicket(ctx, &ticketing.Ticket{
		RequesterID: user.ID,
		ExternalID:  conv.ID,
		Subject:     subject,
		Comment: &ticketing.Comment{
			Public: true,
			Body:   msg.PlainText(),
		},
		Tags: []string{MarkerTag},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket for conversation %s: %w", conv.ID, err)
	}

	return ticket, nil
}

// CreateComment appends a message as a public comment on an existing ticket,
// authored by the resolved sender.
func (s *Synchronizer) CreateComment(ctx context.Context, ticket *ticketing.Ticket, msg *events.Message) error {
	user, err := s.registrar.RegisterUser(ctx, msg.Sender.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve comment author: %w", err)
	}

	err = s.client.AddComment(ctx, ticket.ID, &ticketing.Comment{
		Public:   true,
		Body:     msg.PlainText(),
		AuthorID: user.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to add comment to ticket %d: %w", ticket.ID, err)
	}

	log.Printf("[Tickets] Created comment on ticket %d", ticket.ID)
	return nil
}

// FetchTicketForConversation returns the ticket whose external ID equals the
// conversation ID, or (nil, nil) if none exists.
func (s *Synchronizer) FetchTicketForConversation(ctx context.Context, conversationID string) (*ticketing.Ticket, error) {
	matches, err := s.client.ListTicketsByExternalID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticket for conversation %s: %w", conversationID, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}
