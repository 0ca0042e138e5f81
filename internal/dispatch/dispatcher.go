// Package dispatch ties the synchronization engine together. The Dispatcher
// receives decoded webhook payloads from both platforms, enqueues them as
// jobs, and on job execution drives the conversation/message/ticket
// lifecycle decisions.
//
// Per conversation the lifecycle is: NonExistent -> Pending -> Ticketed.
// A conversation becomes Pending on conversation.created (if the inclusion
// predicate accepts it) and Ticketed when its first plain-text message
// produces a ticket, at which point the pending entry is removed and never
// recreated.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deskhook/deskhook/internal/messaging"
	"github.com/deskhook/deskhook/internal/pending"
	"github.com/deskhook/deskhook/internal/queue"
	"github.com/deskhook/deskhook/internal/tickets"
	"github.com/deskhook/deskhook/pkg/events"
)

const (
	// MessagingQueue carries decoded messaging-platform webhook events.
	MessagingQueue = "messaging-events"

	// CommentQueue carries ticketing-platform comment notifications.
	CommentQueue = "ticket-comments"
)

// IncludeFunc decides whether a conversation should be synchronized to a
// ticket. It is evaluated once, on conversation.created; later changes to
// the conversation do not cause re-evaluation.
type IncludeFunc func(conv *events.Conversation) bool

// Options are the programmatic dispatcher settings.
type Options struct {
	// IncludeConversation filters conversations at creation time.
	// Nil means every conversation is included.
	IncludeConversation IncludeFunc

	// JobOptions is the retry policy for enqueued webhook jobs.
	// Nil means queue.DefaultOptions().
	JobOptions *queue.Options
}

// Dispatcher validates inbound events, enqueues them, and implements the job
// handlers that run the state machine.
type Dispatcher struct {
	name      string
	runner    *queue.Runner
	store     *pending.Store
	sync      *tickets.Synchronizer
	messaging messaging.Client
	include   IncludeFunc
	jobOpts   queue.Options
}

// NewDispatcher creates a dispatcher and registers its job handlers with the
// runner. The caller still owns running the queue (runner.Run).
func NewDispatcher(name string, runner *queue.Runner, store *pending.Store, sync *tickets.Synchronizer, msgClient messaging.Client, opts Options) (*Dispatcher, error) {
	if name == "" {
		return nil, fmt.Errorf("integration name cannot be empty")
	}

	include := opts.IncludeConversation
	if include == nil {
		include = func(*events.Conversation) bool { return true }
	}

	jobOpts := queue.DefaultOptions()
	if opts.JobOptions != nil {
		jobOpts = *opts.JobOptions
	}
	if err := jobOpts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job options: %w", err)
	}

	d := &Dispatcher{
		name:      name,
		runner:    runner,
		store:     store,
		sync:      sync,
		messaging: msgClient,
		include:   include,
		jobOpts:   jobOpts,
	}

	runner.Process(MessagingQueue, d.handleMessagingJob)
	runner.Process(CommentQueue, d.handleCommentJob)

	return d, nil
}

// OnMessagingEvent enqueues a decoded messaging-platform event. It returns
// as soon as the job is persisted; all processing happens on the queue.
func (d *Dispatcher) OnMessagingEvent(ctx context.Context, event *events.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid messaging event: %w", err)
	}

	if _, err := d.runner.Enqueue(ctx, MessagingQueue, event, d.jobOpts); err != nil {
		return fmt.Errorf("failed to enqueue messaging event: %w", err)
	}
	return nil
}

// OnTicketingEvent enqueues a decoded ticketing-platform comment event.
func (d *Dispatcher) OnTicketingEvent(ctx context.Context, event *events.CommentEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid ticketing event: %w", err)
	}

	if _, err := d.runner.Enqueue(ctx, CommentQueue, event, d.jobOpts); err != nil {
		return fmt.Errorf("failed to enqueue comment event: %w", err)
	}
	return nil
}

// handleMessagingJob processes one messaging-platform event off the queue.
// Errors are returned to the queue so its retry policy applies uniformly to
// remote-API and local-state failures alike.
func (d *Dispatcher) handleMessagingJob(ctx context.Context, job *queue.Job) error {
	var event events.Event
	if err := job.Unmarshal(&event); err != nil {
		return err
	}

	switch event.Type {
	case events.TypeConversationCreated:
		return d.handleConversationCreated(ctx, event.Conversation)
	case events.TypeMessageSent:
		return d.handleMessageSent(ctx, event.Message)
	default:
		// Unknown types were rejected at enqueue time; tolerate them here.
		log.Printf("[Dispatcher] Ignoring job with unknown event type %q", event.Type)
		return nil
	}
}

// handleConversationCreated writes an accepted conversation to the pending
// store, marking it as awaiting its first message.
func (d *Dispatcher) handleConversationCreated(ctx context.Context, conv *events.Conversation) error {
	if !d.include(conv) {
		d.logEvent("conversation_excluded", map[string]interface{}{
			"conversation_id": conv.ID,
		})
		return nil
	}

	if err := d.store.Put(ctx, conv); err != nil {
		return err
	}

	d.logEvent("conversation_pending", map[string]interface{}{
		"conversation_id": conv.ID,
	})
	return nil
}

// handleMessageSent runs the hit/miss decision for a message:
//
//   - pending entry exists: this is the conversation's first message, so
//     create a ticket and remove the entry.
//   - no pending entry: either a ticket already exists (append a comment) or
//     the conversation was excluded or already closed out (no-op).
func (d *Dispatcher) handleMessageSent(ctx context.Context, msg *events.Message) error {
	conversationID := msg.Conversation.ID

	conv, err := d.store.Get(ctx, conversationID)
	if err != nil && !pending.IsNotFound(err) {
		return err
	}

	if conv != nil {
		return d.ticketFromFirstMessage(ctx, msg, conv)
	}

	ticket, err := d.sync.FetchTicketForConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if ticket == nil {
		d.logEvent("message_ignored", map[string]interface{}{
			"conversation_id": conversationID,
			"reason":          "no pending entry and no ticket",
		})
		return nil
	}

	if msg.PlainText() == "" {
		d.logEvent("message_skipped", map[string]interface{}{
			"conversation_id": conversationID,
			"reason":          "no plain-text parts",
		})
		return nil
	}

	return d.sync.CreateComment(ctx, ticket, msg)
}

// ticketFromFirstMessage turns a pending conversation's first message into a
// ticket. A message with no plain-text parts cannot seed a ticket and is
// skipped, leaving the entry in place for the next message.
//
// Before creating, an existence check by external ID guards against the
// retried-job case where a previous create succeeded but its response was
// lost; the worst remaining window is a concurrent remote race.
func (d *Dispatcher) ticketFromFirstMessage(ctx context.Context, msg *events.Message, conv *events.Conversation) error {
	if msg.PlainText() == "" {
		d.logEvent("message_skipped", map[string]interface{}{
			"conversation_id": conv.ID,
			"reason":          "no plain-text parts",
		})
		return nil
	}

	existing, err := d.sync.FetchTicketForConversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		d.logEvent("ticket_already_exists", map[string]interface{}{
			"conversation_id": conv.ID,
			"ticket_id":       existing.ID,
		})
		return d.store.Delete(ctx, conv.ID)
	}

	ticket, err := d.sync.CreateTicket(ctx, msg, conv)
	if err != nil {
		// Entry stays in place; the retried job (or the conversation's next
		// message) will attempt ticket creation again.
		return err
	}

	if err := d.store.Delete(ctx, conv.ID); err != nil {
		// The retry will find the ticket via the existence check and only
		// delete the entry.
		return err
	}

	d.logEvent("ticket_created", map[string]interface{}{
		"conversation_id": conv.ID,
		"ticket_id":       ticket.ID,
	})
	return nil
}

// handleCommentJob delivers a ticketing-platform agent comment into its
// conversation as a named-sender text message. Retries may deliver the same
// comment twice; that is the accepted worst case, preferred over losing it.
func (d *Dispatcher) handleCommentJob(ctx context.Context, job *queue.Job) error {
	var event events.CommentEvent
	if err := job.Unmarshal(&event); err != nil {
		return err
	}

	if err := d.messaging.SendTextFromName(ctx, event.ExternalID, event.Sender, event.Comment); err != nil {
		return fmt.Errorf("failed to deliver comment to conversation %s: %w", event.ExternalID, err)
	}

	d.logEvent("comment_delivered", map[string]interface{}{
		"conversation_id": event.ExternalID,
		"ticket_id":       event.TicketID,
		"sender":          event.Sender,
	})
	return nil
}

// logEvent logs a structured event in JSON format.
func (d *Dispatcher) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "dispatcher"
	data["event_type"] = eventType
	data["instance"] = d.name

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Dispatcher] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
