package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"guest-concierge/internal/audit"
	"guest-concierge/internal/keylock"
	"guest-concierge/internal/models"
	"guest-concierge/internal/transport"
)

// ErrReplySuppressed is returned when an AI draft is not sent because the
// host has taken over the conversation.
var ErrReplySuppressed = errors.New("auto-response disabled, reply suppressed")

// ReplyOptions describes who authored a reply and what it is linked to.
type ReplyOptions struct {
	Sender        models.SenderKind
	TaskIDs       []string
	TaskAction    string
	EscalationIDs []string
}

// Dispatcher sends guest-facing messages and records them in the log.
type Dispatcher struct {
	store  *Store
	gw     transport.Gateway
	audit  *audit.Recorder
	locker keylock.Locker
	log    *slog.Logger
}

func NewDispatcher(store *Store, gw transport.Gateway, rec *audit.Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, gw: gw, audit: rec, locker: keylock.NewLocal(), log: logger}
}

// SetLocker replaces the in-process reply lock, so that several processes
// serialize guest replies on the same conversation.
func (d *Dispatcher) SetLocker(l keylock.Locker) {
	d.locker = l
}

// SendGuestReply sends text to the conversation's guest.
//
// AI drafts are dropped with an audit note while auto-response is off. Host
// sends always go out and switch auto-response off. Replies to one
// conversation are serialized from the auto-response check to the append.
func (d *Dispatcher) SendGuestReply(ctx context.Context, conversationID, text string, opts ReplyOptions) (*models.Message, error) {
	if opts.Sender == "" {
		opts.Sender = models.SenderAIAssistant
	}
	unlock, err := d.locker.Lock(ctx, "reply:"+conversationID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation %s: %w", conversationID, err)
	}
	defer unlock()

	conv, err := d.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch opts.Sender {
	case models.SenderAIAssistant:
		if !conv.AutoResponse {
			d.audit.Record(ctx, audit.Entry{
				Kind:           models.AuditReplySuppressed,
				ConversationID: conv.ID,
				Subject:        "ai_reply",
				Success:        true,
				Detail:         text,
			})
			d.log.Info("ai reply suppressed", "conversation_id", conv.ID)
			return nil, ErrReplySuppressed
		}
	case models.SenderHost:
		if conv.AutoResponse {
			if conv, err = d.store.SetAutoResponse(ctx, conv.ID, false); err != nil {
				return nil, err
			}
		}
	}

	deliveryID, err := d.gw.Send(ctx, transport.OutboundMessage{To: conv.Phone, Body: text})
	if err != nil {
		return nil, d.sendFailed(ctx, conv, string(opts.Sender), err)
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		SenderKind:     opts.Sender,
		Body:           text,
		DeliveryID:     deliveryID,
		TaskIDs:        opts.TaskIDs,
		TaskAction:     opts.TaskAction,
		EscalationIDs:  opts.EscalationIDs,
	}
	if len(opts.EscalationIDs) > 0 {
		first := opts.EscalationIDs[0]
		msg.EscalationID = &first
	}
	if err := d.store.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendTemplate sends a channel-approved template. rendered is the text copy
// kept in the log. Template sends are not gated by auto-response.
func (d *Dispatcher) SendTemplate(ctx context.Context, conversationID string, ref transport.TemplateRef, rendered string) (*models.Message, error) {
	conv, err := d.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	deliveryID, err := d.gw.Send(ctx, transport.OutboundMessage{To: conv.Phone, Template: &ref})
	if err != nil {
		return nil, d.sendFailed(ctx, conv, "template:"+ref.Name, err)
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		SenderKind:     models.SenderSystem,
		Body:           rendered,
		DeliveryID:     deliveryID,
	}
	if err := d.store.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (d *Dispatcher) sendFailed(ctx context.Context, conv *models.Conversation, subject string, err error) error {
	d.audit.Record(ctx, audit.Entry{
		Kind:           models.AuditSendFailed,
		ConversationID: conv.ID,
		Subject:        subject,
		Detail:         fmt.Sprintf("retryable=%t: %v", transport.IsRetryable(err), err),
	})
	return fmt.Errorf("send to conversation %s: %w", conv.ID, err)
}
