package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"guest-concierge/internal/audit"
	"guest-concierge/internal/completion"
	"guest-concierge/internal/conversation"
	"guest-concierge/internal/escalation"
	"guest-concierge/internal/keylock"
	"guest-concierge/internal/keyqueue"
	"guest-concierge/internal/knowledge"
	"guest-concierge/internal/models"
	"guest-concierge/internal/tasks"
)

const (
	// SafeDefaultReply goes out when nothing could be drafted.
	SafeDefaultReply = "Thanks for your message! We'll get back to you shortly."
	// HoldingReply is used for items the host has to look at.
	HoldingReply = "Thanks for letting us know. I've passed this on to your host, who will get back to you as soon as possible."

	contextMessages = 10
)

// Inbound is a guest message as received from the channel.
type Inbound struct {
	Phone      string
	Name       string
	Body       string
	ExternalID string
	ReceivedAt time.Time
}

// Deps wires a Pipeline.
type Deps struct {
	Store       *conversation.Store
	Dispatcher  *conversation.Dispatcher
	Knowledge   knowledge.Provider
	Summarizer  *Summarizer
	Enricher    *Enricher
	Tasks       *tasks.Orchestrator
	Escalations *escalation.Manager
	Queue       *keyqueue.Queue
	Locker      keylock.Locker
	Audit       *audit.Recorder
	Logger      *slog.Logger
}

// Pipeline processes inbound messages in the background, one at a time per
// conversation and in arrival order.
type Pipeline struct {
	Deps
	log *slog.Logger
}

func NewPipeline(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Deps: d, log: logger}
}

// Ingest stores an inbound message as queued and schedules it for
// processing. It returns nil without error for channel retries of a message
// already stored.
func (p *Pipeline) Ingest(ctx context.Context, in Inbound) (*models.Message, error) {
	dup, err := p.Store.HasExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, err
	}
	if dup {
		p.log.Debug("duplicate inbound message dropped", "external_id", in.ExternalID)
		return nil, nil
	}

	conv, err := p.Store.ResolveInbound(ctx, in.Phone, in.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	msg := &models.Message{
		ConversationID:   conv.ID,
		Direction:        models.DirectionInbound,
		SenderKind:       models.SenderGuest,
		Body:             in.Body,
		ExternalID:       in.ExternalID,
		ProcessingStatus: models.ProcessingQueued,
		CreatedAt:        in.ReceivedAt,
	}
	if err := p.Store.Append(ctx, msg); err != nil {
		return nil, err
	}
	p.log.Info("inbound message queued", "conversation_id", conv.ID, "message_id", msg.ID)

	if err := p.Enqueue(msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Enqueue schedules msg on its conversation's lane.
func (p *Pipeline) Enqueue(msg *models.Message) error {
	id := msg.ID
	return p.Queue.Submit(msg.ConversationID, func(ctx context.Context) {
		if err := p.Process(ctx, id); err != nil {
			p.log.Error("process inbound message", "message_id", id, "error", err)
		}
	})
}

// Recover re-enqueues inbound messages left queued by a previous run.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	msgs, err := p.Store.QueuedInbound(ctx)
	if err != nil {
		return 0, err
	}
	for i := range msgs {
		if err := p.Enqueue(&msgs[i]); err != nil {
			return i, err
		}
	}
	if len(msgs) > 0 {
		p.log.Info("re-enqueued queued inbound messages", "count", len(msgs))
	}
	return len(msgs), nil
}

// Process handles one queued inbound message under the conversation lock.
// A message that is no longer queued is skipped.
func (p *Pipeline) Process(ctx context.Context, messageID string) error {
	msg, err := p.Store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	unlock, err := p.Locker.Lock(ctx, "conversation:"+msg.ConversationID)
	if err != nil {
		return fmt.Errorf("lock conversation %s: %w", msg.ConversationID, err)
	}
	defer unlock()

	// Reload under the lock; another process may have handled it.
	msg, err = p.Store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ProcessingStatus != models.ProcessingQueued {
		return nil
	}

	if err := p.handle(ctx, msg); err != nil {
		p.Audit.Record(ctx, audit.Entry{
			Kind:           models.AuditProcessingFailed,
			ConversationID: msg.ConversationID,
			Subject:        "message:" + msg.ID,
			Detail:         err.Error(),
		})
		if serr := p.Store.SetProcessingStatus(ctx, msg.ID, models.ProcessingFailed); serr != nil {
			p.log.Error("mark message failed", "message_id", msg.ID, "error", serr)
		}
		return err
	}
	return p.Store.SetProcessingStatus(ctx, msg.ID, models.ProcessingProcessed)
}

// outcome is what one action item produced.
type outcome struct {
	enrichment   Enrichment
	taskID       string
	taskAction   string
	escalationID string
}

func (p *Pipeline) handle(ctx context.Context, msg *models.Message) error {
	conv, err := p.Store.Get(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	booking, err := p.Store.Booking(ctx, conv)
	if err != nil {
		return err
	}

	snippets, err := p.Knowledge.Lookup(ctx, conv.PropertyID, msg.Body)
	if err != nil {
		p.log.Warn("knowledge lookup failed", "property_id", conv.PropertyID, "error", err)
		snippets = nil
	}

	recent, err := p.Store.Recent(ctx, conv.ID, contextMessages+1)
	if err != nil {
		return err
	}
	history := make([]models.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != msg.ID {
			history = append(history, m)
		}
	}

	items := p.Summarizer.Summarize(ctx, conv.ID, msg.Body, history)
	outcomes := make([]outcome, 0, len(items))
	for _, item := range items {
		o := outcome{enrichment: p.Enricher.Enrich(ctx, conv.ID, item, snippets, booking)}
		p.applySideEffects(ctx, conv, booking, msg, &o)
		outcomes = append(outcomes, o)
	}

	reply, opts := composeReply(outcomes)
	// Send failures are already in the audit log; the message itself was
	// handled either way.
	if _, err := p.Dispatcher.SendGuestReply(ctx, conv.ID, reply, opts); err != nil && !errors.Is(err, conversation.ErrReplySuppressed) {
		p.log.Warn("reply not delivered", "conversation_id", conv.ID, "error", err)
	}
	return nil
}

// applySideEffects creates the task and escalation for one item. Failures
// are recorded and do not stop the reply.
func (p *Pipeline) applySideEffects(ctx context.Context, conv *models.Conversation, booking *models.Booking, msg *models.Message, o *outcome) {
	e := o.enrichment
	if e.RequiresTask {
		req := tasks.EnrichmentTask{
			PropertyID:     conv.PropertyID,
			ConversationID: conv.ID,
			Title:          e.Task.Title,
			Category:       e.Task.Category,
			Description:    e.Task.Description,
			Priority:       e.Task.Priority,
			StaffRole:      e.Task.StaffRole,
		}
		if booking != nil {
			req.BookingID = &booking.ID
		}
		task, action, err := p.Tasks.CreateFromEnrichment(ctx, req)
		if err != nil {
			p.sideEffectFailed(ctx, conv.ID, "task:"+e.Task.Title, err)
		} else {
			o.taskID, o.taskAction = task.ID, action
		}
	}

	if e.RequiresEscalation {
		convID, msgID := conv.ID, msg.ID
		spec := escalation.CreateSpec{
			PropertyID:     conv.PropertyID,
			ConversationID: &convID,
			TriggerType:    models.TriggerMessageRisk,
			RiskIndicator:  e.RiskIndicator,
			Priority:       e.Priority,
			Summary:        escalationSummary(conv, e),
			MessageID:      &msgID,
		}
		if o.taskID != "" {
			taskID := o.taskID
			spec.TaskID = &taskID
		}
		esc, err := p.Escalations.Create(ctx, spec)
		if err != nil {
			p.sideEffectFailed(ctx, conv.ID, "escalation:"+e.Item.Title, err)
		} else {
			o.escalationID = esc.ID
		}
	}
}

func (p *Pipeline) sideEffectFailed(ctx context.Context, conversationID, subject string, err error) {
	p.Audit.Record(ctx, audit.Entry{
		Kind:           models.AuditSideEffectFailed,
		ConversationID: conversationID,
		Subject:        subject,
		Detail:         err.Error(),
	})
}

func escalationSummary(conv *models.Conversation, e Enrichment) string {
	guest := conv.GuestName
	if guest == "" {
		guest = conv.Phone
	}
	text := strings.TrimSpace(e.Item.SourceText)
	if utf8.RuneCountInString(text) > 280 {
		text = string([]rune(text)[:277]) + "..."
	}
	summary := fmt.Sprintf("%s (%s): %q", e.Item.Title, guest, text)
	if e.LowConfidence {
		summary += " [low confidence]"
	}
	if e.Degraded {
		summary += " [assistant unavailable]"
	}
	return summary
}

// composeReply joins the per-item replies and collects the linkage for the
// outbound message.
func composeReply(outcomes []outcome) (string, conversation.ReplyOptions) {
	var parts []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			parts = append(parts, s)
		}
	}

	opts := conversation.ReplyOptions{Sender: models.SenderAIAssistant}
	degraded := false
	for _, o := range outcomes {
		e := o.enrichment
		switch {
		case e.Degraded:
			degraded = true
		case e.Answerable && e.Answer != "":
			add(e.Answer)
		case e.RequiresEscalation:
			add(HoldingReply)
		case e.RequiresTask && o.taskID != "":
			add(fmt.Sprintf("I've passed your request (%s) on to our team.", strings.ToLower(e.Task.Title)))
		}

		if o.taskID != "" {
			opts.TaskIDs = append(opts.TaskIDs, o.taskID)
			if opts.TaskAction != models.TaskActionCreated {
				opts.TaskAction = o.taskAction
			}
		}
		if o.escalationID != "" {
			opts.EscalationIDs = append(opts.EscalationIDs, o.escalationID)
		}
	}
	if degraded || len(parts) == 0 {
		add(SafeDefaultReply)
	}
	return strings.Join(parts, "\n\n"), opts
}

var _ Completer = (*completion.Service)(nil)
