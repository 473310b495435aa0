package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"guest-concierge/internal/audit"
	"guest-concierge/internal/completion"
	"guest-concierge/internal/escalation"
	"guest-concierge/internal/knowledge"
	"guest-concierge/internal/models"
)

// Enrichment is the decision for one action item.
type Enrichment struct {
	Item completion.ActionItem

	Answerable bool
	Answer     string

	RequiresTask bool
	Task         completion.TaskHint

	RequiresEscalation bool
	RiskIndicator      string
	Priority           string

	Confidence float64
	// LowConfidence marks items escalated because the model was unsure.
	LowConfidence bool
	// Degraded is set when the model could not be used; only the keyword
	// screen contributed.
	Degraded bool
}

type Enricher struct {
	completer     Completer
	minConfidence float64
	audit         *audit.Recorder
	log           *slog.Logger
}

func NewEnricher(c Completer, minConfidence float64, rec *audit.Recorder, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{completer: c, minConfidence: minConfidence, audit: rec, log: logger}
}

// Enrich decides how to handle item. It never fails: model errors produce a
// degraded enrichment carrying only the keyword screen.
func (e *Enricher) Enrich(ctx context.Context, conversationID string, item completion.ActionItem, snippets []knowledge.Snippet, booking *models.Booking) Enrichment {
	screen := ScreenRisk(item.Title + "\n" + item.SourceText)

	res, err := e.completer.ClassifyAndDraft(ctx, completion.Prompt{
		Kind:   completion.KindEnrichment,
		System: enrichSystemPrompt(snippets, booking),
		User:   enrichUserPrompt(item),
	})
	if err != nil {
		e.log.Warn("enrichment failed, degrading", "conversation_id", conversationID, "item", item.Title, "error", err)
		e.audit.Record(ctx, audit.Entry{
			Kind:           models.AuditCompletionFailed,
			ConversationID: conversationID,
			Subject:        "enrich:" + completion.ErrorKind(err),
			Detail:         fmt.Sprintf("%s: %v", item.Title, err),
		})
		return degraded(item, screen)
	}
	er, ok := res.(completion.EnrichmentResult)
	if !ok {
		e.log.Warn("enrichment returned unexpected result", "type", fmt.Sprintf("%T", res))
		return degraded(item, screen)
	}
	return merge(item, er, screen, e.minConfidence)
}

func degraded(item completion.ActionItem, screen RiskSignal) Enrichment {
	return Enrichment{
		Item:               item,
		RequiresEscalation: screen.Escalate,
		RiskIndicator:      screen.Risk,
		Priority:           screen.Priority,
		Degraded:           true,
	}
}

// merge combines the model decision with the keyword screen. Escalation is
// the OR of both and the priority the higher one. Answers below the
// confidence threshold are withheld and escalated.
func merge(item completion.ActionItem, er completion.EnrichmentResult, screen RiskSignal, minConfidence float64) Enrichment {
	out := Enrichment{
		Item:               item,
		Answerable:         er.Answerable,
		Answer:             er.Answer,
		RequiresTask:       er.RequiresTask,
		Task:               er.Task,
		RequiresEscalation: er.RequiresEscalation,
		RiskIndicator:      er.RiskIndicator,
		Priority:           er.Priority,
		Confidence:         er.Confidence,
	}
	if out.RequiresTask && out.Task.Title == "" {
		out.Task.Title = item.Title
	}
	if out.RequiresTask && out.Task.Description == "" {
		out.Task.Description = item.SourceText
	}

	if screen.Escalate {
		if !out.RequiresEscalation || out.RiskIndicator == models.RiskHighImpact || out.RiskIndicator == models.RiskNone {
			out.RiskIndicator = screen.Risk
		}
		if out.RequiresEscalation {
			out.Priority = escalation.MaxPriority(out.Priority, screen.Priority)
		} else {
			out.Priority = screen.Priority
		}
		out.RequiresEscalation = true
	}

	if out.Confidence < minConfidence {
		out.LowConfidence = true
		out.Answerable = false
		out.Answer = ""
		if !out.RequiresEscalation {
			out.RequiresEscalation = true
			out.RiskIndicator = models.RiskNone
		}
		out.Priority = escalation.MaxPriority(out.Priority, models.EscalationMedium)
	}
	if !out.RequiresEscalation {
		out.RiskIndicator = models.RiskNone
		out.Priority = ""
	}
	return out
}
