// Package assistant turns inbound guest messages into replies, tasks and
// escalations.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"guest-concierge/internal/audit"
	"guest-concierge/internal/completion"
	"guest-concierge/internal/models"
)

// GeneralInquiry is the title of the fallback action item.
const GeneralInquiry = "General inquiry"

// Completer is the part of completion.Service the assistant needs.
type Completer interface {
	ClassifyAndDraft(ctx context.Context, p completion.Prompt) (completion.Result, error)
}

type Summarizer struct {
	completer Completer
	audit     *audit.Recorder
	log       *slog.Logger
}

func NewSummarizer(c Completer, rec *audit.Recorder, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{completer: c, audit: rec, log: logger}
}

// Summarize splits body into action items. It always returns at least one
// item; when the model fails or returns nothing usable the whole message
// becomes a single general inquiry.
func (s *Summarizer) Summarize(ctx context.Context, conversationID, body string, recent []models.Message) []completion.ActionItem {
	fallback := []completion.ActionItem{{Title: GeneralInquiry, SourceText: body}}

	res, err := s.completer.ClassifyAndDraft(ctx, completion.Prompt{
		Kind:   completion.KindActionItems,
		System: summarizePrompt,
		User:   summarizeUserPrompt(body, recent),
	})
	if err != nil {
		s.log.Warn("summarize failed, using fallback item", "conversation_id", conversationID, "error", err)
		s.audit.Record(ctx, audit.Entry{
			Kind:           models.AuditCompletionFailed,
			ConversationID: conversationID,
			Subject:        "summarize:" + completion.ErrorKind(err),
			Detail:         err.Error(),
		})
		return fallback
	}

	items, ok := res.(completion.ActionItemsResult)
	if !ok {
		s.log.Warn("summarize returned unexpected result", "type", fmt.Sprintf("%T", res))
		return fallback
	}
	var out []completion.ActionItem
	for _, it := range items.Items {
		if strings.TrimSpace(it.SourceText) == "" {
			it.SourceText = body
		}
		out = append(out, it)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
