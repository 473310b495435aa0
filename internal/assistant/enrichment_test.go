package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"guest-concierge/internal/audit"
	"guest-concierge/internal/completion"
	"guest-concierge/internal/database/dbtest"
	"guest-concierge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenRisk(t *testing.T) {
	tests := []struct {
		text     string
		escalate bool
		risk     string
		priority string
	}{
		{"the wifi is down and I'm furious, I'll leave a bad review", true, models.RiskPublicComplaint, models.EscalationHigh},
		{"I want a refund", true, models.RiskChurn, models.EscalationMedium},
		{"My lawyer will hear about this", true, models.RiskLegalThreat, models.EscalationCritical},
		{"There is smoke coming from the oven, and I want a refund", true, models.RiskSafety, models.EscalationCritical},
		{"What's the wifi password?", false, models.RiskNone, ""},
		{"Where can I leave the keys?", false, models.RiskNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig := ScreenRisk(tt.text)
			assert.Equal(t, tt.escalate, sig.Escalate)
			assert.Equal(t, tt.risk, sig.Risk)
			assert.Equal(t, tt.priority, sig.Priority)
		})
	}
}

func TestScreenRiskIsDeterministic(t *testing.T) {
	text := "this is unacceptable, I'll post a negative review on tripadvisor"
	first := ScreenRisk(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScreenRisk(text))
	}
}

func TestMergeLowConfidenceEscalates(t *testing.T) {
	item := completion.ActionItem{Title: "Parking", SourceText: "can I park on the street?"}
	out := merge(item, completion.EnrichmentResult{
		Answerable:    true,
		Answer:        "Yes, parking is free.",
		RiskIndicator: models.RiskNone,
		Priority:      models.EscalationLow,
		Confidence:    0.3,
	}, ScreenRisk(item.SourceText), 0.6)

	assert.True(t, out.LowConfidence)
	assert.False(t, out.Answerable)
	assert.Empty(t, out.Answer)
	assert.True(t, out.RequiresEscalation)
	assert.Equal(t, models.RiskNone, out.RiskIndicator)
	assert.Equal(t, models.EscalationMedium, out.Priority)
}

func TestMergeKeepsHigherPriority(t *testing.T) {
	item := completion.ActionItem{Title: "Refund", SourceText: "I want a refund"}
	out := merge(item, completion.EnrichmentResult{
		RequiresEscalation: true,
		RiskIndicator:      models.RiskChurn,
		Priority:           models.EscalationCritical,
		Confidence:         0.9,
	}, ScreenRisk(item.SourceText), 0.6)
	assert.Equal(t, models.EscalationCritical, out.Priority)
	assert.Equal(t, models.RiskChurn, out.RiskIndicator)
}

func TestMergeEscalationDoesNotSuppressTask(t *testing.T) {
	item := completion.ActionItem{Title: "Leak", SourceText: "water everywhere, I want a refund"}
	out := merge(item, completion.EnrichmentResult{
		RequiresTask:  true,
		Task:          completion.TaskHint{Category: models.CategoryMaintenance},
		RiskIndicator: models.RiskNone,
		Confidence:    0.8,
	}, ScreenRisk(item.SourceText), 0.6)
	assert.True(t, out.RequiresTask)
	assert.True(t, out.RequiresEscalation)
	assert.Equal(t, "Leak", out.Task.Title)
	assert.Equal(t, item.SourceText, out.Task.Description)
}

func TestSummarizerFallsBack(t *testing.T) {
	db := dbtest.New(t)
	rec := audit.NewRecorder(db, nil, nil)

	s := NewSummarizer(&fakeCompleter{err: errors.New("boom")}, rec, nil)
	items := s.Summarize(context.Background(), "conv-1", "hi, two things", nil)
	require.Len(t, items, 1)
	assert.Equal(t, GeneralInquiry, items[0].Title)
	assert.Equal(t, "hi, two things", items[0].SourceText)

	var logs []models.AuditLog
	require.NoError(t, db.Where("kind = ?", models.AuditCompletionFailed).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "conv-1", logs[0].ConversationID)

	s = NewSummarizer(&fakeCompleter{}, rec, nil)
	items = s.Summarize(context.Background(), "conv-1", "ok", nil)
	require.Len(t, items, 1)
	assert.Equal(t, GeneralInquiry, items[0].Title)
}

func TestSummarizerKeepsOrder(t *testing.T) {
	db := dbtest.New(t)
	s := NewSummarizer(&fakeCompleter{items: []completion.ActionItem{
		{Title: "Towels", SourceText: "more towels please"},
		{Title: "Late checkout", SourceText: "can we check out at 1pm"},
	}}, audit.NewRecorder(db, nil, nil), nil)
	items := s.Summarize(context.Background(), "c", "more towels please, and can we check out at 1pm", nil)
	require.Len(t, items, 2)
	assert.Equal(t, "Towels", items[0].Title)
	assert.Equal(t, "Late checkout", items[1].Title)
}

func TestComposeReplyJoinsItems(t *testing.T) {
	reply, opts := composeReply([]outcome{
		{enrichment: Enrichment{Answerable: true, Answer: "Checkout is at 11:00."}},
		{enrichment: Enrichment{RequiresEscalation: true}, escalationID: "esc-1"},
		{enrichment: Enrichment{RequiresEscalation: true}, escalationID: "esc-2", taskID: "t-1", taskAction: models.TaskActionUpdated},
	})
	assert.Equal(t, "Checkout is at 11:00.\n\n"+HoldingReply, reply)
	assert.Equal(t, []string{"esc-1", "esc-2"}, opts.EscalationIDs)
	assert.Equal(t, []string{"t-1"}, opts.TaskIDs)
	assert.Equal(t, models.TaskActionUpdated, opts.TaskAction)
	assert.Equal(t, models.SenderAIAssistant, opts.Sender)
}

func TestEscalationSummaryTruncatesWholeRunes(t *testing.T) {
	conv := &models.Conversation{GuestName: "Zoë"}
	text := strings.Repeat("ü", 300)
	summary := escalationSummary(conv, Enrichment{Item: completion.ActionItem{Title: "Complaint", SourceText: text}})

	assert.True(t, utf8.ValidString(summary))
	assert.Contains(t, summary, strings.Repeat("ü", 277)+"...")
	assert.NotContains(t, summary, strings.Repeat("ü", 278))
}
