// Package completion calls the language model and decodes its output into
// strictly typed results right at the boundary.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guest-concierge/internal/models"
)

var (
	// ErrTimeout means the model did not answer within the configured budget.
	ErrTimeout = errors.New("completion timed out")
	// ErrUnavailable means the provider call itself failed.
	ErrUnavailable = errors.New("completion unavailable")
	// ErrMalformed means the model answered but the output could not be decoded.
	ErrMalformed = errors.New("completion output malformed")
)

// Kind selects the shape the model is asked to return.
type Kind string

const (
	KindActionItems Kind = "action_items"
	KindEnrichment  Kind = "enrichment"
	KindDraft       Kind = "draft"
)

// Prompt is one model request.
type Prompt struct {
	Kind   Kind
	System string
	User   string
}

// Result is one of ActionItemsResult, EnrichmentResult or DraftResult.
type Result interface {
	kind() Kind
}

type ActionItem struct {
	Title      string `json:"title"`
	SourceText string `json:"source_text"`
}

type ActionItemsResult struct {
	Items []ActionItem
}

type TaskHint struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
	StaffRole   string `json:"staff_role"`
	Priority    string `json:"priority"`
}

type EnrichmentResult struct {
	Answerable         bool
	Answer             string
	RequiresTask       bool
	Task               TaskHint
	RequiresEscalation bool
	RiskIndicator      string
	Priority           string
	Confidence         float64
}

type DraftResult struct {
	Text string
}

func (ActionItemsResult) kind() Kind { return KindActionItems }
func (EnrichmentResult) kind() Kind  { return KindEnrichment }
func (DraftResult) kind() Kind       { return KindDraft }

// Service runs prompts against a Model under a timeout.
type Service struct {
	model   Model
	timeout time.Duration
}

func NewService(model Model, timeout time.Duration) *Service {
	return &Service{model: model, timeout: timeout}
}

// ClassifyAndDraft runs p and decodes the answer into the Result for p.Kind.
// Errors wrap ErrTimeout, ErrUnavailable or ErrMalformed.
func (s *Service) ClassifyAndDraft(ctx context.Context, p Prompt) (Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.model.GenerateWithSystem(ctx, p.System, p.User)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Decode(p.Kind, raw)
}

// ErrorKind names the failure class of err for audit rows.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}

// Decode parses raw model output for kind.
func Decode(kind Kind, raw string) (Result, error) {
	switch kind {
	case KindActionItems:
		return decodeActionItems(raw)
	case KindEnrichment:
		return decodeEnrichment(raw)
	case KindDraft:
		text := strings.TrimSpace(raw)
		var wrapped struct {
			Text string `json:"text"`
		}
		if body := extractJSON(raw); body != "" && json.Unmarshal([]byte(body), &wrapped) == nil && wrapped.Text != "" {
			text = strings.TrimSpace(wrapped.Text)
		}
		if text == "" {
			return nil, fmt.Errorf("%w: empty draft", ErrMalformed)
		}
		return DraftResult{Text: text}, nil
	default:
		return nil, fmt.Errorf("unknown prompt kind %q", kind)
	}
}

func decodeActionItems(raw string) (Result, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrMalformed)
	}
	var payload struct {
		Items *[]ActionItem `json:"action_items"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Items == nil {
		return nil, fmt.Errorf("%w: missing action_items", ErrMalformed)
	}

	items := make([]ActionItem, 0, len(*payload.Items))
	for _, it := range *payload.Items {
		it.Title = strings.TrimSpace(it.Title)
		it.SourceText = strings.TrimSpace(it.SourceText)
		if it.Title == "" && it.SourceText == "" {
			continue
		}
		if it.Title == "" {
			it.Title = it.SourceText
		}
		items = append(items, it)
	}
	return ActionItemsResult{Items: items}, nil
}

type enrichmentPayload struct {
	Answerable         *bool    `json:"answerable_from_knowledge"`
	Answer             string   `json:"answer"`
	RequiresTask       bool     `json:"requires_task"`
	Task               TaskHint `json:"task"`
	RequiresEscalation *bool    `json:"requires_escalation"`
	RiskIndicator      string   `json:"risk_indicator"`
	Priority           string   `json:"priority"`
	Confidence         *float64 `json:"confidence"`
}

func decodeEnrichment(raw string) (Result, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrMalformed)
	}
	var p enrichmentPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Answerable == nil || p.RequiresEscalation == nil {
		return nil, fmt.Errorf("%w: missing decision fields", ErrMalformed)
	}

	res := EnrichmentResult{
		Answerable:         *p.Answerable,
		Answer:             strings.TrimSpace(p.Answer),
		RequiresTask:       p.RequiresTask,
		RequiresEscalation: *p.RequiresEscalation,
		RiskIndicator:      NormalizeRisk(p.RiskIndicator),
		Priority:           NormalizeEscalationPriority(p.Priority),
	}
	if p.Confidence != nil {
		res.Confidence = clamp01(*p.Confidence)
	}
	if res.Answerable && res.Answer == "" {
		res.Answerable = false
	}
	if res.RequiresTask {
		res.Task = TaskHint{
			Title:       strings.TrimSpace(p.Task.Title),
			Category:    NormalizeCategory(p.Task.Category),
			Description: strings.TrimSpace(p.Task.Description),
			StaffRole:   strings.ToLower(strings.TrimSpace(p.Task.StaffRole)),
			Priority:    NormalizeTaskPriority(p.Task.Priority),
		}
	}
	if res.RequiresEscalation && res.RiskIndicator == models.RiskNone {
		res.RiskIndicator = models.RiskHighImpact
	}
	if !res.RequiresEscalation {
		res.RiskIndicator = models.RiskNone
	}
	return res, nil
}

// extractJSON returns the outermost JSON object in s, tolerating code fences
// and surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// NormalizeRisk maps model spellings onto the risk indicator vocabulary.
// Unknown values become high_impact so they still reach the host.
func NormalizeRisk(s string) string {
	switch v := normalizeToken(s); v {
	case "", models.RiskNone, "null":
		return models.RiskNone
	case models.RiskLegalThreat, "legal":
		return models.RiskLegalThreat
	case models.RiskSafety, "safety":
		return models.RiskSafety
	case models.RiskChurn, "churn":
		return models.RiskChurn
	case models.RiskPublicComplaint, "bad_review", "review":
		return models.RiskPublicComplaint
	default:
		return models.RiskHighImpact
	}
}

// NormalizeEscalationPriority defaults unknown values to medium.
func NormalizeEscalationPriority(s string) string {
	switch v := normalizeToken(s); v {
	case models.EscalationLow, models.EscalationMedium, models.EscalationHigh, models.EscalationCritical:
		return v
	case "urgent":
		return models.EscalationCritical
	default:
		return models.EscalationMedium
	}
}

// NormalizeTaskPriority defaults unknown values to medium.
func NormalizeTaskPriority(s string) string {
	switch v := normalizeToken(s); v {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
		return v
	case "critical":
		return models.PriorityUrgent
	default:
		return models.PriorityMedium
	}
}

// NormalizeCategory defaults unknown values to other.
func NormalizeCategory(s string) string {
	switch v := normalizeToken(s); v {
	case models.CategoryMaintenance, models.CategoryCleaning, models.CategorySupplies, models.CategoryGuestRequest:
		return v
	case "repair":
		return models.CategoryMaintenance
	case "housekeeping":
		return models.CategoryCleaning
	default:
		return models.CategoryOther
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
