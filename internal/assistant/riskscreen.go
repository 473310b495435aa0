package assistant

import (
	"regexp"

	"guest-concierge/internal/escalation"
	"guest-concierge/internal/models"
)

// RiskSignal is the outcome of the keyword screen.
type RiskSignal struct {
	Escalate bool
	Risk     string
	Priority string
	Matched  string
}

type riskRule struct {
	risk     string
	priority string
	pattern  *regexp.Regexp
}

// Rules are checked in order; the first match of the highest priority wins.
var riskRules = []riskRule{
	{models.RiskLegalThreat, models.EscalationCritical,
		regexp.MustCompile(`(?i)\b(lawyers?|attorneys?|sue|suing|lawsuit|legal action|small claims|court)\b`)},
	{models.RiskSafety, models.EscalationCritical,
		regexp.MustCompile(`(?i)\b(fire|smoke|gas leak|smell(s|ing)? (of )?gas|carbon monoxide|injur(y|ed|ies)|bleeding|electric shock|unsafe|emergency|break-?in|intruder)\b`)},
	{models.RiskPublicComplaint, models.EscalationHigh,
		regexp.MustCompile(`(?i)\b(bad|negative|terrible|honest|1[- ]star|one[- ]star) reviews?\b|\b(yelp|tripadvisor|social media)\b|\breport (you|this) to\b`)},
	{models.RiskChurn, models.EscalationMedium,
		regexp.MustCompile(`(?i)\b(refunds?|money back|leav(e|ing) early|check(ing)? out early|furious|angry|unacceptable|disgusting|never (stay|come|book)(ing)? (here )?again|cancel(ling|ing)?)\b`)},
}

// ScreenRisk runs the deterministic keyword screen over text. It gives the
// same answer for the same input regardless of model output.
func ScreenRisk(text string) RiskSignal {
	var sig RiskSignal
	for _, rule := range riskRules {
		m := rule.pattern.FindString(text)
		if m == "" {
			continue
		}
		if !sig.Escalate || escalation.MaxPriority(sig.Priority, rule.priority) != sig.Priority {
			sig = RiskSignal{Escalate: true, Risk: rule.risk, Priority: rule.priority, Matched: m}
		}
	}
	if !sig.Escalate {
		sig.Risk = models.RiskNone
	}
	return sig
}
