package assistant

import (
	"fmt"
	"strings"

	"guest-concierge/internal/completion"
	"guest-concierge/internal/knowledge"
	"guest-concierge/internal/models"
)

const summarizePrompt = `You read messages that guests of a short-term rental send to their host.
Split the latest guest message into the separate things the guest wants or reports.
Reply with JSON only, in this shape:
{"action_items": [{"title": "short label", "source_text": "exact words from the message"}]}
Keep the order in which the guest raised them. Greetings and thanks are not action items.`

const enrichPrompt = `You assist the host of a short-term rental. You receive one guest request and
what is known about the property and the booking.
Decide, independently:
- whether the request can be answered from the knowledge below (never invent facts);
- whether staff must do something (a task);
- whether the host must look at it personally (an escalation): legal threats, safety risks,
  guests threatening to leave or ask for refunds, public complaints or bad reviews, anything with a
  high impact on the stay.
Reply with JSON only, in this shape:
{"answerable_from_knowledge": bool, "answer": "reply to the guest or empty",
 "requires_task": bool,
 "task": {"title": "", "category": "maintenance|cleaning|supplies|guest_request|other",
          "description": "", "staff_role": "maintenance|cleaning|concierge", "priority": "low|medium|high|urgent"},
 "requires_escalation": bool,
 "risk_indicator": "legal_threat|safety_risk|churn_risk|public_complaint|high_impact|none",
 "priority": "low|medium|high|critical",
 "confidence": number between 0 and 1}`

func summarizeUserPrompt(body string, recent []models.Message) string {
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Earlier messages:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.SenderKind, m.Body)
		}
		b.WriteString("\n")
	}
	b.WriteString("Latest guest message:\n")
	b.WriteString(body)
	return b.String()
}

func enrichSystemPrompt(snippets []knowledge.Snippet, booking *models.Booking) string {
	var b strings.Builder
	b.WriteString(enrichPrompt)
	b.WriteString("\n\nKnowledge:\n")
	b.WriteString(knowledge.Format(snippets))
	if booking != nil {
		fmt.Fprintf(&b, "\nBooking: guest %s, %d guests, check-in %s, check-out %s (%d nights), status %s\n",
			booking.GuestName, booking.NumGuests,
			booking.CheckIn.Format("2006-01-02"), booking.CheckOut.Format("2006-01-02"),
			booking.Nights(), booking.Status)
	}
	return b.String()
}

func enrichUserPrompt(item completion.ActionItem) string {
	return fmt.Sprintf("Request: %s\nGuest wrote: %s", item.Title, item.SourceText)
}
