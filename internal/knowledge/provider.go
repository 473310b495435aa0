// Package knowledge serves per-property facts and FAQs to the assistant.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/models"

	"gorm.io/gorm"
)

// Snippet is one piece of knowledge the assistant may quote.
type Snippet struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Provider looks up knowledge for a property.
type Provider interface {
	Lookup(ctx context.Context, propertyID, query string) ([]Snippet, error)
}

const maxFAQs = 5

// DBProvider reads properties and FAQs through gorm.
type DBProvider struct {
	db *gorm.DB
}

func NewDBProvider(db *gorm.DB) *DBProvider {
	return &DBProvider{db: db}
}

// Lookup returns the property facts followed by the FAQs that best match query.
func (p *DBProvider) Lookup(ctx context.Context, propertyID, query string) ([]Snippet, error) {
	if propertyID == "" {
		return nil, nil
	}
	var prop models.Property
	if err := p.db.WithContext(ctx).First(&prop, "id = ?", propertyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("property %s: %w", propertyID, apperr.ErrNotFound)
		}
		return nil, err
	}

	snippets := PropertyFacts(&prop)

	var faqs []models.FAQ
	if err := p.db.WithContext(ctx).Where("property_id = ?", propertyID).Find(&faqs).Error; err != nil {
		return nil, err
	}
	return append(snippets, rankFAQs(faqs, query, maxFAQs)...), nil
}

// PropertyFacts renders the structured property fields as snippets.
func PropertyFacts(p *models.Property) []Snippet {
	var out []Snippet
	add := func(title, content string) {
		if strings.TrimSpace(content) != "" {
			out = append(out, Snippet{Source: "property", Title: title, Content: content})
		}
	}
	add("Property name", p.Name)
	add("Address", p.Address)
	add("Check-in time", p.CheckInTime)
	add("Checkout time", p.CheckOutTime)
	if p.WifiName != "" {
		add("Wifi", fmt.Sprintf("Network %s, password %s", p.WifiName, p.WifiPassword))
	}
	add("House rules", p.HouseRules)
	return out
}

func rankFAQs(faqs []models.FAQ, query string, limit int) []Snippet {
	terms := tokenize(query)
	type scored struct {
		faq   models.FAQ
		score int
	}
	var ranked []scored
	for _, f := range faqs {
		words := tokenize(f.Question + " " + f.Tags)
		score := 0
		for t := range terms {
			if _, ok := words[t]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{f, score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]Snippet, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, Snippet{Source: "faq", Title: r.faq.Question, Content: r.faq.Answer})
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "what": {}, "whats": {}, "s": {}, "i": {},
	"to": {}, "of": {}, "and": {}, "do": {}, "how": {}, "can": {}, "my": {}, "we": {}, "you": {},
	"it": {}, "in": {}, "for": {}, "there": {}, "at": {}, "on": {},
}

func tokenize(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop || len(w) < 2 {
			continue
		}
		set[strings.TrimSuffix(w, "s")] = struct{}{}
	}
	return set
}

// Format renders snippets as a prompt section.
func Format(snippets []Snippet) string {
	if len(snippets) == 0 {
		return "(no property knowledge available)"
	}
	var b strings.Builder
	for _, s := range snippets {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Source, s.Title, s.Content)
	}
	return b.String()
}
