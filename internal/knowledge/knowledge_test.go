package knowledge

import (
	"context"
	"strings"
	"testing"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/database/dbtest"
	"guest-concierge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
properties:
  - id: sea-view
    name: Sea View Loft
    host_phone: "15550000001"
    timezone: Europe/Lisbon
    check_in_time: "15:00"
    check_out_time: "11:00"
    wifi_name: SeaView
    wifi_password: waves123
    faqs:
      - question: Where can I park?
        answer: Free parking in the garage, spot 12.
        tags: parking car
      - question: Is there a hair dryer?
        answer: Yes, in the bathroom drawer.
    staff:
      - id: staff-maria
        name: Maria
        phone: "15550000002"
        role: cleaning
      - id: staff-joao
        name: Joao
        phone: "15550000003"
        role: maintenance
        active: false
`

func TestSeedAndLookup(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	res, err := Seed(ctx, db, strings.NewReader(seedYAML))
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Properties: 1, FAQs: 2, Staff: 2}, res)

	// Seeding twice replaces FAQs instead of duplicating them.
	_, err = Seed(ctx, db, strings.NewReader(seedYAML))
	require.NoError(t, err)
	var faqCount int64
	db.Model(&models.FAQ{}).Count(&faqCount)
	assert.Equal(t, int64(2), faqCount)

	var joao models.Staff
	require.NoError(t, db.First(&joao, "id = ?", "staff-joao").Error)
	assert.False(t, joao.Active)

	p := NewDBProvider(db)
	snippets, err := p.Lookup(ctx, "sea-view", "where do I park the car?")
	require.NoError(t, err)

	var titles []string
	for _, s := range snippets {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "Checkout time")
	assert.Contains(t, titles, "Where can I park?")
	assert.NotContains(t, titles, "Is there a hair dryer?")
	assert.Contains(t, Format(snippets), "Checkout time: 11:00")
}

func TestLookupUnknownProperty(t *testing.T) {
	db := dbtest.New(t)
	_, err := NewDBProvider(db).Lookup(context.Background(), "missing", "wifi")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
