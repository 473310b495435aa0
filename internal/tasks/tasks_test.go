package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/database/dbtest"
	"guest-concierge/internal/escalation"
	"guest-concierge/internal/models"
	"guest-concierge/internal/transport/transporttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

func newOrchestrator(t *testing.T) (*Orchestrator, *transporttest.Gateway, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	require.NoError(t, db.Create(&models.Property{ID: "sea-view", Name: "Sea View"}).Error)
	require.NoError(t, db.Create(&[]models.Staff{
		{ID: "maria", PropertyID: "sea-view", Name: "Maria", Phone: "15550000010", Role: models.RoleMaintenance, Active: true},
		{ID: "ana", PropertyID: "sea-view", Name: "Ana", Phone: "15550000011", Role: models.RoleCleaning, Active: true},
		{ID: "old", PropertyID: "sea-view", Name: "Old", Phone: "15550000012", Role: models.RoleConcierge, Active: false},
	}).Error)
	gw := transporttest.New()
	o := NewOrchestrator(db, gw, audit.NewRecorder(db, nil, nil), nil, nil)
	o.now = func() time.Time { return fixedNow }
	return o, gw, db
}

func strPtr(s string) *string { return &s }

func TestCreateValidates(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, Spec{PropertyID: "sea-view"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = o.Create(ctx, Spec{PropertyID: "sea-view", Title: "x", Priority: "asap"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = o.Create(ctx, Spec{PropertyID: "sea-view", Title: "x", AssigneeID: strPtr("old")})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)

	_, err = o.Create(ctx, Spec{PropertyID: "sea-view", Title: "x", AssigneeID: strPtr("nobody")})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)

	task, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Restock coffee"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, models.CategoryOther, task.Category)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	assert.Equal(t, SourceHost, task.Source)
}

func TestAssignNotifiesOnce(t *testing.T) {
	o, gw, _ := newOrchestrator(t)
	ctx := context.Background()

	task, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Fix sink", Category: models.CategoryMaintenance})
	require.NoError(t, err)
	assert.Empty(t, gw.Messages())

	task, err = o.Assign(ctx, task.ID, "maria")
	require.NoError(t, err)
	require.NotNil(t, task.NotifiedAt)
	assert.Empty(t, task.NotifyError)
	require.Len(t, gw.To("15550000010"), 1)
	assert.Contains(t, gw.To("15550000010")[0].Body, "Fix sink")

	_, err = o.Assign(ctx, task.ID, "maria")
	require.NoError(t, err)
	assert.Len(t, gw.To("15550000010"), 1)

	_, err = o.Assign(ctx, task.ID, "ana")
	require.NoError(t, err)
	assert.Len(t, gw.To("15550000011"), 1)
}

func TestAssignNotifyFailureIsRecorded(t *testing.T) {
	o, gw, db := newOrchestrator(t)
	ctx := context.Background()
	gw.FailFor["15550000010"] = errors.New("recipient not on whatsapp")

	task, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Fix sink", AssigneeID: strPtr("maria")})
	require.NoError(t, err)
	assert.Equal(t, "recipient not on whatsapp", task.NotifyError)

	stored, err := o.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "recipient not on whatsapp", stored.NotifyError)
	require.NotNil(t, stored.NotifiedAt)

	var logs []models.AuditLog
	require.NoError(t, db.Where("kind = ?", models.AuditStaffNotifyFailed).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
}

func TestStatusTransitions(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	ctx := context.Background()
	task, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Fix sink"})
	require.NoError(t, err)

	_, err = o.Complete(ctx, task.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	task, err = o.Start(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, task.Status)

	task, err = o.Escalate(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskEscalated, task.Status)

	task, err = o.Start(ctx, task.ID)
	require.NoError(t, err)

	task, err = o.Complete(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)

	task, err = o.Delete(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskArchived, task.Status)

	_, err = o.Start(ctx, task.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = o.Delete(ctx, task.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = o.Start(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEscalateRaisesTaskTriage(t *testing.T) {
	o, gw, db := newOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, db.Model(&models.Property{}).Where("id = ?", "sea-view").
		Update("host_phone", "15550000001").Error)
	o.SetEscalator(escalation.NewManager(db, gw, audit.NewRecorder(db, nil, nil), nil, "", nil))

	task, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Fix boiler", Category: models.CategoryMaintenance, Priority: models.PriorityUrgent})
	require.NoError(t, err)
	task, err = o.Escalate(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskEscalated, task.Status)

	var escs []models.Escalation
	require.NoError(t, db.Find(&escs).Error)
	require.Len(t, escs, 1)
	assert.Equal(t, models.TriggerTaskTriage, escs[0].TriggerType)
	assert.Equal(t, models.EscalationCritical, escs[0].Priority)
	assert.Equal(t, models.EscalationOpen, escs[0].Status)
	require.NotNil(t, escs[0].TaskID)
	assert.Equal(t, task.ID, *escs[0].TaskID)
	assert.True(t, escs[0].HostNotified)

	alerts := gw.To("15550000001")
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Body, "Fix boiler")

	_, err = o.Escalate(ctx, task.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	var count int64
	require.NoError(t, db.Model(&models.Escalation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

type failingEscalator struct{}

func (failingEscalator) Create(context.Context, escalation.CreateSpec) (*models.Escalation, error) {
	return nil, errors.New("db down")
}

func TestEscalateKeepsTaskWhenEscalationFails(t *testing.T) {
	o, _, db := newOrchestrator(t)
	ctx := context.Background()
	o.SetEscalator(failingEscalator{})

	task, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Fix boiler"})
	require.NoError(t, err)
	task, err = o.Escalate(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskEscalated, task.Status)

	var logs []models.AuditLog
	require.NoError(t, db.Where("kind = ?", models.AuditSideEffectFailed).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Detail, "db down")
}

func TestUpdateAndList(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	ctx := context.Background()
	a, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Fix sink"})
	require.NoError(t, err)
	b, err := o.Create(ctx, Spec{PropertyID: "sea-view", Title: "Clean windows", Category: models.CategoryCleaning})
	require.NoError(t, err)

	urgent := models.PriorityUrgent
	a, err = o.Update(ctx, a.ID, Update{Priority: &urgent})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, a.Priority)

	bad := "sometime"
	_, err = o.Update(ctx, a.ID, Update{Priority: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = o.Delete(ctx, b.ID)
	require.NoError(t, err)

	list, err := o.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	list, err = o.List(ctx, Filter{Status: models.TaskArchived})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = o.List(ctx, Filter{Query: "SINK"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateFromEnrichmentDeduplicates(t *testing.T) {
	o, gw, _ := newOrchestrator(t)
	ctx := context.Background()

	req := EnrichmentTask{
		PropertyID:     "sea-view",
		ConversationID: "conv-1",
		Title:          "Fix wifi router",
		Category:       models.CategoryMaintenance,
		Description:    "Guest reports wifi is down",
		Priority:       models.PriorityMedium,
	}
	first, action, err := o.CreateFromEnrichment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.TaskActionCreated, action)
	assert.Equal(t, SourceAI, first.Source)
	require.NotNil(t, first.AssigneeID)
	assert.Equal(t, "maria", *first.AssigneeID)
	assert.Len(t, gw.To("15550000010"), 1)

	req.Description = "Still no wifi in the bedroom"
	req.Priority = models.PriorityHigh
	second, action, err := o.CreateFromEnrichment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.TaskActionUpdated, action)
	assert.Equal(t, first.ID, second.ID)

	stored, err := o.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, stored.Priority)
	assert.Contains(t, stored.Description, "Still no wifi")
	assert.Len(t, gw.To("15550000010"), 1)

	req.Category = models.CategoryCleaning
	_, action, err = o.CreateFromEnrichment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.TaskActionCreated, action)
}

func TestCreateFromEnrichmentSkipsInactiveStaff(t *testing.T) {
	o, gw, _ := newOrchestrator(t)
	task, action, err := o.CreateFromEnrichment(context.Background(), EnrichmentTask{
		PropertyID:     "sea-view",
		ConversationID: "conv-2",
		Title:          "Restaurant booking",
		Category:       models.CategoryGuestRequest,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskActionCreated, action)
	assert.Nil(t, task.AssigneeID)
	assert.Empty(t, gw.Messages())
}

func TestMaterializeRecurrences(t *testing.T) {
	o, gw, db := newOrchestrator(t)
	ctx := context.Background()
	due := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first, err := o.CreateRecurring(ctx,
		Spec{PropertyID: "sea-view", Title: "Pool check", AssigneeID: strPtr("maria"), DueAt: &due},
		models.Recurrence{Kind: models.RecurDaily, MaxOccurrences: 5})
	require.NoError(t, err)
	require.NotNil(t, first.SeriesID)
	assert.Equal(t, 0, first.OccurrenceIndex)

	n, err := o.MaterializeRecurrences(ctx, fixedNow, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = o.MaterializeRecurrences(ctx, fixedNow, 48*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = o.MaterializeRecurrences(ctx, fixedNow, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var series []models.Task
	require.NoError(t, db.Where("series_id = ?", *first.SeriesID).Order("occurrence_index").Find(&series).Error)
	require.Len(t, series, 5)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), series[4].DueAt.UTC())
	assert.Len(t, gw.To("15550000010"), 5)
}

func TestMaterializeStopsAfterArchive(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	ctx := context.Background()
	due := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first, err := o.CreateRecurring(ctx, Spec{PropertyID: "sea-view", Title: "Pool check", DueAt: &due},
		models.Recurrence{Kind: models.RecurWeekly})
	require.NoError(t, err)
	_, err = o.Delete(ctx, first.ID)
	require.NoError(t, err)

	n, err := o.MaterializeRecurrences(ctx, fixedNow, 60*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaterializeSkipsOverdueOccurrences(t *testing.T) {
	o, gw, db := newOrchestrator(t)
	ctx := context.Background()
	anchor := fixedNow.AddDate(0, 0, -30).Add(-3 * time.Hour)

	first, err := o.CreateRecurring(ctx,
		Spec{PropertyID: "sea-view", Title: "Pool check", AssigneeID: strPtr("maria"), DueAt: &anchor},
		models.Recurrence{Kind: models.RecurDaily})
	require.NoError(t, err)
	require.Len(t, gw.To("15550000010"), 1)

	n, err := o.MaterializeRecurrences(ctx, fixedNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, gw.To("15550000010"), 2)

	var series []models.Task
	require.NoError(t, db.Where("series_id = ?", *first.SeriesID).Order("occurrence_index").Find(&series).Error)
	require.Len(t, series, 2)
	assert.Equal(t, 31, series[1].OccurrenceIndex)
	assert.True(t, series[1].DueAt.After(fixedNow))

	n, err = o.MaterializeRecurrences(ctx, fixedNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateRecurringRequiresDueDate(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	_, err := o.CreateRecurring(context.Background(), Spec{PropertyID: "sea-view", Title: "x"},
		models.Recurrence{Kind: models.RecurDaily})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	due := fixedNow
	_, err = o.CreateRecurring(context.Background(), Spec{PropertyID: "sea-view", Title: "x", DueAt: &due},
		models.Recurrence{Kind: models.RecurEveryNDay})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestOccurrenceDue(t *testing.T) {
	anchor := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  models.Recurrence
		k    int
		want time.Time
		ok   bool
	}{
		{"monthly clamps to february", models.Recurrence{Kind: models.RecurMonthly}, 1, time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC), true},
		{"monthly keeps day when it exists", models.Recurrence{Kind: models.RecurMonthly}, 2, time.Date(2025, 3, 31, 10, 0, 0, 0, time.UTC), true},
		{"every three days", models.Recurrence{Kind: models.RecurEveryNDay, Interval: 3}, 2, time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC), true},
		{"weekly", models.Recurrence{Kind: models.RecurWeekly}, 1, time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC), true},
		{"max occurrences", models.Recurrence{Kind: models.RecurDaily, MaxOccurrences: 3}, 3, time.Time{}, false},
		{"end date", models.Recurrence{Kind: models.RecurMonthly, EndDate: &end}, 3, time.Time{}, false},
		{"none only first", models.Recurrence{Kind: models.RecurNone}, 1, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OccurrenceDue(anchor, tt.rec, tt.k)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
