// Package tasks manages operational work items for staff: creation from
// guest requests, assignment with notification, status changes and
// recurring series.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/escalation"
	"guest-concierge/internal/models"
	"guest-concierge/internal/transport"
	"guest-concierge/internal/ws"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Task sources.
const (
	SourceAI   = "ai"
	SourceHost = "host"
)

// Spec describes a task to create.
type Spec struct {
	PropertyID     string     `json:"property_id"`
	BookingID      *string    `json:"booking_id,omitempty"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	Title          string     `json:"title"`
	Category       string     `json:"category"`
	Description    string     `json:"description"`
	Priority       string     `json:"priority"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	Source         string     `json:"source,omitempty"`
}

// Update carries the editable fields; nil fields are left unchanged.
type Update struct {
	Title       *string    `json:"title"`
	Category    *string    `json:"category"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	DueAt       *time.Time `json:"due_at"`
}

type Filter struct {
	Status         string
	PropertyID     string
	ConversationID string
	Query          string
	Limit          int
}

// EnrichmentTask is a task request derived from a guest message.
type EnrichmentTask struct {
	PropertyID     string
	BookingID      *string
	ConversationID string
	Title          string
	Category       string
	Description    string
	Priority       string
	StaffRole      string
}

// Escalator raises host escalations. *escalation.Manager implements it.
type Escalator interface {
	Create(ctx context.Context, spec escalation.CreateSpec) (*models.Escalation, error)
}

type Orchestrator struct {
	db    *gorm.DB
	gw    transport.Gateway
	audit *audit.Recorder
	pub   audit.Publisher
	esc   Escalator
	now   func() time.Time
	log   *slog.Logger
}

func NewOrchestrator(db *gorm.DB, gw transport.Gateway, rec *audit.Recorder, pub audit.Publisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{db: db, gw: gw, audit: rec, pub: pub, now: time.Now, log: logger}
}

// SetEscalator makes Escalate raise a task_triage escalation for the host.
func (o *Orchestrator) SetEscalator(esc Escalator) {
	o.esc = esc
}

var openStatuses = []string{models.TaskPending, models.TaskInProgress, models.TaskEscalated}

var priorityRank = map[string]int{
	models.PriorityLow:    0,
	models.PriorityMedium: 1,
	models.PriorityHigh:   2,
	models.PriorityUrgent: 3,
}

func validateSpec(spec *Spec) error {
	spec.Title = strings.TrimSpace(spec.Title)
	if spec.Title == "" {
		return fmt.Errorf("title required: %w", apperr.ErrValidation)
	}
	if spec.PropertyID == "" {
		return fmt.Errorf("property_id required: %w", apperr.ErrValidation)
	}
	if spec.Category == "" {
		spec.Category = models.CategoryOther
	}
	switch spec.Category {
	case models.CategoryMaintenance, models.CategoryCleaning, models.CategorySupplies,
		models.CategoryGuestRequest, models.CategoryOther:
	default:
		return fmt.Errorf("category %q: %w", spec.Category, apperr.ErrValidation)
	}
	if spec.Priority == "" {
		spec.Priority = models.PriorityMedium
	}
	if _, ok := priorityRank[spec.Priority]; !ok {
		return fmt.Errorf("priority %q: %w", spec.Priority, apperr.ErrValidation)
	}
	if spec.Source == "" {
		spec.Source = SourceHost
	}
	return nil
}

// activeStaff loads a staff member that may receive tasks.
func (o *Orchestrator) activeStaff(ctx context.Context, staffID string) (*models.Staff, error) {
	var staff models.Staff
	if err := o.db.WithContext(ctx).First(&staff, "id = ?", staffID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("staff %s does not exist: %w", staffID, apperr.ErrInvalidConfig)
		}
		return nil, err
	}
	if !staff.Active {
		return nil, fmt.Errorf("staff %s is inactive: %w", staffID, apperr.ErrInvalidConfig)
	}
	return &staff, nil
}

func applyAssignee(t *models.Task, staff *models.Staff) {
	if staff == nil {
		return
	}
	id := staff.ID
	t.AssigneeID = &id
	t.AssigneeName = staff.Name
	t.AssigneePhone = staff.Phone
}

// Create stores a one-off task and notifies the assignee, if any.
func (o *Orchestrator) Create(ctx context.Context, spec Spec) (*models.Task, error) {
	return o.create(ctx, spec, nil)
}

// CreateRecurring stores the first occurrence of a series. Later occurrences
// are created by MaterializeRecurrences. spec.DueAt anchors the series.
func (o *Orchestrator) CreateRecurring(ctx context.Context, spec Spec, rec models.Recurrence) (*models.Task, error) {
	if err := ValidateRecurrence(&rec); err != nil {
		return nil, err
	}
	if spec.DueAt == nil {
		return nil, fmt.Errorf("recurring task needs due_at: %w", apperr.ErrValidation)
	}
	if rec.Kind == models.RecurNone {
		return o.create(ctx, spec, nil)
	}
	return o.create(ctx, spec, &rec)
}

func (o *Orchestrator) create(ctx context.Context, spec Spec, rec *models.Recurrence) (*models.Task, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}
	var staff *models.Staff
	if spec.AssigneeID != nil && *spec.AssigneeID != "" {
		s, err := o.activeStaff(ctx, *spec.AssigneeID)
		if err != nil {
			return nil, err
		}
		staff = s
	}

	task := models.Task{
		PropertyID:     spec.PropertyID,
		BookingID:      spec.BookingID,
		ConversationID: spec.ConversationID,
		Title:          spec.Title,
		Category:       spec.Category,
		Description:    spec.Description,
		Status:         models.TaskPending,
		Priority:       spec.Priority,
		DueAt:          spec.DueAt,
		Recurrence:     rec,
		Source:         spec.Source,
	}
	if rec != nil {
		series := uuid.NewString()
		task.SeriesID = &series
	}
	applyAssignee(&task, staff)

	if err := o.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	o.log.Info("task created", "task_id", task.ID, "category", task.Category, "source", task.Source)

	if staff != nil {
		o.notify(ctx, &task)
	}
	o.publish(&task)
	return &task, nil
}

// CreateFromEnrichment files a guest request. An open task in the same
// conversation and category is updated instead of duplicated; the returned
// action is created or updated.
func (o *Orchestrator) CreateFromEnrichment(ctx context.Context, req EnrichmentTask) (*models.Task, string, error) {
	if req.Category == "" {
		req.Category = models.CategoryOther
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}

	if req.ConversationID != "" {
		var existing models.Task
		err := o.db.WithContext(ctx).
			Where("conversation_id = ? AND category = ? AND status IN ?", req.ConversationID, req.Category, openStatuses).
			Order("created_at desc").
			First(&existing).Error
		if err == nil {
			updates := map[string]interface{}{}
			if req.Description != "" && !strings.Contains(existing.Description, req.Description) {
				updates["description"] = strings.TrimSpace(existing.Description + "\n" + req.Description)
			}
			if priorityRank[req.Priority] > priorityRank[existing.Priority] {
				updates["priority"] = req.Priority
			}
			if len(updates) > 0 {
				if err := o.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
					return nil, "", fmt.Errorf("update task %s: %w", existing.ID, err)
				}
			}
			o.publish(&existing)
			return &existing, models.TaskActionUpdated, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", err
		}
	}

	spec := Spec{
		PropertyID:  req.PropertyID,
		BookingID:   req.BookingID,
		Title:       req.Title,
		Category:    req.Category,
		Description: req.Description,
		Priority:    req.Priority,
		Source:      SourceAI,
	}
	if req.ConversationID != "" {
		conv := req.ConversationID
		spec.ConversationID = &conv
	}
	if staff := o.staffForRole(ctx, req.PropertyID, roleFor(req.StaffRole, req.Category)); staff != nil {
		spec.AssigneeID = &staff.ID
	}
	task, err := o.Create(ctx, spec)
	if err != nil {
		return nil, "", err
	}
	return task, models.TaskActionCreated, nil
}

func roleFor(hint, category string) string {
	if hint != "" {
		return hint
	}
	switch category {
	case models.CategoryMaintenance:
		return models.RoleMaintenance
	case models.CategoryCleaning, models.CategorySupplies:
		return models.RoleCleaning
	case models.CategoryGuestRequest:
		return models.RoleConcierge
	}
	return ""
}

func (o *Orchestrator) staffForRole(ctx context.Context, propertyID, role string) *models.Staff {
	if role == "" || propertyID == "" {
		return nil
	}
	var staff models.Staff
	err := o.db.WithContext(ctx).
		Where("property_id = ? AND role = ? AND active = ?", propertyID, role, true).
		Order("name asc").
		First(&staff).Error
	if err != nil {
		return nil
	}
	return &staff
}

// Assign gives the task to a staff member and notifies them. Re-assigning to
// the current assignee does not notify again.
func (o *Orchestrator) Assign(ctx context.Context, id, staffID string) (*models.Task, error) {
	task, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskArchived || task.Status == models.TaskCompleted {
		return nil, fmt.Errorf("task %s is %s: %w", id, task.Status, apperr.ErrInvalidTransition)
	}
	staff, err := o.activeStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if task.AssigneeID != nil && *task.AssigneeID == staff.ID {
		return task, nil
	}

	applyAssignee(task, staff)
	task.NotifiedAt = nil
	task.NotifyError = ""
	if err := o.db.WithContext(ctx).Model(task).Updates(map[string]interface{}{
		"assignee_id":    staff.ID,
		"assignee_name":  staff.Name,
		"assignee_phone": staff.Phone,
		"notified_at":    nil,
		"notify_error":   "",
	}).Error; err != nil {
		return nil, fmt.Errorf("assign task %s: %w", id, err)
	}
	o.notify(ctx, task)
	o.publish(task)
	return task, nil
}

// notify sends the assignment message once. The outcome is stored on the
// task; failures are surfaced as alerts and never retried.
func (o *Orchestrator) notify(ctx context.Context, task *models.Task) {
	if task.AssigneePhone == "" {
		return
	}
	body := fmt.Sprintf("New task (%s): %s", task.Priority, task.Title)
	if task.DueAt != nil {
		body += " - due " + task.DueAt.Format("Mon 02 Jan 15:04")
	}
	if task.Description != "" {
		body += "\n" + task.Description
	}

	_, err := o.gw.Send(ctx, transport.OutboundMessage{To: task.AssigneePhone, Body: body})
	now := o.now()
	updates := map[string]interface{}{"notified_at": now, "notify_error": ""}
	task.NotifiedAt = &now
	task.NotifyError = ""
	if err != nil {
		updates["notify_error"] = err.Error()
		task.NotifyError = err.Error()
		entry := audit.Entry{
			Kind:    models.AuditStaffNotifyFailed,
			Subject: "task:" + task.ID,
			Detail:  fmt.Sprintf("notify %s: %v", task.AssigneeName, err),
		}
		if task.ConversationID != nil {
			entry.ConversationID = *task.ConversationID
		}
		o.audit.Record(ctx, entry)
	}
	if err := o.db.WithContext(ctx).Model(task).Updates(updates).Error; err != nil {
		o.log.Error("record staff notification", "task_id", task.ID, "error", err)
	}
}

// Start moves a pending or escalated task to in_progress.
func (o *Orchestrator) Start(ctx context.Context, id string) (*models.Task, error) {
	return o.transition(ctx, id, []string{models.TaskPending, models.TaskEscalated},
		map[string]interface{}{"status": models.TaskInProgress})
}

// Complete finishes an in-progress task.
func (o *Orchestrator) Complete(ctx context.Context, id string) (*models.Task, error) {
	return o.transition(ctx, id, []string{models.TaskInProgress},
		map[string]interface{}{"status": models.TaskCompleted, "completed_at": o.now()})
}

// Escalate flags a pending or in-progress task for host attention and
// raises a task_triage escalation linked to it. A failed escalation is
// recorded as an alert; the task stays escalated.
func (o *Orchestrator) Escalate(ctx context.Context, id string) (*models.Task, error) {
	task, err := o.transition(ctx, id, []string{models.TaskPending, models.TaskInProgress},
		map[string]interface{}{"status": models.TaskEscalated})
	if err != nil || o.esc == nil {
		return task, err
	}

	taskID := task.ID
	spec := escalation.CreateSpec{
		PropertyID:     task.PropertyID,
		ConversationID: task.ConversationID,
		TriggerType:    models.TriggerTaskTriage,
		RiskIndicator:  models.RiskNone,
		Priority:       escalationPriority(task.Priority),
		Summary:        fmt.Sprintf("Task escalated (%s): %s", task.Category, task.Title),
		TaskID:         &taskID,
	}
	if _, err := o.esc.Create(ctx, spec); err != nil {
		o.log.Error("escalate task", "task_id", task.ID, "error", err)
		entry := audit.Entry{
			Kind:    models.AuditSideEffectFailed,
			Subject: "task:" + task.ID,
			Detail:  fmt.Sprintf("raise escalation: %v", err),
		}
		if task.ConversationID != nil {
			entry.ConversationID = *task.ConversationID
		}
		o.audit.Record(ctx, entry)
	}
	return task, nil
}

func escalationPriority(p string) string {
	switch p {
	case models.PriorityLow:
		return models.EscalationLow
	case models.PriorityHigh:
		return models.EscalationHigh
	case models.PriorityUrgent:
		return models.EscalationCritical
	}
	return models.EscalationMedium
}

// Delete archives the task. Archiving is terminal.
func (o *Orchestrator) Delete(ctx context.Context, id string) (*models.Task, error) {
	return o.transition(ctx, id,
		[]string{models.TaskPending, models.TaskInProgress, models.TaskCompleted, models.TaskEscalated},
		map[string]interface{}{"status": models.TaskArchived})
}

func (o *Orchestrator) transition(ctx context.Context, id string, from []string, updates map[string]interface{}) (*models.Task, error) {
	res := o.db.WithContext(ctx).Model(&models.Task{}).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	task, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("task %s is %s, cannot become %v: %w", id, task.Status, updates["status"], apperr.ErrInvalidTransition)
	}
	o.publish(task)
	return task, nil
}

// Update edits descriptive fields. Status changes go through the transition
// methods.
func (o *Orchestrator) Update(ctx context.Context, id string, u Update) (*models.Task, error) {
	task, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskArchived {
		return nil, fmt.Errorf("task %s is archived: %w", id, apperr.ErrInvalidTransition)
	}

	spec := Spec{PropertyID: task.PropertyID, Title: task.Title, Category: task.Category, Priority: task.Priority}
	updates := map[string]interface{}{}
	if u.Title != nil {
		spec.Title = *u.Title
	}
	if u.Category != nil {
		spec.Category = *u.Category
	}
	if u.Priority != nil {
		spec.Priority = *u.Priority
	}
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}
	updates["title"] = spec.Title
	updates["category"] = spec.Category
	updates["priority"] = spec.Priority
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.DueAt != nil {
		updates["due_at"] = *u.DueAt
	}
	if err := o.db.WithContext(ctx).Model(task).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	task, err = o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.publish(task)
	return task, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := o.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &task, nil
}

// List returns tasks, soonest due first. Archived tasks are only returned
// when asked for by status.
func (o *Orchestrator) List(ctx context.Context, f Filter) ([]models.Task, error) {
	q := o.db.WithContext(ctx)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	} else {
		q = q.Where("status <> ?", models.TaskArchived)
	}
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.ConversationID != "" {
		q = q.Where("conversation_id = ?", f.ConversationID)
	}
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(assignee_name) LIKE ?", like, like, like)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 200
	}
	var out []models.Task
	err := q.Order("due_at IS NULL, due_at asc, created_at desc").Limit(f.Limit).Find(&out).Error
	return out, err
}

// MaterializeRecurrences creates the occurrences of every live series that
// fall due between now and now+lookahead. It is idempotent: (series_id,
// occurrence_index) is unique and conflicting inserts are ignored.
// Occurrences already overdue, for instance after downtime or for a series
// anchored in the past, are skipped rather than backfilled. A series stops
// once its latest occurrence is archived.
func (o *Orchestrator) MaterializeRecurrences(ctx context.Context, now time.Time, lookahead time.Duration) (int, error) {
	var latest []models.Task
	if err := o.db.WithContext(ctx).
		Where("series_id IS NOT NULL AND status <> ?", models.TaskArchived).
		Where("occurrence_index = (SELECT MAX(t2.occurrence_index) FROM tasks t2 WHERE t2.series_id = tasks.series_id)").
		Order("series_id").
		Find(&latest).Error; err != nil {
		return 0, err
	}
	if len(latest) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(latest))
	for i := range latest {
		ids = append(ids, *latest[i].SeriesID)
	}
	var anchorRows []models.Task
	if err := o.db.WithContext(ctx).
		Where("series_id IN ? AND occurrence_index = 0", ids).
		Find(&anchorRows).Error; err != nil {
		return 0, err
	}
	anchors := make(map[string]*models.Task, len(anchorRows))
	for i := range anchorRows {
		anchors[*anchorRows[i].SeriesID] = &anchorRows[i]
	}

	horizon := now.Add(lookahead)
	created := 0
	for i := range latest {
		last := &latest[i]
		id := *last.SeriesID
		anchor := anchors[id]
		if anchor == nil || anchor.Recurrence == nil || anchor.DueAt == nil {
			continue
		}
		missed := 0
		for k := last.OccurrenceIndex + 1; ; k++ {
			due, ok := OccurrenceDue(*anchor.DueAt, *anchor.Recurrence, k)
			if !ok || due.After(horizon) {
				break
			}
			if due.Before(now) {
				missed++
				continue
			}
			occ := models.Task{
				PropertyID:      anchor.PropertyID,
				BookingID:       anchor.BookingID,
				Title:           anchor.Title,
				Category:        anchor.Category,
				Description:     anchor.Description,
				Status:          models.TaskPending,
				Priority:        anchor.Priority,
				AssigneeID:      last.AssigneeID,
				AssigneeName:    last.AssigneeName,
				AssigneePhone:   last.AssigneePhone,
				DueAt:           &due,
				Recurrence:      anchor.Recurrence,
				SeriesID:        anchor.SeriesID,
				OccurrenceIndex: k,
				Source:          anchor.Source,
			}
			res := o.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&occ)
			if res.Error != nil {
				return created, fmt.Errorf("materialize series %s occurrence %d: %w", id, k, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			created++
			o.log.Info("recurring task materialized", "series_id", id, "occurrence", k, "due_at", due)
			o.notify(ctx, &occ)
			o.publish(&occ)
		}
		if missed > 0 {
			o.log.Debug("overdue occurrences skipped", "series_id", id, "count", missed)
		}
	}
	return created, nil
}

func (o *Orchestrator) publish(task *models.Task) {
	if o.pub != nil {
		o.pub.Publish(ws.EventTask, task)
	}
}
