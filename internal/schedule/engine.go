// Package schedule turns booking milestones into scheduled template messages
// and delivers them from a claim-based queue.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/conversation"
	"guest-concierge/internal/models"
	"guest-concierge/internal/transport"
	"guest-concierge/internal/ws"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cancelledByBooking = "booking cancelled"

// Recurrences materializes recurring task occurrences during a sweep.
type Recurrences interface {
	MaterializeRecurrences(ctx context.Context, now time.Time, lookahead time.Duration) (int, error)
}

// Options tunes the engine.
type Options struct {
	DefaultLocation *time.Location
	PastDuePolicy   string
	BatchSize       int
	Concurrency     int
	ClaimTTL        time.Duration
	Lookahead       time.Duration
}

type Engine struct {
	db         *gorm.DB
	store      *conversation.Store
	dispatcher *conversation.Dispatcher
	recur      Recurrences
	pub        audit.Publisher
	opts       Options
	now        func() time.Time
	log        *slog.Logger

	sweeping atomic.Bool
}

func NewEngine(db *gorm.DB, store *conversation.Store, dispatcher *conversation.Dispatcher, recur Recurrences, pub audit.Publisher, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.PastDuePolicy == "" {
		opts.PastDuePolicy = models.PastDueSkip
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = 24 * time.Hour
	}
	return &Engine{
		db: db, store: store, dispatcher: dispatcher, recur: recur, pub: pub,
		opts: opts, now: time.Now, log: logger,
	}
}

// EventResult counts what a booking event changed.
type EventResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

// UpsertBooking stores a booking from the property management system and
// evaluates the schedule rules for it.
func (e *Engine) UpsertBooking(ctx context.Context, b *models.Booking) (bool, EventResult, error) {
	if b.ID == "" || b.PropertyID == "" || b.GuestPhone == "" {
		return false, EventResult{}, fmt.Errorf("id, property_id and guest_phone are required: %w", apperr.ErrValidation)
	}
	if b.CheckIn.IsZero() || b.CheckOut.IsZero() || !b.CheckOut.After(b.CheckIn) {
		return false, EventResult{}, fmt.Errorf("check_out must be after check_in: %w", apperr.ErrValidation)
	}
	if b.Status == "" {
		b.Status = models.BookingConfirmed
	}
	if b.Status != models.BookingConfirmed && b.Status != models.BookingCancelled {
		return false, EventResult{}, fmt.Errorf("booking status %q: %w", b.Status, apperr.ErrValidation)
	}
	if err := e.requireProperty(ctx, b.PropertyID); err != nil {
		return false, EventResult{}, err
	}
	b.GuestPhone = conversation.NormalizePhone(b.GuestPhone)
	b.CheckIn = dateOnly(b.CheckIn)
	b.CheckOut = dateOnly(b.CheckOut)

	var existing models.Booking
	err := e.db.WithContext(ctx).First(&existing, "id = ?", b.ID).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return false, EventResult{}, err
	}
	if created {
		err = e.db.WithContext(ctx).Create(b).Error
	} else {
		b.CreatedAt = existing.CreatedAt
		err = e.db.WithContext(ctx).Save(b).Error
	}
	if err != nil {
		return false, EventResult{}, fmt.Errorf("save booking %s: %w", b.ID, err)
	}

	res, err := e.OnBookingEvent(ctx, b.ID, created)
	return created, res, err
}

func (e *Engine) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := e.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("booking %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &b, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// OnBookingEvent materializes the property's active rules for a booking.
// It is idempotent per (booking, rule): existing rows are never duplicated,
// pending rows follow date changes, and a cancelled booking cancels its
// pending rows.
func (e *Engine) OnBookingEvent(ctx context.Context, bookingID string, created bool) (EventResult, error) {
	var res EventResult
	var b models.Booking
	if err := e.db.WithContext(ctx).First(&b, "id = ?", bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return res, fmt.Errorf("booking %s: %w", bookingID, apperr.ErrNotFound)
		}
		return res, err
	}

	if b.Status == models.BookingCancelled {
		n, err := e.cancelPending(e.db.WithContext(ctx).Where("booking_id = ?", b.ID), cancelledByBooking)
		res.Cancelled = int(n)
		if n > 0 {
			e.log.Info("scheduled messages cancelled", "booking_id", b.ID, "count", n)
		}
		return res, err
	}

	var prop models.Property
	if err := e.db.WithContext(ctx).First(&prop, "id = ?", b.PropertyID).Error; err != nil {
		return res, fmt.Errorf("property %s: %w", b.PropertyID, err)
	}
	loc := prop.Location(e.opts.DefaultLocation)

	var rules []models.ScheduleRule
	if err := e.db.WithContext(ctx).
		Where("property_id = ? AND active = ?", b.PropertyID, true).
		Order("priority asc, created_at asc").
		Find(&rules).Error; err != nil {
		return res, err
	}

	var rows []models.ScheduledMessage
	if err := e.db.WithContext(ctx).Where("booking_id = ?", b.ID).Find(&rows).Error; err != nil {
		return res, err
	}
	existing := make(map[string]*models.ScheduledMessage, len(rows))
	for i := range rows {
		existing[rows[i].RuleID] = &rows[i]
	}

	now := e.clock()
	for i := range rules {
		rule := &rules[i]
		row := existing[rule.ID]

		if rule.MinStayNights != nil && b.Nights() < *rule.MinStayNights {
			if row != nil && row.Status == models.ScheduledPending {
				if err := e.setStatus(ctx, row, models.ScheduledCancelled, "stay shorter than rule minimum"); err != nil {
					return res, err
				}
				res.Cancelled++
			}
			continue
		}
		if row != nil && row.Status != models.ScheduledPending &&
			!(row.Status == models.ScheduledCancelled && row.Error == cancelledByBooking) {
			continue
		}
		if rule.TriggerType == models.TriggerOnBookingCreated && (!created || row != nil) {
			continue
		}

		sendAt, err := ComputeSendAt(rule, &b, loc, now)
		if err != nil {
			e.log.Warn("rule skipped", "rule_id", rule.ID, "booking_id", b.ID, "error", err)
			res.Skipped++
			continue
		}
		if sendAt.Before(now) {
			if e.policy(rule) == models.PastDueSkip {
				e.log.Info("send time already passed, skipping", "rule_id", rule.ID, "booking_id", b.ID, "send_at", sendAt)
				if row != nil && row.Status == models.ScheduledPending {
					if err := e.setStatus(ctx, row, models.ScheduledCancelled, "send time passed after booking change"); err != nil {
						return res, err
					}
					res.Cancelled++
				} else {
					res.Skipped++
				}
				continue
			}
			sendAt = now
		}

		switch {
		case row == nil:
			ok, err := e.insert(ctx, &b, rule, sendAt)
			if err != nil {
				return res, err
			}
			if ok {
				res.Created++
			}
		case row.Status == models.ScheduledPending && (!row.SendAt.Equal(sendAt) || row.Phone != b.GuestPhone):
			if err := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
				Where("id = ? AND status = ?", row.ID, models.ScheduledPending).
				Updates(map[string]interface{}{"send_at": sendAt, "phone": b.GuestPhone}).Error; err != nil {
				return res, err
			}
			res.Updated++
		case row.Status == models.ScheduledCancelled && row.Error == cancelledByBooking:
			// The booking was reinstated.
			if err := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
				Where("id = ? AND status = ?", row.ID, models.ScheduledCancelled).
				Updates(map[string]interface{}{"status": models.ScheduledPending, "send_at": sendAt, "phone": b.GuestPhone, "error": ""}).Error; err != nil {
				return res, err
			}
			res.Updated++
		}
	}
	return res, nil
}

// clock returns the current time in UTC. Times are written to the database
// in UTC because SQLite compares them as text.
func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) policy(rule *models.ScheduleRule) string {
	if rule.PastDuePolicy != "" {
		return rule.PastDuePolicy
	}
	return e.opts.PastDuePolicy
}

// insert creates the row for (booking, rule) unless one exists already.
func (e *Engine) insert(ctx context.Context, b *models.Booking, rule *models.ScheduleRule, sendAt time.Time) (bool, error) {
	row := models.ScheduledMessage{
		BookingID:  b.ID,
		RuleID:     rule.ID,
		TemplateID: rule.TemplateID,
		PropertyID: b.PropertyID,
		Phone:      b.GuestPhone,
		SendAt:     sendAt,
		Status:     models.ScheduledPending,
	}
	res := e.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("schedule rule %s for booking %s: %w", rule.ID, b.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	e.log.Info("message scheduled", "booking_id", b.ID, "rule_id", rule.ID, "send_at", sendAt)
	e.publish(&row)
	return true, nil
}

func (e *Engine) cancelPending(q *gorm.DB, reason string) (int64, error) {
	res := q.Model(&models.ScheduledMessage{}).
		Where("status = ?", models.ScheduledPending).
		Updates(map[string]interface{}{"status": models.ScheduledCancelled, "error": reason})
	return res.RowsAffected, res.Error
}

func (e *Engine) setStatus(ctx context.Context, row *models.ScheduledMessage, status, detail string) error {
	return e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", row.ID, row.Status).
		Updates(map[string]interface{}{"status": status, "error": detail}).Error
}

// SweepResult reports one sweep.
type SweepResult struct {
	Skipped     bool `json:"skipped"`
	Reaped      int  `json:"reaped"`
	Due         int  `json:"due"`
	Sent        int  `json:"sent"`
	Failed      int  `json:"failed"`
	Occurrences int  `json:"occurrences"`
}

// Sweep delivers due pending messages. Each row is claimed with a
// conditional pending -> sending update before the send, so at most one
// attempt per row is ever in flight. A sweep that starts while another is
// running returns immediately with Skipped set.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !e.sweeping.CompareAndSwap(false, true) {
		res.Skipped = true
		return res, nil
	}
	defer e.sweeping.Store(false)

	now := e.clock()
	reap := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("status = ? AND claimed_at < ?", models.ScheduledSending, now.Add(-e.opts.ClaimTTL)).
		Updates(map[string]interface{}{"status": models.ScheduledFailed, "error": "delivery claim expired"})
	if reap.Error != nil {
		return res, reap.Error
	}
	res.Reaped = int(reap.RowsAffected)
	if res.Reaped > 0 {
		e.log.Warn("stale delivery claims reaped", "count", res.Reaped)
	}

	var due []models.ScheduledMessage
	if err := e.db.WithContext(ctx).
		Where("status = ? AND send_at <= ?", models.ScheduledPending, now).
		Order("send_at asc").
		Limit(e.opts.BatchSize).
		Find(&due).Error; err != nil {
		return res, err
	}
	res.Due = len(due)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i := range due {
		row := due[i]
		g.Go(func() error {
			status := e.deliver(ctx, &row, now)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case models.ScheduledSent:
				res.Sent++
			case models.ScheduledFailed:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if e.recur != nil {
		n, err := e.recur.MaterializeRecurrences(ctx, now, e.opts.Lookahead)
		res.Occurrences = n
		if err != nil {
			e.log.Error("materialize recurring tasks", "error", err)
		}
	}
	if res.Due > 0 || res.Reaped > 0 || res.Occurrences > 0 {
		e.log.Info("sweep finished", "due", res.Due, "sent", res.Sent, "failed", res.Failed,
			"reaped", res.Reaped, "occurrences", res.Occurrences)
	}
	return res, nil
}

// ProcessNow runs an out-of-band sweep.
func (e *Engine) ProcessNow(ctx context.Context) (SweepResult, error) {
	return e.Sweep(ctx)
}

// deliver claims and sends one row and returns its final status, or "" when
// the row was claimed elsewhere.
func (e *Engine) deliver(ctx context.Context, row *models.ScheduledMessage, now time.Time) string {
	claim := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", row.ID, models.ScheduledPending).
		Updates(map[string]interface{}{
			"status":     models.ScheduledSending,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if claim.Error != nil {
		e.log.Error("claim scheduled message", "id", row.ID, "error", claim.Error)
		return ""
	}
	if claim.RowsAffected == 0 {
		return ""
	}

	deliveryID, err := e.send(ctx, row)
	updates := map[string]interface{}{}
	status := models.ScheduledSent
	if err != nil {
		status = models.ScheduledFailed
		updates["error"] = err.Error()
		e.log.Warn("scheduled message failed", "id", row.ID, "booking_id", row.BookingID,
			"retryable", transport.IsRetryable(err), "error", err)
	} else {
		sentAt := e.clock()
		updates["error"] = ""
		updates["delivery_id"] = deliveryID
		updates["sent_at"] = sentAt
	}
	updates["status"] = status
	// Not bound to ctx: a cancelled sweep must still release its claim.
	if err := e.db.Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", row.ID, models.ScheduledSending).
		Updates(updates).Error; err != nil {
		e.log.Error("record scheduled message outcome", "id", row.ID, "error", err)
	}

	var final models.ScheduledMessage
	if e.db.First(&final, "id = ?", row.ID).Error == nil {
		e.publish(&final)
	}
	return status
}

func (e *Engine) send(ctx context.Context, row *models.ScheduledMessage) (string, error) {
	var b models.Booking
	if err := e.db.WithContext(ctx).First(&b, "id = ?", row.BookingID).Error; err != nil {
		return "", fmt.Errorf("load booking %s: %w", row.BookingID, err)
	}
	if b.Status == models.BookingCancelled {
		return "", errors.New(cancelledByBooking)
	}
	tmpl, err := e.GetTemplate(ctx, row.TemplateID)
	if err != nil {
		return "", err
	}
	if !tmpl.Active {
		return "", fmt.Errorf("template %s is inactive: %w", tmpl.ID, apperr.ErrInvalidConfig)
	}
	var prop models.Property
	if err := e.db.WithContext(ctx).First(&prop, "id = ?", b.PropertyID).Error; err != nil {
		return "", fmt.Errorf("load property %s: %w", b.PropertyID, err)
	}

	rendered, params := Render(tmpl, Variables(&b, &prop))
	conv, err := e.store.EnsureForBooking(ctx, &b, "")
	if err != nil {
		return "", err
	}
	msg, err := e.dispatcher.SendTemplate(ctx, conv.ID, transport.TemplateRef{
		Name:      tmpl.ContentRef,
		Language:  tmpl.Language,
		Variables: params,
	}, rendered)
	if err != nil {
		return "", err
	}
	return msg.DeliveryID, nil
}

// RetryFilter narrows RetryFailed. Empty fields match everything.
type RetryFilter struct {
	IDs        []string `json:"ids"`
	BookingID  string   `json:"booking_id"`
	PropertyID string   `json:"property_id"`
}

// RetryFailed resets failed rows to pending. It is the only way a terminal
// row becomes pending again.
func (e *Engine) RetryFailed(ctx context.Context, f RetryFilter) (int64, error) {
	q := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).Where("status = ?", models.ScheduledFailed)
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.BookingID != "" {
		q = q.Where("booking_id = ?", f.BookingID)
	}
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	res := q.Updates(map[string]interface{}{"status": models.ScheduledPending, "error": "", "claimed_at": nil})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		e.log.Info("failed scheduled messages reset", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// Cancel cancels a pending row.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	res := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, models.ScheduledPending).
		Updates(map[string]interface{}{"status": models.ScheduledCancelled, "error": "cancelled by host"})
	if res.Error != nil {
		return nil, res.Error
	}
	msg, err := e.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("scheduled message %s is %s: %w", id, msg.Status, apperr.ErrInvalidTransition)
	}
	e.publish(msg)
	return msg, nil
}

func (e *Engine) GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	var m models.ScheduledMessage
	if err := e.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scheduled message %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

type MessageFilter struct {
	Status     string
	BookingID  string
	PropertyID string
	Limit      int
}

// ListMessages returns scheduled messages by send time.
func (e *Engine) ListMessages(ctx context.Context, f MessageFilter) ([]models.ScheduledMessage, error) {
	q := e.db.WithContext(ctx)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BookingID != "" {
		q = q.Where("booking_id = ?", f.BookingID)
	}
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 200
	}
	var out []models.ScheduledMessage
	err := q.Order("send_at asc").Limit(f.Limit).Find(&out).Error
	return out, err
}

// Stats counts rows by status and the pending rows due within a day.
type Stats struct {
	ByStatus     map[string]int64 `json:"by_status"`
	Upcoming24h  int64            `json:"upcoming_24h"`
	SweepRunning bool             `json:"sweep_running"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	st := &Stats{ByStatus: map[string]int64{
		models.ScheduledPending:   0,
		models.ScheduledSending:   0,
		models.ScheduledSent:      0,
		models.ScheduledFailed:    0,
		models.ScheduledCancelled: 0,
	}, SweepRunning: e.sweeping.Load()}
	for _, r := range rows {
		st.ByStatus[r.Status] = r.Count
	}

	now := e.clock()
	if err := e.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("status = ? AND send_at >= ? AND send_at <= ?", models.ScheduledPending, now, now.Add(24*time.Hour)).
		Count(&st.Upcoming24h).Error; err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) publish(m *models.ScheduledMessage) {
	if e.pub != nil {
		e.pub.Publish(ws.EventScheduledMessage, m)
	}
}
