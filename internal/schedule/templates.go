package schedule

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/models"

	"gorm.io/gorm"
)

// KnownVariables are the booking variables a template may reference.
var KnownVariables = []string{
	"guest_name",
	"guest_first_name",
	"property_name",
	"property_address",
	"host_name",
	"check_in_date",
	"check_out_date",
	"check_in_time",
	"check_out_time",
	"nights",
	"num_guests",
	"wifi_name",
	"wifi_password",
	"booking_id",
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

func isKnownVariable(name string) bool {
	for _, v := range KnownVariables {
		if v == name {
			return true
		}
	}
	return false
}

// Variables resolves every known variable for a booking.
func Variables(b *models.Booking, p *models.Property) map[string]string {
	first := strings.TrimSpace(b.GuestName)
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	vars := map[string]string{
		"guest_name":       b.GuestName,
		"guest_first_name": first,
		"check_in_date":    b.CheckIn.UTC().Format("Mon 2 Jan 2006"),
		"check_out_date":   b.CheckOut.UTC().Format("Mon 2 Jan 2006"),
		"nights":           strconv.Itoa(b.Nights()),
		"num_guests":       strconv.Itoa(b.NumGuests),
		"booking_id":       b.ID,
	}
	if p != nil {
		vars["property_name"] = p.Name
		vars["property_address"] = p.Address
		vars["host_name"] = p.HostName
		vars["check_in_time"] = p.CheckInTime
		vars["check_out_time"] = p.CheckOutTime
		vars["wifi_name"] = p.WifiName
		vars["wifi_password"] = p.WifiPassword
	}
	return vars
}

// Render fills the template body and returns it with the ordered template
// parameters.
func Render(t *models.ScheduleTemplate, vars map[string]string) (string, []string) {
	body := placeholderRe.ReplaceAllStringFunc(t.Body, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	params := make([]string, len(t.Variables))
	for i, name := range t.Variables {
		params[i] = vars[name]
	}
	if strings.TrimSpace(body) == "" {
		body = fmt.Sprintf("[template %s] %s", t.ContentRef, strings.Join(params, " | "))
	}
	return body, params
}

func validateTemplate(t *models.ScheduleTemplate) error {
	t.Name = strings.TrimSpace(t.Name)
	t.ContentRef = strings.TrimSpace(t.ContentRef)
	if t.PropertyID == "" || t.Name == "" || t.ContentRef == "" {
		return fmt.Errorf("property_id, name and content_ref are required: %w", apperr.ErrValidation)
	}
	if t.Language == "" {
		t.Language = "en_US"
	}
	for _, v := range t.Variables {
		if !isKnownVariable(v) {
			return fmt.Errorf("unknown template variable %q: %w", v, apperr.ErrInvalidConfig)
		}
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(t.Body, -1) {
		if !isKnownVariable(m[1]) {
			return fmt.Errorf("unknown placeholder {{%s}} in body: %w", m[1], apperr.ErrInvalidConfig)
		}
	}
	return nil
}

func (e *Engine) requireProperty(ctx context.Context, id string) error {
	var n int64
	if err := e.db.WithContext(ctx).Model(&models.Property{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("property %s does not exist: %w", id, apperr.ErrInvalidConfig)
	}
	return nil
}

func (e *Engine) CreateTemplate(ctx context.Context, t *models.ScheduleTemplate) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	if err := e.requireProperty(ctx, t.PropertyID); err != nil {
		return err
	}
	t.ID = ""
	return e.db.WithContext(ctx).Create(t).Error
}

func (e *Engine) UpdateTemplate(ctx context.Context, id string, t *models.ScheduleTemplate) error {
	existing, err := e.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if err := validateTemplate(t); err != nil {
		return err
	}
	if t.PropertyID != existing.PropertyID {
		return fmt.Errorf("template property cannot change: %w", apperr.ErrValidation)
	}
	t.ID = existing.ID
	t.CreatedAt = existing.CreatedAt
	return e.db.WithContext(ctx).Save(t).Error
}

// DeleteTemplate removes a template no rule refers to.
func (e *Engine) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := e.GetTemplate(ctx, id); err != nil {
		return err
	}
	var n int64
	if err := e.db.WithContext(ctx).Model(&models.ScheduleRule{}).Where("template_id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("template %s is used by %d rule(s): %w", id, n, apperr.ErrInvalidConfig)
	}
	return e.db.WithContext(ctx).Delete(&models.ScheduleTemplate{}, "id = ?", id).Error
}

func (e *Engine) GetTemplate(ctx context.Context, id string) (*models.ScheduleTemplate, error) {
	var t models.ScheduleTemplate
	if err := e.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (e *Engine) ListTemplates(ctx context.Context, propertyID string) ([]models.ScheduleTemplate, error) {
	q := e.db.WithContext(ctx)
	if propertyID != "" {
		q = q.Where("property_id = ?", propertyID)
	}
	var out []models.ScheduleTemplate
	err := q.Order("name asc").Find(&out).Error
	return out, err
}

func (e *Engine) validateRule(ctx context.Context, r *models.ScheduleRule) error {
	if r.PropertyID == "" || r.TemplateID == "" {
		return fmt.Errorf("property_id and template_id are required: %w", apperr.ErrValidation)
	}
	switch r.TriggerType {
	case models.TriggerOnBookingCreated:
	case models.TriggerDaysBeforeCheckin, models.TriggerOnCheckinDate, models.TriggerDaysAfterCheckin,
		models.TriggerOnCheckoutDate, models.TriggerDaysAfterCheckout:
		if _, _, err := ParseClock(r.TriggerTime); err != nil {
			return err
		}
	default:
		return fmt.Errorf("trigger type %q: %w", r.TriggerType, apperr.ErrValidation)
	}
	if r.OffsetDays < 0 {
		return fmt.Errorf("offset_days must not be negative: %w", apperr.ErrValidation)
	}
	if r.MinStayNights != nil && *r.MinStayNights < 1 {
		return fmt.Errorf("min_stay_nights must be at least 1: %w", apperr.ErrValidation)
	}
	switch r.PastDuePolicy {
	case "", models.PastDueSkip, models.PastDueSendNow:
	default:
		return fmt.Errorf("past_due_policy %q: %w", r.PastDuePolicy, apperr.ErrValidation)
	}

	tmpl, err := e.GetTemplate(ctx, r.TemplateID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("rule references missing template %s: %w", r.TemplateID, apperr.ErrInvalidConfig)
	}
	if err != nil {
		return err
	}
	if tmpl.PropertyID != r.PropertyID {
		return fmt.Errorf("template %s belongs to another property: %w", r.TemplateID, apperr.ErrInvalidConfig)
	}
	return nil
}

func (e *Engine) CreateRule(ctx context.Context, r *models.ScheduleRule) error {
	if err := e.validateRule(ctx, r); err != nil {
		return err
	}
	r.ID = ""
	return e.db.WithContext(ctx).Create(r).Error
}

// UpdateRule replaces a rule. Rows already materialized keep their send
// time until the booking changes again.
func (e *Engine) UpdateRule(ctx context.Context, id string, r *models.ScheduleRule) error {
	existing, err := e.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := e.validateRule(ctx, r); err != nil {
		return err
	}
	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	return e.db.WithContext(ctx).Save(r).Error
}

// DeleteRule removes a rule and cancels its pending messages. Sent and
// failed rows stay for the record.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if _, err := e.GetRule(ctx, id); err != nil {
		return err
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ScheduledMessage{}).
			Where("rule_id = ? AND status = ?", id, models.ScheduledPending).
			Updates(map[string]interface{}{"status": models.ScheduledCancelled, "error": "rule deleted"}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ScheduleRule{}, "id = ?", id).Error
	})
}

func (e *Engine) GetRule(ctx context.Context, id string) (*models.ScheduleRule, error) {
	var r models.ScheduleRule
	if err := e.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("rule %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

func (e *Engine) ListRules(ctx context.Context, propertyID string) ([]models.ScheduleRule, error) {
	q := e.db.WithContext(ctx)
	if propertyID != "" {
		q = q.Where("property_id = ?", propertyID)
	}
	var out []models.ScheduleRule
	err := q.Order("priority asc, created_at asc").Find(&out).Error
	return out, err
}
