package models

import (
	"time"

	"gorm.io/gorm"
)

// Schedule trigger types.
const (
	TriggerOnBookingCreated  = "on_booking_created"
	TriggerDaysBeforeCheckin = "days_before_checkin"
	TriggerOnCheckinDate     = "on_checkin_date"
	TriggerDaysAfterCheckin  = "days_after_checkin"
	TriggerOnCheckoutDate    = "on_checkout_date"
	TriggerDaysAfterCheckout = "days_after_checkout"
)

// Past-due policies for rules whose computed send time already elapsed.
const (
	PastDueSkip    = "skip"
	PastDueSendNow = "send_now"
)

// ScheduledMessage statuses. Sending is the claim marker held by one sweep.
const (
	ScheduledPending   = "pending"
	ScheduledSending   = "sending"
	ScheduledSent      = "sent"
	ScheduledFailed    = "failed"
	ScheduledCancelled = "cancelled"
)

// ScheduleTemplate binds a channel-approved template to the booking
// variables it expects, in parameter order.
type ScheduleTemplate struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	PropertyID string    `gorm:"size:36;index;not null" json:"property_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	ContentRef string    `gorm:"size:255;not null" json:"content_ref"`
	Language   string    `gorm:"size:10;not null;default:'en_US'" json:"language"`
	Body       string    `gorm:"type:text" json:"body"`
	Variables  []string  `gorm:"type:text;serializer:json" json:"variables"`
	Active     bool      `gorm:"not null" json:"active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduleTemplate) TableName() string {
	return "schedule_templates"
}

func (t *ScheduleTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// ScheduleRule turns a booking milestone into a ScheduledMessage.
type ScheduleRule struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	PropertyID    string    `gorm:"size:36;index;not null" json:"property_id"`
	TemplateID    string    `gorm:"size:36;not null" json:"template_id"`
	Name          string    `gorm:"size:255" json:"name"`
	TriggerType   string    `gorm:"size:30;not null" json:"trigger_type"`
	OffsetDays    int       `json:"offset_days"`
	TriggerTime   string    `gorm:"size:5" json:"trigger_time"`
	MinStayNights *int      `json:"min_stay_nights,omitempty"`
	Priority      int       `gorm:"not null" json:"priority"`
	Active        bool      `gorm:"not null" json:"active"`
	PastDuePolicy string    `gorm:"size:10" json:"past_due_policy,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduleRule) TableName() string {
	return "schedule_rules"
}

func (r *ScheduleRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = newID()
	}
	return nil
}

// ScheduledMessage is one rule materialized for one booking. (BookingID,
// RuleID) is unique.
type ScheduledMessage struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	BookingID  string     `gorm:"size:64;not null;uniqueIndex:idx_scheduled_booking_rule" json:"booking_id"`
	RuleID     string     `gorm:"size:36;not null;uniqueIndex:idx_scheduled_booking_rule" json:"rule_id"`
	TemplateID string     `gorm:"size:36;not null" json:"template_id"`
	PropertyID string     `gorm:"size:36;index" json:"property_id"`
	Phone      string     `gorm:"size:32;not null" json:"phone"`
	SendAt     time.Time  `gorm:"index" json:"send_at"`
	Status     string     `gorm:"size:20;index;not null" json:"status"`
	Attempts   int        `json:"attempts"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	DeliveryID string     `gorm:"size:128" json:"delivery_id,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduledMessage) TableName() string {
	return "scheduled_messages"
}

func (m *ScheduledMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return nil
}
