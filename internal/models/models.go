package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Direction of a message relative to the host.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderGuest       SenderKind = "guest"
	SenderHost        SenderKind = "host"
	SenderAIAssistant SenderKind = "ai_assistant"
	SenderStaff       SenderKind = "staff"
	// SenderSystem marks scheduled template sends.
	SenderSystem SenderKind = "system"
)

// Inbound processing markers.
const (
	ProcessingQueued    = "queued"
	ProcessingProcessed = "processed"
	ProcessingFailed    = "failed"
)

// Task actions recorded on outbound messages.
const (
	TaskActionCreated = "created"
	TaskActionUpdated = "updated"
)

const (
	ConversationActive = "active"
	ConversationMerged = "merged"
)

func newID() string {
	return uuid.NewString()
}

// Conversation is the thread between the host and one guest. It is keyed by
// booking when known and by normalized phone otherwise.
type Conversation struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	BookingID      *string   `gorm:"size:64;uniqueIndex" json:"booking_id,omitempty"`
	Phone          string    `gorm:"size:32;index;not null" json:"phone"`
	GuestName      string    `gorm:"size:255" json:"guest_name"`
	PropertyID     string    `gorm:"size:36;index" json:"property_id"`
	AutoResponse   bool      `gorm:"not null" json:"auto_response"`
	Status         string    `gorm:"size:20;not null;default:'active'" json:"status"`
	MergedInto     *string   `gorm:"size:36" json:"merged_into,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = ConversationActive
	}
	return nil
}

// Message is one entry of the append-only conversation log.
type Message struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	ConversationID   string     `gorm:"size:36;index;not null" json:"conversation_id"`
	Direction        string     `gorm:"size:10;not null" json:"direction"`
	SenderKind       SenderKind `gorm:"size:20;not null" json:"sender_kind"`
	Body             string     `gorm:"type:text" json:"body"`
	ExternalID       string     `gorm:"size:128;index" json:"external_id,omitempty"`
	DeliveryID       string     `gorm:"size:128" json:"delivery_id,omitempty"`
	TaskIDs          []string   `gorm:"type:text;serializer:json" json:"task_ids,omitempty"`
	TaskAction       string     `gorm:"size:10" json:"task_action,omitempty"`
	EscalationID     *string    `gorm:"size:36" json:"escalation_id,omitempty"`
	EscalationIDs    []string   `gorm:"type:text;serializer:json" json:"escalation_ids,omitempty"`
	ProcessingStatus string     `gorm:"size:20;index" json:"processing_status,omitempty"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return nil
}

// Audit kinds.
const (
	AuditReplySuppressed   = "reply_suppressed"
	AuditSendFailed        = "send_failed"
	AuditCompletionFailed  = "completion_failed"
	AuditSideEffectFailed  = "side_effect_failed"
	AuditStaffNotifyFailed = "staff_notify_failed"
	AuditHostNotifyFailed  = "host_notify_failed"
	AuditProcessingFailed  = "processing_failed"
)

// AuditLog records operational outcomes the host must be able to see.
type AuditLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Kind           string    `gorm:"size:50;index;not null" json:"kind"`
	ConversationID string    `gorm:"size:36;index" json:"conversation_id,omitempty"`
	Subject        string    `gorm:"size:100" json:"subject,omitempty"`
	Success        bool      `json:"success"`
	Detail         string    `gorm:"type:text" json:"detail"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// All lists every model for migration and data copy.
func All() []interface{} {
	return []interface{}{
		&Property{},
		&FAQ{},
		&Staff{},
		&Booking{},
		&Conversation{},
		&Message{},
		&Task{},
		&Escalation{},
		&ScheduleTemplate{},
		&ScheduleRule{},
		&ScheduledMessage{},
		&AuditLog{},
	}
}
