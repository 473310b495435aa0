package models

import (
	"time"

	"gorm.io/gorm"
)

// Property is a rental unit and the knowledge the assistant may quote.
type Property struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id" yaml:"id"`
	Name         string    `gorm:"size:255;not null" json:"name" yaml:"name"`
	Address      string    `gorm:"type:text" json:"address" yaml:"address"`
	HostName     string    `gorm:"size:255" json:"host_name" yaml:"host_name"`
	HostPhone    string    `gorm:"size:32" json:"host_phone" yaml:"host_phone"`
	Timezone     string    `gorm:"size:64" json:"timezone" yaml:"timezone"`
	CheckInTime  string    `gorm:"size:10" json:"check_in_time" yaml:"check_in_time"`
	CheckOutTime string    `gorm:"size:10" json:"check_out_time" yaml:"check_out_time"`
	WifiName     string    `gorm:"size:255" json:"wifi_name" yaml:"wifi_name"`
	WifiPassword string    `gorm:"size:255" json:"wifi_password" yaml:"wifi_password"`
	HouseRules   string    `gorm:"type:text" json:"house_rules" yaml:"house_rules"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at" yaml:"-"`
}

func (Property) TableName() string {
	return "properties"
}

func (p *Property) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

// Location returns the property's time zone, or fallback when unset or unknown.
func (p *Property) Location(fallback *time.Location) *time.Location {
	if p == nil || p.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// FAQ is a host-maintained question/answer pair for a property.
type FAQ struct {
	ID         uint      `gorm:"primaryKey" json:"id" yaml:"-"`
	PropertyID string    `gorm:"size:36;index;not null" json:"property_id" yaml:"-"`
	Question   string    `gorm:"type:text;not null" json:"question" yaml:"question"`
	Answer     string    `gorm:"type:text;not null" json:"answer" yaml:"answer"`
	Tags       string    `gorm:"size:255" json:"tags" yaml:"tags"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at" yaml:"-"`
}

func (FAQ) TableName() string {
	return "faqs"
}

// Staff roles used for automatic task assignment.
const (
	RoleMaintenance = "maintenance"
	RoleCleaning    = "cleaning"
	RoleConcierge   = "concierge"
)

// Staff is a person who can be assigned tasks for a property.
type Staff struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id" yaml:"id"`
	PropertyID string    `gorm:"size:36;index" json:"property_id" yaml:"-"`
	Name       string    `gorm:"size:255;not null" json:"name" yaml:"name"`
	Phone      string    `gorm:"size:32" json:"phone" yaml:"phone"`
	Role       string    `gorm:"size:50;index" json:"role" yaml:"role"`
	Active     bool      `gorm:"not null" json:"active" yaml:"active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at" yaml:"-"`
}

func (Staff) TableName() string {
	return "staff"
}

func (s *Staff) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking mirrors a reservation from the property management system. CheckIn
// and CheckOut carry calendar dates at midnight UTC.
type Booking struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	PropertyID string    `gorm:"size:36;index;not null" json:"property_id"`
	GuestName  string    `gorm:"size:255" json:"guest_name"`
	GuestPhone string    `gorm:"size:32;index" json:"guest_phone"`
	CheckIn    time.Time `gorm:"not null" json:"check_in"`
	CheckOut   time.Time `gorm:"not null" json:"check_out"`
	NumGuests  int       `json:"num_guests"`
	Status     string    `gorm:"size:20;not null;default:'confirmed'" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

// Nights is the length of stay in nights.
func (b *Booking) Nights() int {
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}
