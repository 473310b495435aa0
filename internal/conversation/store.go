// Package conversation keeps the per-guest message log and is the only path
// for guest-facing sends.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/models"
	"guest-concierge/internal/ws"

	"gorm.io/gorm"
)

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type Store struct {
	db  *gorm.DB
	pub audit.Publisher
	now func() time.Time
	log *slog.Logger
}

func NewStore(db *gorm.DB, pub audit.Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, pub: pub, now: time.Now, log: logger}
}

func (s *Store) publish(eventType string, data interface{}) {
	if s.pub != nil {
		s.pub.Publish(eventType, data)
	}
}

func (s *Store) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// ActiveBookingForPhone returns the booking a guest with this phone is
// currently staying in or about to start, if any.
func (s *Store) ActiveBookingForPhone(ctx context.Context, phone string) (*models.Booking, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	var b models.Booking
	err := s.db.WithContext(ctx).
		Where("guest_phone = ? AND status <> ? AND check_out >= ?", phone, models.BookingCancelled, today.AddDate(0, 0, -1)).
		Order("check_in asc").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ResolveInbound finds or creates the conversation an inbound message from
// phone belongs to. A matching active booking is preferred; a phone-keyed
// conversation found alongside it is re-linked to the booking.
func (s *Store) ResolveInbound(ctx context.Context, phone, name string) (*models.Conversation, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("empty sender phone: %w", apperr.ErrValidation)
	}

	booking, err := s.ActiveBookingForPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if booking != nil {
		return s.EnsureForBooking(ctx, booking, name)
	}

	var conv models.Conversation
	err = s.db.WithContext(ctx).
		Where("phone = ? AND booking_id IS NULL AND status = ?", phone, models.ConversationActive).
		Order("last_activity_at desc").
		First(&conv).Error
	if err == nil {
		if name != "" && conv.GuestName == "" {
			if err := s.db.WithContext(ctx).Model(&conv).Update("guest_name", name).Error; err != nil {
				s.log.Warn("record guest name", "conversation_id", conv.ID, "error", err)
			} else {
				conv.GuestName = name
			}
		}
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = models.Conversation{
		Phone:          phone,
		GuestName:      name,
		AutoResponse:   true,
		LastActivityAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// EnsureForBooking returns the booking's conversation, linking an existing
// phone-keyed conversation or creating a new one when needed.
func (s *Store) EnsureForBooking(ctx context.Context, booking *models.Booking, name string) (*models.Conversation, error) {
	if name == "" {
		name = booking.GuestName
	}
	var conv models.Conversation
	err := s.db.WithContext(ctx).Where("booking_id = ?", booking.ID).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	phone := NormalizePhone(booking.GuestPhone)
	var phoneConv models.Conversation
	err = s.db.WithContext(ctx).
		Where("phone = ? AND booking_id IS NULL AND status = ?", phone, models.ConversationActive).
		Order("last_activity_at desc").
		First(&phoneConv).Error
	if err == nil {
		return s.LinkToBooking(ctx, phoneConv.ID, booking.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	bookingID := booking.ID
	conv = models.Conversation{
		BookingID:      &bookingID,
		Phone:          phone,
		GuestName:      name,
		PropertyID:     booking.PropertyID,
		AutoResponse:   true,
		LastActivityAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// LinkToBooking attaches conversation id to a booking. When the booking
// already has a conversation the history is moved there and the source is
// marked merged; the returned conversation is the surviving one.
func (s *Store) LinkToBooking(ctx context.Context, id, bookingID string) (*models.Conversation, error) {
	var result models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src models.Conversation
		if err := tx.First(&src, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
			}
			return err
		}
		if src.Status != models.ConversationActive {
			return fmt.Errorf("conversation %s is %s: %w", id, src.Status, apperr.ErrInvalidTransition)
		}
		if src.BookingID != nil {
			if *src.BookingID == bookingID {
				result = src
				return nil
			}
			return fmt.Errorf("conversation %s already linked to booking %s: %w", id, *src.BookingID, apperr.ErrInvalidTransition)
		}

		var booking models.Booking
		if err := tx.First(&booking, "id = ?", bookingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("booking %s: %w", bookingID, apperr.ErrNotFound)
			}
			return err
		}

		var target models.Conversation
		err := tx.Where("booking_id = ?", bookingID).First(&target).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			src.BookingID = &booking.ID
			src.PropertyID = booking.PropertyID
			if src.GuestName == "" {
				src.GuestName = booking.GuestName
			}
			if err := tx.Model(&src).Updates(map[string]interface{}{
				"booking_id":  booking.ID,
				"property_id": booking.PropertyID,
				"guest_name":  src.GuestName,
			}).Error; err != nil {
				return err
			}
			result = src
			return nil
		case err != nil:
			return err
		}

		if err := tx.Model(&models.Message{}).Where("conversation_id = ?", src.ID).
			Update("conversation_id", target.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&src).Updates(map[string]interface{}{
			"status":      models.ConversationMerged,
			"merged_into": target.ID,
		}).Error; err != nil {
			return err
		}
		// A host takeover on either side survives the merge.
		updates := map[string]interface{}{"auto_response": target.AutoResponse && src.AutoResponse}
		if src.LastActivityAt.After(target.LastActivityAt) {
			updates["last_activity_at"] = src.LastActivityAt
		}
		if err := tx.Model(&target).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&result, "id = ?", target.ID).Error
	})
	if err != nil {
		return nil, err
	}
	s.publish(ws.EventConversation, result)
	return &result, nil
}

// SetAutoResponse switches AI replies on or off for a conversation.
func (s *Store) SetAutoResponse(ctx context.Context, id string, enabled bool) (*models.Conversation, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Update("auto_response", enabled)
	if res.Error != nil {
		return nil, res.Error
	}
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ws.EventConversation, conv)
	return conv, nil
}

// Append adds a message to the log and bumps the conversation's activity time.
func (s *Store) Append(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", msg.ConversationID).
			Update("last_activity_at", msg.CreatedAt).Error
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	s.publish(ws.EventNewMessage, msg)
	return nil
}

// SetProcessingStatus updates the processing marker of an inbound message.
func (s *Store) SetProcessingStatus(ctx context.Context, messageID, status string) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", messageID).
		Update("processing_status", status).Error
}

// QueuedInbound returns inbound messages not yet processed, oldest first.
func (s *Store) QueuedInbound(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("direction = ? AND processing_status = ?", models.DirectionInbound, models.ProcessingQueued).
		Order("created_at asc").
		Find(&msgs).Error
	return msgs, err
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

// HasExternalID reports whether an inbound message with this channel id was
// already stored. Webhook retries are dropped on it.
func (s *Store) HasExternalID(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).Where("external_id = ?", externalID).Count(&n).Error
	return n > 0, err
}

// Recent returns the last n messages of a conversation in chronological order.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

type Filter struct {
	Query      string
	PropertyID string
	Limit      int
}

// List returns active conversations, most recently active first.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Where("status = ?", models.ConversationActive)
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		if digits := NormalizePhone(f.Query); digits != "" {
			q = q.Where("LOWER(guest_name) LIKE ? OR phone LIKE ? OR LOWER(COALESCE(booking_id, '')) LIKE ?",
				like, "%"+digits+"%", like)
		} else {
			q = q.Where("LOWER(guest_name) LIKE ? OR LOWER(COALESCE(booking_id, '')) LIKE ?", like, like)
		}
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var convs []models.Conversation
	err := q.Order("last_activity_at desc").Limit(f.Limit).Find(&convs).Error
	return convs, err
}

type History struct {
	Conversations []models.Conversation `json:"conversations"`
	Messages      []models.Message      `json:"messages"`
}

// History returns the message log for a booking, or for every conversation
// with the phone when no booking is given.
func (s *Store) History(ctx context.Context, bookingID, phone string) (*History, error) {
	var convs []models.Conversation
	q := s.db.WithContext(ctx)
	switch {
	case bookingID != "":
		q = q.Where("booking_id = ?", bookingID)
	case phone != "":
		q = q.Where("phone = ?", NormalizePhone(phone))
	default:
		return nil, fmt.Errorf("booking_id or phone required: %w", apperr.ErrValidation)
	}
	if err := q.Order("created_at asc").Find(&convs).Error; err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("conversation history: %w", apperr.ErrNotFound)
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("conversation_id IN ?", ids).
		Order("created_at asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return &History{Conversations: convs, Messages: msgs}, nil
}

// Booking returns the booking a conversation is threaded on, or nil for
// phone-keyed conversations.
func (s *Store) Booking(ctx context.Context, conv *models.Conversation) (*models.Booking, error) {
	if conv.BookingID == nil {
		return nil, nil
	}
	var b models.Booking
	err := s.db.WithContext(ctx).First(&b, "id = ?", *conv.BookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
