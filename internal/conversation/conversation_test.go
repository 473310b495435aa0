package conversation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/database/dbtest"
	"guest-concierge/internal/models"
	"guest-concierge/internal/transport"
	"guest-concierge/internal/transport/transporttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	store *Store
	gw    *transporttest.Gateway
	disp  *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	store := NewStore(db, nil, nil)
	store.now = func() time.Time { return testNow }
	gw := transporttest.New()
	return &fixture{
		db:    db,
		store: store,
		gw:    gw,
		disp:  NewDispatcher(store, gw, audit.NewRecorder(db, nil, nil), nil),
	}
}

func (f *fixture) booking(t *testing.T, id, phone string) *models.Booking {
	t.Helper()
	b := &models.Booking{
		ID:         id,
		PropertyID: "sea-view",
		GuestName:  "Ana",
		GuestPhone: phone,
		CheckIn:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Status:     models.BookingConfirmed,
	}
	require.NoError(t, f.db.Create(b).Error)
	return b
}

func (f *fixture) inbound(t *testing.T, convID, body string) {
	t.Helper()
	require.NoError(t, f.store.Append(context.Background(), &models.Message{
		ConversationID: convID, Direction: models.DirectionInbound, SenderKind: models.SenderGuest, Body: body,
	}))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "15551234567", NormalizePhone("+1 (555) 123-4567"))
	assert.Equal(t, "", NormalizePhone("n/a"))
}

func TestResolveInboundPhoneFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1, err := f.store.ResolveInbound(ctx, "+1 555 000 1111", "Ana")
	require.NoError(t, err)
	assert.Nil(t, c1.BookingID)
	assert.True(t, c1.AutoResponse)
	assert.Equal(t, "15550001111", c1.Phone)

	c2, err := f.store.ResolveInbound(ctx, "15550001111", "")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	_, err = f.store.ResolveInbound(ctx, "???", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestResolveInboundGuestNameUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var logs bytes.Buffer
	f.store.log = slog.New(slog.NewTextHandler(&logs, nil))

	conv, err := f.store.ResolveInbound(ctx, "15550001111", "")
	require.NoError(t, err)
	assert.Empty(t, conv.GuestName)

	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_guest_name", func(tx *gorm.DB) {
		if m, ok := tx.Statement.Dest.(map[string]interface{}); ok {
			if _, ok := m["guest_name"]; ok {
				_ = tx.AddError(errors.New("disk full"))
			}
		}
	}))
	conv, err = f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	assert.Empty(t, conv.GuestName)
	assert.Contains(t, logs.String(), "record guest name")
	assert.Contains(t, logs.String(), "disk full")

	require.NoError(t, f.db.Callback().Update().Remove("test:fail_guest_name"))
	conv, err = f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", conv.GuestName)
}

func TestResolveInboundRelinksToBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	phoneConv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	f.inbound(t, phoneConv.ID, "hello before booking")

	f.booking(t, "bk-1", "15550001111")

	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	assert.Equal(t, phoneConv.ID, conv.ID, "phone conversation is linked in place")
	require.NotNil(t, conv.BookingID)
	assert.Equal(t, "bk-1", *conv.BookingID)
	assert.Equal(t, "sea-view", conv.PropertyID)

	hist, err := f.store.History(ctx, "bk-1", "")
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "hello before booking", hist.Messages[0].Body)
}

func TestLinkToBookingMergesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.booking(t, "bk-1", "15550001111")
	bookingConv, err := f.store.EnsureForBooking(ctx, b, "")
	require.NoError(t, err)
	f.inbound(t, bookingConv.ID, "from booking phone")

	// Guest writes from a second number.
	other, err := f.store.ResolveInbound(ctx, "15559999999", "Ana (work)")
	require.NoError(t, err)
	f.inbound(t, other.ID, "from work phone")
	_, err = f.store.SetAutoResponse(ctx, other.ID, false)
	require.NoError(t, err)

	merged, err := f.store.LinkToBooking(ctx, other.ID, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, bookingConv.ID, merged.ID)
	assert.False(t, merged.AutoResponse, "host takeover survives the merge")

	src, err := f.store.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationMerged, src.Status)
	require.NotNil(t, src.MergedInto)
	assert.Equal(t, bookingConv.ID, *src.MergedInto)

	msgs, err := f.store.Recent(ctx, bookingConv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = f.store.LinkToBooking(ctx, other.ID, "bk-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = f.store.LinkToBooking(ctx, bookingConv.ID, "bk-404")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestLinkToUnknownBooking(t *testing.T) {
	f := newFixture(t)
	conv, err := f.store.ResolveInbound(context.Background(), "15550001111", "")
	require.NoError(t, err)

	_, err = f.store.LinkToBooking(context.Background(), conv.ID, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAIReplySentWhenAutoResponseOn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)

	msg, err := f.disp.SendGuestReply(ctx, conv.ID, "Checkout is at 11:00", ReplyOptions{
		Sender: models.SenderAIAssistant, TaskIDs: []string{"t1", "t2"}, TaskAction: models.TaskActionCreated,
		EscalationIDs: []string{"esc-1", "esc-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", msg.DeliveryID)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, stored.TaskIDs)
	assert.Equal(t, models.SenderAIAssistant, stored.SenderKind)
	require.NotNil(t, stored.EscalationID)
	assert.Equal(t, "esc-1", *stored.EscalationID)
	assert.Equal(t, []string{"esc-1", "esc-2"}, stored.EscalationIDs)
	assert.Len(t, f.gw.To("15550001111"), 1)
}

func TestAIReplySuppressedWhenAutoResponseOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	_, err = f.store.SetAutoResponse(ctx, conv.ID, false)
	require.NoError(t, err)

	_, err = f.disp.SendGuestReply(ctx, conv.ID, "AI draft", ReplyOptions{Sender: models.SenderAIAssistant})
	assert.ErrorIs(t, err, ErrReplySuppressed)
	assert.Empty(t, f.gw.Messages())

	msgs, err := f.store.Recent(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	var logs []models.AuditLog
	require.NoError(t, f.db.Where("kind = ?", models.AuditReplySuppressed).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "AI draft", logs[0].Detail)
}

func TestHostSendDisablesAutoResponseIdempotently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.disp.SendGuestReply(ctx, conv.ID, "Hi, host here", ReplyOptions{Sender: models.SenderHost})
		require.NoError(t, err)
		got, err := f.store.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.False(t, got.AutoResponse)
	}
	assert.Len(t, f.gw.Messages(), 2)
}

// gatedGateway holds the first send until release is closed.
type gatedGateway struct {
	*transporttest.Gateway
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGateway) Send(ctx context.Context, msg transport.OutboundMessage) (string, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Gateway.Send(ctx, msg)
}

func TestHostSendWaitsForInFlightAIReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)

	gate := &gatedGateway{Gateway: transporttest.New(), entered: make(chan struct{}), release: make(chan struct{})}
	disp := NewDispatcher(f.store, gate, audit.NewRecorder(f.db, nil, nil), nil)

	type result struct {
		msg *models.Message
		err error
	}
	aiDone := make(chan result, 1)
	go func() {
		msg, err := disp.SendGuestReply(ctx, conv.ID, "Checkout is at 11:00", ReplyOptions{Sender: models.SenderAIAssistant})
		aiDone <- result{msg, err}
	}()
	<-gate.entered

	hostDone := make(chan result, 1)
	go func() {
		msg, err := disp.SendGuestReply(ctx, conv.ID, "Hi, host here", ReplyOptions{Sender: models.SenderHost})
		hostDone <- result{msg, err}
	}()

	select {
	case <-hostDone:
		t.Fatal("host reply overtook the AI reply in flight")
	case <-time.After(100 * time.Millisecond):
	}
	got, err := f.store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.AutoResponse)

	close(gate.release)
	ai := <-aiDone
	require.NoError(t, ai.err)
	host := <-hostDone
	require.NoError(t, host.err)

	sent := gate.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "Checkout is at 11:00", sent[0].Body)
	assert.Equal(t, "Hi, host here", sent[1].Body)

	// With the host in charge, the next AI draft is suppressed.
	_, err = disp.SendGuestReply(ctx, conv.ID, "Anything else?", ReplyOptions{Sender: models.SenderAIAssistant})
	assert.ErrorIs(t, err, ErrReplySuppressed)
}

func TestTemplateSendIgnoresAutoResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	_, err = f.store.SetAutoResponse(ctx, conv.ID, false)
	require.NoError(t, err)

	msg, err := f.disp.SendTemplate(ctx, conv.ID, transport.TemplateRef{Name: "checkin_reminder"}, "See you tomorrow")
	require.NoError(t, err)
	assert.Equal(t, models.SenderSystem, msg.SenderKind)

	got, err := f.store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.AutoResponse, "template sends do not touch the flag")
}

func TestSendFailureAppendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana")
	require.NoError(t, err)
	f.gw.SetErr(&transport.SendError{StatusCode: 503, Retryable: true, Err: errors.New("unavailable")})

	_, err = f.disp.SendGuestReply(ctx, conv.ID, "hello", ReplyOptions{})
	require.Error(t, err)
	assert.True(t, transport.IsRetryable(err))

	msgs, err := f.store.Recent(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	var n int64
	f.db.Model(&models.AuditLog{}).Where("kind = ? AND success = ?", models.AuditSendFailed, false).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestListAndHistoryByPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.ResolveInbound(ctx, "15550001111", "Ana Silva")
	require.NoError(t, err)
	f.inbound(t, conv.ID, "hi")
	_, err = f.store.ResolveInbound(ctx, "15550002222", "Bruno")
	require.NoError(t, err)

	found, err := f.store.List(ctx, Filter{Query: "silva"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, conv.ID, found[0].ID)

	hist, err := f.store.History(ctx, "", "+1 555 000 1111")
	require.NoError(t, err)
	assert.Len(t, hist.Messages, 1)

	_, err = f.store.History(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
