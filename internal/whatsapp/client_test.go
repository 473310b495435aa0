package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guest-concierge/internal/config"
	"guest-concierge/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{
		WhatsAppAPIBase:           srv.URL + "/",
		WhatsAppToken:             "secret",
		PhoneNumberID:             "12345",
		WhatsAppBusinessAccountID: "waba",
		TransportTimeout:          time.Second,
	})
}

func TestSendText(t *testing.T) {
	var got GenericMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messages":[{"id":"wamid.ABC"}]}`))
	})

	id, err := c.Send(context.Background(), transport.OutboundMessage{To: "15551234567", Body: "Checkout is at 11:00"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
	assert.Equal(t, "text", got.Type)
	require.NotNil(t, got.Text)
	assert.Equal(t, "Checkout is at 11:00", got.Text.Body)
}

func TestSendTemplateParameters(t *testing.T) {
	var got GenericMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messages":[{"id":"wamid.T"}]}`))
	})

	_, err := c.Send(context.Background(), transport.OutboundMessage{
		To:       "15551234567",
		Template: &transport.TemplateRef{Name: "checkin_reminder", Variables: []string{"Ana", "Sea View"}},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Template)
	assert.Equal(t, "checkin_reminder", got.Template.Name)
	assert.Equal(t, "en_US", got.Template.Language.Code)
	require.Len(t, got.Template.Components, 1)
	assert.Equal(t, "body", got.Template.Components[0].Type)
	assert.Equal(t, "Sea View", got.Template.Components[0].Parameters[1].Text)
}

func TestSendClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope","code":131026}}`))
			})
			_, err := c.Send(context.Background(), transport.OutboundMessage{To: "1", Body: "x"})
			require.Error(t, err)

			var se *transport.SendError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.retryable, transport.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestSendTimeoutIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c.timeout = 50 * time.Millisecond

	_, err := c.Send(context.Background(), transport.OutboundMessage{To: "1", Body: "x"})
	require.Error(t, err)
	assert.True(t, transport.IsRetryable(err))
}

func TestGetTemplates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/waba/message_templates", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"1","name":"checkin_reminder","language":"en_US","status":"APPROVED"}]}`))
	})

	templates, err := c.GetTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "APPROVED", templates[0].Status)
}
