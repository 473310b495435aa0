package models

// WebhookPayload is the envelope the WhatsApp Cloud API posts for inbound
// messages and delivery statuses.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value WebhookValue `json:"value"`
	Field string       `json:"field"`
}

type WebhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []WebhookContact `json:"contacts,omitempty"`
	Messages []InboundMessage `json:"messages,omitempty"`
	Statuses []DeliveryStatus `json:"statuses,omitempty"`
}

// WebhookContact carries the sender's profile name.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image  *MediaMessage `json:"image,omitempty"`
	Video  *MediaMessage `json:"video,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
}

// MediaMessage is an attachment reference; only the caption is used.
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// DeliveryStatus reports sent/delivered/read/failed for an outbound message.
type DeliveryStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// GuestText returns the text a guest typed for message types the concierge
// handles, and false for everything else.
func (m InboundMessage) GuestText() (string, bool) {
	switch m.Type {
	case "text":
		return m.Text.Body, m.Text.Body != ""
	case "button":
		if m.Button != nil && m.Button.Text != "" {
			return m.Button.Text, true
		}
	case "image":
		if m.Image != nil && m.Image.Caption != "" {
			return m.Image.Caption, true
		}
	case "video":
		if m.Video != nil && m.Video.Caption != "" {
			return m.Video.Caption, true
		}
	}
	return "", false
}
