package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guest-concierge/internal/config"
	"guest-concierge/internal/transport"
)

// Client talks to the WhatsApp Cloud API and implements transport.Gateway.
type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	wabaID        string
	timeout       time.Duration
	http          *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.WhatsAppAPIBase, "/"),
		token:         cfg.WhatsAppToken,
		phoneNumberID: cfg.PhoneNumberID,
		wabaID:        cfg.WhatsAppBusinessAccountID,
		timeout:       cfg.TransportTimeout,
		http:          &http.Client{},
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	Text             *TextObj     `json:"text,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures and deadlines may succeed on a later attempt.
		return nil, &transport.SendError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transport.SendError{StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	if resp.StatusCode >= 400 {
		return respBody, &transport.SendError{
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        errors.New(errorMessage(resp.Status, respBody)),
		}
	}
	return respBody, nil
}

func errorMessage(status string, body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Sprintf("%s: %s (code %d)", status, apiErr.Error.Message, apiErr.Error.Code)
	}
	return fmt.Sprintf("%s: %s", status, string(body))
}

// --- Messaging Methods ---

// Send delivers a text or template message and returns the WhatsApp message id.
func (c *Client) Send(ctx context.Context, out transport.OutboundMessage) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               out.To,
	}
	if out.Template != nil {
		msg.Type = "template"
		msg.Template = buildTemplate(out.Template)
	} else {
		msg.Type = "text"
		msg.Text = &TextObj{Body: out.Body}
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	respBody, err := c.sendRequest(ctx, http.MethodPost, endpoint, msg)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Messages) == 0 {
		return "", &transport.SendError{Err: fmt.Errorf("unexpected send response: %s", string(respBody))}
	}
	return parsed.Messages[0].ID, nil
}

func buildTemplate(ref *transport.TemplateRef) *TemplateObj {
	lang := ref.Language
	if lang == "" {
		lang = "en_US"
	}
	tpl := &TemplateObj{Name: ref.Name, Language: LanguageObj{Code: lang}}
	if len(ref.Variables) > 0 {
		params := make([]ParameterObj, 0, len(ref.Variables))
		for _, v := range ref.Variables {
			params = append(params, ParameterObj{Type: "text", Text: v})
		}
		tpl.Components = []ComponentObj{{Type: "body", Parameters: params}}
	}
	return tpl
}

// --- Template Management Methods ---

// ApprovedTemplate is the subset of a message template the scheduler cares about.
type ApprovedTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// GetTemplates lists the message templates registered on the business account.
func (c *Client) GetTemplates(ctx context.Context) ([]ApprovedTemplate, error) {
	endpoint := fmt.Sprintf("%s/%s/message_templates?fields=id,name,language,status,category&limit=200",
		c.baseURL, url.PathEscape(c.wabaID))
	resp, err := c.sendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []ApprovedTemplate `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}
