package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxErrorBody = 2048

type WebhookClient struct {
	url    string
	client *http.Client
}

func NewWebhookClient(url string) *WebhookClient {
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *WebhookClient) URL() string {
	return c.url
}

// StatusError is returned for any non-2xx webhook response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook failed with status %d: %s", e.StatusCode, e.Body)
}

// RelayRequest is the body the message-send workflow expects.
type RelayRequest struct {
	ChatID           string    `json:"chat_id"`
	Message          string    `json:"message"`
	ElderlyProfileID uuid.UUID `json:"elderly_profile_id"`
	MessageType      string    `json:"message_type,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
}

type Receipt struct {
	// RemoteMessageID is empty when the workflow did not report one.
	RemoteMessageID string
}

type relayResponse struct {
	MessageID         FlexibleID `json:"message_id"`
	TelegramMessageID FlexibleID `json:"telegram_message_id"`
}

// FlexibleID is an identifier that may arrive as a JSON string or number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexibleID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexibleID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexibleID(n.String())
	return nil
}

// Relay posts a message to the send workflow. Any 2xx counts as delivered; the body is
// only inspected for a message id.
func (c *WebhookClient) Relay(ctx context.Context, r RelayRequest) (Receipt, error) {
	body, err := c.do(ctx, r)
	if err != nil {
		return Receipt{}, err
	}

	var rr relayResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return Receipt{}, nil
	}
	id := string(rr.MessageID)
	if id == "" {
		id = string(rr.TelegramMessageID)
	}
	return Receipt{RemoteMessageID: id}, nil
}

// Post forwards payload as JSON and returns the response body. A 2xx body that is not
// JSON is reported as {"success":true}.
func (c *WebhookClient) Post(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := c.do(ctx, payload)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) || len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage(`{"success":true}`), nil
	}
	return json.RawMessage(body), nil
}

func (c *WebhookClient) do(ctx context.Context, payload any) ([]byte, error) {
	var reqBody []byte
	switch p := payload.(type) {
	case json.RawMessage:
		reqBody = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = b
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: text}
	}
	return body, nil
}
