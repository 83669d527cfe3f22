package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// relaySendRequest is the body of POST /api/v1/send on the relay MTA
type relaySendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Body    string            `json:"body,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type relaySendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type relayErrorResponse struct {
	Error string `json:"error"`
}

// RelaySender submits messages to an MTA over its HTTP API
type RelaySender struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRelaySender creates a relay sender
func NewRelaySender(baseURL, apiKey string, timeout time.Duration) *RelaySender {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RelaySender{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send implements Sender
func (c *RelaySender) Send(ctx context.Context, msg *Message) (*Result, error) {
	headers := map[string]string{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if msg.ReplyTo != "" {
		headers["Reply-To"] = msg.ReplyTo
	}
	if msg.ID != "" {
		headers["X-Delivery-ID"] = msg.ID
	}

	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	body := relaySendRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Body:    msg.Text,
		HTML:    msg.HTML,
		Headers: headers,
	}

	var resp relaySendResponse
	if err := c.request(ctx, http.MethodPost, "/api/v1/send", body, &resp); err != nil {
		return nil, err
	}
	return &Result{ProviderID: resp.ID}, nil
}

// request performs an HTTP request to the relay API
func (c *RelaySender) request(ctx context.Context, method, path string, body any, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return Permanentf("marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Permanentf("create request: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Temporaryf("relay: do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp relayErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			return statusError("relay", resp.StatusCode, errResp.Error)
		}
		return statusError("relay", resp.StatusCode, string(raw))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			// accepted but unreadable; retrying would send twice
			return Permanentf("relay: decode response: %v", err)
		}
	}

	return nil
}
