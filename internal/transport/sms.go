package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// SMSSender delivers text messages
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (*Result, error)
}

// NormalizePhone parses raw in the context of region and returns E.164
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", Permanentf("invalid phone number %q: %v", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", Permanentf("invalid phone number %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// TwilioSender sends SMS through a Twilio-compatible REST API
type TwilioSender struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	region     string
	httpClient *http.Client
}

// NewTwilioSender creates an SMS sender. region is the default region for
// numbers without a country code.
func NewTwilioSender(baseURL, accountSID, authToken, from, region string) *TwilioSender {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	if region == "" {
		region = "US"
	}
	return &TwilioSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		region:     region,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendSMS implements SMSSender
func (t *TwilioSender) SendSMS(ctx context.Context, to, body string) (*Result, error) {
	e164, err := NormalizePhone(to, t.region)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("To", e164)
	form.Set("From", t.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, Permanentf("create request: %v", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, Temporaryf("sms: do request: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 300 {
		return nil, statusError("sms", resp.StatusCode, string(raw))
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, Permanentf("sms: decode response: %v", err)
	}
	return &Result{ProviderID: out.SID}, nil
}
