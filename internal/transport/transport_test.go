package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage() *Message {
	return &Message{
		ID:       "dlv-1",
		From:     "studio@example.com",
		FromName: "Lumen Studio",
		ReplyTo:  "hello@example.com",
		To:       "jane@example.org",
		ToName:   "Jane Doe",
		Subject:  "Your engagement session",
		HTML:     "<p>Hi Jane</p>",
		Text:     "Hi Jane",
		Tags:     map[string]string{"delivery_id": "dlv-1"},
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"temporary", Temporaryf("try later"), true},
		{"permanent", Permanentf("no such user"), false},
		{"wrapped permanent", errors.Join(errors.New("ctx"), Permanentf("x")), false},
		{"unknown", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		msg       string
		temporary bool
	}{
		{"550 5.1.1 user unknown", false},
		{"421 service not available", true},
		{"connection reset by peer", true},
		{"port 5500 refused", true},
	}
	for _, tt := range tests {
		de := categorizeError(errors.New(tt.msg), "RCPT")
		if de.Temporary != tt.temporary {
			t.Errorf("categorizeError(%q).Temporary = %v, want %v", tt.msg, de.Temporary, tt.temporary)
		}
		if !strings.HasPrefix(de.Message, "RCPT failed") {
			t.Errorf("unexpected message %q", de.Message)
		}
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code      int
		temporary bool
	}{
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		if got := IsTemporary(statusError("p", tt.code, "body")); got != tt.temporary {
			t.Errorf("statusError(%d) temporary = %v, want %v", tt.code, got, tt.temporary)
		}
	}
}

func TestBuildMIME(t *testing.T) {
	msg := testMessage()
	msg.Headers = map[string]string{"list-unsubscribe": "<https://example.com/u/1>"}

	data, err := BuildMIME(msg, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildMIME() error = %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"From: \"Lumen Studio\" <studio@example.com>\r\n",
		"To: \"Jane Doe\" <jane@example.org>\r\n",
		"Reply-To: hello@example.com\r\n",
		"Subject: Your engagement session\r\n",
		"List-Unsubscribe: <https://example.com/u/1>\r\n",
		"@example.com>\r\n",
		"multipart/alternative",
		"text/plain; charset=utf-8",
		"text/html; charset=utf-8",
		"Hi Jane",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestBuildMIMETextOnly(t *testing.T) {
	msg := testMessage()
	msg.HTML = ""

	data, err := BuildMIME(msg, time.Now())
	if err != nil {
		t.Fatalf("BuildMIME() error = %v", err)
	}
	if strings.Contains(string(data), "text/html") {
		t.Error("expected no html part")
	}
}

func TestRelaySender(t *testing.T) {
	var got relaySendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(relaySendResponse{ID: "q-77", Status: "queued"})
	}))
	defer server.Close()

	sender := NewRelaySender(server.URL, "secret", time.Second)
	res, err := sender.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderID != "q-77" {
		t.Errorf("ProviderID = %q, want q-77", res.ProviderID)
	}
	if got.From != "Lumen Studio <studio@example.com>" {
		t.Errorf("From = %q", got.From)
	}
	if got.Headers["X-Delivery-ID"] != "dlv-1" {
		t.Errorf("X-Delivery-ID header = %q", got.Headers["X-Delivery-ID"])
	}
	if got.Headers["Reply-To"] != "hello@example.com" {
		t.Errorf("Reply-To header = %q", got.Headers["Reply-To"])
	}
}

func TestRelaySenderErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"rejected", http.StatusBadRequest, false},
		{"overloaded", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(relayErrorResponse{Error: "nope"})
			}))
			defer server.Close()

			_, err := NewRelaySender(server.URL, "k", time.Second).Send(context.Background(), testMessage())
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTemporary(err) != tt.temporary {
				t.Errorf("IsTemporary = %v, want %v (%v)", IsTemporary(err), tt.temporary, err)
			}
		})
	}
}

func TestSendGridSender(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sg-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("X-Message-Id", "sg-abc")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSendGridSender("sg-key", server.URL, testLogger())
	res, err := sender.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderID != "sg-abc" {
		t.Errorf("ProviderID = %q, want sg-abc", res.ProviderID)
	}

	pers, ok := body["personalizations"].([]any)
	if !ok || len(pers) != 1 {
		t.Fatalf("unexpected personalizations: %v", body["personalizations"])
	}
	args, _ := pers[0].(map[string]any)["custom_args"].(map[string]any)
	if args["delivery_id"] != "dlv-1" {
		t.Errorf("custom_args = %v", args)
	}
}

func TestSendGridSenderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"errors":[{"message":"invalid email"}]}`)
	}))
	defer server.Close()

	_, err := NewSendGridSender("k", server.URL, testLogger()).Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTemporary(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		region  string
		want    string
		wantErr bool
	}{
		{"(650) 253-0000", "US", "+16502530000", false},
		{"+1 650 253 0000", "GB", "+16502530000", false},
		{"12", "US", "", true},
		{"not a number", "US", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.raw, tt.region)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizePhone(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err != nil && IsTemporary(err) {
			t.Errorf("NormalizePhone(%q) error should be permanent", tt.raw)
		}
		if got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestTwilioSender(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "token" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM123","status":"queued"}`)
	}))
	defer server.Close()

	sender := NewTwilioSender(server.URL, "AC1", "token", "+15005550006", "US")
	res, err := sender.SendSMS(context.Background(), "(650) 253-0000", "See you Saturday!")
	if err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}
	if res.ProviderID != "SM123" {
		t.Errorf("ProviderID = %q, want SM123", res.ProviderID)
	}
	if form.Get("To") != "+16502530000" {
		t.Errorf("To = %q", form.Get("To"))
	}
	if form.Get("Body") != "See you Saturday!" {
		t.Errorf("Body = %q", form.Get("Body"))
	}
}

func TestTwilioSenderInvalidNumber(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	_, err := NewTwilioSender(server.URL, "AC1", "token", "+1", "US").SendSMS(context.Background(), "abc", "hi")
	if err == nil || IsTemporary(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("provider should not be called for an invalid number")
	}
}

func TestSandbox(t *testing.T) {
	store, err := OpenSandboxStore(filepath.Join(t.TempDir(), "sandbox.db"))
	if err != nil {
		t.Fatalf("OpenSandboxStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sender := NewSandboxSender(store, testLogger())

	res, err := sender.Send(ctx, testMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.HasPrefix(res.ProviderID, "sandbox-") {
		t.Errorf("ProviderID = %q", res.ProviderID)
	}
	if _, err := sender.SendSMS(ctx, "+16502530000", "hello"); err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}

	msgs, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 captured messages, got %d", len(msgs))
	}
	if msgs[0].Channel != "sms" || msgs[1].MessageID != "dlv-1" {
		t.Errorf("unexpected order: %+v %+v", msgs[0], msgs[1])
	}

	old := &Captured{ID: "old", To: "x@example.com", Channel: "email", CapturedAt: time.Now().Add(-48 * time.Hour)}
	if err := store.Save(ctx, old); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	removed, err := store.Clear(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Clear() removed %d, want 1", removed)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

type countingSender struct {
	calls int32
}

func (c *countingSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	atomic.AddInt32(&c.calls, 1)
	return &Result{ProviderID: msg.ID}, nil
}

func TestThrottled(t *testing.T) {
	next := &countingSender{}
	if NewThrottled(next, 0, 0) != Sender(next) {
		t.Error("non-positive rate should return the wrapped sender")
	}

	throttled := NewThrottled(next, 1, 1)
	ctx := context.Background()
	if _, err := throttled.Send(ctx, testMessage()); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}

	// bucket is empty now; a short deadline cannot be met
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := throttled.Send(ctx, testMessage())
	if err == nil || !IsTemporary(err) {
		t.Fatalf("expected temporary wait error, got %v", err)
	}
	if atomic.LoadInt32(&next.calls) != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}
