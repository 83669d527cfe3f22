package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		enabled bool
		wantErr bool
	}{
		{"empty list", nil, false, false},
		{"blank entries", []string{" ", ""}, false, false},
		{"single IP", []string{"192.168.1.1"}, true, false},
		{"CIDR", []string{"10.0.0.0/8"}, true, false},
		{"IPv6", []string{"2001:db8::/32", "::1"}, true, false},
		{"invalid IP", []string{"192.168.1"}, false, true},
		{"invalid CIDR", []string{"10.0.0.0/33"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.entries, newTestLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && f.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", f.Enabled(), tt.enabled)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	f, err := New([]string{"10.0.0.0/8", "192.168.1.10", "2001:db8::/32"}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3", true},
		{"11.0.0.1", false},
		{"192.168.1.10", true},
		{"192.168.1.11", false},
		{"::ffff:10.0.0.1", true},
		{"2001:db8::1", true},
		{"2001:db9::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := f.Allows(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	f, err := New([]string{"10.0.0.0/8"}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	handler := f.Middleware(ok)

	tests := []struct {
		remoteAddr string
		want       int
	}{
		{"10.0.0.5:51234", http.StatusOK},
		{"10.0.0.5", http.StatusOK},
		{"203.0.113.7:443", http.StatusForbidden},
		{"not-an-ip", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddleware_EmptyAllowsAll(t *testing.T) {
	f, err := New(nil, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	handler := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	req.RemoteAddr = "203.0.113.7:443"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
