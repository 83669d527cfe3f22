package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusRecorder(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	rec.WriteHeader(http.StatusConflict)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.status, http.StatusConflict)
	}

	implicit := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusTeapot}
	if _, err := implicit.Write([]byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if implicit.status != http.StatusOK || !implicit.written {
		t.Errorf("implicit write recorded status %d written=%v", implicit.status, implicit.written)
	}
}

func TestHTTPMiddleware_Unrouted(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries/550e8400-e29b-41d4-a716-446655440000/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("POST", "/api/v1/deliveries/{id}/status", "404")); got != 1 {
		t.Errorf("request count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("not_found")); got != 1 {
		t.Errorf("not_found count = %v, want 1", got)
	}
}

func TestHTTPMiddleware_ChiPattern(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Post("/api/v1/campaigns/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/camp-1/activate", nil))

	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("POST", "/api/v1/campaigns/{id}/activate", "409")); got != 1 {
		t.Errorf("request count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("conflict count = %v, want 1", got)
	}
}

func TestHTTPMiddleware_Disabled(t *testing.T) {
	SetGlobal(nil)

	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestIsID(t *testing.T) {
	tests := map[string]bool{
		"550e8400-e29b-41d4-a716-446655440000":  true,
		"550E8400-E29B-41D4-A716-446655440000":  true,
		"550e8400e29b41d4a716446655440000":      false,
		"urn:uuid:550e8400-e29b-41d4-a716-4466": false,
		"camp-1":                                false,
		"":                                      false,
	}
	for in, want := range tests {
		if got := isID(in); got != want {
			t.Errorf("isID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, ""},
		{201, ""},
		{400, "bad_request"},
		{413, "bad_request"},
		{401, "auth_error"},
		{403, "auth_error"},
		{404, "not_found"},
		{409, "conflict"},
		{422, "client_error"},
		{500, "server_error"},
		{501, "not_implemented"},
		{503, "unavailable"},
	}
	for _, tt := range tests {
		if got := errorClass(tt.status); got != tt.want {
			t.Errorf("errorClass(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
