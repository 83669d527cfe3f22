package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

func TestSandboxRoutes(t *testing.T) {
	store, err := transport.OpenSandboxStore(filepath.Join(t.TempDir(), "sandbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sender := transport.NewSandboxSender(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	for _, to := range []string{"ada@clients.example", "grace@clients.example"} {
		_, err := sender.Send(ctx, &transport.Message{ID: "d-" + to, From: "studio@lumen.example", To: to, Subject: "Hello"})
		require.NoError(t, err)
	}
	_, err = sender.SendSMS(ctx, "+15551234567", "See you Saturday")
	require.NoError(t, err)

	env := setupTestServer(t, func(d *Deps) { d.Sandbox = store })

	w := env.do(t, http.MethodGet, "/api/v1/sandbox/messages?to=ada@clients.example", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[SandboxListResponse](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Hello", list.Messages[0].Subject)

	w = env.do(t, http.MethodGet, "/api/v1/sandbox/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decodeBody[map[string]int](t, w)["total"])

	w = env.do(t, http.MethodDelete, "/api/v1/sandbox/messages?older_than=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/sandbox/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decodeBody[map[string]int](t, w)["deleted"])
}

func TestSandboxRoutes_Disabled(t *testing.T) {
	env := setupTestServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/sandbox/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
