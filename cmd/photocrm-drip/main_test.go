package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/dkim"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

func TestDKIMKeygen(t *testing.T) {
	dir := t.TempDir()
	rootCmd.SetArgs([]string{"dkim", "keygen",
		"--domain", "lumen.example",
		"--selector", "drip",
		"--algorithm", "ed25519",
		"--out", dir,
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("dkim keygen failed: %v", err)
	}

	keyPath := filepath.Join(dir, "drip.lumen.example.pem")
	if _, err := dkim.LoadSigner(keyPath, "lumen.example", "drip"); err != nil {
		t.Errorf("generated key is not loadable: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drip.yaml")
	content := "database:\n  dsn: " + filepath.Join(dir, "drip.db") + "\ntransport:\n  provider: sandbox\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"config", "validate", "-c", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config validate failed: %v", err)
	}

	rootCmd.SetArgs([]string{"config", "validate", "-c", filepath.Join(dir, "missing.yaml")})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Errorf("expected invalid configuration error, got %v", err)
	}
}

func TestMigrateAndCleanup(t *testing.T) {
	dir := t.TempDir()
	sandboxPath := filepath.Join(dir, "sandbox.db")
	path := filepath.Join(dir, "drip.yaml")
	content := "database:\n  dsn: " + filepath.Join(dir, "drip.db") +
		"\ntransport:\n  provider: sandbox\n  sandbox:\n    path: " + sandboxPath + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"migrate", "-c", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	store, err := transport.OpenSandboxStore(sandboxPath)
	if err != nil {
		t.Fatal(err)
	}
	old := &transport.Captured{ID: "old", To: "ada@example.com", Channel: "email", CapturedAt: time.Now().Add(-48 * time.Hour)}
	if err := store.Save(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	store.Close()

	rootCmd.SetArgs([]string{"cleanup", "-c", path, "--older-than", "24h"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	store, err = transport.OpenSandboxStore(sandboxPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("sandbox still holds %d message(s)", n)
	}
}

func TestValueOr(t *testing.T) {
	if got := valueOr("", "disabled"); got != "disabled" {
		t.Errorf("valueOr() = %q", got)
	}
	if got := valueOr("twilio", "disabled"); got != "twilio" {
		t.Errorf("valueOr() = %q", got)
	}
}

func TestSubscriptionCounts(t *testing.T) {
	if got := subscriptionCounts(nil); got != "none" {
		t.Errorf("subscriptionCounts(nil) = %q", got)
	}
	subs := []models.Subscription{
		{Status: models.SubscriptionCompleted},
		{Status: models.SubscriptionActive},
		{Status: models.SubscriptionActive},
	}
	if got := subscriptionCounts(subs); got != "ACTIVE=2 COMPLETED=1" {
		t.Errorf("subscriptionCounts() = %q", got)
	}
}
