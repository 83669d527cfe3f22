package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/db"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

// setupTestDB creates a file-backed SQLite database with all migrations applied.
// A file is used instead of :memory: so concurrent connections share state.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// newEmails builds a sequence with the given offsets, all approved
func newEmails(offsets ...int) []models.CampaignEmail {
	emails := make([]models.CampaignEmail, len(offsets))
	for i, d := range offsets {
		emails[i] = models.CampaignEmail{
			Subject:        "Email " + string(rune('A'+i)),
			HTMLBody:       "<p>Hello {{first_name}}</p>",
			TextBody:       "Hello {{first_name}}",
			DaysAfterStart: d,
			ApprovalStatus: models.ApprovalApproved,
		}
	}
	return emails
}

// createActiveCampaign stores a campaign in ACTIVE status
func createActiveCampaign(t *testing.T, repo *CampaignRepository, emails []models.CampaignEmail) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		TenantID:      "tenant-1",
		Name:          "Inquiry nurture",
		TargetStageID: "inquiry",
		Status:        models.CampaignActive,
		ContentOrigin: models.OriginStatic,
		CadenceDays:   7,
	}
	if err := repo.Create(context.Background(), c, emails); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}
