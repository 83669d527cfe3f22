package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

func TestCampaignRepository_Create(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database, time.UTC)
	ctx := context.Background()

	c := createActiveCampaign(t, repo, newEmails(0, 7, 14))

	if c.ID == "" {
		t.Fatal("Create() did not set ID")
	}
	if c.LineageID != c.ID {
		t.Errorf("LineageID = %s, want %s", c.LineageID, c.ID)
	}
	if c.Version != 1 || !c.IsCurrentVersion {
		t.Errorf("Version = %d, current = %v, want 1, true", c.Version, c.IsCurrentVersion)
	}

	got, err := repo.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if got.Name != c.Name || got.Status != models.CampaignActive {
		t.Errorf("GetCampaign() = %+v", got)
	}

	emails, err := repo.GetEmails(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetEmails() error = %v", err)
	}
	if len(emails) != 3 {
		t.Fatalf("GetEmails() len = %d, want 3", len(emails))
	}
	for i, e := range emails {
		if e.SequenceIndex != i {
			t.Errorf("emails[%d].SequenceIndex = %d", i, e.SequenceIndex)
		}
	}
	if emails[2].DaysAfterStart != 14 {
		t.Errorf("emails[2].DaysAfterStart = %d, want 14", emails[2].DaysAfterStart)
	}
}

func TestCampaignRepository_GetCampaignNotFound(t *testing.T) {
	repo := NewCampaignRepository(setupTestDB(t), time.UTC)

	_, err := repo.GetCampaign(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCampaign() error = %v, want ErrNotFound", err)
	}
}

func TestCampaignRepository_GetEmailsIntegrity(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database, time.UTC)
	ctx := context.Background()

	c := createActiveCampaign(t, repo, newEmails(0))
	_, err := database.ExecContext(ctx, `INSERT INTO campaign_emails (id, campaign_id, sequence_index, subject, created_at)
		VALUES (?, ?, ?, ?, ?)`, "gap", c.ID, 2, "gap", time.Now().UTC())
	if err != nil {
		t.Fatalf("insert error = %v", err)
	}

	if _, err := repo.GetEmails(ctx, c.ID); !errors.Is(err, ErrIntegrity) {
		t.Errorf("GetEmails() error = %v, want ErrIntegrity", err)
	}
}

func TestCampaignRepository_GetOrCreateDraftConcurrent(t *testing.T) {
	repo := NewCampaignRepository(setupTestDB(t), time.UTC)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	created := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			draft := &models.Campaign{TenantID: "tenant-1", Name: "Draft", TargetStageID: "booked", CadenceDays: 7}
			c, ok, err := repo.GetOrCreateDraft(ctx, draft, newEmails(0, 3))
			errs[i] = err
			if err == nil {
				ids[i] = c.ID
				created[i] = ok
			}
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("GetOrCreateDraft() error = %v", errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d got draft %s, want %s", i, ids[i], ids[0])
		}
		if created[i] {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Errorf("created count = %d, want 1", createdCount)
	}

	emails, err := repo.GetEmails(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetEmails() error = %v", err)
	}
	if len(emails) != 2 {
		t.Errorf("draft emails = %d, want 2", len(emails))
	}
}

func TestCampaignRepository_Transition(t *testing.T) {
	repo := NewCampaignRepository(setupTestDB(t), time.UTC)
	ctx := context.Background()

	c := &models.Campaign{TenantID: "tenant-1", Name: "Lifecycle", TargetStageID: "inquiry"}
	if err := repo.Create(ctx, c, newEmails(0)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	steps := []struct {
		from, to models.CampaignStatus
		wantErr  error
	}{
		{models.CampaignDraft, models.CampaignActive, ErrInvalidTransition},
		{models.CampaignDraft, models.CampaignApproved, nil},
		{models.CampaignDraft, models.CampaignApproved, ErrInvalidTransition},
		{models.CampaignApproved, models.CampaignActive, nil},
		{models.CampaignActive, models.CampaignPaused, nil},
		{models.CampaignPaused, models.CampaignActive, nil},
		{models.CampaignActive, models.CampaignDraft, ErrInvalidTransition},
	}

	for _, s := range steps {
		err := repo.Transition(ctx, c.ID, s.from, s.to)
		if s.wantErr == nil && err != nil {
			t.Fatalf("Transition(%s -> %s) error = %v", s.from, s.to, err)
		}
		if s.wantErr != nil && !errors.Is(err, s.wantErr) {
			t.Fatalf("Transition(%s -> %s) error = %v, want %v", s.from, s.to, err, s.wantErr)
		}
	}

	got, _ := repo.GetCampaign(ctx, c.ID)
	if got.Status != models.CampaignActive {
		t.Errorf("final status = %s, want ACTIVE", got.Status)
	}
}

func TestCampaignRepository_CreateVersion(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database, time.UTC)
	subs := NewSubscriptionRepository(database, time.UTC)
	deliveries := NewDeliveryRepository(database)
	ctx := context.Background()

	old := createActiveCampaign(t, repo, newEmails(0, 7, 14))
	oldEmails, _ := repo.GetEmails(ctx, old.ID)

	sub, err := subs.Enroll(ctx, old.ID, "subject-1", t0)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if _, _, err := deliveries.RecordAttempt(ctx, sub.ID, oldEmails[0].ID, t0); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}

	// In-place edits are refused once a delivery exists.
	newSubject := "Updated second email"
	err = repo.ApplyEdits(ctx, old.ID, models.CampaignEdits{
		Emails: map[int]models.EmailEdit{1: {Subject: &newSubject}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ApplyEdits() error = %v, want ErrConflict", err)
	}

	newDays := 10
	next, err := repo.CreateVersion(ctx, old.ID, models.CampaignEdits{
		Emails: map[int]models.EmailEdit{1: {Subject: &newSubject, DaysAfterStart: &newDays}},
	})
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}

	if next.Version != 2 || !next.IsCurrentVersion || next.LineageID != old.LineageID {
		t.Errorf("new version = %+v", next)
	}
	if next.ParentCampaignID == nil || *next.ParentCampaignID != old.ID {
		t.Errorf("ParentCampaignID = %v, want %s", next.ParentCampaignID, old.ID)
	}

	oldNow, _ := repo.GetCampaign(ctx, old.ID)
	if oldNow.IsCurrentVersion {
		t.Error("old version still current")
	}
	current, err := repo.GetCurrentVersion(ctx, old.LineageID)
	if err != nil {
		t.Fatalf("GetCurrentVersion() error = %v", err)
	}
	if current.ID != next.ID {
		t.Errorf("current version = %s, want %s", current.ID, next.ID)
	}

	// Old emails are untouched.
	oldAfter, _ := repo.GetEmails(ctx, old.ID)
	for i := range oldEmails {
		if oldAfter[i].Subject != oldEmails[i].Subject || oldAfter[i].HTMLBody != oldEmails[i].HTMLBody ||
			oldAfter[i].DaysAfterStart != oldEmails[i].DaysAfterStart || oldAfter[i].OriginalSubject != nil {
			t.Errorf("old email %d changed: %+v", i, oldAfter[i])
		}
	}

	newEmailsGot, _ := repo.GetEmails(ctx, next.ID)
	if len(newEmailsGot) != 3 {
		t.Fatalf("new emails len = %d, want 3", len(newEmailsGot))
	}
	edited := newEmailsGot[1]
	if edited.Subject != newSubject || edited.DaysAfterStart != 10 {
		t.Errorf("edited email = %+v", edited)
	}
	if edited.OriginalSubject == nil || *edited.OriginalSubject != oldEmails[1].Subject {
		t.Errorf("OriginalSubject = %v, want %q", edited.OriginalSubject, oldEmails[1].Subject)
	}
	if newEmailsGot[0].OriginalSubject != nil || newEmailsGot[0].Subject != oldEmails[0].Subject {
		t.Errorf("unedited email = %+v", newEmailsGot[0])
	}

	// The open subscription follows the lineage.
	moved, _ := subs.Get(ctx, sub.ID)
	if moved.CampaignID != next.ID {
		t.Errorf("subscription campaign = %s, want %s", moved.CampaignID, next.ID)
	}
	if onOld, _ := subs.ListByCampaign(ctx, old.ID); len(onOld) != 0 {
		t.Errorf("old version subscriptions = %d, want 0", len(onOld))
	}
	if onNext, _ := subs.ListByCampaign(ctx, next.ID); len(onNext) != 1 || onNext[0].ID != sub.ID {
		t.Errorf("new version subscriptions = %+v", onNext)
	}

	// Versioning a superseded version is refused.
	if _, err := repo.CreateVersion(ctx, old.ID, models.CampaignEdits{}); !errors.Is(err, ErrConflict) {
		t.Errorf("CreateVersion(old) error = %v, want ErrConflict", err)
	}
}

func TestCampaignRepository_CreateVersionKeepsFirstSnapshot(t *testing.T) {
	repo := NewCampaignRepository(setupTestDB(t), time.UTC)
	ctx := context.Background()

	v1 := createActiveCampaign(t, repo, newEmails(0))
	first := "second wording"
	v2, err := repo.CreateVersion(ctx, v1.ID, models.CampaignEdits{Emails: map[int]models.EmailEdit{0: {Subject: &first}}})
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	second := "third wording"
	v3, err := repo.CreateVersion(ctx, v2.ID, models.CampaignEdits{Emails: map[int]models.EmailEdit{0: {Subject: &second}}})
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}

	emails, _ := repo.GetEmails(ctx, v3.ID)
	if emails[0].Subject != second {
		t.Errorf("Subject = %q, want %q", emails[0].Subject, second)
	}
	if emails[0].OriginalSubject == nil || *emails[0].OriginalSubject != "Email A" {
		t.Errorf("OriginalSubject = %v, want Email A", emails[0].OriginalSubject)
	}

	versions, err := repo.ListVersions(ctx, v1.LineageID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("versions = %d, want 3", len(versions))
	}
	current := 0
	for _, v := range versions {
		if v.IsCurrentVersion {
			current++
		}
	}
	if current != 1 {
		t.Errorf("current versions = %d, want 1", current)
	}
}

func TestCampaignRepository_AddEmailAndApproval(t *testing.T) {
	repo := NewCampaignRepository(setupTestDB(t), time.UTC)
	ctx := context.Background()

	c := &models.Campaign{TenantID: "tenant-1", Name: "Manual", TargetStageID: "lead"}
	if err := repo.Create(ctx, c, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		e := &models.CampaignEmail{Subject: "step", DaysAfterStart: i * 5}
		if err := repo.AddEmail(ctx, c.ID, e); err != nil {
			t.Fatalf("AddEmail() error = %v", err)
		}
		if e.SequenceIndex != i {
			t.Errorf("SequenceIndex = %d, want %d", e.SequenceIndex, i)
		}
		if e.ApprovalStatus != models.ApprovalPending {
			t.Errorf("ApprovalStatus = %s, want PENDING", e.ApprovalStatus)
		}
	}

	emails, _ := repo.GetEmails(ctx, c.ID)
	if err := repo.SetEmailApproval(ctx, emails[1].ID, models.ApprovalApproved); err != nil {
		t.Fatalf("SetEmailApproval() error = %v", err)
	}
	n, err := repo.CountApproved(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountApproved() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountApproved() = %d, want 1", n)
	}

	if err := repo.SetEmailApproval(ctx, "missing", models.ApprovalApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEmailApproval(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCampaignRepository_ListActiveForStage(t *testing.T) {
	repo := NewCampaignRepository(setupTestDB(t), time.UTC)
	ctx := context.Background()

	active := createActiveCampaign(t, repo, newEmails(0))
	draft := &models.Campaign{TenantID: "tenant-1", Name: "Draft", TargetStageID: "inquiry"}
	if err := repo.Create(ctx, draft, newEmails(0)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.ListActiveForStage(ctx, "tenant-1", "inquiry")
	if err != nil {
		t.Fatalf("ListActiveForStage() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("ListActiveForStage() = %+v, want only %s", got, active.ID)
	}

	all, err := repo.List(ctx, models.CampaignListFilter{TenantID: "tenant-1", CurrentOnly: true})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() len = %d, want 2", len(all))
	}
}

func TestCampaignRepository_InPlaceEditsNeedCurrentVersion(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database, time.UTC)
	ctx := context.Background()

	old := createActiveCampaign(t, repo, newEmails(0, 7))
	subject := "Renamed"
	if err := repo.ApplyEdits(ctx, old.ID, models.CampaignEdits{
		Emails: map[int]models.EmailEdit{0: {Subject: &subject}},
	}); err != nil {
		t.Fatalf("ApplyEdits() error = %v", err)
	}

	next, err := repo.CreateVersion(ctx, old.ID, models.CampaignEdits{})
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	before, _ := repo.GetEmails(ctx, old.ID)

	other := "Edited superseded version"
	err = repo.ApplyEdits(ctx, old.ID, models.CampaignEdits{
		Emails: map[int]models.EmailEdit{0: {Subject: &other}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ApplyEdits(superseded) error = %v, want ErrConflict", err)
	}
	if err := repo.AddEmail(ctx, old.ID, &models.CampaignEmail{Subject: "late"}); !errors.Is(err, ErrConflict) {
		t.Errorf("AddEmail(superseded) error = %v, want ErrConflict", err)
	}
	if err := repo.ApplyEdits(ctx, "missing", models.CampaignEdits{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ApplyEdits(missing) error = %v, want ErrNotFound", err)
	}

	after, _ := repo.GetEmails(ctx, old.ID)
	if len(after) != len(before) || after[0].Subject != before[0].Subject {
		t.Errorf("superseded emails changed: %+v", after)
	}

	current, _ := repo.GetEmails(ctx, next.ID)
	if current[0].Subject != subject {
		t.Errorf("new version subject = %q, want %q", current[0].Subject, subject)
	}
}

func TestCampaignRepository_EditRacesFirstDelivery(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database, time.UTC)
	subs := NewSubscriptionRepository(database, time.UTC)
	deliveries := NewDeliveryRepository(database)
	ctx := context.Background()

	c := createActiveCampaign(t, repo, newEmails(0))
	sub, err := subs.Enroll(ctx, c.ID, "subject-1", t0)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	emails, _ := repo.GetEmails(ctx, c.ID)

	var wg sync.WaitGroup
	var editErr, recordErr error
	subject := "Edited while sending"
	wg.Add(2)
	go func() {
		defer wg.Done()
		editErr = repo.ApplyEdits(ctx, c.ID, models.CampaignEdits{
			Emails: map[int]models.EmailEdit{0: {Subject: &subject}},
		})
	}()
	go func() {
		defer wg.Done()
		_, _, recordErr = deliveries.RecordAttempt(ctx, sub.ID, emails[0].ID, t0)
	}()
	wg.Wait()

	if recordErr != nil {
		t.Fatalf("RecordAttempt() error = %v", recordErr)
	}
	if editErr != nil && !errors.Is(editErr, ErrConflict) {
		t.Fatalf("ApplyEdits() error = %v, want nil or ErrConflict", editErr)
	}

	// Either order is fine; afterwards the referenced email is frozen.
	late := "Too late"
	err = repo.ApplyEdits(ctx, c.ID, models.CampaignEdits{
		Emails: map[int]models.EmailEdit{0: {Subject: &late}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ApplyEdits() after delivery error = %v, want ErrConflict", err)
	}
}
