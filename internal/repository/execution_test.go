package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

func TestExecutionRepository_TryExecuteOnce(t *testing.T) {
	repo := NewExecutionRepository(setupTestDB(t))
	ctx := context.Background()

	var calls int32
	effect := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	key := StageChangeKey("subject-1", "auto-1", models.TriggerDepositPaid)
	out, err := repo.TryExecute(ctx, key, effect)
	if err != nil || out != Executed {
		t.Fatalf("TryExecute() = %v, %v", out, err)
	}
	out, err = repo.TryExecute(ctx, key, effect)
	if err != nil || out != AlreadyExecuted {
		t.Fatalf("second TryExecute() = %v, %v", out, err)
	}
	if calls != 1 {
		t.Errorf("effect calls = %d, want 1", calls)
	}
}

func TestExecutionRepository_TryExecuteConcurrent(t *testing.T) {
	repo := NewExecutionRepository(setupTestDB(t))
	ctx := context.Background()

	var calls int32
	key := CommunicationKey("subject-1", "auto-1", "step-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TryExecute(ctx, key, func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
			if err != nil {
				t.Errorf("TryExecute() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("effect calls = %d, want 1", calls)
	}
}

func TestExecutionRepository_FailedEffectKeepsReservation(t *testing.T) {
	repo := NewExecutionRepository(setupTestDB(t))
	ctx := context.Background()

	boom := errors.New("sms gateway down")
	key := CountdownKey("subject-1", "auto-1", time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC), 7)

	out, err := repo.TryExecute(ctx, key, func(context.Context) error { return boom })
	if out != Executed || !errors.Is(err, boom) {
		t.Fatalf("TryExecute() = %v, %v", out, err)
	}

	ran := false
	out, err = repo.TryExecute(ctx, key, func(context.Context) error { ran = true; return nil })
	if err != nil || out != AlreadyExecuted || ran {
		t.Errorf("retry TryExecute() = %v, %v, ran = %v", out, err, ran)
	}
}

func TestExecutionRepository_DiscriminatorsIndependent(t *testing.T) {
	repo := NewExecutionRepository(setupTestDB(t))
	ctx := context.Background()
	event := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)

	keys := []ExecutionKey{
		CommunicationKey("subject-1", "auto-1", "step-1"),
		CommunicationKey("subject-1", "auto-1", "step-2"),
		StageChangeKey("subject-1", "auto-1", models.TriggerDepositPaid),
		StageChangeKey("subject-1", "auto-1", models.TriggerContractSigned),
		CountdownKey("subject-1", "auto-1", event, 7),
		CountdownKey("subject-1", "auto-1", event, 1),
		CountdownKey("subject-1", "auto-1", event.AddDate(0, 1, 0), 7),
		CountdownKey("subject-2", "auto-1", event, 7),
	}
	for _, k := range keys {
		ok, err := repo.Reserve(ctx, k, t0)
		if err != nil || !ok {
			t.Errorf("Reserve(%+v) = %v, %v", k, ok, err)
		}
	}

	counts, err := repo.CountByKind(ctx)
	if err != nil {
		t.Fatalf("CountByKind() error = %v", err)
	}
	if counts[models.AutomationCommunication] != 2 || counts[models.AutomationStageChange] != 2 || counts[models.AutomationCountdown] != 4 {
		t.Errorf("CountByKind() = %v", counts)
	}

	execs, _ := repo.ListBySubject(ctx, "subject-1")
	if len(execs) != 7 {
		t.Errorf("ListBySubject() len = %d, want 7", len(execs))
	}
}

func TestExecutionKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     ExecutionKey
		wantErr bool
	}{
		{"communication", CommunicationKey("s", "a", "step"), false},
		{"communication without step", CommunicationKey("s", "a", ""), true},
		{"stage change without trigger", StageChangeKey("s", "a", ""), true},
		{"missing subject", StageChangeKey("", "a", "DEPOSIT_PAID"), true},
		{"unknown kind", ExecutionKey{SubjectID: "s", AutomationID: "a", Kind: "OTHER"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.key.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
