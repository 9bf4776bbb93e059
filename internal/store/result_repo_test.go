package store

import (
	"context"
	"testing"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
)

func TestResultRepo_PutGet(t *testing.T) {
	db := newTestDB(t)
	repo := &ResultRepo{}
	ctx := context.Background()

	in := domain.TaskResult{
		TaskID:            "s1",
		Status:            domain.TaskSucceeded,
		Output:            []byte(`{"mean":42}`),
		ParamsFingerprint: "fp-1",
		Attempts:          2,
		Degraded:          true,
		StartedAtUnix:     100,
		CompletedAtUnix:   200,
	}
	if err := repo.Put(ctx, db, "sess", in, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, db, "sess", "s1", "fp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for stored result")
	}
	if got.Status != domain.TaskSucceeded || !got.Degraded || got.Attempts != 2 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if string(got.Output) != `{"mean":42}` {
		t.Errorf("Output = %s", got.Output)
	}
}

func TestResultRepo_GetMissIsNil(t *testing.T) {
	db := newTestDB(t)
	repo := &ResultRepo{}

	got, err := repo.Get(context.Background(), db, "sess", "s1", "no-such-fp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get miss = %+v, want nil", got)
	}
}

func TestResultRepo_DifferentFingerprintIsMiss(t *testing.T) {
	db := newTestDB(t)
	repo := &ResultRepo{}
	ctx := context.Background()

	in := domain.TaskResult{TaskID: "s1", Status: domain.TaskSucceeded, ParamsFingerprint: "fp-old"}
	if err := repo.Put(ctx, db, "sess", in, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, db, "sess", "s1", "fp-new")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("result for a different fingerprint must be a cache miss")
	}
}

func TestResultRepo_ExpiredIsMiss(t *testing.T) {
	db := newTestDB(t)
	repo := &ResultRepo{}
	ctx := context.Background()

	in := domain.TaskResult{TaskID: "s1", Status: domain.TaskSucceeded, ParamsFingerprint: "fp"}
	if err := repo.Put(ctx, db, "sess", in, -time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, db, "sess", "s1", "fp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("expired result must be a cache miss")
	}

	n, err := repo.PurgeExpired(ctx, db)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

func TestResultRepo_PutOverwritesSameFingerprint(t *testing.T) {
	db := newTestDB(t)
	repo := &ResultRepo{}
	ctx := context.Background()

	first := domain.TaskResult{TaskID: "s1", Status: domain.TaskFailed, ParamsFingerprint: "fp"}
	second := domain.TaskResult{TaskID: "s1", Status: domain.TaskSucceeded, ParamsFingerprint: "fp"}
	if err := repo.Put(ctx, db, "sess", first, time.Hour); err != nil {
		t.Fatalf("Put first: %v", err)
	}
	if err := repo.Put(ctx, db, "sess", second, time.Hour); err != nil {
		t.Fatalf("Put second: %v", err)
	}

	got, err := repo.Get(ctx, db, "sess", "s1", "fp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.TaskSucceeded {
		t.Errorf("Status = %s, want succeeded after overwrite", got.Status)
	}

	all, err := repo.ListBySession(ctx, db, "sess")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListBySession returned %d rows, want 1", len(all))
	}
}
