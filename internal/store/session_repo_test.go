package store

import (
	"context"
	"testing"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
)

func TestSessionRepo_CreateGet(t *testing.T) {
	db := newTestDB(t)
	repo := &SessionRepo{}
	ctx := context.Background()

	now := time.Now().Unix()
	s := domain.Session{
		SessionID:     "sess-1",
		Status:        domain.SessionRunning,
		CreatedAtUnix: now,
		ExpiresAtUnix: now + 3600,
	}
	if err := repo.Create(ctx, db, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.SessionRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
}

func TestSessionRepo_GetNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := &SessionRepo{}

	_, err := repo.GetByID(context.Background(), db, "nope")
	if err != domain.ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRepo_GetExpired(t *testing.T) {
	db := newTestDB(t)
	repo := &SessionRepo{}
	ctx := context.Background()

	now := time.Now().Unix()
	s := domain.Session{SessionID: "old", Status: domain.SessionSucceeded, CreatedAtUnix: now - 100, ExpiresAtUnix: now - 1}
	if err := repo.Create(ctx, db, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := repo.GetByID(ctx, db, "old")
	if err != domain.ErrSessionExpired {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSessionRepo_UpdateStatus(t *testing.T) {
	db := newTestDB(t)
	repo := &SessionRepo{}
	ctx := context.Background()

	now := time.Now().Unix()
	s := domain.Session{SessionID: "sess", Status: domain.SessionRunning, CreatedAtUnix: now, ExpiresAtUnix: now + 3600}
	if err := repo.Create(ctx, db, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.UpdateStatus(ctx, db, "sess", domain.SessionPartialFailure); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := repo.GetByID(ctx, db, "sess")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.SessionPartialFailure {
		t.Errorf("Status = %s, want partial_failure", got.Status)
	}

	if err := repo.UpdateStatus(ctx, db, "ghost", domain.SessionSucceeded); err != domain.ErrSessionNotFound {
		t.Errorf("UpdateStatus ghost = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRepo_PurgeExpiredCascades(t *testing.T) {
	db := newTestDB(t)
	sessions := &SessionRepo{}
	results := &ResultRepo{}
	events := &EventRepo{}
	ctx := context.Background()

	now := time.Now().Unix()
	if err := sessions.Create(ctx, db, domain.Session{SessionID: "dead", ExpiresAtUnix: now - 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := results.Put(ctx, db, "dead", domain.TaskResult{TaskID: "t", ParamsFingerprint: "fp", Status: domain.TaskSucceeded}, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := events.Append(ctx, db, domain.Event{SessionID: "dead", Seq: 0, Kind: "k", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	purged, err := sessions.PurgeExpired(ctx, db)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if len(purged) != 1 || purged[0] != "dead" {
		t.Errorf("purged = %v, want [dead]", purged)
	}

	if _, err := sessions.GetByID(ctx, db, "dead"); err != domain.ErrSessionNotFound {
		t.Errorf("session survived purge: %v", err)
	}
	left, err := results.ListBySession(ctx, db, "dead")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("%d results survived purge", len(left))
	}
	evs, err := events.ListBySession(ctx, db, "dead", 0)
	if err != nil {
		t.Fatalf("ListBySession events: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("%d events survived purge", len(evs))
	}
}
