package db

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndFinish(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	op := &Operation{RunID: "run-1", Kind: KindInstall, Device: "/dev/sdb"}
	if err := repo.CreateOperation(ctx, op); err != nil {
		t.Fatalf("failed to create operation: %v", err)
	}
	if op.ID == 0 || op.Status != StatusRunning {
		t.Errorf("unexpected operation after create: %+v", op)
	}

	if err := repo.FinishOperation(ctx, op.ID, StatusFailed, "InstallationError", "exit 1"); err != nil {
		t.Fatalf("failed to finish operation: %v", err)
	}

	got, err := repo.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get operation: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorKind != "InstallationError" || got.ErrorMessage != "exit 1" {
		t.Errorf("retrieved operation mismatch: %+v", got)
	}

	if err := repo.FinishOperation(ctx, 999, StatusSucceeded, "", ""); err == nil {
		t.Error("expected error finishing unknown operation")
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.GetByRunID(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("expected nil, nil for missing run, got %v, %v", got, err)
	}
}

func TestRepository_Copies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	op := &Operation{RunID: "run-2", Kind: KindWrite, Device: "/dev/sdb"}
	if err := repo.CreateOperation(ctx, op); err != nil {
		t.Fatal(err)
	}

	copies := []ImageCopy{
		{Position: 0, ImagePath: "/isos/a.iso", Status: "copied", Bytes: 100, SHA256: "aa"},
		{Position: 1, ImagePath: "/isos/b.iso", Status: "failed", ErrorMessage: "read failed"},
		{Position: 2, ImagePath: "/isos/c.iso", Status: "skipped"},
	}
	if err := repo.RecordCopies(ctx, op.ID, copies); err != nil {
		t.Fatalf("failed to record copies: %v", err)
	}

	got, err := repo.Copies(ctx, op.ID)
	if err != nil {
		t.Fatalf("failed to list copies: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 copies, got %d", len(got))
	}
	for i, c := range got {
		if c.ImagePath != copies[i].ImagePath || c.Status != copies[i].Status {
			t.Errorf("copy %d mismatch: %+v", i, c)
		}
	}
	if got[1].ErrorMessage != "read failed" || got[0].SHA256 != "aa" {
		t.Errorf("nullable fields not round-tripped: %+v", got)
	}

	bad := []ImageCopy{{ImagePath: "/x", Status: "bogus"}}
	if err := repo.RecordCopies(ctx, op.ID, bad); err == nil {
		t.Error("expected constraint violation for invalid status")
	}
}

func TestRepository_ListAndInterrupted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := repo.CreateOperation(ctx, &Operation{RunID: id, Kind: KindWrite, Device: "/dev/sdb"}); err != nil {
			t.Fatal(err)
		}
	}
	first, _ := repo.GetByRunID(ctx, "r1")
	repo.FinishOperation(ctx, first.ID, StatusSucceeded, "", "")

	ops, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(ops) != 3 || ops[0].RunID != "r3" {
		t.Errorf("expected newest first, got %d ops starting with %s", len(ops), ops[0].RunID)
	}

	limited, _ := repo.List(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}

	n, err := repo.FailInterrupted(ctx)
	if err != nil || n != 2 {
		t.Errorf("expected 2 interrupted operations, got %d, %v", n, err)
	}
	r2, _ := repo.GetByRunID(ctx, "r2")
	if r2.Status != StatusFailed || r2.ErrorMessage != "interrupted" {
		t.Errorf("unexpected status after FailInterrupted: %+v", r2)
	}
}
