// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestObjectRepository_CreateIsIdempotentOnSourceURI(t *testing.T) {
	db := openTestDB(t)
	repo := NewObjectRepository(db)
	ctx := context.Background()

	obj1, existed1, err := repo.Create(ctx, &Object{ObjectType: "url", SourceURI: nullString("https://example.com/a"), Title: "First"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if existed1 {
		t.Fatal("expected first create to report a fresh row")
	}

	obj2, existed2, err := repo.Create(ctx, &Object{ObjectType: "url", SourceURI: nullString("https://example.com/a"), Title: "Second"})
	if err != nil {
		t.Fatalf("create-or-fetch: %v", err)
	}
	if !existed2 {
		t.Fatal("expected colliding create to report a pre-existing row")
	}
	if obj1.ID != obj2.ID {
		t.Fatalf("expected idempotent create to return existing row, got different IDs %s vs %s", obj1.ID, obj2.ID)
	}
	if obj2.Title != "First" {
		t.Fatalf("expected existing row's title preserved, got %q", obj2.Title)
	}
}

func TestObjectRepository_UpdateStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewObjectRepository(db)
	ctx := context.Background()

	obj, _, err := repo.Create(ctx, &Object{ObjectType: "url", SourceURI: nullString("https://example.com/b")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateStatus(ctx, obj.ID, StatusParsed, nil, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := repo.GetByID(ctx, obj.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Status != StatusParsed {
		t.Fatalf("expected status %q, got %q", StatusParsed, got.Status)
	}
}

func TestObjectRepository_ChildIDsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewObjectRepository(db)
	ctx := context.Background()

	obj, _, err := repo.Create(ctx, &Object{ObjectType: "tab_group"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateChildIDs(ctx, obj.ID, []string{"child-1", "child-2"}); err != nil {
		t.Fatalf("update child ids: %v", err)
	}

	ids, err := repo.GetChildIDs(ctx, obj.ID)
	if err != nil {
		t.Fatalf("get child ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "child-1" || ids[1] != "child-2" {
		t.Fatalf("unexpected child ids: %v", ids)
	}
}

func TestObjectRepository_DeleteByIDs(t *testing.T) {
	db := openTestDB(t)
	repo := NewObjectRepository(db)
	ctx := context.Background()

	obj, _, err := repo.Create(ctx, &Object{ObjectType: "url", SourceURI: nullString("https://example.com/c")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := repo.DeleteByIDs(ctx, []string{obj.ID, "missing-id"})
	if err != nil {
		t.Fatalf("delete by ids: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != obj.ID {
		t.Fatalf("expected only %s reported deleted, got %v", obj.ID, deleted)
	}

	if _, err := repo.GetByID(ctx, obj.ID); err == nil {
		t.Fatal("expected not-found error after delete")
	}
}

func TestJobRepository_CreateAndClaimBatch(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	j, err := repo.Create(ctx, &Job{JobType: "url", SourceIdentifier: "https://example.com", Priority: 1})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if j.Status != JobQueued {
		t.Fatalf("expected new job queued, got %s", j.Status)
	}

	claimed, err := repo.ClaimBatch(ctx, 5)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != j.ID {
		t.Fatalf("expected to claim the single queued job, got %v", claimed)
	}
	if claimed[0].Status != JobProcessing {
		t.Fatalf("expected claimed job status processing, got %s", claimed[0].Status)
	}

	again, err := repo.ClaimBatch(ctx, 5)
	if err != nil {
		t.Fatalf("second claim batch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no jobs left to claim, got %d", len(again))
	}
}

func TestJobRepository_ApplyFailureRetriesThenFails(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	j, err := repo.Create(ctx, &Job{JobType: "url", SourceIdentifier: "https://example.com", MaxRetries: 2})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	retried, err := repo.ApplyFailure(ctx, j.ID, `{"message":"boom"}`, 0)
	if err != nil {
		t.Fatalf("apply failure 1: %v", err)
	}
	if !retried {
		t.Fatal("expected first failure to schedule a retry")
	}

	retried, err = repo.ApplyFailure(ctx, j.ID, `{"message":"boom again"}`, 0)
	if err != nil {
		t.Fatalf("apply failure 2: %v", err)
	}
	if retried {
		t.Fatal("expected second failure (at max_retries) to be terminal")
	}

	got, err := repo.GetByID(ctx, j.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Status != JobFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
}

func TestJobRepository_CancelAndRetry(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	j, err := repo.Create(ctx, &Job{JobType: "url", SourceIdentifier: "https://example.com"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ok, err := repo.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel of queued job to succeed")
	}

	ok, err = repo.Retry(ctx, j.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ok {
		t.Fatal("expected retry of a cancelled (not failed) job to fail")
	}
}

func TestJobRepository_CountByStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Create(ctx, &Job{JobType: "url", SourceIdentifier: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Create(ctx, &Job{JobType: "pdf", SourceIdentifier: "b"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if counts[JobQueued] != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", counts[JobQueued])
	}
}
