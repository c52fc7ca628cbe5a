package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "kura.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fileRec(id, name, path string, projectID *string, version int, latest bool) *models.FileRecord {
	now := time.Now().UTC()
	return &models.FileRecord{
		ID: id, Name: name, Path: path, Size: 10,
		ProjectID: projectID, Version: version, IsLatest: latest,
		CreatedAt: now, ModifiedAt: now,
	}
}

func TestFileCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := fileRec("f1", "a.txt", "a.txt", nil, 1, true)
	if err := store.InsertFile(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetFile(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a.txt" || got.ProjectID != nil || !got.IsLatest {
		t.Errorf("got %+v", got)
	}

	byPath, err := store.FileByPath(ctx, "a.txt")
	if err != nil || byPath.ID != "f1" {
		t.Errorf("FileByPath: %v, %+v", err, byPath)
	}

	// Duplicate path must conflict.
	err = store.InsertFile(ctx, fileRec("f2", "a.txt", "a.txt", nil, 1, true))
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate path, got %v", err)
	}

	if err := store.DeleteFile(ctx, "f1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetFile(ctx, "f1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting again is not an error.
	if err := store.DeleteFile(ctx, "f1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestInsertVersion_promotesAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := "p1"

	v1 := fileRec("f1", "doc.txt", "proj/doc.txt", &pid, 1, true)
	if err := store.InsertFile(ctx, v1); err != nil {
		t.Fatal(err)
	}

	v2 := fileRec("f2", "doc.txt", "proj/doc.txt.new", &pid, 2, true)
	archived := &PathUpdate{FileID: "f1", NewPath: "proj/versions/doc-v1.txt"}
	if err := store.InsertVersion(ctx, v2, archived); err != nil {
		t.Fatal(err)
	}

	old, _ := store.GetFile(ctx, "f1")
	if old.IsLatest {
		t.Error("previous version still marked latest")
	}
	if old.Path != "proj/versions/doc-v1.txt" {
		t.Errorf("archive path not applied: %s", old.Path)
	}

	cur, _ := store.GetFile(ctx, "f2")
	if !cur.IsLatest || cur.Version != 2 {
		t.Errorf("new version not latest: %+v", cur)
	}

	max, err := store.MaxVersion(ctx, &pid, "doc.txt")
	if err != nil || max != 2 {
		t.Errorf("MaxVersion = %d, %v", max, err)
	}

	// Exactly one latest row per (project, name).
	latest, err := store.ListLatest(ctx, &pid)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].ID != "f2" {
		t.Errorf("ListLatest = %+v", latest)
	}

	versions, err := store.Versions(ctx, &pid, "doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0].Version != 2 || versions[1].Version != 1 {
		t.Errorf("Versions order wrong: %+v", versions)
	}

	// Both the latest and the superseded row count toward the project.
	count, err := store.CountProjectFiles(ctx, pid)
	if err != nil || count != 2 {
		t.Errorf("CountProjectFiles = %d, %v", count, err)
	}
}

func TestMaxVersion_empty(t *testing.T) {
	store := newTestStore(t)
	pid := "p1"
	max, err := store.MaxVersion(context.Background(), &pid, "none.txt")
	if err != nil || max != 0 {
		t.Errorf("MaxVersion on empty = %d, %v", max, err)
	}
}

func TestProjects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateProject(ctx, &models.Project{ID: "p1", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	err := store.CreateProject(ctx, &models.Project{ID: "p2", Name: "alpha"})
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}

	p, err := store.GetProjectByName(ctx, "ALPHA")
	if err != nil || p.ID != "p1" {
		t.Errorf("GetProjectByName: %v, %+v", err, p)
	}

	list, _ := store.ListProjects(ctx)
	if len(list) != 1 {
		t.Errorf("ListProjects = %d entries", len(list))
	}

	if err := store.DeleteProject(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteProject(ctx, "p1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertIndexAndEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := fileRec("f1", "a.txt", "a.txt", nil, 1, true)
	if err := store.InsertFile(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := store.UpsertIndex(ctx, "f1", "first"); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertIndex(ctx, "f1", "second"); err != nil {
		t.Fatal(err)
	}
	idx, err := store.GetIndex(ctx, "f1")
	if err != nil || idx.Content != "second" {
		t.Errorf("GetIndex after upsert: %v, %+v", err, idx)
	}

	vec := []float32{0.6, 0.8}
	if err := store.UpsertEmbedding(ctx, "f1", vec, "hash-64"); err != nil {
		t.Fatal(err)
	}
	emb, err := store.GetEmbedding(ctx, "f1")
	if err != nil || len(emb.Vector) != 2 || emb.ModelName != "hash-64" {
		t.Errorf("GetEmbedding: %v, %+v", err, emb)
	}

	latest, err := store.LatestEmbeddings(ctx, "hash-64")
	if err != nil || len(latest) != 1 {
		t.Errorf("LatestEmbeddings: %v, %d", err, len(latest))
	}
	// Other model names are invisible.
	other, _ := store.LatestEmbeddings(ctx, "other-model")
	if len(other) != 0 {
		t.Errorf("embeddings leaked across models: %d", len(other))
	}
}

func TestSearchContent_latestOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := "p1"

	v1 := fileRec("f1", "doc.txt", "p/doc-v1.txt", &pid, 1, false)
	v2 := fileRec("f2", "doc.txt", "p/doc.txt", &pid, 2, true)
	_ = store.InsertFile(ctx, v1)
	_ = store.InsertFile(ctx, v2)
	_ = store.UpsertIndex(ctx, "f1", "needle only in old version")
	_ = store.UpsertIndex(ctx, "f2", "fresh content")

	hits, err := store.SearchContent(ctx, "needle", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("superseded version surfaced in search: %+v", hits)
	}

	hits, _ = store.SearchContent(ctx, "FRESH", 10)
	if len(hits) != 1 || hits[0].ID != "f2" {
		t.Errorf("case-insensitive substring match failed: %+v", hits)
	}
}

func TestSearchMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := "p1"

	_ = store.InsertFile(ctx, fileRec("f1", "report.pdf", "p/report.pdf", &pid, 1, true))
	_ = store.InsertFile(ctx, fileRec("f2", "notes.txt", "p/notes.txt", &pid, 1, true))
	_ = store.InsertFile(ctx, fileRec("f3", "root.pdf", "root.pdf", nil, 1, true))
	if _, err := store.AddTag(ctx, "f1", "Finance"); err != nil {
		t.Fatal(err)
	}

	hits, err := store.SearchMetadata(ctx, &models.MetadataFilter{Extension: "pdf"})
	if err != nil || len(hits) != 2 {
		t.Fatalf("ext filter: %v, %d hits", err, len(hits))
	}

	hits, _ = store.SearchMetadata(ctx, &models.MetadataFilter{Extension: ".pdf", ProjectID: &pid})
	if len(hits) != 1 || hits[0].ID != "f1" {
		t.Errorf("ext+project filter: %+v", hits)
	}

	hits, _ = store.SearchMetadata(ctx, &models.MetadataFilter{Tag: "finance"})
	if len(hits) != 1 || hits[0].ID != "f1" {
		t.Errorf("tag filter (lowercased): %+v", hits)
	}

	hits, _ = store.SearchMetadata(ctx, &models.MetadataFilter{Name: "REPORT", Tag: "finance", Extension: "pdf", ProjectID: &pid})
	if len(hits) != 1 {
		t.Errorf("conjunctive filter: %+v", hits)
	}
}

func TestTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.InsertFile(ctx, fileRec("f1", "a.txt", "a.txt", nil, 1, true))

	added, err := store.AddTag(ctx, "f1", "  Urgent ")
	if err != nil || !added {
		t.Fatalf("AddTag: %v, %v", added, err)
	}
	added, _ = store.AddTag(ctx, "f1", "urgent")
	if added {
		t.Error("duplicate tag reported as added")
	}
	tags, _ := store.Tags(ctx, "f1")
	if len(tags) != 1 || tags[0] != "urgent" {
		t.Errorf("Tags = %v", tags)
	}
	removed, _ := store.RemoveTag(ctx, "f1", "URGENT")
	if !removed {
		t.Error("RemoveTag returned false")
	}
	if _, err := store.AddTag(ctx, "f1", "   "); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank tag, got %v", err)
	}
}

func TestAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, action := range []string{models.AuditUpload, models.AuditDownload, models.AuditDelete} {
		ev := &models.AuditEvent{
			ID: string(rune('a' + i)), Action: action, File: "a.txt",
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendAudit(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	events, err := store.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Action != models.AuditDelete {
		t.Errorf("RecentAudit ordering: %+v", events)
	}
}
