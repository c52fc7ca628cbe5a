package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/encryption"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/keylock"
	"github.com/hyperjump/kura/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, storage.Storage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "kura.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	codec, err := encryption.NewCodec(filepath.Join(dir, "vault.key"))
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(store, codec, filepath.Join(dir, "vault"), 1<<20, keylock.New(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return m, store
}

func TestPut_rootUploadAndConflict(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Put(ctx, nil, "a.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rec.Version != 1 || !rec.IsLatest || rec.ProjectID != nil {
		t.Errorf("unexpected record: %+v", rec)
	}

	_, err = m.Put(ctx, nil, "a.txt", []byte("other"))
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate root upload, got %v", err)
	}
}

func TestPut_validation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cases := []string{"", "  ", "../etc/passwd", `bad:name.txt`, "a/b.txt"}
	for _, name := range cases {
		if _, err := m.Put(ctx, nil, name, []byte("x")); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("Put(%q): expected ErrInvalidInput, got %v", name, err)
		}
	}

	big := bytes.Repeat([]byte{'x'}, (1<<20)+1)
	if _, err := m.Put(ctx, nil, "big.bin", big); !errors.Is(err, errs.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestPut_versionedSupersedes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	p, err := m.CreateProject(ctx, "Alpha")
	if err != nil {
		t.Fatal(err)
	}

	v1, err := m.Put(ctx, &p.ID, "doc.txt", []byte("version one"))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := m.Put(ctx, &p.ID, "doc.txt", []byte("version two"))
	if err != nil {
		t.Fatal(err)
	}
	if v2.Version != 2 || !v2.IsLatest {
		t.Errorf("second upload: %+v", v2)
	}

	// v1 is demoted and its blob archived under versions/ with a unique path.
	history, err := m.VersionHistory(ctx, &p.ID, "doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].ID != v2.ID || history[1].ID != v1.ID {
		t.Fatalf("history: %+v", history)
	}
	old := history[1]
	if old.IsLatest {
		t.Error("superseded version still latest")
	}
	if old.Path != "Alpha/versions/doc-v1.txt" {
		t.Errorf("archive path = %q", old.Path)
	}
	if old.Path == v2.Path {
		t.Error("two live records share a storage path")
	}

	// Both versions remain independently downloadable.
	_, plain, err := m.Get(ctx, old.ID)
	if err != nil || string(plain) != "version one" {
		t.Errorf("old version content: %q, %v", plain, err)
	}
	_, plain, err = m.Get(ctx, v2.ID)
	if err != nil || string(plain) != "version two" {
		t.Errorf("new version content: %q, %v", plain, err)
	}
}

func TestPut_latestUniquenessOverManyUploads(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	p, _ := m.CreateProject(ctx, "P")

	for i := 1; i <= 5; i++ {
		rec, err := m.Put(ctx, &p.ID, "f.txt", []byte(fmt.Sprintf("content %d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if rec.Version != i {
			t.Errorf("upload %d got version %d", i, rec.Version)
		}
	}

	history, _ := store.Versions(ctx, &p.ID, "f.txt")
	latest := 0
	seen := map[int]bool{}
	for _, rec := range history {
		if rec.IsLatest {
			latest++
		}
		if seen[rec.Version] {
			t.Errorf("duplicate version %d", rec.Version)
		}
		seen[rec.Version] = true
	}
	if latest != 1 {
		t.Errorf("%d records marked latest, want exactly 1", latest)
	}
}

func TestPut_concurrentSameName(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	p, _ := m.CreateProject(ctx, "P")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = m.Put(ctx, &p.ID, "race.txt", []byte(fmt.Sprintf("payload %d", i)))
		}(i)
	}
	wg.Wait()

	history, err := store.Versions(ctx, &p.ID, "race.txt")
	if err != nil {
		t.Fatal(err)
	}
	var versions []int
	latest := 0
	for _, rec := range history {
		versions = append(versions, rec.Version)
		if rec.IsLatest {
			latest++
		}
	}
	sort.Ints(versions)
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("version sequence has gap or duplicate: %v", versions)
		}
	}
	if latest != 1 {
		t.Errorf("%d latest records after concurrent uploads", latest)
	}
}

func TestGet_selfHealingOnMissingBlob(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Put(ctx, nil, "gone.txt", []byte("content"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(m.Root(), rec.Path)); err != nil {
		t.Fatal(err)
	}

	_, _, err = m.Get(ctx, rec.ID)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The stale metadata row is gone afterwards.
	if _, err := store.GetFile(ctx, rec.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("stale metadata not cleared: %v", err)
	}
}

func TestDelete(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	rec, _ := m.Put(ctx, nil, "d.txt", []byte("bye"))
	if err := m.Delete(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), rec.Path)); !os.IsNotExist(err) {
		t.Error("blob still on disk after delete")
	}
	if _, err := store.GetFile(ctx, rec.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Error("metadata row still present after delete")
	}

	// Blob already absent: row removal still succeeds.
	rec2, _ := m.Put(ctx, nil, "d2.txt", []byte("bye"))
	_ = os.Remove(filepath.Join(m.Root(), rec2.Path))
	if err := m.Delete(ctx, rec2.ID); err != nil {
		t.Errorf("delete with missing blob: %v", err)
	}
}

func TestBlobIsEncryptedAtRest(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	plaintext := []byte("extremely secret payload that must never touch disk in the clear")
	rec, err := m.Put(ctx, nil, "secret.txt", plaintext)
	if err != nil {
		t.Fatal(err)
	}
	onDisk, err := os.ReadFile(filepath.Join(m.Root(), rec.Path))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(onDisk, plaintext) || bytes.Contains(onDisk, []byte("secret payload")) {
		t.Error("plaintext found in on-disk blob")
	}
	if rec.Size != int64(len(onDisk)) {
		t.Errorf("recorded size %d, blob size %d", rec.Size, len(onDisk))
	}
}

func TestVersionHistory_notFound(t *testing.T) {
	m, _ := newTestManager(t)
	pid := "nope"
	_, err := m.VersionHistory(context.Background(), &pid, "missing.txt")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProjects_lifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	p, err := m.CreateProject(ctx, "Docs")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateProject(ctx, "docs"); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate project, got %v", err)
	}
	if _, err := m.CreateProject(ctx, "bad/name"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	// Non-empty projects refuse deletion.
	rec, _ := m.Put(ctx, &p.ID, "f.txt", []byte("x"))
	if err := m.DeleteProject(ctx, p.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("expected ErrConflict deleting non-empty project, got %v", err)
	}
	_ = m.Delete(ctx, rec.ID)
	if err := m.DeleteProject(ctx, p.ID); err != nil {
		t.Errorf("delete empty project: %v", err)
	}
}

func TestDeleteProject_refusesWhileArchivedVersionsRemain(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	p, err := m.CreateProject(ctx, "Reports")
	if err != nil {
		t.Fatal(err)
	}
	v1, err := m.Put(ctx, &p.ID, "a.txt", []byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := m.Put(ctx, &p.ID, "a.txt", []byte("second"))
	if err != nil {
		t.Fatal(err)
	}

	// Deleting the latest leaves the archived v1 behind; the project must
	// still refuse deletion so the archive blob is never orphaned from its
	// metadata row.
	if err := m.Delete(ctx, v2.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteProject(ctx, p.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict while an archived version remains, got %v", err)
	}
	cur, err := store.GetFile(ctx, v1.ID)
	if err != nil {
		t.Fatalf("archived version row damaged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), cur.Path)); err != nil {
		t.Errorf("archived blob gone: %v", err)
	}

	if err := m.Delete(ctx, v1.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteProject(ctx, p.ID); err != nil {
		t.Errorf("delete drained project: %v", err)
	}
}

func TestTags(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	rec, _ := m.Put(ctx, nil, "t.txt", []byte("x"))
	if err := m.AddTag(ctx, rec.ID, "Alpha"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddTag(ctx, rec.ID, "alpha"); err != nil {
		t.Errorf("duplicate tag should not error: %v", err)
	}
	tags, _ := m.Tags(ctx, rec.ID)
	if len(tags) != 1 || tags[0] != "alpha" {
		t.Errorf("tags = %v", tags)
	}
	if err := m.RemoveTag(ctx, rec.ID, "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveTag(ctx, rec.ID, "alpha"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound removing absent tag, got %v", err)
	}
	if err := m.AddTag(ctx, "missing-id", "x"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown file, got %v", err)
	}
}

func TestVersionedName(t *testing.T) {
	cases := map[string]string{
		"file.pdf": "file-v3.pdf",
		"noext":    "noext-v3",
		"a.b.c":    "a.b-v3.c",
	}
	for in, want := range cases {
		if got := versionedName(in, 3); got != want {
			t.Errorf("versionedName(%q) = %q, want %q", in, got, want)
		}
	}
}
