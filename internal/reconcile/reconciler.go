// Package reconcile detects and repairs divergence between file metadata and
// the on-disk blob tree: records whose blob is missing, and blobs no record
// points at.
package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/keylock"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vault"
)

// Reconciler compares metadata against the vault directory. Check is
// read-only; Repair deletes, re-verifying each item under the same per-key
// lock the vault uses so it never races an in-flight upload.
type Reconciler struct {
	store  storage.Storage
	root   string
	locks  *keylock.KeyLock
	logger *zap.Logger
}

// NewReconciler creates a reconciler over the vault rooted at root.
func NewReconciler(store storage.Storage, root string, locks *keylock.KeyLock, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, root: root, locks: locks, logger: logger}
}

func (r *Reconciler) abs(relPath string) string {
	return filepath.Join(r.root, filepath.FromSlash(relPath))
}

// Check walks both sides and reports divergence without changing anything.
func (r *Reconciler) Check(ctx context.Context) (*models.ConsistencyReport, error) {
	files, err := r.store.AllFiles(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.ConsistencyReport{}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.Path] = true
		if _, err := os.Stat(r.abs(f.Path)); os.IsNotExist(err) {
			report.Missing = append(report.Missing, f)
		}
	}

	err = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !known[rel] {
			report.Orphans = append(report.Orphans, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Clean() {
		r.logger.Warn("consistency check found divergence",
			zap.Int("missing", len(report.Missing)), zap.Int("orphans", len(report.Orphans)))
	}
	return report, nil
}

// Repair runs a check and deletes both kinds of divergence: stale metadata
// rows for missing blobs, and orphan blobs from disk. Each item is
// re-verified inside its critical section before deletion, so a blob written
// between check and repair survives.
func (r *Reconciler) Repair(ctx context.Context) (*models.RepairResult, error) {
	report, err := r.Check(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.RepairResult{}
	for _, rec := range report.Missing {
		if err := r.clearMissing(ctx, rec); err != nil {
			result.Failures = append(result.Failures, models.RepairFailure{Path: rec.Path, Error: err.Error()})
			continue
		}
		result.ClearedMissing++
	}
	for _, rel := range report.Orphans {
		removed, err := r.removeOrphan(ctx, rel)
		if err != nil {
			result.Failures = append(result.Failures, models.RepairFailure{Path: rel, Error: err.Error()})
			continue
		}
		if removed {
			result.RemovedOrphans++
		}
	}

	if result.ClearedMissing > 0 || result.RemovedOrphans > 0 {
		r.logger.Info("repair complete",
			zap.Int("cleared_missing", result.ClearedMissing),
			zap.Int("removed_orphans", result.RemovedOrphans),
			zap.Int("failures", len(result.Failures)))
		r.audit(ctx, result)
	}
	return result, nil
}

func (r *Reconciler) clearMissing(ctx context.Context, rec *models.FileRecord) error {
	key := vault.LockKey(rec.ProjectID, rec.Name)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	// Re-check under the lock: an upload may have landed the blob since.
	current, err := r.store.GetFile(ctx, rec.ID)
	if err != nil {
		return nil // row already gone
	}
	if _, err := os.Stat(r.abs(current.Path)); err == nil {
		return nil
	}
	r.logger.Info("clearing stale metadata", zap.String("file_id", rec.ID), zap.String("path", current.Path))
	return r.store.DeleteFile(ctx, rec.ID)
}

func (r *Reconciler) removeOrphan(ctx context.Context, rel string) (bool, error) {
	key := r.orphanLockKey(ctx, rel)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	// Re-check under the lock: an upload of this (project, name) pair writes
	// its blob before committing the record, so the blob only counts as an
	// orphan once the writer's critical section has finished without a row.
	if _, err := r.store.FileByPath(ctx, rel); err == nil {
		return false, nil
	}
	if err := os.Remove(r.abs(rel)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	r.logger.Info("removed orphan blob", zap.String("path", rel))
	return true, nil
}

// orphanLockKey derives the critical-section key an upload targeting rel's
// (project, name) pair would hold. Blobs under a project's versions directory
// are guarded by the key of the name they were archived from, since the
// archive rename happens inside that upload's critical section.
func (r *Reconciler) orphanLockKey(ctx context.Context, rel string) string {
	parts := strings.Split(rel, "/")
	if len(parts) == 1 {
		return vault.LockKey(nil, parts[0])
	}
	name := parts[len(parts)-1]
	if len(parts) == 3 && parts[1] == vault.VersionsDir {
		name = unarchivedName(name)
	}
	project, err := r.store.GetProjectByName(ctx, parts[0])
	if err != nil {
		// No project owns this directory, so no upload can contend for it.
		return vault.LockKey(nil, rel)
	}
	return vault.LockKey(&project.ID, name)
}

var archiveSuffix = regexp.MustCompile(`-v\d+$`)

// unarchivedName maps "doc-v3.txt" back to "doc.txt". Names without an
// archive suffix pass through unchanged.
func unarchivedName(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return archiveSuffix.ReplaceAllString(stem, "") + ext
}

func (r *Reconciler) audit(ctx context.Context, result *models.RepairResult) {
	ev := &models.AuditEvent{
		ID:     uuid.New().String(),
		Action: models.AuditRepair,
		Meta:   fmt.Sprintf("cleared_missing=%d removed_orphans=%d failures=%d", result.ClearedMissing, result.RemovedOrphans, len(result.Failures)),
	}
	if err := r.store.AppendAudit(ctx, ev); err != nil {
		r.logger.Error("audit append failed", zap.String("action", models.AuditRepair), zap.Error(err))
	}
}
