// Package vault implements the storage and version manager: encrypted blob
// writes, per-(project, name) version sequences with a single latest record,
// self-healing reads, and the project/tag surface around them.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/encryption"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/keylock"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
)

// VersionsDir is the per-project sub-directory holding superseded blobs.
const VersionsDir = "versions"

// LockKey returns the critical-section key for a (project, name) pair. The
// vault and the reconciler must use the same key so repair never races an
// in-flight write.
func LockKey(projectID *string, name string) string {
	pid := ""
	if projectID != nil {
		pid = *projectID
	}
	return pid + "\x00" + name
}

// Manager owns FileRecord lifecycle and the on-disk blob tree. All blobs are
// written encrypted; plaintext only exists in memory.
type Manager struct {
	store   storage.Storage
	codec   *encryption.Codec
	root    string
	maxSize int64
	locks   *keylock.KeyLock
	logger  *zap.Logger
}

// NewManager creates a vault manager rooted at rootDir (created if absent).
// maxSize is the upload ceiling in bytes, enforced before encryption.
func NewManager(store storage.Storage, codec *encryption.Codec, rootDir string, maxSize int64, locks *keylock.KeyLock, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create vault root: %v", errs.ErrStorageIO, err)
	}
	return &Manager{
		store:   store,
		codec:   codec,
		root:    rootDir,
		maxSize: maxSize,
		locks:   locks,
		logger:  logger,
	}, nil
}

// Root returns the vault root directory.
func (m *Manager) Root() string { return m.root }

func (m *Manager) abs(relPath string) string {
	return filepath.Join(m.root, filepath.FromSlash(relPath))
}

// versionedName turns "file.pdf" + 3 into "file-v3.pdf".
func versionedName(name string, version int) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-v%d%s", base, version, ext)
}

// Put validates, encrypts, and stores an upload. Unscoped uploads (nil
// projectID) are unversioned and conflict when the path is occupied;
// project uploads get the next version and supersede the previous latest.
func (m *Manager) Put(ctx context.Context, projectID *string, name string, data []byte) (*models.FileRecord, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}
	if int64(len(data)) > m.maxSize {
		return nil, fmt.Errorf("%w: upload of %d bytes exceeds limit of %d", errs.ErrTooLarge, len(data), m.maxSize)
	}
	if projectID == nil {
		return m.putRoot(ctx, name, data)
	}
	return m.putVersioned(ctx, *projectID, name, data)
}

func (m *Manager) putRoot(ctx context.Context, name string, data []byte) (*models.FileRecord, error) {
	key := LockKey(nil, name)
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	relPath := name
	if _, err := os.Stat(m.abs(relPath)); err == nil {
		return nil, fmt.Errorf("%w: file %q already exists", errs.ErrConflict, name)
	}
	if _, err := m.store.FileByPath(ctx, relPath); err == nil {
		return nil, fmt.Errorf("%w: path %q already recorded", errs.ErrConflict, relPath)
	}

	rec, err := m.writeBlob(ctx, nil, name, relPath, 1, data)
	if err != nil {
		return nil, err
	}
	if err := m.store.InsertFile(ctx, rec); err != nil {
		return nil, err
	}
	m.audit(ctx, models.AuditUpload, nil, name, 1)
	return rec, nil
}

func (m *Manager) putVersioned(ctx context.Context, projectID, name string, data []byte) (*models.FileRecord, error) {
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(m.root, project.Name, VersionsDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: create project folders: %v", errs.ErrStorageIO, err)
	}

	key := LockKey(&projectID, name)
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	// Version assignment and promotion happen inside the critical section:
	// concurrent uploads of the same (project, name) cannot both see the
	// same max.
	max, err := m.store.MaxVersion(ctx, &projectID, name)
	if err != nil {
		return nil, err
	}
	next := max + 1
	relPath := project.Name + "/" + name

	var archived *storage.PathUpdate
	if next > 1 {
		prev, err := m.store.FileByPath(ctx, relPath)
		if err == nil {
			archiveRel := project.Name + "/" + VersionsDir + "/" + versionedName(name, prev.Version)
			if renameErr := os.Rename(m.abs(relPath), m.abs(archiveRel)); renameErr != nil {
				if !os.IsNotExist(renameErr) {
					return nil, fmt.Errorf("%w: archive previous version: %v", errs.ErrStorageIO, renameErr)
				}
				// Blob already gone out-of-band; the reconciler will
				// report the stale record. Metadata promotion proceeds.
				m.logger.Warn("previous latest blob missing during archive",
					zap.String("path", relPath), zap.String("file_id", prev.ID))
			} else {
				archived = &storage.PathUpdate{FileID: prev.ID, NewPath: archiveRel}
			}
		}
	}

	rec, err := m.writeBlob(ctx, &projectID, name, relPath, next, data)
	if err != nil {
		return nil, err
	}
	if err := m.store.InsertVersion(ctx, rec, archived); err != nil {
		return nil, err
	}
	m.audit(ctx, models.AuditUploadVersion, &projectID, name, next)
	return rec, nil
}

// writeBlob encrypts data and writes it to relPath, returning the new record.
func (m *Manager) writeBlob(ctx context.Context, projectID *string, name, relPath string, version int, data []byte) (*models.FileRecord, error) {
	encrypted, err := m.codec.Encrypt(data)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.abs(relPath), encrypted, 0600); err != nil {
		return nil, fmt.Errorf("%w: write blob: %v", errs.ErrStorageIO, err)
	}
	now := time.Now().UTC()
	return &models.FileRecord{
		ID:         uuid.New().String(),
		Name:       name,
		Path:       relPath,
		Size:       int64(len(encrypted)),
		ProjectID:  projectID,
		Version:    version,
		IsLatest:   true,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// Read loads and decrypts a file without recording an audit event (used by
// the indexing pipeline). If the blob is gone, the stale metadata row is
// removed and the read fails with errs.ErrNotFound.
func (m *Manager) Read(ctx context.Context, fileID string) (*models.FileRecord, []byte, error) {
	rec, err := m.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	key := LockKey(rec.ProjectID, rec.Name)
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	encrypted, err := os.ReadFile(m.abs(rec.Path))
	if err != nil {
		if os.IsNotExist(err) {
			if delErr := m.store.DeleteFile(ctx, fileID); delErr != nil {
				m.logger.Error("failed to clear stale metadata", zap.String("file_id", fileID), zap.Error(delErr))
			} else {
				m.logger.Warn("blob missing on disk; metadata cleared",
					zap.String("file_id", fileID), zap.String("path", rec.Path))
			}
			return nil, nil, fmt.Errorf("%w: blob for file %s missing on disk", errs.ErrNotFound, fileID)
		}
		return nil, nil, fmt.Errorf("%w: read blob: %v", errs.ErrStorageIO, err)
	}

	plain, err := m.codec.Decrypt(encrypted)
	if err != nil {
		return nil, nil, err
	}
	return rec, plain, nil
}

// Get is the download path: Read plus an audit entry.
func (m *Manager) Get(ctx context.Context, fileID string) (*models.FileRecord, []byte, error) {
	rec, plain, err := m.Read(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	m.audit(ctx, models.AuditDownload, rec.ProjectID, rec.Name, rec.Version)
	return rec, plain, nil
}

// Delete removes the blob (if present) and always removes the metadata row
// and its derived records.
func (m *Manager) Delete(ctx context.Context, fileID string) error {
	rec, err := m.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}

	key := LockKey(rec.ProjectID, rec.Name)
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	if err := os.Remove(m.abs(rec.Path)); err != nil && !os.IsNotExist(err) {
		// The row is removed regardless; an undeletable blob becomes an
		// orphan for the reconciler.
		m.logger.Warn("failed to remove blob", zap.String("path", rec.Path), zap.Error(err))
	}
	if err := m.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	m.audit(ctx, models.AuditDelete, rec.ProjectID, rec.Name, rec.Version)
	return nil
}

// ListLatest returns the latest file versions for a project (nil = root
// files), ordered by name.
func (m *Manager) ListLatest(ctx context.Context, projectID *string) ([]*models.FileRecord, error) {
	return m.store.ListLatest(ctx, projectID)
}

// VersionHistory returns all versions for (projectID, name), newest first.
// Fails with errs.ErrNotFound when no versions exist.
func (m *Manager) VersionHistory(ctx context.Context, projectID *string, name string) ([]*models.FileRecord, error) {
	versions, err := m.store.Versions(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: no versions for %q", errs.ErrNotFound, name)
	}
	return versions, nil
}

// VersionEntries shapes VersionHistory for display.
func (m *Manager) VersionEntries(ctx context.Context, projectID *string, name string) ([]*models.VersionEntry, error) {
	versions, err := m.VersionHistory(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.VersionEntry, len(versions))
	for i, v := range versions {
		entries[i] = &models.VersionEntry{
			FileID:   v.ID,
			Version:  v.Version,
			Latest:   v.IsLatest,
			Path:     v.Path,
			Label:    fmt.Sprintf("%s (v%d)", v.Name, v.Version),
			Modified: v.ModifiedAt.Format(time.RFC3339),
		}
	}
	return entries, nil
}

// CreateProject validates the name, records the project, and creates its
// folders. A duplicate name fails with errs.ErrConflict.
func (m *Manager) CreateProject(ctx context.Context, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if err := ValidateProjectName(name); err != nil {
		return nil, err
	}
	p := &models.Project{ID: uuid.New().String(), Name: name}
	if err := m.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(m.root, name, VersionsDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: create project folders: %v", errs.ErrStorageIO, err)
	}
	m.logger.Info("project created", zap.String("name", name), zap.String("id", p.ID))
	return p, nil
}

// GetProject returns a project by id.
func (m *Manager) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return m.store.GetProject(ctx, id)
}

// ListProjects returns all projects.
func (m *Manager) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return m.store.ListProjects(ctx)
}

// DeleteProject removes an empty project and its folder tree. Projects that
// still hold any file version, superseded ones included, fail with
// errs.ErrConflict.
func (m *Manager) DeleteProject(ctx context.Context, id string) error {
	project, err := m.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	count, err := m.store.CountProjectFiles(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: project %q still contains %d file version(s)", errs.ErrConflict, project.Name, count)
	}
	if err := m.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(m.root, project.Name)); err != nil {
		return fmt.Errorf("%w: remove project folder: %v", errs.ErrStorageIO, err)
	}
	m.logger.Info("project deleted", zap.String("name", project.Name), zap.String("id", id))
	return nil
}

// AddTag attaches a tag to an existing file. Adding a duplicate is not an error.
func (m *Manager) AddTag(ctx context.Context, fileID, tag string) error {
	if _, err := m.store.GetFile(ctx, fileID); err != nil {
		return err
	}
	_, err := m.store.AddTag(ctx, fileID, tag)
	return err
}

// RemoveTag detaches a tag; removing an absent tag fails with errs.ErrNotFound.
func (m *Manager) RemoveTag(ctx context.Context, fileID, tag string) error {
	removed, err := m.store.RemoveTag(ctx, fileID, tag)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: tag %q not on file %s", errs.ErrNotFound, tag, fileID)
	}
	return nil
}

// Tags lists a file's tags.
func (m *Manager) Tags(ctx context.Context, fileID string) ([]string, error) {
	if _, err := m.store.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	return m.store.Tags(ctx, fileID)
}

func (m *Manager) audit(ctx context.Context, action string, projectID *string, file string, version int) {
	ev := &models.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		ProjectID: projectID,
		File:      file,
		Version:   version,
	}
	if err := m.store.AppendAudit(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("audit append failed", zap.String("action", action), zap.Error(err))
	}
}
