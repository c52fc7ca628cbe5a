// Package storage defines the persistence interface for the vault metadata
// store: file records, projects, derived index/embedding records, tags, and
// the append-only audit log.
package storage

import (
	"context"

	"github.com/hyperjump/kura/internal/models"
)

// PathUpdate moves an existing record's blob path during version promotion
// (the superseded blob is relocated to the archive area).
type PathUpdate struct {
	FileID  string
	NewPath string
}

// Storage is the metadata store. File lifecycle rows are owned by the vault
// manager; index and embedding rows are derived data owned by the indexing
// pipeline and are always safe to drop and recompute.
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, id string) error

	// File record operations
	InsertFile(ctx context.Context, rec *models.FileRecord) error
	// InsertVersion demotes every record for (rec.ProjectID, rec.Name),
	// applies the optional archive path update to the superseded record, and
	// inserts rec with is_latest=1 — all in one transaction.
	InsertVersion(ctx context.Context, rec *models.FileRecord, archived *PathUpdate) error
	GetFile(ctx context.Context, id string) (*models.FileRecord, error)
	FileByPath(ctx context.Context, path string) (*models.FileRecord, error)
	// DeleteFile removes the record and its derived index, embedding, and tag rows.
	DeleteFile(ctx context.Context, id string) error
	ListLatest(ctx context.Context, projectID *string) ([]*models.FileRecord, error)
	Versions(ctx context.Context, projectID *string, name string) ([]*models.FileRecord, error)
	MaxVersion(ctx context.Context, projectID *string, name string) (int, error)
	AllFiles(ctx context.Context) ([]*models.FileRecord, error)
	CountFiles(ctx context.Context) (int64, error)
	// CountProjectFiles counts every version row held by a project,
	// superseded versions included.
	CountProjectFiles(ctx context.Context, projectID string) (int64, error)
	CountEmbeddings(ctx context.Context) (int64, error)

	// Derived records (insert-or-replace keyed by file id)
	UpsertIndex(ctx context.Context, fileID, content string) error
	GetIndex(ctx context.Context, fileID string) (*models.IndexRecord, error)
	UpsertEmbedding(ctx context.Context, fileID string, vector []float32, modelName string) error
	GetEmbedding(ctx context.Context, fileID string) (*models.EmbeddingRecord, error)
	// LatestEmbeddings returns embeddings of the given model for latest
	// file versions only.
	LatestEmbeddings(ctx context.Context, modelName string) ([]*models.EmbeddingRecord, error)

	// Search queries
	SearchContent(ctx context.Context, q string, limit int) ([]*models.FileRecord, error)
	SearchMetadata(ctx context.Context, f *models.MetadataFilter) ([]*models.FileRecord, error)

	// Tags
	AddTag(ctx context.Context, fileID, tag string) (bool, error)
	RemoveTag(ctx context.Context, fileID, tag string) (bool, error)
	Tags(ctx context.Context, fileID string) ([]string, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, ev *models.AuditEvent) error
	RecentAudit(ctx context.Context, limit int) ([]*models.AuditEvent, error)

	Close() error
}
