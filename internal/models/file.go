// Package models defines core data structures for files, projects, derived
// index records, and search requests/responses.
package models

import "time"

// FileRecord is one stored object version. For a fixed (ProjectID, Name),
// versions are unique and increasing and exactly one record has IsLatest set.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"` // blob location relative to the vault root, unique per version
	Size       int64     `json:"size"`
	ProjectID  *string   `json:"project_id,omitempty"` // nil for unscoped (root) files
	Version    int       `json:"version"`
	IsLatest   bool      `json:"is_latest"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Project is a named folder grouping versioned files.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// IndexRecord holds the text extracted from the decrypted bytes of a file at
// last successful indexing. At most one exists per file; absence means the
// file has not been indexed yet (or indexing failed), not that it is empty.
type IndexRecord struct {
	FileID    string    `json:"file_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingRecord holds the L2-normalized embedding of a file's extracted
// text. Vectors are only comparable within the same ModelName.
type EmbeddingRecord struct {
	FileID    string    `json:"file_id"`
	Vector    []float32 `json:"vector"`
	ModelName string    `json:"model_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEvent is one row of the append-only audit log.
type AuditEvent struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	ProjectID *string   `json:"project_id,omitempty"`
	File      string    `json:"file,omitempty"`
	Version   int       `json:"version,omitempty"`
	Meta      string    `json:"meta,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Audit actions recorded by the vault and reconciler.
const (
	AuditUpload        = "UPLOAD"
	AuditUploadVersion = "UPLOAD_VERSION"
	AuditDownload      = "DOWNLOAD"
	AuditDelete        = "DELETE"
	AuditRepair        = "REPAIR"
)

// IndexStatus reports the outcome of indexing a single file.
type IndexStatus struct {
	FileID     string `json:"file_id"`
	Indexed    bool   `json:"indexed"`
	HasText    bool   `json:"has_text"`
	TextLength int    `json:"text_length"`
}

// VersionEntry is a version-history row shaped for display.
type VersionEntry struct {
	FileID   string `json:"file_id"`
	Version  int    `json:"version"`
	Latest   bool   `json:"latest"`
	Path     string `json:"path"`
	Label    string `json:"label"`
	Modified string `json:"modified"`
}
