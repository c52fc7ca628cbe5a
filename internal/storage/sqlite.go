// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		project_id TEXT,
		version INTEGER NOT NULL,
		is_latest INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_project_name ON files(project_id, name);
	CREATE INDEX IF NOT EXISTS idx_files_latest ON files(is_latest, modified_at);

	CREATE TABLE IF NOT EXISTS file_index (
		file_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_embeddings (
		file_id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		model_name TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_tags (
		file_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(file_id, tag)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		project_id TEXT,
		file TEXT,
		version INTEGER,
		meta TEXT,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// nullable converts an optional project id to a driver value.
func nullable(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

const fileColumns = "id, name, path, size, project_id, version, is_latest, created_at, modified_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var rec models.FileRecord
	var projectID sql.NullString
	err := row.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.Size, &projectID,
		&rec.Version, &rec.IsLatest, &rec.CreatedAt, &rec.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		rec.ProjectID = &projectID.String
	}
	return &rec, nil
}

func collectFiles(rows *sql.Rows) ([]*models.FileRecord, error) {
	defer rows.Close()
	var out []*models.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateProject inserts a project; a duplicate name fails with errs.ErrConflict.
func (s *SQLiteStorage) CreateProject(ctx context.Context, p *models.Project) error {
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: project %q already exists", errs.ErrConflict, p.Name)
		}
		return err
	}
	return nil
}

// GetProject returns a project by id.
func (s *SQLiteStorage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProjectByName returns a project by name (case-insensitive).
func (s *SQLiteStorage) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE name = ? COLLATE NOCASE`, name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %q", errs.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects ordered by name.
func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProject removes the project row. File rows are not touched; the vault
// manager refuses to delete projects that still hold files.
func (s *SQLiteStorage) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: project %s", errs.ErrNotFound, id)
	}
	return nil
}

// InsertFile inserts a file record as-is.
func (s *SQLiteStorage) InsertFile(ctx context.Context, rec *models.FileRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Path, rec.Size, nullable(rec.ProjectID),
		rec.Version, rec.IsLatest, rec.CreatedAt, rec.ModifiedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: path %q already recorded", errs.ErrConflict, rec.Path)
	}
	return err
}

// InsertVersion promotes rec to latest in a single transaction: the archive
// path update (if any) is applied, every existing record for the same
// (project, name) is demoted, then rec is inserted with is_latest=1.
func (s *SQLiteStorage) InsertVersion(ctx context.Context, rec *models.FileRecord, archived *PathUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if archived != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET path = ? WHERE id = ?`, archived.NewPath, archived.FileID,
		); err != nil {
			return fmt.Errorf("archive path update: %w", err)
		}
	}

	var demote string
	args := []interface{}{}
	if rec.ProjectID == nil {
		demote = `UPDATE files SET is_latest = 0 WHERE project_id IS NULL AND name = ?`
		args = append(args, rec.Name)
	} else {
		demote = `UPDATE files SET is_latest = 0 WHERE project_id = ? AND name = ?`
		args = append(args, *rec.ProjectID, rec.Name)
	}
	if _, err := tx.ExecContext(ctx, demote, args...); err != nil {
		return fmt.Errorf("demote latest: %w", err)
	}

	rec.IsLatest = true
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Path, rec.Size, nullable(rec.ProjectID),
		rec.Version, rec.IsLatest, rec.CreatedAt, rec.ModifiedAt,
	); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	return tx.Commit()
}

// GetFile returns a file record by id.
func (s *SQLiteStorage) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	rec, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: file %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FileByPath returns the record referencing the given relative blob path.
func (s *SQLiteStorage) FileByPath(ctx context.Context, path string) (*models.FileRecord, error) {
	rec, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, path))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: path %s", errs.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteFile removes the record and its derived rows. Missing rows are not an error.
func (s *SQLiteStorage) DeleteFile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM file_index WHERE file_id = ?`,
		`DELETE FROM file_embeddings WHERE file_id = ?`,
		`DELETE FROM file_tags WHERE file_id = ?`,
		`DELETE FROM files WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListLatest returns is_latest rows for the given project (nil = root files),
// ordered by name.
func (s *SQLiteStorage) ListLatest(ctx context.Context, projectID *string) ([]*models.FileRecord, error) {
	var rows *sql.Rows
	var err error
	if projectID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE is_latest = 1 AND project_id IS NULL ORDER BY name`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE is_latest = 1 AND project_id = ? ORDER BY name`, *projectID)
	}
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

// Versions returns all records for (projectID, name), newest version first.
func (s *SQLiteStorage) Versions(ctx context.Context, projectID *string, name string) ([]*models.FileRecord, error) {
	var rows *sql.Rows
	var err error
	if projectID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE project_id IS NULL AND name = ? ORDER BY version DESC`, name)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE project_id = ? AND name = ? ORDER BY version DESC`, *projectID, name)
	}
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

// MaxVersion returns the highest version for (projectID, name), or 0 if none exist.
func (s *SQLiteStorage) MaxVersion(ctx context.Context, projectID *string, name string) (int, error) {
	var row *sql.Row
	if projectID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM files WHERE project_id IS NULL AND name = ?`, name)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM files WHERE project_id = ? AND name = ?`, *projectID, name)
	}
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// AllFiles returns every file record (all versions).
func (s *SQLiteStorage) AllFiles(ctx context.Context) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

// CountFiles returns the number of file records.
func (s *SQLiteStorage) CountFiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

// CountProjectFiles returns the number of file records in a project across
// all versions.
func (s *SQLiteStorage) CountProjectFiles(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

// CountEmbeddings returns the number of embedding records.
func (s *SQLiteStorage) CountEmbeddings(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_embeddings`).Scan(&n)
	return n, err
}

// UpsertIndex inserts or replaces the extracted text for a file (latest write wins).
func (s *SQLiteStorage) UpsertIndex(ctx context.Context, fileID, content string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_index (file_id, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		fileID, content, now,
	)
	return err
}

// GetIndex returns the index record for a file.
func (s *SQLiteStorage) GetIndex(ctx context.Context, fileID string) (*models.IndexRecord, error) {
	var rec models.IndexRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, content, updated_at FROM file_index WHERE file_id = ?`, fileID,
	).Scan(&rec.FileID, &rec.Content, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: index for file %s", errs.ErrNotFound, fileID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertEmbedding inserts or replaces the embedding for a file. The vector is
// stored JSON-encoded alongside the model name that produced it.
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, fileID string, vector []float32, modelName string) error {
	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO file_embeddings (file_id, embedding, model_name, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
			embedding = excluded.embedding,
			model_name = excluded.model_name,
			updated_at = excluded.updated_at`,
		fileID, string(encoded), modelName, now,
	)
	return err
}

// GetEmbedding returns the embedding record for a file.
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, fileID string) (*models.EmbeddingRecord, error) {
	var rec models.EmbeddingRecord
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, embedding, model_name, updated_at FROM file_embeddings WHERE file_id = ?`, fileID,
	).Scan(&rec.FileID, &encoded, &rec.ModelName, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: embedding for file %s", errs.ErrNotFound, fileID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(encoded), &rec.Vector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return &rec, nil
}

// LatestEmbeddings returns embeddings of modelName for latest file versions only.
func (s *SQLiteStorage) LatestEmbeddings(ctx context.Context, modelName string) ([]*models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.file_id, e.embedding, e.model_name, e.updated_at
		 FROM file_embeddings e
		 JOIN files f ON f.id = e.file_id
		 WHERE f.is_latest = 1 AND e.model_name = ?`, modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EmbeddingRecord
	for rows.Next() {
		var rec models.EmbeddingRecord
		var encoded string
		if err := rows.Scan(&rec.FileID, &encoded, &rec.ModelName, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(encoded), &rec.Vector); err != nil {
			// A corrupt derived row is skipped; reindexing rewrites it.
			continue
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SearchContent returns latest files whose extracted text contains q,
// newest modification first.
func (s *SQLiteStorage) SearchContent(ctx context.Context, q string, limit int) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns2("f")+`
		 FROM file_index i
		 JOIN files f ON f.id = i.file_id
		 WHERE f.is_latest = 1 AND instr(lower(i.content), lower(?)) > 0
		 ORDER BY f.modified_at DESC
		 LIMIT ?`,
		q, limit)
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

// fileColumns2 qualifies the file column list with a table alias.
func fileColumns2(alias string) string {
	cols := strings.Split(fileColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// SearchMetadata runs a conjunctive filter over latest files: filename
// substring, project, extension suffix, and tag membership.
func (s *SQLiteStorage) SearchMetadata(ctx context.Context, f *models.MetadataFilter) ([]*models.FileRecord, error) {
	query := `SELECT ` + fileColumns2("f") + ` FROM files f`
	var where []string
	var args []interface{}

	if f.Tag != "" {
		query += ` JOIN file_tags t ON t.file_id = f.id`
		where = append(where, `t.tag = ?`)
		args = append(args, strings.ToLower(strings.TrimSpace(f.Tag)))
	}
	if f.ProjectID != nil {
		where = append(where, `f.project_id = ?`)
		args = append(args, *f.ProjectID)
	}
	if f.Name != "" {
		where = append(where, `lower(f.name) LIKE ?`)
		args = append(args, "%"+strings.ToLower(f.Name)+"%")
	}
	if f.Extension != "" {
		ext := strings.TrimPrefix(strings.ToLower(f.Extension), ".")
		where = append(where, `lower(f.name) LIKE ?`)
		args = append(args, "%."+ext)
	}
	where = append(where, `f.is_latest = 1`)

	query += ` WHERE ` + strings.Join(where, ` AND `) + ` ORDER BY f.modified_at DESC LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

// AddTag attaches a lowercase tag to a file. Returns false when the tag was
// already present.
func (s *SQLiteStorage) AddTag(ctx context.Context, fileID, tag string) (bool, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return false, fmt.Errorf("%w: tag cannot be empty", errs.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_tags (file_id, tag, created_at) VALUES (?, ?, ?)`,
		fileID, tag, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveTag detaches a tag from a file. Returns false when it was not present.
func (s *SQLiteStorage) RemoveTag(ctx context.Context, fileID, tag string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM file_tags WHERE file_id = ? AND tag = ?`,
		fileID, strings.ToLower(strings.TrimSpace(tag)),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Tags returns a file's tags in alphabetical order.
func (s *SQLiteStorage) Tags(ctx context.Context, fileID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM file_tags WHERE file_id = ? ORDER BY tag`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// AppendAudit inserts one audit row. The log is insert-only.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, ev *models.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, project_id, file, version, meta, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, nullable(ev.ProjectID), ev.File, ev.Version, ev.Meta, ev.Timestamp,
	)
	return err
}

// RecentAudit returns the newest audit events, most recent first.
func (s *SQLiteStorage) RecentAudit(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, project_id, file, version, meta, timestamp
		 FROM audit_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		var projectID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Action, &projectID, &ev.File, &ev.Version, &ev.Meta, &ev.Timestamp); err != nil {
			return nil, err
		}
		if projectID.Valid {
			ev.ProjectID = &projectID.String
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
