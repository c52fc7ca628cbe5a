// Package index runs the derived-record pipeline: decrypt a stored file,
// extract text from it, and embed the text for semantic search. Index and
// embedding rows are derived state keyed by file id; re-running the pipeline
// replaces them in place.
package index

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vault"
)

// Pipeline indexes vault files. Extraction failure downgrades to an empty
// index record; embedding failure leaves the index record in place. Neither
// fails the upload that triggered indexing.
type Pipeline struct {
	vault    *vault.Manager
	store    storage.Storage
	registry *extract.Registry
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewPipeline wires the pipeline. embedder may be nil when semantic search is
// disabled; indexing then stops after text extraction.
func NewPipeline(v *vault.Manager, store storage.Storage, registry *extract.Registry, embedder embedding.Embedder, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		vault:    v,
		store:    store,
		registry: registry,
		embedder: embedder,
		logger:   logger,
	}
}

// Index decrypts one file, extracts its text, stores the index record, and
// embeds non-empty text. The returned status reports what was produced.
func (p *Pipeline) Index(ctx context.Context, fileID string) (*models.IndexStatus, error) {
	rec, plain, err := p.vault.Read(ctx, fileID)
	if err != nil {
		return nil, err
	}

	text, err := p.registry.Extract(rec.Name, plain)
	if err != nil {
		// An unreadable document still gets an (empty) index record so the
		// file shows up as indexed-without-text rather than never-indexed.
		p.logger.Warn("text extraction failed",
			zap.String("file_id", fileID), zap.String("name", rec.Name), zap.Error(err))
		text = ""
	}
	text = strings.TrimSpace(text)

	if err := p.store.UpsertIndex(ctx, fileID, text); err != nil {
		return nil, fmt.Errorf("store index record: %w", err)
	}

	status := &models.IndexStatus{
		FileID:     fileID,
		Indexed:    true,
		HasText:    text != "",
		TextLength: len(text),
	}
	if text == "" || p.embedder == nil {
		return status, nil
	}

	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		p.logger.Warn("embedding failed; keyword search still covers this file",
			zap.String("file_id", fileID), zap.Error(err))
		return status, nil
	}
	if err := p.store.UpsertEmbedding(ctx, fileID, vector, p.embedder.ModelName()); err != nil {
		p.logger.Warn("storing embedding failed",
			zap.String("file_id", fileID), zap.Error(err))
	}
	return status, nil
}

// ReindexReport summarizes a full reindex sweep.
type ReindexReport struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// Reindex runs the pipeline over every stored file version. Per-file failures
// are logged and counted; the sweep continues.
func (p *Pipeline) Reindex(ctx context.Context) (*ReindexReport, error) {
	files, err := p.store.AllFiles(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReindexReport{Total: len(files)}
	for _, f := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if _, err := p.Index(ctx, f.ID); err != nil {
			report.Failed++
			p.logger.Warn("reindex skipped file", zap.String("file_id", f.ID), zap.Error(err))
			continue
		}
		report.Indexed++
	}
	p.logger.Info("reindex complete",
		zap.Int("total", report.Total), zap.Int("indexed", report.Indexed), zap.Int("failed", report.Failed))
	return report, nil
}
