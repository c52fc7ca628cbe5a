// Package search implements the three retrieval modes over vault metadata
// and derived records: keyword substring search, semantic vector search, and
// metadata filtering, plus a combined mode that fuses all three.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
)

// Engine answers search queries. embedder may be nil; semantic search then
// fails with errs.ErrInvalidInput and combined search runs without it.
type Engine struct {
	store    storage.Storage
	embedder embedding.Embedder
	cfg      *config.SearchConfig
	logger   *zap.Logger
}

// NewEngine creates a search engine.
func NewEngine(store storage.Storage, embedder embedding.Embedder, cfg *config.SearchConfig, logger *zap.Logger) *Engine {
	return &Engine{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return limit
}

// Keyword finds latest-version files whose extracted text contains the query
// as a case-insensitive substring, most recently modified first. An empty
// query is invalid; zero hits fail with errs.ErrNotFound.
func (e *Engine) Keyword(ctx context.Context, query string, limit int) ([]*models.FileRecord, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", errs.ErrInvalidInput)
	}
	hits, err := e.store.SearchContent(ctx, query, e.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: no files matching %q", errs.ErrNotFound, query)
	}
	return hits, nil
}

// Semantic embeds the query and ranks latest-version files by cosine
// similarity against stored embeddings of the same model. Vectors are unit
// length, so the dot product is the cosine.
func (e *Engine) Semantic(ctx context.Context, query string, topK int) ([]*models.SemanticHit, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", errs.ErrInvalidInput)
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: semantic search is disabled", errs.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := e.store.LatestEmbeddings(ctx, e.embedder.ModelName())
	if err != nil {
		return nil, err
	}

	type scored struct {
		fileID string
		score  float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(queryVec) {
			continue
		}
		ranked = append(ranked, scored{fileID: c.FileID, score: dot(queryVec, c.Vector)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	hits := make([]*models.SemanticHit, 0, len(ranked))
	for _, r := range ranked {
		rec, err := e.store.GetFile(ctx, r.fileID)
		if err != nil {
			// Embedding outliving its file record is repaired elsewhere.
			e.logger.Debug("skipping embedding with no file record", zap.String("file_id", r.fileID))
			continue
		}
		hits = append(hits, &models.SemanticHit{File: rec, Score: r.score})
	}
	return hits, nil
}

// Metadata finds latest-version files matching every set filter field.
// Zero hits fail with errs.ErrNotFound.
func (e *Engine) Metadata(ctx context.Context, filter *models.MetadataFilter) ([]*models.FileRecord, error) {
	if filter == nil {
		return nil, fmt.Errorf("%w: nil filter", errs.ErrInvalidInput)
	}
	filter.Limit = e.clampLimit(filter.Limit)
	hits, err := e.store.SearchMetadata(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: no files matching filter", errs.ErrNotFound)
	}
	return hits, nil
}

// Combined runs all three modes concurrently and fuses the results. A mode
// that fails contributes nothing; its error is logged, not returned, so one
// bad backend never blanks the whole response. Results are deduplicated by
// file id with first-seen-wins ordering: semantic, then keyword, then
// metadata.
func (e *Engine) Combined(ctx context.Context, query string) (*models.CombinedResponse, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", errs.ErrInvalidInput)
	}
	start := time.Now()

	var (
		wg       sync.WaitGroup
		semantic []*models.SemanticHit
		keyword  []*models.FileRecord
		metadata []*models.FileRecord
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		hits, err := e.Semantic(ctx, query, e.cfg.TopK)
		if err != nil {
			e.logger.Warn("semantic mode failed", zap.String("query", query), zap.Error(err))
			return
		}
		semantic = hits
	}()
	go func() {
		defer wg.Done()
		hits, err := e.Keyword(ctx, query, e.cfg.DefaultLimit)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				e.logger.Warn("keyword mode failed", zap.String("query", query), zap.Error(err))
			}
			return
		}
		keyword = hits
	}()
	go func() {
		defer wg.Done()
		hits, err := e.Metadata(ctx, &models.MetadataFilter{Name: query})
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				e.logger.Warn("metadata mode failed", zap.String("query", query), zap.Error(err))
			}
			return
		}
		metadata = hits
	}()
	wg.Wait()

	resp := &models.CombinedResponse{
		Query: query,
		Counts: models.ModeCounts{
			Semantic: len(semantic),
			Keyword:  len(keyword),
			Metadata: len(metadata),
		},
	}
	seen := make(map[string]bool)
	add := func(rec *models.FileRecord) {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			resp.Results = append(resp.Results, rec)
		}
	}
	for _, h := range semantic {
		add(h.File)
	}
	for _, rec := range keyword {
		add(rec)
	}
	for _, rec := range metadata {
		add(rec)
	}
	resp.QueryTimeMS = time.Since(start).Milliseconds()
	return resp, nil
}

func dot(a []float32, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
