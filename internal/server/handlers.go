package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
)

// uploadResponse pairs the stored record with the outcome of its indexing.
type uploadResponse struct {
	File  *models.FileRecord  `json:"file"`
	Index *models.IndexStatus `json:"index,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var projectID *string
	if pid := chi.URLParam(r, "projectID"); pid != "" {
		projectID = &pid
	}

	// One ciphertext block plus form overhead on top of the plaintext ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Vault.MaxUploadBytes()+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	s.logger.Debug("upload request", zap.String("name", header.Filename), zap.Int("bytes", len(data)))
	rec, err := s.vault.Put(r.Context(), projectID, header.Filename, data)
	if err != nil {
		s.respondMapped(w, err)
		return
	}

	// Indexing is best-effort: the upload succeeded regardless.
	status, err := s.pipeline.Index(r.Context(), rec.ID)
	if err != nil {
		s.logger.Warn("indexing after upload failed", zap.String("file_id", rec.ID), zap.Error(err))
	}
	s.respondJSON(w, http.StatusCreated, uploadResponse{File: rec, Index: status})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, plain, err := s.vault.Get(r.Context(), id)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(plain)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plain)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete file request", zap.String("id", id))
	if err := s.vault.Delete(r.Context(), id); err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListRootFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.vault.ListLatest(r.Context(), nil)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleListProjectFiles(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.vault.GetProject(r.Context(), projectID); err != nil {
		s.respondMapped(w, err)
		return
	}
	files, err := s.vault.ListLatest(r.Context(), &projectID)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	entries, err := s.vault.VersionEntries(r.Context(), &projectID, name)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"versions": entries})
}

type projectRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	project, err := s.vault.CreateProject(r.Context(), req.Name)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.vault.ListProjects(r.Context())
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.vault.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.vault.AddTag(r.Context(), chi.URLParam(r, "id"), req.Tag); err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "tagged"})
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid tag")
		return
	}
	if err := s.vault.RemoveTag(r.Context(), chi.URLParam(r, "id"), tag); err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "untagged"})
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.vault.Tags(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

type contentSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleSearchContent(w http.ResponseWriter, r *http.Request) {
	var req contentSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("content search", zap.String("query", req.Query), zap.Int("limit", req.Limit))
	hits, err := s.engine.Keyword(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": req.Query, "results": hits})
}

type semanticSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func (s *Server) handleSearchSemantic(w http.ResponseWriter, r *http.Request) {
	var req semanticSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hits, err := s.engine.Semantic(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": req.Query, "results": hits})
}

func (s *Server) handleSearchMetadata(w http.ResponseWriter, r *http.Request) {
	var filter models.MetadataFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hits, err := s.engine.Metadata(r.Context(), &filter)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

type combinedSearchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearchCombined(w http.ResponseWriter, r *http.Request) {
	var req combinedSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.engine.Combined(r.Context(), req.Query)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReconcileCheck(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.Check(r.Context())
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"clean": report.Clean(), "report": report})
}

func (s *Server) handleReconcileRepair(w http.ResponseWriter, r *http.Request) {
	result, err := s.reconciler.Repair(r.Context())
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Reindex(r.Context())
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	events, err := s.storage.RecentAudit(r.Context(), limit)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileCount, err := s.storage.CountFiles(ctx)
	if err != nil {
		s.logger.Error("status: count files failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	embeddingCount, err := s.storage.CountEmbeddings(ctx)
	if err != nil {
		s.logger.Error("status: count embeddings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"files":      fileCount,
		"embeddings": embeddingCount,
		"config": map[string]interface{}{
			"vault_root":           s.config.Vault.RootDir,
			"max_upload_mb":        s.config.Vault.MaxUploadMB,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"database_path":        s.config.Storage.DatabasePath,
		},
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondMapped translates the error taxonomy into HTTP status codes.
func (s *Server) respondMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrConflict):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
