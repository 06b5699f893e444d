package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/ingest"
	"github.com/vectral-ai/corpus-engine/internal/jobs"
	"github.com/vectral-ai/corpus-engine/internal/loader"
	"github.com/vectral-ai/corpus-engine/internal/observability"
	"github.com/vectral-ai/corpus-engine/internal/search"
)

const (
	uploadMemoryLimit = 32 << 20
	readyProbeTimeout = 5 * time.Second

	defaultSearchK      = 5
	defaultHeaderK      = 3
	defaultChunkKPerDoc = 3
)

// Ingestor runs one ingestion job to completion, marking the job failed on
// error.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request)
}

// Prober reports whether the backing store is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// UploadLimits bounds a single upload request.
type UploadLimits struct {
	MaxFiles      int
	MaxUploadMB   int
	DefaultTenant string
}

// Handler carries the API's dependencies. One instance serves all routes.
type Handler struct {
	search *search.Service
	jobs   *jobs.Manager
	runner Ingestor
	probe  Prober
	limits UploadLimits
	logger *observability.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc *search.Service, jm *jobs.Manager, runner Ingestor, probe Prober, limits UploadLimits, logger *observability.Logger) *Handler {
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = 10
	}
	if limits.MaxUploadMB <= 0 {
		limits.MaxUploadMB = 50
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Handler{
		search: svc,
		jobs:   jm,
		runner: runner,
		probe:  probe,
		limits: limits,
		logger: logger.WithComponent("api"),
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type uploadResponse struct {
	Jobs []jobs.State `json:"jobs"`
}

type documentsResponse struct {
	Documents []domain.Document `json:"documents"`
}

type chunksResponse struct {
	Results []domain.ScoredChunk `json:"results"`
}

type headersResponse struct {
	Results []domain.ScoredDocument `json:"results"`
}

type hybridResponse struct {
	Results []search.HybridResult `json:"results"`
}

type imagesResponse struct {
	Results []domain.ScoredImage `json:"results"`
}

type segmentsResponse struct {
	Chunks []domain.Chunk `json:"chunks"`
}

type documentImagesResponse struct {
	Images []domain.Image `json:"images"`
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	if err := h.probe.Ping(ctx); err != nil {
		h.writeFailure(w, http.StatusServiceUnavailable, "store unreachable: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// upload accepts a multipart batch of documents and starts one ingestion
// job per file. The whole batch is validated before any job is created, so
// a rejected request never leaves partial jobs behind.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		h.writeFailure(w, http.StatusBadRequest, "no files provided")
		return
	}
	if len(files) > h.limits.MaxFiles {
		h.writeFailure(w, http.StatusBadRequest,
			fmt.Sprintf("too many files: %d (limit %d)", len(files), h.limits.MaxFiles))
		return
	}

	tenantID := r.FormValue("tenant_id")
	if tenantID == "" {
		tenantID = h.limits.DefaultTenant
	}

	var extra map[string]string
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			h.writeFailure(w, http.StatusBadRequest, "metadata must be a JSON object of strings: "+err.Error())
			return
		}
	}

	maxBytes := int64(h.limits.MaxUploadMB) << 20
	for _, fh := range files {
		if !loader.Supported(fh.Filename) {
			h.writeFailure(w, http.StatusBadRequest, "unsupported file type: "+fh.Filename)
			return
		}
		if fh.Size > maxBytes {
			h.writeFailure(w, http.StatusBadRequest,
				fmt.Sprintf("%s exceeds the %d MiB upload limit", fh.Filename, h.limits.MaxUploadMB))
			return
		}
	}

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := h.saveUpload(fh)
		if err != nil {
			for _, p := range paths {
				os.Remove(p)
			}
			h.writeFailure(w, http.StatusInternalServerError, "store upload: "+err.Error())
			return
		}
		paths = append(paths, path)
	}

	states := make([]jobs.State, 0, len(files))
	for i, fh := range files {
		job := h.jobs.Create(fh.Filename, tenantID)
		states = append(states, job)

		path := paths[i]
		filename := fh.Filename
		// Detached from the request context: the job outlives the 202
		// response.
		go func() {
			defer os.Remove(path)
			h.runner.Ingest(context.Background(), ingest.Request{
				JobID:    job.JobID,
				Path:     path,
				Filename: filename,
				TenantID: tenantID,
				Metadata: extra,
			})
		}()
	}

	h.logger.Info().
		Int("files", len(files)).
		Str("tenant_id", tenantID).
		Msg("upload accepted")
	h.writeJSON(w, http.StatusAccepted, uploadResponse{Jobs: states})
}

func (h *Handler) saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "corpus-upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	state, ok := h.jobs.Get(jobID)
	if !ok {
		h.writeFailure(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.search.List(r.Context(), h.tenantOf(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	result, err := h.search.Delete(r.Context(), documentID, h.tenantOf(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type chunkSearchDTO struct {
	Query         string   `json:"query"`
	TenantID      string   `json:"tenant_id"`
	K             *int     `json:"k"`
	DocumentIDs   []string `json:"document_ids"`
	DocumentNames []string `json:"document_names"`
}

func (h *Handler) searchChunks(w http.ResponseWriter, r *http.Request) {
	var dto chunkSearchDTO
	if !h.decode(w, r, &dto) {
		return
	}
	results, err := h.search.ChunkSearch(r.Context(), search.ChunkSearchRequest{
		Query:         dto.Query,
		TenantID:      h.tenantOr(dto.TenantID),
		K:             intOr(dto.K, defaultSearchK),
		DocumentIDs:   dto.DocumentIDs,
		DocumentNames: dto.DocumentNames,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, chunksResponse{Results: results})
}

type headerSearchDTO struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
	K        *int   `json:"k"`
}

func (h *Handler) searchHeaders(w http.ResponseWriter, r *http.Request) {
	var dto headerSearchDTO
	if !h.decode(w, r, &dto) {
		return
	}
	results, err := h.search.HeaderSearch(r.Context(), dto.Query, h.tenantOr(dto.TenantID), intOr(dto.K, defaultHeaderK))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, headersResponse{Results: results})
}

type hybridSearchDTO struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
	HeaderK  *int   `json:"header_k"`
	ChunkK   *int   `json:"chunk_k"`
}

func (h *Handler) searchHybrid(w http.ResponseWriter, r *http.Request) {
	var dto hybridSearchDTO
	if !h.decode(w, r, &dto) {
		return
	}
	results, err := h.search.HybridSearch(r.Context(), dto.Query, h.tenantOr(dto.TenantID),
		intOr(dto.HeaderK, defaultHeaderK), intOr(dto.ChunkK, defaultChunkKPerDoc))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, hybridResponse{Results: results})
}

type imageSearchDTO struct {
	Query       string   `json:"query"`
	K           *int     `json:"k"`
	DocumentIDs []string `json:"document_ids"`
	PageNumbers []int    `json:"page_numbers"`
	PageRange   int      `json:"page_range"`
}

func (h *Handler) searchImages(w http.ResponseWriter, r *http.Request) {
	var dto imageSearchDTO
	if !h.decode(w, r, &dto) {
		return
	}
	results, err := h.search.ImageSearch(r.Context(), search.ImageSearchRequest{
		Query:       dto.Query,
		K:           intOr(dto.K, defaultSearchK),
		DocumentIDs: dto.DocumentIDs,
		PageNumbers: dto.PageNumbers,
		PageRange:   dto.PageRange,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, imagesResponse{Results: results})
}

func (h *Handler) segments(w http.ResponseWriter, r *http.Request) {
	req := search.SegmentRequest{DocumentID: chi.URLParam(r, "documentID")}

	q := r.URL.Query()
	if v := q.Get("chunk_index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeFailure(w, http.StatusBadRequest, "chunk_index must be an integer")
			return
		}
		req.ChunkIndex = &n
	}
	if v := q.Get("page_number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeFailure(w, http.StatusBadRequest, "page_number must be an integer")
			return
		}
		req.PageNumber = &n
	}

	chunks, err := h.search.Segment(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, segmentsResponse{Chunks: chunks})
}

func (h *Handler) getImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.search.Image(r.Context(), chi.URLParam(r, "imageID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Write(img.Data)
}

func (h *Handler) imageMetadata(w http.ResponseWriter, r *http.Request) {
	img, err := h.search.ImageMetadata(r.Context(), chi.URLParam(r, "imageID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, img)
}

func (h *Handler) documentImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.search.DocumentImages(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentImagesResponse{Images: images})
}

func (h *Handler) tenantOf(r *http.Request) string {
	return h.tenantOr(r.URL.Query().Get("tenant_id"))
}

func (h *Handler) tenantOr(tenant string) string {
	if tenant == "" {
		return h.limits.DefaultTenant
	}
	return tenant
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeFailure(w, domain.HTTPStatus(err), err.Error())
}

func (h *Handler) writeFailure(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorBody{Success: false, Error: message})
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
