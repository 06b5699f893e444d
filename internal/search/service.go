// Package search implements retrieval over the ingested corpus: semantic
// search across chunks, headers, and image captions, handle resolution,
// segment lookup, listing, and deletion.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/vectral-ai/corpus-engine/internal/cache"
	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/metrics"
	"github.com/vectral-ai/corpus-engine/internal/observability"
	"github.com/vectral-ai/corpus-engine/internal/store"
)

// Store is the persistence surface the search service depends on.
// *store.Corpus implements it; tests and the demo substitute in-memory
// implementations.
type Store interface {
	SearchChunks(ctx context.Context, embedding []float32, k int, filter store.ChunkFilter) ([]domain.ScoredChunk, error)
	SearchHeaders(ctx context.Context, embedding []float32, k int, tenantID string) ([]domain.ScoredDocument, error)
	SearchImages(ctx context.Context, embedding []float32, k int, filter store.ImageFilter) ([]domain.ScoredImage, error)
	ChunkByID(ctx context.Context, chunkID string) (*domain.Chunk, error)
	ChunksByPage(ctx context.Context, documentID string, page int) ([]domain.Chunk, error)
	GetHeader(ctx context.Context, documentID, tenantID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]domain.Document, error)
	ListHandles(ctx context.Context, tenantID string) ([]store.DocumentHandle, error)
	GetImage(ctx context.Context, imageID string) (*domain.Image, error)
	GetImageMetadata(ctx context.Context, imageID string) (*domain.Image, error)
	ListImages(ctx context.Context, documentID string) ([]domain.Image, error)
	DeleteChunksByFilename(ctx context.Context, sourceFilename, tenantID string) (int64, error)
	DeleteChunksByDocumentID(ctx context.Context, documentID, tenantID string) (int64, error)
	DeleteHeader(ctx context.Context, documentID, tenantID string) (int64, error)
	DeleteImages(ctx context.Context, documentID string) (int64, error)
}

var _ Store = (*store.Corpus)(nil)

// Config tunes the search service.
type Config struct {
	// CacheTTL bounds how long query results stay cached. Zero means the
	// default of five minutes.
	CacheTTL time.Duration
}

// Service executes retrieval operations. A nil cache disables caching;
// a nil metrics sink disables instrumentation.
type Service struct {
	store    Store
	embedder domain.Embedder
	cache    cache.Client
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *observability.Logger
}

// NewService wires the search service over a store and an embedder.
func NewService(st Store, embedder domain.Embedder, c cache.Client, cfg Config, m *metrics.Metrics, logger *observability.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Service{
		store:    st,
		embedder: embedder,
		cache:    c,
		cacheTTL: cfg.CacheTTL,
		metrics:  m,
		logger:   logger.WithComponent("search"),
	}
}

// ChunkSearchRequest selects ranked chunks by semantic similarity.
// DocumentNames are free-form handles resolved before filtering and
// merged with DocumentIDs.
type ChunkSearchRequest struct {
	Query         string
	TenantID      string
	K             int
	DocumentIDs   []string
	DocumentNames []string
}

// ChunkSearch embeds the query and returns the k most similar chunks,
// scoped to the tenant and the resolved document filter.
func (s *Service) ChunkSearch(ctx context.Context, req ChunkSearchRequest) ([]domain.ScoredChunk, error) {
	started := time.Now()
	chunks, err := s.chunkSearch(ctx, req)
	s.observe("chunks", started, err)
	return chunks, err
}

func (s *Service) chunkSearch(ctx context.Context, req ChunkSearchRequest) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.InputError("query must not be empty", nil)
	}
	if req.K <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	docIDs := append([]string(nil), req.DocumentIDs...)
	if len(req.DocumentNames) > 0 {
		resolved, err := s.ResolveHandles(ctx, req.DocumentNames, req.TenantID)
		if err != nil {
			return nil, err
		}
		docIDs = mergeIDs(docIDs, resolved)
		// A requested filter that resolves to nothing must not widen the
		// search to the whole corpus.
		if len(docIDs) == 0 {
			return []domain.ScoredChunk{}, nil
		}
	}

	key := cache.SearchKey("chunks", req.TenantID, req.Query, req.K, docIDs...)
	var cached []domain.ScoredChunk
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.SearchChunks(ctx, embedding, req.K, store.ChunkFilter{
		TenantID:    req.TenantID,
		DocumentIDs: docIDs,
	})
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, chunks)
	return chunks, nil
}

// HeaderSearch returns the k documents whose summaries are most similar
// to the query.
func (s *Service) HeaderSearch(ctx context.Context, query, tenantID string, k int) ([]domain.ScoredDocument, error) {
	started := time.Now()
	docs, err := s.headerSearch(ctx, query, tenantID, k)
	s.observe("headers", started, err)
	return docs, err
}

func (s *Service) headerSearch(ctx context.Context, query, tenantID string, k int) ([]domain.ScoredDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.InputError("query must not be empty", nil)
	}
	if k <= 0 {
		return []domain.ScoredDocument{}, nil
	}

	key := cache.SearchKey("headers", tenantID, query, k)
	var cached []domain.ScoredDocument
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.SearchHeaders(ctx, embedding, k, tenantID)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, docs)
	return docs, nil
}

// HybridResult groups one matched document with its best chunks.
type HybridResult struct {
	Document domain.ScoredDocument `json:"document"`
	Chunks   []domain.ScoredChunk  `json:"chunks"`
}

// HybridSearch finds the headerK most relevant documents, then the
// chunkKPerDoc best chunks inside each. When no headers match (for
// example before any summaries exist) it falls back to a flat chunk
// search and wraps each hit in a synthetic document record.
func (s *Service) HybridSearch(ctx context.Context, query, tenantID string, headerK, chunkKPerDoc int) ([]HybridResult, error) {
	started := time.Now()
	results, err := s.hybridSearch(ctx, query, tenantID, headerK, chunkKPerDoc)
	s.observe("hybrid", started, err)
	return results, err
}

func (s *Service) hybridSearch(ctx context.Context, query, tenantID string, headerK, chunkKPerDoc int) ([]HybridResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.InputError("query must not be empty", nil)
	}
	if headerK <= 0 || chunkKPerDoc <= 0 {
		return []HybridResult{}, nil
	}

	key := cache.SearchKey("hybrid", tenantID, query, headerK, strconv.Itoa(chunkKPerDoc))
	var cached []HybridResult
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	headers, err := s.store.SearchHeaders(ctx, embedding, headerK, tenantID)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		results, err := s.flatFallback(ctx, embedding, tenantID, headerK*chunkKPerDoc)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, results)
		return results, nil
	}

	results := make([]HybridResult, 0, len(headers))
	for _, header := range headers {
		chunks, err := s.store.SearchChunks(ctx, embedding, chunkKPerDoc, store.ChunkFilter{
			TenantID:    tenantID,
			DocumentIDs: []string{header.DocumentID},
		})
		if err != nil {
			return nil, err
		}
		results = append(results, HybridResult{Document: header, Chunks: chunks})
	}

	s.cacheSet(ctx, key, results)
	return results, nil
}

// flatFallback searches chunks without a document scope and promotes each
// hit's metadata to a document record, so hybrid callers always see the
// same shape.
func (s *Service) flatFallback(ctx context.Context, embedding []float32, tenantID string, k int) ([]HybridResult, error) {
	chunks, err := s.store.SearchChunks(ctx, embedding, k, store.ChunkFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	results := make([]HybridResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, HybridResult{
			Document: domain.ScoredDocument{
				Document: domain.Document{
					TenantID:       c.Metadata.TenantID,
					DocumentID:     c.Metadata.DocumentID,
					SourceFilename: c.Metadata.SourceFilename,
					Title:          c.Metadata.Title,
					TotalPages:     c.Metadata.TotalPages,
				},
				Score: c.Score,
			},
			Chunks: []domain.ScoredChunk{c},
		})
	}
	return results, nil
}

// ImageSearchRequest selects image captions by semantic similarity.
// PageNumbers, when set, expand to inclusive windows of ±PageRange.
type ImageSearchRequest struct {
	Query       string
	K           int
	DocumentIDs []string
	PageNumbers []int
	PageRange   int
}

// ImageSearch embeds the query and returns the k most similar captioned
// images. Images whose captions were empty carry no embedding and never
// match. Results are not cached: image rows are not tenant-scoped, so
// tenant-prefixed invalidation could not keep them fresh.
func (s *Service) ImageSearch(ctx context.Context, req ImageSearchRequest) ([]domain.ScoredImage, error) {
	started := time.Now()
	images, err := s.imageSearch(ctx, req)
	s.observe("images", started, err)
	return images, err
}

func (s *Service) imageSearch(ctx context.Context, req ImageSearchRequest) ([]domain.ScoredImage, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.InputError("query must not be empty", nil)
	}
	if req.K <= 0 {
		return []domain.ScoredImage{}, nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return s.store.SearchImages(ctx, embedding, req.K, store.ImageFilter{
		DocumentIDs: req.DocumentIDs,
		PageNumbers: req.PageNumbers,
		PageRange:   req.PageRange,
	})
}

// SegmentRequest retrieves exact chunks from one document, selected by
// chunk index or by page number. Exactly one selector must be set.
type SegmentRequest struct {
	DocumentID string
	ChunkIndex *int
	PageNumber *int
}

// Segment returns the selected chunks without any similarity scoring.
func (s *Service) Segment(ctx context.Context, req SegmentRequest) ([]domain.Chunk, error) {
	if req.DocumentID == "" {
		return nil, domain.InputError("document id must not be empty", nil)
	}

	switch {
	case req.ChunkIndex != nil && req.PageNumber != nil:
		return nil, domain.InputError("provide exactly one of chunk_index and page_number", nil)

	case req.ChunkIndex != nil:
		chunk, err := s.store.ChunkByID(ctx, domain.ChunkID(req.DocumentID, *req.ChunkIndex))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, domain.NotFoundError("chunk not found: " + domain.ChunkID(req.DocumentID, *req.ChunkIndex))
			}
			return nil, err
		}
		return []domain.Chunk{*chunk}, nil

	case req.PageNumber != nil:
		chunks, err := s.store.ChunksByPage(ctx, req.DocumentID, *req.PageNumber)
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			return nil, domain.NotFoundError("no chunks on page " + strconv.Itoa(*req.PageNumber) + " of " + req.DocumentID)
		}
		return chunks, nil

	default:
		return nil, domain.InputError("provide exactly one of chunk_index and page_number", nil)
	}
}

// List returns the tenant's document headers, newest first.
func (s *Service) List(ctx context.Context, tenantID string) ([]domain.Document, error) {
	return s.store.ListDocuments(ctx, tenantID)
}

// Delete removes one document: its chunks, its header, and its images.
// The header's source filename drives the chunk delete when available;
// otherwise (or when that path removes nothing) chunks are deleted by
// document id. Zero chunks removed by both paths means the document was
// never there.
func (s *Service) Delete(ctx context.Context, documentID, tenantID string) (*domain.DeleteResult, error) {
	if documentID == "" {
		return nil, domain.InputError("document id must not be empty", nil)
	}

	var chunksDeleted int64
	header, err := s.store.GetHeader(ctx, documentID, tenantID)
	if err == nil && header.SourceFilename != "" {
		chunksDeleted, err = s.store.DeleteChunksByFilename(ctx, header.SourceFilename, tenantID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("document_id", documentID).
				Msg("filename-scoped chunk delete failed, falling back to document id")
			chunksDeleted = 0
		}
		if _, err := s.store.DeleteHeader(ctx, documentID, tenantID); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Msg("header delete failed")
		}
	}

	if chunksDeleted == 0 {
		byID, err := s.store.DeleteChunksByDocumentID(ctx, documentID, tenantID)
		if err != nil {
			return nil, err
		}
		chunksDeleted = byID
	}

	imagesDeleted, err := s.store.DeleteImages(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if chunksDeleted == 0 {
		return nil, domain.NotFoundError("document not found: " + documentID)
	}

	s.InvalidateTenant(ctx, tenantID)
	s.logger.Info().
		Str("document_id", documentID).
		Str("tenant_id", tenantID).
		Int64("chunks_deleted", chunksDeleted).
		Int64("images_deleted", imagesDeleted).
		Msg("document deleted")
	return &domain.DeleteResult{
		ChunksDeleted: int(chunksDeleted),
		ImagesDeleted: int(imagesDeleted),
	}, nil
}

// Image returns one stored image including its raw bytes.
func (s *Service) Image(ctx context.Context, imageID string) (*domain.Image, error) {
	img, err := s.store.GetImage(ctx, imageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFoundError("image not found: " + imageID)
	}
	return img, err
}

// ImageMetadata returns one stored image without its bytes.
func (s *Service) ImageMetadata(ctx context.Context, imageID string) (*domain.Image, error) {
	img, err := s.store.GetImageMetadata(ctx, imageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFoundError("image not found: " + imageID)
	}
	return img, err
}

// DocumentImages lists a document's stored images, bytes excluded.
func (s *Service) DocumentImages(ctx context.Context, documentID string) ([]domain.Image, error) {
	return s.store.ListImages(ctx, documentID)
}

// InvalidateTenant drops the tenant's cached search results. A failed
// invalidation only risks stale reads until the TTL expires, so it is
// logged rather than surfaced.
func (s *Service) InvalidateTenant(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPrefix(ctx, cache.TenantPrefix(tenantID)); err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("cache invalidation failed")
	}
}

func (s *Service) observe(kind string, started time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordSearch(kind, time.Since(started).Seconds(), err)
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if s.metrics != nil && errors.Is(err, cache.ErrCacheMiss) {
			s.metrics.CacheMisses.Inc()
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}

	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("search cache write failed")
	}
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range b {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return merged
}
