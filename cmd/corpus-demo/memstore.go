package main

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/ingest"
	"github.com/vectral-ai/corpus-engine/internal/search"
	"github.com/vectral-ai/corpus-engine/internal/store"
)

// memStore keeps the whole corpus in process memory so the demo runs
// without a database. Filtering, ordering, and not-found behavior mirror
// the SQL repository.
type memStore struct {
	mu      sync.RWMutex
	chunks  map[string]domain.Chunk
	headers map[string]domain.Document
	images  map[string]memImage
}

type memImage struct {
	image     domain.Image
	embedding []float32
}

var (
	_ ingest.Store = (*memStore)(nil)
	_ search.Store = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		chunks:  make(map[string]domain.Chunk),
		headers: make(map[string]domain.Document),
		images:  make(map[string]memImage),
	}
}

func headerKey(tenantID, documentID string) string {
	return tenantID + "\x00" + documentID
}

func (m *memStore) UpsertChunk(_ context.Context, chunk domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.ID] = chunk
	return nil
}

func (m *memStore) UpsertHeader(_ context.Context, doc domain.Document) error {
	if doc.CreatedAt == "" {
		doc.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[headerKey(doc.TenantID, doc.DocumentID)] = doc
	return nil
}

func (m *memStore) UpsertImage(_ context.Context, img domain.Image, embedding []float32) error {
	if img.CreatedAt == "" {
		img.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ImageID] = memImage{image: img, embedding: embedding}
	return nil
}

func (m *memStore) SearchChunks(_ context.Context, embedding []float32, k int, filter store.ChunkFilter) ([]domain.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoredChunk
	for _, chunk := range m.chunks {
		if filter.TenantID != "" && chunk.Metadata.TenantID != filter.TenantID {
			continue
		}
		if len(filter.DocumentIDs) > 0 && !containsString(filter.DocumentIDs, chunk.Metadata.DocumentID) {
			continue
		}
		score := cosine(embedding, chunk.Embedding)
		chunk.Embedding = nil
		out = append(out, domain.ScoredChunk{Chunk: chunk, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memStore) SearchHeaders(_ context.Context, embedding []float32, k int, tenantID string) ([]domain.ScoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoredDocument
	for _, doc := range m.headers {
		if len(doc.SummaryEmbedding) == 0 {
			continue
		}
		if tenantID != "" && doc.TenantID != tenantID {
			continue
		}
		score := cosine(embedding, doc.SummaryEmbedding)
		doc.SummaryEmbedding = nil
		out = append(out, domain.ScoredDocument{Document: doc, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memStore) SearchImages(_ context.Context, embedding []float32, k int, filter store.ImageFilter) ([]domain.ScoredImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoredImage
	for _, entry := range m.images {
		if len(entry.embedding) == 0 {
			continue
		}
		if len(filter.DocumentIDs) > 0 && !containsString(filter.DocumentIDs, entry.image.DocumentID) {
			continue
		}
		if len(filter.PageNumbers) > 0 && !inPageWindow(entry.image.PageNumber, filter.PageNumbers, filter.PageRange) {
			continue
		}
		img := entry.image
		img.Data = nil
		out = append(out, domain.ScoredImage{Image: img, Score: cosine(embedding, entry.embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memStore) ChunkByID(_ context.Context, chunkID string) (*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return nil, store.ErrNotFound
	}
	chunk.Embedding = nil
	return &chunk, nil
}

func (m *memStore) ChunksByPage(_ context.Context, documentID string, page int) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Chunk
	for _, chunk := range m.chunks {
		if chunk.Metadata.DocumentID != documentID || chunk.Metadata.PageNumber != page {
			continue
		}
		chunk.Embedding = nil
		out = append(out, chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetHeader(_ context.Context, documentID, tenantID string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tenantID != "" {
		doc, ok := m.headers[headerKey(tenantID, documentID)]
		if !ok {
			return nil, store.ErrNotFound
		}
		return &doc, nil
	}
	for _, doc := range m.headers {
		if doc.DocumentID == documentID {
			return &doc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListDocuments(_ context.Context, tenantID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Document
	for _, doc := range m.headers {
		if tenantID != "" && doc.TenantID != tenantID {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out, nil
}

func (m *memStore) ListHandles(_ context.Context, tenantID string) ([]store.DocumentHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.DocumentHandle
	for _, doc := range m.headers {
		if tenantID != "" && doc.TenantID != tenantID {
			continue
		}
		out = append(out, store.DocumentHandle{
			DocumentID:     doc.DocumentID,
			SourceFilename: doc.SourceFilename,
			Title:          doc.Title,
		})
	}
	return out, nil
}

func (m *memStore) GetImage(_ context.Context, imageID string) (*domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.images[imageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	img := entry.image
	return &img, nil
}

func (m *memStore) GetImageMetadata(_ context.Context, imageID string) (*domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.images[imageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	img := entry.image
	img.Data = nil
	return &img, nil
}

func (m *memStore) ListImages(_ context.Context, documentID string) ([]domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Image
	for _, entry := range m.images {
		if entry.image.DocumentID != documentID {
			continue
		}
		img := entry.image
		img.Data = nil
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageNumber != out[j].PageNumber {
			return out[i].PageNumber < out[j].PageNumber
		}
		return out[i].ImageID < out[j].ImageID
	})
	return out, nil
}

func (m *memStore) DeleteChunksByFilename(_ context.Context, sourceFilename, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, chunk := range m.chunks {
		if chunk.Metadata.SourceFilename != sourceFilename {
			continue
		}
		if tenantID != "" && chunk.Metadata.TenantID != tenantID {
			continue
		}
		delete(m.chunks, id)
		n++
	}
	return n, nil
}

func (m *memStore) DeleteChunksByDocumentID(_ context.Context, documentID, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, chunk := range m.chunks {
		if chunk.Metadata.DocumentID != documentID {
			continue
		}
		if tenantID != "" && chunk.Metadata.TenantID != tenantID {
			continue
		}
		delete(m.chunks, id)
		n++
	}
	return n, nil
}

func (m *memStore) DeleteHeader(_ context.Context, documentID, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, doc := range m.headers {
		if doc.DocumentID != documentID {
			continue
		}
		if tenantID != "" && doc.TenantID != tenantID {
			continue
		}
		delete(m.headers, key)
		n++
	}
	return n, nil
}

func (m *memStore) DeleteImages(_ context.Context, documentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, entry := range m.images {
		if entry.image.DocumentID != documentID {
			continue
		}
		delete(m.images, id)
		n++
	}
	return n, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func inPageWindow(page int, centers []int, radius int) bool {
	for _, p := range centers {
		if page >= p-radius && page <= p+radius {
			return true
		}
	}
	return false
}
