package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectral-ai/corpus-engine/internal/cache"
	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/jobs"
	"github.com/vectral-ai/corpus-engine/internal/loader"
	"github.com/vectral-ai/corpus-engine/internal/metadata"
	"github.com/vectral-ai/corpus-engine/internal/observability"
	"github.com/vectral-ai/corpus-engine/internal/vision"
)

type storedImage struct {
	img       domain.Image
	embedding []float32
}

// fakeStore records writes; image writes can be scripted to fail the
// first N attempts per image.
type fakeStore struct {
	mu      sync.Mutex
	chunks  []domain.Chunk
	headers []domain.Document
	images  []storedImage

	chunkErr      error
	headerErr     error
	imageErr      error
	imageFailures int
	imageAttempts map[string]int
}

func (f *fakeStore) UpsertChunk(_ context.Context, chunk domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkErr != nil {
		return f.chunkErr
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeStore) UpsertHeader(_ context.Context, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headerErr != nil {
		return f.headerErr
	}
	f.headers = append(f.headers, doc)
	return nil
}

func (f *fakeStore) UpsertImage(_ context.Context, img domain.Image, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageAttempts == nil {
		f.imageAttempts = make(map[string]int)
	}
	f.imageAttempts[img.ImageID]++
	if f.imageErr != nil && f.imageAttempts[img.ImageID] <= f.imageFailures {
		return f.imageErr
	}
	f.images = append(f.images, storedImage{img: img, embedding: embedding})
	return nil
}

type fakeEmbedder struct {
	docErr   error
	docCalls int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string, onProgress func(int)) ([][]float32, error) {
	f.docCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.docErr != nil {
		return nil, f.docErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
		if onProgress != nil {
			onProgress(i + 1)
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []float32{0.5, 0.5}, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) Model() string  { return "fake-embed" }

type fakeMeta struct {
	title string // empty → document id
	quick string
}

func (f *fakeMeta) Generate(_ context.Context, documentID string, _ []domain.PageUnit) metadata.Result {
	title := f.title
	if title == "" {
		title = documentID
	}
	return metadata.Result{
		Title:            title,
		Summary:          "summary of " + documentID,
		Language:         "en",
		SummaryEmbedding: []float32{0.1, 0.2},
	}
}

func (f *fakeMeta) QuickSummary(_ context.Context, _ []domain.PageUnit) string {
	return f.quick
}

type fakeExtractor struct {
	images    []vision.Image
	err       error
	summaries []string
}

func (f *fakeExtractor) Extract(_ context.Context, _, _, docSummary string) ([]vision.Image, error) {
	f.summaries = append(f.summaries, docSummary)
	return f.images, f.err
}

type fakeLoader struct {
	units []domain.PageUnit
	err   error
}

func (f fakeLoader) load(_ context.Context, _, _ string) ([]domain.PageUnit, error) {
	return f.units, f.err
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func newTestOrchestrator(st Store, extractor ImageExtractor, meta MetadataGenerator, c cache.Client) (*Orchestrator, *jobs.Manager) {
	jm := jobs.NewManager(testLogger())
	o := NewOrchestrator(st, &fakeEmbedder{}, meta, extractor, jm, c, Config{
		ChunkSize:       2000,
		ChunkOverlap:    200,
		DefaultTenant:   "default",
		ImageRetryDelay: time.Millisecond,
	}, nil, testLogger())
	return o, jm
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func embeddableImage(id string, page int, desc string) vision.Image {
	return vision.Image{
		Image: domain.Image{
			ImageID:     id,
			DocumentID:  "scan",
			PageNumber:  page,
			MimeType:    "image/png",
			Width:       100,
			Height:      80,
			Description: desc,
			Data:        []byte{1, 2, 3},
		},
		ShouldEmbed: true,
	}
}

func TestIngestMarkdownHappyPath(t *testing.T) {
	path := writeFile(t, "notes.md", "Alpha\nBeta")
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, nil)
	job := jm.Create("notes.md", "t1")

	var mu sync.Mutex
	var seen []jobs.State
	unsubscribe, ok := jm.Subscribe(job.JobID, func(s jobs.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	require.True(t, ok)
	defer unsubscribe()

	o.Ingest(context.Background(), Request{
		JobID:    job.JobID,
		Path:     path,
		Filename: "notes.md",
		TenantID: "t1",
		Metadata: map[string]string{"source": "unit-test"},
	})

	final, ok := jm.Get(job.JobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, jobs.StageCompleted, final.Stage)
	assert.Equal(t, 1, final.TotalChunks)
	assert.Equal(t, 1, final.ProcessedChunks)
	assert.Equal(t, "notes", final.DocumentID)
	assert.Empty(t, final.Error)

	mu.Lock()
	var stages []jobs.Stage
	for _, s := range seen {
		if len(stages) == 0 || stages[len(stages)-1] != s.Stage {
			stages = append(stages, s.Stage)
		}
	}
	mu.Unlock()
	assert.Equal(t, []jobs.Stage{
		jobs.StageParsing, jobs.StageChunking, jobs.StageEmbedding,
		jobs.StageStoring, jobs.StageCompleted,
	}, stages)

	require.Len(t, st.chunks, 1)
	chunk := st.chunks[0]
	assert.Equal(t, "notes#chunk_000", chunk.ID)
	assert.Equal(t, "Title: notes\n\nAlpha\nBeta", chunk.Content)
	assert.Equal(t, "t1", chunk.Metadata.TenantID)
	assert.Equal(t, "notes.md", chunk.Metadata.SourceFilename)
	assert.Equal(t, 0, chunk.Metadata.ChunkIndex)
	assert.Equal(t, 1, chunk.Metadata.TotalChunks)
	assert.Equal(t, 1, chunk.Metadata.PageNumber)
	assert.Equal(t, 1, chunk.Metadata.TotalPages)
	assert.Equal(t, "unit-test", chunk.Metadata.Extra["source"])
	assert.NotEmpty(t, chunk.Embedding)

	require.Len(t, st.headers, 1)
	header := st.headers[0]
	assert.Equal(t, "notes", header.DocumentID)
	assert.Equal(t, "notes.md", header.SourceFilename)
	assert.Equal(t, domain.DocumentTypeMarkdown, header.DocumentType)
	assert.Equal(t, 1, header.ChunkCount)
	assert.Equal(t, 1, header.TotalPages)
	assert.Equal(t, "t1", header.TenantID)
	assert.NotEmpty(t, header.SummaryEmbedding)
}

func TestIngestFailureMarksJob(t *testing.T) {
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, nil)
	job := jm.Create("missing.md", "t1")

	o.Ingest(context.Background(), Request{
		JobID:    job.JobID,
		Path:     filepath.Join(t.TempDir(), "missing.md"),
		Filename: "missing.md",
		TenantID: "t1",
	})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, jobs.StageFailed, final.Stage)
	assert.NotEmpty(t, final.Error)
	assert.Equal(t, "Ingestion failed", final.Message)
	assert.Empty(t, st.chunks)
	assert.Empty(t, st.headers)
}

func TestIngestUnsupportedExtension(t *testing.T) {
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, nil)
	job := jm.Create("payload.exe", "t1")

	o.Ingest(context.Background(), Request{
		JobID:    job.JobID,
		Path:     writeFile(t, "payload.exe", "MZ"),
		Filename: "payload.exe",
	})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
}

func TestIngestCancelledContext(t *testing.T) {
	path := writeFile(t, "notes.md", "Alpha")
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, nil)
	job := jm.Create("notes.md", "t1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Ingest(ctx, Request{JobID: job.JobID, Path: path, Filename: "notes.md"})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, "cancelled", final.Error)
	assert.Equal(t, "Ingestion failed", final.Message)
}

func TestReingestIsDeterministic(t *testing.T) {
	path := writeFile(t, "notes.md", strings.Repeat("Alpha beta gamma. ", 30))
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, nil)

	for i := 0; i < 2; i++ {
		job := jm.Create("notes.md", "t1")
		o.Ingest(context.Background(), Request{
			JobID: job.JobID, Path: path, Filename: "notes.md", TenantID: "t1",
		})
	}

	require.Len(t, st.headers, 2)
	n := len(st.chunks) / 2
	require.NotZero(t, n)
	first, second := st.chunks[:n], st.chunks[n:]
	require.Len(t, second, n)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].Metadata, second[i].Metadata)
	}
}

func TestIngestDefaultTenant(t *testing.T) {
	path := writeFile(t, "notes.txt", "Alpha")
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, nil)
	job := jm.Create("notes.txt", "")

	o.Ingest(context.Background(), Request{JobID: job.JobID, Path: path, Filename: "notes.txt"})

	require.Len(t, st.chunks, 1)
	assert.Equal(t, "default", st.chunks[0].Metadata.TenantID)
	require.Len(t, st.headers, 1)
	assert.Equal(t, "default", st.headers[0].TenantID)
}

func TestIngestImageOnlyPDF(t *testing.T) {
	extractor := &fakeExtractor{images: []vision.Image{
		embeddableImage("scan_p1_img0_aabbccdd", 1, "A bar chart of quarterly revenue"),
	}}
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{quick: "scan preview"}, nil)
	o.docLoader = fakeLoader{err: domain.InputError(loader.ErrNoText, nil)}
	job := jm.Create("scan.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "scan.pdf", Filename: "scan.pdf", TenantID: "t1",
	})

	final, _ := jm.Get(job.JobID)
	require.Equal(t, jobs.StatusCompleted, final.Status)

	require.Len(t, st.chunks, 1)
	assert.Contains(t, st.chunks[0].Content, "[IMAGE:scan_p1_img0_aabbccdd]")
	assert.Contains(t, st.chunks[0].Content, "A bar chart of quarterly revenue")
	assert.Equal(t, 1, st.chunks[0].Metadata.PageNumber)

	require.Len(t, st.images, 1)
	assert.NotEmpty(t, st.images[0].embedding)
	assert.Equal(t, []string{"scan preview"}, extractor.summaries)
}

func TestIngestPDFWithoutTextOrImages(t *testing.T) {
	extractor := &fakeExtractor{}
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{}, nil)
	o.docLoader = fakeLoader{err: domain.InputError(loader.ErrNoText, nil)}
	job := jm.Create("blank.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "blank.pdf", Filename: "blank.pdf",
	})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Contains(t, final.Error, loader.ErrNoText)
}

func TestIngestSkipsNonEmbedImages(t *testing.T) {
	decorative := embeddableImage("scan_p1_img1_bbccddee", 1, "Logo")
	decorative.ShouldEmbed = false
	extractor := &fakeExtractor{images: []vision.Image{
		embeddableImage("scan_p1_img0_aabbccdd", 1, "A diagram"),
		decorative,
	}}
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{}, nil)
	o.docLoader = fakeLoader{units: []domain.PageUnit{{Text: "Page text", PageNumber: 1, TotalPages: 1}}}
	job := jm.Create("scan.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "scan.pdf", Filename: "scan.pdf", TenantID: "t1",
	})

	final, _ := jm.Get(job.JobID)
	require.Equal(t, jobs.StatusCompleted, final.Status)

	require.Len(t, st.images, 1)
	assert.Equal(t, "scan_p1_img0_aabbccdd", st.images[0].img.ImageID)
	require.Len(t, st.chunks, 1)
	assert.Contains(t, st.chunks[0].Content, "[IMAGE:scan_p1_img0_aabbccdd]")
	assert.NotContains(t, st.chunks[0].Content, "scan_p1_img1_bbccddee")
}

func TestIngestExtractorFailureDegradesToText(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("pdfcpu: malformed xref")}
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{}, nil)
	o.docLoader = fakeLoader{units: []domain.PageUnit{{Text: "Page text", PageNumber: 1, TotalPages: 1}}}
	job := jm.Create("doc.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "doc.pdf", Filename: "doc.pdf", TenantID: "t1",
	})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Empty(t, st.images)
	require.Len(t, st.chunks, 1)
	assert.NotContains(t, st.chunks[0].Content, "[IMAGE:")
}

func TestIngestImageWriteRetriesRateLimit(t *testing.T) {
	extractor := &fakeExtractor{images: []vision.Image{
		embeddableImage("scan_p1_img0_aabbccdd", 1, "A diagram"),
	}}
	st := &fakeStore{
		imageErr:      domain.RateLimitError("429 too many requests", nil),
		imageFailures: 2,
	}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{}, nil)
	o.docLoader = fakeLoader{units: []domain.PageUnit{{Text: "Page text", PageNumber: 1, TotalPages: 1}}}
	job := jm.Create("scan.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "scan.pdf", Filename: "scan.pdf",
	})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, 3, st.imageAttempts["scan_p1_img0_aabbccdd"])
	assert.Len(t, st.images, 1)
}

func TestIngestImageWriteFatalError(t *testing.T) {
	extractor := &fakeExtractor{images: []vision.Image{
		embeddableImage("scan_p1_img0_aabbccdd", 1, "A diagram"),
	}}
	st := &fakeStore{
		imageErr:      domain.StoreError("insert image", errors.New("column mismatch")),
		imageFailures: 100,
	}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{}, nil)
	o.docLoader = fakeLoader{units: []domain.PageUnit{{Text: "Page text", PageNumber: 1, TotalPages: 1}}}
	job := jm.Create("scan.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "scan.pdf", Filename: "scan.pdf",
	})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, 1, st.imageAttempts["scan_p1_img0_aabbccdd"], "store errors are not retried")
	assert.Empty(t, st.headers, "header write never reached")
}

func TestIngestEmptyCaptionStoresWithoutEmbedding(t *testing.T) {
	extractor := &fakeExtractor{images: []vision.Image{
		embeddableImage("scan_p1_img0_aabbccdd", 1, ""),
	}}
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, extractor, &fakeMeta{}, nil)
	o.docLoader = fakeLoader{units: []domain.PageUnit{{Text: "Page text", PageNumber: 1, TotalPages: 1}}}
	job := jm.Create("scan.pdf", "t1")

	o.Ingest(context.Background(), Request{
		JobID: job.JobID, Path: "scan.pdf", Filename: "scan.pdf",
	})

	final, _ := jm.Get(job.JobID)
	require.Equal(t, jobs.StatusCompleted, final.Status)
	require.Len(t, st.images, 1)
	assert.Nil(t, st.images[0].embedding)
	assert.NotContains(t, st.chunks[0].Content, "[IMAGE:", "captionless images are not interleaved")
}

func TestIngestInvalidatesTenantCache(t *testing.T) {
	c := cache.NewMemoryClient(0)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, cache.TenantPrefix("t1")+"probe", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, cache.TenantPrefix("t2")+"probe", []byte("x"), time.Minute))

	path := writeFile(t, "notes.md", "Alpha")
	st := &fakeStore{}
	o, jm := newTestOrchestrator(st, nil, &fakeMeta{}, c)
	job := jm.Create("notes.md", "t1")

	o.Ingest(ctx, Request{JobID: job.JobID, Path: path, Filename: "notes.md", TenantID: "t1"})

	_, err := c.Get(ctx, cache.TenantPrefix("t1")+"probe")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	_, err = c.Get(ctx, cache.TenantPrefix("t2")+"probe")
	assert.NoError(t, err)
}

func TestIngestEmbeddingFailureIsFatal(t *testing.T) {
	path := writeFile(t, "notes.md", "Alpha")
	st := &fakeStore{}
	jm := jobs.NewManager(testLogger())
	emb := &fakeEmbedder{docErr: domain.InferenceError("embeddings request", errors.New("boom"))}
	o := NewOrchestrator(st, emb, &fakeMeta{}, nil, jm, nil, Config{DefaultTenant: "default"}, nil, testLogger())
	job := jm.Create("notes.md", "t1")

	o.Ingest(context.Background(), Request{JobID: job.JobID, Path: path, Filename: "notes.md"})

	final, _ := jm.Get(job.JobID)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "embeddings request")
	assert.Empty(t, st.chunks)
}
