// Package ingest drives the document pipeline: parse, caption, chunk,
// embed, store, publishing job progress after every stage.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/vectral-ai/corpus-engine/internal/cache"
	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/jobs"
	"github.com/vectral-ai/corpus-engine/internal/loader"
	"github.com/vectral-ai/corpus-engine/internal/metadata"
	"github.com/vectral-ai/corpus-engine/internal/metrics"
	"github.com/vectral-ai/corpus-engine/internal/observability"
	"github.com/vectral-ai/corpus-engine/internal/splitter"
	"github.com/vectral-ai/corpus-engine/internal/store"
	"github.com/vectral-ai/corpus-engine/internal/vision"
)

// Store is the persistence surface ingestion writes to. *store.Corpus
// implements it.
type Store interface {
	UpsertChunk(ctx context.Context, chunk domain.Chunk) error
	UpsertHeader(ctx context.Context, doc domain.Document) error
	UpsertImage(ctx context.Context, img domain.Image, embedding []float32) error
}

var _ Store = (*store.Corpus)(nil)

// MetadataGenerator produces document titles and summaries.
// *metadata.Generator implements it.
type MetadataGenerator interface {
	Generate(ctx context.Context, documentID string, units []domain.PageUnit) metadata.Result
	QuickSummary(ctx context.Context, units []domain.PageUnit) string
}

// ImageExtractor recovers and captions embedded rasters.
// *vision.Extractor implements it.
type ImageExtractor interface {
	Extract(ctx context.Context, path, documentID, docSummary string) ([]vision.Image, error)
}

// unitLoader is the parsing seam: the default picks a loader by filename
// extension.
type unitLoader interface {
	load(ctx context.Context, filename, path string) ([]domain.PageUnit, error)
}

type extensionLoader struct {
	logger *observability.Logger
}

func (l extensionLoader) load(ctx context.Context, filename, path string) ([]domain.PageUnit, error) {
	ld, err := loader.ForFilename(filename, l.logger)
	if err != nil {
		return nil, err
	}
	return ld.Load(ctx, path)
}

// Config tunes the pipeline.
type Config struct {
	ChunkSize     int
	ChunkOverlap  int
	DefaultTenant string

	// Image storage fan-out: concurrent writers, rate-limit retries per
	// image, and the base retry delay.
	ImageConcurrency int
	ImageRetries     int
	ImageRetryDelay  time.Duration
}

// Orchestrator runs ingestion jobs end to end. A nil extractor disables
// image capture; a nil cache skips invalidation; a nil metrics sink
// disables instrumentation.
type Orchestrator struct {
	store     Store
	embedder  domain.Embedder
	meta      MetadataGenerator
	images    ImageExtractor
	jobs      *jobs.Manager
	cache     cache.Client
	splitter  *splitter.Splitter
	docLoader unitLoader
	cfg       Config
	metrics   *metrics.Metrics
	logger    *observability.Logger
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(st Store, embedder domain.Embedder, meta MetadataGenerator, images ImageExtractor,
	jm *jobs.Manager, c cache.Client, cfg Config, m *metrics.Metrics, logger *observability.Logger) *Orchestrator {
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 5
	}
	if cfg.ImageRetries <= 0 {
		cfg.ImageRetries = 3
	}
	if cfg.ImageRetryDelay <= 0 {
		cfg.ImageRetryDelay = time.Second
	}
	scoped := logger.WithComponent("ingest")
	return &Orchestrator{
		store:     st,
		embedder:  embedder,
		meta:      meta,
		images:    images,
		jobs:      jm,
		cache:     c,
		splitter:  splitter.New(cfg.ChunkSize, cfg.ChunkOverlap),
		docLoader: extensionLoader{logger: scoped},
		cfg:       cfg,
		metrics:   m,
		logger:    scoped,
	}
}

// Request describes one uploaded file to ingest. Path is the local copy of
// the payload; Filename is the name it was uploaded under. Metadata keys
// ride along into every chunk's stored metadata.
type Request struct {
	JobID    string
	Path     string
	Filename string
	TenantID string
	Metadata map[string]string
}

// Ingest runs one job to completion, updating its state as stages finish.
// Errors are terminal: the job is marked failed and nothing is retried at
// this level. Partial writes stay behind; re-ingestion or deletion
// reclaims them.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveJobs.Inc()
		defer o.metrics.ActiveJobs.Dec()
	}

	err := o.run(ctx, req)
	seconds := time.Since(started).Seconds()
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.Canceled) {
			msg = "cancelled"
		}
		o.update(req.JobID, jobs.Patch{
			Status:  statusPtr(jobs.StatusFailed),
			Stage:   stagePtr(jobs.StageFailed),
			Error:   strPtr(msg),
			Message: strPtr("Ingestion failed"),
		})
		if o.metrics != nil {
			o.metrics.RecordJob(string(jobs.StatusFailed), seconds)
		}
		o.logger.WithJob(req.JobID).Warn().Err(err).
			Str("filename", req.Filename).
			Msg("ingestion failed")
		return
	}

	if o.metrics != nil {
		o.metrics.RecordJob(string(jobs.StatusCompleted), seconds)
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request) error {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = o.cfg.DefaultTenant
	}
	documentID := domain.DocumentIDFromFilename(req.Filename)
	logger := o.logger.WithJob(req.JobID).WithDocument(documentID)

	o.update(req.JobID, jobs.Patch{
		Status:     statusPtr(jobs.StatusRunning),
		Stage:      stagePtr(jobs.StageParsing),
		DocumentID: strPtr(documentID),
		Message:    strPtr("Parsing document"),
	})

	units, images, err := o.parse(ctx, req, documentID, logger)
	if err != nil {
		return err
	}

	o.update(req.JobID, jobs.Patch{
		Stage:   stagePtr(jobs.StageChunking),
		Message: strPtr("Chunking text"),
	})

	meta := o.meta.Generate(ctx, documentID, units)
	pieces := o.splitter.SplitUnits(units)
	if len(pieces) == 0 {
		return domain.InputError(loader.ErrNoText, nil)
	}
	pages := maxTotalPages(units)
	chunks := buildChunks(pieces, chunkIdentity{
		documentID: documentID,
		filename:   req.Filename,
		tenantID:   tenantID,
		title:      meta.Title,
		totalPages: pages,
		extra:      req.Metadata,
	})
	o.update(req.JobID, jobs.Patch{
		TotalChunks: intPtr(len(chunks)),
		Stage:       stagePtr(jobs.StageEmbedding),
		Message:     strPtr("Embedding chunks"),
	})

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := o.embedder.EmbedDocuments(ctx, texts, func(done int) {
		o.update(req.JobID, jobs.Patch{ProcessedChunks: intPtr(done)})
	})
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	o.update(req.JobID, jobs.Patch{
		Stage:   stagePtr(jobs.StageStoring),
		Message: strPtr("Storing document"),
	})

	if err := o.storeImages(ctx, images); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := o.store.UpsertChunk(ctx, chunk); err != nil {
			return err
		}
	}
	if o.metrics != nil {
		o.metrics.ChunksStored.Add(float64(len(chunks)))
	}

	header := domain.Document{
		TenantID:         tenantID,
		DocumentID:       documentID,
		SourceFilename:   req.Filename,
		DocumentType:     domain.DocumentTypeFromFilename(req.Filename),
		Language:         meta.Language,
		Title:            meta.Title,
		Summary:          meta.Summary,
		TotalPages:       pages,
		ChunkCount:       len(chunks),
		SummaryEmbedding: meta.SummaryEmbedding,
	}
	if err := o.store.UpsertHeader(ctx, header); err != nil {
		return err
	}

	o.update(req.JobID, jobs.Patch{
		Status:  statusPtr(jobs.StatusCompleted),
		Stage:   stagePtr(jobs.StageCompleted),
		Message: strPtr("Ingestion complete"),
	})
	o.invalidateTenant(ctx, tenantID)

	logger.Info().
		Int("chunks", len(chunks)).
		Int("pages", pages).
		Int("images", len(images)).
		Str("title", meta.Title).
		Msg("ingestion complete")
	return nil
}

// parse loads page units and, for PDFs with image capture enabled,
// extracts and captions embedded rasters. A text-free PDF is not fatal
// yet: captioned images can still synthesise page units. Only a document
// with neither text nor embeddable images fails here.
func (o *Orchestrator) parse(ctx context.Context, req Request, documentID string, logger *observability.Logger) ([]domain.PageUnit, []vision.Image, error) {
	withImages := o.images != nil && domain.DocumentTypeFromFilename(req.Filename) == domain.DocumentTypePDF

	units, lerr := o.docLoader.load(ctx, req.Filename, req.Path)
	if lerr != nil {
		if !withImages || !isNoText(lerr) {
			return nil, nil, lerr
		}
		units = nil
	}

	var images []vision.Image
	if withImages {
		summary := o.meta.QuickSummary(ctx, units)
		extracted, err := o.images.Extract(ctx, req.Path, documentID, summary)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, nil, err
		case err != nil:
			logger.Warn().Err(err).Msg("image extraction failed, continuing text-only")
		default:
			images = extracted
		}
		units = vision.InterleaveBlocks(units, images)
	}

	if len(units) == 0 {
		return nil, nil, domain.InputError(loader.ErrNoText, nil)
	}
	return units, images, nil
}

// storeImages writes embed-verdict images with bounded concurrency. Each
// write retries on rate-limit rejections; any other failure aborts the
// batch and fails the job.
func (o *Orchestrator) storeImages(ctx context.Context, images []vision.Image) error {
	var eligible []vision.Image
	for _, img := range images {
		if img.ShouldEmbed {
			eligible = append(eligible, img)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ImageConcurrency)
	for _, img := range eligible {
		g.Go(func() error {
			return o.storeImage(gctx, img)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if o.metrics != nil {
		o.metrics.ImagesStored.Add(float64(len(eligible)))
	}
	return nil
}

func (o *Orchestrator) storeImage(ctx context.Context, img vision.Image) error {
	// An empty caption stores with no embedding: the image is servable
	// by id but never matches a search.
	var embedding []float32
	if strings.TrimSpace(img.Description) != "" {
		vec, err := o.embedder.EmbedQuery(ctx, img.Description)
		if err != nil {
			return err
		}
		embedding = vec
	}

	operation := func() error {
		err := o.store.UpsertImage(ctx, img.Image, embedding)
		if err != nil && !domain.IsRateLimit(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.ImageRetryDelay
	policy.MaxInterval = 30 * time.Second

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(o.cfg.ImageRetries)), ctx))
}

func (o *Orchestrator) update(jobID string, p jobs.Patch) {
	if _, ok := o.jobs.Update(jobID, p); !ok {
		o.logger.Warn().Str("job_id", jobID).Msg("update for unknown job")
	}
}

func (o *Orchestrator) invalidateTenant(ctx context.Context, tenantID string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.DeleteByPrefix(ctx, cache.TenantPrefix(tenantID)); err != nil {
		o.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("cache invalidation failed")
	}
}

type chunkIdentity struct {
	documentID string
	filename   string
	tenantID   string
	title      string
	totalPages int
	extra      map[string]string
}

// buildChunks assembles stored chunks from split pieces. When a title is
// known it is prefixed onto the content; the stored content and the
// embedded text are the same string.
func buildChunks(pieces []splitter.Piece, id chunkIdentity) []domain.Chunk {
	chunks := make([]domain.Chunk, len(pieces))
	for i, piece := range pieces {
		content := piece.Text
		if id.title != "" {
			content = "Title: " + id.title + "\n\n" + content
		}
		chunks[i] = domain.Chunk{
			ID:      domain.ChunkID(id.documentID, i),
			Content: content,
			Metadata: domain.ChunkMetadata{
				DocumentID:     id.documentID,
				SourceFilename: id.filename,
				TenantID:       id.tenantID,
				ChunkIndex:     i,
				TotalChunks:    len(pieces),
				PageNumber:     piece.PageNumber,
				TotalPages:     id.totalPages,
				Title:          id.title,
				Extra:          id.extra,
			},
		}
	}
	return chunks
}

func maxTotalPages(units []domain.PageUnit) int {
	pages := 0
	for _, u := range units {
		if u.TotalPages > pages {
			pages = u.TotalPages
		}
	}
	if pages == 0 {
		pages = len(units)
	}
	return pages
}

func isNoText(err error) bool {
	var de *domain.DomainError
	return errors.As(err, &de) && de.Message == loader.ErrNoText
}

func statusPtr(s jobs.Status) *jobs.Status { return &s }
func stagePtr(s jobs.Stage) *jobs.Stage    { return &s }
func intPtr(i int) *int                    { return &i }
func strPtr(s string) *string              { return &s }
