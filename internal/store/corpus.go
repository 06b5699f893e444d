package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("record not found")

// Tables names the three corpus tables a repository operates on.
type Tables struct {
	Chunks  string
	Headers string
	Images  string
}

// Tables extracts the table names from an adapter config.
func (c Config) Tables() Tables {
	return Tables{Chunks: c.ChunkTable, Headers: c.HeaderTable, Images: c.ImageTable}
}

// ChunkFilter scopes a chunk similarity query.
type ChunkFilter struct {
	TenantID    string
	DocumentIDs []string
}

// ImageFilter scopes an image similarity query. Each page number expands
// to the inclusive window [page-PageRange, page+PageRange].
type ImageFilter struct {
	DocumentIDs []string
	PageNumbers []int
	PageRange   int
}

// DocumentHandle is the identifying triple the handle resolver matches
// against.
type DocumentHandle struct {
	DocumentID     string
	SourceFilename string
	Title          string
}

// Corpus is the typed repository over the three corpus tables. All SQL the
// engine issues against the store lives here; callers hand it an Executor
// so it stays testable without a live database.
type Corpus struct {
	exec   Executor
	tables Tables
	logger *observability.Logger
}

// NewCorpus creates a repository bound to the given executor and tables.
func NewCorpus(exec Executor, tables Tables, logger *observability.Logger) *Corpus {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Corpus{exec: exec, tables: tables, logger: logger.WithComponent("corpus")}
}

// UpsertChunk writes one chunk, replacing any prior row with the same id.
func (c *Corpus) UpsertChunk(ctx context.Context, chunk domain.Chunk) error {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return domain.InternalError("marshal chunk metadata", err)
	}
	query := fmt.Sprintf(
		"UPSERT %s (id, content, metadata, embedding) VALUES (?, ?, ?, %s) WITH PRIMARY KEY",
		c.tables.Chunks, VectorParam)
	_, err = c.exec.ExecuteSimple(ctx, query,
		chunk.ID, chunk.Content, string(meta), FormatVector(chunk.Embedding))
	return err
}

// UpsertHeader replaces the header row for (tenant_id, document_id):
// delete then insert, so re-ingesting a document leaves exactly one row.
func (c *Corpus) UpsertHeader(ctx context.Context, doc domain.Document) error {
	if doc.CreatedAt == "" {
		doc.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ? AND document_id = ?", c.tables.Headers)
	if _, err := c.exec.ExecuteSimple(ctx, del, doc.TenantID, doc.DocumentID); err != nil {
		return err
	}

	cols := "tenant_id, document_id, source_filename, document_type, language, " +
		"title, summary, total_pages, chunk_count, created_at, summary_embedding"
	params := []any{
		doc.TenantID, doc.DocumentID, doc.SourceFilename, string(doc.DocumentType),
		doc.Language, doc.Title, doc.Summary, doc.TotalPages, doc.ChunkCount, doc.CreatedAt,
	}
	vectorExpr := "NULL"
	if len(doc.SummaryEmbedding) > 0 {
		vectorExpr = VectorParam
		params = append(params, FormatVector(doc.SummaryEmbedding))
	}
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, %s)",
		c.tables.Headers, cols, vectorExpr)
	_, err := c.exec.ExecuteSimple(ctx, ins, params...)
	return err
}

// UpsertImage writes one image row. A nil embedding stores NULL, which
// keeps the image retrievable by id but invisible to image search.
func (c *Corpus) UpsertImage(ctx context.Context, img domain.Image, embedding []float32) error {
	if img.CreatedAt == "" {
		img.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	cols := "image_id, document_id, page_number, mime_type, width, height, " +
		"description, description_embedding, image_data, created_at"
	params := []any{
		img.ImageID, img.DocumentID, img.PageNumber, img.MimeType, img.Width, img.Height,
		img.Description,
	}
	vectorExpr := "NULL"
	if len(embedding) > 0 {
		vectorExpr = VectorParam
		params = append(params, FormatVector(embedding))
	}
	params = append(params, img.Data, img.CreatedAt)
	query := fmt.Sprintf("UPSERT %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, %s, ?, ?) WITH PRIMARY KEY",
		c.tables.Images, cols, vectorExpr)
	_, err := c.exec.ExecuteSimple(ctx, query, params...)
	return err
}

// SearchChunks runs a cosine-similarity query over the chunk table, scoped
// by the filter, ordered by score descending. k <= 0 returns empty.
func (c *Corpus) SearchChunks(ctx context.Context, embedding []float32, k int, filter ChunkFilter) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	var where []string
	params := []any{FormatVector(embedding)}
	if filter.TenantID != "" {
		where = append(where, "JSON_VALUE(metadata, '$.tenant_id') = ?")
		params = append(params, filter.TenantID)
	}
	if len(filter.DocumentIDs) > 0 {
		where = append(where, fmt.Sprintf("JSON_VALUE(metadata, '$.document_id') IN (%s)",
			placeholders(len(filter.DocumentIDs))))
		for _, id := range filter.DocumentIDs {
			params = append(params, id)
		}
	}

	query := fmt.Sprintf(
		"SELECT TOP %d id, content, metadata, COSINE_SIMILARITY(embedding, %s) AS score FROM %s%s ORDER BY score DESC",
		k, VectorParam, c.tables.Chunks, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, domain.ScoredChunk{Chunk: c.chunkFromRow(row), Score: row.Float("score")})
	}
	return out, nil
}

// SearchHeaders runs a cosine-similarity query over the header summary
// embeddings. Rows without a summary embedding never match.
func (c *Corpus) SearchHeaders(ctx context.Context, embedding []float32, k int, tenantID string) ([]domain.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}

	where := []string{"summary_embedding IS NOT NULL"}
	params := []any{FormatVector(embedding)}
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		params = append(params, tenantID)
	}

	query := fmt.Sprintf(
		"SELECT TOP %d %s, COSINE_SIMILARITY(summary_embedding, %s) AS score FROM %s%s ORDER BY score DESC",
		k, headerColumns, VectorParam, c.tables.Headers, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredDocument, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, domain.ScoredDocument{Document: documentFromRow(row), Score: row.Float("score")})
	}
	return out, nil
}

// SearchImages runs a cosine-similarity query over image caption
// embeddings. Images stored without an embedding are excluded.
func (c *Corpus) SearchImages(ctx context.Context, embedding []float32, k int, filter ImageFilter) ([]domain.ScoredImage, error) {
	if k <= 0 {
		return nil, nil
	}

	where := []string{"description_embedding IS NOT NULL"}
	params := []any{FormatVector(embedding)}
	if len(filter.DocumentIDs) > 0 {
		where = append(where, fmt.Sprintf("document_id IN (%s)", placeholders(len(filter.DocumentIDs))))
		for _, id := range filter.DocumentIDs {
			params = append(params, id)
		}
	}
	if len(filter.PageNumbers) > 0 {
		var windows []string
		for _, p := range filter.PageNumbers {
			windows = append(windows, "page_number BETWEEN ? AND ?")
			params = append(params, p-filter.PageRange, p+filter.PageRange)
		}
		where = append(where, "("+strings.Join(windows, " OR ")+")")
	}

	query := fmt.Sprintf(
		"SELECT TOP %d %s, COSINE_SIMILARITY(description_embedding, %s) AS score FROM %s%s ORDER BY score DESC",
		k, imageColumns, VectorParam, c.tables.Images, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredImage, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, domain.ScoredImage{Image: imageFromRow(row, false), Score: row.Float("score")})
	}
	return out, nil
}

// ChunkByID fetches one chunk by its canonical id.
func (c *Corpus) ChunkByID(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	query := fmt.Sprintf("SELECT id, content, metadata FROM %s WHERE id = ?", c.tables.Chunks)
	res, err := c.exec.ExecuteSimple(ctx, query, chunkID)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	chunk := c.chunkFromRow(res.Rows[0])
	return &chunk, nil
}

// ChunksByPage fetches every chunk of a document attributed to one page,
// ordered by id so chunk indices come back in sequence.
func (c *Corpus) ChunksByPage(ctx context.Context, documentID string, page int) ([]domain.Chunk, error) {
	query := fmt.Sprintf(
		"SELECT id, content, metadata FROM %s WHERE JSON_VALUE(metadata, '$.document_id') = ? "+
			"AND JSON_VALUE(metadata, '$.page_number') = ? ORDER BY id",
		c.tables.Chunks)
	res, err := c.exec.ExecuteSimple(ctx, query, documentID, fmt.Sprintf("%d", page))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, c.chunkFromRow(row))
	}
	return out, nil
}

// GetHeader fetches one document header, tenant-scoped when tenantID is
// non-empty.
func (c *Corpus) GetHeader(ctx context.Context, documentID, tenantID string) (*domain.Document, error) {
	where := []string{"document_id = ?"}
	params := []any{documentID}
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		params = append(params, tenantID)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", headerColumns, c.tables.Headers, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	doc := documentFromRow(res.Rows[0])
	return &doc, nil
}

// ListDocuments returns header rows, newest first.
func (c *Corpus) ListDocuments(ctx context.Context, tenantID string) ([]domain.Document, error) {
	var where []string
	var params []any
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		params = append(params, tenantID)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at DESC",
		headerColumns, c.tables.Headers, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Document, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, documentFromRow(row))
	}
	return out, nil
}

// ListHandles returns the identifying triples for every header in scope,
// for in-process fuzzy matching.
func (c *Corpus) ListHandles(ctx context.Context, tenantID string) ([]DocumentHandle, error) {
	var where []string
	var params []any
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		params = append(params, tenantID)
	}
	query := fmt.Sprintf("SELECT document_id, source_filename, title FROM %s%s",
		c.tables.Headers, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentHandle, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, DocumentHandle{
			DocumentID:     row.String("document_id"),
			SourceFilename: row.String("source_filename"),
			Title:          row.String("title"),
		})
	}
	return out, nil
}

// GetImage fetches one image including its raw bytes.
func (c *Corpus) GetImage(ctx context.Context, imageID string) (*domain.Image, error) {
	query := fmt.Sprintf("SELECT %s, image_data FROM %s WHERE image_id = ?",
		imageColumns, c.tables.Images)
	res, err := c.exec.ExecuteSimple(ctx, query, imageID)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	img := imageFromRow(res.Rows[0], true)
	return &img, nil
}

// GetImageMetadata fetches one image row without the blob.
func (c *Corpus) GetImageMetadata(ctx context.Context, imageID string) (*domain.Image, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE image_id = ?", imageColumns, c.tables.Images)
	res, err := c.exec.ExecuteSimple(ctx, query, imageID)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	img := imageFromRow(res.Rows[0], false)
	return &img, nil
}

// ListImages returns every image of a document, without blobs, in page
// then id order.
func (c *Corpus) ListImages(ctx context.Context, documentID string) ([]domain.Image, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE document_id = ? ORDER BY page_number, image_id",
		imageColumns, c.tables.Images)
	res, err := c.exec.ExecuteSimple(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Image, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, imageFromRow(row, false))
	}
	return out, nil
}

// DeleteChunksByFilename removes chunks whose metadata carries the given
// source filename, tenant-scoped when tenantID is non-empty.
func (c *Corpus) DeleteChunksByFilename(ctx context.Context, sourceFilename, tenantID string) (int64, error) {
	where := []string{"JSON_VALUE(metadata, '$.source_filename') = ?"}
	params := []any{sourceFilename}
	if tenantID != "" {
		where = append(where, "JSON_VALUE(metadata, '$.tenant_id') = ?")
		params = append(params, tenantID)
	}
	query := fmt.Sprintf("DELETE FROM %s%s", c.tables.Chunks, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// DeleteChunksByDocumentID removes chunks by metadata document id,
// tenant-scoped when tenantID is non-empty.
func (c *Corpus) DeleteChunksByDocumentID(ctx context.Context, documentID, tenantID string) (int64, error) {
	where := []string{"JSON_VALUE(metadata, '$.document_id') = ?"}
	params := []any{documentID}
	if tenantID != "" {
		where = append(where, "JSON_VALUE(metadata, '$.tenant_id') = ?")
		params = append(params, tenantID)
	}
	query := fmt.Sprintf("DELETE FROM %s%s", c.tables.Chunks, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// DeleteHeader removes the header row for a document.
func (c *Corpus) DeleteHeader(ctx context.Context, documentID, tenantID string) (int64, error) {
	where := []string{"document_id = ?"}
	params := []any{documentID}
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		params = append(params, tenantID)
	}
	query := fmt.Sprintf("DELETE FROM %s%s", c.tables.Headers, whereClause(where))
	res, err := c.exec.ExecuteSimple(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// DeleteImages removes every image of a document.
func (c *Corpus) DeleteImages(ctx context.Context, documentID string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE document_id = ?", c.tables.Images)
	res, err := c.exec.ExecuteSimple(ctx, query, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

const headerColumns = "tenant_id, document_id, source_filename, document_type, language, " +
	"title, summary, total_pages, chunk_count, created_at"

const imageColumns = "image_id, document_id, page_number, mime_type, width, height, " +
	"description, created_at"

// chunkFromRow maps a result row to a chunk. A metadata column that fails
// to parse is logged and dropped rather than failing the whole result set.
func (c *Corpus) chunkFromRow(row Row) domain.Chunk {
	chunk := domain.Chunk{
		ID:      row.String("id"),
		Content: row.String("content"),
	}
	raw := row.String("metadata")
	if raw == "" {
		return chunk
	}
	if err := json.Unmarshal([]byte(raw), &chunk.Metadata); err != nil {
		c.logger.Warn().Str("chunk_id", chunk.ID).Err(err).Msg("unparseable chunk metadata")
	}
	return chunk
}

func documentFromRow(row Row) domain.Document {
	return domain.Document{
		TenantID:       row.String("tenant_id"),
		DocumentID:     row.String("document_id"),
		SourceFilename: row.String("source_filename"),
		DocumentType:   domain.DocumentType(row.String("document_type")),
		Language:       row.String("language"),
		Title:          row.String("title"),
		Summary:        row.String("summary"),
		TotalPages:     row.Int("total_pages"),
		ChunkCount:     row.Int("chunk_count"),
		CreatedAt:      row.String("created_at"),
	}
}

func imageFromRow(row Row, withData bool) domain.Image {
	img := domain.Image{
		ImageID:     row.String("image_id"),
		DocumentID:  row.String("document_id"),
		PageNumber:  row.Int("page_number"),
		MimeType:    row.String("mime_type"),
		Width:       row.Int("width"),
		Height:      row.Int("height"),
		Description: row.String("description"),
		CreatedAt:   row.String("created_at"),
	}
	if withData {
		img.Data = row.Bytes("image_data")
	}
	return img
}

// placeholders renders n comma-separated bind markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
