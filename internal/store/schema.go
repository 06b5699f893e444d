package store

import (
	"context"
	"fmt"

	"github.com/vectral-ai/corpus-engine/internal/domain"
)

// EnsureSchema probes and, where needed, creates all three corpus tables.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.EnsureChunkTable(ctx); err != nil {
		return err
	}
	if err := c.EnsureHeaderTable(ctx); err != nil {
		return err
	}
	return c.EnsureImageTable(ctx)
}

// EnsureChunkTable guarantees the chunk table exists.
func (c *Client) EnsureChunkTable(ctx context.Context) error {
	probe := fmt.Sprintf("SELECT TOP 1 id FROM %s", c.cfg.ChunkTable)
	if _, err := c.ExecuteSimple(ctx, probe); err == nil {
		return nil
	}

	create := fmt.Sprintf(
		"CREATE TABLE %s (id NVARCHAR(255) PRIMARY KEY, content NCLOB, metadata NCLOB, embedding REAL_VECTOR(%d))",
		c.cfg.ChunkTable, c.cfg.VectorDim)
	if _, err := c.ExecuteSimple(ctx, create); err != nil {
		return domain.StoreError(fmt.Sprintf("create chunk table %s", c.cfg.ChunkTable), err)
	}
	c.logger.Info().Str("table", c.cfg.ChunkTable).Msg("created chunk table")
	return nil
}

// EnsureHeaderTable guarantees the document header table exists.
func (c *Client) EnsureHeaderTable(ctx context.Context) error {
	probe := fmt.Sprintf("SELECT TOP 1 document_id FROM %s", c.cfg.HeaderTable)
	if _, err := c.ExecuteSimple(ctx, probe); err == nil {
		return nil
	}

	create := fmt.Sprintf(
		"CREATE TABLE %s ("+
			"tenant_id NVARCHAR(255), "+
			"document_id NVARCHAR(255), "+
			"source_filename NVARCHAR(512), "+
			"document_type NVARCHAR(32), "+
			"language NVARCHAR(32), "+
			"title NVARCHAR(512), "+
			"summary NCLOB, "+
			"total_pages INTEGER, "+
			"chunk_count INTEGER, "+
			"created_at NVARCHAR(64), "+
			"summary_embedding REAL_VECTOR(%d), "+
			"PRIMARY KEY (tenant_id, document_id))",
		c.cfg.HeaderTable, c.cfg.VectorDim)
	if _, err := c.ExecuteSimple(ctx, create); err != nil {
		return domain.StoreError(fmt.Sprintf("create header table %s", c.cfg.HeaderTable), err)
	}
	c.logger.Info().Str("table", c.cfg.HeaderTable).Msg("created header table")
	return nil
}

// EnsureImageTable guarantees the image table exists and carries the
// description_embedding column. An existing table without the column is
// upgraded in place; if the upgrade fails the error tells operators to
// drop the table and re-ingest.
func (c *Client) EnsureImageTable(ctx context.Context) error {
	probe := fmt.Sprintf("SELECT TOP 1 image_id FROM %s", c.cfg.ImageTable)
	if _, err := c.ExecuteSimple(ctx, probe); err != nil {
		create := fmt.Sprintf(
			"CREATE TABLE %s ("+
				"image_id NVARCHAR(512) PRIMARY KEY, "+
				"document_id NVARCHAR(255), "+
				"page_number INTEGER, "+
				"mime_type NVARCHAR(64), "+
				"width INTEGER, "+
				"height INTEGER, "+
				"description NCLOB, "+
				"description_embedding REAL_VECTOR(%d), "+
				"image_data BLOB, "+
				"created_at NVARCHAR(64))",
			c.cfg.ImageTable, c.cfg.VectorDim)
		if _, cerr := c.ExecuteSimple(ctx, create); cerr != nil {
			return domain.StoreError(fmt.Sprintf("create image table %s", c.cfg.ImageTable), cerr)
		}
		c.logger.Info().Str("table", c.cfg.ImageTable).Msg("created image table")
		return nil
	}

	colProbe := fmt.Sprintf("SELECT description_embedding FROM %s WHERE 1 = 0", c.cfg.ImageTable)
	if _, err := c.ExecuteSimple(ctx, colProbe); err == nil {
		return nil
	}

	alter := fmt.Sprintf("ALTER TABLE %s ADD (description_embedding REAL_VECTOR(%d))",
		c.cfg.ImageTable, c.cfg.VectorDim)
	if _, err := c.ExecuteSimple(ctx, alter); err != nil {
		return domain.StoreError(fmt.Sprintf(
			"image table %s exists without description_embedding and could not be altered; "+
				"drop the table and re-ingest", c.cfg.ImageTable), err)
	}
	c.logger.Info().Str("table", c.cfg.ImageTable).Msg("added description_embedding to image table")
	return nil
}
