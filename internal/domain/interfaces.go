package domain

import "context"

// Embedder produces fixed-dimension vectors for document content and queries.
type Embedder interface {
	// EmbedDocuments embeds texts in batches. result[i] corresponds to
	// texts[i]. onProgress, when non-nil, is called with the cumulative
	// number of embedded texts after each batch.
	EmbedDocuments(ctx context.Context, texts []string, onProgress func(done int)) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector width the model produces.
	Dimension() int

	// Model returns the model identifier in use.
	Model() string
}

// Loader parses one document format into ordered page units.
type Loader interface {
	// Load reads the file at path and returns its page units in order.
	Load(ctx context.Context, path string) ([]PageUnit, error)

	// Type reports which document format this loader handles.
	Type() DocumentType
}
