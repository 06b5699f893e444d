package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentType identifies the source format of an ingested document.
type DocumentType string

const (
	DocumentTypePDF      DocumentType = "pdf"
	DocumentTypeDOCX     DocumentType = "docx"
	DocumentTypeMarkdown DocumentType = "markdown"
	DocumentTypeText     DocumentType = "text"
	DocumentTypeUnknown  DocumentType = "unknown"
)

// DocumentTypeFromFilename maps a filename extension to a DocumentType.
func DocumentTypeFromFilename(filename string) DocumentType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return DocumentTypePDF
	case ".docx":
		return DocumentTypeDOCX
	case ".md", ".markdown":
		return DocumentTypeMarkdown
	case ".txt", ".text":
		return DocumentTypeText
	default:
		return DocumentTypeUnknown
	}
}

// DocumentIDFromFilename derives the document id from an uploaded filename:
// the base name with the extension dropped.
func DocumentIDFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PageUnit is one ordered unit of extracted text. Paged formats produce one
// unit per page; flat formats produce a single unit covering the document.
type PageUnit struct {
	Text       string
	PageNumber int
	TotalPages int
	SourceRef  string
}

// ChunkMetadata is the JSON payload stored beside every chunk. User-supplied
// keys ride along in Extra and are flattened into the same JSON object.
type ChunkMetadata struct {
	DocumentID     string `json:"document_id"`
	SourceFilename string `json:"source_filename"`
	TenantID       string `json:"tenant_id,omitempty"`
	ChunkIndex     int    `json:"chunk_index"`
	TotalChunks    int    `json:"total_chunks"`
	PageNumber     int    `json:"page_number"`
	TotalPages     int    `json:"total_pages"`
	Title          string `json:"title,omitempty"`

	Extra map[string]string `json:"-"`
}

// MarshalJSON flattens Extra into the same JSON object as the named fields.
// Named fields win on key collision.
func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	type plain ChunkMetadata
	known, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(m.Extra)+8)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON restores named fields and collects unrecognised keys into
// Extra, so metadata read back from the store round-trips.
func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	type plain ChunkMetadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = ChunkMetadata(p)
	for k, v := range raw {
		switch k {
		case "document_id", "source_filename", "tenant_id", "chunk_index",
			"total_chunks", "page_number", "total_pages", "title":
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[k] = s
	}
	return nil
}

// Chunk is one embeddable slice of a document.
type Chunk struct {
	ID        string        `json:"chunk_id"`
	Content   string        `json:"content"`
	Metadata  ChunkMetadata `json:"metadata"`
	Embedding []float32     `json:"-"`
}

// ChunkID builds the canonical chunk identifier for a document and index.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#chunk_%03d", documentID, index)
}

// Document is the header record describing one ingested document.
type Document struct {
	TenantID         string       `json:"tenant_id,omitempty"`
	DocumentID       string       `json:"document_id"`
	SourceFilename   string       `json:"source_filename"`
	DocumentType     DocumentType `json:"document_type"`
	Language         string       `json:"language,omitempty"`
	Title            string       `json:"title"`
	Summary          string       `json:"summary"`
	TotalPages       int          `json:"total_pages"`
	ChunkCount       int          `json:"chunk_count"`
	CreatedAt        string       `json:"created_at"`
	SummaryEmbedding []float32    `json:"-"`
}

// Image is one embedded raster recovered from a document, together with the
// vision caption that makes it searchable.
type Image struct {
	ImageID     string `json:"image_id"`
	DocumentID  string `json:"document_id"`
	PageNumber  int    `json:"page_number"`
	MimeType    string `json:"mime_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Description string `json:"description"`
	Data        []byte `json:"-"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ImageID builds the canonical image identifier: document, page, per-page
// index, and a short content hash to disambiguate re-extractions.
func ImageID(documentID string, page, index int, hash8 string) string {
	return fmt.Sprintf("%s_p%d_img%d_%s", documentID, page, index, hash8)
}

// DeleteResult reports what a document delete removed.
type DeleteResult struct {
	ChunksDeleted int `json:"chunks_deleted"`
	ImagesDeleted int `json:"images_deleted"`
}

// ScoredChunk is a chunk with its similarity score inlined.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ScoredDocument is a document header with its similarity score inlined.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// ScoredImage is an image record with its similarity score inlined. The
// raw bytes are not carried on search results.
type ScoredImage struct {
	Image
	Score float64 `json:"score"`
}
