// Package metadata derives a document's title, summary, language, and
// summary embedding from its parsed page units. Every inference failure
// degrades to a deterministic fallback so ingestion never stalls on
// this step.
package metadata

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/llm"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

const (
	defaultPreviewPages = 3
	defaultPreviewChars = 4000

	// fallback summary and embedding input bounds
	fallbackSummaryChars = 2000
	summaryEmbedChars    = 8000
	quickSummaryChars    = 500
)

// ChatClient is the completion surface the generator needs.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Config bounds the document preview handed to the model.
type Config struct {
	PreviewMaxPages int
	PreviewMaxChars int
}

// Result is the generated metadata for one document.
type Result struct {
	Title            string
	Summary          string
	Language         string
	SummaryEmbedding []float32
}

// Generator prompts the chat model for document metadata.
type Generator struct {
	chat     ChatClient
	embedder domain.Embedder
	cfg      Config
	logger   *observability.Logger
}

// NewGenerator creates a metadata generator.
func NewGenerator(chat ChatClient, embedder domain.Embedder, cfg Config, logger *observability.Logger) *Generator {
	if cfg.PreviewMaxPages <= 0 {
		cfg.PreviewMaxPages = defaultPreviewPages
	}
	if cfg.PreviewMaxChars <= 0 {
		cfg.PreviewMaxChars = defaultPreviewChars
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Generator{
		chat:     chat,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.WithComponent("metadata"),
	}
}

const metadataSystemPrompt = "You are a precise document indexer. " +
	"Always reply with a single JSON object and nothing else."

const metadataUserPrompt = `Derive metadata for the document excerpt below.

Return a JSON object with exactly these fields:
  "title": a short descriptive title for the document
  "summary": a 3-5 sentence summary of the whole document
  "language": the ISO 639-1 code of the main language

Document excerpt:
%DOC%`

type metadataPayload struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Language string `json:"language"`
}

// Generate produces metadata for a document. documentID doubles as the
// fallback title (it is the filename stem). Never fails: chat or parse
// trouble falls back to deterministic values, and an embedding failure
// yields a result without a summary embedding.
func (g *Generator) Generate(ctx context.Context, documentID string, units []domain.PageUnit) Result {
	preview := g.preview(units)

	res := Result{
		Title:   documentID,
		Summary: cut(preview, fallbackSummaryChars),
	}

	prompt := strings.Replace(metadataUserPrompt, "%DOC%", preview, 1)
	reply, err := g.chat.Chat(ctx, metadataSystemPrompt, prompt)
	if err != nil {
		g.logger.Warn().Str("document_id", documentID).Err(err).Msg("metadata generation failed, using fallbacks")
	} else {
		var parsed metadataPayload
		if jerr := json.Unmarshal([]byte(llm.ExtractJSONBlock(reply)), &parsed); jerr != nil {
			g.logger.Warn().Str("document_id", documentID).Err(jerr).Msg("unparseable metadata reply, using fallbacks")
		} else {
			if t := strings.TrimSpace(parsed.Title); t != "" {
				res.Title = t
			}
			if s := strings.TrimSpace(parsed.Summary); s != "" {
				res.Summary = s
			}
			res.Language = strings.TrimSpace(parsed.Language)
		}
	}

	if embedText := cut(res.Summary, summaryEmbedChars); embedText != "" {
		vectors, err := g.embedder.EmbedDocuments(ctx, []string{embedText}, nil)
		if err != nil || len(vectors) == 0 {
			g.logger.Warn().Str("document_id", documentID).Err(err).Msg("summary embedding failed, header will not match header search")
		} else {
			res.SummaryEmbedding = vectors[0]
		}
	}

	return res
}

// QuickSummary produces the short document context handed to per-image
// vision prompts. Falls back to the truncated preview when the model is
// unavailable.
func (g *Generator) QuickSummary(ctx context.Context, units []domain.PageUnit) string {
	preview := g.preview(units)
	if preview == "" {
		return ""
	}

	reply, err := g.chat.Chat(ctx,
		"You summarise documents concisely.",
		"Summarise the following document excerpt in at most 3 sentences. Reply with the summary only.\n\n"+preview)
	if err != nil || strings.TrimSpace(reply) == "" {
		g.logger.Warn().Err(err).Msg("quick summary failed, using preview text")
		return cut(preview, quickSummaryChars)
	}
	return strings.TrimSpace(reply)
}

// preview joins the first pages of the document up to the configured
// bounds.
func (g *Generator) preview(units []domain.PageUnit) string {
	var parts []string
	for i, u := range units {
		if i >= g.cfg.PreviewMaxPages {
			break
		}
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return cut(strings.Join(parts, "\n\n"), g.cfg.PreviewMaxChars)
}

// cut truncates s to at most n bytes without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
