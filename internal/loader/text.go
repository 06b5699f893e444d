package loader

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/vectral-ai/corpus-engine/internal/domain"
)

// TextLoader reads plain-text files. Form feeds, when present, are treated
// as page breaks.
type TextLoader struct{}

// NewText creates a plain-text loader.
func NewText() *TextLoader { return &TextLoader{} }

func (l *TextLoader) Type() domain.DocumentType { return domain.DocumentTypeText }

func (l *TextLoader) Load(_ context.Context, path string) ([]domain.PageUnit, error) {
	text, err := readNormalized(path)
	if err != nil {
		return nil, err
	}
	return UnitsFromText(text, path), nil
}

// MarkdownLoader reads Markdown files as a single page unit.
type MarkdownLoader struct{}

// NewMarkdown creates a Markdown loader.
func NewMarkdown() *MarkdownLoader { return &MarkdownLoader{} }

func (l *MarkdownLoader) Type() domain.DocumentType { return domain.DocumentTypeMarkdown }

func (l *MarkdownLoader) Load(_ context.Context, path string) ([]domain.PageUnit, error) {
	text, err := readNormalized(path)
	if err != nil {
		return nil, err
	}
	return []domain.PageUnit{{Text: text, PageNumber: 1, TotalPages: 1, SourceRef: path}}, nil
}

func readNormalized(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.InputError("read file", err)
	}
	if !utf8.Valid(data) {
		return "", domain.InputError("file is not valid UTF-8", nil)
	}

	text := strings.TrimSpace(NormalizeText(string(data)))
	if text == "" {
		return "", domain.InputError(ErrNoText, nil)
	}
	return text, nil
}

var (
	_ domain.Loader = (*TextLoader)(nil)
	_ domain.Loader = (*MarkdownLoader)(nil)
)
