// Package loader turns uploaded files into ordered page units, one loader
// per supported format.
package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

// ErrNoText is the message surfaced when a document yields nothing to index.
const ErrNoText = "no extractable text"

// Supported reports whether a loader exists for the filename's extension.
func Supported(filename string) bool {
	return domain.DocumentTypeFromFilename(filename) != domain.DocumentTypeUnknown
}

// ForFilename picks the loader for a filename by extension.
func ForFilename(filename string, logger *observability.Logger) (domain.Loader, error) {
	switch domain.DocumentTypeFromFilename(filename) {
	case domain.DocumentTypePDF:
		return NewPDF(logger), nil
	case domain.DocumentTypeDOCX:
		return NewDOCX(), nil
	case domain.DocumentTypeMarkdown:
		return NewMarkdown(), nil
	case domain.DocumentTypeText:
		return NewText(), nil
	default:
		return nil, domain.InputError(fmt.Sprintf("unsupported file type: %q", filepath.Ext(filename)), nil)
	}
}

// NormalizeText strips a UTF-8 BOM and folds Windows and bare-CR line
// endings to LF.
func NormalizeText(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// UnitsFromText builds page units from a flat extracted string. Form feeds
// delimit pages when present; otherwise the whole text is a single unit.
func UnitsFromText(text, sourceRef string) []domain.PageUnit {
	if !strings.Contains(text, "\f") {
		return []domain.PageUnit{{Text: text, PageNumber: 1, TotalPages: 1, SourceRef: sourceRef}}
	}

	pages := strings.Split(text, "\f")
	units := make([]domain.PageUnit, 0, len(pages))
	for i, page := range pages {
		units = append(units, domain.PageUnit{
			Text:       page,
			PageNumber: i + 1,
			TotalPages: len(pages),
			SourceRef:  sourceRef,
		})
	}
	return units
}

func hasText(units []domain.PageUnit) bool {
	for _, u := range units {
		if strings.TrimSpace(u.Text) != "" {
			return true
		}
	}
	return false
}
