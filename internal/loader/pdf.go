package loader

import (
	"context"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

// PDFLoader extracts text page by page through MuPDF. Pages whose extraction
// fails degrade to empty text rather than aborting the document; a document
// where every page comes back empty is rejected.
type PDFLoader struct {
	logger *observability.Logger
}

// NewPDF creates a PDF text loader.
func NewPDF(logger *observability.Logger) *PDFLoader {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &PDFLoader{logger: logger.WithComponent("loader.pdf")}
}

func (l *PDFLoader) Type() domain.DocumentType { return domain.DocumentTypePDF }

func (l *PDFLoader) Load(ctx context.Context, path string) ([]domain.PageUnit, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.InputError("open pdf", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, domain.InputError(ErrNoText, nil)
	}

	units := make([]domain.PageUnit, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, terr := doc.Text(i)
		if terr != nil {
			l.logger.Warn().Str("path", path).Int("page", i+1).Err(terr).Msg("page text extraction failed")
			text = ""
		}
		// some extractions hand back the whole page run with a trailing
		// form feed; pagination already comes from the page loop
		text = strings.ReplaceAll(NormalizeText(text), "\f", "\n")
		units = append(units, domain.PageUnit{
			Text:       text,
			PageNumber: i + 1,
			TotalPages: total,
			SourceRef:  path,
		})
	}

	if !hasText(units) {
		return nil, domain.InputError(ErrNoText, nil)
	}
	return units, nil
}

var _ domain.Loader = (*PDFLoader)(nil)
