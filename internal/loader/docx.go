package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/vectral-ai/corpus-engine/internal/domain"
)

// DOCXLoader extracts paragraph text from word/document.xml inside the OOXML
// archive. The whole document is one page unit: DOCX has no fixed pagination
// before rendering.
type DOCXLoader struct{}

// NewDOCX creates a DOCX loader.
func NewDOCX() *DOCXLoader { return &DOCXLoader{} }

func (l *DOCXLoader) Type() domain.DocumentType { return domain.DocumentTypeDOCX }

func (l *DOCXLoader) Load(_ context.Context, path string) ([]domain.PageUnit, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, domain.InputError("open docx archive", err)
	}
	defer archive.Close()

	var docXML *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			docXML = f
			break
		}
	}
	if docXML == nil {
		return nil, domain.InputError("docx archive has no word/document.xml", nil)
	}

	r, err := docXML.Open()
	if err != nil {
		return nil, domain.InputError("open word/document.xml", err)
	}
	defer r.Close()

	text, err := extractParagraphs(r)
	if err != nil {
		return nil, domain.InputError("parse word/document.xml", err)
	}

	text = strings.TrimSpace(NormalizeText(text))
	if text == "" {
		return nil, domain.InputError(ErrNoText, nil)
	}

	return []domain.PageUnit{{Text: text, PageNumber: 1, TotalPages: 1, SourceRef: path}}, nil
}

// extractParagraphs streams the document XML and joins paragraph runs with
// newlines. Tabs and explicit breaks inside a run are preserved.
func extractParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var doc strings.Builder
	var para strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if para.Len() > 0 {
					doc.WriteString(para.String())
					para.Reset()
				}
				doc.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	if para.Len() > 0 {
		doc.WriteString(para.String())
	}
	return doc.String(), nil
}

var _ domain.Loader = (*DOCXLoader)(nil)
