// Package vision recovers embedded rasters from PDFs, captions them with a
// vision model, and interleaves the captions into page text for chunking.
package vision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

const defaultMinPixels = 50

// Config bounds extraction and analysis.
type Config struct {
	// MinPixels drops decoded rasters below this size in either dimension.
	MinPixels int
	// MaxImagePages limits image analysis to the first N pages when > 0.
	// Later pages still contribute text.
	MaxImagePages int
}

// Image is one extracted, captioned raster. ShouldEmbed carries the model's
// verdict on whether the caption belongs in the text stream and the image
// in similarity search.
type Image struct {
	domain.Image
	ShouldEmbed bool
	Reason      string
}

// Extractor pulls embedded images out of PDFs and captions them.
type Extractor struct {
	vlm    VisionClient
	cfg    Config
	logger *observability.Logger
}

// NewExtractor creates an image extractor backed by the given vision model.
func NewExtractor(vlm VisionClient, cfg Config, logger *observability.Logger) *Extractor {
	if cfg.MinPixels <= 0 {
		cfg.MinPixels = defaultMinPixels
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Extractor{vlm: vlm, cfg: cfg, logger: logger.WithComponent("vision")}
}

// Extract recovers the embedded rasters of the PDF at path, captions each
// with the vision model, and returns them in (page, index) order. docSummary
// is passed as context into every caption prompt. Rasters the model fails on
// are skipped; only the extraction itself can fail.
func (e *Extractor) Extract(ctx context.Context, path, documentID, docSummary string) ([]Image, error) {
	tempDir, err := os.MkdirTemp("", "corpus-images-*")
	if err != nil {
		return nil, domain.InternalError("create temp directory", err)
	}
	defer os.RemoveAll(tempDir)

	if err := api.ExtractImagesFile(path, tempDir, e.pageSelection(path), nil); err != nil {
		return nil, domain.InputError("extract pdf images", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return nil, domain.InternalError("read temp directory", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var images []Image
	perPage := make(map[int]int)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, ext, ok := parseExtractedName(name)
		if !ok {
			e.logger.Debug().Str("file", name).Msg("unrecognized extracted image name")
			continue
		}
		index := perPage[page]
		perPage[page]++

		data, err := os.ReadFile(filepath.Join(tempDir, name))
		if err != nil {
			return nil, domain.InternalError("read extracted image", err)
		}

		img, err := e.captionRaster(ctx, documentID, docSummary, page, index, data, ext)
		if err != nil {
			return nil, err
		}
		if img != nil {
			images = append(images, *img)
		}
	}

	e.logger.Info().
		Str("document_id", documentID).
		Int("extracted", len(names)).
		Int("captioned", len(images)).
		Msg("pdf image extraction finished")
	return images, nil
}

// pageSelection builds the pdfcpu page selection for the configured cap,
// clamped to the document's page count when it is known.
func (e *Extractor) pageSelection(path string) []string {
	if e.cfg.MaxImagePages <= 0 {
		return nil
	}
	n := e.cfg.MaxImagePages
	if count, err := api.PageCountFile(path); err == nil && count < n {
		n = count
	}
	return []string{fmt.Sprintf("1-%d", n)}
}

// captionRaster normalizes one raster, applies the size filter, captions it,
// and builds the stored image record. Returns nil for rasters that are
// dropped (too small) or skipped (vision model failure).
func (e *Extractor) captionRaster(ctx context.Context, documentID, docSummary string, page, index int, data []byte, ext string) (*Image, error) {
	data, mime, w, h := normalizeRaster(data, ext)
	if w > 0 && h > 0 && (w < e.cfg.MinPixels || h < e.cfg.MinPixels) {
		e.logger.Debug().
			Str("document_id", documentID).
			Int("page", page).
			Int("width", w).
			Int("height", h).
			Msg("dropping raster below minimum size")
		return nil, nil
	}
	if mime != "image/png" {
		e.logger.Warn().
			Str("document_id", documentID).
			Int("page", page).
			Str("mime_type", mime).
			Msg("storing raster undecoded")
	}

	reply, err := e.vlm.AnalyzeImage(ctx, captionPrompt(docSummary), data, mime)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn().
			Str("document_id", documentID).
			Int("page", page).
			Err(err).
			Msg("image analysis failed, skipping image")
		return nil, nil
	}
	description, shouldEmbed, reason := parseVerdict(reply)

	sum := sha256.Sum256(data)
	return &Image{
		Image: domain.Image{
			ImageID:     domain.ImageID(documentID, page, index, hex.EncodeToString(sum[:4])),
			DocumentID:  documentID,
			PageNumber:  page,
			MimeType:    mime,
			Width:       w,
			Height:      h,
			Description: description,
			Data:        data,
		},
		ShouldEmbed: shouldEmbed,
		Reason:      reason,
	}, nil
}

// parseExtractedName pulls the page number and extension out of a pdfcpu
// output name, shaped <base>_<page>_<resource>.<ext>. The base may itself
// contain underscores and digits, so the page is found scanning from the
// right.
func parseExtractedName(name string) (page int, ext string, ok bool) {
	dotExt := filepath.Ext(name)
	if dotExt == "" {
		return 0, "", false
	}
	parts := strings.Split(strings.TrimSuffix(name, dotExt), "_")
	if len(parts) < 3 {
		return 0, "", false
	}
	for i := len(parts) - 2; i >= 1; i-- {
		if p, err := strconv.Atoi(parts[i]); err == nil && p >= 1 {
			return p, strings.ToLower(strings.TrimPrefix(dotExt, ".")), true
		}
	}
	return 0, "", false
}

// normalizeRaster re-encodes a decodable raster as PNG. Buffers that do not
// decode are passed through raw with their native mime type and zero bounds,
// which marks the degraded path.
func normalizeRaster(data []byte, ext string) (out []byte, mime string, w, h int) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mimeForExt(ext), 0, 0
	}
	bounds := img.Bounds()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return data, mimeForExt(ext), bounds.Dx(), bounds.Dy()
	}
	return buf.Bytes(), "image/png", bounds.Dx(), bounds.Dy()
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	case "jpx", "jp2":
		return "image/jp2"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
