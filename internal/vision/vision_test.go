package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

type stubVLM struct {
	reply   string
	err     error
	prompts []string
	mimes   []string
}

func (s *stubVLM) AnalyzeImage(_ context.Context, prompt string, _ []byte, mime string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.mimes = append(s.mimes, mime)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testExtractor(vlm VisionClient) *Extractor {
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	return NewExtractor(vlm, Config{}, logger)
}

func TestParseExtractedName(t *testing.T) {
	tests := []struct {
		name string
		page int
		ext  string
		ok   bool
	}{
		{"report_3_Im0.png", 3, "png", true},
		{"q_2024_12_Im1.jpg", 12, "jpg", true},
		{"annual_report_2024_1_Image5.JPG", 1, "jpg", true},
		{"base_7_Im_2.png", 7, "png", true},
		{"noise.png", 0, "", false},
		{"a_b_c.png", 0, "", false},
		{"noext_3_Im0", 0, "", false},
	}
	for _, tt := range tests {
		page, ext, ok := parseExtractedName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.page, page, tt.name)
			assert.Equal(t, tt.ext, ext, tt.name)
		}
	}
}

func TestNormalizeRasterDecodable(t *testing.T) {
	in := pngBytes(t, 80, 60)

	out, mime, w, h := normalizeRaster(in, "png")
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, 80, w)
	assert.Equal(t, 60, h)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
}

func TestNormalizeRasterUndecodable(t *testing.T) {
	in := []byte("not an image at all")

	out, mime, w, h := normalizeRaster(in, "tiff")
	assert.Equal(t, in, out, "undecodable buffers pass through raw")
	assert.Equal(t, "image/tiff", mime)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestCaptionRasterVerdict(t *testing.T) {
	vlm := &stubVLM{reply: "```json\n{\"description\": \"A bar chart of revenue\", \"shouldEmbed\": true, \"reason\": \"carries data\"}\n```"}
	e := testExtractor(vlm)

	img, err := e.captionRaster(context.Background(), "doc", "about finances", 3, 0, pngBytes(t, 100, 100), "png")
	require.NoError(t, err)
	require.NotNil(t, img)

	assert.Equal(t, "A bar chart of revenue", img.Description)
	assert.True(t, img.ShouldEmbed)
	assert.Equal(t, "carries data", img.Reason)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 3, img.PageNumber)
	assert.Regexp(t, regexp.MustCompile(`^doc_p3_img0_[0-9a-f]{8}$`), img.ImageID)

	require.Len(t, vlm.prompts, 1)
	assert.Contains(t, vlm.prompts[0], "about finances", "document summary is prompt context")
}

func TestCaptionRasterDeterministicID(t *testing.T) {
	vlm := &stubVLM{reply: `{"description": "x", "shouldEmbed": true, "reason": ""}`}
	e := testExtractor(vlm)
	ctx := context.Background()
	data := pngBytes(t, 100, 100)

	a, err := e.captionRaster(ctx, "doc", "", 1, 0, data, "png")
	require.NoError(t, err)
	b, err := e.captionRaster(ctx, "doc", "", 1, 0, data, "png")
	require.NoError(t, err)
	assert.Equal(t, a.ImageID, b.ImageID, "same content yields the same id")
}

func TestCaptionRasterTooSmall(t *testing.T) {
	vlm := &stubVLM{reply: "unused"}
	e := testExtractor(vlm)

	img, err := e.captionRaster(context.Background(), "doc", "", 1, 0, pngBytes(t, 10, 10), "png")
	require.NoError(t, err)
	assert.Nil(t, img)
	assert.Empty(t, vlm.prompts, "dropped rasters are never analyzed")
}

func TestCaptionRasterVisionFailure(t *testing.T) {
	vlm := &stubVLM{err: errors.New("model unavailable")}
	e := testExtractor(vlm)

	img, err := e.captionRaster(context.Background(), "doc", "", 1, 0, pngBytes(t, 100, 100), "png")
	require.NoError(t, err)
	assert.Nil(t, img, "analysis failure skips the image")
}

func TestCaptionRasterDegradedRaw(t *testing.T) {
	vlm := &stubVLM{reply: `{"description": "opaque raster", "shouldEmbed": false, "reason": "cannot inspect"}`}
	e := testExtractor(vlm)

	img, err := e.captionRaster(context.Background(), "doc", "", 2, 1, []byte("raw tiff payload"), "tiff")
	require.NoError(t, err)
	require.NotNil(t, img)

	assert.Equal(t, "image/tiff", img.MimeType, "degraded path keeps the native mime")
	assert.Zero(t, img.Width)
	assert.False(t, img.ShouldEmbed)
	require.Len(t, vlm.mimes, 1)
	assert.Equal(t, "image/tiff", vlm.mimes[0])
}

func TestParseVerdict(t *testing.T) {
	desc, embed, reason := parseVerdict(`{"description": "a diagram", "shouldEmbed": false, "reason": "decorative"}`)
	assert.Equal(t, "a diagram", desc)
	assert.False(t, embed)
	assert.Equal(t, "decorative", reason)

	desc, embed, _ = parseVerdict("```json\n{\"description\": \"fenced\", \"shouldEmbed\": true}\n```")
	assert.Equal(t, "fenced", desc)
	assert.True(t, embed)

	desc, embed, reason = parseVerdict("The image shows a sunset over mountains.")
	assert.Equal(t, "The image shows a sunset over mountains.", desc, "raw text survives as description")
	assert.True(t, embed, "shouldEmbed defaults to true on parse failure")
	assert.Empty(t, reason)
}

func TestBlockFormat(t *testing.T) {
	assert.Equal(t, "[IMAGE:id1]\na chart\n[/IMAGE:id1]", Block("id1", "a chart"))
}

func TestInterleaveBlocks(t *testing.T) {
	units := []domain.PageUnit{
		{Text: "page one text", PageNumber: 1, TotalPages: 3},
		{Text: "", PageNumber: 2, TotalPages: 3},
		{Text: "page three text", PageNumber: 3, TotalPages: 3},
	}
	images := []Image{
		{Image: domain.Image{ImageID: "i1", PageNumber: 1, Description: "first"}, ShouldEmbed: true},
		{Image: domain.Image{ImageID: "i2", PageNumber: 1, Description: "skipped"}, ShouldEmbed: false},
		{Image: domain.Image{ImageID: "i3", PageNumber: 2, Description: "second"}, ShouldEmbed: true},
	}

	out := InterleaveBlocks(units, images)
	require.Len(t, out, 3)

	assert.Equal(t, "page one text\n\n"+Block("i1", "first"), out[0].Text)
	assert.NotContains(t, out[0].Text, "i2", "non-embed images stay out of the text")
	assert.Equal(t, Block("i3", "second"), out[1].Text, "empty pages get bare blocks")
	assert.Equal(t, "page three text", out[2].Text)
}

func TestInterleaveBlocksImageOnlyPage(t *testing.T) {
	units := []domain.PageUnit{
		{Text: "intro", PageNumber: 1, TotalPages: 1},
	}
	images := []Image{
		{Image: domain.Image{ImageID: "i9", PageNumber: 3, Description: "orphan figure"}, ShouldEmbed: true},
	}

	out := InterleaveBlocks(units, images)
	require.Len(t, out, 2)

	assert.Equal(t, 1, out[0].PageNumber)
	assert.Equal(t, 3, out[1].PageNumber, "synthetic unit keeps page order")
	assert.Equal(t, Block("i9", "orphan figure"), out[1].Text)
	assert.Equal(t, 3, out[1].TotalPages, "total pages stretches to cover image pages")
}

func TestInterleaveBlocksNoEmbeddable(t *testing.T) {
	units := []domain.PageUnit{{Text: "text", PageNumber: 1, TotalPages: 1}}
	images := []Image{
		{Image: domain.Image{ImageID: "i1", PageNumber: 1, Description: "x"}, ShouldEmbed: false},
		{Image: domain.Image{ImageID: "i2", PageNumber: 1, Description: "   "}, ShouldEmbed: true},
	}

	out := InterleaveBlocks(units, images)
	require.Len(t, out, 1)
	assert.Equal(t, "text", out[0].Text, "blank or non-embed captions leave units untouched")
}
