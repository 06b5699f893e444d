package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/llm"
)

// VisionClient is the captioning surface the extractor needs.
type VisionClient interface {
	AnalyzeImage(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error)
}

const captionPromptTemplate = `You are indexing an image extracted from a document.

Document context:
%CONTEXT%

Describe the image for retrieval. If it is a chart, graph, or table,
reproduce its data as Markdown. Reply with a single JSON object and nothing
else:
{"description": "<detailed description>", "shouldEmbed": true|false, "reason": "<one line>"}
Set shouldEmbed to false only for decorative images that carry no information.`

// captionPrompt builds the per-image prompt with the document summary
// inlined as context.
func captionPrompt(docSummary string) string {
	if strings.TrimSpace(docSummary) == "" {
		docSummary = "(none)"
	}
	return strings.Replace(captionPromptTemplate, "%CONTEXT%", docSummary, 1)
}

type verdict struct {
	Description string `json:"description"`
	ShouldEmbed bool   `json:"shouldEmbed"`
	Reason      string `json:"reason"`
}

// parseVerdict interprets a vision reply, tolerating Markdown fences. A
// reply that does not parse becomes the description verbatim with
// shouldEmbed true.
func parseVerdict(reply string) (description string, shouldEmbed bool, reason string) {
	var v verdict
	if err := json.Unmarshal([]byte(llm.ExtractJSONBlock(reply)), &v); err != nil {
		return strings.TrimSpace(reply), true, ""
	}
	return strings.TrimSpace(v.Description), v.ShouldEmbed, strings.TrimSpace(v.Reason)
}

// Block renders the caption block for one image as it appears in chunk text.
func Block(imageID, description string) string {
	return fmt.Sprintf("[IMAGE:%s]\n%s\n[/IMAGE:%s]", imageID, description, imageID)
}

// InterleaveBlocks appends a caption block for every embeddable image to the
// text of its page unit, after the natural page text. Pages that carried
// images but produced no text unit get a synthetic unit, so image-only pages
// still yield chunks. The combined units are what the chunker receives.
func InterleaveBlocks(units []domain.PageUnit, images []Image) []domain.PageUnit {
	byPage := make(map[int][]Image)
	maxPage := 0
	for _, img := range images {
		if !img.ShouldEmbed || strings.TrimSpace(img.Description) == "" {
			continue
		}
		byPage[img.PageNumber] = append(byPage[img.PageNumber], img)
		if img.PageNumber > maxPage {
			maxPage = img.PageNumber
		}
	}
	if len(byPage) == 0 {
		return units
	}

	totalPages := maxPage
	for _, u := range units {
		if u.TotalPages > totalPages {
			totalPages = u.TotalPages
		}
	}

	out := make([]domain.PageUnit, 0, len(units)+len(byPage))
	for _, u := range units {
		if imgs, ok := byPage[u.PageNumber]; ok {
			u.Text = appendBlocks(u.Text, imgs)
			delete(byPage, u.PageNumber)
		}
		out = append(out, u)
	}

	if len(byPage) > 0 {
		pages := make([]int, 0, len(byPage))
		for p := range byPage {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		for _, p := range pages {
			out = append(out, domain.PageUnit{
				Text:       appendBlocks("", byPage[p]),
				PageNumber: p,
				TotalPages: totalPages,
			})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	}
	return out
}

func appendBlocks(text string, images []Image) string {
	var b strings.Builder
	b.WriteString(text)
	for _, img := range images {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(Block(img.ImageID, img.Description))
	}
	return b.String()
}
