package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vectral-ai/corpus-engine/internal/domain"
)

const previewChars = 240

func newSearchCmd() *cobra.Command {
	var (
		mode   string
		tenant string
		topK   int
		docs   []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the ingested corpus",
		Long: `Search runs a similarity query against the corpus.

Modes:
  chunks   ranked text chunks (default)
  headers  ranked document summaries
  hybrid   best documents with their best chunks
  images   ranked captioned images`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := args[0]

			switch mode {
			case "chunks":
				results, err := client.searchChunks(ctx, query, tenant, topK, docs)
				if err != nil {
					return err
				}
				if printJSON(chunkResults{Results: results}) {
					return nil
				}
				renderChunks(results)
			case "headers":
				results, err := client.searchHeaders(ctx, query, tenant, topK)
				if err != nil {
					return err
				}
				if printJSON(headerResults{Results: results}) {
					return nil
				}
				renderHeaders(results)
			case "hybrid":
				results, err := client.searchHybrid(ctx, query, tenant, topK, 3)
				if err != nil {
					return err
				}
				if printJSON(hybridResults{Results: results}) {
					return nil
				}
				for _, r := range results {
					ui.Section(titleOf(r.Document.Document))
					ui.KeyValue("document", r.Document.DocumentID)
					ui.KeyValue("score", fmt.Sprintf("%.3f", r.Document.Score))
					renderChunks(r.Chunks)
				}
			case "images":
				results, err := client.searchImages(ctx, query, topK, docs)
				if err != nil {
					return err
				}
				if printJSON(imageResults{Results: results}) {
					return nil
				}
				renderImages(results)
			default:
				return fmt.Errorf("unknown mode %q (want chunks, headers, hybrid, or images)", mode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "chunks", "search mode: chunks, headers, hybrid, or images")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id to search within")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results")
	cmd.Flags().StringSliceVar(&docs, "docs", nil, "restrict to documents, by name/title for chunks or id for images")
	return cmd
}

func renderChunks(results []domain.ScoredChunk) {
	if len(results) == 0 {
		ui.Warning("no matches")
		return
	}
	for i, r := range results {
		ui.Step("%d. %s  page %d  score %.3f", i+1, r.ID, r.Metadata.PageNumber, r.Score)
		ui.KeyValue("text", preview(r.Content))
	}
}

func renderHeaders(results []domain.ScoredDocument) {
	if len(results) == 0 {
		ui.Warning("no matches")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.DocumentID,
			titleOf(r.Document),
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%d", r.ChunkCount),
			fmt.Sprintf("%d", r.TotalPages),
		})
	}
	ui.Table([]string{"DOCUMENT", "TITLE", "SCORE", "CHUNKS", "PAGES"}, rows)
}

func renderImages(results []domain.ScoredImage) {
	if len(results) == 0 {
		ui.Warning("no matches")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.ImageID,
			r.DocumentID,
			fmt.Sprintf("%d", r.PageNumber),
			fmt.Sprintf("%.3f", r.Score),
			preview(r.Description),
		})
	}
	ui.Table([]string{"IMAGE", "DOCUMENT", "PAGE", "SCORE", "DESCRIPTION"}, rows)
}

func titleOf(d domain.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return d.SourceFilename
}

func preview(s string) string {
	return truncate(strings.Join(strings.Fields(s), " "), previewChars)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
