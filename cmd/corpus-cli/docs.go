package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List and delete ingested documents",
	}
	cmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", "", "tenant id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			documents, err := client.listDocuments(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			if printJSON(documentList{Documents: documents}) {
				return nil
			}
			if len(documents) == 0 {
				ui.Warning("no documents ingested")
				return nil
			}
			rows := make([][]string, 0, len(documents))
			for _, d := range documents {
				rows = append(rows, []string{
					d.DocumentID,
					d.SourceFilename,
					truncate(d.Title, 40),
					string(d.DocumentType),
					fmt.Sprintf("%d", d.ChunkCount),
					fmt.Sprintf("%d", d.TotalPages),
					d.CreatedAt,
				})
			}
			ui.Table([]string{"DOCUMENT", "FILE", "TITLE", "TYPE", "CHUNKS", "PAGES", "CREATED"}, rows)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and everything derived from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.deleteDocument(cmd.Context(), args[0], tenant)
			if err != nil {
				return err
			}
			if printJSON(result) {
				return nil
			}
			ui.Success("deleted %s: %d chunk(s), %d image(s) removed",
				args[0], result.ChunksDeleted, result.ImagesDeleted)
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
