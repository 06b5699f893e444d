// Package main provides the corpus engine CLI: document ingestion with live
// progress, search, and document administration against a corpus-api host.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	outputJSON bool
	noColor    bool

	client *apiClient
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "corpus-cli",
	Short: "Corpus engine CLI for ingestion, search, and administration",
	Long: `corpus-cli manages a corpus-engine deployment over its HTTP API.

Use this tool to:
- Upload documents and watch ingestion progress live
- Search chunks, document summaries, or images
- List and delete ingested documents
- Inspect ingestion jobs

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if serverURL == "" {
			serverURL = os.Getenv("CORPUS_API_URL")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8090"
		}
		client = newAPIClient(serverURL)
		ui = NewUI(outputJSON, noColor)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ui.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "corpus-api base URL (default: CORPUS_API_URL or http://localhost:8090)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newDocsCmd())
	rootCmd.AddCommand(newJobCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printJSON writes v as indented JSON to stdout in --json mode. Returns
// whether it printed.
func printJSON(v any) bool {
	if !outputJSON {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return true
}
