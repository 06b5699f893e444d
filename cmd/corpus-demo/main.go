// Command corpus-demo runs the ingestion and retrieval pipeline end to
// end in one process: deterministic mock embeddings, an in-memory store,
// and a bundled two-document corpus. No database, gateway, or Redis is
// required.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/vectral-ai/corpus-engine/internal/cache"
	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/embedding"
	"github.com/vectral-ai/corpus-engine/internal/ingest"
	"github.com/vectral-ai/corpus-engine/internal/jobs"
	"github.com/vectral-ai/corpus-engine/internal/metadata"
	"github.com/vectral-ai/corpus-engine/internal/observability"
	"github.com/vectral-ai/corpus-engine/internal/search"
)

const demoTenant = "demo"

// offlineChat stands in for the model gateway. Every call fails, which
// sends the metadata generator down its preview-based fallback path.
type offlineChat struct{}

func (offlineChat) Chat(context.Context, string, string) (string, error) {
	return "", domain.InferenceError("no model gateway in demo mode", nil)
}

func main() {
	printBanner()

	ctx := context.Background()
	logger := observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		ServiceName: "corpus-demo",
	})

	st := newMemStore()
	embedder := embedding.NewMockClient(0)
	memCache := cache.NewMemoryClient(0)
	jm := jobs.NewManager(logger)
	meta := metadata.NewGenerator(offlineChat{}, embedder, metadata.Config{}, logger)
	orch := ingest.NewOrchestrator(st, embedder, meta, nil, jm, memCache, ingest.Config{
		ChunkSize:     600,
		ChunkOverlap:  80,
		DefaultTenant: demoTenant,
	}, nil, logger)
	svc := search.NewService(st, embedder, memCache, search.Config{}, nil, logger)

	color.Yellow("⚠ offline mode: mock embeddings, preview-based summaries")
	fmt.Println()

	dir, err := os.MkdirTemp("", "corpus-demo-")
	if err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	for _, doc := range sampleDocs {
		if err := ingestSample(ctx, orch, jm, dir, doc); err != nil {
			color.Red("✗ ingesting %s: %v", doc.filename, err)
			os.Exit(1)
		}
	}

	printCorpus(ctx, svc)
	runShowcase(ctx, svc)
	queryLoop(ctx, svc)
}

func printBanner() {
	banner := `
╔══════════════════════════════════════════════════════════════╗
║                                                              ║
║   📚  Corpus Engine Demo                                     ║
║                                                              ║
║   Ingest, embed, and search a sample corpus in memory        ║
║                                                              ║
╚══════════════════════════════════════════════════════════════╝
`
	fmt.Println(color.CyanString(banner))
}

// ingestSample writes one bundled document to disk and runs it through
// the orchestrator, rendering job progress as it streams: a spinner
// during parsing and chunking, a progress bar once the chunk total is
// known.
func ingestSample(ctx context.Context, orch *ingest.Orchestrator, jm *jobs.Manager, dir string, doc sampleDoc) error {
	path := filepath.Join(dir, doc.filename)
	if err := os.WriteFile(path, []byte(doc.content), 0o644); err != nil {
		return err
	}

	state := jm.Create(doc.filename, demoTenant)
	updates, unsubscribe, ok := watchJob(jm, state.JobID)
	if !ok {
		return errors.New("job vanished before it started")
	}
	defer unsubscribe()

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " parsing " + doc.filename
	spin.Writer = os.Stderr
	spin.Start()

	go orch.Ingest(ctx, ingest.Request{
		JobID:    state.JobID,
		Path:     path,
		Filename: doc.filename,
		TenantID: demoTenant,
	})

	var bar *progressbar.ProgressBar
	for s := range updates {
		switch {
		case s.Status == jobs.StatusFailed:
			spin.Stop()
			if bar != nil {
				fmt.Fprintln(os.Stderr)
			}
			return errors.New(s.Error)

		case s.Status == jobs.StatusCompleted:
			if bar != nil {
				_ = bar.Set64(int64(s.TotalChunks))
				_ = bar.Finish()
			} else {
				spin.Stop()
			}
			color.Green("✓ %s: %d chunk(s), document %s", doc.filename, s.TotalChunks, s.DocumentID)
			return nil

		case s.TotalChunks > 0:
			if bar == nil {
				spin.Stop()
				bar = newChunkBar(int64(s.TotalChunks), "  embedding "+doc.filename)
			}
			_ = bar.Set64(int64(s.ProcessedChunks))

		default:
			spin.Suffix = fmt.Sprintf(" %s %s", s.Stage, doc.filename)
		}
	}
	return errors.New("job stream ended early")
}

// watchJob subscribes to a job and forwards snapshots over a channel.
// Listeners run on the publisher's goroutine and must not block, so a
// full channel drops the oldest snapshot; the newest state, terminal
// included, always lands.
func watchJob(jm *jobs.Manager, jobID string) (<-chan jobs.State, func(), bool) {
	updates := make(chan jobs.State, 16)
	unsubscribe, ok := jm.Subscribe(jobID, func(s jobs.State) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	return updates, unsubscribe, ok
}

func newChunkBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

func printCorpus(ctx context.Context, svc *search.Service) {
	documents, err := svc.List(ctx, demoTenant)
	if err != nil {
		color.Red("✗ listing documents: %v", err)
		return
	}
	fmt.Println()
	fmt.Println(color.New(color.Bold).Sprint("📊 Corpus"))
	for _, d := range documents {
		fmt.Printf("   %s  %s, %d chunk(s), %d page(s)\n",
			color.CyanString(d.DocumentID), d.DocumentType, d.ChunkCount, d.TotalPages)
	}
}

// runShowcase exercises each retrieval mode once with a canned query.
func runShowcase(ctx context.Context, svc *search.Service) {
	section("Chunk search")
	chunkQuery := "why do chunks overlap their neighbours?"
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("query:"), chunkQuery)
	started := time.Now()
	chunks, err := svc.ChunkSearch(ctx, search.ChunkSearchRequest{
		Query:    chunkQuery,
		TenantID: demoTenant,
		K:        3,
	})
	if err != nil {
		color.Red("✗ %v", err)
	} else {
		renderChunks(chunks, time.Since(started))
	}

	section("Header search")
	headerQuery := "which document covers day-to-day operations?"
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("query:"), headerQuery)
	started = time.Now()
	headers, err := svc.HeaderSearch(ctx, headerQuery, demoTenant, 2)
	if err != nil {
		color.Red("✗ %v", err)
	} else {
		fmt.Printf("  %d result(s) in %s\n", len(headers), time.Since(started).Round(time.Millisecond))
		for _, h := range headers {
			fmt.Printf("  %s %s  %s\n",
				color.CyanString("%.3f", h.Score), h.DocumentID, snippet(h.Summary, 90))
		}
	}

	section("Hybrid search")
	hybridQuery := "what invalidates cached search results?"
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("query:"), hybridQuery)
	started = time.Now()
	results, err := svc.HybridSearch(ctx, hybridQuery, demoTenant, 2, 2)
	if err != nil {
		color.Red("✗ %v", err)
	} else {
		renderHybrid(results, time.Since(started))
	}
}

func queryLoop(ctx context.Context, svc *search.Service) {
	fmt.Println()
	fmt.Println(color.New(color.Bold).Sprint("Interactive mode") +
		": type a query, or /docs, /help, quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.New(color.Bold).Sprint("query> "))
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		lowered := strings.ToLower(query)
		if lowered == "quit" || lowered == "exit" {
			break
		}
		if strings.HasPrefix(query, "/") {
			handleCommand(ctx, svc, lowered)
			continue
		}

		started := time.Now()
		results, err := svc.HybridSearch(ctx, query, demoTenant, 2, 3)
		if err != nil {
			color.Red("✗ %v", err)
			continue
		}
		renderHybrid(results, time.Since(started))
	}
	fmt.Println(color.CyanString("\nbye 👋"))
}

func handleCommand(ctx context.Context, svc *search.Service, cmd string) {
	switch cmd {
	case "/docs":
		printCorpus(ctx, svc)
		fmt.Println()
	case "/help":
		fmt.Println("  <query>   hybrid search over the demo corpus")
		fmt.Println("  /docs     list ingested documents")
		fmt.Println("  /help     this message")
		fmt.Println("  quit      exit")
	default:
		color.Red("unknown command %s (try /help)", cmd)
	}
}

func section(title string) {
	fmt.Println()
	fmt.Println(color.New(color.FgMagenta, color.Bold).Sprintf("=== %s ===", title))
}

func renderChunks(chunks []domain.ScoredChunk, elapsed time.Duration) {
	fmt.Printf("  %d result(s) in %s\n", len(chunks), elapsed.Round(time.Millisecond))
	if len(chunks) == 0 {
		color.Yellow("  ⚠ no matches")
		return
	}
	for _, c := range chunks {
		fmt.Printf("  %s %s\n    %s\n",
			color.CyanString("%.3f", c.Score), c.ID, snippet(c.Content, 140))
	}
}

func renderHybrid(results []search.HybridResult, elapsed time.Duration) {
	fmt.Printf("  %d document(s) in %s\n", len(results), elapsed.Round(time.Millisecond))
	if len(results) == 0 {
		color.Yellow("  ⚠ no matches")
		return
	}
	for _, r := range results {
		title := r.Document.Title
		if title == "" {
			title = r.Document.SourceFilename
		}
		fmt.Printf("  %s %s\n", color.New(color.Bold).Sprint(title),
			color.CyanString("(%.3f)", r.Document.Score))
		for _, c := range r.Chunks {
			fmt.Printf("    %s %s\n", color.CyanString("%.3f", c.Score), snippet(c.Content, 120))
		}
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
