package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI renders CLI output. In JSON mode all decoration is suppressed so the
// command's JSON payload stays machine-readable.
type UI struct {
	progress  *mpb.Progress
	closeOnce sync.Once
	noColor   bool
	jsonMode  bool
}

// NewUI creates the output helper.
func NewUI(jsonMode, noColor bool) *UI {
	var progress *mpb.Progress
	if !jsonMode {
		progress = mpb.New(mpb.WithWidth(64))
	}
	return &UI{progress: progress, noColor: noColor, jsonMode: jsonMode}
}

// Close flushes pending progress bars. Safe to call more than once. When
// output is piped the bars cannot render, so shut down instead of waiting.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	ui.closeOnce.Do(func() {
		if IsTerminal() {
			ui.progress.Wait()
		} else {
			ui.progress.Shutdown()
		}
	})
}

func (ui *UI) paint(c color.Attribute, prefix, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Printf("%s %s\n", prefix, msg)
		return
	}
	color.New(c).Printf("%s %s\n", prefix, msg)
}

// Success prints a green check line.
func (ui *UI) Success(format string, args ...any) {
	ui.paint(color.FgGreen, "✓", format, args...)
}

// Error prints a red cross line.
func (ui *UI) Error(format string, args ...any) {
	ui.paint(color.FgRed, "✗", format, args...)
}

// Warning prints a yellow warning line.
func (ui *UI) Warning(format string, args ...any) {
	ui.paint(color.FgYellow, "⚠", format, args...)
}

// Info prints a cyan info line.
func (ui *UI) Info(format string, args ...any) {
	ui.paint(color.FgCyan, "ℹ", format, args...)
}

// Step prints a blue step line.
func (ui *UI) Step(format string, args ...any) {
	ui.paint(color.FgBlue, "→", format, args...)
}

// JobBar creates a progress bar for one ingestion job. The total is
// adjusted once the server reports the chunk count.
func (ui *UI) JobBar(name string) *mpb.Bar {
	if ui.progress == nil {
		return nil
	}
	return ui.progress.AddBar(1,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}), " done"),
		),
	)
}

// Table prints rows under a header with column-aligned cells.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	pad := func(cells []string) []string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf(" %-*s ", widths[i], cell)
		}
		return parts
	}
	rule := func() {
		parts := make([]string, len(widths))
		for i, w := range widths {
			parts[i] = strings.Repeat("-", w+2)
		}
		fmt.Println("+" + strings.Join(parts, "+") + "+")
	}

	rule()
	headerCells := pad(headers)
	if !ui.noColor {
		for i, cell := range headerCells {
			headerCells[i] = color.New(color.FgCyan, color.Bold).Sprint(cell)
		}
	}
	fmt.Println("|" + strings.Join(headerCells, "|") + "|")
	rule()
	for _, row := range rows {
		fmt.Println("|" + strings.Join(pad(row), "|") + "|")
	}
	rule()
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Println()
	if ui.noColor {
		fmt.Printf("=== %s ===\n", strings.ToUpper(title))
	} else {
		color.New(color.FgMagenta, color.Bold).Printf("=== %s ===\n", strings.ToUpper(title))
	}
}

// KeyValue prints an indented key-value pair.
func (ui *UI) KeyValue(key string, value any) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Printf("  %s: ", key)
	fmt.Printf("%v\n", value)
}

// FormatDuration renders a duration with one coarse unit.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
