package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// clipView is the client-side shape of a clip returned by the API.
type clipView struct {
	ID          string    `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Keywords    []string  `json:"keywords"`
	Description string    `json:"description"`
	Enriched    bool      `json:"enriched"`
}

// writeClip prints one clip as a header line followed by its description.
// now is used to render the clip's age.
func writeClip(w io.Writer, c clipView, header string, now time.Time) {
	age := now.Sub(c.End).Round(time.Second)
	fmt.Fprintf(w, "%s %s  %s ago, %s long\n",
		header,
		colorize(colorCyan, c.ID),
		age,
		c.End.Sub(c.Start).Round(100*time.Millisecond),
	)
	desc := c.Description
	if c.Enriched {
		desc += " " + colorize(colorGreen, "(enriched)")
	}
	fmt.Fprintf(w, "  %s\n", desc)
	if len(c.Keywords) > 0 {
		fmt.Fprintf(w, "  keywords: %s\n", strings.Join(c.Keywords, ", "))
	}
}
