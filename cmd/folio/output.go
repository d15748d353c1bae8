package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
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

// Results go to stdout, progress and diagnostics to stderr. Tests swap both.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func notify(color, mark, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notify(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notify(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notify(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { notify(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// transcriptLine is one chat message as the API returns it.
type transcriptLine struct {
	Text                 string    `json:"text"`
	IsUser               bool      `json:"isUser"`
	Timestamp            time.Time `json:"timestamp"`
	IsSystemNotification bool      `json:"isSystemNotification"`
}

func printTranscript(msgs []transcriptLine) {
	for _, m := range msgs {
		who := colorize(colorGreen, "assistant")
		switch {
		case m.IsUser:
			who = colorize(colorBold, "you")
		case m.IsSystemNotification:
			who = colorize(colorYellow, "system")
		}
		fmt.Fprintf(stdout, "%s %s: %s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Text)
	}
}
