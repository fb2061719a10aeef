// Package ui prints human-facing command output. Logs go through the logger
// package; this package only writes summaries and prompts.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stdout
	quiet  bool
	colors = term.IsTerminal(int(os.Stdout.Fd()))
)

// SetOutput redirects output; colors are disabled for anything but a terminal
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	f, ok := w.(*os.File)
	colors = ok && term.IsTerminal(int(f.Fd()))
}

// SetQuiet suppresses everything except errors
func SetQuiet(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.Lock()
		c := colors
		mu.Unlock()
		if !c {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func emit(always bool, s string) {
	mu.Lock()
	defer mu.Unlock()
	if quiet && !always {
		return
	}
	fmt.Fprintln(out, s)
}

// PrintError prints an error message in red, even in quiet mode
func PrintError(msg string, err error) {
	if err != nil {
		msg += ": " + err.Error()
	}
	emit(true, Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	emit(false, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	emit(false, fmt.Sprintf("%s: %s", Cyan(label), Yellow(value)))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string) {
	emit(false, Yellow(msg))
}

// PrintSummary prints a titled block of counters with aligned, sorted keys
func PrintSummary(title string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(Magenta(title))
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %-*s  %v", width, k, fields[k])
	}
	emit(false, b.String())
}

// Bar renders done/total as a fixed-width progress bar
func Bar(done, total, width int) string {
	if width < 1 {
		width = 20
	}
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s] %d/%d",
		strings.Repeat(ProgressBar, filled)+strings.Repeat(ProgressEmpty, width-filled),
		done, total)
}
