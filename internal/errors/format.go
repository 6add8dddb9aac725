package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// ANSI escape sequences.
const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
	ansiBold  = "\033[1m"
)

var noColor atomic.Bool

// DisableColors turns off ANSI escapes, e.g. when stderr is not a terminal.
func DisableColors() { noColor.Store(true) }

// EnableColors turns ANSI escapes back on.
func EnableColors() { noColor.Store(false) }

func paint(seq, text string) string {
	if noColor.Load() {
		return text
	}
	return seq + text + ansiReset
}

// Format renders the error for a terminal:
//
//	ERROR P101: Config file could not be parsed
//
//	  pixeltree.toml, line 4
//
//	  Cause: toml: expected '=' after key
//
//	  Hint: Check the TOML syntax; durations are strings like "60s".
func (e *Error) Format() string {
	var b strings.Builder

	title := "ERROR"
	if e.Code != "" {
		title += " " + e.Code
	}
	fmt.Fprintf(&b, "\n%s %s\n\n", paint(ansiRed+ansiBold, title+":"), e.Message)

	if e.Detail != "" {
		for _, line := range wrapText(e.Detail, 70) {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s%s\n\n", paint(ansiGray, "Cause: "), e.Wrapped)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", paint(ansiCyan, "Hint: "), e.Suggestion)
	}
	return b.String()
}

// FormatCompact returns the single-line form used in logs.
func (e *Error) FormatCompact() string {
	if e.Category == "" {
		return e.Error()
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Error())
}

// wrapText breaks text into lines of at most width bytes at word
// boundaries. A single word longer than width gets its own line.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var (
		lines []string
		line  = words[0]
	)
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}

// PrintError writes err to w. Coded errors anywhere in the chain get the
// full layout; anything else is printed on one line.
func PrintError(w io.Writer, err error) {
	var e *Error
	if stderrors.As(err, &e) {
		io.WriteString(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %v\n\n", paint(ansiRed+ansiBold, "ERROR:"), err)
}
