// Package output renders command results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format is an output format selected with --output.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses s, defaulting to FormatTable when empty.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes results in one format.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// DefaultPrinter writes tables to stdout.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, FormatTable, true)
}

func (p *Printer) Format() Format { return p.format }

func (p *Printer) Writer() io.Writer { return p.out }

// Print renders data in the printer format. In table format data must
// implement TableRenderer; anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Printf prints a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// ANSI colors for status lines.
const (
	colorRed    = "31"
	colorGreen  = "32"
	colorYellow = "33"
)

func (p *Printer) line(color, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[%sm%s\033[0m\n", color, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}

func (p *Printer) Success(msg string) { p.line(colorGreen, msg) }
func (p *Printer) Warning(msg string) { p.line(colorYellow, msg) }
func (p *Printer) Error(msg string)   { p.line(colorRed, msg) }
