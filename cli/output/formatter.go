// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding selected with --output
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --output value; empty means table
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
}

// Field is one labelled value of a command result
type Field struct {
	Key   string
	Value string
}

// TableData is tabular output. Headers double as object keys in JSON and YAML.
type TableData struct {
	Headers []string
	Rows    [][]string
}

// Formatter writes command results in one format. Results go to Out and
// warnings to Err.
type Formatter struct {
	Format Format
	Quiet  bool
	Out    io.Writer
	Err    io.Writer
}

// Structured reports whether results are machine readable
func (f *Formatter) Structured() bool {
	return f.Format == FormatJSON || f.Format == FormatYAML
}

// Print encodes v as JSON or YAML. Table mode prints JSON.
func (f *Formatter) Print(v any) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatYAML {
		enc := yaml.NewEncoder(f.Out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(f.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintFields prints "key: value" lines, or one object whose keys keep
// their order in YAML
func (f *Formatter) PrintFields(fields ...Field) error {
	if f.Quiet {
		return nil
	}

	switch f.Format {
	case FormatJSON:
		obj := make(map[string]string, len(fields))
		for _, fd := range fields {
			obj[fieldKey(fd.Key)] = fd.Value
		}
		return f.Print(obj)
	case FormatYAML:
		node := &yaml.Node{Kind: yaml.MappingNode}
		for _, fd := range fields {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: fieldKey(fd.Key)},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fd.Value},
			)
		}
		return f.Print(node)
	}

	for _, fd := range fields {
		if _, err := fmt.Fprintf(f.Out, "%s: %s\n", fd.Key, fd.Value); err != nil {
			return err
		}
	}
	return nil
}

// PrintTable prints a borderless table, or a list of objects when structured
func (f *Formatter) PrintTable(data TableData) error {
	if f.Quiet {
		return nil
	}
	if f.Structured() {
		return f.Print(data.Objects())
	}

	table := tablewriter.NewWriter(f.Out)
	if len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data.Rows)
	table.Render()
	return nil
}

// Objects converts rows to maps keyed by header. Cells past the last header are dropped.
func (d TableData) Objects() []map[string]string {
	objs := make([]map[string]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		obj := make(map[string]string, len(d.Headers))
		for i, h := range d.Headers {
			if i < len(row) {
				obj[fieldKey(h)] = row[i]
			}
		}
		objs = append(objs, obj)
	}
	return objs
}

// PrintWarning writes to Err even in structured modes, so stdout stays parseable
func (f *Formatter) PrintWarning(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.Err, "Warning:", message)
}

// fieldKey turns a display label into an object key: "Cache Key" -> "cache_key"
func fieldKey(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}

// FormatBytes formats a byte count with binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate shortens s to maxLen runes, ending with "..."
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
