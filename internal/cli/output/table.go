package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that render as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// newTable returns a borderless left-aligned table.
func newTable(w io.Writer, sep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(sep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable writes data as a table with upper-cased headers.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := newTable(w, "")
	table.SetAutoFormatHeaders(true)
	if h := data.Headers(); len(h) > 0 {
		table.SetHeader(h)
	}
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// TableData is an ad-hoc TableRenderer.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a TableData with the given headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers, rows: make([][]string, 0)}
}

// AddRow appends a row.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *TableData) Headers() []string { return t.headers }
func (t *TableData) Rows() [][]string  { return t.rows }

// KeyValues is an ordered list of labelled values rendered as "key: value"
// lines. Used for single-object results such as GC reports.
type KeyValues [][2]string

// Add appends a pair and returns the list.
func (kv KeyValues) Add(key, value string) KeyValues {
	return append(kv, [2]string{key, value})
}

func (kv KeyValues) Headers() []string { return nil }

func (kv KeyValues) Rows() [][]string {
	rows := make([][]string, len(kv))
	for i, p := range kv {
		rows[i] = []string{p[0], p[1]}
	}
	return rows
}

// PrintKeyValues writes kv as a two-column table separated by colons.
func PrintKeyValues(w io.Writer, kv KeyValues) error {
	table := newTable(w, ":")
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(kv.Rows())
	table.Render()
	return nil
}
