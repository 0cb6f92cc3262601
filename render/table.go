// Package render turns engine results into displayable output: plain-text
// tables for text answers and PNG charts for plot instructions.
package render

import (
	"bytes"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/spektr-org/insight/engine"
)

// ============================================================================
// TABLES — engine.TableData → aligned text
// ============================================================================

// TableText renders td as an aligned text table. A nil table renders as "".
func TableText(td *engine.TableData) string {
	if td == nil {
		return ""
	}
	var buf bytes.Buffer
	WriteTable(&buf, td)
	return buf.String()
}

// WriteTable writes td to w, with its summary as the footer.
func WriteTable(w io.Writer, td *engine.TableData) {
	if td == nil {
		return
	}
	headers := make([]string, len(td.Columns))
	align := make([]int, len(td.Columns))
	for i, c := range td.Columns {
		headers[i] = c.Label
		if headers[i] == "" {
			headers[i] = c.Key
		}
		align[i] = alignment(c.Align)
	}

	tw := newWriter(w, headers)
	tw.SetColumnAlignment(align)
	tw.AppendBulk(td.Rows)

	if td.Summary != nil && len(td.Columns) > 0 {
		footer := make([]string, len(td.Columns))
		footer[0] = td.Summary.Label
		for i, c := range td.Columns {
			if v, ok := td.Summary.Values[c.Key]; ok {
				footer[i] = v
			}
		}
		tw.SetFooter(footer)
	}
	tw.Render()
}

// WriteRows writes raw rows under headers, left aligned.
func WriteRows(w io.Writer, headers []string, rows [][]string) {
	tw := newWriter(w, headers)
	tw.AppendBulk(rows)
	tw.Render()
}

func newWriter(w io.Writer, headers []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	return tw
}

func alignment(a string) int {
	switch a {
	case "right":
		return tablewriter.ALIGN_RIGHT
	case "center":
		return tablewriter.ALIGN_CENTER
	case "left":
		return tablewriter.ALIGN_LEFT
	}
	return tablewriter.ALIGN_DEFAULT
}
