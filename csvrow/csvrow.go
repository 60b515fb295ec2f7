// Package csvrow accumulates parsed worksheet rows into RFC 4180 CSV text.
// It is the worksheet.Handler implementation the orchestrator hands to the
// Sheet Stream Reader: each on_row callback grows the in-memory CSV
// buffer, honoring hidden-row/column filters and merged-cell propagation.
package csvrow

import (
	"strings"

	"github.com/corviddata/xlsx2csv/cellref"
	"github.com/corviddata/xlsx2csv/numfmt"
	"github.com/corviddata/xlsx2csv/stringtable"
	"github.com/corviddata/xlsx2csv/styles"
	"github.com/corviddata/xlsx2csv/workbook"
	"github.com/corviddata/xlsx2csv/worksheet"
)

// Newline selects the row terminator written to the output.
type Newline int

const (
	LF Newline = iota
	CRLF
)

// MergedHandling selects whether a cell absent from a merged range is left
// empty or filled in with the merged range's top-left value.
type MergedHandling int

const (
	NoPropagation MergedHandling = iota
	Propagate
)

// DateMode selects how a date-styled numeric cell renders: ISO text
// ("2022-01-01") or the raw underlying serial number, bypassing date
// conversion entirely.
type DateMode int

const (
	ISO DateMode = iota
	Raw
)

// Options controls row collection and CSV emission.
type Options struct {
	Delimiter            byte
	Newline              Newline
	IncludeBOM           bool
	QuoteAll             bool
	MergedHandling       MergedHandling
	IncludeHiddenRows    bool
	IncludeHiddenColumns bool
	DateMode             DateMode
}

// DefaultOptions holds the default row-collection and CSV-emission settings.
var DefaultOptions = Options{
	Delimiter:      ',',
	Newline:        LF,
	MergedHandling: NoPropagation,
}

// Collector implements worksheet.Handler, converting each row it receives
// into CSV text appended to an internal buffer.
type Collector struct {
	opts       Options
	strTable   *stringtable.Table
	styleReg   *styles.Registry
	dateSystem workbook.DateSystem

	buf      strings.Builder
	rowCount int
	errs     []string

	mergedRanges  []cellref.Range
	mergedText    map[string]string // range reference -> cached top-left text
	hiddenColumns map[int]bool
}

// New constructs a Collector. strTable and styleReg may be nil.
func New(opts Options, strTable *stringtable.Table, styleReg *styles.Registry, dateSystem workbook.DateSystem) *Collector {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &Collector{
		opts:          opts,
		strTable:      strTable,
		styleReg:      styleReg,
		dateSystem:    dateSystem,
		mergedText:    make(map[string]string),
		hiddenColumns: make(map[int]bool),
	}
}

// OnWorksheetMetadata implements worksheet.Handler. Snapshots are
// monotonic, so simply replacing the collector's view with the latest
// snapshot is correct.
func (c *Collector) OnWorksheetMetadata(meta worksheet.WorksheetMetadata) {
	c.mergedRanges = meta.MergedRanges
	for _, col := range meta.Columns {
		if col.Hidden {
			c.hiddenColumns[col.ColumnIndex] = true
		}
	}
}

// OnError implements worksheet.Handler.
func (c *Collector) OnError(message string) {
	c.errs = append(c.errs, message)
}

// OnRow implements worksheet.Handler: converts and appends one row's CSV
// text to the internal buffer.
func (c *Collector) OnRow(row worksheet.RowData) {
	if row.Hidden && !c.opts.IncludeHiddenRows {
		return
	}
	c.rowCount++

	if len(row.Cells) == 0 {
		c.writeNewline()
		return
	}

	maxCol := 0
	for _, cell := range row.Cells {
		if cell.Coord.Col > maxCol {
			maxCol = cell.Coord.Col
		}
	}

	cellIdx := 0
	firstField := true
	for col := 1; col <= maxCol; col++ {
		if c.hiddenColumns[col] && !c.opts.IncludeHiddenColumns {
			if cellIdx < len(row.Cells) && row.Cells[cellIdx].Coord.Col == col {
				cellIdx++
			}
			continue
		}

		var text string
		if cellIdx < len(row.Cells) && row.Cells[cellIdx].Coord.Col == col {
			cell := row.Cells[cellIdx]
			if c.opts.DateMode == Raw && numfmt.IsDateCell(cell, c.styleReg) {
				text = numfmt.FormatNumber(cell.Value.Double)
			} else {
				text = numfmt.Convert(cell, c.strTable, c.styleReg, c.dateSystem)
			}
			if c.opts.MergedHandling == Propagate {
				c.cacheIfMergedTopLeft(row.RowNumber, col, text)
			}
			cellIdx++
		} else if c.opts.MergedHandling == Propagate {
			text = c.propagated(row.RowNumber, col)
		}

		if !firstField {
			c.buf.WriteByte(c.opts.Delimiter)
		}
		firstField = false
		c.writeField(text)
	}
	c.writeNewline()
}

// cacheIfMergedTopLeft records text as the propagation value for any
// merged range whose top-left corner is (row, col).
func (c *Collector) cacheIfMergedTopLeft(row, col int, text string) {
	for _, r := range c.mergedRanges {
		if r.TopLeft.Row == row && r.TopLeft.Col == col {
			c.mergedText[r.String()] = text
		}
	}
}

// propagated returns the cached top-left text for whichever merged range
// contains (row, col), or "" if none does.
func (c *Collector) propagated(row, col int) string {
	for _, r := range c.mergedRanges {
		if r.Contains(row, col) {
			return c.mergedText[r.String()]
		}
	}
	return ""
}

func (c *Collector) writeField(field string) {
	if c.needsQuoting(field) {
		c.buf.WriteByte('"')
		c.buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
		c.buf.WriteByte('"')
		return
	}
	c.buf.WriteString(field)
}

func (c *Collector) needsQuoting(field string) bool {
	if c.opts.QuoteAll {
		return true
	}
	return strings.IndexByte(field, c.opts.Delimiter) >= 0 ||
		strings.ContainsAny(field, "\"\n\r")
}

func (c *Collector) writeNewline() {
	if c.opts.Newline == CRLF {
		c.buf.WriteString("\r\n")
		return
	}
	c.buf.WriteByte('\n')
}

// CSVBytes returns the accumulated CSV output, prefixed with a BOM if
// configured.
func (c *Collector) CSVBytes() []byte {
	if !c.opts.IncludeBOM {
		return []byte(c.buf.String())
	}
	out := make([]byte, 0, 3+c.buf.Len())
	out = append(out, 0xEF, 0xBB, 0xBF)
	out = append(out, c.buf.String()...)
	return out
}

// RowCount returns the number of rows emitted (after hidden-row filtering).
func (c *Collector) RowCount() int { return c.rowCount }

// Errors returns every per-cell error message accumulated during the
// stream, in the order they occurred.
func (c *Collector) Errors() []string { return c.errs }
