// Package worksheet streams a single xl/worksheets/sheetN.xml part into
// typed rows and worksheet-wide metadata, without ever buffering the whole
// sheet as a DOM tree.
package worksheet

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/corviddata/xlsx2csv/cellref"
	"github.com/corviddata/xlsx2csv/opc"
	"github.com/corviddata/xlsx2csv/stringtable"
	"github.com/corviddata/xlsx2csv/styles"
)

// CellType is the closed set of cell value kinds the worksheet XML can
// declare via the <c t="..."> attribute.
type CellType int

const (
	Number CellType = iota // default when t is absent
	Boolean
	SharedString
	InlineString
	String // formula-result string
	CellError
	Unknown
)

// CellValue is a tagged variant over the value a cell can carry. Exactly
// one of the typed fields is meaningful; which one is governed by Type.
type CellValue struct {
	Empty             bool
	Bool              bool
	Double            float64
	SharedStringIndex int
	Text              string
}

// Cell is one parsed <c> element.
type Cell struct {
	Coord      cellref.Coord
	Type       CellType
	StyleIndex int
	Value      CellValue
}

// RowData is one parsed <row> element. Cells are sparse: only cells
// present in the source XML appear, in ascending column order.
type RowData struct {
	RowNumber int
	Hidden    bool
	Cells     []Cell
}

// ColumnDescriptor describes one <col> entry (after min/max span expansion).
type ColumnDescriptor struct {
	ColumnIndex int
	Hidden      bool
	Width       float64
}

// WorksheetMetadata accumulates as the sheet is parsed. It is delivered to
// the handler after each <cols> and <mergeCells> section and once more at
// the end of the sheet; merged ranges and columns only ever grow between
// deliveries.
type WorksheetMetadata struct {
	MergedRanges []cellref.Range
	Columns      []ColumnDescriptor
}

// Handler receives the callbacks the streaming parser drives.
type Handler interface {
	OnRow(RowData)
	OnWorksheetMetadata(WorksheetMetadata)
	OnError(message string)
}

// Kind classifies a sheet-stream error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingPart
	KindMalformedXML
	KindCoordinateOutOfRange
)

// Error is returned for document-level (fatal) sheet parse failures.
// Per-cell failures are non-fatal and reported to Handler.OnError instead.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worksheet: %s: %v", e.Msg, e.Err)
	}
	return "worksheet: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ParseSheet reads sheetTarget from pkg and streams its rows and metadata
// to handler. strTable and styleReg may be nil; the cell reader itself
// never resolves a shared string or style — it only carries the index, and
// resolution happens downstream in the Cell Converter.
func ParseSheet(pkg *opc.Package, sheetTarget string, handler Handler, strTable *stringtable.Table, styleReg *styles.Registry) error {
	target := sheetTarget
	if !strings.HasPrefix(target, "xl/") {
		target = "xl/" + target
	}

	data, err := pkg.ReadPart(target)
	if err != nil {
		return &Error{Kind: KindMissingPart, Msg: fmt.Sprintf("read %s", target), Err: err}
	}

	p := &sheetParser{handler: handler}
	if err := p.run(data); err != nil {
		return &Error{Kind: KindMalformedXML, Msg: fmt.Sprintf("parse %s", target), Err: err}
	}
	p.deliverMetadata()
	return nil
}

type sheetParser struct {
	handler Handler
	meta    WorksheetMetadata
}

func (p *sheetParser) deliverMetadata() {
	snapshot := WorksheetMetadata{
		MergedRanges: append([]cellref.Range(nil), p.meta.MergedRanges...),
		Columns:      append([]ColumnDescriptor(nil), p.meta.Columns...),
	}
	p.handler.OnWorksheetMetadata(snapshot)
}

func (p *sheetParser) run(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "cols":
			if err := p.readCols(dec); err != nil {
				return err
			}
			p.deliverMetadata()
		case "mergeCells":
			if err := p.readMergeCells(dec); err != nil {
				return err
			}
			p.deliverMetadata()
		case "row":
			if err := p.readRow(dec, se); err != nil {
				return err
			}
		}
	}
}

func attr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func boolAttr(se xml.StartElement, local string) bool {
	v, ok := attr(se, local)
	if !ok {
		return false
	}
	return v == "1" || v == "true"
}

// readCols consumes a <cols>...</cols> element, expanding each <col
// min="a" max="b"> span into one descriptor per covered column index.
func (p *sheetParser) readCols(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local != "col" {
				continue
			}
			minS, _ := attr(se, "min")
			maxS, _ := attr(se, "max")
			widthS, _ := attr(se, "width")
			hidden := boolAttr(se, "hidden")
			minCol, _ := strconv.Atoi(minS)
			maxCol, _ := strconv.Atoi(maxS)
			if minCol <= 0 {
				minCol = 1
			}
			if maxCol < minCol {
				maxCol = minCol
			}
			width, _ := strconv.ParseFloat(widthS, 64)
			for c := minCol; c <= maxCol; c++ {
				p.meta.Columns = append(p.meta.Columns, ColumnDescriptor{
					ColumnIndex: c,
					Hidden:      hidden,
					Width:       width,
				})
			}
			if err := skipElement(dec); err != nil {
				return err
			}
		case xml.EndElement:
			if se.Name.Local == "cols" {
				return nil
			}
		}
	}
}

// readMergeCells consumes a <mergeCells>...</mergeCells> element.
func (p *sheetParser) readMergeCells(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local != "mergeCell" {
				continue
			}
			ref, _ := attr(se, "ref")
			if rng, err := cellref.ParseRange(ref); err == nil {
				p.meta.MergedRanges = append(p.meta.MergedRanges, rng)
			} else {
				p.handler.OnError(fmt.Sprintf("mergeCell: %v", err))
			}
			if err := skipElement(dec); err != nil {
				return err
			}
		case xml.EndElement:
			if se.Name.Local == "mergeCells" {
				return nil
			}
		}
	}
}

// readRow consumes a <row>...</row> element and delivers it to the handler.
func (p *sheetParser) readRow(dec *xml.Decoder, rowStart xml.StartElement) error {
	rowNumber := 1
	if rS, ok := attr(rowStart, "r"); ok {
		if n, err := strconv.Atoi(rS); err == nil {
			rowNumber = n
		}
	}
	hidden := boolAttr(rowStart, "hidden")

	if rowNumber < 1 || rowNumber > cellref.MaxRow {
		p.handler.OnError(fmt.Sprintf("row: coordinate out of range: r=%d", rowNumber))
		return skipElement(dec)
	}

	row := RowData{RowNumber: rowNumber, Hidden: hidden}
	if hint := spansHint(rowStart); hint > 0 {
		row.Cells = make([]Cell, 0, hint)
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local != "c" {
				continue
			}
			cell, err := p.readCell(dec, se, rowNumber)
			if err != nil {
				p.handler.OnError(err.Error())
				continue
			}
			row.Cells = append(row.Cells, cell)
		case xml.EndElement:
			if se.Name.Local == "row" {
				p.handler.OnRow(row)
				return nil
			}
		}
	}
}

// spansHint derives a cell-slice capacity reservation from the row's
// spans="first:last" attribute, capped at the sheet's column limit. It is
// only a hint; a row may carry more or fewer cells than its spans claim.
func spansHint(rowStart xml.StartElement) int {
	s, ok := attr(rowStart, "spans")
	if !ok {
		return 0
	}
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return 0
	}
	first, err1 := strconv.Atoi(s[:colon])
	last, err2 := strconv.Atoi(s[colon+1:])
	if err1 != nil || err2 != nil || last < first {
		return 0
	}
	return min(last-first+1, cellref.MaxCol)
}

// readCell consumes a <c>...</c> element and returns its parsed Cell. A
// malformed coordinate or value is reported as an error (the caller turns
// it into a non-fatal Handler.OnError call) rather than aborting the
// parse.
func (p *sheetParser) readCell(dec *xml.Decoder, cellStart xml.StartElement, rowNumber int) (Cell, error) {
	refS, hasRef := attr(cellStart, "r")
	coord := cellref.Coord{Row: rowNumber}
	if hasRef {
		c, err := cellref.Parse(refS)
		if err != nil {
			_ = skipElement(dec)
			return Cell{}, fmt.Errorf("cell %q: %w", refS, err)
		}
		coord = c
	}
	if coord.Row > cellref.MaxRow || coord.Col > cellref.MaxCol {
		_ = skipElement(dec)
		return Cell{}, fmt.Errorf("cell %q: coordinate out of range", refS)
	}

	ctype := Number
	if tS, ok := attr(cellStart, "t"); ok {
		ctype = parseCellType(tS)
	}
	styleIndex := 0
	if sS, ok := attr(cellStart, "s"); ok {
		if n, err := strconv.Atoi(sS); err == nil {
			styleIndex = n
		}
	}

	var valueText string
	var haveValue bool
	var inlineText strings.Builder
	inInlineT := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return Cell{}, err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "v":
				text, err := readCharData(dec)
				if err != nil {
					return Cell{}, err
				}
				valueText = text
				haveValue = true
			case "is":
				if err := readInlineString(dec, &inlineText); err != nil {
					return Cell{}, err
				}
				inInlineT = true
			default:
				if err := skipElement(dec); err != nil {
					return Cell{}, err
				}
			}
		case xml.EndElement:
			if se.Name.Local == "c" {
				if inInlineT {
					ctype = InlineString
					return Cell{Coord: coord, Type: ctype, StyleIndex: styleIndex, Value: CellValue{Text: inlineText.String()}}, nil
				}
				value, err := interpretValue(ctype, valueText, haveValue)
				if err != nil {
					return Cell{}, fmt.Errorf("cell %q: %w", coord.String(), err)
				}
				return Cell{Coord: coord, Type: ctype, StyleIndex: styleIndex, Value: value}, nil
			}
		}
	}
}

func parseCellType(t string) CellType {
	switch t {
	case "b":
		return Boolean
	case "s":
		return SharedString
	case "inlineStr":
		return InlineString
	case "str":
		return String
	case "e":
		return CellError
	case "n", "":
		return Number
	default:
		return Unknown
	}
}

// interpretValue turns the raw <v> text into a CellValue per the type's
// interpretation rule.
func interpretValue(t CellType, text string, haveValue bool) (CellValue, error) {
	if !haveValue {
		return CellValue{Empty: true}, nil
	}
	switch t {
	case Boolean:
		switch text {
		case "1":
			return CellValue{Bool: true}, nil
		case "0":
			return CellValue{Bool: false}, nil
		default:
			return CellValue{Empty: true}, nil
		}
	case Number:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return CellValue{}, fmt.Errorf("invalid number %q: %w", text, err)
		}
		return CellValue{Double: f}, nil
	case SharedString:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || n < 0 {
			return CellValue{}, fmt.Errorf("invalid shared-string index %q", text)
		}
		return CellValue{SharedStringIndex: n}, nil
	case String, CellError, Unknown:
		return CellValue{Text: text}, nil
	default:
		return CellValue{Text: text}, nil
	}
}

// readCharData consumes character data up to the current element's end tag.
func readCharData(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 1
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return b.String(), nil
			}
		}
	}
}

// readInlineString consumes an <is>...</is> element, concatenating every
// descendant <t> text node in document order.
func readInlineString(dec *xml.Decoder, out *strings.Builder) error {
	inT := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "t" {
				inT = true
			}
		case xml.EndElement:
			if se.Name.Local == "t" {
				inT = false
			}
			if se.Name.Local == "is" {
				return nil
			}
		case xml.CharData:
			if inT {
				out.Write(se)
			}
		}
	}
}

// skipElement consumes tokens until the matching end tag of the element
// whose start tag was already consumed by the caller.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}
