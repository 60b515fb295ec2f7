package csvrow

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/corviddata/xlsx2csv/cellref"
	"github.com/corviddata/xlsx2csv/opc"
	"github.com/corviddata/xlsx2csv/styles"
	"github.com/corviddata/xlsx2csv/workbook"
	"github.com/corviddata/xlsx2csv/worksheet"
	"github.com/corviddata/xlsx2csv/zipx"
)

const dateStyleSheetXML = `<?xml version="1.0"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <cellXfs count="2">
    <xf numFmtId="0" fontId="0" fillId="0" borderId="0"/>
    <xf numFmtId="14" fontId="0" fillId="0" borderId="0"/>
  </cellXfs>
</styleSheet>`

func buildDateStyleRegistry(t *testing.T) *styles.Registry {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"_rels/.rels":         `<Relationships/>`,
		"xl/styles.xml":       dateStyleSheetXML,
	}
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	data := buf.Bytes()
	zr, err := zipx.OpenReader(bytes.NewReader(data), int64(len(data)), zipx.DefaultLimits)
	if err != nil {
		t.Fatalf("zipx.OpenReader: %v", err)
	}
	pkg, err := opc.OpenZip(zr)
	if err != nil {
		t.Fatalf("opc.OpenZip: %v", err)
	}
	defer pkg.Close()
	reg, err := styles.Parse(pkg)
	if err != nil {
		t.Fatalf("styles.Parse: %v", err)
	}
	return reg
}

func cell(col int, text string) worksheet.Cell {
	return worksheet.Cell{
		Coord: cellref.Coord{Row: 1, Col: col},
		Type:  worksheet.String,
		Value: worksheet.CellValue{Text: text},
	}
}

func numberCell(col int, v float64) worksheet.Cell {
	return worksheet.Cell{
		Coord: cellref.Coord{Row: 1, Col: col},
		Type:  worksheet.Number,
		Value: worksheet.CellValue{Double: v},
	}
}

// S1 — minimal single inline-string cell.
func TestS1MinimalSingleCell(t *testing.T) {
	c := New(DefaultOptions, nil, nil, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{
		{Coord: cellref.Coord{Row: 1, Col: 1}, Type: worksheet.InlineString, Value: worksheet.CellValue{Text: "Hello"}},
	}})
	want := "Hello\n"
	if got := string(c.CSVBytes()); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// S2 — sparse row with escaping.
func TestS2SparseRowWithEscaping(t *testing.T) {
	c := New(DefaultOptions, nil, nil, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{
		cell(1, "Hello, World"),
		cell(2, `Say "Hi"`),
		numberCell(4, 42),
	}})
	want := `"Hello, World","Say ""Hi""",,42` + "\n"
	if got := string(c.CSVBytes()); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// S5 — merged propagation.
func TestS5MergedPropagation(t *testing.T) {
	opts := DefaultOptions
	opts.MergedHandling = Propagate
	c := New(opts, nil, nil, workbook.Date1900)
	rng, err := cellref.ParseRange("A1:B1")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{MergedRanges: []cellref.Range{rng}})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{
		cell(1, "Group"),
	}})
	want := "Group\n" // only A1 exists; max-col rule stops the walk at column 1
	if got := string(c.CSVBytes()); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// S6 — hidden column skip.
func TestS6HiddenColumnSkip(t *testing.T) {
	c := New(DefaultOptions, nil, nil, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{Columns: []worksheet.ColumnDescriptor{
		{ColumnIndex: 2, Hidden: true},
	}})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{
		numberCell(1, 1),
		numberCell(2, 2),
		numberCell(3, 3),
	}})
	want := "1,3\n"
	if got := string(c.CSVBytes()); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// S7 — CRLF + BOM.
func TestS7CRLFAndBOM(t *testing.T) {
	opts := DefaultOptions
	opts.Newline = CRLF
	opts.IncludeBOM = true
	c := New(opts, nil, nil, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{
		cell(1, "x"),
	}})
	got := c.CSVBytes()
	want := []byte{0xEF, 0xBB, 0xBF, 'x', '\r', '\n'}
	if string(got) != string(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// P6 — quoting invariant.
func TestP6QuotingInvariant(t *testing.T) {
	c := New(DefaultOptions, nil, nil, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{
		cell(1, "a,b"),
		cell(2, "a\"b"),
		cell(3, "a\nb"),
		cell(4, "plain"),
	}})
	got := string(c.CSVBytes())
	want := `"a,b","a""b","a` + "\n" + `b",plain` + "\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// P7 — hidden filters are idempotent.
func TestP7HiddenFiltersIdempotent(t *testing.T) {
	run := func() string {
		c := New(DefaultOptions, nil, nil, workbook.Date1900)
		c.OnWorksheetMetadata(worksheet.WorksheetMetadata{Columns: []worksheet.ColumnDescriptor{{ColumnIndex: 2, Hidden: true}}})
		c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{numberCell(1, 1), numberCell(2, 2), numberCell(3, 3)}})
		c.OnRow(worksheet.RowData{RowNumber: 2, Hidden: true, Cells: []worksheet.Cell{numberCell(1, 9)}})
		return string(c.CSVBytes())
	}
	first := run()
	second := run()
	if first != second {
		t.Errorf("hidden filters are not idempotent: %q vs %q", first, second)
	}
}

// DateMode=Raw bypasses date/time rendering and emits the underlying serial.
func TestDateModeRawBypassesDateRendering(t *testing.T) {
	reg := buildDateStyleRegistry(t)
	dateCell := worksheet.Cell{
		Coord:      cellref.Coord{Row: 1, Col: 1},
		Type:       worksheet.Number,
		StyleIndex: 1,
		Value:      worksheet.CellValue{Double: 44562},
	}

	iso := New(DefaultOptions, nil, reg, workbook.Date1900)
	iso.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	iso.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{dateCell}})
	if got, want := string(iso.CSVBytes()), "2022-01-01\n"; got != want {
		t.Errorf("ISO mode: got %q, want %q", got, want)
	}

	raw := DefaultOptions
	raw.DateMode = Raw
	c := New(raw, nil, reg, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	c.OnRow(worksheet.RowData{RowNumber: 1, Cells: []worksheet.Cell{dateCell}})
	if got, want := string(c.CSVBytes()), "44562\n"; got != want {
		t.Errorf("Raw mode: got %q, want %q", got, want)
	}
}

func TestEmptyRowEmitsBareNewline(t *testing.T) {
	c := New(DefaultOptions, nil, nil, workbook.Date1900)
	c.OnWorksheetMetadata(worksheet.WorksheetMetadata{})
	c.OnRow(worksheet.RowData{RowNumber: 1})
	if got := string(c.CSVBytes()); got != "\n" {
		t.Errorf("got %q, want a bare newline", got)
	}
}
