package styles

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/corviddata/xlsx2csv/opc"
	"github.com/corviddata/xlsx2csv/zipx"
)

func buildPackageWithStyles(t *testing.T, stylesXML string) *opc.Package {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"_rels/.rels":         `<Relationships/>`,
		"xl/styles.xml":       stylesXML,
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
	return pkg
}

const sampleStylesXML = `<?xml version="1.0"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <numFmts count="1">
    <numFmt numFmtId="164" formatCode="0.0%"/>
  </numFmts>
  <fonts count="1"><font><sz val="11"/><name val="Calibri"/></font></fonts>
  <fills count="1"><fill><patternFill patternType="none"/></fill></fills>
  <borders count="1"><border><left style="thin"/></border></borders>
  <cellXfs count="3">
    <xf numFmtId="0" fontId="0" fillId="0" borderId="0"/>
    <xf numFmtId="14" fontId="0" fillId="0" borderId="0"/>
    <xf numFmtId="164" fontId="0" fillId="0" borderId="0"/>
  </cellXfs>
</styleSheet>`

func TestParseAndDateMask(t *testing.T) {
	pkg := buildPackageWithStyles(t, sampleStylesXML)
	defer pkg.Close()

	reg, err := Parse(pkg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if reg.IsDateTimeStyle(0) {
		t.Error("style 0 (General) should not be a date style")
	}
	if !reg.IsDateTimeStyle(1) {
		t.Error("style 1 (built-in mm-dd-yy) should be a date style")
	}
	if reg.IsDateTimeStyle(2) {
		t.Error("style 2 (custom percentage) should not be a date style")
	}
}

func TestCellStyleOutOfRange(t *testing.T) {
	pkg := buildPackageWithStyles(t, sampleStylesXML)
	defer pkg.Close()
	reg, err := Parse(pkg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := reg.CellStyle(999); ok {
		t.Error("expected CellStyle to report absent for an out-of-range index")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{"General", General},
		{"", General},
		{"0", Integer},
		{"0.00", Decimal},
		{"0%", Percentage},
		{"0.00%", Percentage},
		{"$#,##0.00", Currency},
		{"0.00E+00", Scientific},
		{"# ?/?", Fraction},
		{"@", Text},
		{"mm-dd-yy", Date},
		{"h:mm:ss", Time},
		{"m/d/yy h:mm", DateTime},
	}
	for _, tt := range tests {
		if got := Classify(tt.code); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestBuiltInDateIDFallback(t *testing.T) {
	pkg := buildPackageWithStyles(t, sampleStylesXML)
	defer pkg.Close()
	reg, err := Parse(pkg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// id 50 has no fixed format-code table entry but is a locale-specific
	// built-in date format per ECMA-376.
	nf, ok := reg.NumberFormatByID(50)
	if !ok {
		t.Fatal("expected NumberFormatByID(50) to resolve via the date-id fallback")
	}
	if nf.Category != DateTime {
		t.Errorf("NumberFormatByID(50).Category = %v, want DateTime", nf.Category)
	}
}

func TestMissingStylesIsFatal(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("[Content_Types].xml")
	f.Write([]byte(`<Types/>`))
	f, _ = w.Create("_rels/.rels")
	f.Write([]byte(`<Relationships/>`))
	w.Close()

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

	if _, err := Parse(pkg); err == nil {
		t.Fatal("expected Parse to fail fatally on missing xl/styles.xml")
	}
}
