package workbook

import (
	"archive/zip"
	"bytes"
	"os"
	"testing"
)

const contentTypesXML = `<?xml version="1.0"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>
</Types>`

const rootRelsXML = `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`

const workbookRelsXML = `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
  <Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet2.xml"/>
</Relationships>`

const workbookXMLFixture = `<?xml version="1.0"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"
          xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <workbookPr date1904="0"/>
  <sheets>
    <sheet name="Visible" sheetId="1" r:id="rId1"/>
    <sheet name="Hidden" sheetId="2" r:id="rId2" state="hidden"/>
  </sheets>
</workbook>`

func buildWorkbookFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "workbook_test_*.xlsx")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })

	w := zip.NewWriter(f)
	files := map[string]string{
		"[Content_Types].xml":        contentTypesXML,
		"_rels/.rels":                rootRelsXML,
		"xl/workbook.xml":            workbookXMLFixture,
		"xl/_rels/workbook.xml.rels": workbookRelsXML,
		"xl/worksheets/sheet1.xml":   `<worksheet><sheetData/></worksheet>`,
		"xl/worksheets/sheet2.xml":   `<worksheet><sheetData/></worksheet>`,
	}
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestOpenAndSheets(t *testing.T) {
	name := buildWorkbookFile(t)
	wb, err := Open(name, DefaultOptions)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	if wb.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", wb.Count())
	}
	if wb.DateSystem() != Date1900 {
		t.Errorf("DateSystem() = %v, want Date1900", wb.DateSystem())
	}

	info, ok := wb.Find("Visible")
	if !ok {
		t.Fatal("expected to find sheet \"Visible\"")
	}
	if info.TargetPath != "xl/worksheets/sheet1.xml" {
		t.Errorf("TargetPath = %q, want xl/worksheets/sheet1.xml", info.TargetPath)
	}
	if !info.Visible {
		t.Error("Visible sheet should report Visible=true")
	}

	hidden, ok := wb.FindByIndex(1)
	if !ok {
		t.Fatal("expected FindByIndex(1) to succeed")
	}
	if hidden.Visible {
		t.Error("sheet with state=hidden should report Visible=false")
	}
}

func TestFindMissingSheet(t *testing.T) {
	name := buildWorkbookFile(t)
	wb, err := Open(name, DefaultOptions)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	if _, ok := wb.Find("NoSuchSheet"); ok {
		t.Error("expected Find to report absent for an unknown sheet name")
	}
	if _, ok := wb.FindByIndex(99); ok {
		t.Error("expected FindByIndex to report absent for an out-of-range index")
	}
}

func TestMalformedStylesIsFatal(t *testing.T) {
	f, err := os.CreateTemp("", "workbook_badstyles_*.xlsx")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })

	w := zip.NewWriter(f)
	files := map[string]string{
		"[Content_Types].xml":        contentTypesXML,
		"_rels/.rels":                rootRelsXML,
		"xl/workbook.xml":            workbookXMLFixture,
		"xl/_rels/workbook.xml.rels": workbookRelsXML,
		"xl/worksheets/sheet1.xml":   `<worksheet><sheetData/></worksheet>`,
		"xl/worksheets/sheet2.xml":   `<worksheet><sheetData/></worksheet>`,
		"xl/styles.xml":              `<not-valid-xml`,
	}
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}

	if _, err := Open(f.Name(), DefaultOptions); err == nil {
		t.Fatal("expected Open to fail fatally on a present-but-malformed xl/styles.xml")
	}
}

func TestDate1904Flag(t *testing.T) {
	f, err := os.CreateTemp("", "workbook_1904_*.xlsx")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })

	w := zip.NewWriter(f)
	wbXML := bytes.Replace([]byte(workbookXMLFixture), []byte(`date1904="0"`), []byte(`date1904="1"`), 1)
	files := map[string][]byte{
		"[Content_Types].xml":        []byte(contentTypesXML),
		"_rels/.rels":                []byte(rootRelsXML),
		"xl/workbook.xml":            wbXML,
		"xl/_rels/workbook.xml.rels": []byte(workbookRelsXML),
		"xl/worksheets/sheet1.xml":   []byte(`<worksheet><sheetData/></worksheet>`),
		"xl/worksheets/sheet2.xml":   []byte(`<worksheet><sheetData/></worksheet>`),
	}
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}

	wb, err := Open(f.Name(), DefaultOptions)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	if wb.DateSystem() != Date1904 {
		t.Errorf("DateSystem() = %v, want Date1904", wb.DateSystem())
	}
}
