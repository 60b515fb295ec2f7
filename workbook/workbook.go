// Package workbook parses xl/workbook.xml and xl/_rels/workbook.xml.rels on
// top of an opened OPC package, and owns the shared-string table and style
// registry that every sheet in the package draws on.
package workbook

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/corviddata/xlsx2csv/internal/rels"
	"github.com/corviddata/xlsx2csv/opc"
	"github.com/corviddata/xlsx2csv/stringtable"
	"github.com/corviddata/xlsx2csv/styles"
	"github.com/corviddata/xlsx2csv/worksheet"
	"github.com/corviddata/xlsx2csv/zipx"
)

// DateSystem identifies the epoch a workbook's numeric date serials are
// relative to.
type DateSystem int

const (
	Date1900 DateSystem = iota
	Date1904
)

// SheetInfo describes one worksheet entry from xl/workbook.xml.
type SheetInfo struct {
	Name           string
	SheetID        int
	RelationshipID string
	TargetPath     string // package-rooted path, e.g. "xl/worksheets/sheet1.xml"
	Visible        bool
}

// Kind classifies a workbook-level error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingRelationship
	KindUnknownSheet
	KindSheetIndexOutOfRange
)

// Error is returned by every exported workbook function that can fail in a
// way callers might want to branch on.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workbook: %s: %v", e.Msg, e.Err)
	}
	return "workbook: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Workbook is an opened XLSX package with its workbook, style and
// shared-string metadata resolved, ready to stream individual sheets.
type Workbook struct {
	pkg        *opc.Package
	sheets     []SheetInfo
	dateSystem DateSystem
	strTable   *stringtable.Table
	styleReg   *styles.Registry
}

// Options configures the full parse pipeline.
type Options struct {
	ZipLimits    zipx.Limits
	StringConfig stringtable.Config
}

// DefaultOptions holds the default zip limits and shared-string settings.
var DefaultOptions = Options{
	ZipLimits:    zipx.DefaultLimits,
	StringConfig: stringtable.DefaultConfig,
}

// Open opens the named XLSX file and parses the workbook, style registry,
// and shared-string table. The caller must call Close when done.
func Open(name string, opts Options) (*Workbook, error) {
	pkg, err := opc.Open(name, opts.ZipLimits)
	if err != nil {
		return nil, err
	}
	wb, err := open(pkg, opts)
	if err != nil {
		_ = pkg.Close()
		return nil, err
	}
	return wb, nil
}

func open(pkg *opc.Package, opts Options) (*Workbook, error) {
	wb := &Workbook{pkg: pkg}

	if err := wb.parseWorkbook(); err != nil {
		return nil, err
	}

	// styles.xml absence is tolerated here: the registry simply yields no
	// date classification for any style index. A styles.xml that is
	// present but malformed is fatal.
	reg, err := styles.Parse(pkg)
	switch {
	case err == nil:
		wb.styleReg = reg
	default:
		var serr *styles.Error
		if errors.As(err, &serr) && serr.Kind == styles.KindMissingPart {
			// tolerated; wb.styleReg stays nil
		} else {
			return nil, fmt.Errorf("workbook: styles: %w", err)
		}
	}

	st, err := stringtable.Parse(pkg, opts.StringConfig)
	if err != nil {
		return nil, fmt.Errorf("workbook: shared strings: %w", err)
	}
	wb.strTable = st

	return wb, nil
}

// ── XML shapes for xl/workbook.xml ────────────────────────────────────────────

type workbookXML struct {
	WorkbookPr struct {
		Date1904 string `xml:"date1904,attr"`
	} `xml:"workbookPr"`
	Sheets struct {
		Sheet []sheetXML `xml:"sheet"`
	} `xml:"sheets"`
}

type sheetXML struct {
	Name    string `xml:"name,attr"`
	SheetID string `xml:"sheetId,attr"`
	State   string `xml:"state,attr"`
	RID     string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
}

func (wb *Workbook) parseWorkbook() error {
	target, err := wb.pkg.FindWorkbookPart()
	if err != nil {
		return err
	}

	relsPath := relsPathFor(target)
	relsData, err := wb.pkg.ReadPart(relsPath)
	if err != nil {
		return &Error{Kind: KindMissingRelationship, Msg: fmt.Sprintf("missing %s", relsPath), Err: err}
	}
	relMap, err := rels.ParseRelsXML(relsData)
	if err != nil {
		return err
	}

	data, err := wb.pkg.ReadPart(target)
	if err != nil {
		return fmt.Errorf("workbook: read %s: %w", target, err)
	}

	var x workbookXML
	if err := xml.Unmarshal(data, &x); err != nil {
		return fmt.Errorf("workbook: parse %s: %w", target, err)
	}

	v := strings.ToLower(strings.TrimSpace(x.WorkbookPr.Date1904))
	if v == "1" || v == "true" {
		wb.dateSystem = Date1904
	}

	for _, s := range x.Sheets.Sheet {
		rawTarget, ok := relMap[s.RID]
		if !ok {
			return &Error{Kind: KindMissingRelationship, Msg: fmt.Sprintf("sheet %q: no relationship for id %q", s.Name, s.RID)}
		}
		sheetID, _ := strconv.Atoi(s.SheetID)
		state := strings.ToLower(strings.TrimSpace(s.State))
		wb.sheets = append(wb.sheets, SheetInfo{
			Name:           s.Name,
			SheetID:        sheetID,
			RelationshipID: s.RID,
			TargetPath:     resolveTarget(rawTarget),
			Visible:        state != "hidden" && state != "veryhidden",
		})
	}
	return nil
}

// resolveTarget normalizes a relationship target into a package-rooted
// path. Absolute targets ("/xl/worksheets/sheet1.xml") are used as-is after
// stripping the leading slash; relative targets are prefixed with "xl/".
func resolveTarget(target string) string {
	t := strings.TrimPrefix(target, "/")
	if strings.HasPrefix(t, "xl/") {
		return t
	}
	return "xl/" + t
}

// relsPathFor returns the .rels sibling path for a package part, e.g.
// "xl/workbook.xml" -> "xl/_rels/workbook.xml.rels".
func relsPathFor(partPath string) string {
	slash := strings.LastIndex(partPath, "/")
	dir, base := partPath[:slash+1], partPath[slash+1:]
	return dir + "_rels/" + base + ".rels"
}

// Sheets returns every worksheet entry in document order.
func (wb *Workbook) Sheets() []SheetInfo { return wb.sheets }

// Count returns the number of worksheets.
func (wb *Workbook) Count() int { return len(wb.sheets) }

// Find returns the sheet with the given name (case-insensitive).
func (wb *Workbook) Find(name string) (SheetInfo, bool) {
	lower := strings.ToLower(name)
	for _, s := range wb.sheets {
		if strings.ToLower(s.Name) == lower {
			return s, true
		}
	}
	return SheetInfo{}, false
}

// FindByIndex returns the sheet at the given 0-based index.
func (wb *Workbook) FindByIndex(i int) (SheetInfo, bool) {
	if i < 0 || i >= len(wb.sheets) {
		return SheetInfo{}, false
	}
	return wb.sheets[i], true
}

// DateSystem returns the workbook-wide date epoch.
func (wb *Workbook) DateSystem() DateSystem { return wb.dateSystem }

// Strings returns the shared-string table (never nil).
func (wb *Workbook) Strings() *stringtable.Table { return wb.strTable }

// Styles returns the style registry, or nil when xl/styles.xml was absent.
// (A present but unparseable xl/styles.xml makes Open fail instead.)
func (wb *Workbook) Styles() *styles.Registry { return wb.styleReg }

// ResolveRelationship returns the target path registered under a workbook
// relationship id. Only relationships referenced by a <sheet> entry are
// searched; other workbook relationships (styles, shared strings, ...) are
// not found.
func (wb *Workbook) ResolveRelationship(id string) (string, bool) {
	for _, s := range wb.sheets {
		if s.RelationshipID == id {
			return s.TargetPath, true
		}
	}
	return "", false
}

// StreamSheet streams the given sheet's rows and metadata to handler. It is
// the Sheet Stream Reader entry point wired through the workbook's shared
// style registry and shared-string table.
func (wb *Workbook) StreamSheet(info SheetInfo, handler worksheet.Handler) error {
	return worksheet.ParseSheet(wb.pkg, info.TargetPath, handler, wb.strTable, wb.styleReg)
}

// Close releases the underlying package (and its ZIP handle and any
// shared-string spill file).
func (wb *Workbook) Close() error {
	var err error
	if wb.strTable != nil {
		err = wb.strTable.Close()
	}
	if cerr := wb.pkg.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
