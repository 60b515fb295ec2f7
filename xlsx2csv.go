// Package xlsx2csv converts worksheets from an Office Open XML (.xlsx)
// package into RFC 4180 CSV text. It wires the zip/opc/stringtable/styles/
// workbook/worksheet/numfmt/csvrow packages together behind a single
// Render call.
//
// # Quick start
//
//	out, err := xlsx2csv.Render("Book1.xlsx", xlsx2csv.First(), xlsx2csv.DefaultOptions)
//	if err != nil { ... }
//	os.Stdout.Write(out)
//
// Render opens the package once, parses the workbook/styles/shared-strings
// metadata once, streams the selected sheet, and returns its CSV bytes.
// RenderSheets amortizes that same parse across many sheets in one call.
package xlsx2csv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corviddata/xlsx2csv/csvrow"
	"github.com/corviddata/xlsx2csv/stringtable"
	"github.com/corviddata/xlsx2csv/workbook"
	"github.com/corviddata/xlsx2csv/worksheet"
	"github.com/corviddata/xlsx2csv/zipx"
)

// Version identifies this module's release.
const Version = "1.0.0"

// SelectorKind distinguishes the three ways a sheet may be chosen.
type SelectorKind int

const (
	SelectFirst SelectorKind = iota
	SelectByIndex
	SelectByName
)

// SheetSelector picks which worksheet(s) Render operates on.
type SheetSelector struct {
	Kind  SelectorKind
	Index int    // valid when Kind == SelectByIndex, 0-based
	Name  string // valid when Kind == SelectByName
}

// First selects the workbook's first sheet in document order.
func First() SheetSelector { return SheetSelector{Kind: SelectFirst} }

// ByIndex selects the 0-based i'th sheet in document order.
func ByIndex(i int) SheetSelector { return SheetSelector{Kind: SelectByIndex, Index: i} }

// ByName selects the sheet whose name matches (case-insensitively).
func ByName(name string) SheetSelector { return SheetSelector{Kind: SelectByName, Name: name} }

// Options is the full external configuration surface.
type Options struct {
	CSV          csvrow.Options
	ZipLimits    zipx.Limits
	StringConfig stringtable.Config
}

// DefaultOptions holds the defaults used throughout the pipeline.
var DefaultOptions = Options{
	CSV:          csvrow.DefaultOptions,
	ZipLimits:    zipx.DefaultLimits,
	StringConfig: stringtable.DefaultConfig,
}

// Kind classifies the single error kind Render and RenderSheets return.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindMalformedZip
	KindEncryptedEntry
	KindLimitExceeded
	KindMalformedPackage
	KindMissingPart
	KindMissingRelationship
	KindMalformedXML
	KindUnknownSheet
	KindSheetIndexOutOfRange
	KindValueOutOfRange
	KindInternalIO
	KindCellErrors
)

// Error is the single categorized error type returned at the orchestrator
// boundary.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xlsx2csv: %s: %v", e.Msg, e.Err)
	}
	return "xlsx2csv: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Render converts a single worksheet selected from the named XLSX file
// into CSV bytes.
func Render(path string, selector SheetSelector, opts Options) ([]byte, error) {
	wb, err := workbook.Open(path, workbook.Options{ZipLimits: opts.ZipLimits, StringConfig: opts.StringConfig})
	if err != nil {
		return nil, wrapOpenError(err)
	}
	defer wb.Close()

	out, err := renderOne(wb, selector, opts)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenderSheets converts every selected worksheet from one shared package
// parse: the workbook, style registry and shared-string table are opened
// and parsed exactly once and reused for each selector. Sheets are
// processed sequentially; a failure on any sheet fails the whole batch.
func RenderSheets(path string, selectors []SheetSelector, opts Options) ([][]byte, error) {
	wb, err := workbook.Open(path, workbook.Options{ZipLimits: opts.ZipLimits, StringConfig: opts.StringConfig})
	if err != nil {
		return nil, wrapOpenError(err)
	}
	defer wb.Close()

	out := make([][]byte, 0, len(selectors))
	for _, sel := range selectors {
		csvBytes, err := renderOne(wb, sel, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, csvBytes)
	}
	return out, nil
}

func renderOne(wb *workbook.Workbook, selector SheetSelector, opts Options) ([]byte, error) {
	info, err := resolveSheet(wb, selector)
	if err != nil {
		return nil, err
	}

	collector := csvrow.New(opts.CSV, wb.Strings(), wb.Styles(), wb.DateSystem())

	if err := wb.StreamSheet(info, collector); err != nil {
		kind := KindMalformedXML
		var werr *worksheet.Error
		if errors.As(err, &werr) && werr.Kind == worksheet.KindMissingPart {
			kind = KindMissingPart
		}
		return nil, &Error{Kind: kind, Msg: fmt.Sprintf("sheet %q", info.Name), Err: err}
	}

	if errs := collector.Errors(); len(errs) > 0 {
		return nil, &Error{Kind: KindCellErrors, Msg: fmt.Sprintf("sheet %q: %s", info.Name, strings.Join(errs, "; "))}
	}

	return collector.CSVBytes(), nil
}

func resolveSheet(wb *workbook.Workbook, selector SheetSelector) (workbook.SheetInfo, error) {
	switch selector.Kind {
	case SelectFirst:
		info, ok := wb.FindByIndex(0)
		if !ok {
			return workbook.SheetInfo{}, &Error{Kind: KindUnknownSheet, Msg: "workbook has no sheets"}
		}
		return info, nil
	case SelectByIndex:
		info, ok := wb.FindByIndex(selector.Index)
		if !ok {
			return workbook.SheetInfo{}, &Error{Kind: KindSheetIndexOutOfRange, Msg: fmt.Sprintf("sheet index %d out of range [0,%d)", selector.Index, wb.Count())}
		}
		return info, nil
	case SelectByName:
		info, ok := wb.Find(selector.Name)
		if !ok {
			return workbook.SheetInfo{}, &Error{Kind: KindUnknownSheet, Msg: fmt.Sprintf("no sheet named %q", selector.Name)}
		}
		return info, nil
	default:
		return workbook.SheetInfo{}, &Error{Kind: KindUnknownSheet, Msg: "invalid sheet selector"}
	}
}

// wrapOpenError maps errors from the zipx/opc/workbook layers onto the
// orchestrator's single categorized Error type.
func wrapOpenError(err error) error {
	var zerr *zipx.Error
	if errors.As(err, &zerr) {
		switch zerr.Kind {
		case zipx.KindNotFound:
			return &Error{Kind: KindNotFound, Msg: zerr.Msg, Err: err}
		case zipx.KindMalformedZip:
			return &Error{Kind: KindMalformedZip, Msg: zerr.Msg, Err: err}
		case zipx.KindEncryptedEntry:
			return &Error{Kind: KindEncryptedEntry, Msg: zerr.Msg, Err: err}
		case zipx.KindLimitExceeded:
			return &Error{Kind: KindLimitExceeded, Msg: zerr.Msg, Err: err}
		}
	}
	var sterr *stringtable.Error
	if errors.As(err, &sterr) {
		switch sterr.Kind {
		case stringtable.KindInternalIO:
			return &Error{Kind: KindInternalIO, Msg: sterr.Msg, Err: err}
		case stringtable.KindMalformedXML:
			return &Error{Kind: KindMalformedXML, Msg: sterr.Msg, Err: err}
		}
	}
	var wberr *workbook.Error
	if errors.As(err, &wberr) && wberr.Kind == workbook.KindMissingRelationship {
		return &Error{Kind: KindMissingRelationship, Msg: wberr.Msg, Err: err}
	}
	return &Error{Kind: KindMalformedPackage, Msg: "open", Err: err}
}
