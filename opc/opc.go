// Package opc resolves the Open Packaging Conventions structure that sits
// on top of a raw ZIP archive: [Content_Types].xml and _rels/.rels, which
// together locate the workbook part inside an XLSX package.
package opc

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/corviddata/xlsx2csv/internal/rels"
	"github.com/corviddata/xlsx2csv/zipx"
)

// officeDocumentType is the substring shared by every OOXML relationship
// Type URI that points at a package's main document part (workbook,
// document, presentation, ...).
const officeDocumentType = "officeDocument"

// Kind classifies an opc error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedPackage
	KindMissingPart
)

// Error is returned by every exported opc function.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("opc: %s: %v", e.Msg, e.Err)
	}
	return "opc: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// contentTypesXML mirrors the root element of [Content_Types].xml.
type contentTypesXML struct {
	Defaults  []defaultXML  `xml:"Default"`
	Overrides []overrideXML `xml:"Override"`
}

type defaultXML struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

type overrideXML struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

// Package wraps an opened zipx.Reader together with its resolved
// Content-Type declarations and root relationships.
type Package struct {
	Zip *zipx.Reader

	contentTypes []string // Default extensions and Override part names
	rootRels     rels.Relationships
}

// Open opens the named file as a ZIP archive via zipx and parses the two
// mandatory OPC bootstrap parts: [Content_Types].xml and _rels/.rels.
func Open(name string, limits zipx.Limits) (*Package, error) {
	zr, err := zipx.Open(name, limits)
	if err != nil {
		return nil, err
	}
	pkg, err := newPackage(zr)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	return pkg, nil
}

// OpenZip wraps an already-open zipx.Reader. Closing the returned Package
// closes zr.
func OpenZip(zr *zipx.Reader) (*Package, error) {
	return newPackage(zr)
}

func newPackage(zr *zipx.Reader) (*Package, error) {
	pkg := &Package{Zip: zr}

	ctData, err := zr.ReadEntry("[Content_Types].xml")
	if err != nil {
		return nil, &Error{Kind: KindMalformedPackage, Msg: "missing [Content_Types].xml", Err: err}
	}
	var ct contentTypesXML
	if err := xml.Unmarshal(ctData, &ct); err != nil {
		return nil, &Error{Kind: KindMalformedPackage, Msg: "parse [Content_Types].xml", Err: err}
	}
	for _, d := range ct.Defaults {
		pkg.contentTypes = append(pkg.contentTypes, d.Extension)
	}
	for _, o := range ct.Overrides {
		pkg.contentTypes = append(pkg.contentTypes, o.PartName)
	}

	relsData, err := zr.ReadEntry("_rels/.rels")
	if err != nil {
		return nil, &Error{Kind: KindMalformedPackage, Msg: "missing _rels/.rels", Err: err}
	}
	rr, err := rels.Parse(relsData)
	if err != nil {
		return nil, &Error{Kind: KindMalformedPackage, Msg: "parse _rels/.rels", Err: err}
	}
	pkg.rootRels = rr

	return pkg, nil
}

// ListContentTypes returns every Default extension and Override part-name
// declared in [Content_Types].xml: all Default extensions first, then all
// Override part-names, each group in document order.
func (p *Package) ListContentTypes() []string {
	return p.contentTypes
}

// FindWorkbookPart returns the package-rooted path to the workbook part:
// the target of the first root relationship whose Type URI contains
// "officeDocument".
func (p *Package) FindWorkbookPart() (string, error) {
	target, ok := p.rootRels.FindByTypeSubstring(officeDocumentType)
	if !ok {
		return "", &Error{Kind: KindMissingPart, Msg: "no officeDocument relationship in _rels/.rels"}
	}
	return strings.TrimPrefix(target, "/"), nil
}

// ReadPart reads the named package part through the underlying zipx.Reader.
func (p *Package) ReadPart(name string) ([]byte, error) {
	return p.Zip.ReadEntry(name)
}

// Close releases the underlying zip handle.
func (p *Package) Close() error {
	return p.Zip.Close()
}
