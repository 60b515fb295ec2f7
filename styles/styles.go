// Package styles parses xl/styles.xml into cell-style records, with a
// pre-computed "is date/time" mask over style indices so that the
// worksheet streamer and cell converter can classify a cell's display
// shape in O(1).
package styles

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/nfp"

	"github.com/corviddata/xlsx2csv/internal/dateformat"
	"github.com/corviddata/xlsx2csv/opc"
)

const partName = "xl/styles.xml"

// Kind distinguishes why Parse failed, so a caller can tell a missing part
// (tolerated at the workbook/orchestrator boundary — no date detection)
// apart from a part that is present but malformed (fatal).
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingPart
	KindMalformedXML
)

// Error reports a styles.xml parse failure with enough detail for a
// caller to decide whether it is tolerable.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("styles: %s: %v", e.Msg, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Category is the coarse classification of a number-format code.
type Category int

const (
	General Category = iota
	Integer
	Decimal
	Percentage
	Currency
	Scientific
	Fraction
	Date
	Time
	DateTime
	Text
	Custom
)

func (c Category) String() string {
	switch c {
	case General:
		return "General"
	case Integer:
		return "Integer"
	case Decimal:
		return "Decimal"
	case Percentage:
		return "Percentage"
	case Currency:
		return "Currency"
	case Scientific:
		return "Scientific"
	case Fraction:
		return "Fraction"
	case Date:
		return "Date"
	case Time:
		return "Time"
	case DateTime:
		return "DateTime"
	case Text:
		return "Text"
	default:
		return "Custom"
	}
}

// NumberFormat is one resolved numFmtId -> format-code entry.
type NumberFormat struct {
	FormatID   int
	FormatCode string
	Category   Category
	IsBuiltIn  bool
}

// Font, Fill and Border carry just enough of the visual style record to be
// useful to a caller that inspects CellStyle directly. None of them
// influence CSV output — only NumberFormat does — so they are parsed for
// completeness and otherwise unused by the rendering path.
type Font struct {
	Name string
	Size float64
	Bold bool
}

type Fill struct {
	PatternType string
}

type Border struct {
	Style string
}

// CellStyle is the resolved record for one cellXfs entry.
type CellStyle struct {
	StyleIndex   int
	NumberFormat NumberFormat
	Font         Font
	Fill         Fill
	Border       Border
}

// Registry holds every style-related table parsed from xl/styles.xml.
type Registry struct {
	fonts      []Font
	fills      []Fill
	borders    []Border
	customFmts map[int]string // custom numFmtId -> formatCode
	cellStyles []CellStyle    // indexed by cellXfs position (style index)
	dateMask   []bool         // indexed by style index
}

// ── XML shapes ────────────────────────────────────────────────────────────────

type styleSheetXML struct {
	NumFmts struct {
		NumFmt []struct {
			NumFmtID   int    `xml:"numFmtId,attr"`
			FormatCode string `xml:"formatCode,attr"`
		} `xml:"numFmt"`
	} `xml:"numFmts"`
	Fonts struct {
		Font []struct {
			Name struct {
				Val string `xml:"val,attr"`
			} `xml:"name"`
			Sz struct {
				Val float64 `xml:"val,attr"`
			} `xml:"sz"`
			B *struct{} `xml:"b"`
		} `xml:"font"`
	} `xml:"fonts"`
	Fills struct {
		Fill []struct {
			PatternFill struct {
				PatternType string `xml:"patternType,attr"`
			} `xml:"patternFill"`
		} `xml:"fill"`
	} `xml:"fills"`
	Borders struct {
		Border []struct {
			Left struct {
				Style string `xml:"style,attr"`
			} `xml:"left"`
		} `xml:"border"`
	} `xml:"borders"`
	CellXfs struct {
		Xf []struct {
			NumFmtID int `xml:"numFmtId,attr"`
			FontID   int `xml:"fontId,attr"`
			FillID   int `xml:"fillId,attr"`
			BorderID int `xml:"borderId,attr"`
		} `xml:"xf"`
	} `xml:"cellXfs"`
}

// Parse reads xl/styles.xml from pkg and resolves the style tables. A
// missing part returns a [Kind] of [KindMissingPart] — callers that
// tolerate styles.xml's absence (no date detection) check for that kind
// specifically; a part that is present but fails to parse returns
// [KindMalformedXML], which is always fatal.
func Parse(pkg *opc.Package) (*Registry, error) {
	data, err := pkg.ReadPart(partName)
	if err != nil {
		return nil, &Error{Kind: KindMissingPart, Msg: "xl/styles.xml not found", Err: err}
	}

	var ss styleSheetXML
	if err := xml.Unmarshal(data, &ss); err != nil {
		return nil, &Error{Kind: KindMalformedXML, Msg: "xl/styles.xml", Err: err}
	}

	reg := &Registry{customFmts: make(map[int]string)}

	for _, nf := range ss.NumFmts.NumFmt {
		reg.customFmts[nf.NumFmtID] = nf.FormatCode
	}
	for _, f := range ss.Fonts.Font {
		reg.fonts = append(reg.fonts, Font{Name: f.Name.Val, Size: f.Sz.Val, Bold: f.B != nil})
	}
	for _, f := range ss.Fills.Fill {
		reg.fills = append(reg.fills, Fill{PatternType: f.PatternFill.PatternType})
	}
	for _, b := range ss.Borders.Border {
		reg.borders = append(reg.borders, Border{Style: b.Left.Style})
	}

	for i, xf := range ss.CellXfs.Xf {
		nf := reg.resolveNumberFormat(xf.NumFmtID)
		cs := CellStyle{StyleIndex: i, NumberFormat: nf}
		if xf.FontID >= 0 && xf.FontID < len(reg.fonts) {
			cs.Font = reg.fonts[xf.FontID]
		}
		if xf.FillID >= 0 && xf.FillID < len(reg.fills) {
			cs.Fill = reg.fills[xf.FillID]
		}
		if xf.BorderID >= 0 && xf.BorderID < len(reg.borders) {
			cs.Border = reg.borders[xf.BorderID]
		}
		reg.cellStyles = append(reg.cellStyles, cs)
		reg.dateMask = append(reg.dateMask, isTemporal(nf.Category))
	}

	return reg, nil
}

func isTemporal(c Category) bool {
	return c == Date || c == Time || c == DateTime
}

// resolveNumberFormat looks up numFmtID in the custom-format map, falling
// back to the built-in table, and classifies the resulting code.
func (r *Registry) resolveNumberFormat(numFmtID int) NumberFormat {
	if code, ok := r.customFmts[numFmtID]; ok {
		return NumberFormat{FormatID: numFmtID, FormatCode: code, Category: Classify(code), IsBuiltIn: false}
	}
	if code, ok := BuiltInNumFmt[numFmtID]; ok {
		return NumberFormat{FormatID: numFmtID, FormatCode: code, Category: Classify(code), IsBuiltIn: true}
	}
	if dateformat.IsBuiltInDateID(numFmtID) {
		// Locale-specific built-in ids (27-36, 50-58) carry no fixed,
		// locale-independent format code, but are date/time formats by
		// definition.
		return NumberFormat{FormatID: numFmtID, FormatCode: "", Category: DateTime, IsBuiltIn: true}
	}
	return NumberFormat{FormatID: numFmtID, FormatCode: "General", Category: General, IsBuiltIn: true}
}

// CellStyle returns the resolved style at index, and whether it was found.
func (r *Registry) CellStyle(index int) (CellStyle, bool) {
	if index < 0 || index >= len(r.cellStyles) {
		return CellStyle{}, false
	}
	return r.cellStyles[index], true
}

// NumberFormatByID resolves a numFmtId directly, independent of any
// particular cell style.
func (r *Registry) NumberFormatByID(id int) (NumberFormat, bool) {
	if code, ok := r.customFmts[id]; ok {
		return NumberFormat{FormatID: id, FormatCode: code, Category: Classify(code), IsBuiltIn: false}, true
	}
	if code, ok := BuiltInNumFmt[id]; ok {
		return NumberFormat{FormatID: id, FormatCode: code, Category: Classify(code), IsBuiltIn: true}, true
	}
	if dateformat.IsBuiltInDateID(id) {
		return NumberFormat{FormatID: id, FormatCode: "", Category: DateTime, IsBuiltIn: true}, true
	}
	return NumberFormat{}, false
}

// IsDateTimeStyle reports whether the style at index renders as a date,
// time, or datetime value. It is O(1): the mask is built once during Parse.
func (r *Registry) IsDateTimeStyle(index int) bool {
	if index < 0 || index >= len(r.dateMask) {
		return false
	}
	return r.dateMask[index]
}

// Close is a no-op: Registry owns no external resources.
func (r *Registry) Close() error { return nil }

// ── classification heuristic ─────────────────────────────────────────────────

// Classify categorizes a number-format code. It tokenizes with nfp so that
// quoted literals and bracketed color or condition sections never leak
// false positives into the scan.
func Classify(code string) Category {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || strings.EqualFold(trimmed, "General") {
		return General
	}

	parser := nfp.NumberFormatParser()
	sections := parser.Parse(code)
	if len(sections) == 0 {
		// nfp could not tokenize the code at all. Fall back to a raw
		// character scan for date/time tokens before giving up.
		if dateformat.ScanFormatStr(code) {
			return DateTime
		}
		return General
	}
	// The first section drives classification; Excel requires every section
	// of a multi-section format to share the same basic shape.
	sec := sections[0]

	var hasDateRun, hasTimeRun, hasAmPm bool
	var hasPercent, hasDecimal, hasDigitPlaceholder bool
	var hasExponent, hasFraction, hasTextPlaceholder, hasCurrency bool
	var literal strings.Builder

	for _, tok := range sec.Items {
		switch tok.TType {
		case nfp.TokenTypeGeneral:
			return General
		case nfp.TokenTypeDateTimes, nfp.TokenTypeElapsedDateTimes:
			upper := strings.ToUpper(tok.TValue)
			switch {
			case upper == "AM/PM" || upper == "A/P":
				hasAmPm = true
			case strings.ContainsAny(upper, "YD") || strings.Contains(upper, "MMM"):
				hasDateRun = true
			case strings.ContainsAny(upper, "HS"):
				hasTimeRun = true
			case strings.Contains(upper, "M"):
				// Bare M/MM is ambiguous (month vs minute); a neighbouring
				// hour/second token resolves it, so treat it as whichever
				// run is already known and otherwise as a date part.
				if !hasTimeRun {
					hasDateRun = true
				}
			}
		case nfp.TokenTypePercent:
			hasPercent = true
		case nfp.TokenTypeDecimalPoint:
			hasDecimal = true
		case nfp.TokenTypeZeroPlaceHolder, nfp.TokenTypeHashPlaceHolder,
			nfp.TokenTypeDigitalPlaceHolder:
			hasDigitPlaceholder = true
		case nfp.TokenTypeExponential:
			hasExponent = true
		case nfp.TokenTypeFraction, nfp.TokenTypeDenominator:
			hasFraction = true
		case nfp.TokenTypeTextPlaceHolder:
			hasTextPlaceholder = true
		case nfp.TokenTypeCurrencyLanguage:
			hasCurrency = true
		case nfp.TokenTypeLiteral:
			literal.WriteString(tok.TValue)
		}
	}
	if hasAmPm {
		hasTimeRun = true
	}

	switch {
	case hasDateRun && hasTimeRun:
		return DateTime
	case hasDateRun:
		return Date
	case hasTimeRun:
		return Time
	}

	lit := literal.String()
	switch {
	case hasPercent:
		return Percentage
	case hasCurrency || strings.ContainsAny(lit, "$¤"):
		return Currency
	case hasExponent || containsScientificMarker(lit):
		return Scientific
	case hasFraction || strings.Contains(lit, "/"):
		return Fraction
	case hasTextPlaceholder || strings.Contains(lit, "@"):
		return Text
	case hasDecimal && hasDigitPlaceholder:
		return Decimal
	case hasDigitPlaceholder:
		return Integer
	default:
		return Custom
	}
}

// containsScientificMarker reports whether lit looks like an "E+"/"E-"
// exponent marker, the way Excel's scientific format codes spell it
// (e.g. "0.00E+00").
func containsScientificMarker(lit string) bool {
	upper := strings.ToUpper(lit)
	return strings.Contains(upper, "E+") || strings.Contains(upper, "E-")
}

// ── built-in format table (ECMA-376 §18.8.30) ─────────────────────────────────

// BuiltInNumFmt maps built-in numFmtId values (0-49) to their canonical
// format codes. Custom ids (by convention >= 164) override or extend this
// table when xl/styles.xml defines a <numFmt> for them.
var BuiltInNumFmt = map[int]string{
	0:  "General",
	1:  "0",
	2:  "0.00",
	3:  "#,##0",
	4:  "#,##0.00",
	5:  `($#,##0_);($#,##0)`,
	6:  `($#,##0_);[Red]($#,##0)`,
	7:  `($#,##0.00_);($#,##0.00)`,
	8:  `($#,##0.00_);[Red]($#,##0.00)`,
	9:  "0%",
	10: "0.00%",
	11: "0.00E+00",
	12: "# ?/?",
	13: "# ??/??",
	14: "mm-dd-yy",
	15: "d-mmm-yy",
	16: "d-mmm",
	17: "mmm-yy",
	18: "h:mm AM/PM",
	19: "h:mm:ss AM/PM",
	20: "h:mm",
	21: "h:mm:ss",
	22: "m/d/yy h:mm",
	37: `(#,##0_);(#,##0)`,
	38: `(#,##0_);[Red](#,##0)`,
	39: `(#,##0.00_);(#,##0.00)`,
	40: `(#,##0.00_);[Red](#,##0.00)`,
	41: `_(* #,##0_);_(* (#,##0);_(* "-"_);_(@_)`,
	42: `_($* #,##0_);_($* (#,##0);_($* "-"_);_(@_)`,
	43: `_(* #,##0.00_);_(* (#,##0.00);_(* "-"??_);_(@_)`,
	44: `_($* #,##0.00_);_($* (#,##0.00);_($* "-"??_);_(@_)`,
	45: "mm:ss",
	46: "[h]:mm:ss",
	47: "mm:ss.0",
	48: "##0.0E+0",
	49: "@",
}

// FormatIDFromString parses an id string from an XML attribute, defaulting
// to General (0) on malformed input.
func FormatIDFromString(s string) int {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return id
}
