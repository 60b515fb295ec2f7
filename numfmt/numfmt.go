// Package numfmt renders a parsed worksheet cell to the text that ends up
// in a CSV field: it is the bridge between a typed Cell value (number,
// bool, shared-string index, ...) and the fixed-notation number and
// date/time rendering the CSV output requires.
//
// Number-format *string* parsing — turning "mm-dd-yy" into a category — is
// the style registry's job ([github.com/corviddata/xlsx2csv/styles].Classify,
// built on [github.com/xuri/nfp]). This package only renders once that
// classification (date vs. plain number) is known.
package numfmt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/corviddata/xlsx2csv/stringtable"
	"github.com/corviddata/xlsx2csv/styles"
	"github.com/corviddata/xlsx2csv/workbook"
	"github.com/corviddata/xlsx2csv/worksheet"
)

// daysFromExcelEpochToUnix is the offset, in days, from the 1900 date
// system's effective epoch (1899-12-31, once the phantom leap day has
// been corrected so serial 1 lands on 1900-01-01) to the Unix epoch
// (1970-01-01).
const daysFromExcelEpochToUnix = 25568

// date1904Adjustment shifts a Date1904 serial onto the Date1900 timeline
// before the common epoch arithmetic runs.
const date1904Adjustment = 1462

// Convert turns cell into its CSV field text. strTable and styleReg may be
// nil, matching an absent sharedStrings.xml or styles.xml.
func Convert(cell worksheet.Cell, strTable *stringtable.Table, styleReg *styles.Registry, dateSystem workbook.DateSystem) string {
	switch cell.Type {
	case worksheet.Boolean:
		if cell.Value.Empty {
			return ""
		}
		if cell.Value.Bool {
			return "TRUE"
		}
		return "FALSE"

	case worksheet.CellError:
		if cell.Value.Text == "" {
			return "#N/A"
		}
		return cell.Value.Text

	case worksheet.InlineString, worksheet.String, worksheet.Unknown:
		return cell.Value.Text

	case worksheet.SharedString:
		if strTable == nil {
			return ""
		}
		s, ok := strTable.TryGet(cell.Value.SharedStringIndex)
		if !ok {
			return ""
		}
		return s

	case worksheet.Number:
		if cell.Value.Empty {
			return ""
		}
		if isDateStyle(styleReg, cell.StyleIndex) {
			return FormatDate(cell.Value.Double, dateSystem)
		}
		return FormatNumber(cell.Value.Double)

	default:
		return ""
	}
}

// IsDateCell reports whether cell would render through the date/time path
// rather than the plain-number path, letting a caller bypass date
// rendering (e.g. to emit the raw serial number instead) without
// duplicating the style lookup.
func IsDateCell(cell worksheet.Cell, styleReg *styles.Registry) bool {
	return cell.Type == worksheet.Number && !cell.Value.Empty && isDateStyle(styleReg, cell.StyleIndex)
}

func isDateStyle(reg *styles.Registry, styleIndex int) bool {
	if reg == nil {
		return false
	}
	return reg.IsDateTimeStyle(styleIndex)
}

// FormatNumber renders a number per the plain-number rules: integers in
// [-1e15, 1e15] without a fractional part, NaN/Inf as their Excel error
// tokens, otherwise fixed notation with 6 fractional digits and trailing
// zeros (and a trailing '.') stripped.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "#NUM!"
	case math.IsInf(v, 1):
		return "#DIV/0!"
	case math.IsInf(v, -1):
		return "-#DIV/0!"
	}

	if v == math.Trunc(v) && v >= -1e15 && v <= 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}

	s := strconv.FormatFloat(v, 'f', 6, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// FormatDate renders an Excel date/time serial number using 1900/1904
// epoch arithmetic, choosing date-only, time-only, or full ISO-8601-local
// output shape based on the magnitude of the serial's fractional part.
func FormatDate(serial float64, dateSystem workbook.DateSystem) string {
	// The 1904 shift runs first so that a small 1904-system serial (day 0
	// is 1904-01-01) is not mistaken for a non-positive 1900-system one.
	if dateSystem == workbook.Date1904 {
		serial += date1904Adjustment
	}
	if serial <= 0 {
		return "1900-01-01"
	}
	if serial >= 60 {
		serial -= 1 // correct Excel's phantom 1900-02-29
	}

	days := math.Floor(serial)
	frac := serial - days

	unixDays := days - daysFromExcelEpochToUnix
	year, month, day := civilFromUnixDays(int64(unixDays))

	f := frac * 24
	hours := int(math.Floor(f))
	f = (f - float64(hours)) * 60
	minutes := int(math.Floor(f))
	f = (f - float64(minutes)) * 60
	seconds := int(math.Floor(f))

	switch {
	case frac < 0.001:
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	case frac > 0.999:
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	default:
		return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", year, month, day, hours, minutes, seconds)
	}
}

// civilFromUnixDays converts a day count relative to 1970-01-01 into a
// proleptic Gregorian (year, month, day), using Howard Hinnant's
// days_from_civil algorithm run in reverse.
func civilFromUnixDays(days int64) (year, month, day int) {
	z := days + 719468
	era := z
	if z < 0 {
		era -= 146096
	}
	era /= 146097
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return int(y), int(m), int(d)
}
