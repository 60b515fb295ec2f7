// Package stringtable parses xl/sharedStrings.xml into an indexed,
// random-access string store. Small workbooks keep every string in a single
// in-memory arena; workbooks whose shared-string table would blow past a
// configured memory budget spill to a temporary file instead, trading
// random-access latency for a bounded working set.
package stringtable

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/corviddata/xlsx2csv/opc"
)

// Kind classifies a stringtable error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedXML
	KindInternalIO
)

// Error is returned by Parse when the shared-strings part is present but
// cannot be turned into a table.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stringtable: %s: %v", e.Msg, e.Err)
	}
	return "stringtable: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Mode selects how the table stores its backing bytes.
type Mode int

const (
	// Auto picks InMemory or External based on a pre-scan estimate compared
	// against Config.MemoryThreshold.
	Auto Mode = iota
	InMemory
	External
)

// Config controls parsing and storage behaviour.
type Config struct {
	Mode Mode
	// MemoryThreshold is the estimated-byte-size cutoff above which Auto
	// mode selects External storage.
	MemoryThreshold int64
	// MaxStringLength caps the byte length of any single stored string.
	// Truncation never splits a UTF-8 code point.
	MaxStringLength int
	// FlattenRichText concatenates <r>/<t> rich-text run text in addition
	// to top-level <t> content.
	FlattenRichText bool
}

// DefaultConfig holds the default shared-string table settings.
var DefaultConfig = Config{
	Mode:            Auto,
	MemoryThreshold: 64 << 20, // 64 MiB
	MaxStringLength: 32767,    // Excel's own cell-text limit
	FlattenRichText: true,
}

const partName = "xl/sharedStrings.xml"

// estimateBytesPerString is the heuristic used by the Auto pre-scan.
const estimateBytesPerString = 50

// Table provides O(1) random access to the parsed shared strings.
type Table struct {
	cfg   Config
	count int

	// in-memory arena: arena holds every string's bytes back to back.
	// offsets[i]/lengths[i] locate string i within arena. Offsets are
	// relative byte positions, never pointers, so arena growth (which
	// reallocates the backing array) never invalidates a previously
	// returned index.
	arena   []byte
	offsets []uint32
	lengths []uint32

	// external spill file: fileOffsets[i] is the byte offset of the
	// length-prefixed record for string i within spill.
	spill       *os.File
	fileOffsets []int64
}

// Parse reads xl/sharedStrings.xml from pkg and builds a Table. A missing
// part is not an error: the returned table has Count() == 0 and every
// lookup reports absent.
func Parse(pkg *opc.Package, cfg Config) (*Table, error) {
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = DefaultConfig.MaxStringLength
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = DefaultConfig.MemoryThreshold
	}

	data, err := pkg.ReadPart(partName)
	if err != nil {
		return &Table{cfg: cfg}, nil
	}

	siCount, estimatedBytes := prescan(data)

	mode := cfg.Mode
	if mode == Auto {
		if int64(estimatedBytes) > cfg.MemoryThreshold {
			mode = External
		} else {
			mode = InMemory
		}
	}

	t := &Table{cfg: cfg}
	switch mode {
	case External:
		if err := t.initSpill(); err != nil {
			return nil, &Error{Kind: KindInternalIO, Msg: "init spill file", Err: err}
		}
		t.fileOffsets = make([]int64, 0, siCount)
	default:
		initial := max(8<<20, 2*estimatedBytes)
		t.arena = make([]byte, 0, initial)
		t.offsets = make([]uint32, 0, siCount)
		t.lengths = make([]uint32, 0, siCount)
	}

	if err := t.build(data); err != nil {
		t.Close()
		if errors.Is(err, errSpillWrite) {
			return nil, &Error{Kind: KindInternalIO, Msg: "parse", Err: err}
		}
		return nil, &Error{Kind: KindMalformedXML, Msg: "parse", Err: err}
	}
	return t, nil
}

// errSpillWrite marks a spill-file write failure so Parse can classify it
// apart from an XML fault.
var errSpillWrite = errors.New("spill file write failed")

// prescan counts <si> elements and derives a rough total byte-size
// estimate used to choose a storage mode under Auto. The estimate prefers
// the declared sst/@count attribute; the returned siCount is the exact
// element count, so index preallocation never trusts a hostile attribute.
func prescan(data []byte) (siCount int, estimatedBytes int) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	declaredCount := -1
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok {
			switch se.Name.Local {
			case "sst":
				for _, a := range se.Attr {
					if a.Name.Local == "count" {
						if n, err := strconv.Atoi(a.Value); err == nil {
							declaredCount = n
						}
					}
				}
			case "si":
				siCount++
			}
		}
	}
	estimateBase := siCount
	if declaredCount >= 0 {
		estimateBase = declaredCount
	}
	return siCount, estimateBase * estimateBytesPerString
}

// build performs the second pass: decode each <si> element and append its
// resolved text to the backing store. encoding/xml never resolves DTDs or
// external entities, so no extra hardening is needed here.
func (t *Table) build(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var cur *bytes.Buffer // accumulates text for the current <si>
	inRun := false        // inside an <r> rich-text run
	inPhonetic := false   // inside an <rPh> phonetic run; its <t> never contributes
	inT := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				cur = &bytes.Buffer{}
				inRun, inPhonetic, inT = false, false, false
			case "r":
				inRun = true
			case "rPh":
				inPhonetic = true
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "si":
				if cur != nil {
					if err := t.append(truncateUTF8(cur.String(), t.cfg.MaxStringLength)); err != nil {
						return err
					}
					cur = nil
				}
			case "r":
				inRun = false
			case "rPh":
				inPhonetic = false
			case "t":
				inT = false
			}
		case xml.CharData:
			if cur == nil || !inT || inPhonetic {
				continue
			}
			if !inRun || t.cfg.FlattenRichText {
				cur.Write(se)
			}
		}
	}
	return nil
}

// truncateUTF8 truncates s to at most n bytes without splitting a code
// point, backing off to the previous rune boundary when necessary.
func truncateUTF8(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// append stores s at id == current Count() and advances the count.
func (t *Table) append(s string) error {
	if t.spill != nil {
		if err := t.appendSpill(s); err != nil {
			return fmt.Errorf("%w: %v", errSpillWrite, err)
		}
		t.count++
		return nil
	}
	off := uint32(len(t.arena))
	t.arena = append(t.arena, s...)
	t.offsets = append(t.offsets, off)
	t.lengths = append(t.lengths, uint32(len(s)))
	t.count++
	return nil
}

// ── in-memory arena ─────────────────────────────────────────────────────────

func (t *Table) getArena(i int) string {
	return string(t.arena[t.offsets[i] : t.offsets[i]+t.lengths[i]])
}

// ── external spill file ──────────────────────────────────────────────────────

func (t *Table) initSpill() error {
	f, err := os.CreateTemp("", "strings_*.tmp")
	if err != nil {
		return err
	}
	t.spill = f
	return nil
}

// appendSpill writes one length-prefixed record at the end of the spill
// file. Records are appended in id order, so the new string's id is
// len(fileOffsets)-1 after a successful write.
func (t *Table) appendSpill(s string) error {
	off, err := t.spill.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := t.spill.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := t.spill.Write([]byte(s)); err != nil {
		return err
	}
	t.fileOffsets = append(t.fileOffsets, off)
	return nil
}

func (t *Table) getSpill(i int) (string, error) {
	off := t.fileOffsets[i]
	if _, err := t.spill.Seek(off, io.SeekStart); err != nil {
		return "", err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.spill, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.spill, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ── public accessors ─────────────────────────────────────────────────────────

// Count returns the number of successfully parsed shared strings.
func (t *Table) Count() int { return t.count }

// IsOnDisk reports whether the table spilled to a temporary file.
func (t *Table) IsOnDisk() bool { return t.spill != nil }

// MemoryBytes reports the approximate resident memory used by the table's
// backing store (near-zero once spilled to disk).
func (t *Table) MemoryBytes() int64 {
	if t.spill != nil {
		return int64(len(t.fileOffsets)) * 8
	}
	return int64(len(t.arena) + len(t.offsets)*4 + len(t.lengths)*4)
}

// Get returns the string at index i. It panics on an out-of-range index,
// matching plain slice-index semantics. Callers that accept a possibly
// out-of-range index (e.g. resolving a shared-string cell reference)
// should use TryGet.
func (t *Table) Get(i int) string {
	s, ok := t.TryGet(i)
	if !ok {
		panic(fmt.Sprintf("stringtable: index %d out of range [0,%d)", i, t.count))
	}
	return s
}

// TryGet returns the string at index i, or ("", false) when i is out of
// range or a disk read fails.
func (t *Table) TryGet(i int) (string, bool) {
	if i < 0 || i >= t.count {
		return "", false
	}
	if t.spill != nil {
		s, err := t.getSpill(i)
		if err != nil {
			return "", false
		}
		return s, true
	}
	return t.getArena(i), true
}

// Close releases the temporary spill file, if any. It is safe to call on a
// table that never spilled.
func (t *Table) Close() error {
	if t.spill == nil {
		return nil
	}
	name := t.spill.Name()
	err := t.spill.Close()
	t.spill = nil
	_ = os.Remove(name)
	return err
}
