package recordstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/domain"
)

// EncodeRecord frames one raw record for wire transmission: storage kind,
// key, parent refs ("None:" if none), a no-eol flag byte, then the raw
// on-disk bytes verbatim.
func EncodeRecord(f *content.RawFactory) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(f.StorageKind()))
	buf.WriteByte('\n')
	buf.WriteString(f.Key().String())
	buf.WriteByte('\n')
	buf.WriteString(parentRefsWire(f.Parents()))
	buf.WriteByte('\n')
	if f.NoEOL {
		buf.WriteByte('N')
	} else {
		buf.WriteByte(' ')
	}
	buf.Write(f.Raw)
	return buf.Bytes()
}

// DecodeRecord reverses EncodeRecord. The wire line carries the record's
// declared parents, not its compression parent; compression parent is
// index metadata that travels alongside the delta-closure payload instead
// (see ClosureRecord).
func DecodeRecord(data []byte) (kind domain.StorageKind, key domain.Key, parents []domain.Key, noEOL bool, raw []byte, err error) {
	r := bufio.NewReader(bytes.NewReader(data))

	kindLine, err := r.ReadString('\n')
	if err != nil {
		return "", nil, nil, false, nil, fmt.Errorf("recordstream: read storage kind: %w", err)
	}
	keyLine, err := r.ReadString('\n')
	if err != nil {
		return "", nil, nil, false, nil, fmt.Errorf("recordstream: read key: %w", err)
	}
	parentLine, err := r.ReadString('\n')
	if err != nil {
		return "", nil, nil, false, nil, fmt.Errorf("recordstream: read parent refs: %w", err)
	}
	flag, err := r.ReadByte()
	if err != nil {
		return "", nil, nil, false, nil, fmt.Errorf("recordstream: read no-eol flag: %w", err)
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return "", nil, nil, false, nil, fmt.Errorf("recordstream: read raw bytes: %w", err)
	}

	kind = domain.StorageKind(strings.TrimSuffix(kindLine, "\n"))
	key = domain.Key(strings.Split(strings.TrimSuffix(keyLine, "\n"), "\x00"))
	parents = parseParentRefsWire(strings.TrimSuffix(parentLine, "\n"))
	noEOL = flag == 'N'
	raw = rest
	return kind, key, parents, noEOL, raw, nil
}

func parentRefsWire(parents []domain.Key) string {
	if len(parents) == 0 {
		return "None:"
	}
	strs := make([]string, len(parents))
	for i, p := range parents {
		strs[i] = p.String()
	}
	return strings.Join(strs, "\t")
}

func parseParentRefsWire(s string) []domain.Key {
	if s == "" || s == "None:" {
		return nil
	}
	parts := strings.Split(s, "\t")
	out := make([]domain.Key, len(parts))
	for i, p := range parts {
		out[i] = domain.Key(strings.Split(p, "\x00"))
	}
	return out
}

// ClosureRecord is one raw record carried inside a delta-closure payload,
// alongside the index metadata (compression parent) needed to splice it
// into a local chain without a further index round-trip.
type ClosureRecord struct {
	Key               domain.Key
	Parents           []domain.Key
	Method            domain.StorageMethod
	NoEOL             bool
	CompressionParent domain.Key // nil for fulltext
	Raw               []byte
}

// EncodeDeltaClosure serialises a compound payload: the annotated/plain
// flag, the full list of keys the closure covers, and every raw record
// needed to reconstruct them locally without further fetches.
func EncodeDeltaClosure(annotated bool, keys []domain.Key, records []ClosureRecord) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "closure %d %d\n", boolToInt(annotated), len(keys))
	for _, k := range keys {
		buf.WriteString(k.String())
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "records %d\n", len(records))
	for _, rec := range records {
		buf.WriteString(rec.Key.String())
		buf.WriteByte('\n')
		buf.WriteString(parentRefsWire(rec.Parents))
		buf.WriteByte('\n')
		buf.WriteString(string(rec.Method))
		buf.WriteByte('\n')
		fmt.Fprintf(&buf, "%d\n", boolToInt(rec.NoEOL))
		if rec.CompressionParent == nil {
			buf.WriteString("None:")
		} else {
			buf.WriteString(rec.CompressionParent.String())
		}
		buf.WriteByte('\n')
		fmt.Fprintf(&buf, "%d\n", len(rec.Raw))
		buf.Write(rec.Raw)
	}
	return buf.Bytes()
}

// DecodeDeltaClosure reverses EncodeDeltaClosure.
func DecodeDeltaClosure(data []byte) (annotated bool, keys []domain.Key, records []ClosureRecord, err error) {
	r := bufio.NewReader(bytes.NewReader(data))

	header, err := r.ReadString('\n')
	if err != nil {
		return false, nil, nil, fmt.Errorf("recordstream: read closure header: %w", err)
	}
	var ann, nkeys int
	if _, scanErr := fmt.Sscanf(strings.TrimSuffix(header, "\n"), "closure %d %d", &ann, &nkeys); scanErr != nil {
		return false, nil, nil, domain.NewCorrupt("delta-closure", "malformed header %q", header)
	}
	annotated = ann != 0

	keys = make([]domain.Key, nkeys)
	for i := 0; i < nkeys; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return false, nil, nil, fmt.Errorf("recordstream: read closure key: %w", err)
		}
		keys[i] = domain.Key(strings.Split(strings.TrimSuffix(line, "\n"), "\x00"))
	}

	recHeader, err := r.ReadString('\n')
	if err != nil {
		return false, nil, nil, fmt.Errorf("recordstream: read records header: %w", err)
	}
	var nrec int
	if _, scanErr := fmt.Sscanf(strings.TrimSuffix(recHeader, "\n"), "records %d", &nrec); scanErr != nil {
		return false, nil, nil, domain.NewCorrupt("delta-closure", "malformed records header %q", recHeader)
	}

	records = make([]ClosureRecord, nrec)
	for i := 0; i < nrec; i++ {
		rec, err := decodeClosureRecord(r)
		if err != nil {
			return false, nil, nil, err
		}
		records[i] = rec
	}
	return annotated, keys, records, nil
}

func decodeClosureRecord(r *bufio.Reader) (ClosureRecord, error) {
	keyLine, err := r.ReadString('\n')
	if err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record key: %w", err)
	}
	parentLine, err := r.ReadString('\n')
	if err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record parents: %w", err)
	}
	methodLine, err := r.ReadString('\n')
	if err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record method: %w", err)
	}
	noeolLine, err := r.ReadString('\n')
	if err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record no-eol: %w", err)
	}
	cpLine, err := r.ReadString('\n')
	if err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record compression parent: %w", err)
	}
	lenLine, err := r.ReadString('\n')
	if err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record length: %w", err)
	}
	n, convErr := strconv.Atoi(strings.TrimSuffix(lenLine, "\n"))
	if convErr != nil {
		return ClosureRecord{}, domain.NewCorrupt("delta-closure", "malformed record length %q", lenLine)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return ClosureRecord{}, fmt.Errorf("recordstream: read record bytes: %w", err)
	}

	var noeol int
	fmt.Sscanf(strings.TrimSuffix(noeolLine, "\n"), "%d", &noeol)

	cpStr := strings.TrimSuffix(cpLine, "\n")
	var cp domain.Key
	if cpStr != "None:" {
		cp = domain.Key(strings.Split(cpStr, "\x00"))
	}

	return ClosureRecord{
		Key:               domain.Key(strings.Split(strings.TrimSuffix(keyLine, "\n"), "\x00")),
		Parents:           parseParentRefsWire(strings.TrimSuffix(parentLine, "\n")),
		Method:            domain.StorageMethod(strings.TrimSuffix(methodLine, "\n")),
		NoEOL:             noeol != 0,
		CompressionParent: cp,
		Raw:               raw,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
