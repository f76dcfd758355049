// Package record implements the on-disk record codec: framing a text
// version (fulltext or line-delta, annotated or plain) as a gzip-compressed
// byte stream with header/footer validation.
package record

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"strconv"
	"strings"

	"github.com/prn-tf/knitstore/internal/domain"
)

// Line is one payload line, optionally carrying the version id that
// introduced it (annotated records only).
type Line struct {
	Origin string
	Text   []byte
}

// Hunk is one line-delta edit against the compression parent: replace
// [SrcStart, SrcEnd) with NewLines.
type Hunk struct {
	SrcStart, SrcEnd int
	NewLines         []Line
}

// Record is the decoded form of one on-disk entry.
type Record struct {
	VersionID string
	Method    domain.StorageMethod
	NoEOL     bool
	Annotated bool
	SHA1      string

	// Lines holds the fulltext payload when Method is MethodFulltext.
	Lines []Line

	// Hunks holds the line-delta payload when Method is MethodLineDelta.
	Hunks []Hunk
}

// Serialise frames r (header, payload lines, footer) and gzips the result.
func Serialise(r *Record) ([]byte, error) {
	var body bytes.Buffer

	switch r.Method {
	case domain.MethodFulltext:
		writeLines(&body, r.Lines, r.Annotated)
	case domain.MethodLineDelta:
		for _, h := range r.Hunks {
			fmt.Fprintf(&body, "%d,%d,%d\n", h.SrcStart, h.SrcEnd, len(h.NewLines))
			writeLines(&body, h.NewLines, r.Annotated)
		}
	default:
		return nil, fmt.Errorf("record: unknown storage method %q", r.Method)
	}
	lineCount := countLines(r)

	var framed bytes.Buffer
	fmt.Fprintf(&framed, "version %s %d %s\n", r.VersionID, lineCount, r.SHA1)
	framed.Write(body.Bytes())
	fmt.Fprintf(&framed, "end %s\n", r.VersionID)

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(framed.Bytes()); err != nil {
		return nil, fmt.Errorf("record: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("record: gzip close: %w", err)
	}
	return gz.Bytes(), nil
}

// countLines returns the on-disk line count recorded in the header: the
// fulltext's own lines, or for a delta the sum of each hunk's header line
// plus its replacement lines.
func countLines(r *Record) int {
	if r.Method == domain.MethodFulltext {
		return len(r.Lines)
	}
	n := 0
	for _, h := range r.Hunks {
		n += 1 + len(h.NewLines)
	}
	return n
}

func writeLines(buf *bytes.Buffer, lines []Line, annotated bool) {
	for _, l := range lines {
		if annotated {
			buf.WriteString(l.Origin)
			buf.WriteByte(' ')
		}
		buf.Write(l.Text)
	}
}

// Parse decompresses and decodes data, verifying that the header and footer
// version id match key's last component and that the declared line count
// matches the payload. method/annotated/noEOL must be supplied by the
// caller from the index entry for this key, since the on-disk framing does
// not itself carry the storage method.
func Parse(data []byte, key domain.Key, method domain.StorageMethod, annotated, noEOL bool) (*Record, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewCorrupt(key.String(), "invalid gzip stream: %v", err)
	}
	defer gz.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(gz); err != nil {
		return nil, domain.NewCorrupt(key.String(), "gzip decode failed: %v", err)
	}

	lines, err := splitPayloadLines(raw.Bytes())
	if err != nil {
		return nil, err
	}
	if len(lines) < 2 {
		return nil, domain.NewCorrupt(key.String(), "record too short: %d lines", len(lines))
	}

	header := lines[0]
	footer := lines[len(lines)-1]
	body := lines[1 : len(lines)-1]

	version, declaredCount, sha1hex, err := parseHeader(header)
	if err != nil {
		return nil, domain.NewCorrupt(key.String(), "bad header: %v", err)
	}
	if version != key.Version() {
		return nil, domain.NewCorrupt(key.String(), "header key %q does not match requested key", version)
	}
	footerVersion, err := parseFooter(footer)
	if err != nil {
		return nil, domain.NewCorrupt(key.String(), "bad footer: %v", err)
	}
	if footerVersion != key.Version() {
		return nil, domain.NewCorrupt(key.String(), "footer key %q does not match requested key", footerVersion)
	}
	if declaredCount != len(body) {
		return nil, domain.NewCorrupt(key.String(), "declared line count %d does not match payload of %d lines", declaredCount, len(body))
	}

	r := &Record{
		VersionID: version,
		Method:    method,
		NoEOL:     noEOL,
		Annotated: annotated,
		SHA1:      sha1hex,
	}

	switch method {
	case domain.MethodFulltext:
		r.Lines = decodeLines(body, annotated)
	case domain.MethodLineDelta:
		hunks, err := decodeHunks(body, annotated, key)
		if err != nil {
			return nil, err
		}
		r.Hunks = hunks
	default:
		return nil, domain.NewCorrupt(key.String(), "unknown storage method %q", method)
	}
	return r, nil
}

// splitPayloadLines splits raw decompressed bytes into lines, each keeping
// its own trailing newline except a possible final unterminated one.
func splitPayloadLines(data []byte) ([][]byte, error) {
	reader := bufio.NewReader(bytes.NewReader(data))
	var out [][]byte
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			out = append(out, line)
		}
		if err != nil {
			break
		}
	}
	return out, nil
}

func parseHeader(line []byte) (version string, count int, sha1hex string, err error) {
	s := strings.TrimSuffix(string(line), "\n")
	fields := strings.Fields(s)
	if len(fields) != 4 || fields[0] != "version" {
		return "", 0, "", fmt.Errorf("malformed header line %q", s)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed line count %q: %w", fields[2], err)
	}
	return fields[1], n, fields[3], nil
}

func parseFooter(line []byte) (string, error) {
	s := strings.TrimSuffix(string(line), "\n")
	fields := strings.Fields(s)
	if len(fields) != 2 || fields[0] != "end" {
		return "", fmt.Errorf("malformed footer line %q", s)
	}
	return fields[1], nil
}

func decodeLines(body [][]byte, annotated bool) []Line {
	out := make([]Line, len(body))
	for i, raw := range body {
		out[i] = decodeLine(raw, annotated)
	}
	return out
}

func decodeLine(raw []byte, annotated bool) Line {
	if !annotated {
		return Line{Text: raw}
	}
	idx := bytes.IndexByte(raw, ' ')
	if idx < 0 {
		return Line{Text: raw}
	}
	return Line{Origin: string(raw[:idx]), Text: raw[idx+1:]}
}

func decodeHunks(body [][]byte, annotated bool, key domain.Key) ([]Hunk, error) {
	var hunks []Hunk
	i := 0
	for i < len(body) {
		header := strings.TrimSuffix(string(body[i]), "\n")
		parts := strings.Split(header, ",")
		if len(parts) != 3 {
			return nil, domain.NewCorrupt(key.String(), "malformed hunk header %q", header)
		}
		srcStart, err1 := strconv.Atoi(parts[0])
		srcEnd, err2 := strconv.Atoi(parts[1])
		newCount, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, domain.NewCorrupt(key.String(), "malformed hunk header %q", header)
		}
		i++
		if i+newCount > len(body) {
			return nil, domain.NewCorrupt(key.String(), "truncated hunk body: need %d lines, have %d", newCount, len(body)-i)
		}
		newLines := decodeLines(body[i:i+newCount], annotated)
		i += newCount
		hunks = append(hunks, Hunk{SrcStart: srcStart, SrcEnd: srcEnd, NewLines: newLines})
	}
	return hunks, nil
}
