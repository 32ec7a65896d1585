// Package trace reads and generates branch traces that drive the predictor.
//
// Two on-disk formats are understood. The text format has one branch per line:
//
//	# kind pc outcome [thread]
//	C 0x400100 T
//	U 400200   T 1
//
// kind is C (conditional) or U (unconditional), pc is hex with an optional 0x
// prefix, outcome is T/N or 1/0, thread defaults to 0. Blank lines and lines
// starting with # are skipped.
//
// The JSON-lines format has one object per line:
//
//	{"thread":0,"pc":"0x400100","kind":"cond","taken":true}
package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/sugawarayuuta/sonnet"
)

// ErrMalformed is wrapped by every parse error.
var ErrMalformed = errors.New("trace: malformed record")

// Kind is the control-flow class of a branch.
type Kind uint8

const (
	Conditional Kind = iota
	Unconditional
)

// String returns "cond" or "uncond".
func (k Kind) String() string {
	if k == Unconditional {
		return "uncond"
	}
	return "cond"
}

// Branch is one resolved branch in program order.
type Branch struct {
	Thread int
	PC     uint64
	Taken  bool
	Kind   Kind
}

// Source yields branches in program order and io.EOF at the end.
type Source interface {
	Next() (Branch, error)
}

// Format selects the on-disk encoding.
type Format uint8

const (
	FormatText Format = iota
	FormatJSON
)

// FormatFor picks a format from a file name.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSON
	}
	return FormatText
}

// Reader decodes a trace stream.
type Reader struct {
	sc     *bufio.Scanner
	format Format
	line   int
}

// NewReader returns a Reader decoding r in format f.
func NewReader(r io.Reader, f Format) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{sc: sc, format: f}
}

// Next returns the next branch, io.EOF at the end of the stream, or an error
// wrapping ErrMalformed.
func (r *Reader) Next() (Branch, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var (
			b   Branch
			err error
		)
		if r.format == FormatJSON {
			b, err = parseJSON(text)
		} else {
			b, err = parseText(text)
		}
		if err != nil {
			return Branch{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return b, nil
	}
	if err := r.sc.Err(); err != nil {
		return Branch{}, fmt.Errorf("trace: read: %w", err)
	}
	return Branch{}, io.EOF
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int { return r.line }

// File is a Reader over an opened trace file.
type File struct {
	*Reader
	f *os.File
}

// Open opens path and picks the format from its extension.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open: %w", err)
	}
	return &File{Reader: NewReader(f, FormatFor(path)), f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }

func parseText(line string) (Branch, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 4 {
		return Branch{}, fmt.Errorf("%w: want 3 or 4 fields, got %d", ErrMalformed, len(fields))
	}

	var b Branch
	switch strings.ToUpper(fields[0]) {
	case "C":
		b.Kind = Conditional
	case "U":
		b.Kind = Unconditional
	default:
		return Branch{}, fmt.Errorf("%w: kind %q", ErrMalformed, fields[0])
	}

	pc, err := parsePC(fields[1])
	if err != nil {
		return Branch{}, err
	}
	b.PC = pc

	switch strings.ToUpper(fields[2]) {
	case "T", "1":
		b.Taken = true
	case "N", "0":
		b.Taken = false
	default:
		return Branch{}, fmt.Errorf("%w: outcome %q", ErrMalformed, fields[2])
	}

	if len(fields) == 4 {
		tid, err := strconv.Atoi(fields[3])
		if err != nil || tid < 0 {
			return Branch{}, fmt.Errorf("%w: thread %q", ErrMalformed, fields[3])
		}
		b.Thread = tid
	}
	if b.Kind == Unconditional && !b.Taken {
		return Branch{}, fmt.Errorf("%w: unconditional branch not taken", ErrMalformed)
	}
	return b, nil
}

type jsonBranch struct {
	Thread int    `json:"thread"`
	PC     string `json:"pc"`
	Kind   string `json:"kind"`
	Taken  bool   `json:"taken"`
}

func parseJSON(line string) (Branch, error) {
	var jb jsonBranch
	if err := sonnet.Unmarshal([]byte(line), &jb); err != nil {
		return Branch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pc, err := parsePC(jb.PC)
	if err != nil {
		return Branch{}, err
	}
	if jb.Thread < 0 {
		return Branch{}, fmt.Errorf("%w: thread %d", ErrMalformed, jb.Thread)
	}
	b := Branch{Thread: jb.Thread, PC: pc, Taken: jb.Taken}
	switch strings.ToLower(jb.Kind) {
	case "", "cond", "conditional":
		b.Kind = Conditional
	case "uncond", "unconditional":
		b.Kind = Unconditional
		b.Taken = true
	default:
		return Branch{}, fmt.Errorf("%w: kind %q", ErrMalformed, jb.Kind)
	}
	return b, nil
}

func parsePC(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	pc, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: pc %q", ErrMalformed, s)
	}
	return pc, nil
}

// Write encodes branches in the text format.
func Write(w io.Writer, branches []Branch) error {
	bw := bufio.NewWriter(w)
	for _, b := range branches {
		kind, outcome := "C", "N"
		if b.Kind == Unconditional {
			kind = "U"
		}
		if b.Taken {
			outcome = "T"
		}
		if _, err := fmt.Fprintf(bw, "%s %#x %s %d\n", kind, b.PC, outcome, b.Thread); err != nil {
			return fmt.Errorf("trace: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("trace: write: %w", err)
	}
	return nil
}

// Collect drains src into a slice.
func Collect(src Source) ([]Branch, error) {
	var out []Branch
	for {
		b, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}

// Digest hashes a branch sequence. Equal traces have equal digests.
func Digest(branches []Branch) uint64 {
	d := xxhash.New()
	var buf [18]byte
	for _, b := range branches {
		binary.LittleEndian.PutUint64(buf[0:8], b.PC)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(b.Thread))
		buf[16] = byte(b.Kind)
		buf[17] = 0
		if b.Taken {
			buf[17] = 1
		}
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
