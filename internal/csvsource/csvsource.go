// Package csvsource reads CSV records, optionally from a compressed file.
package csvsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Options tunes the CSV dialect. The zero value is RFC 4180 with a comma
// delimiter.
type Options struct {
	// Comma is the field delimiter. Defaults to ','.
	Comma rune
	// Comment, if set, starts a line that is ignored.
	Comment rune
	// LazyQuotes allows quotes in unquoted fields.
	LazyQuotes bool
	// TrimLeadingSpace ignores leading white space in a field.
	TrimLeadingSpace bool
}

// Reader reads a header record followed by data records. Records may have any
// number of fields; the table import rejects the ones that do not match the
// header.
type Reader struct {
	r      *csv.Reader
	header []string
	err    error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts Options) *Reader {
	c := csv.NewReader(r)
	if opts.Comma != 0 {
		c.Comma = opts.Comma
	}
	c.Comment = opts.Comment
	c.LazyQuotes = opts.LazyQuotes
	c.TrimLeadingSpace = opts.TrimLeadingSpace
	c.FieldsPerRecord = -1
	return &Reader{r: c}
}

// Header returns the first record. It returns io.EOF for an empty input.
func (r *Reader) Header() ([]string, error) {
	if r.header == nil && r.err == nil {
		r.header, r.err = r.r.Read()
	}
	return r.header, r.err
}

// Next returns the next data record, or io.EOF after the last one.
func (r *Reader) Next() ([]string, error) {
	if _, err := r.Header(); err != nil {
		return nil, err
	}
	rec, err := r.r.Read()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Compression is the compression format of an input file.
type Compression string

const (
	None Compression = ""
	Zstd Compression = "zstd"
	Gzip Compression = "gzip"
	LZ4  Compression = "lz4"
)

// Detect returns the compression implied by the file extension.
func Detect(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return Zstd
	case ".gz":
		return Gzip
	case ".lz4":
		return LZ4
	default:
		return None
	}
}

// File is a Reader over a file on disk.
type File struct {
	*Reader
	closers []func() error
}

// Open opens path, transparently decompressing it based on its extension.
func Open(path string, opts Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	out := &File{closers: []func() error{f.Close}}
	var r io.Reader = f
	switch Detect(path) {
	case Zstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		out.closers = append(out.closers, func() error { dec.Close(); return nil })
		r = dec
	case Gzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		out.closers = append(out.closers, gz.Close)
		r = gz
	case LZ4:
		r = lz4.NewReader(f)
	}
	out.Reader = NewReader(r, opts)
	return out, nil
}

// Close releases the decompressor and the file.
func (f *File) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i]())
	}
	f.closers = nil
	return errors.Join(errs...)
}
