// Package compress wraps the block compressors used to measure and store
// encoded documents.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownCodec is returned by ByName for unsupported names.
var ErrUnknownCodec = errors.New("unknown codec")

// DefaultZstdLevel is the zstd level used when none is configured.
const DefaultZstdLevel = 4

// Codec compresses whole buffers.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// Names lists the names accepted by ByName.
func Names() []string {
	return []string{"zstd", "lz4", "s2", "none"}
}

// ByName returns the codec called name. level only applies to zstd and uses
// the zstd command line scale.
func ByName(name string, level int) (Codec, error) {
	switch name {
	case "zstd":
		return NewZstd(level), nil
	case "lz4":
		return LZ4{}, nil
	case "s2":
		return S2{}, nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w %q, want one of %v", ErrUnknownCodec, name, Names())
	}
}

// Zstd is a zstd codec at a fixed level.
type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd returns a zstd codec. level is mapped to the closest encoder speed.
func NewZstd(level int) *Zstd {
	return &Zstd{level: zstd.EncoderLevelFromZstd(level)}
}

func (z *Zstd) Name() string {
	return "zstd"
}

func (z *Zstd) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}

// LZ4 is the lz4 frame format.
type LZ4 struct{}

func (LZ4) Name() string {
	return "lz4"
}

func (LZ4) Compress(src []byte) ([]byte, error) {
	var out bytes.Buffer
	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (LZ4) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}

// S2 is the s2 block format.
type S2 struct{}

func (S2) Name() string {
	return "s2"
}

func (S2) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (S2) Decompress(src []byte) ([]byte, error) {
	return s2.Decode(nil, src)
}

// None stores data as is.
type None struct{}

func (None) Name() string {
	return "none"
}

func (None) Compress(src []byte) ([]byte, error) {
	return slices.Clone(src), nil
}

func (None) Decompress(src []byte) ([]byte, error) {
	return slices.Clone(src), nil
}

// Result is the outcome of compressing a buffer with one codec.
type Result struct {
	Codec    string
	Size     int
	Duration time.Duration
}

// Ratio returns the compressed size relative to original.
func (r *Result) Ratio(original int) float64 {
	if original == 0 {
		return 0
	}
	return float64(r.Size) / float64(original)
}

// Report compresses data with every codec concurrently and returns the
// results in the order of codecs.
func Report(ctx context.Context, data []byte, codecs ...Codec) ([]Result, error) {
	out := make([]Result, len(codecs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, c := range codecs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			b, err := c.Compress(data)
			if err != nil {
				return fmt.Errorf("failed to compress with %s: %w", c.Name(), err)
			}
			out[i] = Result{Codec: c.Name(), Size: len(b), Duration: time.Since(start)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
