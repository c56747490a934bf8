package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"

	"github.com/piprov/piprov/pkg/errors"
)

// Format identifies how an image artifact is compressed.
type Format int

const (
	FormatRaw Format = iota
	FormatXZ
	FormatGzip
	FormatZstd
)

func (f Format) String() string {
	switch f {
	case FormatXZ:
		return "xz"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	default:
		return "raw"
	}
}

var suffixes = []struct {
	suffix string
	format Format
}{
	{".xz", FormatXZ},
	{".gz", FormatGzip},
	{".zst", FormatZstd},
}

// DetectFormat returns the compression of filename and the name with the
// compression suffix stripped.
func DetectFormat(filename string) (Format, string) {
	for _, s := range suffixes {
		if strings.HasSuffix(filename, s.suffix) {
			return s.format, strings.TrimSuffix(filename, s.suffix)
		}
	}
	return FormatRaw, filename
}

// Decompressor streams one compression format.
type Decompressor interface {
	// Size returns the decompressed size recorded in the archive at path, or -1.
	Size(ctx context.Context, fs afero.Fs, path string) int64

	// Decompress copies the decompressed form of src to dst.
	Decompress(ctx context.Context, src io.Reader, dst io.Writer) error
}

// DefaultDecompressors returns the production decompressor for every format.
func DefaultDecompressors() map[Format]Decompressor {
	return map[Format]Decompressor{
		FormatRaw:  rawDecompressor{},
		FormatXZ:   &XZDecompressor{},
		FormatGzip: gzipDecompressor{},
		FormatZstd: zstdDecompressor{},
	}
}

// XZDecompressor uses the xz executable when present and falls back to the
// native implementation, which is several times slower.
type XZDecompressor struct {
	// Native forces the in-process decoder.
	Native bool
}

func haveXz() bool {
	_, err := exec.LookPath("xz")
	return err == nil
}

func (d *XZDecompressor) external() bool {
	return !d.Native && haveXz()
}

// Size asks `xz --robot --list` for the uncompressed total. The native decoder
// cannot read the stream index, so it reports unknown.
func (d *XZDecompressor) Size(ctx context.Context, fs afero.Fs, path string) int64 {
	if _, ok := fs.(*afero.OsFs); !ok || !d.external() {
		return -1
	}
	out, err := exec.CommandContext(ctx, "xz", "--robot", "--list", path).Output()
	if err != nil {
		slog.Debug("xz_list_failed", "path", path, "error", err)
		return -1
	}
	return parseXzList(out)
}

// parseXzList reads the uncompressed size column of the "totals" line.
func parseXzList(out []byte) int64 {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 5 || fields[0] != "totals" {
			continue
		}
		n, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil || n <= 0 {
			return -1
		}
		return n
	}
	return -1
}

func (d *XZDecompressor) Decompress(ctx context.Context, src io.Reader, dst io.Writer) error {
	if d.external() {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, "xz", "--decompress", "--stdout")
		cmd.Stdin = src
		cmd.Stdout = dst
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("xz: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}

	r, err := xz.NewReader(src)
	if err != nil {
		return errors.Wrap(err, "invalid xz stream")
	}
	_, err = io.Copy(dst, contextReader{ctx: ctx, r: r})
	return err
}

type gzipDecompressor struct{}

// Size reads the ISIZE trailer. It holds the size modulo 2^32, so a value
// smaller than the archive itself means it wrapped and is discarded.
func (gzipDecompressor) Size(_ context.Context, fs afero.Fs, path string) int64 {
	f, err := fs.Open(path)
	if err != nil {
		return -1
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() < 18 {
		return -1
	}
	var trailer [4]byte
	if _, err := f.ReadAt(trailer[:], st.Size()-4); err != nil {
		return -1
	}
	n := int64(binary.LittleEndian.Uint32(trailer[:]))
	if n < st.Size() {
		return -1
	}
	return n
}

func (gzipDecompressor) Decompress(ctx context.Context, src io.Reader, dst io.Writer) error {
	r, err := gzip.NewReader(src)
	if err != nil {
		return errors.Wrap(err, "invalid gzip stream")
	}
	defer r.Close()
	_, err = io.Copy(dst, contextReader{ctx: ctx, r: r})
	return err
}

type zstdDecompressor struct{}

// Size reads the frame content size from the first frame header.
func (zstdDecompressor) Size(_ context.Context, fs afero.Fs, path string) int64 {
	f, err := fs.Open(path)
	if err != nil {
		return -1
	}
	defer f.Close()

	buf := make([]byte, zstd.HeaderMaxSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return -1
	}
	var h zstd.Header
	if err := h.Decode(buf[:n]); err != nil || !h.HasFCS {
		return -1
	}
	return int64(h.FrameContentSize)
}

func (zstdDecompressor) Decompress(ctx context.Context, src io.Reader, dst io.Writer) error {
	r, err := zstd.NewReader(src)
	if err != nil {
		return errors.Wrap(err, "invalid zstd stream")
	}
	defer r.Close()
	_, err = io.Copy(dst, contextReader{ctx: ctx, r: r})
	return err
}

type rawDecompressor struct{}

func (rawDecompressor) Size(_ context.Context, fs afero.Fs, path string) int64 {
	st, err := fs.Stat(path)
	if err != nil {
		return -1
	}
	return st.Size()
}

func (rawDecompressor) Decompress(ctx context.Context, src io.Reader, dst io.Writer) error {
	_, err := io.Copy(dst, contextReader{ctx: ctx, r: src})
	return err
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
