// Package cache keeps decompressed OS images in a flat cache directory,
// fetching, verifying and decompressing them on a miss.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/piprov/piprov/pkg/catalog"
	"github.com/piprov/piprov/pkg/db"
	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/lifecycle"
	"github.com/piprov/piprov/pkg/progress"
	"github.com/piprov/piprov/pkg/security"
	"github.com/piprov/piprov/pkg/storage"
)

const (
	partialSuffix  = ".partial"
	downloadSuffix = ".download"

	// sizeEstimateFactor approximates the decompressed size when the archive
	// does not record it. Only the progress display uses it.
	sizeEstimateFactor = 3
)

// Index records cache state transitions. The filesystem stays authoritative.
type Index interface {
	RecordImage(img *db.Image) error
}

// Counter receives byte progress.
type Counter interface {
	io.Writer
	Finish() int64
}

// CounterFunc creates a Counter for a labelled task of total bytes.
type CounterFunc func(label string, total int64) Counter

// Pipeline implements the cache-and-fetch step.
type Pipeline struct {
	fs            afero.Fs
	dir           string
	fetcher       storage.Fetcher
	verifier      Verifier
	decompressors map[Format]Decompressor
	validator     *security.Validator
	ledger        *lifecycle.Ledger
	index         Index
	counter       CounterFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFs overrides the filesystem (default: the OS filesystem).
func WithFs(fs afero.Fs) Option {
	return func(p *Pipeline) { p.fs = fs }
}

// WithVerifier overrides the SHA-256 verifier.
func WithVerifier(v Verifier) Option {
	return func(p *Pipeline) { p.verifier = v }
}

// WithDecompressor overrides the decompressor for one format.
func WithDecompressor(f Format, d Decompressor) Option {
	return func(p *Pipeline) { p.decompressors[f] = d }
}

// WithIndex records state transitions in idx.
func WithIndex(idx Index) Option {
	return func(p *Pipeline) { p.index = idx }
}

// WithCounter overrides the progress reporter.
func WithCounter(c CounterFunc) Option {
	return func(p *Pipeline) { p.counter = c }
}

// NewPipeline creates a pipeline caching under dir.
func NewPipeline(dir string, fetcher storage.Fetcher, validator *security.Validator, ledger *lifecycle.Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		fs:            afero.NewOsFs(),
		dir:           dir,
		fetcher:       fetcher,
		decompressors: DefaultDecompressors(),
		validator:     validator,
		ledger:        ledger,
		counter: func(label string, total int64) Counter {
			return progress.New(label, total)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.verifier == nil {
		p.verifier = NewSHA256Verifier(p.fs)
	}
	return p
}

// Dir returns the cache directory.
func (p *Pipeline) Dir() string {
	return p.dir
}

// Fs returns the filesystem the cache lives on.
func (p *Pipeline) Fs() afero.Fs {
	return p.fs
}

// CachePath returns where the decompressed form of filename is kept.
func (p *Pipeline) CachePath(filename string) string {
	_, stem := DetectFormat(filename)
	return filepath.Join(p.dir, stem)
}

// Cached returns the cached image path for src when it is present and non-empty.
func (p *Pipeline) Cached(src catalog.ImageSource) (string, bool) {
	path := p.CachePath(src.Filename)
	st, err := p.fs.Stat(path)
	if err != nil || !st.Mode().IsRegular() || st.Size() == 0 {
		return "", false
	}
	return path, true
}

// EnsureLocalImage returns the path of the decompressed image for src,
// downloading, verifying and decompressing it first on a cache miss.
func (p *Pipeline) EnsureLocalImage(ctx context.Context, src catalog.ImageSource) (string, error) {
	if err := p.validator.ValidateFilename(src.Filename); err != nil {
		return "", errors.Fetch(errors.ErrDownloadFailed, src.Filename, err)
	}
	if err := p.validator.ValidateFilename(src.ChecksumName); err != nil {
		return "", errors.Fetch(errors.ErrDownloadFailed, src.ChecksumName, err)
	}

	if path, ok := p.Cached(src); ok {
		slog.Info("image_cache_hit", "filename", src.Filename, "path", path)
		st, _ := p.fs.Stat(path)
		p.record(src, db.StateDecompressed, "", path, st.Size())
		return path, nil
	}
	slog.Info("image_cache_miss", "filename", src.Filename)

	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		return "", errors.Fetch(errors.ErrDownloadFailed, p.dir, errors.Wrap(err, "failed to create cache directory"))
	}

	format, _ := DetectFormat(src.Filename)
	archive := filepath.Join(p.dir, src.Filename)
	if format == FormatRaw {
		// An uncompressed download must not land on the cache path itself.
		archive += downloadSuffix
	}
	checksum := filepath.Join(p.dir, src.ChecksumName)

	p.ledger.TrackFile(archive)
	p.ledger.TrackFile(checksum)

	if err := p.download(ctx, src.URL(), archive, true); err != nil {
		return "", err
	}
	p.record(src, db.StateCompressedUnverified, "", archive, 0)

	if err := p.download(ctx, src.ChecksumURL(), checksum, false); err != nil {
		return "", err
	}

	sum, err := p.verifier.Verify(ctx, archive, checksum, src.Filename)
	if err != nil {
		slog.Error("image_checksum_failed", "filename", src.Filename, "error", err)
		return "", err
	}
	slog.Info("image_checksum_verified", "filename", src.Filename, "sha256", sum)
	p.record(src, db.StateCompressedVerified, sum, archive, 0)

	path := p.CachePath(src.Filename)
	size, err := p.decompress(ctx, format, archive, path)
	if err != nil {
		return "", err
	}
	p.record(src, db.StateDecompressed, sum, path, size)

	for _, transient := range []string{archive, checksum} {
		if err := p.fs.Remove(transient); err != nil && !os.IsNotExist(err) {
			slog.Warn("transient_remove_failed", "path", transient, "error", err)
			continue
		}
		p.ledger.Forget(transient)
	}

	slog.Info("image_ready", "filename", src.Filename, "path", path, "size", size)
	return path, nil
}

func (p *Pipeline) download(ctx context.Context, url, dest string, showProgress bool) error {
	slog.Info("download_start", "url", url, "path", dest)

	body, size, err := p.fetcher.Open(ctx, url)
	if err != nil {
		return errors.Fetch(errors.ErrDownloadFailed, url, err).WithHint("check the network connection and try again")
	}
	defer body.Close()

	f, err := p.fs.Create(dest)
	if err != nil {
		return errors.Fetch(errors.ErrDownloadFailed, dest, err)
	}
	defer f.Close()

	var w io.Writer = f
	var counter Counter
	if showProgress {
		counter = p.counter("download", size)
		w = io.MultiWriter(f, counter)
	}

	n, err := io.Copy(w, contextReader{ctx: ctx, r: body})
	if counter != nil {
		counter.Finish()
	}
	if err != nil {
		return errors.Fetch(errors.ErrDownloadFailed, url, err)
	}
	if size >= 0 && n != size {
		return errors.Fetch(errors.ErrDownloadFailed, url, fmt.Errorf("short download: got %d of %d bytes", n, size))
	}
	if err := f.Close(); err != nil {
		return errors.Fetch(errors.ErrDownloadFailed, dest, err)
	}

	slog.Info("download_complete", "url", url, "bytes", n)
	return nil
}

// decompress writes archive's content to dest through a partial file that is
// renamed into place only once complete, so an interrupted run never leaves a
// false cache hit behind.
func (p *Pipeline) decompress(ctx context.Context, format Format, archive, dest string) (int64, error) {
	dec, ok := p.decompressors[format]
	if !ok {
		return 0, errors.Fetch(errors.ErrDecompressFailed, archive, fmt.Errorf("no decompressor for %s", format))
	}

	st, err := p.fs.Stat(archive)
	if err != nil {
		return 0, errors.Fetch(errors.ErrDecompressFailed, archive, err)
	}
	compressed := st.Size()

	total := dec.Size(ctx, p.fs, archive)
	if total > 0 {
		if err := p.validator.ValidateImageSize(total); err != nil {
			return 0, errors.Fetch(errors.ErrDecompressFailed, archive, err)
		}
	} else {
		total = compressed * sizeEstimateFactor
		slog.Debug("decompressed_size_estimated", "path", archive, "estimate", total)
	}

	src, err := p.fs.Open(archive)
	if err != nil {
		return 0, errors.Fetch(errors.ErrDecompressFailed, archive, err)
	}
	defer src.Close()

	partial := dest + partialSuffix
	p.ledger.TrackFile(partial)
	out, err := p.fs.Create(partial)
	if err != nil {
		return 0, errors.Fetch(errors.ErrDecompressFailed, partial, err)
	}
	defer out.Close()

	slog.Info("decompress_start", "path", archive, "format", format.String(), "expected_size", total)

	counter := p.counter("decompress", total)
	w := io.MultiWriter(p.validator.LimitWriter(out, compressed), counter)
	err = dec.Decompress(ctx, src, w)
	counter.Finish()
	if err != nil {
		return 0, errors.Fetch(errors.ErrDecompressFailed, archive, err)
	}
	if err := out.Close(); err != nil {
		return 0, errors.Fetch(errors.ErrDecompressFailed, partial, err)
	}

	info, err := p.fs.Stat(partial)
	if err != nil || info.Size() == 0 {
		return 0, errors.Fetch(errors.ErrDecompressFailed, dest, fmt.Errorf("decompression produced no output"))
	}
	if err := p.fs.Rename(partial, dest); err != nil {
		return 0, errors.Fetch(errors.ErrDecompressFailed, dest, err)
	}
	p.ledger.Forget(partial)

	slog.Info("decompress_complete", "path", dest, "size", info.Size())
	return info.Size(), nil
}

func (p *Pipeline) record(src catalog.ImageSource, state, sum, path string, size int64) {
	if p.index == nil {
		return
	}
	err := p.index.RecordImage(&db.Image{
		Filename: src.Filename,
		Variant:  src.Variant.String(),
		SHA256:   sum,
		State:    state,
		Path:     path,
		Size:     size,
	})
	if err != nil {
		slog.Warn("image_index_update_failed", "filename", src.Filename, "state", state, "error", err)
	}
}
