// Package security enforces limits on downloaded images and validates the
// operator-supplied values that end up on the provisioned medium.
package security

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// Validator enforces image size and compression limits during decompression
type Validator struct {
	maxImageSize        int64
	maxCompressionRatio float64

	mu      sync.Mutex
	written int64
}

// NewValidator creates a new security validator
func NewValidator(maxImageSize int64, maxCompressionRatio float64) *Validator {
	slog.Debug("security_validator_init",
		"max_image_size_mb", maxImageSize/1024/1024,
		"max_compression_ratio", maxCompressionRatio)

	return &Validator{
		maxImageSize:        maxImageSize,
		maxCompressionRatio: maxCompressionRatio,
	}
}

// ValidateFilename rejects remote-supplied names that would escape the cache
// directory.
func (v *Validator) ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("security: empty filename")
	}
	if filepath.IsAbs(name) {
		slog.Error("security_filename_validation_failed", "filename", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", name)
	}
	clean := filepath.Clean(name)
	if strings.HasPrefix(clean, "..") || strings.ContainsAny(clean, `/\`) {
		slog.Error("security_filename_validation_failed", "filename", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}
	return nil
}

// ValidateImageSize checks a declared or estimated decompressed size
func (v *Validator) ValidateImageSize(size int64) error {
	if size > v.maxImageSize {
		slog.Error("security_image_size_exceeded",
			"image_size_mb", size/1024/1024,
			"max_image_size_mb", v.maxImageSize/1024/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", size, v.maxImageSize)
	}
	return nil
}

// ValidateCompressionRatio checks for compression bombs
func (v *Validator) ValidateCompressionRatio(compressedSize, uncompressedSize int64) error {
	if compressedSize <= 0 {
		slog.Error("security_compression_validation_failed", "reason", "zero_compressed_size")
		return fmt.Errorf("security: compressed size cannot be zero")
	}

	ratio := float64(uncompressedSize) / float64(compressedSize)

	if ratio > v.maxCompressionRatio {
		slog.Error("security_compression_bomb_detected",
			"ratio", ratio,
			"max_ratio", v.maxCompressionRatio,
			"compressed_mb", compressedSize/1024/1024,
			"uncompressed_mb", uncompressedSize/1024/1024)
		return fmt.Errorf("security: compression ratio %.2f exceeds max %.2f (compressed: %d, uncompressed: %d)",
			ratio, v.maxCompressionRatio, compressedSize, uncompressedSize)
	}
	return nil
}

// AddDecompressed tracks bytes produced so far and checks them against both limits.
func (v *Validator) AddDecompressed(n, compressedSize int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.written += n
	if err := v.ValidateImageSize(v.written); err != nil {
		return err
	}
	return v.ValidateCompressionRatio(compressedSize, v.written)
}

// Reset resets the decompressed byte counter
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.written = 0
}

// Written returns the decompressed byte count so far
func (v *Validator) Written() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.written
}

// LimitWriter returns a writer that fails once w has received more output than
// the limits allow for an archive of compressedSize bytes.
func (v *Validator) LimitWriter(w io.Writer, compressedSize int64) io.Writer {
	v.Reset()
	return &limitWriter{w: w, v: v, compressed: compressedSize}
}

type limitWriter struct {
	w          io.Writer
	v          *Validator
	compressed int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if err := l.v.AddDecompressed(int64(len(p)), l.compressed); err != nil {
		return 0, err
	}
	return l.w.Write(p)
}
