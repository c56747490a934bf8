package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/piprov/piprov/pkg/errors"
)

const maxChecksumFileSize = 64 * 1024

// Verifier checks a downloaded artifact against its checksum artifact.
type Verifier interface {
	// Verify checks artifact, published as name, and returns its hex digest.
	Verify(ctx context.Context, artifact, checksumFile, name string) (string, error)
}

// SHA256Verifier verifies `sha256sum`-style checksum files.
type SHA256Verifier struct {
	fs afero.Fs
}

// NewSHA256Verifier creates a verifier reading from fs.
func NewSHA256Verifier(fs afero.Fs) *SHA256Verifier {
	return &SHA256Verifier{fs: fs}
}

func (v *SHA256Verifier) Verify(ctx context.Context, artifact, checksumFile, name string) (string, error) {
	data, err := afero.ReadFile(v.fs, checksumFile)
	if err != nil {
		return "", errors.Fetch(errors.ErrChecksumMismatch, checksumFile, errors.Wrap(err, "failed to read checksum artifact"))
	}
	if len(data) > maxChecksumFileSize {
		return "", errors.Fetch(errors.ErrChecksumMismatch, checksumFile, fmt.Errorf("checksum artifact too large"))
	}

	expected, err := parseChecksum(data, name)
	if err != nil {
		return "", errors.Fetch(errors.ErrChecksumMismatch, checksumFile, err)
	}

	f, err := v.fs.Open(artifact)
	if err != nil {
		return "", errors.Fetch(errors.ErrDownloadFailed, artifact, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, contextReader{ctx: ctx, r: f}); err != nil {
		return "", errors.Fetch(errors.ErrChecksumMismatch, artifact, errors.Wrap(err, "failed to hash artifact"))
	}
	actual := hex.EncodeToString(h.Sum(nil))

	if actual != expected {
		return "", errors.Fetch(errors.ErrChecksumMismatch, artifact,
			fmt.Errorf("expected %s, got %s", expected, actual)).
			WithHint("the download may be corrupt or tampered with; run again to re-download")
	}
	return actual, nil
}

// parseChecksum returns the digest for filename from lines of the form
// "<hex>  <name>" or "<hex> *<name>". A file holding a single bare digest is
// accepted for any name.
func parseChecksum(data []byte, filename string) (string, error) {
	var bare []string
	named := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		sum := strings.ToLower(fields[0])
		if !isSHA256(sum) {
			return "", fmt.Errorf("malformed checksum line %q", sc.Text())
		}
		if len(fields) == 1 {
			bare = append(bare, sum)
			continue
		}
		named++
		if path.Base(strings.TrimPrefix(fields[1], "*")) == filename {
			return sum, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(bare) == 1 && named == 0 {
		return bare[0], nil
	}
	if len(bare) == 0 && named == 0 {
		return "", fmt.Errorf("empty checksum artifact")
	}
	return "", fmt.Errorf("no checksum for %s", filename)
}

func isSHA256(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
