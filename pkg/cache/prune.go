package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Transient reports whether name is a download, checksum or partial
// decompression artifact rather than a finished image.
func Transient(name string) bool {
	if strings.HasSuffix(name, partialSuffix) || strings.HasSuffix(name, downloadSuffix) || strings.HasSuffix(name, ".sha256") {
		return true
	}
	format, _ := DetectFormat(name)
	return format != FormatRaw
}

// RemoveImage deletes the cached image for filename. It reports false when
// nothing was cached.
func (p *Pipeline) RemoveImage(filename string) (bool, error) {
	if err := p.validator.ValidateFilename(filename); err != nil {
		return false, err
	}
	path := p.CachePath(filename)
	if err := p.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	slog.Info("cache_image_removed", "path", path)
	return true, nil
}

// Orphans lists cache entries that are transient artifacts or images whose
// path is not in keep.
func (p *Pipeline) Orphans(keep map[string]bool) ([]string, error) {
	entries, err := afero.ReadDir(p.fs, p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var orphans []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		if Transient(e.Name()) || !keep[path] {
			orphans = append(orphans, path)
		}
	}
	return orphans, nil
}

// RemovePath deletes one entry returned by Orphans.
func (p *Pipeline) RemovePath(path string) error {
	if filepath.Dir(path) != filepath.Clean(p.dir) {
		return fmt.Errorf("%s is outside the cache directory", path)
	}
	if err := p.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	slog.Info("cache_orphan_removed", "path", path)
	return nil
}
