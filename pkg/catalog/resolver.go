// Package catalog resolves an image variant to the location of its compressed
// image and checksum artifact, preferring the vendor's live listing and falling
// back to a pinned release when the network or listing is unusable.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/piprov/piprov/pkg/errors"
)

// Lister returns the link targets of a directory listing.
type Lister interface {
	List(ctx context.Context, location string) ([]string, error)
}

// Prober classifies the network as available or not.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Resolver maps variants to image sources.
type Resolver struct {
	base   string
	mirror string
	lister Lister
	prober Prober
}

// NewResolver creates a resolver for the vendor listing rooted at base. A
// non-empty mirror bypasses the live lookup entirely.
func NewResolver(base, mirror string, lister Lister, prober Prober) *Resolver {
	if base == "" {
		base = vendorBase
	}
	return &Resolver{
		base:   strings.TrimSuffix(base, "/"),
		mirror: mirror,
		lister: lister,
		prober: prober,
	}
}

// Resolve returns the source for v.
func (r *Resolver) Resolve(ctx context.Context, v Variant) (ImageSource, error) {
	if !v.Valid() {
		return ImageSource{}, errors.Resolution(errors.ErrNoMatch, v.String(), nil)
	}

	if r.mirror != "" {
		src := Mirrored(r.mirror)[v]
		slog.Info("catalog_mirror_used", "variant", v.String(), "location", src.URL())
		return src, nil
	}

	if r.prober != nil && r.lister != nil && r.prober.Reachable(ctx) {
		src, err := r.lookup(ctx, v)
		if err == nil {
			slog.Info("catalog_live_resolved", "variant", v.String(), "filename", src.Filename)
			return src, nil
		}
		slog.Warn("catalog_live_lookup_failed", "variant", v.String(), "error", err)
	} else {
		slog.Warn("catalog_network_unavailable", "variant", v.String())
	}

	src, ok := Pinned(r.base)[v]
	if !ok || !src.Complete() {
		return ImageSource{}, errors.Resolution(errors.ErrNoMatch, v.String(), nil)
	}
	slog.Info("catalog_fallback_used", "variant", v.String(), "filename", src.Filename)
	return src, nil
}

// Catalog resolves every supported variant. A live lookup that cannot produce
// the full cross-product is discarded in favour of the pinned set.
func (r *Resolver) Catalog(ctx context.Context) (Catalog, error) {
	c := make(Catalog, len(AllVariants))
	for _, v := range AllVariants {
		src, err := r.Resolve(ctx, v)
		if err != nil {
			slog.Warn("catalog_variant_unresolved", "variant", v.String(), "error", err)
			continue
		}
		c[v] = src
	}
	if c.Complete() {
		return c, nil
	}

	slog.Warn("catalog_incomplete", "resolved", len(c), "expected", len(AllVariants))
	pinned := Pinned(r.base)
	if !pinned.Complete() {
		return nil, errors.Resolution(errors.ErrCatalogIncomplete, r.base, nil)
	}
	return pinned, nil
}

// lookup picks the newest dated release directory for v and the single
// compressed image inside it.
func (r *Resolver) lookup(ctx context.Context, v Variant) (ImageSource, error) {
	imagesDir := r.base + "/" + v.Dir() + "/images/"
	entries, err := r.lister.List(ctx, imagesDir)
	if err != nil {
		return ImageSource{}, errors.Wrap(err, "failed to list releases")
	}

	release := latestRelease(entries, v.Dir()+"-")
	if release == "" {
		return ImageSource{}, fmt.Errorf("no release directories under %s", imagesDir)
	}

	releaseDir := imagesDir + release + "/"
	files, err := r.lister.List(ctx, releaseDir)
	if err != nil {
		return ImageSource{}, errors.Wrap(err, "failed to list release")
	}

	var matches []string
	for _, f := range files {
		name := path.Base(f)
		if strings.HasSuffix(name, ImageSuffix) {
			matches = append(matches, name)
		}
	}
	matches = dedupe(matches)
	switch len(matches) {
	case 0:
		return ImageSource{}, fmt.Errorf("no %s image in %s", ImageSuffix, releaseDir)
	case 1:
	default:
		return ImageSource{}, fmt.Errorf("%d candidate images in %s", len(matches), releaseDir)
	}

	return ImageSource{
		Variant:      v,
		BaseLocation: releaseDir,
		Filename:     matches[0],
		ChecksumName: matches[0] + ChecksumSuffix,
		Live:         true,
	}, nil
}

// latestRelease returns the greatest directory name carrying prefix. Release
// directories end in an ISO date, so string order is date order.
func latestRelease(entries []string, prefix string) string {
	var dirs []string
	for _, e := range entries {
		if !strings.HasSuffix(e, "/") {
			continue
		}
		name := path.Base(strings.TrimSuffix(e, "/"))
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			dirs = append(dirs, name)
		}
	}
	if len(dirs) == 0 {
		return ""
	}
	sort.Strings(dirs)
	return dirs[len(dirs)-1]
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
