package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piprov/piprov/pkg/errors"
)

type fakeProber bool

func (p fakeProber) Reachable(context.Context) bool { return bool(p) }

type fakeLister struct {
	pages map[string][]string
	calls []string
}

func (l *fakeLister) List(_ context.Context, location string) ([]string, error) {
	l.calls = append(l.calls, location)
	links, ok := l.pages[location]
	if !ok {
		return nil, fmt.Errorf("404 %s", location)
	}
	return links, nil
}

const testBase = "https://downloads.example.com"

// liveListing serves two releases per variant with one image in the newest.
func liveListing() *fakeLister {
	l := &fakeLister{pages: map[string][]string{}}
	for _, v := range AllVariants {
		images := testBase + "/" + v.Dir() + "/images/"
		l.pages[images] = []string{
			v.Dir() + "-2024-07-04/",
			v.Dir() + "-2025-05-13/",
			v.Dir() + "-2024-11-19/",
			"unrelated/",
		}
		name := "2025-05-13-raspios-bookworm-" + v.Arch.debianArch() + "-" + v.Flavor.String() + ".img.xz"
		l.pages[images+v.Dir()+"-2025-05-13/"] = []string{
			name,
			name + ".sha256",
			name + ".torrent",
		}
	}
	return l
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		flavor, arch string
		want         Variant
		wantErr      bool
	}{
		{"lite", "64", Variant{FlavorLite, Arch64}, false},
		{"full", "32", Variant{FlavorFull, Arch32}, false},
		{"LITE", "64-bit", Variant{FlavorLite, Arch64}, false},
		{"full", "armhf", Variant{FlavorFull, Arch32}, false},
		{"desktop", "64", Variant{}, true},
		{"lite", "128", Variant{}, true},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.flavor, tt.arch)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestVariantNames(t *testing.T) {
	v := Variant{FlavorLite, Arch64}
	assert.Equal(t, "lite/64-bit", v.String())
	assert.Equal(t, "raspios_lite_arm64", v.Dir())
	assert.Equal(t, "raspios_full_armhf", Variant{FlavorFull, Arch32}.Dir())
	assert.False(t, Variant{}.Valid())
}

func TestPinnedCatalogComplete(t *testing.T) {
	c := Pinned("")
	require.True(t, c.Complete())
	for _, v := range AllVariants {
		src := c[v]
		assert.NotEmpty(t, src.Filename, v.String())
		assert.True(t, strings.HasSuffix(src.Filename, ImageSuffix))
		assert.Equal(t, src.Filename+ChecksumSuffix, src.ChecksumName)
		assert.False(t, src.Live)
		assert.Contains(t, src.URL(), "/"+v.Dir()+"/images/")
	}
	assert.Equal(t,
		"https://downloads.raspberrypi.com/raspios_lite_arm64/images/raspios_lite_arm64-2024-11-19/2024-11-19-raspios-bookworm-arm64-lite.img.xz",
		c[Variant{FlavorLite, Arch64}].URL())
}

func TestCatalogCompleteRejectsPartial(t *testing.T) {
	c := Pinned("")
	delete(c, Variant{FlavorFull, Arch32})
	assert.False(t, c.Complete())

	c = Pinned("")
	src := c[Variant{FlavorLite, Arch32}]
	src.Filename = ""
	c[Variant{FlavorLite, Arch32}] = src
	assert.False(t, c.Complete())
}

func TestResolveLive(t *testing.T) {
	lister := liveListing()
	r := NewResolver(testBase, "", lister, fakeProber(true))

	src, err := r.Resolve(context.Background(), Variant{FlavorLite, Arch64})
	require.NoError(t, err)

	assert.True(t, src.Live)
	assert.Equal(t, "2025-05-13-raspios-bookworm-arm64-lite.img.xz", src.Filename)
	assert.Equal(t, "2025-05-13-raspios-bookworm-arm64-lite.img.xz.sha256", src.ChecksumName)
	assert.Equal(t,
		testBase+"/raspios_lite_arm64/images/raspios_lite_arm64-2025-05-13/2025-05-13-raspios-bookworm-arm64-lite.img.xz",
		src.URL())
}

func TestResolveFallsBack(t *testing.T) {
	ambiguous := liveListing()
	v := Variant{FlavorFull, Arch64}
	dir := testBase + "/" + v.Dir() + "/images/" + v.Dir() + "-2025-05-13/"
	ambiguous.pages[dir] = []string{"a.img.xz", "b.img.xz"}

	empty := liveListing()
	empty.pages[dir] = []string{"README"}

	tests := []struct {
		name   string
		lister Lister
		prober Prober
	}{
		{"network unavailable", liveListing(), fakeProber(false)},
		{"listing error", &fakeLister{pages: map[string][]string{}}, fakeProber(true)},
		{"ambiguous match", ambiguous, fakeProber(true)},
		{"zero matches", empty, fakeProber(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(testBase, "", tt.lister, tt.prober)
			src, err := r.Resolve(context.Background(), v)
			require.NoError(t, err)
			assert.False(t, src.Live)
			assert.Equal(t, Pinned(testBase)[v], src)
		})
	}
}

func TestResolveNoNetworkSkipsListing(t *testing.T) {
	lister := liveListing()
	r := NewResolver(testBase, "", lister, fakeProber(false))
	_, err := r.Resolve(context.Background(), Variant{FlavorLite, Arch64})
	require.NoError(t, err)
	assert.Empty(t, lister.calls)
}

func TestResolveMirror(t *testing.T) {
	lister := liveListing()
	r := NewResolver(testBase, "s3://pi-mirror/raspios", lister, fakeProber(true))

	src, err := r.Resolve(context.Background(), Variant{FlavorLite, Arch32})
	require.NoError(t, err)
	assert.Equal(t, "s3://pi-mirror/raspios/2024-11-19-raspios-bookworm-armhf-lite.img.xz", src.URL())
	assert.Equal(t, "s3://pi-mirror/raspios/2024-11-19-raspios-bookworm-armhf-lite.img.xz.sha256", src.ChecksumURL())
	assert.Empty(t, lister.calls)
}

func TestResolveInvalidVariant(t *testing.T) {
	r := NewResolver(testBase, "", nil, nil)
	_, err := r.Resolve(context.Background(), Variant{})
	assert.ErrorIs(t, err, errors.ErrNoMatch)
	assert.Equal(t, errors.KindResolution, errors.KindOf(err))
}

func TestCatalogEveryVariantHasFilename(t *testing.T) {
	for _, reachable := range []bool{true, false} {
		r := NewResolver(testBase, "", liveListing(), fakeProber(reachable))
		c, err := r.Catalog(context.Background())
		require.NoError(t, err)
		require.True(t, c.Complete())
		for _, v := range AllVariants {
			assert.NotEmpty(t, c[v].Filename)
			assert.Equal(t, reachable, c[v].Live)
		}
	}
}

func TestLatestRelease(t *testing.T) {
	entries := []string{"x-2024-01-01/", "x-2025-12-31/", "x-2025-02-01/", "x-2026-01-01", "y-2027-01-01/", "x-/"}
	assert.Equal(t, "x-2025-12-31", latestRelease(entries, "x-"))
	assert.Equal(t, "", latestRelease(nil, "x-"))
}

func TestParseLinks(t *testing.T) {
	page := `<html><body><pre>
<a href="../">Parent Directory</a>
<a href="?C=N;O=D">Name</a>
<a href="raspios_lite_arm64-2025-05-13/">raspios_lite_arm64-2025-05-13/</a>
<a href="https://elsewhere.example/">elsewhere</a>
<a href="/icons/blank.gif">icon</a>
<a href="image.img.xz">image.img.xz</a>
</pre></body></html>`

	links, err := parseLinks(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"raspios_lite_arm64-2025-05-13/", "image.img.xz"}, links)
}

type pageFetcher map[string]string

func (f pageFetcher) Open(_ context.Context, location string) (io.ReadCloser, int64, error) {
	page, ok := f[location]
	if !ok {
		return nil, 0, fmt.Errorf("404")
	}
	return io.NopCloser(strings.NewReader(page)), int64(len(page)), nil
}

func TestHTMLLister(t *testing.T) {
	l := NewHTMLLister(pageFetcher{
		"https://x/": `<a href="a.img.xz">a</a><a href="a.img.xz.sha256">s</a>`,
	})
	links, err := l.List(context.Background(), "https://x/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.img.xz", "a.img.xz.sha256"}, links)

	_, err = l.List(context.Background(), "https://missing/")
	assert.Error(t, err)
}
