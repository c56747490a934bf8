package catalog

const (
	// ImageSuffix is the compressed image suffix published by the vendor.
	ImageSuffix = ".img.xz"
	// ChecksumSuffix is appended to the image filename to name its checksum artifact.
	ChecksumSuffix = ".sha256"

	pinnedRelease = "2024-11-19"
	pinnedSuite   = "bookworm"
	vendorBase    = "https://downloads.raspberrypi.com"
)

// Pinned returns the static fallback catalog rooted at base.
func Pinned(base string) Catalog {
	if base == "" {
		base = vendorBase
	}
	c := make(Catalog, len(AllVariants))
	for _, v := range AllVariants {
		filename := pinnedRelease + "-raspios-" + pinnedSuite + "-" + v.Arch.debianArch() + "-" + v.Flavor.String() + ImageSuffix
		c[v] = ImageSource{
			Variant:      v,
			BaseLocation: joinLocation(base, v.Dir()+"/images/"+v.Dir()+"-"+pinnedRelease+"/"),
			Filename:     filename,
			ChecksumName: filename + ChecksumSuffix,
		}
	}
	return c
}

// Mirrored returns the pinned filenames served from a flat mirror location
// (an http(s) base or s3://bucket/prefix).
func Mirrored(mirror string) Catalog {
	c := make(Catalog, len(AllVariants))
	for v, src := range Pinned("") {
		src.BaseLocation = joinLocation(mirror, "")
		c[v] = src
	}
	return c
}
