package catalog

import (
	"fmt"
	"strings"
)

// Flavor selects the OS package set.
type Flavor int

const (
	FlavorLite Flavor = iota + 1
	FlavorFull
)

func (f Flavor) String() string {
	switch f {
	case FlavorLite:
		return "lite"
	case FlavorFull:
		return "full"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Arch selects the userland word size.
type Arch int

const (
	Arch64 Arch = iota + 1
	Arch32
)

func (a Arch) String() string {
	switch a {
	case Arch64:
		return "64"
	case Arch32:
		return "32"
	default:
		return fmt.Sprintf("arch(%d)", int(a))
	}
}

// debianArch is the architecture name used in vendor directory and file names.
func (a Arch) debianArch() string {
	if a == Arch32 {
		return "armhf"
	}
	return "arm64"
}

// Variant is the {flavor, architecture} pair that keys the catalog.
type Variant struct {
	Flavor Flavor
	Arch   Arch
}

// AllVariants is the closed set of supported variants.
var AllVariants = []Variant{
	{FlavorLite, Arch64},
	{FlavorFull, Arch64},
	{FlavorLite, Arch32},
	{FlavorFull, Arch32},
}

// ParseVariant builds a Variant from its configuration spelling ("lite"/"full", "64"/"32").
func ParseVariant(flavor, arch string) (Variant, error) {
	var v Variant
	switch strings.ToLower(flavor) {
	case "lite":
		v.Flavor = FlavorLite
	case "full":
		v.Flavor = FlavorFull
	default:
		return Variant{}, fmt.Errorf("unknown flavor %q", flavor)
	}
	switch strings.TrimSuffix(strings.ToLower(arch), "-bit") {
	case "64", "arm64":
		v.Arch = Arch64
	case "32", "armhf":
		v.Arch = Arch32
	default:
		return Variant{}, fmt.Errorf("unknown architecture %q", arch)
	}
	return v, nil
}

// Valid reports whether v is one of AllVariants.
func (v Variant) Valid() bool {
	for _, known := range AllVariants {
		if v == known {
			return true
		}
	}
	return false
}

func (v Variant) String() string {
	return v.Flavor.String() + "/" + v.Arch.String() + "-bit"
}

// Dir is the vendor directory name for the variant, e.g. raspios_lite_arm64.
func (v Variant) Dir() string {
	return "raspios_" + v.Flavor.String() + "_" + v.Arch.debianArch()
}

// ImageSource locates one image and its checksum artifact. It is immutable once resolved.
type ImageSource struct {
	Variant      Variant
	BaseLocation string
	Filename     string
	ChecksumName string
	Live         bool
}

// URL returns the download location of the compressed image.
func (s ImageSource) URL() string {
	return joinLocation(s.BaseLocation, s.Filename)
}

// ChecksumURL returns the download location of the checksum artifact.
func (s ImageSource) ChecksumURL() string {
	return joinLocation(s.BaseLocation, s.ChecksumName)
}

// Complete reports whether every field needed for fetching is set.
func (s ImageSource) Complete() bool {
	return s.BaseLocation != "" && s.Filename != "" && s.ChecksumName != ""
}

func joinLocation(base, name string) string {
	if base == "" {
		return name
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + name
}

// Catalog maps every variant to its source.
type Catalog map[Variant]ImageSource

// Complete reports whether c holds a complete source for every supported variant.
func (c Catalog) Complete() bool {
	if len(c) != len(AllVariants) {
		return false
	}
	for _, v := range AllVariants {
		src, ok := c[v]
		if !ok || !src.Complete() {
			return false
		}
	}
	return true
}
