package nuget

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a NuGet package version. NuGet versions are semantic versions
// extended with an optional fourth (revision) segment, e.g. "1.0.0.0".
//
// The original author-supplied string is preserved for rendering; the
// normalized form is used as the comparison and storage key.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Revision   int
	Prerelease string
	Metadata   string

	original string
}

// ParseVersion parses a NuGet version string.
func ParseVersion(s string) (*Version, error) {
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}

	v := &Version{original: s}
	rest := s

	if i := strings.IndexByte(rest, '+'); i >= 0 {
		v.Metadata = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		v.Prerelease = rest[i+1:]
		rest = rest[:i]
		if v.Prerelease == "" {
			return nil, fmt.Errorf("invalid version %q: empty prerelease", s)
		}
	}

	parts := strings.Split(rest, ".")
	if len(parts) > 4 {
		return nil, fmt.Errorf("invalid version %q: too many segments", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid version %q: empty segment", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q: bad segment %q", s, p)
		}
		nums[i] = n
	}

	v.Major = nums[0]
	if len(nums) > 1 {
		v.Minor = nums[1]
	}
	if len(nums) > 2 {
		v.Patch = nums[2]
	}
	if len(nums) > 3 {
		v.Revision = nums[3]
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error. For tests and
// constants.
func MustParseVersion(s string) *Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the original author-supplied version string. It may carry
// extra precision (a fourth segment, build metadata) that the normalized
// form drops, so it is favored when rendering.
func (v *Version) String() string {
	if v.original != "" {
		return v.original
	}
	return v.Normalized()
}

// Normalized returns the canonical rendering: leading zeros trimmed, a zero
// revision segment omitted, build metadata dropped, prerelease preserved.
func (v *Version) Normalized() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Revision > 0 {
		fmt.Fprintf(&b, ".%d", v.Revision)
	}
	if v.Prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.Prerelease)
	}
	return b.String()
}

// NormalizedLower returns the lower-cased normalized form used as the
// storage and comparison key.
func (v *Version) NormalizedLower() string {
	return strings.ToLower(v.Normalized())
}

// IsPrerelease reports whether the version carries a prerelease label.
func (v *Version) IsPrerelease() bool {
	return v.Prerelease != ""
}

// Compare returns -1, 0, or 1 comparing v against o. Build metadata is
// ignored; prerelease labels compare case-insensitively per semver rules,
// with the revision segment compared numerically before the prerelease.
func (v *Version) Compare(o *Version) int {
	for _, d := range [4]int{v.Major - o.Major, v.Minor - o.Minor, v.Patch - o.Patch, v.Revision - o.Revision} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return comparePrerelease(strings.ToLower(v.Prerelease), strings.ToLower(o.Prerelease))
}

func comparePrerelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1 // release > prerelease
	case b == "":
		return -1
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareIdentifier(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

func compareIdentifier(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aerr == nil:
		return -1 // numeric identifiers sort before alphanumeric
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
