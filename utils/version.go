package utils

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is an OWS version number normalised to three components.
type Version [3]int

// ParseVersion normalises strings such as "2", "1.1" or "2.0.1". Missing
// components are padded with zero, more than three components or non
// numeric components are rejected.
func ParseVersion(s string) (Version, error) {
	var v Version
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return v, InvalidParameterValue("version", "Empty version number.")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return v, InvalidParameterValue("version", fmt.Sprintf("Version number '%s' has more than three components.", s))
	}

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v, InvalidParameterValue("version", fmt.Sprintf("Version number '%s' is not a sequence of non-negative integers.", s))
		}
		v[i] = n
	}
	return v, nil
}

// MustParseVersion is used for the static handler table.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// NormaliseVersion returns the three component string form of s.
func NormaliseVersion(s string) (string, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	for i := 0; i < 3; i++ {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	return 0
}

func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

func (v Version) IsZero() bool {
	return v == Version{}
}

// SortVersions sorts in ascending order and removes duplicates.
func SortVersions(vs []Version) []Version {
	out := make([]Version, len(vs))
	copy(out, vs)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })

	uniq := out[:0]
	for i, v := range out {
		if i > 0 && v == out[i-1] {
			continue
		}
		uniq = append(uniq, v)
	}
	return uniq
}
