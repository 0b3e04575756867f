// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hwver implements the hardware version burned into the eFuse user
// data block of every board.
package hwver

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a hardware revision. Its three components are stored in the
// first three bytes of the eFuse user data block in the major, minor, patch
// order.
type Version struct {
	Major, Minor, Patch uint8
}

type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return "hwver: bad version " + strconv.Quote(e.Input) + ": " + e.Reason
}

// Parse parses the canonical X.Y.Z form. Every component must be a decimal
// number in the 0..255 range written without sign or leading zeros.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, &ParseError{s, "want three dot separated components"}
	}
	var c [3]uint8
	for i, p := range parts {
		if p == "" {
			return Version{}, &ParseError{s, "empty component"}
		}
		if len(p) > 1 && p[0] == '0' {
			return Version{}, &ParseError{s, "leading zero in " + p}
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return Version{}, &ParseError{s, "non-decimal component " + p}
			}
		}
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Version{}, &ParseError{s, "component " + p + " out of range 0..255"}
		}
		c[i] = uint8(n)
	}
	return Version{c[0], c[1], c[2]}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func FromBytes(b [3]byte) Version {
	return Version{b[0], b[1], b[2]}
}

func (v Version) Bytes() [3]byte {
	return [3]byte{v.Major, v.Minor, v.Patch}
}

// IsZero reports whether v is 0.0.0, the state of an erased eFuse block.
func (v Version) IsZero() bool {
	return v == Version{}
}

func (v Version) String() string {
	buf := make([]byte, 0, 11)
	buf = strconv.AppendUint(buf, uint64(v.Major), 10)
	buf = append(buf, '.')
	buf = strconv.AppendUint(buf, uint64(v.Minor), 10)
	buf = append(buf, '.')
	buf = strconv.AppendUint(buf, uint64(v.Patch), 10)
	return string(buf)
}

// Compare returns -1, 0 or +1 depending on whether v is older, equal or newer
// than w.
func (v Version) Compare(w Version) int {
	return semver.Compare("v"+v.String(), "v"+w.String())
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(b []byte) (err error) {
	*v, err = Parse(string(b))
	return
}
