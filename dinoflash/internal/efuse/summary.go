// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efuse

import (
	"encoding/hex"
	"strings"
)

// UserDataLabel labels the user data block in the espefuse summary.
const UserDataLabel = "BLOCK_USR_DATA (BLOCK3)"

// asciiUpper upper-cases ASCII letters only. Offsets into the result are
// valid in s.
func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// ParseUserData extracts the user data block from the text printed by
// `espefuse summary`. The bytes are the hex pairs that follow the first '='
// after the label:
//
//	BLOCK_USR_DATA (BLOCK3)          User data
//	   = 01 09 01 00 00 ... 00 R/W
//
// It returns false if the label is absent or fewer than three bytes follow.
func ParseUserData(summary string) ([]byte, bool) {
	i := strings.Index(asciiUpper(summary), UserDataLabel)
	if i < 0 {
		return nil, false
	}
	rest := summary[i+len(UserDataLabel):]
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, false
	}
	var data []byte
	for _, f := range strings.Fields(rest[eq+1:]) {
		if len(f) != 2 || len(data) == BlockSize {
			break
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			break
		}
		data = append(data, b[0])
	}
	if len(data) < 3 {
		return nil, false
	}
	return data, true
}

// Security fuses, in the order they are burned. The USB download path is
// disabled last so that the earlier burns can still be issued over USB.
var SecurityFuses = []string{
	"DIS_FORCE_DOWNLOAD",
	"DIS_DOWNLOAD_MODE",
	"DIS_USB_OTG_DOWNLOAD_MODE",
	"DIS_USB_SERIAL_JTAG_DOWNLOAD_MODE",
}

type FuseState uint8

const (
	FuseUnknown FuseState = iota
	FuseClear
	FuseBurned
)

func (s FuseState) String() string {
	switch s {
	case FuseClear:
		return "not burned"
	case FuseBurned:
		return "burned"
	}
	return "unknown"
}

// ParseFuse finds the named single-bit fuse in the summary:
//
//	DIS_DOWNLOAD_MODE (BLOCK0)      Disable download mode = False R/W (0b0)
func ParseFuse(summary, name string) FuseState {
	lines := strings.Split(summary, "\n")
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if !strings.HasPrefix(l, name) {
			continue
		}
		if tail := l[len(name):]; tail != "" && tail[0] != ' ' && tail[0] != '(' {
			continue // longer name with the same prefix
		}
		// The description column may wrap, pushing the value to one of the
		// following indented lines.
		text := l
		for j := i + 1; j < len(lines) && !strings.Contains(text, "="); j++ {
			next := lines[j]
			if next == "" || (next[0] != ' ' && next[0] != '\t') {
				break
			}
			text += " " + next
		}
		eq := strings.IndexByte(text, '=')
		if eq < 0 {
			return FuseUnknown
		}
		fs := strings.Fields(text[eq+1:])
		if len(fs) == 0 {
			return FuseUnknown
		}
		switch strings.ToLower(fs[0]) {
		case "true", "1":
			return FuseBurned
		case "false", "0":
			return FuseClear
		}
		return FuseUnknown
	}
	return FuseUnknown
}
