// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry is a client of the firmware registry service.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dinocore/tools/dinoflash/internal/hwver"
)

// Mode selects the build channel.
type Mode uint8

const (
	Production Mode = iota
	Testing
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "production", "prod":
		return Production, nil
	case "testing", "test":
		return Testing, nil
	}
	return 0, fmt.Errorf("registry: unknown mode %q", s)
}

func (m Mode) String() string {
	if m == Testing {
		return "testing"
	}
	return "production"
}

// Dir returns the directory the images of the mode are downloaded to.
func (m Mode) Dir() string {
	if m == Testing {
		return "testing_firmware"
	}
	return "production_firmware"
}

func (m Mode) collection() string {
	if m == Testing {
		return "testing-builds"
	}
	return "builds"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) (err error) {
	*m, err = ParseMode(string(b))
	return
}

// ID identifies a build. The registry sends it as a string or a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("registry: build id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Less orders ids numerically if both are integers, textually otherwise.
func (id ID) Less(other ID) bool {
	a, errA := strconv.ParseInt(string(id), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return id < other
}

// Timestamp is the creation time of a build as sent by the registry: an
// RFC 3339 string, another date string, or Unix seconds.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("registry: created_at %s: %w", b, err)
	}
	*t = Timestamp(n.String())
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Time decodes t. Zone-less date strings are taken as UTC.
func (t Timestamp) Time() (time.Time, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
	}
	for _, l := range timeLayouts {
		if tm, err := time.Parse(l, s); err == nil {
			return tm, true
		}
	}
	return time.Time{}, false
}

// Compare returns -1, 0 or +1. Two decodable timestamps compare as instants,
// anything else compares as strings.
func (t Timestamp) Compare(u Timestamp) int {
	a, okA := t.Time()
	b, okB := u.Time()
	if okA && okB {
		return a.Compare(b)
	}
	return strings.Compare(string(t), string(u))
}

// Build describes one firmware build in the registry.
type Build struct {
	ID                ID        `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	CreatedAt         Timestamp `json:"created_at"`
	SupportedVersions []string  `json:"supported_versions"`
}

// Supports reports whether the build lists v exactly.
func (b *Build) Supports(v hwver.Version) bool {
	s := v.String()
	for _, sv := range b.SupportedVersions {
		if sv == s {
			return true
		}
	}
	return false
}

// SortNewest sorts builds newest first. Builds created at the same time are
// ordered by ID.
func SortNewest(bs []Build) {
	sort.SliceStable(bs, func(i, j int) bool {
		if c := bs[i].CreatedAt.Compare(bs[j].CreatedAt); c != 0 {
			return c > 0
		}
		return bs[i].ID.Less(bs[j].ID)
	})
}

// Compatible returns the builds that support v, newest first.
func Compatible(bs []Build, v hwver.Version) []Build {
	var out []Build
	for _, b := range bs {
		if b.Supports(v) {
			out = append(out, b)
		}
	}
	SortNewest(out)
	return out
}
