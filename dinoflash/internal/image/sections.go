// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Section is the content of one image placed at its flash address.
type Section struct {
	Kind Kind
	Addr uint32
	Data []byte
}

type Sections []*Section

// Sections reads all images of the set.
func (s Set) Sections() (Sections, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	ss := make(Sections, len(Kinds))
	for i, k := range Kinds {
		data, err := os.ReadFile(s.Path(k))
		if err != nil {
			return nil, err
		}
		ss[i] = &Section{k, k.Addr(), data}
	}
	return ss, nil
}

// ReadIncludes reads extra binaries described as BIN1:ADDR1[,BIN2:ADDR2...].
// The section kind is the base name of the file.
func ReadIncludes(descr string) (Sections, error) {
	bins := strings.Split(descr, ",")
	ss := make(Sections, len(bins))
	for k, ba := range bins {
		i := strings.LastIndexByte(ba, ':')
		if i <= 0 {
			return nil, fmt.Errorf("image: bad include '%s'", ba)
		}
		bin, addr := ba[:i], ba[i+1:]
		a, err := strconv.ParseUint(addr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("image: bad address in '%s': %w", ba, err)
		}
		data, err := os.ReadFile(bin)
		if err != nil {
			return nil, err
		}
		ss[k] = &Section{Kind(filepath.Base(bin)), uint32(a), data}
	}
	return ss, nil
}

// SortByAddr sorts sections according to the Addr field.
func (ss Sections) SortByAddr() {
	sort.Slice(
		ss,
		func(i, j int) bool {
			return ss[i].Addr < ss[j].Addr
		},
	)
}

// Size returns the size of the flattened image.
func (ss Sections) Size() int {
	var lo, hi uint64 = ^uint64(0), 0
	for _, s := range ss {
		lo = min(lo, uint64(s.Addr))
		hi = max(hi, uint64(s.Addr)+uint64(len(s.Data)))
	}
	if hi < lo {
		return 0
	}
	return int(hi - lo)
}

// Overlap returns an error naming the first pair of sections that overlap.
// The sections are sorted as a side effect.
func (ss Sections) Overlap() error {
	ss.SortByAddr()
	for i := 1; i < len(ss); i++ {
		prev, s := ss[i-1], ss[i]
		if end := uint64(prev.Addr) + uint64(len(prev.Data)); end > uint64(s.Addr) {
			return fmt.Errorf(
				"image: %s (%#x..%#x) overlaps %s at %#x",
				prev.Kind, prev.Addr, end, s.Kind, s.Addr,
			)
		}
	}
	return nil
}

// Flatten writes the sections to w in address order, filling the gaps
// between them with the pad byte. The output starts at the lowest address.
func (ss Sections) Flatten(w io.Writer, pad byte) (n int, err error) {
	if len(ss) == 0 {
		return
	}
	if err = ss.Overlap(); err != nil {
		return
	}
	pa := uint64(ss[0].Addr)
	n, err = w.Write(ss[0].Data)
	if err != nil {
		return
	}
	pa += uint64(n)
	var padCache []byte
	for _, s := range ss[1:] {
		var m int
		if gap := int(uint64(s.Addr) - pa); gap != 0 {
			m, err = w.Write(PadBytes(&padCache, gap, pad))
			n += m
			if err != nil {
				return
			}
			pa += uint64(m)
		}
		m, err = w.Write(s.Data)
		n += m
		if err != nil {
			return
		}
		pa += uint64(m)
	}
	return
}

// DumpHex writes the sections in the Intel HEX format.
func (ss Sections) DumpHex(w io.Writer) error {
	if err := ss.Overlap(); err != nil {
		return err
	}
	mem := gohex.NewMemory()
	for _, s := range ss {
		if err := mem.AddBinary(s.Addr, s.Data); err != nil {
			return fmt.Errorf("image: %s: %w", s.Kind, err)
		}
	}
	if len(mem.GetDataSegments()) == 0 {
		return errors.New("image: nothing to dump")
	}
	return mem.DumpIntelHex(w, 16)
}

// PadBytes returns the slice containing n bytes equal b.
func PadBytes(cache *[]byte, n int, b byte) []byte {
	if len(*cache) < n {
		*cache = make([]byte, n)
		for i := range *cache {
			(*cache)[i] = b
		}
	}
	return (*cache)[:n]
}
