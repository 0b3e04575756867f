// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/marcinbor85/gohex"
)

func writeSet(t *testing.T, content map[Kind][]byte) Set {
	t.Helper()
	s := Set{Dir: t.TempDir()}
	for k, data := range content {
		if err := os.WriteFile(s.Path(k), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func fullSet(t *testing.T) Set {
	return writeSet(t, map[Kind][]byte{
		Bootloader:     {0xe9, 0x01, 0x02},
		App:            {0xaa, 0xbb},
		PartitionTable: {0x50, 0x51},
		OTAInitial:     {0xff, 0x00},
	})
}

func TestFlashArgs(t *testing.T) {
	s := Set{Dir: "fw"}
	want := []string{
		"0x0", filepath.Join("fw", "bootloader.bin"),
		"0x260000", filepath.Join("fw", "magical-toys.bin"),
		"0x10000", filepath.Join("fw", "partition-table.bin"),
		"0x15000", filepath.Join("fw", "ota_data_initial.bin"),
	}
	if diff := cmp.Diff(want, s.FlashArgs()); diff != "" {
		t.Errorf("FlashArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck(t *testing.T) {
	s := writeSet(t, map[Kind][]byte{
		Bootloader: {1},
		App:        {},
	})
	err := s.Check()
	var me *MissingError
	if !errors.As(err, &me) {
		t.Fatalf("Check() = %v, want *MissingError", err)
	}
	want := []string{"magical-toys.bin", "partition-table.bin", "ota_data_initial.bin"}
	if diff := cmp.Diff(want, me.Files); diff != "" {
		t.Errorf("missing files mismatch (-want +got):\n%s", diff)
	}
	if err := fullSet(t).Check(); err != nil {
		t.Errorf("Check() on full set: %v", err)
	}
}

func TestClear(t *testing.T) {
	s := fullSet(t)
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	ents, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 {
		t.Errorf("%d files left after Clear", len(ents))
	}

	fresh := Set{Dir: filepath.Join(t.TempDir(), "testing_firmware")}
	if err := fresh.Clear(); err != nil {
		t.Fatalf("Clear on missing dir: %v", err)
	}
	if fi, err := os.Stat(fresh.Dir); err != nil || !fi.IsDir() {
		t.Errorf("Clear did not create %s", fresh.Dir)
	}
}

func TestFlatten(t *testing.T) {
	ss, err := fullSet(t).Sections()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := ss.Flatten(&buf, 0xff)
	if err != nil {
		t.Fatal(err)
	}
	if n != AppAddr+2 || buf.Len() != n || ss.Size() != n {
		t.Fatalf("n = %#x, len = %#x, Size = %#x, want %#x", n, buf.Len(), ss.Size(), AppAddr+2)
	}
	img := buf.Bytes()
	checks := []struct {
		addr int
		want []byte
	}{
		{0, []byte{0xe9, 0x01, 0x02, 0xff}},
		{PartitionTableAddr - 1, []byte{0xff, 0x50, 0x51, 0xff}},
		{OTAInitialAddr, []byte{0xff, 0x00, 0xff}},
		{AppAddr - 1, []byte{0xff, 0xaa, 0xbb}},
	}
	for _, c := range checks {
		if got := img[c.addr : c.addr+len(c.want)]; !bytes.Equal(got, c.want) {
			t.Errorf("at %#x: got % x, want % x", c.addr, got, c.want)
		}
	}
}

func TestOverlap(t *testing.T) {
	ss := Sections{
		{App, 0x100, make([]byte, 0x20)},
		{Bootloader, 0x0, make([]byte, 0x101)},
	}
	if err := ss.Overlap(); err == nil {
		t.Fatal("expected overlap error")
	}
	if _, err := ss.Flatten(new(bytes.Buffer), 0xff); err == nil {
		t.Fatal("Flatten accepted overlapping sections")
	}
}

func TestDumpHex(t *testing.T) {
	ss, err := fullSet(t).Sections()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := ss.DumpHex(&buf); err != nil {
		t.Fatal(err)
	}
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(&buf); err != nil {
		t.Fatal(err)
	}
	type seg struct {
		Addr uint32
		Data []byte
	}
	var got []seg
	for _, s := range mem.GetDataSegments() {
		got = append(got, seg{s.Address, s.Data})
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Addr < got[j].Addr })
	want := []seg{
		{BootloaderAddr, []byte{0xe9, 0x01, 0x02}},
		{PartitionTableAddr, []byte{0x50, 0x51}},
		{OTAInitialAddr, []byte{0xff, 0x00}},
		{AppAddr, []byte{0xaa, 0xbb}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestReadIncludes(t *testing.T) {
	dir := t.TempDir()
	nvs := filepath.Join(dir, "nvs.bin")
	if err := os.WriteFile(nvs, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	ss, err := ReadIncludes(nvs + ":0x9000")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Sections{{"nvs.bin", 0x9000, []byte{1, 2, 3}}}, ss); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"nvs.bin", ":0x9000", nvs + ":zz", nvs + ":0x100000000", filepath.Join(dir, "none.bin") + ":0"} {
		if _, err := ReadIncludes(bad); err == nil {
			t.Errorf("ReadIncludes(%q) succeeded", bad)
		}
	}
}
