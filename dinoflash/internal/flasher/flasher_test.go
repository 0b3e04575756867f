// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flasher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/tool"
)

var flashOutput = []string{
	"esptool.py v4.7.0",
	"Serial port /dev/ttyACM0",
	"Connecting...",
	"Writing at 0x00000000... (100 %)",
	"Wrote 15104 bytes (10079 compressed) at 0x00000000 in 0.3 seconds",
	"Writing at 0x00260000... (3 %)",
	"Writing at 0x0026c000... (50 %)",
	"Writing at 0x00278000...(99.5%)",
	"Wrote 1048576 bytes (600000 compressed) at 0x00260000 in 9.1 seconds",
	"Writing at 0x00010000... (100 %)",
	"Hard resetting via RTS pin...",
}

type fakeEsptool struct {
	args  []string
	lines []string
	res   tool.Result
}

func (f *fakeEsptool) Run(ctx context.Context, args []string, line func(string)) (tool.Result, error) {
	f.args = args
	for _, l := range f.lines {
		line(l)
	}
	return f.res, nil
}

func imageSet(t *testing.T) image.Set {
	t.Helper()
	s := image.Set{Dir: t.TempDir()}
	for _, k := range image.Kinds {
		if err := os.WriteFile(s.Path(k), []byte{1}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func progress(rec *events.Recorder) []int {
	var ps []int
	for _, ev := range rec.Events() {
		if ev.Kind == events.Progress {
			ps = append(ps, ev.Percent)
		}
	}
	return ps
}

func TestFlash(t *testing.T) {
	fe := &fakeEsptool{lines: flashOutput}
	set := imageSet(t)
	var rec events.Recorder
	err := New(fe).Flash(context.Background(), events.NewReporter(&rec, "/dev/ttyACM0", ""), "/dev/ttyACM0", set)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"--chip", "esp32s3", "-p", "/dev/ttyACM0", "-b", "460800",
		"--before=default_reset", "--after=hard_reset",
		"write_flash", "--flash_mode", "dio", "--flash_freq", "80m", "--flash_size", "16MB",
		"0x0", filepath.Join(set.Dir, "bootloader.bin"),
		"0x260000", filepath.Join(set.Dir, "magical-toys.bin"),
		"0x10000", filepath.Join(set.Dir, "partition-table.bin"),
		"0x15000", filepath.Join(set.Dir, "ota_data_initial.bin"),
	}
	if diff := cmp.Diff(want, fe.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 50, 99}, progress(&rec)); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(flashOutput, rec.Lines()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestFlashErrors(t *testing.T) {
	set := imageSet(t)
	fe := &fakeEsptool{res: tool.Result{Code: 2}, lines: []string{"A fatal error occurred: Failed to connect"}}
	err := New(fe, WithBaud(115200)).Flash(context.Background(), nil, "COM4", set)
	var ee *ExitError
	if !errors.As(err, &ee) || ee.Code != 2 {
		t.Errorf("Flash() = %v, want *ExitError", err)
	}
	if fe.args[5] != "115200" {
		t.Errorf("baud arg = %s", fe.args[5])
	}

	fe = &fakeEsptool{res: tool.Result{Code: 2}, lines: []string{
		"Connecting......",
		"A fatal error occurred: No serial data received.",
	}}
	err = New(fe).Flash(context.Background(), nil, "COM4", set)
	var le *LockedOutError
	if !errors.As(err, &le) || le.Port != "COM4" {
		t.Errorf("Flash() = %v, want *LockedOutError", err)
	}

	fe = &fakeEsptool{}
	err = New(fe).Flash(context.Background(), nil, "COM4", image.Set{Dir: t.TempDir()})
	var me *image.MissingError
	if !errors.As(err, &me) {
		t.Errorf("Flash() = %v, want *image.MissingError", err)
	}
	if fe.args != nil {
		t.Error("esptool ran without images")
	}
}

func TestProgress(t *testing.T) {
	var p Progress
	tests := []struct {
		line   string
		want   int
		ok     bool
		active bool
	}{
		{"Writing at 0x00010000... (50 %)", 0, false, false},
		{"Writing at 0x00260000... (0 %)", 0, true, true},
		{"Writing at 0x00270000... (42.7 %)", 42, true, true},
		{"Compressed 1048576 bytes", 0, false, true},
		{"Wrote 1048576 bytes at 0x00260000 in 9.1 seconds (100 %)", 100, true, false},
		{"Writing at 0x00015000... (100 %)", 0, false, false},
	}
	for _, tc := range tests {
		got, ok := p.Feed(tc.line)
		if got != tc.want || ok != tc.ok || p.Active() != tc.active {
			t.Errorf("Feed(%q) = %d, %v, active %v; want %d, %v, active %v",
				tc.line, got, ok, p.Active(), tc.want, tc.ok, tc.active)
		}
	}
}
