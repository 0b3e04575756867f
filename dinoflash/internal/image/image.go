// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image describes the fixed set of firmware images written to a
// board and where each of them lives in the flash.
package image

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Kind identifies one of the four firmware artifacts. Its value is the file
// type used by the build registry.
type Kind string

const (
	Bootloader     Kind = "bootloader"
	App            Kind = "app"
	PartitionTable Kind = "partition_table"
	OTAInitial     Kind = "ota_initial"
)

// Kinds lists the artifacts in the order they are passed to the flashing
// tool.
var Kinds = [...]Kind{Bootloader, App, PartitionTable, OTAInitial}

// Flash layout of the production boards.
const (
	BootloaderAddr     = 0x0
	PartitionTableAddr = 0x10000
	OTAInitialAddr     = 0x15000
	AppAddr            = 0x260000
)

func (k Kind) FileName() string {
	switch k {
	case Bootloader:
		return "bootloader.bin"
	case App:
		return "magical-toys.bin"
	case PartitionTable:
		return "partition-table.bin"
	case OTAInitial:
		return "ota_data_initial.bin"
	}
	return ""
}

func (k Kind) Addr() uint32 {
	switch k {
	case Bootloader:
		return BootloaderAddr
	case App:
		return AppAddr
	case PartitionTable:
		return PartitionTableAddr
	case OTAInitial:
		return OTAInitialAddr
	}
	return 0
}

// MissingError reports firmware files that are absent or empty.
type MissingError struct {
	Dir   string
	Files []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("image: missing firmware files in %s: %v", e.Dir, e.Files)
}

// Set is the directory holding one copy of every artifact under its fixed
// file name. The directory is a disposable cache.
type Set struct {
	Dir string
}

func (s Set) Path(k Kind) string {
	return filepath.Join(s.Dir, k.FileName())
}

// Check returns a *MissingError if any of the images is absent or empty.
func (s Set) Check() error {
	var missing []string
	for _, k := range Kinds {
		fi, err := os.Stat(s.Path(k))
		if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
			missing = append(missing, k.FileName())
		}
	}
	if missing != nil {
		return &MissingError{s.Dir, missing}
	}
	return nil
}

// Clear removes every file in the directory and makes sure the directory
// exists.
func (s Set) Clear() error {
	ents, err := os.ReadDir(s.Dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, e.Name())); err != nil {
			return err
		}
	}
	return os.MkdirAll(s.Dir, 0o755)
}

// FlashArgs returns the ADDR FILE pairs of the write_flash command.
func (s Set) FlashArgs() []string {
	args := make([]string, 0, 2*len(Kinds))
	for _, k := range Kinds {
		args = append(args, fmt.Sprintf("%#x", k.Addr()), s.Path(k))
	}
	return args
}
