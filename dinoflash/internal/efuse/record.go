// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efuse

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dinocore/tools/dinoflash/internal/hwver"
)

// BlockSize is the size of the eFuse user data block (BLOCK3).
const BlockSize = 32

// Record is the content of the user data block.
//
//	bytes 0-2   hardware version: major, minor, patch
//	bytes 3-6   build time, Unix seconds, little-endian
//	byte  7     build location
//	bytes 8-31  reserved, zero
type Record struct {
	Version   hwver.Version
	Timestamp uint32
	Location  uint8
	Reserved  [BlockSize - 8]byte
}

// NewRecord returns the record burned for v. The build metadata is left zero
// unless stamp is true.
func NewRecord(v hwver.Version, stamp bool, now time.Time, location uint8) Record {
	r := Record{Version: v}
	if stamp {
		r.Timestamp = uint32(now.Unix())
		r.Location = location
	}
	return r
}

func (r Record) Bytes() [BlockSize]byte {
	var b [BlockSize]byte
	v := r.Version.Bytes()
	copy(b[0:3], v[:])
	binary.LittleEndian.PutUint32(b[3:7], r.Timestamp)
	b[7] = r.Location
	copy(b[8:], r.Reserved[:])
	return b
}

// DecodeRecord decodes up to BlockSize bytes. Missing trailing bytes read as
// zero.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) > BlockSize {
		return Record{}, fmt.Errorf("efuse: record is %d bytes, want at most %d", len(data), BlockSize)
	}
	var b [BlockSize]byte
	copy(b[:], data)
	r := Record{
		Version:   hwver.FromBytes([3]byte(b[0:3])),
		Timestamp: binary.LittleEndian.Uint32(b[3:7]),
		Location:  b[7],
	}
	copy(r.Reserved[:], b[8:])
	return r, nil
}

// Built returns the build time or the zero time if none was recorded.
func (r Record) Built() time.Time {
	if r.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(r.Timestamp), 0)
}

// ReservedZero reports whether the reserved bytes read back as zero.
func (r Record) ReservedZero() bool {
	return r.Reserved == [BlockSize - 8]byte{}
}
