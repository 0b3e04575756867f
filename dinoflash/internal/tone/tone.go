// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tone signals the start, success and failure of burn and flash
// operations audibly so the operator can follow many devices without reading
// the log.
package tone

import (
	"io"
	"sync"
	"time"
)

type Tone uint8

const (
	Start Tone = iota + 1
	Success
	Error
)

func (t Tone) String() string {
	switch t {
	case Start:
		return "start"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "unknown"
}

// Freq returns the pitch and the duration of the tone.
func (t Tone) Freq() (hz int, d time.Duration) {
	switch t {
	case Start:
		return 800, 150 * time.Millisecond
	case Success:
		return 1200, 400 * time.Millisecond
	case Error:
		return 400, 800 * time.Millisecond
	}
	return 0, 0
}

type Player interface {
	Play(t Tone)
}

// Bell plays tones on a terminal by writing BEL characters: one for start,
// two for success, three for error. The pitch of a terminal bell cannot be
// controlled so the count is what tells the tones apart.
type Bell struct {
	W  io.Writer
	mu sync.Mutex
}

func (b *Bell) Play(t Tone) {
	n := int(t)
	if n == 0 || b.W == nil {
		return
	}
	_, d := t.Freq()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		io.WriteString(b.W, "\a")
		if i != n-1 {
			time.Sleep(d / time.Duration(n))
		}
	}
}

type discard struct{}

func (discard) Play(Tone) {}

// Discard is a Player that does nothing.
var Discard Player = discard{}
