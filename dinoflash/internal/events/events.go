// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package events carries messages from device workers to the console. Workers
// never touch console state directly: they post events to a Sink and a single
// consumer renders them.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dinocore/tools/dinoflash/internal/tone"
)

type Kind uint8

const (
	Line Kind = iota
	Progress
	Tone
	State
	Disconnect
)

func (k Kind) String() string {
	switch k {
	case Line:
		return "line"
	case Progress:
		return "progress"
	case Tone:
		return "tone"
	case State:
		return "state"
	case Disconnect:
		return "disconnect"
	}
	return "unknown"
}

// Event is a single message posted by a worker. Only the fields relevant to
// Kind are set.
type Event struct {
	Time    time.Time
	Kind    Kind
	Port    string // empty for messages not bound to a device
	Session string
	Text    string    // Line, State, Disconnect
	Percent int       // Progress
	Tone    tone.Tone // Tone
}

type Sink interface {
	Post(ev Event)
}

// Queue is a bounded, goroutine safe FIFO of events. Post blocks when the
// queue is full so a slow consumer slows the producers down instead of
// losing log lines.
type Queue struct {
	c chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{c: make(chan Event, size)}
}

func (q *Queue) Post(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	q.c <- ev
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Event {
	return q.c
}

// Drain calls fn for every event until ctx is done. Events already queued
// when ctx is done are still delivered.
func (q *Queue) Drain(ctx context.Context, fn func(Event)) {
	for {
		select {
		case ev := <-q.c:
			fn(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-q.c:
					fn(ev)
				default:
					return
				}
			}
		}
	}
}

// Reporter posts events on behalf of one device. A nil *Reporter discards
// everything, which lets components run without a console.
type Reporter struct {
	sink    Sink
	port    string
	session string
}

func NewReporter(sink Sink, port, session string) *Reporter {
	return &Reporter{sink: sink, port: port, session: session}
}

func (r *Reporter) Port() string {
	if r == nil {
		return ""
	}
	return r.port
}

func (r *Reporter) post(ev Event) {
	if r == nil || r.sink == nil {
		return
	}
	ev.Port = r.port
	ev.Session = r.session
	r.sink.Post(ev)
}

func (r *Reporter) Printf(format string, args ...any) {
	r.post(Event{Kind: Line, Text: fmt.Sprintf(format, args...)})
}

// Line posts raw tool or device output. Trailing line terminators are
// stripped.
func (r *Reporter) Line(s string) {
	r.post(Event{Kind: Line, Text: strings.TrimRight(s, "\r\n")})
}

func (r *Reporter) Progress(percent int) {
	r.post(Event{Kind: Progress, Percent: min(max(percent, 0), 100)})
}

func (r *Reporter) Tone(t tone.Tone) {
	r.post(Event{Kind: Tone, Tone: t})
}

func (r *Reporter) State(name string) {
	r.post(Event{Kind: State, Text: name})
}

func (r *Reporter) Disconnect(format string, args ...any) {
	r.post(Event{Kind: Disconnect, Text: fmt.Sprintf(format, args...)})
}

// Recorder is a Sink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Post(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Tones returns the recorded tones in order.
func (r *Recorder) Tones() []tone.Tone {
	var ts []tone.Tone
	for _, ev := range r.Events() {
		if ev.Kind == Tone {
			ts = append(ts, ev.Tone)
		}
	}
	return ts
}

// Lines returns the text of the recorded Line events.
func (r *Recorder) Lines() []string {
	var ls []string
	for _, ev := range r.Events() {
		if ev.Kind == Line {
			ls = append(ls, ev.Text)
		}
	}
	return ls
}
