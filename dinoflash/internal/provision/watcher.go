// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package provision

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/serialport"
)

// SessionFunc services the device on port. It returns when the device is
// done with.
type SessionFunc func(ctx context.Context, port string)

// Watcher polls the port list and starts a session for every newly connected
// device. Ports present when Run starts are left alone.
//
// A device that is plugged and unplugged between two polls is missed.
type Watcher struct {
	Lister   serialport.Lister
	Interval time.Duration
	Session  SessionFunc
	Sink     events.Sink
	Log      zerolog.Logger

	mu      sync.Mutex
	known   map[string]bool
	active  map[string]bool
	pending map[string]bool // reappeared while active
}

// Run watches until ctx is cancelled and then waits for the running sessions
// to end.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	rep := events.NewReporter(w.Sink, "", "")
	w.mu.Lock()
	w.known = make(map[string]bool)
	w.active = make(map[string]bool)
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	names, err := serialport.Names(w.Lister)
	if err != nil {
		w.Log.Warn().Err(err).Msg("cannot list serial ports")
	}
	w.mu.Lock()
	for _, n := range names {
		w.known[n] = true
	}
	w.mu.Unlock()
	if len(names) > 0 {
		rep.Printf("Ignoring existing ports: %s", strings.Join(names, ", "))
	}
	rep.Printf("Waiting for devices...")
	w.Log.Info().Strs("ignored", names).Dur("interval", interval).Msg("watching")

	var g errgroup.Group
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			rep.Printf("Stopping, waiting for running sessions")
			err := g.Wait()
			w.Log.Info().Msg("watcher stopped")
			return err
		case <-t.C:
			w.poll(ctx, &g)
		}
	}
}

func (w *Watcher) poll(ctx context.Context, g *errgroup.Group) {
	names, err := serialport.Names(w.Lister)
	if err != nil {
		w.Log.Warn().Err(err).Msg("cannot list serial ports")
		return
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for n := range w.known {
		if !present[n] {
			delete(w.known, n)
			events.NewReporter(w.Sink, n, "").Disconnect("Device %s disconnected", n)
			w.Log.Info().Str("port", n).Msg("port gone")
		}
	}
	for n := range w.pending {
		if !present[n] {
			delete(w.pending, n)
		}
	}
	for _, n := range names {
		if w.known[n] {
			continue
		}
		if w.active[n] {
			// Started once the running session ends.
			if !w.pending[n] {
				w.pending[n] = true
				w.Log.Warn().Str("port", n).Msg("port reappeared while its session is running")
			}
			continue
		}
		delete(w.pending, n)
		w.known[n] = true
		w.active[n] = true
		w.Log.Info().Str("port", n).Msg("new port")
		g.Go(func() error {
			defer w.done(n)
			w.Session(ctx, n)
			return nil
		})
	}
}

func (w *Watcher) done(port string) {
	w.mu.Lock()
	delete(w.active, port)
	w.mu.Unlock()
}

// Active returns the number of running sessions.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}
