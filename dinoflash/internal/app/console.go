// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/tone"
)

// Console renders events. It is the only writer of the terminal while a
// command runs so it needs no locking.
type Console struct {
	W      io.Writer
	Player tone.Player

	// Ports prefixes every line with its port, which is needed as soon as
	// more than one device can talk at a time.
	Ports bool

	bars map[string]*progressbar.ProgressBar
}

func (c *Console) bar(port string) *progressbar.ProgressBar {
	if c.bars == nil {
		c.bars = make(map[string]*progressbar.ProgressBar)
	}
	b := c.bars[port]
	if b == nil {
		desc := "Flashing"
		if port != "" {
			desc = port
		}
		b = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(c.W),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)
		c.bars[port] = b
	}
	return b
}

func (c *Console) Render(ev events.Event) {
	switch ev.Kind {
	case events.Line, events.Disconnect:
		if b := c.bars[ev.Port]; b != nil {
			b.Clear()
		}
		if c.Ports && ev.Port != "" {
			fmt.Fprintf(c.W, "[%s] %s\n", ev.Port, ev.Text)
		} else {
			fmt.Fprintln(c.W, ev.Text)
		}
	case events.Progress:
		b := c.bar(ev.Port)
		b.Set(ev.Percent)
		if ev.Percent >= 100 {
			b.Finish()
			delete(c.bars, ev.Port)
		}
	case events.Tone:
		if c.Player != nil {
			c.Player.Play(ev.Tone)
		}
	case events.State:
		// The lines already tell the story.
	}
}

// Run calls fn with a sink rendered on the console and returns after fn
// returned and every posted event was rendered.
func (c *Console) Run(ctx context.Context, fn func(ctx context.Context, sink events.Sink) error) error {
	q := events.NewQueue(256)
	dctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Drain(dctx, c.Render)
		close(done)
	}()
	err := fn(ctx, q)
	stop()
	<-done
	for _, b := range c.bars {
		b.Finish()
	}
	return err
}
