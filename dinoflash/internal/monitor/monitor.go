// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor streams the serial console of a freshly flashed device.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/serialport"
)

// Conn is an open serial port. A read that times out returns 0, nil.
type Conn interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baud int) (Conn, error)

// OpenSerial opens a host serial port in the 8N1 mode.
func OpenSerial(name string, baud int) (Conn, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Config struct {
	Baud int

	// The port is often still busy right after the post-flash reset so
	// opening is retried every OpenRetry for up to OpenTimeout.
	OpenTimeout time.Duration
	OpenRetry   time.Duration

	// ReadTimeout is the idle period after which the port presence is
	// checked.
	ReadTimeout time.Duration

	Logger zerolog.Logger
}

type Option func(*Config)

func WithBaud(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.Baud = baud
		}
	}
}

func WithOpenTimeout(timeout, retry time.Duration) Option {
	return func(c *Config) {
		c.OpenTimeout = timeout
		if retry > 0 {
			c.OpenRetry = retry
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

type Monitor struct {
	open   Opener
	lister serialport.Lister
	cfg    Config
}

// New returns a monitor that opens ports with open and detects unplugged
// devices with lister.
func New(open Opener, lister serialport.Lister, opts ...Option) *Monitor {
	m := &Monitor{
		open:   open,
		lister: lister,
		cfg: Config{
			Baud:        115200,
			OpenTimeout: 8 * time.Second,
			OpenRetry:   300 * time.Millisecond,
			ReadTimeout: 200 * time.Millisecond,
			Logger:      zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&m.cfg)
	}
	return m
}

func (m *Monitor) openRetry(ctx context.Context, port string) (Conn, error) {
	deadline := time.Now().Add(m.cfg.OpenTimeout)
	for {
		c, err := m.open(port, m.cfg.Baud)
		if err == nil {
			return c, nil
		}
		if !time.Now().Add(m.cfg.OpenRetry).Before(deadline) {
			return nil, fmt.Errorf("monitor: open %s: %w", port, err)
		}
		m.cfg.Logger.Debug().Err(err).Str("port", port).Msg("open failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.OpenRetry):
		}
	}
}

// Attach streams the device output to rep until the device disappears or ctx
// is cancelled. Only a failure to open the port is returned as an error.
func (m *Monitor) Attach(ctx context.Context, rep *events.Reporter, port string) error {
	conn, err := m.openRetry(ctx, port)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close()
	if err := conn.SetReadTimeout(m.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("monitor: %s: %w", port, err)
	}
	log := m.cfg.Logger.With().Str("port", port).Logger()
	log.Info().Int("baud", m.cfg.Baud).Msg("monitor started")
	rep.Printf("--- Serial monitor started for %s ---", port)

	var lb lineBuffer
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			lb.flush(rep)
			log.Info().Msg("monitor stopped")
			rep.Printf("--- Serial monitor for %s stopped ---", port)
			return nil
		}
		n, err := conn.Read(buf)
		if n > 0 {
			lb.write(rep, buf[:n])
			continue
		}
		if err == nil {
			// Idle.
			lb.flush(rep)
			if serialport.Present(m.lister, port) {
				continue
			}
		} else {
			lb.flush(rep)
			log.Debug().Err(err).Msg("read failed")
		}
		log.Info().Msg("device disconnected")
		rep.Disconnect("--- Device %s disconnected. Closing monitor. ---", port)
		return nil
	}
}

// lineBuffer splits the device output into lines. Invalid UTF-8 is replaced
// with U+FFFD.
type lineBuffer struct {
	buf []byte
}

func (lb *lineBuffer) write(rep *events.Reporter, p []byte) {
	lb.buf = append(lb.buf, p...)
	for {
		i := bytes.IndexByte(lb.buf, '\n')
		if i < 0 {
			return
		}
		rep.Line(decode(lb.buf[:i]))
		lb.buf = lb.buf[i+1:]
	}
}

func (lb *lineBuffer) flush(rep *events.Reporter) {
	if len(lb.buf) != 0 {
		rep.Line(decode(lb.buf))
		lb.buf = lb.buf[:0]
	}
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
