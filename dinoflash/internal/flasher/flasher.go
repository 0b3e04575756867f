// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flasher writes an image set to a device with esptool.
package flasher

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/tool"
)

// ExitError is returned when esptool exits with a non-zero code.
type ExitError struct {
	Port string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("flash %s: esptool exit status %d", e.Port, e.Code)
}

// LockedOutError is returned when the device no longer answers on its USB
// download path.
type LockedOutError struct {
	Port string
}

func (e *LockedOutError) Error() string {
	return "flash " + e.Port + ": USB reprogramming was permanently disabled by a security fuse burn"
}

type Config struct {
	Chip   string
	Baud   int
	Logger zerolog.Logger
}

type Option func(*Config)

func WithChip(chip string) Option {
	return func(c *Config) {
		c.Chip = chip
	}
}

func WithBaud(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.Baud = baud
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

type Flasher struct {
	esptool tool.Runner
	cfg     Config
}

func New(esptool tool.Runner, opts ...Option) *Flasher {
	f := &Flasher{
		esptool: esptool,
		cfg:     Config{Chip: "esp32s3", Baud: 460800, Logger: zerolog.Nop()},
	}
	for _, opt := range opts {
		opt(&f.cfg)
	}
	return f
}

// Args returns the esptool arguments that write set to the device on port.
func (f *Flasher) Args(port string, set image.Set) []string {
	args := []string{
		"--chip", f.cfg.Chip, "-p", port, "-b", strconv.Itoa(f.cfg.Baud),
		"--before=default_reset", "--after=hard_reset",
		"write_flash", "--flash_mode", "dio", "--flash_freq", "80m", "--flash_size", "16MB",
	}
	return append(args, set.FlashArgs()...)
}

// Flash writes set to the device. The tool output is forwarded to rep line
// by line together with the progress of the application image. Once started
// esptool runs to completion regardless of ctx.
func (f *Flasher) Flash(ctx context.Context, rep *events.Reporter, port string, set image.Set) error {
	if err := set.Check(); err != nil {
		return err
	}
	log := f.cfg.Logger.With().Str("port", port).Logger()
	log.Info().Str("dir", set.Dir).Int("baud", f.cfg.Baud).Msg("flashing")
	var (
		pt     Progress
		locked bool
	)
	res, err := f.esptool.Run(context.WithoutCancel(ctx), f.Args(port, set), func(line string) {
		rep.Line(line)
		if p, ok := pt.Feed(line); ok {
			rep.Progress(p)
		}
		if tool.LockedOut(line) {
			locked = true
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("esptool did not run")
		return err
	}
	if res.Code != 0 {
		if locked || tool.LockedOut(res.Output()) {
			log.Warn().Msg("device locked out")
			return &LockedOutError{port}
		}
		log.Warn().Int("code", res.Code).Msg("flash failed")
		return &ExitError{port, res.Code}
	}
	log.Info().Msg("flash done")
	return nil
}

// AppMarker is the address esptool prints while writing the application
// image.
const AppMarker = "at 0x00260000"

var percentRE = regexp.MustCompile(`([\d.]+)\s*%`)

// Progress tracks the application image write in the esptool output. Other
// images are small and their progress lines are ignored.
type Progress struct {
	active bool
}

// Feed consumes one output line and returns the percentage it carries, if
// any.
func (p *Progress) Feed(line string) (percent int, ok bool) {
	if strings.Contains(line, "Writing "+AppMarker) {
		p.active = true
	}
	if !p.active {
		return 0, false
	}
	if strings.Contains(line, "Wrote") && strings.Contains(line, AppMarker) {
		p.active = false
	}
	m := percentRE.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return min(max(int(v), 0), 100), true
}

// Active reports whether the application image is being written.
func (p *Progress) Active() bool {
	return p.active
}
