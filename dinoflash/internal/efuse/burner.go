// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/tool"
)

// Config holds the burner configuration.
type Config struct {
	Chip string

	// ResetTimeout bounds the reset probe run before a burn.
	ResetTimeout time.Duration

	// ReadTimeout bounds a summary read.
	ReadTimeout time.Duration

	// Stamp enables the build metadata in bytes 3-7 of the record.
	Stamp    bool
	Location uint8

	Now     func() time.Time
	TempDir string
	Logger  zerolog.Logger
}

func defaultConfig() Config {
	return Config{
		Chip:         "esp32s3",
		ResetTimeout: 10 * time.Second,
		ReadTimeout:  15 * time.Second,
		Now:          time.Now,
		Logger:       zerolog.Nop(),
	}
}

type Option func(*Config)

func WithChip(chip string) Option {
	return func(c *Config) {
		c.Chip = chip
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func WithTimeouts(reset, read time.Duration) Option {
	return func(c *Config) {
		if reset > 0 {
			c.ResetTimeout = reset
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithStamp makes the burner record the build time and location next to the
// hardware version.
func WithStamp(location uint8) Option {
	return func(c *Config) {
		c.Stamp = true
		c.Location = location
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithTempDir sets the directory for the temporary block files.
func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// BurnError is returned when espefuse did not confirm a burn. The block may
// have been burned by an earlier run, so callers usually go on to read it
// back.
type BurnError struct {
	Port      string
	What      string
	Code      int
	LockedOut bool
	Err       error
}

func (e *BurnError) Unwrap() error {
	return e.Err
}

func (e *BurnError) Error() string {
	s := "efuse: burn " + e.What + " on " + e.Port
	switch {
	case e.Err != nil:
		return s + ": " + e.Err.Error()
	case e.LockedOut:
		return s + ": device locked out"
	}
	return fmt.Sprintf("%s: espefuse exit status %d", s, e.Code)
}

// Burner burns and reads the user data block using the vendor tools.
type Burner struct {
	espefuse tool.Runner
	esptool  tool.Runner
	cfg      Config
}

// New returns a burner. The esptool runner is used for the reset probe only
// and may be nil.
func New(espefuse, esptool tool.Runner, opts ...Option) *Burner {
	b := &Burner{espefuse: espefuse, esptool: esptool, cfg: defaultConfig()}
	for _, opt := range opts {
		opt(&b.cfg)
	}
	return b
}

func (b *Burner) args(port string, cmd ...string) []string {
	return append([]string{"--chip", b.cfg.Chip, "-p", port}, cmd...)
}

// reset asks the ROM loader for the chip id and hard resets the chip
// afterwards, which leaves a flaky port in a known state. Failures are
// logged only.
func (b *Burner) reset(ctx context.Context, port string) {
	if b.esptool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ResetTimeout)
	defer cancel()
	args := []string{
		"--chip", b.cfg.Chip, "-p", port,
		"--before=default_reset", "--after=hard_reset", "chip_id",
	}
	res, err := b.esptool.Run(ctx, args, nil)
	log := b.cfg.Logger.Debug().Str("port", port)
	switch {
	case err != nil:
		log.Err(err).Msg("reset probe failed")
	case res.Code != 0:
		log.Int("code", res.Code).Msg("reset probe failed")
	default:
		log.Msg("reset probe done")
	}
}

// Burn writes the record for v to the user data block. The espefuse process
// runs to completion even if ctx is cancelled: an interrupted burn can leave
// the block half written.
func (b *Burner) Burn(ctx context.Context, rep *events.Reporter, port string, v hwver.Version) error {
	log := b.cfg.Logger.With().Str("port", port).Stringer("version", v).Logger()
	b.reset(ctx, port)

	rec := NewRecord(v, b.cfg.Stamp, b.cfg.Now(), b.cfg.Location)
	data := rec.Bytes()
	f, err := os.CreateTemp(b.cfg.TempDir, "block3-*.bin")
	if err != nil {
		return &BurnError{Port: port, What: "BLOCK3", Err: err}
	}
	name := f.Name()
	defer os.Remove(name)
	_, err = f.Write(data[:])
	if e := f.Close(); err == nil {
		err = e
	}
	if err != nil {
		return &BurnError{Port: port, What: "BLOCK3", Err: err}
	}

	rep.Printf("Burning hardware version %s to eFuse BLOCK3", v)
	log.Info().Hex("data", data[:]).Msg("burning user data block")
	args := b.args(port, "--do-not-confirm", "burn_block_data", "BLOCK3", name)
	res, err := b.espefuse.Run(context.WithoutCancel(ctx), args, rep.Line)
	if err != nil {
		log.Error().Err(err).Msg("espefuse did not run")
		return &BurnError{Port: port, What: "BLOCK3", Err: err}
	}
	if res.Code != 0 {
		locked := tool.LockedOut(res.Output())
		log.Warn().Int("code", res.Code).Bool("locked_out", locked).Msg("burn not confirmed")
		return &BurnError{Port: port, What: "BLOCK3", Code: res.Code, LockedOut: locked}
	}
	log.Info().Msg("user data block burned")
	return nil
}

// summary runs `espefuse summary`. Every failure collapses to false; the
// reason is only logged.
func (b *Burner) summary(ctx context.Context, port string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ReadTimeout)
	defer cancel()
	res, err := b.espefuse.Run(ctx, b.args(port, "summary"), nil)
	log := b.cfg.Logger.With().Str("port", port).Logger()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn().Dur("timeout", b.cfg.ReadTimeout).Msg("eFuse summary timed out")
		return "", false
	case err != nil:
		log.Warn().Err(err).Msg("eFuse summary failed")
		return "", false
	case res.Code != 0:
		log.Warn().Int("code", res.Code).Bool("locked_out", tool.LockedOut(res.Output())).
			Msg("eFuse summary failed")
		return "", false
	}
	return res.Stdout, true
}

// ReadRecord reads the whole user data block.
func (b *Burner) ReadRecord(ctx context.Context, rep *events.Reporter, port string) (Record, bool) {
	s, ok := b.summary(ctx, port)
	if !ok {
		rep.Printf("Cannot read eFuse summary")
		return Record{}, false
	}
	data, ok := ParseUserData(s)
	if !ok {
		b.cfg.Logger.Warn().Str("port", port).Msg("no user data block in eFuse summary")
		rep.Printf("eFuse summary has no readable BLOCK3")
		return Record{}, false
	}
	r, err := DecodeRecord(data)
	if err != nil {
		b.cfg.Logger.Warn().Err(err).Str("port", port).Send()
		return Record{}, false
	}
	return r, true
}

// Read returns the hardware version recorded in the user data block. A blank
// block (0.0.0) reads as no version.
func (b *Burner) Read(ctx context.Context, rep *events.Reporter, port string) (hwver.Version, bool) {
	r, ok := b.ReadRecord(ctx, rep, port)
	if !ok || r.Version.IsZero() {
		return hwver.Version{}, false
	}
	rep.Printf("eFuse hardware version: %s", r.Version)
	return r.Version, true
}

// BurnSecurity burns SecurityFuses in order and stops at the first failure.
// After it succeeds the chip no longer enters the download mode, so it
// cannot be flashed again.
func (b *Burner) BurnSecurity(ctx context.Context, rep *events.Reporter, port string) error {
	ctx = context.WithoutCancel(ctx)
	for _, name := range SecurityFuses {
		rep.Printf("Burning %s", name)
		res, err := b.espefuse.Run(ctx, b.args(port, "--do-not-confirm", "burn_efuse", name, "1"), rep.Line)
		if err != nil {
			return &BurnError{Port: port, What: name, Err: err}
		}
		if res.Code != 0 {
			locked := tool.LockedOut(res.Output())
			b.cfg.Logger.Warn().Str("port", port).Str("fuse", name).Int("code", res.Code).
				Bool("locked_out", locked).Msg("security fuse not burned")
			return &BurnError{Port: port, What: name, Code: res.Code, LockedOut: locked}
		}
		b.cfg.Logger.Info().Str("port", port).Str("fuse", name).Msg("security fuse burned")
	}
	return nil
}

// SecurityState reads SecurityFuses from the summary.
func (b *Burner) SecurityState(ctx context.Context, rep *events.Reporter, port string) (map[string]FuseState, bool) {
	s, ok := b.summary(ctx, port)
	if !ok {
		rep.Printf("Cannot read eFuse summary")
		return nil, false
	}
	m := make(map[string]FuseState, len(SecurityFuses))
	for _, name := range SecurityFuses {
		m[name] = ParseFuse(s, name)
	}
	return m, true
}
