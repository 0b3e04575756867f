// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package app wires the configuration into the components used by the
// commands.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dinocore/tools/dinoflash/internal/config"
	"github.com/dinocore/tools/dinoflash/internal/confirm"
	"github.com/dinocore/tools/dinoflash/internal/efuse"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/flasher"
	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/lockfile"
	"github.com/dinocore/tools/dinoflash/internal/monitor"
	"github.com/dinocore/tools/dinoflash/internal/provision"
	"github.com/dinocore/tools/dinoflash/internal/registry"
	"github.com/dinocore/tools/dinoflash/internal/serialport"
	"github.com/dinocore/tools/dinoflash/internal/tone"
	"github.com/dinocore/tools/dinoflash/internal/tool"
)

// Env is shared by all commands. The flag fields are bound by the root
// command and Setup fills in the rest before a command runs.
type Env struct {
	ConfigPath string
	Verbose    bool
	Yes        bool
	Quiet      bool // no bell

	Config *config.Config
	Log    zerolog.Logger
	Out    io.Writer

	logFile *os.File
	lock    *lockfile.Lock
}

// Setup loads the configuration and sets up logging.
func (e *Env) Setup() error {
	if e.ConfigPath == "" {
		e.ConfigPath = config.Path()
	}
	c, err := config.Load(e.ConfigPath)
	if err != nil {
		return err
	}
	e.Config = c
	if e.Out == nil {
		e.Out = os.Stdout
	}

	level := zerolog.WarnLevel
	if e.Verbose {
		level = zerolog.DebugLevel
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if c.LogFile != "" {
		f, err := os.OpenFile(c.Resolve(c.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		e.logFile = f
		w = zerolog.MultiLevelWriter(w, f)
	}
	e.Log = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return nil
}

// Close releases what Setup and Lock acquired.
func (e *Env) Close() {
	if e.lock != nil {
		if err := e.lock.Release(); err != nil {
			e.Log.Warn().Err(err).Msg("release lock")
		}
		e.lock = nil
	}
	if e.logFile != nil {
		e.logFile.Close()
		e.logFile = nil
	}
}

// Lock makes sure no other instance drives the serial ports.
func (e *Env) Lock() error {
	l, err := lockfile.Acquire(e.Config.Resolve(e.Config.LockFile))
	if err != nil {
		return err
	}
	e.lock = l
	return nil
}

func (e *Env) Esptool() tool.Runner {
	return &tool.Exec{Argv: e.Config.Esptool}
}

func (e *Env) Espefuse() tool.Runner {
	return &tool.Exec{Argv: e.Config.Espefuse}
}

func (e *Env) Burner() *efuse.Burner {
	c := e.Config
	opts := []efuse.Option{
		efuse.WithChip(c.Chip),
		efuse.WithLogger(e.Log.With().Str("component", "efuse").Logger()),
	}
	if c.Stamp {
		opts = append(opts, efuse.WithStamp(c.Location))
	}
	return efuse.New(e.Espefuse(), e.Esptool(), opts...)
}

func (e *Env) Registry() (*registry.Client, error) {
	return registry.NewClient(e.Config.RegistryURL,
		registry.WithLogger(e.Log.With().Str("component", "registry").Logger()),
	)
}

func (e *Env) Flasher() *flasher.Flasher {
	return flasher.New(e.Esptool(),
		flasher.WithChip(e.Config.Chip),
		flasher.WithBaud(e.Config.FlashBaud),
		flasher.WithLogger(e.Log.With().Str("component", "flasher").Logger()),
	)
}

func (e *Env) Lister() serialport.Lister {
	return &serialport.System{VIDs: e.Config.USBVIDs}
}

// Mode parses the mode argument. The configured mode is used if arg is
// empty.
func (e *Env) Mode(arg string) (registry.Mode, error) {
	if arg == "" {
		return e.Config.Mode, nil
	}
	return registry.ParseMode(arg)
}

// Target parses the --target flag. The configured target is used if s is
// empty.
func (e *Env) Target(s string) (hwver.Version, error) {
	if s == "" {
		return e.Config.Target, nil
	}
	return hwver.Parse(s)
}

// Port resolves a port argument, see serialport.Resolve.
func (e *Env) Port(arg string) (string, error) {
	return serialport.Resolve(e.Lister(), arg)
}

// ImageSet returns the cached images of the mode.
func (e *Env) ImageSet(m registry.Mode) image.Set {
	return image.Set{Dir: filepath.Join(e.Config.Resolve(e.Config.FirmwareRoot), m.Dir())}
}

func (e *Env) Monitor() *monitor.Monitor {
	return monitor.New(monitor.OpenSerial, e.Lister(),
		monitor.WithBaud(e.Config.MonitorBaud),
		monitor.WithLogger(e.Log.With().Str("component", "monitor").Logger()),
	)
}

// Confirmer returns the operator confirmation used before irreversible
// actions.
func (e *Env) Confirmer() (confirm.Confirmer, error) {
	if e.Yes {
		return confirm.Always(true), nil
	}
	return confirm.NewPrompt(os.Stdin, os.Stderr)
}

// Provisioner returns a provisioner posting to sink.
func (e *Env) Provisioner(sink events.Sink, conf confirm.Confirmer) (*provision.Provisioner, error) {
	reg, err := e.Registry()
	if err != nil {
		return nil, err
	}
	return &provision.Provisioner{
		Fuses:        e.Burner(),
		Firmware:     reg,
		Programmer:   e.Flasher(),
		Monitor:      e.Monitor(),
		Confirm:      conf,
		Sink:         sink,
		FirmwareRoot: e.Config.Resolve(e.Config.FirmwareRoot),
		VerifyDelay:  e.Config.VerifyDelay,
		Log:          e.Log.With().Str("component", "provision").Logger(),
	}, nil
}

// Console returns the console renderer.
func (e *Env) Console(ports bool) *Console {
	var p tone.Player = &tone.Bell{W: os.Stderr}
	if e.Quiet {
		p = tone.Discard
	}
	return &Console{W: e.Out, Player: p, Ports: ports}
}

// Report runs fn with a reporter for port rendered on the console.
func (e *Env) Report(ctx context.Context, port string, fn func(ctx context.Context, rep *events.Reporter) error) error {
	return e.Console(false).Run(ctx, func(ctx context.Context, sink events.Sink) error {
		return fn(ctx, events.NewReporter(sink, port, ""))
	})
}
