// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dinocore/tools/dinoflash/internal/confirm"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/registry"
	"github.com/dinocore/tools/dinoflash/internal/tone"
)

// Fuses burns and reads the hardware version record.
type Fuses interface {
	Burn(ctx context.Context, rep *events.Reporter, port string, v hwver.Version) error
	Read(ctx context.Context, rep *events.Reporter, port string) (hwver.Version, bool)
}

// Firmware downloads the newest build supporting a hardware version.
type Firmware interface {
	Fetch(ctx context.Context, rep *events.Reporter, m registry.Mode, v hwver.Version, set image.Set) (registry.Build, error)
}

type Programmer interface {
	Flash(ctx context.Context, rep *events.Reporter, port string, set image.Set) error
}

type SerialMonitor interface {
	Attach(ctx context.Context, rep *events.Reporter, port string) error
}

// Provisioner runs sessions. It holds no per-device state and may run any
// number of sessions concurrently.
type Provisioner struct {
	Fuses      Fuses
	Firmware   Firmware
	Programmer Programmer
	Monitor    SerialMonitor
	Confirm    confirm.Confirmer
	Sink       events.Sink

	// FirmwareRoot holds the per-mode image directories.
	FirmwareRoot string

	// VerifyDelay is the time the device gets to settle after a burn.
	VerifyDelay time.Duration

	Log zerolog.Logger
}

// ImageSet returns the image directory of the mode.
func (p *Provisioner) ImageSet(m registry.Mode) image.Set {
	return image.Set{Dir: filepath.Join(p.FirmwareRoot, m.Dir())}
}

type run struct {
	*Provisioner
	s   *Session
	rep *events.Reporter
	log zerolog.Logger
}

func (r *run) enter(st State) {
	r.s.State = st
	r.rep.State(st.String())
	r.log.Debug().Stringer("state", st).Msg("state")
}

func (r *run) fail(err error) *Session {
	r.s.State = Fail
	r.s.Err = err
	r.log.Error().Err(err).Stringer("outcome", r.s.Outcome).Msg("session failed")
	r.rep.Printf("[X] %s: %v", r.s.Port, err)
	r.rep.Tone(tone.Error)
	r.rep.State(Fail.String())
	return r.s
}

func (r *run) confirm(ctx context.Context, what string) bool {
	if r.Confirm == nil {
		return true
	}
	return r.Confirm.Confirm(ctx, confirm.Action{Port: r.s.Port, What: what})
}

// Run provisions the device on port. It returns when the session failed or
// its serial monitor ended. The returned session is never nil.
func (p *Provisioner) Run(ctx context.Context, port string, m registry.Mode, target hwver.Version) *Session {
	s := &Session{ID: uuid.NewString(), Port: port, Mode: m, Target: target}
	r := &run{
		Provisioner: p,
		s:           s,
		rep:         events.NewReporter(p.Sink, port, s.ID),
		log:         p.Log.With().Str("session", s.ID).Str("port", port).Stringer("mode", m).Logger(),
	}
	r.enter(Start)
	r.log.Info().Stringer("target", target).Msg("session started")
	r.rep.Printf("-- New device on %s, %s mode --", port, m)

	var (
		v  hwver.Version
		ok bool
	)
	if m == registry.Testing {
		v, ok = r.testing(ctx)
	} else {
		v, ok = r.production(ctx)
	}
	if !ok {
		return s
	}
	s.Version = v

	r.enter(Fetch)
	set := p.ImageSet(m)
	b, err := p.Firmware.Fetch(ctx, r.rep, m, v, set)
	if err != nil {
		return r.fail(fmt.Errorf("firmware download for %s failed: %w", v, err))
	}
	s.Build = b

	r.enter(Flash)
	r.rep.Tone(tone.Start)
	r.rep.Printf("Flashing %s build %s on %s", m, b.Name, port)
	if err := p.Programmer.Flash(ctx, r.rep, port, set); err != nil {
		s.Outcome = FlashFailed
		return r.fail(err)
	}
	s.Outcome = FlashSucceeded
	r.rep.Printf("[OK] Flash successful")
	r.rep.Tone(tone.Success)

	r.enter(Monitor)
	s.Outcome = MonitorActive
	if err := p.Monitor.Attach(ctx, r.rep, port); err != nil {
		r.log.Warn().Err(err).Msg("monitor not started")
		r.rep.Printf("Serial monitor not started: %v", err)
	}
	r.log.Info().Stringer("outcome", s.Outcome).Msg("session ended")
	return s
}

// testing burns the target version and returns the version the firmware is
// selected for. If the burn fails the version already in eFuse is used.
func (r *run) testing(ctx context.Context) (hwver.Version, bool) {
	s := r.s
	if !r.confirm(ctx, fmt.Sprintf("Burning hardware version %s to eFuse", s.Target)) {
		r.fail(ErrRefused)
		return hwver.Version{}, false
	}
	r.enter(Burn)
	r.rep.Tone(tone.Start)
	if err := r.Fuses.Burn(ctx, r.rep, s.Port, s.Target); err != nil {
		r.log.Warn().Err(err).Msg("burn failed, reading existing version")
		r.rep.Printf("Burn failed, the eFuse may be burned already. Reading existing version")
		r.enter(ReadExisting)
		v, ok := r.Fuses.Read(ctx, r.rep, s.Port)
		if !ok {
			r.fail(fmt.Errorf("%w (%v)", ErrNoVersion, err))
			return v, false
		}
		s.Outcome = BurnFailedFallback
		r.rep.Printf("Using existing hardware version %s", v)
		return v, true
	}

	if r.VerifyDelay > 0 {
		select {
		case <-ctx.Done():
			r.fail(ctx.Err())
			return hwver.Version{}, false
		case <-time.After(r.VerifyDelay):
		}
	}
	r.enter(Verify)
	v, ok := r.Fuses.Read(ctx, r.rep, s.Port)
	if !ok || v != s.Target {
		r.fail(&VerifyError{Want: s.Target, Got: v, Read: ok})
		return v, false
	}
	s.Outcome = BurnedVerified
	r.rep.Printf("[OK] eFuse verified: %s", v)
	r.rep.Tone(tone.Success)
	return v, true
}

// production flashes only devices that went through the testing mode and so
// carry a hardware version.
func (r *run) production(ctx context.Context) (hwver.Version, bool) {
	s := r.s
	r.enter(ReadExisting)
	v, ok := r.Fuses.Read(ctx, r.rep, s.Port)
	if !ok {
		r.fail(ErrNoVersion)
		return v, false
	}
	r.rep.Printf("Hardware version %s", v)
	if !r.confirm(ctx, fmt.Sprintf("Flashing production firmware for %s", v)) {
		r.fail(ErrRefused)
		return v, false
	}
	return v, true
}
