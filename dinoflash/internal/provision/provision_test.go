// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package provision

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dinocore/tools/dinoflash/internal/confirm"
	"github.com/dinocore/tools/dinoflash/internal/efuse"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/flasher"
	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/monitor"
	"github.com/dinocore/tools/dinoflash/internal/registry"
	"github.com/dinocore/tools/dinoflash/internal/tone"
)

// The real components plug into a Provisioner.
var (
	_ Fuses         = (*efuse.Burner)(nil)
	_ Firmware      = (*registry.Client)(nil)
	_ Programmer    = (*flasher.Flasher)(nil)
	_ SerialMonitor = (*monitor.Monitor)(nil)
)

// fakeFuses keeps the burned version in memory.
type fakeFuses struct {
	mu       sync.Mutex
	burned   hwver.Version
	has      bool
	burnErr  error
	readBack *hwver.Version // overrides the burned version on read
	burns    int
	reads    int
}

func (f *fakeFuses) Burn(ctx context.Context, rep *events.Reporter, port string, v hwver.Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.burns++
	if f.burnErr != nil {
		return f.burnErr
	}
	f.burned, f.has = v, true
	return nil
}

func (f *fakeFuses) Read(ctx context.Context, rep *events.Reporter, port string) (hwver.Version, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readBack != nil {
		return *f.readBack, true
	}
	return f.burned, f.has
}

type fakeFirmware struct {
	versions []hwver.Version
	err      error
}

func (f *fakeFirmware) Fetch(ctx context.Context, rep *events.Reporter, m registry.Mode, v hwver.Version, set image.Set) (registry.Build, error) {
	f.versions = append(f.versions, v)
	if f.err != nil {
		return registry.Build{}, f.err
	}
	if err := set.Clear(); err != nil {
		return registry.Build{}, err
	}
	for _, k := range image.Kinds {
		if err := os.WriteFile(set.Path(k), []byte(k), 0o644); err != nil {
			return registry.Build{}, err
		}
	}
	return registry.Build{ID: "7", Name: "B7"}, nil
}

type fakeProgrammer struct {
	flashed int
	err     error
}

func (f *fakeProgrammer) Flash(ctx context.Context, rep *events.Reporter, port string, set image.Set) error {
	f.flashed++
	if err := set.Check(); err != nil {
		return err
	}
	return f.err
}

type fakeMonitor struct {
	attached int
}

func (f *fakeMonitor) Attach(ctx context.Context, rep *events.Reporter, port string) error {
	f.attached++
	rep.Printf("I (312) app_main: magical toys ready")
	rep.Disconnect("--- Device %s disconnected. Closing monitor. ---", port)
	return nil
}

type fixture struct {
	fuses *fakeFuses
	fw    *fakeFirmware
	prog  *fakeProgrammer
	mon   *fakeMonitor
	rec   *events.Recorder
	p     *Provisioner
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		fuses: new(fakeFuses),
		fw:    new(fakeFirmware),
		prog:  new(fakeProgrammer),
		mon:   new(fakeMonitor),
		rec:   new(events.Recorder),
	}
	f.p = &Provisioner{
		Fuses:        f.fuses,
		Firmware:     f.fw,
		Programmer:   f.prog,
		Monitor:      f.mon,
		Confirm:      confirm.Always(true),
		Sink:         f.rec,
		FirmwareRoot: t.TempDir(),
	}
	return f
}

func (f *fixture) states() []string {
	var ss []string
	for _, ev := range f.rec.Events() {
		if ev.Kind == events.State {
			ss = append(ss, ev.Text)
		}
	}
	return ss
}

func containsTone(ts []tone.Tone, t tone.Tone) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

var v191 = hwver.MustParse("1.9.1")

func TestTestingHappyPath(t *testing.T) {
	f := newFixture(t)
	s := f.p.Run(context.Background(), "/dev/ttyACM0", registry.Testing, v191)
	if s.State != Monitor || s.Err != nil || s.Outcome != MonitorActive {
		t.Fatalf("session = %+v", s)
	}
	if s.Version != v191 || s.Build.Name != "B7" {
		t.Errorf("version %s build %s", s.Version, s.Build.Name)
	}
	want := []string{"start", "burn", "verify", "fetch", "flash", "monitor"}
	if diff := cmp.Diff(want, f.states()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	wantTones := []tone.Tone{tone.Start, tone.Success, tone.Start, tone.Success}
	if diff := cmp.Diff(wantTones, f.rec.Tones()); diff != "" {
		t.Errorf("tones mismatch (-want +got):\n%s", diff)
	}
	if f.prog.flashed != 1 || f.mon.attached != 1 {
		t.Errorf("flashed %d, attached %d", f.prog.flashed, f.mon.attached)
	}
	for _, ev := range f.rec.Events() {
		if ev.Port != "/dev/ttyACM0" || ev.Session != s.ID {
			t.Fatalf("event not tagged with the session: %+v", ev)
		}
	}
}

func TestTestingBurnFailsUsesExisting(t *testing.T) {
	f := newFixture(t)
	f.fuses.burnErr = errors.New("espefuse exit status 2")
	f.fuses.burned, f.fuses.has = hwver.MustParse("1.8.0"), true
	s := f.p.Run(context.Background(), "COM3", registry.Testing, v191)
	if s.State != Monitor {
		t.Fatalf("state = %v, err = %v", s.State, s.Err)
	}
	if s.Version.String() != "1.8.0" {
		t.Errorf("version = %s, want 1.8.0", s.Version)
	}
	if diff := cmp.Diff([]hwver.Version{hwver.MustParse("1.8.0")}, f.fw.versions); diff != "" {
		t.Errorf("fetched versions mismatch (-want +got):\n%s", diff)
	}
	want := []string{"start", "burn", "read-existing", "fetch", "flash", "monitor"}
	if diff := cmp.Diff(want, f.states()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	if containsTone(f.rec.Tones(), tone.Error) {
		t.Error("error tone on fallback")
	}
}

func TestTestingBurnFailsNothingToRead(t *testing.T) {
	f := newFixture(t)
	f.fuses.burnErr = errors.New("espefuse exit status 2")
	s := f.p.Run(context.Background(), "COM3", registry.Testing, v191)
	if s.State != Fail || !errors.Is(s.Err, ErrNoVersion) {
		t.Fatalf("state = %v, err = %v", s.State, s.Err)
	}
	if f.prog.flashed != 0 || len(f.fw.versions) != 0 {
		t.Error("failed session went on")
	}
}

func TestVerifyMismatch(t *testing.T) {
	f := newFixture(t)
	other := hwver.MustParse("1.9.0")
	f.fuses.readBack = &other
	s := f.p.Run(context.Background(), "COM3", registry.Testing, v191)
	var ve *VerifyError
	if s.State != Fail || !errors.As(s.Err, &ve) {
		t.Fatalf("state = %v, err = %v", s.State, s.Err)
	}
	if ve.Want != v191 || ve.Got != other || !ve.Read {
		t.Errorf("VerifyError = %+v", ve)
	}
	if f.prog.flashed != 0 {
		t.Error("flashed after a verification failure")
	}
	if ts := f.rec.Tones(); ts[len(ts)-1] != tone.Error {
		t.Errorf("tones = %v, want a final error tone", ts)
	}
}

func TestProductionWithoutRecord(t *testing.T) {
	f := newFixture(t)
	s := f.p.Run(context.Background(), "COM3", registry.Production, v191)
	if s.State != Fail || !errors.Is(s.Err, ErrNoVersion) {
		t.Fatalf("state = %v, err = %v", s.State, s.Err)
	}
	if f.prog.flashed != 0 || f.fuses.burns != 0 || len(f.fw.versions) != 0 {
		t.Errorf("flashed %d, burns %d, fetches %d", f.prog.flashed, f.fuses.burns, len(f.fw.versions))
	}
	if !strings.Contains(strings.Join(f.rec.Lines(), "\n"), "must be tested first") {
		t.Error("missing operator message")
	}
}

func TestProductionFlashesExisting(t *testing.T) {
	f := newFixture(t)
	f.fuses.burned, f.fuses.has = hwver.MustParse("1.8.0"), true
	s := f.p.Run(context.Background(), "COM3", registry.Production, v191)
	if s.State != Monitor || s.Version.String() != "1.8.0" {
		t.Fatalf("session = %+v", s)
	}
	if f.fuses.burns != 0 {
		t.Error("production mode burned the eFuse")
	}
	if _, err := os.Stat(f.p.ImageSet(registry.Production).Path(image.App)); err != nil {
		t.Errorf("images not in the production directory: %v", err)
	}
}

func TestFlashLockedOut(t *testing.T) {
	f := newFixture(t)
	f.prog.err = &flasher.LockedOutError{Port: "COM3"}
	s := f.p.Run(context.Background(), "COM3", registry.Testing, v191)
	var le *flasher.LockedOutError
	if s.State != Fail || !errors.As(s.Err, &le) || s.Outcome != FlashFailed {
		t.Fatalf("session = %+v", s)
	}
	if !strings.Contains(strings.Join(f.rec.Lines(), "\n"), "permanently disabled") {
		t.Errorf("lines = %q, want the lockout message", f.rec.Lines())
	}
	if f.mon.attached != 0 {
		t.Error("monitor attached after a failed flash")
	}
}

func TestFetchFails(t *testing.T) {
	f := newFixture(t)
	f.fw.err = &registry.NoCompatibleError{Mode: registry.Testing, Version: v191}
	s := f.p.Run(context.Background(), "COM3", registry.Testing, v191)
	var nc *registry.NoCompatibleError
	if s.State != Fail || !errors.As(s.Err, &nc) || f.prog.flashed != 0 {
		t.Fatalf("session = %+v", s)
	}
}

func TestRefused(t *testing.T) {
	for _, m := range []registry.Mode{registry.Testing, registry.Production} {
		f := newFixture(t)
		f.fuses.burned, f.fuses.has = v191, true
		var asked []confirm.Action
		f.p.Confirm = confirm.Func(func(_ context.Context, a confirm.Action) bool {
			asked = append(asked, a)
			return false
		})
		s := f.p.Run(context.Background(), "COM3", m, v191)
		if s.State != Fail || !errors.Is(s.Err, ErrRefused) {
			t.Errorf("%s: state = %v, err = %v", m, s.State, s.Err)
		}
		if len(asked) != 1 || asked[0].Port != "COM3" {
			t.Errorf("%s: asked %v", m, asked)
		}
		if f.fuses.burns != 0 || f.prog.flashed != 0 || len(f.fw.versions) != 0 {
			t.Errorf("%s: side effects after refusal", m)
		}
	}
}
