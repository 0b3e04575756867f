// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/confirm"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/provision"
	"github.com/dinocore/tools/dinoflash/internal/registry"
	"github.com/dinocore/tools/dinoflash/internal/tone"
)

const Descr = "download and flash the firmware, then monitor the device"

func Command(env *app.Env) *cobra.Command {
	var (
		target    string
		noMonitor bool
	)
	cmd := &cobra.Command{
		Use:     "flash <production|testing> <port>",
		Aliases: []string{"f"},
		Short:   Descr,
		Long: Descr + ".\n\n" +
			"Production firmware is selected by the hardware version read from\n" +
			"the eFuse, testing firmware by the target version.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := registry.ParseMode(args[0])
			if err != nil {
				return err
			}
			port, err := env.Port(args[1])
			if err != nil {
				return err
			}
			v, err := env.Target(target)
			if err != nil {
				return err
			}
			if err := env.Lock(); err != nil {
				return err
			}
			ctx := cmd.Context()

			if m == registry.Production {
				err := env.Report(ctx, port, func(ctx context.Context, rep *events.Reporter) error {
					var rerr error
					v, rerr = ReadVersion(ctx, rep, env.Burner(), port)
					return rerr
				})
				if err != nil {
					return err
				}
				conf, err := env.Confirmer()
				if err != nil {
					return err
				}
				a := confirm.Action{
					Port: port,
					What: fmt.Sprintf("Flashing production firmware for %s, overwriting the device firmware", v),
				}
				if !conf.Confirm(ctx, a) {
					return provision.ErrRefused
				}
			}
			return env.Report(ctx, port, func(ctx context.Context, rep *events.Reporter) error {
				return run(ctx, env, rep, m, port, v, !noMonitor)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "hardware version `X.Y.Z` for testing firmware (default from the configuration)")
	cmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "exit after flashing")
	return cmd
}

func run(ctx context.Context, env *app.Env, rep *events.Reporter, m registry.Mode, port string, v hwver.Version, monitor bool) error {
	reg, err := env.Registry()
	if err != nil {
		rep.Tone(tone.Error)
		return err
	}
	var mon provision.SerialMonitor
	if monitor {
		mon = env.Monitor()
	}
	return Run(ctx, rep, reg, env.Flasher(), mon, env.ImageSet(m), m, port, v)
}

// ReadVersion returns the hardware version burned into the device.
func ReadVersion(ctx context.Context, rep *events.Reporter, fuses provision.Fuses, port string) (hwver.Version, error) {
	v, ok := fuses.Read(ctx, rep, port)
	if !ok {
		rep.Tone(tone.Error)
		return v, provision.ErrNoVersion
	}
	rep.Printf("Hardware version %s", v)
	return v, nil
}

// Run fetches the build for v into set, flashes it and, if mon is not nil,
// monitors the device. Every failure plays the error tone.
func Run(ctx context.Context, rep *events.Reporter, fw provision.Firmware, prog provision.Programmer, mon provision.SerialMonitor, set image.Set, m registry.Mode, port string, v hwver.Version) error {
	b, err := fw.Fetch(ctx, rep, m, v, set)
	if err != nil {
		rep.Tone(tone.Error)
		return fmt.Errorf("firmware download for %s failed: %w", v, err)
	}
	rep.Tone(tone.Start)
	rep.Printf("Flashing %s build %s on %s", m, b.Name, port)
	if err := prog.Flash(ctx, rep, port, set); err != nil {
		rep.Tone(tone.Error)
		return err
	}
	rep.Printf("[OK] Flash successful")
	rep.Tone(tone.Success)
	if mon == nil {
		return nil
	}
	return mon.Attach(ctx, rep, port)
}
