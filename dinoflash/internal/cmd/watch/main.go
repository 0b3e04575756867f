// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package watch

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/confirm"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/provision"
	"github.com/dinocore/tools/dinoflash/internal/registry"
)

const Descr = "provision every device plugged in until interrupted"

func Command(env *app.Env) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:     "watch [production|testing]",
		Aliases: []string{"w"},
		Short:   Descr,
		Long: Descr + ".\n\n" +
			"Testing mode burns the target hardware version to every new device,\n" +
			"verifies it and flashes the testing firmware. Production mode flashes\n" +
			"the production firmware matching the version found in the eFuse.\n" +
			"Devices connected before the watch starts are left alone.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			m, err := env.Mode(arg)
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

			// One confirmation covers every device of the run.
			conf, err := env.Confirmer()
			if err != nil {
				return err
			}
			what := fmt.Sprintf("Flashing %s firmware to every new device", m)
			if m == registry.Testing {
				what = fmt.Sprintf("Burning hardware version %s to every new device", v)
			}
			if !conf.Confirm(ctx, confirm.Action{What: what}) {
				return provision.ErrRefused
			}

			return env.Console(true).Run(ctx, func(ctx context.Context, sink events.Sink) error {
				p, err := env.Provisioner(sink, confirm.Always(true))
				if err != nil {
					return err
				}
				rep := events.NewReporter(sink, "", "")
				rep.Printf("Watching for devices, %s mode, target %s. Press Ctrl+C to stop.", m, v)
				w := &provision.Watcher{
					Lister:   env.Lister(),
					Interval: env.Config.PollInterval,
					Session: func(ctx context.Context, port string) {
						p.Run(ctx, port, m, v)
					},
					Sink: sink,
					Log:  env.Log.With().Str("component", "watcher").Logger(),
				}
				err = w.Run(ctx)
				rep.Printf("Stopped")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "hardware version `X.Y.Z` burned in testing mode (default from the configuration)")
	return cmd
}
