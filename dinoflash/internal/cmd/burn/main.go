// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package burn

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/confirm"
	"github.com/dinocore/tools/dinoflash/internal/efuse"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/provision"
	"github.com/dinocore/tools/dinoflash/internal/tone"
)

const Descr = "burn the hardware version or the security eFuses"

func Command(env *app.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "burn",
		Aliases: []string{"b"},
		Short:   Descr,
	}
	cmd.AddCommand(efuseCommand(env), securityCommand(env))
	return cmd
}

// prepare resolves the port, takes the instance lock and asks the operator.
func prepare(cmd *cobra.Command, env *app.Env, arg, what string) (string, error) {
	port, err := env.Port(arg)
	if err != nil {
		return "", err
	}
	if err := env.Lock(); err != nil {
		return "", err
	}
	conf, err := env.Confirmer()
	if err != nil {
		return "", err
	}
	if !conf.Confirm(cmd.Context(), confirm.Action{Port: port, What: what}) {
		return "", provision.ErrRefused
	}
	return port, nil
}

func efuseCommand(env *app.Env) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "efuse <port>",
		Short: "burn the target hardware version to the user data eFuse block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := env.Target(target)
			if err != nil {
				return err
			}
			port, err := prepare(cmd, env, args[0],
				fmt.Sprintf("Burning hardware version %s to eFuse, this cannot be undone", v))
			if err != nil {
				return err
			}
			b := env.Burner()
			return env.Report(cmd.Context(), port, func(ctx context.Context, rep *events.Reporter) error {
				rep.Tone(tone.Start)
				if err := b.Burn(ctx, rep, port, v); err != nil {
					rep.Tone(tone.Error)
					return err
				}
				if d := env.Config.VerifyDelay; d > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(d):
					}
				}
				got, ok := b.Read(ctx, rep, port)
				if !ok || got != v {
					rep.Tone(tone.Error)
					return &provision.VerifyError{Want: v, Got: got, Read: ok}
				}
				rep.Printf("[OK] eFuse verified: %s", got)
				rep.Tone(tone.Success)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "hardware version `X.Y.Z` (default from the configuration)")
	return cmd
}

func securityCommand(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "security <port>",
		Short: "disable the USB download modes for good",
		Long: "Burns " + fmt.Sprint(efuse.SecurityFuses) + ".\n" +
			"Afterwards the device can no longer be flashed over USB.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := prepare(cmd, env, args[0],
				"Burning the security eFuses, USB reprogramming will be disabled permanently")
			if err != nil {
				return err
			}
			return env.Report(cmd.Context(), port, func(ctx context.Context, rep *events.Reporter) error {
				rep.Tone(tone.Start)
				if err := env.Burner().BurnSecurity(ctx, rep, port); err != nil {
					rep.Tone(tone.Error)
					return err
				}
				rep.Printf("[OK] Security eFuses burned")
				rep.Tone(tone.Success)
				return nil
			})
		},
	}
}
