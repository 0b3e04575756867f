// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/events"
)

const Descr = "print the serial output of the device until it disconnects"

func Command(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:     "monitor <port>",
		Aliases: []string{"m"},
		Short:   Descr,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := env.Port(args[0])
			if err != nil {
				return err
			}
			return env.Report(cmd.Context(), port, func(ctx context.Context, rep *events.Reporter) error {
				return env.Monitor().Attach(ctx, rep, port)
			})
		},
	}
}
