// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package target

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
)

const Descr = "show or set the hardware version burned in testing mode"

func Command(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:     "target [X.Y.Z]",
		Aliases: []string{"t"},
		Short:   Descr,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := env.Config
			if len(args) == 0 {
				fmt.Fprintf(env.Out, "Target hardware version: %s\n", c.Target)
				return nil
			}
			if err := c.SetTarget(args[0]); err != nil {
				return err
			}
			env.Log.Info().Stringer("target", c.Target).Str("config", c.File()).Msg("target saved")
			fmt.Fprintf(env.Out, "Target hardware version set to %s\n", c.Target)
			return nil
		},
	}
}
