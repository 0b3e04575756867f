// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package read

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/efuse"
	"github.com/dinocore/tools/dinoflash/internal/events"
)

const Descr = "read the hardware record and the security eFuses"

func Command(env *app.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "read",
		Aliases: []string{"r"},
		Short:   Descr,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "efuse <port>",
		Short: Descr,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := env.Port(args[0])
			if err != nil {
				return err
			}
			b := env.Burner()
			return env.Report(cmd.Context(), port, func(ctx context.Context, rep *events.Reporter) error {
				r, ok := b.ReadRecord(ctx, rep, port)
				if !ok {
					return errors.New("cannot read the eFuse user data")
				}
				for _, l := range Describe(r) {
					rep.Line(l)
				}
				st, ok := b.SecurityState(ctx, rep, port)
				if !ok {
					return nil
				}
				rep.Line("Security eFuses:")
				for _, name := range efuse.SecurityFuses {
					rep.Printf("  %-34s %s", name, st[name])
				}
				return nil
			})
		},
	})
	return cmd
}

// Describe returns the lines printed for r.
func Describe(r efuse.Record) []string {
	if r.Version.IsZero() {
		return []string{"Hardware version: none, the device was not tested yet"}
	}
	lines := []string{"Hardware version: " + r.Version.String()}
	if t := r.Built(); !t.IsZero() {
		lines = append(lines,
			"Built: "+t.UTC().Format(time.DateTime)+" UTC",
			fmt.Sprintf("Location: %d", r.Location),
		)
	}
	if !r.ReservedZero() {
		lines = append(lines, fmt.Sprintf("Reserved bytes are not zero: % x", r.Reserved))
	}
	return lines
}
