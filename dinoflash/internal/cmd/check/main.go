// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package check

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/registry"
	"github.com/dinocore/tools/dinoflash/internal/util"
)

const Descr = "download the newest firmware compatible with the target version"

func Command(env *app.Env) *cobra.Command {
	var (
		target string
		list   bool
	)
	cmd := &cobra.Command{
		Use:     "check <production|testing>",
		Aliases: []string{"c"},
		Short:   Descr,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := registry.ParseMode(args[0])
			if err != nil {
				return err
			}
			v, err := env.Target(target)
			if err != nil {
				return err
			}
			reg, err := env.Registry()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if list {
				bs, err := reg.ListCompatible(ctx, m, v)
				if err != nil {
					return err
				}
				if len(bs) == 0 {
					return &registry.NoCompatibleError{Mode: m, Version: v}
				}
				fmt.Fprint(env.Out, util.Column(Table(bs)))
				return nil
			}
			set := env.ImageSet(m)
			return env.Report(ctx, "", func(ctx context.Context, rep *events.Reporter) error {
				rep.Printf("Looking for %s firmware for hardware version %s", m, v)
				b, err := reg.Fetch(ctx, rep, m, v, set)
				if err != nil {
					return err
				}
				rep.Printf("[OK] %s build %s (id %s) saved in %s", m, b.Name, b.ID, set.Dir)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "hardware version `X.Y.Z` (default from the configuration)")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "only list the compatible builds, newest first")
	return cmd
}

// Table returns the rows printed by check --list.
func Table(bs []registry.Build) [][]string {
	rows := [][]string{{"ID", "NAME", "CREATED", "VERSIONS"}}
	for _, b := range bs {
		rows = append(rows, []string{
			string(b.ID), b.Name, string(b.CreatedAt), strings.Join(b.SupportedVersions, ","),
		})
	}
	return rows
}
