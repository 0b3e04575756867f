// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/serialport"
	"github.com/dinocore/tools/dinoflash/internal/util"
)

const Descr = "list the connected serial devices"

func Command(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"d"},
		Short:   Descr,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := env.Lister().Ports()
			if err != nil {
				return err
			}
			if len(ps) == 0 {
				fmt.Fprintln(env.Out, "No devices found")
				return nil
			}
			fmt.Fprint(env.Out, util.Column(Table(ps)))
			return nil
		},
	}
}

// Table returns the rows printed for ps. The first column is the number
// accepted in place of a port name.
func Table(ps []serialport.Port) [][]string {
	rows := [][]string{{"#", "PORT", "BRIDGE", "VID:PID", "SERIAL", "PRODUCT"}}
	for i, p := range ps {
		id := ""
		if p.USB {
			id = p.VID + ":" + p.PID
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1), p.Name, p.Bridge(), id, p.Serial, p.Product,
		})
	}
	return rows
}
