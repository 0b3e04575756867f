// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package merge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/image"
	"github.com/dinocore/tools/dinoflash/internal/registry"
)

const Descr = "merge the downloaded images into one file for external programmers"

func Command(env *app.Env) *cobra.Command {
	var out, inc string
	cmd := &cobra.Command{
		Use:   "merge <production|testing>",
		Short: Descr,
		Long: Descr + ".\n\n" +
			"The output is a flat binary starting at address 0 with the gaps\n" +
			"filled with 0xff, or Intel HEX if the output name ends with .hex.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := registry.ParseMode(args[0])
			if err != nil {
				return err
			}
			ss, err := env.ImageSet(m).Sections()
			if err != nil {
				return err
			}
			if inc != "" {
				isec, err := image.ReadIncludes(inc)
				if err != nil {
					return err
				}
				ss = append(ss, isec...)
			}
			if out == "" {
				out = m.String() + "-merged.bin"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err = Write(f, ss, Hex(out)); err != nil {
				f.Close()
				os.Remove(out)
				return err
			}
			if err = f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "%s: %d bytes of %s firmware\n", out, ss.Size(), m)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output `file` (default <mode>-merged.bin)")
	cmd.Flags().StringVar(&inc, "inc", "", "extra binaries to include `BIN1:ADDR1[,BIN2:ADDR2...]`")
	return cmd
}

// Hex reports whether name asks for Intel HEX output.
func Hex(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".hex")
}

// Write writes ss to w as a flat image padded with 0xff or as Intel HEX.
func Write(w io.Writer, ss image.Sections, hex bool) error {
	if hex {
		return ss.DumpHex(w)
	}
	_, err := ss.Flatten(w, 0xff)
	return err
}
