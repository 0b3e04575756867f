// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import (
	"fmt"
	"os"
	"strings"
)

// Prog is the program name printed in front of diagnostics.
const Prog = "dinoflash"

func Warn(f string, args ...any) {
	fmt.Fprintf(os.Stderr, Prog+": "+f+"\n", args...)
}

func Fatal(f string, args ...any) {
	Warn(f, args...)
	os.Exit(1)
}

// FatalErr prints an error description and exits the program if the
// err != nil.
func FatalErr(what string, err error) {
	if err == nil {
		return
	}
	if what != "" {
		Fatal("%s: %v", what, err)
	}
	Fatal("%v", err)
}

// Column formats rows into left aligned columns separated by two spaces.
func Column(rows [][]string) string {
	var widths []int
	for _, r := range rows {
		for i, c := range r {
			if i == len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], len(c))
		}
	}
	var sb strings.Builder
	for _, r := range rows {
		for i, c := range r {
			if i == len(r)-1 {
				sb.WriteString(c)
				break
			}
			fmt.Fprintf(&sb, "%-*s  ", widths[i], c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
