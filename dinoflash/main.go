// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dinocore/tools/dinoflash/internal/app"
	"github.com/dinocore/tools/dinoflash/internal/cmd/burn"
	"github.com/dinocore/tools/dinoflash/internal/cmd/check"
	"github.com/dinocore/tools/dinoflash/internal/cmd/devices"
	"github.com/dinocore/tools/dinoflash/internal/cmd/flash"
	"github.com/dinocore/tools/dinoflash/internal/cmd/merge"
	"github.com/dinocore/tools/dinoflash/internal/cmd/monitor"
	"github.com/dinocore/tools/dinoflash/internal/cmd/read"
	"github.com/dinocore/tools/dinoflash/internal/cmd/target"
	"github.com/dinocore/tools/dinoflash/internal/cmd/watch"
	"github.com/dinocore/tools/dinoflash/internal/config"
	"github.com/dinocore/tools/dinoflash/internal/util"
)

type tool struct {
	descr string
	cmd   func(env *app.Env) *cobra.Command
}

var tools = map[string]tool{
	"burn":    {burn.Descr, burn.Command},
	"check":   {check.Descr, check.Command},
	"devices": {devices.Descr, devices.Command},
	"flash":   {flash.Descr, flash.Command},
	"merge":   {merge.Descr, merge.Command},
	"monitor": {monitor.Descr, monitor.Command},
	"read":    {read.Descr, read.Command},
	"target":  {target.Descr, target.Command},
	"watch":   {watch.Descr, watch.Command},
}

func printToolList() {
	names := slices.Sorted(maps.Keys(tools))
	maxLen := 0
	for _, k := range names {
		if maxLen < len(k) {
			maxLen = len(k)
		}
	}
	uw := os.Stderr
	uw.WriteString("Usage:\n  " + util.Prog + " [FLAGS] COMMAND [ARGUMENTS]\n\n")
	uw.WriteString("Available commands:\n")
	for _, name := range names {
		fmt.Fprintf(uw, "  %*s  %s\n", maxLen, name, tools[name].descr)
	}
	uw.WriteString("\nRun '" + util.Prog + " COMMAND -h' for the command flags.\n")
}

func main() {
	env := new(app.Env)
	root := &cobra.Command{
		Use:           util.Prog,
		Short:         "Provision ESP32-S3 boards: burn eFuse, flash firmware, monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.Setup()
		},
		Run: func(cmd *cobra.Command, args []string) {
			printToolList()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&env.ConfigPath, "config", "", "configuration `file` (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	pf.BoolVarP(&env.Verbose, "verbose", "v", false, "print debug logs")
	pf.BoolVarP(&env.Yes, "yes", "y", false, "do not ask before irreversible actions")
	pf.BoolVarP(&env.Quiet, "quiet", "q", false, "no sound")
	for _, name := range slices.Sorted(maps.Keys(tools)) {
		root.AddCommand(tools[name].cmd(env))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	env.Close()
	util.FatalErr("", err)
}
