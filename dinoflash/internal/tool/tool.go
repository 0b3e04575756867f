// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tool runs the vendor command line tools (esptool, espefuse).
package tool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// Result describes a finished tool invocation.
type Result struct {
	Code   int    // exit code
	Stdout string // combined stdout and stderr when streaming
	Stderr string
}

// Output returns everything the tool printed.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner runs a tool with the given arguments. If line is not nil the
// combined stdout and stderr is passed to it line by line while the tool runs.
// A non-zero exit code is not an error: err is reserved for failures to start
// or wait for the process and for context expiry.
type Runner interface {
	Run(ctx context.Context, args []string, line func(string)) (Result, error)
}

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}

// Exec runs a tool as a subprocess. Argv is the command prefix, for example
// {"python3", "-m", "esptool"}.
type Exec struct {
	Argv []string
}

func (t *Exec) Name() string {
	if len(t.Argv) == 0 {
		return "tool"
	}
	name := t.Argv[len(t.Argv)-1]
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (t *Exec) Run(ctx context.Context, args []string, line func(string)) (res Result, err error) {
	defer wrapErr(t.Name(), &err)
	if len(t.Argv) == 0 {
		return res, errors.New("empty command")
	}
	path, err := exec.LookPath(t.Argv[0])
	if err != nil {
		return
	}
	cmd := exec.CommandContext(ctx, path, append(t.Argv[1:len(t.Argv):len(t.Argv)], args...)...)
	if line == nil {
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err = cmd.Run()
		res.Stdout, res.Stderr = stdout.String(), stderr.String()
	} else {
		var pipe io.ReadCloser
		pipe, err = cmd.StdoutPipe()
		if err != nil {
			return
		}
		cmd.Stderr = cmd.Stdout
		if err = cmd.Start(); err != nil {
			return
		}
		var out strings.Builder
		sc := bufio.NewScanner(pipe)
		sc.Buffer(make([]byte, 0, 4096), 1024*1024)
		sc.Split(ScanLines)
		for sc.Scan() {
			s := sc.Text()
			out.WriteString(s)
			out.WriteByte('\n')
			line(s)
		}
		// Drain whatever the scanner gave up on so the tool never blocks on
		// a full pipe.
		io.Copy(io.Discard, pipe)
		err = cmd.Wait()
		res.Stdout = out.String()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.Code = ee.ExitCode()
		err = ctx.Err()
	}
	return
}

// ScanLines is a bufio.SplitFunc that splits on '\n', '\r' and "\r\n".
// Vendor tools redraw progress lines with a bare carriage return.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				// Need more data to tell "\r" from "\r\n".
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// LockoutMarker is printed by the vendor tools when the chip does not answer
// on its USB download path. A chip with the download-disable security fuses
// burned looks like that.
const LockoutMarker = "No serial data received"

// LockedOut reports whether out contains LockoutMarker.
func LockedOut(out string) bool {
	return strings.Contains(out, LockoutMarker)
}
