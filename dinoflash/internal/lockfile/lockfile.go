// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lockfile keeps two copies of the tool from driving the same ports.
package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// RunningError is returned if another live instance holds the lock.
type RunningError struct {
	Path string
	PID  int32
}

func (e *RunningError) Error() string {
	return fmt.Sprintf("another instance is running (pid %d, lock %s)", e.PID, e.Path)
}

type Lock struct {
	path string
	pid  int32
}

// Acquire creates the lock file containing the process id. A lock left by a
// process that is gone, or by an unrelated process that reused the id, is
// replaced.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return acquire(path, int32(os.Getpid()))
}

const (
	attempts = 10
	backoff  = 20 * time.Millisecond
)

func acquire(path string, self int32) (*Lock, error) {
	content := []byte(strconv.Itoa(int(self)) + "\n")
	for range attempts {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, err = f.Write(content)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(path)
				return nil, err
			}
			return &Lock{path, self}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		owner := strings.TrimSpace(string(data))
		if owner == "" {
			// The owner has not written its id yet.
			time.Sleep(backoff)
			continue
		}
		pid, perr := strconv.ParseInt(owner, 10, 32)
		if perr == nil && int32(pid) == self {
			return &Lock{path, self}, nil
		}
		if perr == nil && alive(int32(pid)) {
			return nil, &RunningError{path, int32(pid)}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("lockfile: cannot take %s", path)
}

// Release removes the lock file if it still belongs to this process.
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(int(l.pid)) {
		return nil
	}
	return os.Remove(l.path)
}

var alive = sameProgram

// sameProgram reports whether pid is a live process running the same
// executable as this one.
func sameProgram(pid int32) bool {
	if ok, err := process.PidExists(pid); err != nil || !ok {
		return false
	}
	other, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	name, err := other.Name()
	if err != nil {
		return false
	}
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return true
	}
	own, err := self.Name()
	if err != nil {
		return true
	}
	// Linux truncates the process name to 15 bytes.
	if len(name) == 15 || len(own) == 15 {
		return strings.HasPrefix(own, name) || strings.HasPrefix(name, own)
	}
	return name == own
}
