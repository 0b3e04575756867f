// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package provision drives a connected device through the eFuse burn,
// firmware flash and serial monitor steps.
package provision

import (
	"errors"
	"fmt"

	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/registry"
)

type State uint8

const (
	Start State = iota
	Burn
	Verify
	ReadExisting
	Fetch
	Flash
	Monitor
	Fail
)

var stateNames = [...]string{
	Start:        "start",
	Burn:         "burn",
	Verify:       "verify",
	ReadExisting: "read-existing",
	Fetch:        "fetch",
	Flash:        "flash",
	Monitor:      "monitor",
	Fail:         "fail",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Outcome is the last milestone a session reached.
type Outcome uint8

const (
	NoOutcome Outcome = iota
	BurnedVerified
	BurnFailedFallback
	FlashSucceeded
	FlashFailed
	MonitorActive
)

func (o Outcome) String() string {
	switch o {
	case BurnedVerified:
		return "burned-and-verified"
	case BurnFailedFallback:
		return "burn-failed-fallback-to-existing"
	case FlashSucceeded:
		return "flash-succeeded"
	case FlashFailed:
		return "flash-failed"
	case MonitorActive:
		return "monitor-active"
	}
	return "none"
}

// Session is one provisioning pass over the device on Port.
type Session struct {
	ID      string
	Port    string
	Mode    registry.Mode
	Target  hwver.Version // requested, used by the testing mode only
	Version hwver.Version // version the firmware was selected for
	Build   registry.Build
	State   State
	Outcome Outcome
	Err     error // set in the Fail state
}

var (
	ErrRefused   = errors.New("operator did not confirm")
	ErrNoVersion = errors.New("no hardware version in eFuse, the device must be tested first")
)

// VerifyError is returned when the version read back after a burn differs
// from the burned one.
type VerifyError struct {
	Want hwver.Version
	Got  hwver.Version
	Read bool // false if nothing could be read back
}

func (e *VerifyError) Error() string {
	if !e.Read {
		return fmt.Sprintf("eFuse verification failed: burned %s, read back nothing", e.Want)
	}
	return fmt.Sprintf("eFuse verification failed: burned %s, read back %s", e.Want, e.Got)
}
