// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package serialport enumerates the serial ports of the host.
package serialport

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"
)

type Port struct {
	Name    string
	USB     bool
	VID     string // upper case hex, empty for non-USB ports
	PID     string
	Serial  string
	Product string
}

// USB vendor ids of the bridges used on the boards.
const (
	VIDEspressif = "303A"
	VIDSiLabs    = "10C4"
	VIDWCH       = "1A86"
)

// Bridge names the USB-serial bridge family of the port.
func (p Port) Bridge() string {
	switch p.VID {
	case VIDEspressif:
		return "Espressif USB-Serial/JTAG"
	case VIDSiLabs:
		return "Silicon Labs CP210x"
	case VIDWCH:
		return "WCH CH340"
	}
	if p.USB {
		return "USB serial"
	}
	return ""
}

func (p Port) String() string {
	if b := p.Bridge(); b != "" {
		return p.Name + " (" + b + ")"
	}
	return p.Name
}

// Lister lists the serial ports currently present.
type Lister interface {
	Ports() ([]Port, error)
}

// System lists the ports of the host. If VIDs is not empty only USB ports
// with one of the vendor ids are listed.
type System struct {
	VIDs []string
}

func (s *System) Ports() ([]Port, error) {
	ds, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var ps []Port
	for _, d := range ds {
		p := Port{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     strings.ToUpper(d.VID),
			PID:     strings.ToUpper(d.PID),
			Serial:  d.SerialNumber,
			Product: d.Product,
		}
		if s.match(p) {
			ps = append(ps, p)
		}
	}
	slices.SortFunc(ps, func(a, b Port) int { return strings.Compare(a.Name, b.Name) })
	return ps, nil
}

func (s *System) match(p Port) bool {
	if len(s.VIDs) == 0 {
		return true
	}
	for _, v := range s.VIDs {
		if strings.EqualFold(v, p.VID) {
			return true
		}
	}
	return false
}

// Names returns the names of the listed ports.
func Names(l Lister) ([]string, error) {
	ps, err := l.Ports()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names, nil
}

// Present reports whether the port is listed. A failed enumeration counts as
// present so that a transient error does not end a session.
func Present(l Lister, name string) bool {
	names, err := Names(l)
	if err != nil {
		return true
	}
	return slices.Contains(names, name)
}

// Resolve turns a port argument into a port name. A decimal number selects
// the n-th listed port, counting from 1. Anything else is a port name.
func Resolve(l Lister, arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	names, err := Names(l)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(names) {
		return "", fmt.Errorf("device number %d not found, %d devices listed", n, len(names))
	}
	return names[n-1], nil
}

// Static is a fixed port list.
type Static []Port

func (s Static) Ports() ([]Port, error) {
	return slices.Clone([]Port(s)), nil
}
