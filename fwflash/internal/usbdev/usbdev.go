// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usbdev polls the USB bus for a board in recovery mode.
package usbdev

import (
	"time"

	usb "github.com/google/gousb"

	"github.com/coreos/dev-util/fwflash/internal/output"
)

// Probe waits for a device matching a vendor/product pair to enumerate.
type Probe struct {
	Vendor  usb.ID
	Product usb.ID

	// Interval between poll cycles.
	Interval time.Duration

	// Enumerate reports whether a matching device is currently present.
	// Any enumeration error counts as not-yet-found; the board appearing
	// is the only signal a recovery-mode target gives us.
	Enumerate func(vendor, product usb.ID) (bool, error)
}

func New(vendor, product usb.ID) *Probe {
	return &Probe{
		Vendor:    vendor,
		Product:   product,
		Interval:  500 * time.Millisecond,
		Enumerate: enumerate,
	}
}

// Wait polls until the device appears or timeout (seconds) expires. It runs
// exactly timeout*2 cycles, one enumeration per cycle, Interval apart, and
// reports whether the board was found.
func (p *Probe) Wait(out *output.Output, name string, timeout int) bool {
	out.Progress("Waiting for board to appear on USB bus")
	for range timeout * 2 {
		found, err := p.Enumerate(p.Vendor, p.Product)
		if err == nil && found {
			out.Progress("Found %s board", name)
			return true
		}
		time.Sleep(p.Interval)
	}
	return false
}

func enumerate(vendor, product usb.ID) (bool, error) {
	ctx := usb.NewContext()
	defer ctx.Close()
	found := false
	devs, err := ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if desc.Vendor == vendor && desc.Product == product {
			found = true
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return false, err
	}
	return found, nil
}
