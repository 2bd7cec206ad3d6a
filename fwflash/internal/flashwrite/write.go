// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flashwrite drives the hardware flashing sequence over the USB
// recovery link. It assembles a flasher image and hands it to the board
// family's recovery protocol: nvflash for nvidia boards, a servo-assisted
// staged upload for exynos boards. Once the flasher is on the board the
// embedded boot command does the actual programming; progress continues on
// the serial console.
package flashwrite

import (
	"fmt"
	"time"

	"github.com/coreos/dev-util/fwflash/internal/dtb"
	"github.com/coreos/dev-util/fwflash/internal/output"
	"github.com/coreos/dev-util/fwflash/internal/runner"
	"github.com/coreos/dev-util/fwflash/internal/usbdev"
)

// Method identifies the board family's flashing protocol.
type Method string

const (
	MethodNvidia Method = "tegra"
	MethodExynos Method = "exynos"
)

// Params describes one firmware write invocation.
type Params struct {
	Flasher string // bootloader binary used as the flasher
	Payload string // firmware image to program
	BCT     string // nvidia boot timing configuration file
	BL1     string // exynos first-stage loader
	BL2     string // exynos second-stage loader

	// TextBase overrides the bootloader text base from the device tree
	// when non-zero.
	TextBase int

	Update bool // fast update transfer instead of full erase+write
	Verify bool // read back and re-check the CRC after writing
	Dest   string
	OutDir string
}

// Writer flashes firmware to a board. One Writer serves one invocation;
// there is exactly one physical USB link, so nothing here is concurrent.
type Writer struct {
	blob  dtb.Blob
	cmd   runner.Commander
	out   *output.Output
	probe *usbdev.Probe

	session *session
	sleep   func(time.Duration)
}

func New(blob dtb.Blob, cmd runner.Commander, out *output.Output) *Writer {
	return &Writer{
		blob:  blob,
		cmd:   cmd,
		out:   out,
		probe: usbdev.New(exynosVendor, exynosProduct),
		sleep: time.Sleep,
	}
}

// Write flashes the payload to the destination device. For "usb" the board
// family protocol is selected from the device tree; "sd" is handled
// entirely by the image installer and is a no-op here.
func (w *Writer) Write(p Params) error {
	switch p.Dest {
	case "usb":
		return w.writeUSB(p)
	case "sd":
		return nil
	default:
		return fmt.Errorf("unknown destination device %q", p.Dest)
	}
}

func (w *Writer) writeUSB(p Params) error {
	textBase := p.TextBase
	if textBase == 0 {
		var err error
		textBase, err = w.blob.GetInt("/chromeos-config", "textbase")
		if err != nil {
			return fmt.Errorf("bootloader text base: %w", err)
		}
	}

	method := w.blob.GetStringDefault(
		"/chromeos-config", "flash-method", string(MethodNvidia),
	)
	w.session = newSession(w.out)

	var ok bool
	var err error
	switch Method(method) {
	case MethodNvidia:
		ok, err = w.nvidiaFlashImage(p, textBase)
	case MethodExynos:
		ok, err = w.exynosFlashImage(p, textBase)
	default:
		return fmt.Errorf("unknown flash method %q", method)
	}
	if err != nil {
		w.session.fail()
		return err
	}
	if !ok {
		w.session.fail()
		return fmt.Errorf(
			"image upload to %s failed - please check board connection", p.Dest,
		)
	}
	if err := w.session.uploaded(); err != nil {
		return err
	}
	w.out.Progress("Image uploaded - please wait for flashing to complete")
	return nil
}
