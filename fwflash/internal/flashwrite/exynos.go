// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashwrite

import (
	"errors"
	"fmt"
	"time"

	usb "github.com/google/gousb"

	"github.com/coreos/dev-util/fwflash/internal/flashimg"
	"github.com/coreos/dev-util/fwflash/internal/runner"
)

// Exynos ROM code in USB recovery mode.
const (
	exynosVendor  usb.ID = 0x04e8
	exynosProduct usb.ID = 0x1234
)

// Seconds to wait for the board to re-enumerate between stages.
const exynosProbeTimeout = 4

type uploadStage struct {
	name string
	addr int
	file string
}

// exynosFlashImage assembles the flasher image, resets the board into
// recovery via servo and uploads the three boot stages in order, each after
// the board re-enumerates on the bus. The forced-recovery control lines are
// released no matter how the stage loop ends.
func (w *Writer) exynosFlashImage(p Params, textBase int) (bool, error) {
	res, err := flashimg.Assemble(w.out, flashimg.Params{
		Bootloader: p.Flasher,
		Payload:    p.Payload,
		OutDir:     p.OutDir,
		Blob:       w.blob,
		TextBase:   textBase,
		Update:     p.Update,
		Verify:     p.Verify,
		BootDev:    flashimg.BootDevSPI,
		Bus:        "1:0",
	})
	if err != nil {
		return false, err
	}
	if err := w.session.assembled(); err != nil {
		return false, err
	}

	w.out.Progress("Resetting board via servo")
	// A warm reset alone does not always bring a wedged board back, so
	// force a cold reset first.
	args := []string{
		"cold_reset:on", "sleep:.2", "cold_reset:off",
		"warm_reset:on", "fw_up:on", "pwr_button:press", "sleep:.1",
		"warm_reset:off",
	}
	if _, err := w.cmd.Run("dut-control", args); err != nil {
		return false, err
	}
	w.sleep(2 * time.Second)

	defer func() {
		w.cmd.Run("dut-control", []string{"fw_up:off", "pwr_button:release"})
	}()

	w.out.Progress("Uploading flasher image")
	stages := []uploadStage{
		{"bl1", 0x02021400, p.BL1},
		{"bl2", 0x02023400, p.BL2},
		{"u-boot", 0x43e00000, res.Path},
	}
	first := true
	for _, st := range stages {
		if !w.probe.Wait(w.out, "exynos", exynosProbeTimeout) {
			if first {
				return false, errors.New(
					"could not find exynos board on USB port")
			}
			return false, fmt.Errorf("stage %q did not complete", st.name)
		}
		first = false
		w.out.Notice("%s", st.file)
		w.out.Progress("Uploading stage %q", st.name)
		// The ROM code is not ready right after enumerating.
		w.sleep(time.Second)
		args := []string{"-a", fmt.Sprintf("%#x", st.addr), "-f", st.file}
		if _, err := w.cmd.Run("smdk-usbdl", args, runner.WithSudo()); err != nil {
			return false, err
		}
	}
	w.out.Notice("Flasher downloaded - please see serial output for progress.")
	return true, nil
}
