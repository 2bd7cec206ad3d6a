// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashwrite

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/coreos/dev-util/fwflash/internal/flashimg"
	"github.com/coreos/dev-util/fwflash/internal/runner"
)

const (
	nvflashAttempts = 10
	nvflashBackoff  = time.Second
)

// nvflash reports a board that is not in recovery mode with this text; only
// that condition is worth retrying, anything else is a real failure.
const nvflashNotFound = "USB device not found"

var nvBootDevRe = regexp.MustCompile(`DevType\[0\] = NvBootDevType_([A-Za-z]+);`)

// nvidiaFlashImage assembles the flasher image and uploads it with nvflash,
// which also programs the boot timing configuration and jumps to the
// flasher. The upload is retried while the board is absent from the bus;
// exhausting the attempts is reported as not-ok rather than an error.
func (w *Writer) nvidiaFlashImage(p Params, textBase int) (bool, error) {
	bootDev, err := w.nvidiaBootDev(p.BCT)
	if err != nil {
		return false, err
	}
	res, err := flashimg.Assemble(w.out, flashimg.Params{
		Bootloader: p.Flasher,
		Payload:    p.Payload,
		OutDir:     p.OutDir,
		Blob:       w.blob,
		TextBase:   textBase,
		Update:     p.Update,
		Verify:     p.Verify,
		BootDev:    bootDev,
		Bus:        "0",
	})
	if err != nil {
		return false, err
	}
	if err := w.session.assembled(); err != nil {
		return false, err
	}

	w.out.Progress("Uploading flasher image")
	args := []string{
		"--bct", p.BCT,
		"--setbct",
		"--bl", res.Path,
		"--go",
		"--setentry", fmt.Sprintf("%#x", textBase), fmt.Sprintf("%#x", textBase),
	}
	for range nvflashAttempts {
		_, err := w.cmd.Run("nvflash", args, runner.WithSudo())
		if err == nil {
			w.out.Notice(
				"Flasher downloaded - please see serial output for progress.")
			return true, nil
		}
		if !strings.Contains(err.Error(), nvflashNotFound) {
			return false, fmt.Errorf("nvflash failed: %w", err)
		}
		// The sink drops repeats, so the operator sees each distinct
		// failure text once.
		w.out.Notice("%s", err)
		w.out.Progress("Please connect USB A-A cable and do a recovery-reset")
		w.sleep(nvflashBackoff)
	}
	return false, nil
}

// nvidiaBootDev derives the boot device kind from the BCT file.
func (w *Writer) nvidiaBootDev(bct string) (flashimg.BootDev, error) {
	out, err := w.cmd.Run("bct_dump", []string{bct})
	if err != nil {
		return "", err
	}
	m := nvBootDevRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no boot device type found in %s", bct)
	}
	return flashimg.BootDev(strings.ToLower(m[1])), nil
}
