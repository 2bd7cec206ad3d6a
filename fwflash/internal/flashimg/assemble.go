// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashimg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/coreos/dev-util/fwflash/internal/dtb"
	"github.com/coreos/dev-util/fwflash/internal/output"
)

// Params describes one flasher image to assemble.
type Params struct {
	Bootloader string // bootloader binary, raw or Intel HEX
	Payload    string // firmware to program, raw or Intel HEX
	OutDir     string
	Blob       dtb.Blob // board device tree, copied, never mutated
	TextBase   int      // bootloader text base address
	Update     bool     // fast update transfer instead of full erase+write
	Verify     bool     // read back and re-check the CRC after writing
	BootDev    BootDev
	Bus        string
}

// Result describes the assembled image.
type Result struct {
	Path          string
	Checksum      uint32
	PayloadOffset int
	PayloadSize   int
}

// Assemble builds the flasher image:
//
//   - the bootloader binary;
//   - a copy of the device tree with the boot command embedded;
//   - zero padding up to the aligned payload offset;
//   - the payload.
//
// The payload load address depends on the size of the serialized device
// tree, which in turn contains the boot command quoting that address, so the
// command is generated with AddrMarker and the marker is substituted after
// serialization. Both marker invariants (equal length, exactly one
// occurrence) are checked here; a violation is a build logic defect and is
// fatal.
func Assemble(out *output.Output, p Params) (*Result, error) {
	payload, err := ReadImage(p.Payload)
	if err != nil {
		return nil, err
	}
	checksum := Checksum(payload)

	script, marker := Script(
		len(payload), p.Update, p.Verify, p.BootDev, checksum, p.Bus,
	)
	blob, err := p.Blob.Copy(filepath.Join(p.OutDir, "flasher.dtb"))
	if err != nil {
		return nil, err
	}
	if err := blob.SetString("/config", "bootcmd", script); err != nil {
		return nil, err
	}
	bootloader, err := ReadImage(p.Bootloader)
	if err != nil {
		return nil, err
	}
	blobData, err := blob.Bytes()
	if err != nil {
		return nil, err
	}

	payloadOffset := RoundUp(len(bootloader)+len(blobData), PayloadAlign)
	loadAddress := fmt.Sprintf("%08x", p.TextBase+payloadOffset)
	if len(loadAddress) != len(marker) {
		return nil, fmt.Errorf(
			"internal error: load address %q does not match marker %q length",
			loadAddress, marker,
		)
	}
	if n := bytes.Count(blobData, []byte(marker)); n != 1 {
		return nil, fmt.Errorf(
			"internal error: marker %q occurs %d times in the device tree, want 1",
			marker, n,
		)
	}
	blobData = bytes.Replace(blobData, []byte(marker), []byte(loadAddress), 1)

	img := make([]byte, 0, payloadOffset+len(payload))
	img = append(img, bootloader...)
	img = append(img, blobData...)
	img = append(img, make([]byte, payloadOffset-len(img))...)
	img = append(img, payload...)

	path := filepath.Join(p.OutDir, "flasher-for-image.bin")
	if err := os.WriteFile(path, img, 0644); err != nil {
		return nil, err
	}

	reportSize(out, "Bootloader", len(bootloader))
	reportSize(out, "Payload", len(payload))
	out.Notice("Payload checksum %08x", checksum)
	reportSize(out, "Flasher", len(img))

	return &Result{
		Path:          path,
		Checksum:      checksum,
		PayloadOffset: payloadOffset,
		PayloadSize:   len(payload),
	}, nil
}

func reportSize(out *output.Output, name string, n int) {
	out.Notice("%-10s %s bytes (%s)",
		name, humanize.Comma(int64(n)), humanize.IBytes(uint64(n)))
}
