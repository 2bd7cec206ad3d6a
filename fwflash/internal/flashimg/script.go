// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flashimg builds the flasher image: the bootloader, a device-tree
// blob carrying a generated boot command, zero padding and the firmware
// payload, concatenated into one self-describing binary. The embedded boot
// command alone is enough for the target bootloader to locate, verify and
// program the payload.
package flashimg

import (
	"fmt"
	"hash/crc32"
	"strings"
)

// BootDev selects the persistent storage the boot command writes to.
type BootDev string

const (
	BootDevNAND  BootDev = "nand"
	BootDevSDMMC BootDev = "sdmmc"
	BootDevSPI   BootDev = "spi"
)

// AddrMarker stands in for the payload load address inside the boot command.
// The address depends on the size of the serialized blob that contains the
// command, so it is patched in after serialization. Its length must equal
// the length of the rendered 8-hex-digit address so substitution never
// shifts an offset.
const AddrMarker = "zsHEXYla"

// PayloadAlign is the payload offset alignment. The NAND driver needs 4-byte
// alignment; 4 KiB covers every supported device.
const PayloadAlign = 0x1000

// RoundUp aligns value to the next multiple of the power-of-2 boundary.
func RoundUp(value, boundary int) int {
	return (value + boundary - 1) &^ (boundary - 1)
}

// Checksum is the payload integrity checksum: CRC-32 (IEEE), the same
// algorithm behind the bootloader's own crc32 verification command.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Script generates the bootloader command sequence that verifies the loaded
// payload and writes it to the boot device, with AddrMarker in place of the
// load address. The caller must substitute the marker, which occurs exactly
// once, with the final address without changing the string length.
//
// The fast update transfer is only defined for SPI flash, so update is
// forced off for the other device kinds.
func Script(payloadSize int, update, verify bool, boot BootDev, checksum uint32, bus string) (script, marker string) {
	pageSize := 4096
	if boot == BootDevSDMMC {
		pageSize = 512
	}
	if boot != BootDevSPI {
		update = false
	}
	length := RoundUp(payloadSize, pageSize)

	cmds := []string{
		fmt.Sprintf("setenv address       0x%s", AddrMarker),
		fmt.Sprintf("setenv firmware_size %#x", payloadSize),
		fmt.Sprintf("setenv length        %#x", length),
		fmt.Sprintf("setenv blocks   %#x", length/pageSize),
		fmt.Sprintf(`setenv _crc    "crc32 -v ${address} ${firmware_size} %#08x"`,
			checksum),
		`setenv _clear  "echo Clearing RAM; mw.b     ${address} 0 ${length}"`,
	}
	switch boot {
	case BootDevNAND:
		cmds = append(cmds,
			`setenv _init   "echo Init NAND;  nand info"`,
			`setenv _erase  "echo Erase NAND; nand erase            0 ${length}"`,
			`setenv _write  "echo Write NAND; nand write ${address} 0 ${length}"`,
			`setenv _read   "echo Read NAND;  nand read  ${address} 0 ${length}"`,
		)
	case BootDevSDMMC:
		cmds = append(cmds,
			`setenv _init   "echo Init EMMC;  mmc rescan            0"`,
			`setenv _erase  "echo Erase EMMC; "`,
			`setenv _write  "echo Write EMMC; mmc write 0 ${address} 0 ${blocks} boot1"`,
			`setenv _read   "echo Read EMMC;  mmc read 0 ${address} 0 ${blocks} boot1"`,
		)
	default:
		cmds = append(cmds,
			fmt.Sprintf(`setenv _init   "echo Init SPI;   sf probe            %s"`, bus),
			`setenv _erase  "echo Erase SPI;  sf erase            0 ${length}"`,
			`setenv _write  "echo Write SPI;  sf write ${address} 0 ${length}"`,
			`setenv _read   "echo Read SPI;   sf read  ${address} 0 ${length}"`,
			`setenv _update "echo Update SPI; sf update ${address} 0 ${length}"`,
		)
	}

	cmds = append(cmds,
		"echo Firmware loaded to ${address}, size ${firmware_size}, length ${length}",
		"if run _crc; then",
		"run _init",
	)
	if update {
		cmds = append(cmds, "time run _update")
	} else {
		cmds = append(cmds, "run _erase", "run _write")
	}
	if verify {
		cmds = append(cmds, "run _clear", "run _read", "run _crc")
	} else {
		cmds = append(cmds, "echo Skipping verify")
	}
	cmds = append(cmds,
		"else",
		"echo",
		`echo "** Checksum error on load: please check download tool **"`,
		"fi",
	)
	return strings.Join(cmds, "; "), AddrMarker
}
