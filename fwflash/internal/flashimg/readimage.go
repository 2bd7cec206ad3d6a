// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashimg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// ReadImage loads a firmware input file as a contiguous binary. Files with
// the .hex suffix are parsed as Intel HEX and flattened from their lowest
// address, gaps filled with 0xff (erased-flash value); everything else is
// read verbatim.
func ReadImage(path string) ([]byte, error) {
	if strings.ToLower(filepath.Ext(path)) != ".hex" {
		return os.ReadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, err
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, errors.New(path + ": no data records")
	}
	base, end := segs[0].Address, segs[0].Address
	for _, s := range segs {
		if s.Address < base {
			base = s.Address
		}
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}
	data := make([]byte, end-base)
	for i := range data {
		data[i] = 0xff
	}
	for _, s := range segs {
		copy(data[s.Address-base:], s.Data)
	}
	return data, nil
}
