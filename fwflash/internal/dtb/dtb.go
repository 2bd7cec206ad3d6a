// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dtb accesses properties of a flattened device-tree blob. The board
// description (text base, flash method) is read from it and the generated
// boot command is written back before the blob is embedded in the flasher
// image. Property access goes through the fdtget/fdtput utilities.
package dtb

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coreos/dev-util/fwflash/internal/runner"
)

// Blob is the device-tree accessor consumed by the image assembler.
type Blob interface {
	GetInt(node, prop string) (int, error)
	GetString(node, prop string) (string, error)
	// GetStringDefault returns def when the property is missing.
	GetStringDefault(node, prop, def string) string
	SetString(node, prop, value string) error
	// Copy duplicates the serialized blob at path and returns an accessor
	// for the copy, leaving the original untouched.
	Copy(path string) (Blob, error)
	Bytes() ([]byte, error)
	Path() string
}

// File is a Blob backed by a .dtb file on disk.
type File struct {
	path string
	cmd  runner.Commander
}

func Open(path string, cmd runner.Commander) *File {
	return &File{path: path, cmd: cmd}
}

func (f *File) GetInt(node, prop string) (int, error) {
	out, err := f.cmd.Run("fdtget", []string{f.path, node, prop})
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(out), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("property %s/%s: %w", node, prop, err)
	}
	return int(v), nil
}

func (f *File) GetString(node, prop string) (string, error) {
	out, err := f.cmd.Run("fdtget", []string{"-t", "s", f.path, node, prop})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (f *File) GetStringDefault(node, prop, def string) string {
	s, err := f.GetString(node, prop)
	if err != nil {
		return def
	}
	return s
}

func (f *File) SetString(node, prop, value string) error {
	_, err := f.cmd.Run("fdtput", []string{"-t", "s", f.path, node, prop, value})
	return err
}

func (f *File) Copy(path string) (Blob, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}
	return Open(path, f.cmd), nil
}

func (f *File) Bytes() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f *File) Path() string { return f.path }
