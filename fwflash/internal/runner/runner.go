// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runner executes the external flashing utilities (nvflash,
// smdk-usbdl, dut-control, fdtget, ...) and converts a non-zero exit into a
// CmdError that carries the utility's own failure text.
package runner

import (
	"os/exec"
	"strings"
)

// Commander runs a named utility with an argument list and returns its
// trimmed combined output.
type Commander interface {
	Run(name string, args []string, opts ...Option) (string, error)
}

// CmdError describes a failed utility invocation. Error() exposes the
// utility's output so callers can classify the failure by its text.
type CmdError struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *CmdError) Error() string {
	if e.Output != "" {
		return e.Name + ": " + e.Output
	}
	return e.Name + ": " + e.Err.Error()
}

func (e *CmdError) Unwrap() error { return e.Err }

type settings struct {
	sudo bool
}

type Option func(*settings)

// WithSudo runs the utility with elevated privilege. Direct hardware access
// (USB recovery uploads) usually needs it.
func WithSudo() Option {
	return func(s *settings) { s.sudo = true }
}

type Runner struct {
	// exec is replaceable in tests.
	exec func(name string, args ...string) ([]byte, error)
}

func New() *Runner {
	return &Runner{
		exec: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

func (r *Runner) Run(name string, args []string, opts ...Option) (string, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	cmdName, cmdArgs := name, args
	if s.sudo {
		cmdName = "sudo"
		cmdArgs = append([]string{name}, args...)
	}
	out, err := r.exec(cmdName, cmdArgs...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, &CmdError{Name: name, Args: args, Output: text, Err: err}
	}
	return text, nil
}
