// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package output is the operator-facing reporting sink. Progress and notice
// messages suppress immediate repeats so that retry loops polling the same
// condition do not flood the console with identical lines.
package output

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Output struct {
	log *zap.SugaredLogger

	lastProgress string
	lastNotice   string
}

// New returns an Output writing console-encoded lines to w. With verbose set
// the debug level is enabled too.
func New(w io.Writer, verbose bool) *Output {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level,
	)
	return &Output{log: zap.New(core).Sugar()}
}

// Stderr returns an Output for interactive use.
func Stderr(verbose bool) *Output {
	return New(os.Stderr, verbose)
}

// Progress reports a step of a longer operation.
func (o *Output) Progress(f string, args ...any) {
	o.emit(&o.lastProgress, f, args...)
}

// Notice reports information the operator should read, e.g. sizes, checksums
// or a recoverable failure that is being retried.
func (o *Output) Notice(f string, args ...any) {
	o.emit(&o.lastNotice, f, args...)
}

func (o *Output) Error(f string, args ...any) {
	o.log.Errorf(f, args...)
}

func (o *Output) Debug(f string, args ...any) {
	o.log.Debugf(f, args...)
}

func (o *Output) emit(last *string, f string, args ...any) {
	msg := fmt.Sprintf(f, args...)
	if msg == *last {
		return
	}
	*last = msg
	o.log.Info(msg)
}
