// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashwrite

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/coreos/dev-util/fwflash/internal/output"
)

// Session phases. The machine only admits assembly strictly before any
// transfer, so a stage can never run against a stale or missing image.
const (
	phaseAssembling = "assembling"
	phaseUploading  = "uploading"
	phaseDone       = "done"
	phaseFailed     = "failed"
)

const (
	eventAssembled = "event_assembled"
	eventUploaded  = "event_uploaded"
	eventFail      = "event_fail"
)

// session tracks one flashing invocation from image assembly to the
// terminal phase. It is created per Write call and discarded afterwards.
type session struct {
	fsm *fsm.FSM
}

func newSession(out *output.Output) *session {
	return &session{fsm: fsm.NewFSM(
		phaseAssembling,
		fsm.Events{
			{Name: eventAssembled, Src: []string{phaseAssembling}, Dst: phaseUploading},
			{Name: eventUploaded, Src: []string{phaseUploading}, Dst: phaseDone},
			{Name: eventFail, Src: []string{phaseAssembling, phaseUploading}, Dst: phaseFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				out.Debug("flash session: %s -> %s", e.Src, e.Dst)
			},
		},
	)}
}

func (s *session) assembled() error {
	return s.fsm.Event(context.Background(), eventAssembled)
}

func (s *session) uploaded() error {
	return s.fsm.Event(context.Background(), eventUploaded)
}

func (s *session) fail() {
	// Valid from any non-terminal phase; a second failure is a no-op.
	_ = s.fsm.Event(context.Background(), eventFail)
}

func (s *session) phase() string { return s.fsm.Current() }
