// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashwrite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	usb "github.com/google/gousb"

	"github.com/coreos/dev-util/fwflash/internal/dtb"
	"github.com/coreos/dev-util/fwflash/internal/output"
	"github.com/coreos/dev-util/fwflash/internal/runner"
)

// testBlob is an in-memory device tree standing in for the fdtget/fdtput
// backed accessor.
type testBlob struct {
	ints map[string]int
	strs map[string]string
	path string
}

func newTestBlob(method string) *testBlob {
	return &testBlob{
		ints: map[string]int{"/chromeos-config:textbase": 0x108000},
		strs: map[string]string{"/chromeos-config:flash-method": method},
	}
}

func (b *testBlob) GetInt(node, prop string) (int, error) {
	v, ok := b.ints[node+":"+prop]
	if !ok {
		return 0, fmt.Errorf("no int property %s%s", node, prop)
	}
	return v, nil
}

func (b *testBlob) GetString(node, prop string) (string, error) {
	s, ok := b.strs[node+":"+prop]
	if !ok {
		return "", fmt.Errorf("no property %s%s", node, prop)
	}
	return s, nil
}

func (b *testBlob) GetStringDefault(node, prop, def string) string {
	if s, err := b.GetString(node, prop); err == nil {
		return s
	}
	return def
}

func (b *testBlob) SetString(node, prop, value string) error {
	b.strs[node+":"+prop] = value
	return nil
}

func (b *testBlob) Copy(path string) (dtb.Blob, error) {
	cp := newTestBlob("")
	for k, v := range b.ints {
		cp.ints[k] = v
	}
	for k, v := range b.strs {
		cp.strs[k] = v
	}
	cp.path = path
	return cp, nil
}

func (b *testBlob) Bytes() ([]byte, error) {
	keys := make([]string, 0, len(b.strs))
	for k := range b.strs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteString("d00dfeed{")
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%q;", k, b.strs[k])
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

func (b *testBlob) Path() string { return b.path }

type call struct {
	Name string
	Args []string
}

// fakeCmd scripts the external utilities and records every invocation.
type fakeCmd struct {
	calls  []call
	handle func(name string, args []string) (string, error)
}

func (c *fakeCmd) Run(name string, args []string, opts ...runner.Option) (string, error) {
	c.calls = append(c.calls, call{name, args})
	return c.handle(name, args)
}

func (c *fakeCmd) count(name string) int {
	n := 0
	for _, call := range c.calls {
		if call.Name == name {
			n++
		}
	}
	return n
}

func cmdErr(name, text string) error {
	return &runner.CmdError{
		Name:   name,
		Output: text,
		Err:    errors.New("exit status 1"),
	}
}

func testParams(t *testing.T) Params {
	t.Helper()
	dir := t.TempDir()
	p := Params{
		Flasher: filepath.Join(dir, "u-boot.bin"),
		Payload: filepath.Join(dir, "image.bin"),
		BCT:     filepath.Join(dir, "board.bct"),
		BL1:     filepath.Join(dir, "bl1.bin"),
		BL2:     filepath.Join(dir, "bl2.bin"),
		Dest:    "usb",
		OutDir:  dir,
	}
	for _, f := range []string{p.Flasher, p.Payload, p.BCT, p.BL1, p.BL2} {
		if err := os.WriteFile(f, bytes.Repeat([]byte{0xaa}, 1000), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func testWriter(method string, cmd *fakeCmd, buf *bytes.Buffer) *Writer {
	w := New(newTestBlob(method), cmd, output.New(buf, false))
	w.sleep = func(time.Duration) {}
	w.probe.Interval = 0
	return w
}

func TestNvidiaRetriesWhileAbsent(t *testing.T) {
	attempts := 0
	cmd := &fakeCmd{handle: func(name string, args []string) (string, error) {
		switch name {
		case "bct_dump":
			return "Version = 1;\nDevType[0] = NvBootDevType_Spi;", nil
		case "nvflash":
			attempts++
			if attempts <= 3 {
				return "", cmdErr("nvflash", "USB device not found")
			}
			return "", nil
		}
		t.Fatalf("unexpected utility %q", name)
		return "", nil
	}}
	var buf bytes.Buffer
	w := testWriter("tegra", cmd, &buf)

	if err := w.Write(testParams(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if attempts != 4 {
		t.Errorf("nvflash ran %d times, want 4", attempts)
	}
	// The identical transient failure must reach the operator once, not 3
	// times.
	if n := strings.Count(buf.String(), "USB device not found"); n != 1 {
		t.Errorf("transient failure reported %d times, want 1", n)
	}
	if w.session.phase() != phaseDone {
		t.Errorf("session phase = %s, want %s", w.session.phase(), phaseDone)
	}
}

func TestNvidiaExhaustsRetries(t *testing.T) {
	cmd := &fakeCmd{handle: func(name string, args []string) (string, error) {
		if name == "bct_dump" {
			return "DevType[0] = NvBootDevType_Sdmmc;", nil
		}
		return "", cmdErr("nvflash", "USB device not found")
	}}
	var buf bytes.Buffer
	w := testWriter("tegra", cmd, &buf)

	err := w.Write(testParams(t))
	if err == nil || !strings.Contains(err.Error(), "image upload to usb failed") {
		t.Fatalf("Write error = %v, want upload failure naming the destination", err)
	}
	if n := cmd.count("nvflash"); n != nvflashAttempts {
		t.Errorf("nvflash ran %d times, want %d", n, nvflashAttempts)
	}
	if w.session.phase() != phaseFailed {
		t.Errorf("session phase = %s, want %s", w.session.phase(), phaseFailed)
	}
}

func TestNvidiaUnknownFailureIsFatal(t *testing.T) {
	cmd := &fakeCmd{handle: func(name string, args []string) (string, error) {
		if name == "bct_dump" {
			return "DevType[0] = NvBootDevType_Spi;", nil
		}
		return "", cmdErr("nvflash", "bct checksum mismatch")
	}}
	w := testWriter("tegra", cmd, &bytes.Buffer{})

	err := w.Write(testParams(t))
	if err == nil || !strings.Contains(err.Error(), "nvflash failed") {
		t.Fatalf("Write error = %v, want immediate nvflash failure", err)
	}
	if n := cmd.count("nvflash"); n != 1 {
		t.Errorf("nvflash ran %d times, want 1 (no retry on fatal)", n)
	}
}

func TestNvidiaFlashArgs(t *testing.T) {
	var nvArgs []string
	cmd := &fakeCmd{handle: func(name string, args []string) (string, error) {
		if name == "bct_dump" {
			return "DevType[0] = NvBootDevType_Spi;", nil
		}
		nvArgs = args
		return "", nil
	}}
	w := testWriter("tegra", cmd, &bytes.Buffer{})
	p := testParams(t)
	if err := w.Write(p); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"--bct", p.BCT,
		"--setbct",
		"--bl", filepath.Join(p.OutDir, "flasher-for-image.bin"),
		"--go",
		"--setentry", "0x108000", "0x108000",
	}
	if diff := cmp.Diff(want, nvArgs); diff != "" {
		t.Errorf("nvflash args (-want +got):\n%s", diff)
	}
}

func TestExynosBoardNeverFound(t *testing.T) {
	cmd := &fakeCmd{handle: func(name string, args []string) (string, error) {
		if name != "dut-control" {
			t.Fatalf("unexpected utility %q", name)
		}
		return "", nil
	}}
	var buf bytes.Buffer
	w := testWriter("exynos", cmd, &buf)
	w.probe.Enumerate = func(usb.ID, usb.ID) (bool, error) {
		return false, nil
	}

	err := w.Write(testParams(t))
	if err == nil || !strings.Contains(err.Error(), "could not find exynos board") {
		t.Fatalf("Write error = %v, want board-not-found", err)
	}
	if n := cmd.count("smdk-usbdl"); n != 0 {
		t.Errorf("smdk-usbdl ran %d times, want 0", n)
	}
	// The control lines must be released even on failure.
	last := cmd.calls[len(cmd.calls)-1]
	want := call{"dut-control", []string{"fw_up:off", "pwr_button:release"}}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("final cleanup call (-want +got):\n%s", diff)
	}
	if w.session.phase() != phaseFailed {
		t.Errorf("session phase = %s, want %s", w.session.phase(), phaseFailed)
	}
}

func TestExynosLaterStageStall(t *testing.T) {
	cmd := &fakeCmd{handle: func(string, []string) (string, error) {
		return "", nil
	}}
	w := testWriter("exynos", cmd, &bytes.Buffer{})
	probes := 0
	w.probe.Enumerate = func(usb.ID, usb.ID) (bool, error) {
		probes++
		return probes == 1, nil // bl1 enumerates, bl2 never does
	}

	err := w.Write(testParams(t))
	if err == nil || !strings.Contains(err.Error(), `stage "bl2" did not complete`) {
		t.Fatalf("Write error = %v, want bl2 stall", err)
	}
	if n := cmd.count("smdk-usbdl"); n != 1 {
		t.Errorf("smdk-usbdl ran %d times, want 1 (bl1 only)", n)
	}
}

func TestExynosUploadsAllStages(t *testing.T) {
	cmd := &fakeCmd{handle: func(string, []string) (string, error) {
		return "", nil
	}}
	var buf bytes.Buffer
	w := testWriter("exynos", cmd, &buf)
	w.probe.Enumerate = func(usb.ID, usb.ID) (bool, error) {
		return true, nil
	}

	p := testParams(t)
	if err := w.Write(p); err != nil {
		t.Fatal(err)
	}
	var uploads []call
	for _, c := range cmd.calls {
		if c.Name == "smdk-usbdl" {
			uploads = append(uploads, c)
		}
	}
	want := []call{
		{"smdk-usbdl", []string{"-a", "0x2021400", "-f", p.BL1}},
		{"smdk-usbdl", []string{"-a", "0x2023400", "-f", p.BL2}},
		{"smdk-usbdl", []string{"-a", "0x43e00000", "-f",
			filepath.Join(p.OutDir, "flasher-for-image.bin")}},
	}
	if diff := cmp.Diff(want, uploads); diff != "" {
		t.Errorf("stage uploads (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "please wait for flashing to complete") {
		t.Error("missing terminal success notice")
	}
	if w.session.phase() != phaseDone {
		t.Errorf("session phase = %s, want %s", w.session.phase(), phaseDone)
	}
}

func TestWriteDestinations(t *testing.T) {
	tests := []struct {
		dest    string
		wantErr string
	}{
		{"sd", ""}, // handled by the image installer, no-op here
		{"floppy", "unknown destination device"},
	}
	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			cmd := &fakeCmd{handle: func(name string, _ []string) (string, error) {
				t.Fatalf("utility %q ran for dest %q", name, tt.dest)
				return "", nil
			}}
			w := testWriter("tegra", cmd, &bytes.Buffer{})
			p := testParams(t)
			p.Dest = tt.dest
			err := w.Write(p)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Write: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Write error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteUnknownMethod(t *testing.T) {
	cmd := &fakeCmd{handle: func(string, []string) (string, error) {
		return "", nil
	}}
	w := testWriter("rockchip", cmd, &bytes.Buffer{})
	err := w.Write(testParams(t))
	if err == nil || !strings.Contains(err.Error(), `unknown flash method "rockchip"`) {
		t.Fatalf("Write error = %v, want unknown flash method", err)
	}
}

func TestTextBaseOverride(t *testing.T) {
	var nvArgs []string
	cmd := &fakeCmd{handle: func(name string, args []string) (string, error) {
		if name == "bct_dump" {
			return "DevType[0] = NvBootDevType_Spi;", nil
		}
		nvArgs = args
		return "", nil
	}}
	w := testWriter("tegra", cmd, &bytes.Buffer{})
	p := testParams(t)
	p.TextBase = 0x43e00000
	if err := w.Write(p); err != nil {
		t.Fatal(err)
	}
	if len(nvArgs) < 2 || nvArgs[len(nvArgs)-1] != "0x43e00000" {
		t.Errorf("nvflash entry point args = %v, want override 0x43e00000", nvArgs)
	}
}
