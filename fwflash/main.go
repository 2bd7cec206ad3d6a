// Copyright 2026 The ChromiumOS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Fwflash assembles a flasher image for an embedded board and programs it
// onto the target's persistent storage over the USB recovery link. It is
// board-bring-up tooling: no working bootloader is needed on the target.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coreos/dev-util/fwflash/internal/dtb"
	"github.com/coreos/dev-util/fwflash/internal/flashwrite"
	"github.com/coreos/dev-util/fwflash/internal/output"
	"github.com/coreos/dev-util/fwflash/internal/runner"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fwflash",
	Short: "write firmware to an embedded board over the USB recovery link",
	Long: `Fwflash builds a flasher binary (bootloader + device tree with an
embedded boot command + firmware payload) and uploads it to a board in USB
recovery mode. The board family's protocol (nvflash or servo-assisted
exynos upload) is selected from the device tree.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "board config `file` supplying flag defaults")
	f.String("dtb", "", "device tree `file` describing the board")
	f.String("uboot", "", "bootloader binary used as the flasher")
	f.String("image", "", "firmware image to write")
	f.String("bct", "", "boot timing configuration file (nvidia)")
	f.String("bl1", "", "first-stage loader (exynos)")
	f.String("bl2", "", "second-stage loader (exynos)")
	f.String("dest", "usb", "destination device (usb, sd)")
	f.Int("text-base", 0, "override the bootloader text base from the device tree")
	f.Bool("update", true, "use the faster update transfer instead of a full erase")
	f.Bool("verify", false, "verify the write by reading back and checking the CRC")
	f.String("outdir", "", "`directory` for generated files (default: a temp dir)")
	f.BoolP("verbose", "v", false, "print debug output")
}

func run(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	// Flags win over config file values.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	// Required inputs may come from either source, so check after merging.
	for _, key := range []string{"dtb", "uboot", "image"} {
		if v.GetString(key) == "" {
			return fmt.Errorf("--%s is required", key)
		}
	}

	out := output.Stderr(v.GetBool("verbose"))
	outdir := v.GetString("outdir")
	if outdir == "" {
		dir, err := os.MkdirTemp("", "fwflash")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		outdir = dir
	}

	cmds := runner.New()
	blob := dtb.Open(v.GetString("dtb"), cmds)
	w := flashwrite.New(blob, cmds, out)
	return w.Write(flashwrite.Params{
		Flasher:  v.GetString("uboot"),
		Payload:  v.GetString("image"),
		BCT:      v.GetString("bct"),
		BL1:      v.GetString("bl1"),
		BL2:      v.GetString("bl2"),
		TextBase: v.GetInt("text-base"),
		Update:   v.GetBool("update"),
		Verify:   v.GetBool("verify"),
		Dest:     v.GetString("dest"),
		OutDir:   outdir,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fwflash:", err)
		os.Exit(1)
	}
}
