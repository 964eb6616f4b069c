// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cli // import "feedkeeper.app/internal/cli"

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"feedkeeper.app/internal/version"
)

var infoCmd = cobra.Command{
	Use:   "info",
	Short: "Show build information",
	Args:  cobra.ExactArgs(0),
	Run:   func(cmd *cobra.Command, args []string) { info(cmd.OutOrStdout()) },
}

func info(w io.Writer) {
	v := version.New()
	fmt.Fprintln(w, "Version:", v.Version)
	fmt.Fprintln(w, "Commit:", v.Commit)
	fmt.Fprintln(w, "Build Date:", v.BuildDate)
	fmt.Fprintln(w, "Go Version:", v.GoVersion)
	fmt.Fprintln(w, "Compiler:", runtime.Compiler)
	fmt.Fprintln(w, "Arch:", v.Arch)
	fmt.Fprintln(w, "OS:", v.OS)
}
