// Copyright (c) 2022 Tigera, Inc. All rights reserved.
// Copyright (c) 2026 the probeforge authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/probeforge/ebpf/arch"
)

// archCmd represents the arch command
var archCmd = &cobra.Command{
	Use:   "arch",
	Short: "Shows per-architecture register layouts",
}

func init() {
	archCmd.AddCommand(archListCmd)
	archCmd.AddCommand(archOffsetsCmd)
	rootCmd.AddCommand(archCmd)
}

var archListCmd = &cobra.Command{
	Use:   "list",
	Short: "lists the supported architectures",
	Run: func(cmd *cobra.Command, args []string) {
		listArches()
	},
}

var archOffsetsCmd = &cobra.Command{
	Use:   "offsets <arch>",
	Short: "dumps the register-save offsets of one architecture",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := dumpArchOffsets(cmd, args[0]); err != nil {
			log.WithError(err).Error("Failed to dump architecture offsets.")
		}
	},
}

func listArches() {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ARCH", "GOARCH", "ARGS", "RET", "SP", "FP"})
	if arch.Supported() {
		table.SetCaption(true, fmt.Sprintf("\"*\" marks the build architecture (%s).", arch.Current()))
	}

	var rows [][]string
	for _, a := range arch.All() {
		name := a.Name()
		if arch.Supported() && a == arch.Current() {
			name += " *"
		}
		fp := "-"
		if off, ok := a.FPOffset(); ok {
			fp = fmt.Sprintf("%s@%d", a.FPName(), off)
		}
		rows = append(rows, []string{
			name,
			a.GOARCH(),
			fmt.Sprintf("%d", a.NumArgs()),
			fmt.Sprintf("%s@%d", a.RetName(), a.RetOffset()),
			fmt.Sprintf("%s@%d", a.SPName(), a.SPOffset()),
			fp,
		})
	}
	table.AppendBulk(rows)
	table.Render()
}

func dumpArchOffsets(cmd *cobra.Command, name string) error {
	a, ok := arch.ByName(name)
	if !ok {
		return fmt.Errorf("unknown architecture %q", name)
	}

	for i := 0; i < a.NumArgs(); i++ {
		off, err := a.ArgOffset(i)
		if err != nil {
			return err
		}
		cmd.Printf("arg%-2d %-6s : %4d\n", i+1, a.ArgName(i), off)
	}
	cmd.Printf("ret   %-6s : %4d\n", a.RetName(), a.RetOffset())
	cmd.Printf("sp    %-6s : %4d\n", a.SPName(), a.SPOffset())
	if off, ok := a.FPOffset(); ok {
		cmd.Printf("fp    %-6s : %4d\n", a.FPName(), off)
	} else {
		cmd.Printf("fp           : not exposed\n")
	}

	return nil
}
