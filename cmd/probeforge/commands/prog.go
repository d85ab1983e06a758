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
	"encoding/hex"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/probeforge/ebpf"
	"github.com/probeforge/ebpf/prog"
)

// progCmd represents the prog command
var progCmd = &cobra.Command{
	Use:   "prog",
	Short: "Loads and exercises eBPF programs",
}

func init() {
	addProgFlags(progLoadCmd)
	addProgFlags(progRunCmd)
	progRunCmd.Flags().Int("repeat", 1, "How many times the kernel runs the program")
	progRunCmd.Flags().Int("data-len", 64, "Size of the zeroed input packet")
	progRunCmd.Flags().String("data-hex", "", "Explicit input packet as hex, overrides --data-len")

	progCmd.AddCommand(progLoadCmd)
	progCmd.AddCommand(progRunCmd)
	rootCmd.AddCommand(progCmd)
}

func addProgFlags(c *cobra.Command) {
	c.Flags().String("type", "xdp", "Program type, e.g. xdp, kprobe, sched_cls")
	c.Flags().String("name", "probeforge", "Program name reported to the kernel")
	c.Flags().String("license", "GPL", "Program license; some helpers are GPL-only")
	c.Flags().Bool("hex", false, "Treat the input as hex text rather than raw bytes")
}

var progLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "loads a program, reporting the verifier's verdict",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, ok := loadProg(cmd, args[0])
		if !ok {
			return
		}
		defer func() {
			_ = p.Close()
		}()

		cmd.Printf("verifier accepted program %q type %s\n", p.Name(), p.Type())
	},
}

var progRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "loads a program and runs it over a test packet",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runProg(cmd, args[0]); err != nil {
			log.WithError(err).Error("Failed to run program.")
		}
	},
}

// loadProg loads the instruction stream named by path using the shared
// program flags.  A verifier rejection is reported on stdout rather than
// as an error; the second return is false if no program was loaded.
func loadProg(cmd *cobra.Command, path string) (*prog.Program, bool) {
	hexIn, _ := cmd.Flags().GetBool("hex")
	typeName, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	license, _ := cmd.Flags().GetString("license")

	insns, err := readInsns(path, hexIn)
	if err != nil {
		log.WithError(err).Error("Failed to read instruction stream.")
		return nil, false
	}

	t, err := prog.ParseType(typeName)
	if err != nil {
		log.WithError(err).Error("Failed to parse program type.")
		return nil, false
	}

	p, err := prog.Load(insns, name, license, t)
	var verr *ebpf.VerifierError
	if errors.As(err, &verr) {
		cmd.Printf("verifier rejected the program:\n%s\n", verr.Log)
		return nil, false
	}
	if err != nil {
		log.WithError(err).Error("Failed to load program.")
		return nil, false
	}

	return p, true
}

func runProg(cmd *cobra.Command, path string) error {
	p, ok := loadProg(cmd, path)
	if !ok {
		return nil
	}
	defer func() {
		_ = p.Close()
	}()

	repeat, _ := cmd.Flags().GetInt("repeat")
	dataLen, _ := cmd.Flags().GetInt("data-len")
	dataHex, _ := cmd.Flags().GetString("data-hex")

	dataIn := make([]byte, dataLen)
	if dataHex != "" {
		var err error
		dataIn, err = hex.DecodeString(dataHex)
		if err != nil {
			return err
		}
	}

	res, err := p.TestRun(dataIn, repeat)
	if err != nil {
		return err
	}

	cmd.Printf("return code : %d\n", res.ReturnCode)
	cmd.Printf("duration    : %v\n", res.Duration)
	cmd.Printf("data out    : %x\n", res.DataOut)

	return nil
}
