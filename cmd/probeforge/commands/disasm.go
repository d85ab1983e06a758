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
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/probeforge/ebpf/asm"
)

// disasmCmd represents the disasm command
var disasmCmd = &cobra.Command{
	Use:   "disasm <file>",
	Short: "Disassembles an eBPF instruction stream",
	Long: "disasm reads raw eBPF bytecode from a file (\"-\" for stdin) and " +
		"prints one decoded instruction per line.  With --hex the input is " +
		"hex text instead of raw bytes.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hexIn, _ := cmd.Flags().GetBool("hex")
		if err := disasm(cmd, args[0], hexIn); err != nil {
			log.WithError(err).Error("Failed to disassemble.")
		}
	},
}

func init() {
	disasmCmd.Flags().Bool("hex", false, "Treat the input as hex text rather than raw bytes")
	rootCmd.AddCommand(disasmCmd)
}

// readInsns loads an instruction stream from path ("-" for stdin),
// decoding it from hex text first if hexIn is set.
func readInsns(path string, hexIn bool) (asm.Insns, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	if hexIn {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, string(raw))
		raw, err = hex.DecodeString(cleaned)
		if err != nil {
			return nil, errors.WithMessage(err, "bad hex input")
		}
	}

	return asm.InsnsFromBytes(raw)
}

func disasm(cmd *cobra.Command, path string, hexIn bool) error {
	insns, err := readInsns(path, hexIn)
	if err != nil {
		return err
	}

	wide := false
	for i, insn := range insns {
		if wide {
			// Second slot of a LoadImm64; the upper half of the immediate.
			cmd.Printf("%4d: %x (wide immediate continuation)\n", i, insn.Instruction)
			wide = false
			continue
		}
		cmd.Printf("%4d: %x %s\n", i, insn.Instruction, insn)
		wide = insn.IsWideImmediate()
	}
	if wide {
		return errors.New("instruction stream ends inside a wide immediate")
	}

	return nil
}
