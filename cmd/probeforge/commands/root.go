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

// Package commands implements the probeforge sub-commands.
package commands

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd is the parent of all probeforge sub-commands.
var rootCmd = &cobra.Command{
	Use:   "probeforge",
	Short: "probeforge is a tool for building and interrogating eBPF state",
	Long: "probeforge assembles eBPF programs, loads them through the kernel " +
		"verifier and manipulates eBPF maps.  Most sub-commands need CAP_BPF " +
		"or root.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.WithField("level", logLevel).Warn("Unknown log level, defaulting to warn.")
			level = log.WarnLevel
		}
		log.SetLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level: debug, info, warn, error, fatal or panic")
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}

// makeDocUsage turns a command's Use line into a docopt usage string so
// that positional arguments can be parsed and bound by name.  docopt
// treats the first word of the pattern as the program name, which lines
// up with the sub-command verb cobra has already consumed.
func makeDocUsage(c *cobra.Command) string {
	return "Usage:\n  " + c.Use
}
