// Copyright (c) 2020-2022 Tigera, Inc. All rights reserved.
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
	"fmt"
	"os"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/probeforge/ebpf"
	"github.com/probeforge/ebpf/maps"
)

// mapCmd represents the map command
var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Manipulates eBPF maps",
}

func init() {
	mapCmd.AddCommand(newMapCreate())
	mapCmd.AddCommand(mapInfoCmd)
	mapCmd.AddCommand(mapDumpCmd)
	mapCmd.AddCommand(newMapUpdate())
	mapCmd.AddCommand(newMapDelete())
	rootCmd.AddCommand(mapCmd)
}

var mapInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "shows the parameters of a map",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := dumpMapInfo(cmd, args[0]); err != nil {
			log.WithError(err).Error("Failed to show map info.")
		}
	},
}

var mapDumpCmd = &cobra.Command{
	Use:   "dump <id>",
	Short: "dumps all entries of a map as hex",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := dumpMap(cmd, args[0]); err != nil {
			log.WithError(err).Error("Failed to dump map.")
		}
	},
}

func openMapByID(idArg string) (*maps.PlainMap, error) {
	id, err := strconv.Atoi(idArg)
	if err != nil {
		return nil, fmt.Errorf("id: %q is not an int", idArg)
	}
	return maps.OpenByID(id)
}

func dumpMapInfo(cmd *cobra.Command, idArg string) error {
	m, err := openMapByID(idArg)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	params := m.Params()
	cmd.Printf("name        : %s\n", params.Name)
	cmd.Printf("type        : %s\n", params.Type)
	cmd.Printf("key size    : %d\n", params.KeySize)
	cmd.Printf("value size  : %d\n", params.ValueSize)
	cmd.Printf("max entries : %d\n", params.MaxEntries)
	cmd.Printf("flags       : %#x\n", params.Flags)

	return nil
}

func dumpMap(cmd *cobra.Command, idArg string) error {
	m, err := openMapByID(idArg)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"KEY", "VALUE"})

	count := 0
	err = m.Iter(func(k, v []byte) maps.IteratorAction {
		table.Append([]string{fmt.Sprintf("%x", k), fmt.Sprintf("%x", v)})
		count++
		return maps.IterNone
	})
	if err != nil {
		return err
	}

	table.SetCaption(true, fmt.Sprintf("dumped %d entries of %q.", count, m.GetName()))
	table.Render()

	return nil
}

type mapCreate struct {
	*cobra.Command

	Name       string `docopt:"<name>"`
	Type       string `docopt:"<type>"`
	KeySize    string `docopt:"<key-size>"`
	ValueSize  string `docopt:"<value-size>"`
	MaxEntries string `docopt:"<max-entries>"`

	params maps.MapParameters
}

func newMapCreate() *cobra.Command {
	cmd := &mapCreate{
		Command: &cobra.Command{
			Use:   "create <name> <type> <key-size> <value-size> <max-entries>",
			Short: "creates a map, validating the parameters against the kernel",
			Long: "create makes a kernel map from the given parameters and reports " +
				"its ID.  The map is released again when probeforge exits.",
		},
	}

	cmd.Command.Args = cmd.ArgsCreate
	cmd.Command.Run = cmd.RunCreate

	return cmd.Command
}

func (cmd *mapCreate) ArgsCreate(c *cobra.Command, args []string) error {
	a, err := docopt.ParseArgs(makeDocUsage(c), args, "")
	if err != nil {
		return err
	}

	if err := a.Bind(cmd); err != nil {
		return err
	}

	t, err := maps.ParseType(cmd.Type)
	if err != nil {
		return err
	}

	keySize, err := strconv.Atoi(cmd.KeySize)
	if err != nil {
		return fmt.Errorf("key-size: %q is not an int", cmd.KeySize)
	}

	valueSize, err := strconv.Atoi(cmd.ValueSize)
	if err != nil {
		return fmt.Errorf("value-size: %q is not an int", cmd.ValueSize)
	}

	maxEntries, err := strconv.Atoi(cmd.MaxEntries)
	if err != nil {
		return fmt.Errorf("max-entries: %q is not an int", cmd.MaxEntries)
	}

	cmd.params = maps.MapParameters{
		Type:       t,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
		Name:       cmd.Name,
	}

	return cmd.params.Validate()
}

func (cmd *mapCreate) RunCreate(c *cobra.Command, _ []string) {
	m, err := maps.Create(cmd.params)
	if err != nil {
		log.WithError(err).Error("Failed to create map.")
		return
	}
	defer func() {
		_ = m.Close()
	}()

	info, err := ebpf.GetMapInfo(m.MapFD())
	if err != nil {
		log.WithError(err).Error("Failed to read back map info.")
		return
	}

	c.Printf("created map %q id %d (released on exit)\n", m.GetName(), info.Id)
}

type mapEntry struct {
	*cobra.Command

	ID    string `docopt:"<id>"`
	Key   string `docopt:"<key>"`
	Value string `docopt:"<value>"`

	key   []byte
	value []byte
}

func newMapUpdate() *cobra.Command {
	cmd := &mapEntry{
		Command: &cobra.Command{
			Use:   "update <id> <key> <value>",
			Short: "sets one map entry; key and value are hex",
		},
	}

	cmd.Command.Args = cmd.ArgsUpdate
	cmd.Command.Run = cmd.RunUpdate

	cmd.Command.Flags().Bool("create-only", false, "Fail if the key already exists")
	cmd.Command.Flags().Bool("must-exist", false, "Fail if the key does not exist yet")

	return cmd.Command
}

func newMapDelete() *cobra.Command {
	cmd := &mapEntry{
		Command: &cobra.Command{
			Use:   "delete <id> <key>",
			Short: "deletes one map entry; the key is hex",
		},
	}

	cmd.Command.Args = cmd.ArgsDelete
	cmd.Command.Run = cmd.RunDelete

	return cmd.Command
}

func (cmd *mapEntry) parseKey() error {
	key, err := hex.DecodeString(cmd.Key)
	if err != nil {
		return fmt.Errorf("key: %q is not hex", cmd.Key)
	}
	cmd.key = key
	return nil
}

func (cmd *mapEntry) ArgsUpdate(c *cobra.Command, args []string) error {
	a, err := docopt.ParseArgs(makeDocUsage(c), args, "")
	if err != nil {
		return err
	}

	if err := a.Bind(cmd); err != nil {
		return err
	}

	if err := cmd.parseKey(); err != nil {
		return err
	}

	value, err := hex.DecodeString(cmd.Value)
	if err != nil {
		return fmt.Errorf("value: %q is not hex", cmd.Value)
	}
	cmd.value = value

	return nil
}

func (cmd *mapEntry) RunUpdate(c *cobra.Command, _ []string) {
	createOnly, _ := c.Flags().GetBool("create-only")
	mustExist, _ := c.Flags().GetBool("must-exist")
	if createOnly && mustExist {
		log.Error("--create-only and --must-exist are mutually exclusive.")
		return
	}

	flags := unix.BPF_ANY
	if createOnly {
		flags = unix.BPF_NOEXIST
	} else if mustExist {
		flags = unix.BPF_EXIST
	}

	m, err := openMapByID(cmd.ID)
	if err != nil {
		log.WithError(err).Error("Failed to open map.")
		return
	}
	defer func() {
		_ = m.Close()
	}()

	if err := m.UpdateWithFlags(cmd.key, cmd.value, flags); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"key":   cmd.Key,
			"value": cmd.Value,
		}).Error("Failed to update map entry.")
	}
}

func (cmd *mapEntry) ArgsDelete(c *cobra.Command, args []string) error {
	a, err := docopt.ParseArgs(makeDocUsage(c), args, "")
	if err != nil {
		return err
	}

	if err := a.Bind(cmd); err != nil {
		return err
	}

	return cmd.parseKey()
}

func (cmd *mapEntry) RunDelete(c *cobra.Command, _ []string) {
	m, err := openMapByID(cmd.ID)
	if err != nil {
		log.WithError(err).Error("Failed to open map.")
		return
	}
	defer func() {
		_ = m.Close()
	}()

	err = m.Delete(cmd.key)
	if ebpf.IsNotExists(err) {
		c.Println("no such entry")
		return
	}
	if err != nil {
		log.WithError(err).WithField("key", cmd.Key).Error("Failed to delete map entry.")
	}
}
