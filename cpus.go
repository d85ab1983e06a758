// Copyright (c) 2019-2025 Tigera, Inc. All rights reserved.
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

package ebpf

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	cachedNumPossibleCPUs     int
	cachedNumPossibleCPUsOnce sync.Once
)

// NumPossibleCPUs returns the number of possible CPUs, which is the stride
// the kernel uses for per-CPU map values.  The value is read once and
// cached for the life of the process.
func NumPossibleCPUs() int {
	cachedNumPossibleCPUsOnce.Do(func() {
		var err error
		cachedNumPossibleCPUs, err = readCPURangeFile("/sys/devices/system/cpu/possible")
		if err != nil {
			log.WithError(err).Panic("Failed to read the number of possible CPUs.")
		}
	})
	return cachedNumPossibleCPUs
}

// readCPURangeFile parses a kernel CPU list such as "0-3" or "0-7,9" and
// returns the highest CPU number present plus one.
func readCPURangeFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read CPU range")
	}
	max := -1
	for _, section := range strings.Split(strings.TrimSpace(string(raw)), ",") {
		bounds := strings.SplitN(section, "-", 2)
		last, err := strconv.Atoi(bounds[len(bounds)-1])
		if err != nil {
			return 0, errors.Wrapf(err, "failed to parse CPU range %q", section)
		}
		if last > max {
			max = last
		}
	}
	if max < 0 {
		return 0, errors.Errorf("no CPUs listed in %s", path)
	}
	return max + 1, nil
}
