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

// Package ebpf is the system-call layer of the toolkit: a pure-Go wrapper
// around bpf(2) with typed file descriptors and the error taxonomy shared
// by the higher-level packages.
//
// The subpackages build on it: asm assembles instruction streams, arch
// maps function arguments onto per-architecture register-save offsets,
// maps manages kernel map lifecycles and prog loads programs.
package ebpf
