// Copyright (c) 2020 Tigera, Inc. All rights reserved.
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

package asm

import "fmt"

// Helper identifies a kernel eBPF helper function by its call number.
// The set grows with every kernel release; Call accepts any value, so
// helpers this table doesn't know about can still be called by number.
type Helper int32

// Helper call numbers, from the kernel's UAPI enum bpf_func_id.
const (
	HelperUnspec                     Helper = 0
	HelperMapLookupElem              Helper = 1
	HelperMapUpdateElem              Helper = 2
	HelperMapDeleteElem              Helper = 3
	HelperProbeRead                  Helper = 4
	HelperKtimeGetNs                 Helper = 5
	HelperTracePrintk                Helper = 6
	HelperGetPrandomU32              Helper = 7
	HelperGetSmpProcessorID          Helper = 8
	HelperSkbStoreBytes              Helper = 9
	HelperL3CsumReplace              Helper = 10
	HelperL4CsumReplace              Helper = 11
	HelperTailCall                   Helper = 12
	HelperCloneRedirect              Helper = 13
	HelperGetCurrentPidTgid          Helper = 14
	HelperGetCurrentUidGid           Helper = 15
	HelperGetCurrentComm             Helper = 16
	HelperGetCgroupClassid           Helper = 17
	HelperSkbVlanPush                Helper = 18
	HelperSkbVlanPop                 Helper = 19
	HelperSkbGetTunnelKey            Helper = 20
	HelperSkbSetTunnelKey            Helper = 21
	HelperPerfEventRead              Helper = 22
	HelperRedirect                   Helper = 23
	HelperGetRouteRealm              Helper = 24
	HelperPerfEventOutput            Helper = 25
	HelperSkbLoadBytes               Helper = 26
	HelperGetStackid                 Helper = 27
	HelperCsumDiff                   Helper = 28
	HelperSkbGetTunnelOpt            Helper = 29
	HelperSkbSetTunnelOpt            Helper = 30
	HelperSkbChangeProto             Helper = 31
	HelperSkbChangeType              Helper = 32
	HelperSkbUnderCgroup             Helper = 33
	HelperGetHashRecalc              Helper = 34
	HelperGetCurrentTask             Helper = 35
	HelperProbeWriteUser             Helper = 36
	HelperCurrentTaskUnderCgroup     Helper = 37
	HelperSkbChangeTail              Helper = 38
	HelperSkbPullData                Helper = 39
	HelperCsumUpdate                 Helper = 40
	HelperSetHashInvalid             Helper = 41
	HelperGetNumaNodeID              Helper = 42
	HelperSkbChangeHead              Helper = 43
	HelperXdpAdjustHead              Helper = 44
	HelperProbeReadStr               Helper = 45
	HelperGetSocketCookie            Helper = 46
	HelperGetSocketUID               Helper = 47
	HelperSetHash                    Helper = 48
	HelperSetsockopt                 Helper = 49
	HelperSkbAdjustRoom              Helper = 50
	HelperRedirectMap                Helper = 51
	HelperSkRedirectMap              Helper = 52
	HelperSockMapUpdate              Helper = 53
	HelperXdpAdjustMeta              Helper = 54
	HelperPerfEventReadValue         Helper = 55
	HelperPerfProgReadValue          Helper = 56
	HelperGetsockopt                 Helper = 57
	HelperOverrideReturn             Helper = 58
	HelperSockOpsCbFlagsSet          Helper = 59
	HelperMsgRedirectMap             Helper = 60
	HelperMsgApplyBytes              Helper = 61
	HelperMsgCorkBytes               Helper = 62
	HelperMsgPullData                Helper = 63
	HelperBind                       Helper = 64
	HelperXdpAdjustTail              Helper = 65
	HelperSkbGetXfrmState            Helper = 66
	HelperGetStack                   Helper = 67
	HelperSkbLoadBytesRelative       Helper = 68
	HelperFibLookup                  Helper = 69
	HelperSockHashUpdate             Helper = 70
	HelperMsgRedirectHash            Helper = 71
	HelperSkRedirectHash             Helper = 72
	HelperLwtPushEncap               Helper = 73
	HelperLwtSeg6StoreBytes          Helper = 74
	HelperLwtSeg6AdjustSrh           Helper = 75
	HelperLwtSeg6Action              Helper = 76
	HelperRcRepeat                   Helper = 77
	HelperRcKeydown                  Helper = 78
	HelperSkbCgroupID                Helper = 79
	HelperGetCurrentCgroupID         Helper = 80
	HelperGetLocalStorage            Helper = 81
	HelperSkSelectReuseport          Helper = 82
	HelperSkbAncestorCgroupID        Helper = 83
	HelperSkLookupTCP                Helper = 84
	HelperSkLookupUDP                Helper = 85
	HelperSkRelease                  Helper = 86
	HelperMapPushElem                Helper = 87
	HelperMapPopElem                 Helper = 88
	HelperMapPeekElem                Helper = 89
	HelperMsgPushData                Helper = 90
	HelperMsgPopData                 Helper = 91
	HelperRcPointerRel               Helper = 92
	HelperSpinLock                   Helper = 93
	HelperSpinUnlock                 Helper = 94
	HelperSkFullsock                 Helper = 95
	HelperTcpSock                    Helper = 96
	HelperSkbEcnSetCe                Helper = 97
	HelperGetListenerSock            Helper = 98
	HelperSkcLookupTCP               Helper = 99
	HelperTcpCheckSyncookie          Helper = 100
	HelperSysctlGetName              Helper = 101
	HelperSysctlGetCurrentValue      Helper = 102
	HelperSysctlGetNewValue          Helper = 103
	HelperSysctlSetNewValue          Helper = 104
	HelperStrtol                     Helper = 105
	HelperStrtoul                    Helper = 106
	HelperSkStorageGet               Helper = 107
	HelperSkStorageDelete            Helper = 108
	HelperSendSignal                 Helper = 109
	HelperTcpGenSyncookie            Helper = 110
	HelperSkbOutput                  Helper = 111
	HelperProbeReadUser              Helper = 112
	HelperProbeReadKernel            Helper = 113
	HelperProbeReadUserStr           Helper = 114
	HelperProbeReadKernelStr         Helper = 115
	HelperTcpSendAck                 Helper = 116
	HelperSendSignalThread           Helper = 117
	HelperJiffies64                  Helper = 118
	HelperReadBranchRecords          Helper = 119
	HelperGetNsCurrentPidTgid        Helper = 120
	HelperXdpOutput                  Helper = 121
	HelperGetNetnsCookie             Helper = 122
	HelperGetCurrentAncestorCgroupID Helper = 123
	HelperSkAssign                   Helper = 124
	HelperKtimeGetBootNs             Helper = 125
	HelperSeqPrintf                  Helper = 126
	HelperSeqWrite                   Helper = 127
	HelperSkCgroupID                 Helper = 128
	HelperSkAncestorCgroupID         Helper = 129
	HelperRingbufOutput              Helper = 130
	HelperRingbufReserve             Helper = 131
	HelperRingbufSubmit              Helper = 132
	HelperRingbufDiscard             Helper = 133
	HelperRingbufQuery               Helper = 134
	HelperCsumLevel                  Helper = 135
)

var helperNames = map[Helper]string{
	HelperUnspec:                     "unspec",
	HelperMapLookupElem:              "map_lookup_elem",
	HelperMapUpdateElem:              "map_update_elem",
	HelperMapDeleteElem:              "map_delete_elem",
	HelperProbeRead:                  "probe_read",
	HelperKtimeGetNs:                 "ktime_get_ns",
	HelperTracePrintk:                "trace_printk",
	HelperGetPrandomU32:              "get_prandom_u32",
	HelperGetSmpProcessorID:          "get_smp_processor_id",
	HelperSkbStoreBytes:              "skb_store_bytes",
	HelperL3CsumReplace:              "l3_csum_replace",
	HelperL4CsumReplace:              "l4_csum_replace",
	HelperTailCall:                   "tail_call",
	HelperCloneRedirect:              "clone_redirect",
	HelperGetCurrentPidTgid:          "get_current_pid_tgid",
	HelperGetCurrentUidGid:           "get_current_uid_gid",
	HelperGetCurrentComm:             "get_current_comm",
	HelperGetCgroupClassid:           "get_cgroup_classid",
	HelperSkbVlanPush:                "skb_vlan_push",
	HelperSkbVlanPop:                 "skb_vlan_pop",
	HelperSkbGetTunnelKey:            "skb_get_tunnel_key",
	HelperSkbSetTunnelKey:            "skb_set_tunnel_key",
	HelperPerfEventRead:              "perf_event_read",
	HelperRedirect:                   "redirect",
	HelperGetRouteRealm:              "get_route_realm",
	HelperPerfEventOutput:            "perf_event_output",
	HelperSkbLoadBytes:               "skb_load_bytes",
	HelperGetStackid:                 "get_stackid",
	HelperCsumDiff:                   "csum_diff",
	HelperSkbGetTunnelOpt:            "skb_get_tunnel_opt",
	HelperSkbSetTunnelOpt:            "skb_set_tunnel_opt",
	HelperSkbChangeProto:             "skb_change_proto",
	HelperSkbChangeType:              "skb_change_type",
	HelperSkbUnderCgroup:             "skb_under_cgroup",
	HelperGetHashRecalc:              "get_hash_recalc",
	HelperGetCurrentTask:             "get_current_task",
	HelperProbeWriteUser:             "probe_write_user",
	HelperCurrentTaskUnderCgroup:     "current_task_under_cgroup",
	HelperSkbChangeTail:              "skb_change_tail",
	HelperSkbPullData:                "skb_pull_data",
	HelperCsumUpdate:                 "csum_update",
	HelperSetHashInvalid:             "set_hash_invalid",
	HelperGetNumaNodeID:              "get_numa_node_id",
	HelperSkbChangeHead:              "skb_change_head",
	HelperXdpAdjustHead:              "xdp_adjust_head",
	HelperProbeReadStr:               "probe_read_str",
	HelperGetSocketCookie:            "get_socket_cookie",
	HelperGetSocketUID:               "get_socket_uid",
	HelperSetHash:                    "set_hash",
	HelperSetsockopt:                 "setsockopt",
	HelperSkbAdjustRoom:              "skb_adjust_room",
	HelperRedirectMap:                "redirect_map",
	HelperSkRedirectMap:              "sk_redirect_map",
	HelperSockMapUpdate:              "sock_map_update",
	HelperXdpAdjustMeta:              "xdp_adjust_meta",
	HelperPerfEventReadValue:         "perf_event_read_value",
	HelperPerfProgReadValue:          "perf_prog_read_value",
	HelperGetsockopt:                 "getsockopt",
	HelperOverrideReturn:             "override_return",
	HelperSockOpsCbFlagsSet:          "sock_ops_cb_flags_set",
	HelperMsgRedirectMap:             "msg_redirect_map",
	HelperMsgApplyBytes:              "msg_apply_bytes",
	HelperMsgCorkBytes:               "msg_cork_bytes",
	HelperMsgPullData:                "msg_pull_data",
	HelperBind:                       "bind",
	HelperXdpAdjustTail:              "xdp_adjust_tail",
	HelperSkbGetXfrmState:            "skb_get_xfrm_state",
	HelperGetStack:                   "get_stack",
	HelperSkbLoadBytesRelative:       "skb_load_bytes_relative",
	HelperFibLookup:                  "fib_lookup",
	HelperSockHashUpdate:             "sock_hash_update",
	HelperMsgRedirectHash:            "msg_redirect_hash",
	HelperSkRedirectHash:             "sk_redirect_hash",
	HelperLwtPushEncap:               "lwt_push_encap",
	HelperLwtSeg6StoreBytes:          "lwt_seg6_store_bytes",
	HelperLwtSeg6AdjustSrh:           "lwt_seg6_adjust_srh",
	HelperLwtSeg6Action:              "lwt_seg6_action",
	HelperRcRepeat:                   "rc_repeat",
	HelperRcKeydown:                  "rc_keydown",
	HelperSkbCgroupID:                "skb_cgroup_id",
	HelperGetCurrentCgroupID:         "get_current_cgroup_id",
	HelperGetLocalStorage:            "get_local_storage",
	HelperSkSelectReuseport:          "sk_select_reuseport",
	HelperSkbAncestorCgroupID:        "skb_ancestor_cgroup_id",
	HelperSkLookupTCP:                "sk_lookup_tcp",
	HelperSkLookupUDP:                "sk_lookup_udp",
	HelperSkRelease:                  "sk_release",
	HelperMapPushElem:                "map_push_elem",
	HelperMapPopElem:                 "map_pop_elem",
	HelperMapPeekElem:                "map_peek_elem",
	HelperMsgPushData:                "msg_push_data",
	HelperMsgPopData:                 "msg_pop_data",
	HelperRcPointerRel:               "rc_pointer_rel",
	HelperSpinLock:                   "spin_lock",
	HelperSpinUnlock:                 "spin_unlock",
	HelperSkFullsock:                 "sk_fullsock",
	HelperTcpSock:                    "tcp_sock",
	HelperSkbEcnSetCe:                "skb_ecn_set_ce",
	HelperGetListenerSock:            "get_listener_sock",
	HelperSkcLookupTCP:               "skc_lookup_tcp",
	HelperTcpCheckSyncookie:          "tcp_check_syncookie",
	HelperSysctlGetName:              "sysctl_get_name",
	HelperSysctlGetCurrentValue:      "sysctl_get_current_value",
	HelperSysctlGetNewValue:          "sysctl_get_new_value",
	HelperSysctlSetNewValue:          "sysctl_set_new_value",
	HelperStrtol:                     "strtol",
	HelperStrtoul:                    "strtoul",
	HelperSkStorageGet:               "sk_storage_get",
	HelperSkStorageDelete:            "sk_storage_delete",
	HelperSendSignal:                 "send_signal",
	HelperTcpGenSyncookie:            "tcp_gen_syncookie",
	HelperSkbOutput:                  "skb_output",
	HelperProbeReadUser:              "probe_read_user",
	HelperProbeReadKernel:            "probe_read_kernel",
	HelperProbeReadUserStr:           "probe_read_user_str",
	HelperProbeReadKernelStr:         "probe_read_kernel_str",
	HelperTcpSendAck:                 "tcp_send_ack",
	HelperSendSignalThread:           "send_signal_thread",
	HelperJiffies64:                  "jiffies64",
	HelperReadBranchRecords:          "read_branch_records",
	HelperGetNsCurrentPidTgid:        "get_ns_current_pid_tgid",
	HelperXdpOutput:                  "xdp_output",
	HelperGetNetnsCookie:             "get_netns_cookie",
	HelperGetCurrentAncestorCgroupID: "get_current_ancestor_cgroup_id",
	HelperSkAssign:                   "sk_assign",
	HelperKtimeGetBootNs:             "ktime_get_boot_ns",
	HelperSeqPrintf:                  "seq_printf",
	HelperSeqWrite:                   "seq_write",
	HelperSkCgroupID:                 "sk_cgroup_id",
	HelperSkAncestorCgroupID:         "sk_ancestor_cgroup_id",
	HelperRingbufOutput:              "ringbuf_output",
	HelperRingbufReserve:             "ringbuf_reserve",
	HelperRingbufSubmit:              "ringbuf_submit",
	HelperRingbufDiscard:             "ringbuf_discard",
	HelperRingbufQuery:               "ringbuf_query",
	HelperCsumLevel:                  "csum_level",
}

func (h Helper) String() string {
	if name, ok := helperNames[h]; ok {
		return name
	}
	return fmt.Sprintf("helper#%d", int32(h))
}
