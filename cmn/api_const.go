// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

// eviction policies
const (
	PolicyLRU = "lru"
	PolicyLRC = "lrc"
	PolicyOSL = "osl"
)

// peer-eviction propagation modes
const (
	PeerConservative = "conservative"
	PeerStrict       = "strict"
)

// node roles
const (
	Master = "master"
	Worker = "worker"
)

// MemoryMode discriminates the two byte pools a cached entry may occupy.
type MemoryMode int

const (
	MemOnHeap MemoryMode = iota
	MemOffHeap
	NumMemoryModes
)

func (m MemoryMode) String() string {
	if m == MemOnHeap {
		return "on-heap"
	}
	return "off-heap"
}

// wire message names, master <- worker
const (
	MsgRegister              = "register"
	MsgUpdateBlockInfo       = "updateblockinfo"
	MsgGetLocations          = "getlocations"
	MsgGetLocationsMultiple  = "getlocationsmultiple"
	MsgGetPeers              = "getpeers"
	MsgGetExecutorEndpoint   = "getexecutorendpoint"
	MsgGetMemoryStatus       = "getmemorystatus"
	MsgGetStorageStatus      = "getstoragestatus"
	MsgGetBlockStatus        = "getblockstatus"
	MsgGetMatchingBlockIds   = "getmatchingblockids"
	MsgHasCachedBlocks       = "hascachedblocks"
	MsgHeartbeat             = "heartbeat"
	MsgReportCacheHit        = "reportcachehit"
	MsgGetRefProfile         = "getrefprofile"
	MsgBlockWithPeerEvicted  = "blockwithpeerevicted"
	MsgStartBroadcastJobId   = "startbroadcastjobid"
	MsgStartBroadcastRefs    = "startbroadcastrefcount"
	MsgStartBroadcastDAGInfo = "startbroadcastdaginfo"
	MsgRemoveExecutor        = "removeexecutor"
	MsgRemoveRdd             = "removerdd"
	MsgRemoveShuffle         = "removeshuffle"
	MsgRemoveBroadcast       = "removebroadcast"
	MsgStop                  = "stop"
)

// wire message names, worker <- master
const (
	MsgRemoveBlock            = "removeblock"
	MsgBroadcastJobDAG        = "broadcastjobdag"
	MsgBroadcastDAGInfo       = "broadcastdaginfo"
	MsgCheckPeersStrictly     = "checkpeersstrictly"
	MsgCheckPeersConservative = "checkpeersconservatively"
	MsgTriggerThreadDump      = "triggerthreaddump"
)
