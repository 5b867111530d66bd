// Package msg defines the control-plane message payloads exchanged between
// memcache workers and the master directory. Transport is external: payloads
// only.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package msg

import (
	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/lease"
	"github.com/NVIDIA/memcache/stats"
)

// master <- worker
type (
	Register struct {
		Worker   block.ManagerID `json:"worker"`
		MaxBytes int64           `json:"max_bytes,string"`
		Endpoint string          `json:"endpoint"`
	}

	UpdateBlockInfo struct {
		Worker   block.ManagerID    `json:"worker"`
		Block    block.ID           `json:"block"`
		Level    block.StorageLevel `json:"level"`
		MemSize  int64              `json:"mem_bytes,string"`
		DiskSize int64              `json:"disk_bytes,string"`
	}

	GetLocations struct {
		Block block.ID `json:"block"`
	}

	GetLocationsMultiple struct {
		Blocks []block.ID `json:"blocks"`
	}

	GetPeers struct {
		Worker block.ManagerID `json:"worker"`
	}

	GetExecutorEndpoint struct {
		ExecutorID string `json:"executor_id"`
	}

	GetBlockStatus struct {
		Block     block.ID `json:"block"`
		AskSlaves bool     `json:"ask_slaves"`
	}

	GetMatchingBlockIds struct {
		Prefix    string `json:"prefix"`
		AskSlaves bool   `json:"ask_slaves"`
	}

	HasCachedBlocks struct {
		ExecutorID string `json:"executor_id"`
	}

	Heartbeat struct {
		Worker       block.ManagerID `json:"worker"`
		RemainingMem int64           `json:"remaining_mem,string"`
	}

	ReportCacheHit struct {
		Worker   block.ManagerID `json:"worker"`
		Counters stats.Snapshot  `json:"counters"`
	}

	GetRefProfile struct {
		Worker   block.ManagerID `json:"worker"`
		Endpoint string          `json:"endpoint"`
	}

	BlockWithPeerEvicted struct {
		Block block.ID `json:"block"`
	}

	StartBroadcastJobID struct {
		Job block.JobID `json:"job"`
	}

	StartBroadcastRefCount struct {
		Job        block.JobID               `json:"job"`
		Partitions int64                     `json:"partitions"`
		Refs       map[block.DatasetID]int64 `json:"refs"`
	}

	StartBroadcastDAGInfo struct {
		Job        block.JobID                         `json:"job"`
		Partitions int64                               `json:"partitions"`
		DAG        map[block.DatasetID]lease.Histogram `json:"dag"`
		AccessN    int64                               `json:"access_n"`
	}

	RemoveExecutor struct {
		ExecutorID string `json:"executor_id"`
	}

	RemoveRdd struct {
		Dataset block.DatasetID `json:"dataset"`
	}

	RemoveShuffle struct {
		ShuffleID int64 `json:"shuffle_id"`
	}

	RemoveBroadcast struct {
		BroadcastID int64 `json:"broadcast_id"`
		FromDriver  bool  `json:"from_driver"`
	}
)

// worker <- master
type (
	RemoveBlock struct {
		Block block.ID `json:"block"`
	}

	BroadcastJobDAG struct {
		Job  block.JobID               `json:"job"`
		Refs map[block.DatasetID]int64 `json:"refs,omitempty"` // nil: look up by job id
	}

	BroadcastDAGInfo struct {
		Job     block.JobID                         `json:"job"`
		DAG     map[block.DatasetID]lease.Histogram `json:"dag,omitempty"`
		AccessN int64                               `json:"access_n"`
	}

	CheckPeers struct {
		Block   block.ID `json:"block"`
		EventID string   `json:"event_id"` // replay dedupe
	}
)

// replies
type (
	RefProfileReply struct {
		Refs   map[block.DatasetID]int64                 `json:"refs"`
		ByJob  map[block.JobID]map[block.DatasetID]int64 `json:"by_job"`
		Peers  map[block.DatasetID]block.DatasetID       `json:"peers"`
	}

	LocationsReply struct {
		Workers []block.ManagerID `json:"workers"`
	}

	LocationsMultipleReply struct {
		Locations [][]block.ManagerID `json:"locations"`
	}

	MemoryStatusReply struct {
		MaxMem    map[string]int64 `json:"max_mem"`    // executor id -> max bytes
		Remaining map[string]int64 `json:"remaining"`  // executor id -> remaining bytes
	}

	StorageStatusReply struct {
		Blocks map[string]int `json:"blocks"` // executor id -> count of blocks with a reported status
	}

	BlockStatusReply struct {
		Status map[string]block.Status `json:"status"` // executor id -> status
	}

	MatchingBlockIdsReply struct {
		Blocks []block.ID `json:"blocks"`
	}

	IntReply struct {
		N int64 `json:"n"`
	}

	BoolReply struct {
		Ok bool `json:"ok"`
	}

	EndpointReply struct {
		Endpoint string `json:"endpoint"`
	}
)
