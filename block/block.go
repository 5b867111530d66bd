// Package block provides block identity, status, and storage-level metadata
// shared by memcache workers and the master directory.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package block

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NVIDIA/memcache/cmn"
	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

type (
	Kind      int
	DatasetID int64
	JobID     int64

	// ID names one cached block. Only KindRDD blocks carry (dataset, partition)
	// coordinates and participate in ref-count and lease accounting.
	ID struct {
		Kind    Kind      `json:"kind"`
		Dataset DatasetID `json:"dataset"` // KindRDD: dataset; KindBroadcast: broadcast id; KindShuffle: shuffle id
		Part    int       `json:"part"`    // KindRDD: partition; KindShuffle: map id
		Reduce  int       `json:"reduce"`  // KindShuffle only
		Name    string    `json:"name"`    // KindTemp only
	}
)

const (
	KindRDD Kind = iota
	KindBroadcast
	KindShuffle
	KindTemp
)

const mlcg32 = 1103515245 // xxhash seed

func RDDID(dataset DatasetID, part int) ID { return ID{Kind: KindRDD, Dataset: dataset, Part: part} }
func BroadcastID(id int64) ID              { return ID{Kind: KindBroadcast, Dataset: DatasetID(id)} }
func ShuffleID(id int64, mapID, reduceID int) ID {
	return ID{Kind: KindShuffle, Dataset: DatasetID(id), Part: mapID, Reduce: reduceID}
}
func TempID(name string) ID { return ID{Kind: KindTemp, Name: name} }

func (b ID) IsRDD() bool       { return b.Kind == KindRDD }
func (b ID) IsBroadcast() bool { return b.Kind == KindBroadcast }
func (b ID) IsShuffle() bool   { return b.Kind == KindShuffle }

func (b ID) String() string {
	switch b.Kind {
	case KindRDD:
		return fmt.Sprintf("rdd_%d_%d", b.Dataset, b.Part)
	case KindBroadcast:
		return fmt.Sprintf("broadcast_%d", b.Dataset)
	case KindShuffle:
		return fmt.Sprintf("shuffle_%d_%d_%d", b.Dataset, b.Part, b.Reduce)
	default:
		return "temp_" + b.Name
	}
}

// Digest is a stable hash used for lock-table sharding.
func (b ID) Digest() uint64 {
	return xxhash.ChecksumString64S(b.String(), mlcg32)
}

// ParseID is the inverse of String.
func ParseID(name string) (b ID, err error) {
	switch {
	case strings.HasPrefix(name, "rdd_"):
		var ds, part int64
		if ds, part, err = parse2(name[4:]); err != nil {
			return b, errors.Wrapf(err, "invalid rdd block name %q", name)
		}
		return RDDID(DatasetID(ds), int(part)), nil
	case strings.HasPrefix(name, "broadcast_"):
		id, err := strconv.ParseInt(name[10:], 10, 64)
		if err != nil {
			return b, errors.Wrapf(err, "invalid broadcast block name %q", name)
		}
		return BroadcastID(id), nil
	case strings.HasPrefix(name, "shuffle_"):
		parts := strings.Split(name[8:], "_")
		if len(parts) != 3 {
			return b, errors.Errorf("invalid shuffle block name %q", name)
		}
		nums := make([]int64, 3)
		for i := range parts {
			if nums[i], err = strconv.ParseInt(parts[i], 10, 64); err != nil {
				return b, errors.Wrapf(err, "invalid shuffle block name %q", name)
			}
		}
		return ShuffleID(nums[0], int(nums[1]), int(nums[2])), nil
	case strings.HasPrefix(name, "temp_"):
		return TempID(name[5:]), nil
	}
	return b, errors.Errorf("unrecognized block name %q", name)
}

func parse2(s string) (a, b int64, err error) {
	i := strings.IndexByte(s, '_')
	if i < 0 {
		return 0, 0, errors.Errorf("expected two fields in %q", s)
	}
	if a, err = strconv.ParseInt(s[:i], 10, 64); err != nil {
		return
	}
	b, err = strconv.ParseInt(s[i+1:], 10, 64)
	return
}

//////////////////
// StorageLevel //
//////////////////

type StorageLevel struct {
	UseMemory    bool `json:"use_memory"`
	UseDisk      bool `json:"use_disk"`
	Deserialized bool `json:"deserialized"`
	OffHeap      bool `json:"off_heap"`
}

var (
	MemoryOnly    = StorageLevel{UseMemory: true, Deserialized: true}
	MemoryOnlySer = StorageLevel{UseMemory: true}
	MemoryAndDisk = StorageLevel{UseMemory: true, UseDisk: true, Deserialized: true}
	DiskOnly      = StorageLevel{UseDisk: true}
	NoStorage     = StorageLevel{}
)

func (l StorageLevel) Valid() bool { return l.UseMemory || l.UseDisk }

func (l StorageLevel) Mode() cmn.MemoryMode {
	if l.OffHeap {
		return cmn.MemOffHeap
	}
	return cmn.MemOnHeap
}

func (l StorageLevel) String() string {
	if !l.Valid() {
		return "none"
	}
	parts := make([]string, 0, 3)
	if l.UseMemory {
		parts = append(parts, "mem")
	}
	if l.UseDisk {
		parts = append(parts, "disk")
	}
	if l.Deserialized {
		parts = append(parts, "deser")
	}
	return strings.Join(parts, "+")
}

/////////////////
// BlockStatus //
/////////////////

type Status struct {
	Level     StorageLevel `json:"storage_level"`
	MemSize   int64        `json:"mem_bytes"`
	DiskSize  int64        `json:"disk_bytes"`
}

func (s Status) IsCached() bool { return s.MemSize+s.DiskSize > 0 }
