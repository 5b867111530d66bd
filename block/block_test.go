// Package block provides block identity, status, and storage-level metadata
// shared by memcache workers and the master directory.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package block_test

import (
	"bytes"
	"testing"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/tutils/tassert"
)

func TestIDRoundTrip(t *testing.T) {
	ids := []block.ID{
		block.RDDID(2, 3),
		block.BroadcastID(5),
		block.ShuffleID(1, 2, 0),
		block.TempID("scratch-1"),
	}
	for _, id := range ids {
		parsed, err := block.ParseID(id.String())
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, parsed == id, "round trip mismatch: %v != %v", parsed, id)
	}
}

func TestIDParseErrors(t *testing.T) {
	for _, name := range []string{"", "rdd_", "rdd_1", "shuffle_1_2", "bogus_3_4"} {
		if _, err := block.ParseID(name); err == nil {
			t.Errorf("expected parse of %q to fail", name)
		}
	}
}

func TestOnlyRDDParticipates(t *testing.T) {
	tassert.Errorf(t, block.RDDID(1, 0).IsRDD(), "rdd block must be rdd")
	tassert.Errorf(t, !block.BroadcastID(1).IsRDD(), "broadcast block must not be rdd")
	tassert.Errorf(t, !block.ShuffleID(1, 0, 0).IsRDD(), "shuffle block must not be rdd")
	tassert.Errorf(t, !block.TempID("x").IsRDD(), "temp block must not be rdd")
}

func TestUpdateInfoBinary(t *testing.T) {
	in := block.UpdateInfo{
		Worker:   block.ManagerID{ExecutorID: "exec-7", Host: "10.0.0.3", Port: 8380},
		Block:    block.RDDID(12, 4),
		Level:    block.MemoryAndDisk,
		MemSize:  1 << 20,
		DiskSize: 1 << 19,
	}
	var buf bytes.Buffer
	tassert.CheckFatal(t, in.Write(&buf))

	var out block.UpdateInfo
	tassert.CheckFatal(t, out.Read(&buf))
	tassert.Errorf(t, out == in, "binary round trip mismatch: %+v != %+v", out, in)
}

func TestStorageLevel(t *testing.T) {
	tassert.Errorf(t, !block.NoStorage.Valid(), "empty level must be invalid")
	tassert.Errorf(t, block.DiskOnly.Valid(), "disk-only level must be valid")
	st := block.Status{Level: block.MemoryOnly, MemSize: 10}
	tassert.Errorf(t, st.IsCached(), "status with bytes must be cached")
	tassert.Errorf(t, !(block.Status{Level: block.MemoryOnly}).IsCached(), "status without bytes must not be cached")
}
