// Package stats provides the atomic counter bundles that memcache nodes
// accumulate and report.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"go.uber.org/atomic"
)

// counter names for Tracker.Add
const (
	RDDHit    = "rdd.hit"
	RDDMiss   = "rdd.miss"
	DiskRead  = "disk.read"
	DiskWrite = "disk.write"
)

type (
	Tracker interface {
		Add(name string, val int64)
		Get(name string) int64
	}

	// Bundle is the per-process counter set. The master owns one and passes it
	// explicitly to its event handlers; workers own one and ship snapshots
	// via ReportCacheHit.
	Bundle struct {
		rddHit    atomic.Int64
		rddMiss   atomic.Int64
		diskRead  atomic.Int64
		diskWrite atomic.Int64
	}

	// Snapshot travels on the wire as [hit, miss, disk_r, disk_w].
	Snapshot [4]int64
)

var _ Tracker = &Bundle{}

func (b *Bundle) counter(name string) *atomic.Int64 {
	switch name {
	case RDDHit:
		return &b.rddHit
	case RDDMiss:
		return &b.rddMiss
	case DiskRead:
		return &b.diskRead
	case DiskWrite:
		return &b.diskWrite
	}
	return nil
}

func (b *Bundle) Add(name string, val int64) {
	if c := b.counter(name); c != nil {
		c.Add(val)
	}
}

func (b *Bundle) Get(name string) int64 {
	if c := b.counter(name); c != nil {
		return c.Load()
	}
	return 0
}

func (b *Bundle) Snapshot() Snapshot {
	return Snapshot{b.rddHit.Load(), b.rddMiss.Load(), b.diskRead.Load(), b.diskWrite.Load()}
}

// Merge accumulates a worker snapshot into the (master-side) bundle.
func (b *Bundle) Merge(s Snapshot) {
	b.rddHit.Add(s[0])
	b.rddMiss.Add(s[1])
	b.diskRead.Add(s[2])
	b.diskWrite.Add(s[3])
}
