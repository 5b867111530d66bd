// Package memacct tracks the byte budget of a worker's in-memory block cache:
// storage vs unroll reservations, per memory mode, with eviction-on-demand.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memacct_test

import (
	"testing"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/memacct"
	"github.com/NVIDIA/memcache/tutils/tassert"
)

type mockEvictor struct {
	freeable int64
	release  func(n int64)
	calls    int
}

func (m *mockEvictor) TryFree(req *block.ID, need int64, mode cmn.MemoryMode) int64 {
	m.calls++
	if m.freeable < need {
		return 0
	}
	m.release(m.freeable)
	return m.freeable
}

func TestAcquireReleaseStorage(t *testing.T) {
	a := memacct.NewAccount(100, 0)
	b := block.RDDID(1, 0)
	tassert.Fatalf(t, a.AcquireStorage(b, 60, cmn.MemOnHeap), "acquire within budget must succeed")
	tassert.Errorf(t, a.StorageUsed(cmn.MemOnHeap) == 60, "expected 60 used, got %d", a.StorageUsed(cmn.MemOnHeap))
	tassert.Errorf(t, !a.AcquireStorage(b, 60, cmn.MemOnHeap), "over-budget acquire must fail without evictor")
	a.ReleaseStorage(60, cmn.MemOnHeap)
	tassert.Errorf(t, a.StorageUsed(cmn.MemOnHeap) == 0, "expected 0 used after release")
}

func TestAcquireNeverExceedsBudget(t *testing.T) {
	a := memacct.NewAccount(100, 0)
	b := block.RDDID(1, 0)
	for i, n := range []int64{40, 40, 40, 10, 200} {
		a.AcquireStorage(block.RDDID(block.DatasetID(i), 0), n, cmn.MemOnHeap)
		used := a.StorageUsed(cmn.MemOnHeap) + a.UnrollUsed(cmn.MemOnHeap)
		tassert.Fatalf(t, used <= 100, "budget exceeded after acquire of %d: used=%d", n, used)
	}
	tassert.Errorf(t, !a.AcquireStorage(b, 200, cmn.MemOnHeap), "acquire above capacity must fail outright")
}

func TestAcquireTriggersEviction(t *testing.T) {
	a := memacct.NewAccount(100, 0)
	ev := &mockEvictor{freeable: 80, release: func(n int64) { a.ReleaseStorage(n, cmn.MemOnHeap) }}
	a.SetEvictor(ev)
	tassert.Fatalf(t, a.AcquireStorage(block.RDDID(1, 0), 80, cmn.MemOnHeap), "first acquire must succeed")
	tassert.Fatalf(t, a.AcquireStorage(block.RDDID(2, 0), 80, cmn.MemOnHeap), "acquire-after-eviction must succeed")
	tassert.Errorf(t, ev.calls == 1, "expected one eviction call, got %d", ev.calls)
	tassert.Errorf(t, a.StorageUsed(cmn.MemOnHeap) == 80, "expected 80 used, got %d", a.StorageUsed(cmn.MemOnHeap))
}

func TestAcquireFailsWhenEvictionFallsShort(t *testing.T) {
	a := memacct.NewAccount(100, 0)
	ev := &mockEvictor{freeable: 0, release: func(int64) {}}
	a.SetEvictor(ev)
	tassert.Fatalf(t, a.AcquireStorage(block.RDDID(1, 0), 90, cmn.MemOnHeap), "first acquire must succeed")
	tassert.Errorf(t, !a.AcquireStorage(block.RDDID(2, 0), 90, cmn.MemOnHeap), "acquire must fail when nothing frees")
	tassert.Errorf(t, a.StorageUsed(cmn.MemOnHeap) == 90, "failed acquire must not mutate state")
}

func TestUnrollTransfer(t *testing.T) {
	var (
		a      = memacct.NewAccount(100, 0)
		b      = block.RDDID(1, 0)
		taskID = int64(42)
	)
	tassert.Fatalf(t, a.AcquireUnroll(taskID, b, 50, cmn.MemOnHeap), "unroll acquire must succeed")
	tassert.Errorf(t, a.UnrollUsed(cmn.MemOnHeap) == 50, "expected 50 unroll bytes")

	// final size below the reservation: release the excess, then transfer
	a.ReleaseUnroll(taskID, 20, cmn.MemOnHeap)
	a.TransferUnroll(taskID, 30, cmn.MemOnHeap)
	tassert.Errorf(t, a.UnrollUsed(cmn.MemOnHeap) == 0, "unroll must be empty after transfer, got %d", a.UnrollUsed(cmn.MemOnHeap))
	tassert.Errorf(t, a.StorageUsed(cmn.MemOnHeap) == 30, "expected 30 storage bytes, got %d", a.StorageUsed(cmn.MemOnHeap))
}

func TestReleaseAllUnroll(t *testing.T) {
	a := memacct.NewAccount(100, 0)
	tassert.Fatalf(t, a.AcquireUnroll(1, block.RDDID(1, 0), 30, cmn.MemOnHeap), "unroll acquire must succeed")
	tassert.Fatalf(t, a.AcquireUnroll(2, block.RDDID(2, 0), 40, cmn.MemOnHeap), "unroll acquire must succeed")
	a.ReleaseAllUnroll(1)
	tassert.Errorf(t, a.UnrollUsed(cmn.MemOnHeap) == 40, "only task 1's unroll must be freed, got %d", a.UnrollUsed(cmn.MemOnHeap))
	a.ReleaseAllUnroll(2)
	tassert.Errorf(t, a.UnrollUsed(cmn.MemOnHeap) == 0, "all unroll must be freed")
}

func TestModesAreSeparatePools(t *testing.T) {
	a := memacct.NewAccount(100, 50)
	tassert.Fatalf(t, a.AcquireStorage(block.RDDID(1, 0), 100, cmn.MemOnHeap), "on-heap acquire must succeed")
	tassert.Fatalf(t, a.AcquireStorage(block.RDDID(2, 0), 50, cmn.MemOffHeap), "off-heap acquire must succeed")
	tassert.Errorf(t, !a.AcquireStorage(block.RDDID(3, 0), 1, cmn.MemOffHeap), "off-heap pool must be exhausted")
}
