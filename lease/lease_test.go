// Package lease computes and tracks Optimal Steady-state Leases (OSL):
// per-dataset protection windows derived from reuse-interval histograms.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package lease_test

import (
	"testing"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/lease"
	"github.com/NVIDIA/memcache/tutils/tassert"
)

func TestOSLAssignsFullLeasesUnderLargeBudget(t *testing.T) {
	e := lease.NewEngine()
	dag := map[block.DatasetID]lease.Histogram{
		1: {2: 1},
		2: {4: 1},
	}
	e.SetDAGInfo(dag, 1000, 2)
	tassert.Errorf(t, e.LeaseOf(1) == 2, "expected lease 2 for dataset 1, got %d", e.LeaseOf(1))
	tassert.Errorf(t, e.LeaseOf(2) == 4, "expected lease 4 for dataset 2, got %d", e.LeaseOf(2))
}

func TestOSLZeroBudget(t *testing.T) {
	e := lease.NewEngine()
	e.SetDAGInfo(map[block.DatasetID]lease.Histogram{1: {2: 5}}, 0, 0)
	tassert.Errorf(t, e.LeaseOf(1) == 0, "zero budget must assign no lease, got %d", e.LeaseOf(1))
}

func TestOSLPrefersCheaperHits(t *testing.T) {
	e := lease.NewEngine()
	// dataset 1: many hits per unit cost; dataset 2: one expensive hit
	dag := map[block.DatasetID]lease.Histogram{
		1: {1: 10},
		2: {100: 1},
	}
	// budget covers dataset 1's extension only
	e.SetDAGInfo(dag, 10, 2)
	tassert.Errorf(t, e.LeaseOf(1) == 1, "expected lease 1 for dataset 1, got %d", e.LeaseOf(1))
	tassert.Errorf(t, e.LeaseOf(2) == 0, "expected no lease for dataset 2, got %d", e.LeaseOf(2))
}

// HITS(d, lease) is non-decreasing in the budget, and leases never exceed the
// largest reuse interval of the histogram.
func TestOSLMonotonicity(t *testing.T) {
	dag := map[block.DatasetID]lease.Histogram{
		1: {2: 3, 5: 1, 9: 2},
		2: {1: 1, 4: 4},
		3: {7: 2},
	}
	maxRI := map[block.DatasetID]int64{1: 9, 2: 4, 3: 7}
	prev := map[block.DatasetID]int64{}
	for _, accessN := range []int64{0, 1, 2, 5, 10, 50, 1000} {
		e := lease.NewEngine()
		e.SetDAGInfo(dag, accessN, 3)
		for d := range dag {
			l := e.LeaseOf(d)
			tassert.Errorf(t, l >= prev[d], "dataset %d: lease shrank from %d to %d as budget grew", d, prev[d], l)
			tassert.Errorf(t, l <= maxRI[d], "dataset %d: lease %d exceeds largest reuse interval %d", d, l, maxRI[d])
			prev[d] = l
		}
	}
}

func TestTickAgesAndRefreshes(t *testing.T) {
	e := lease.NewEngine()
	dag := map[block.DatasetID]lease.Histogram{
		1: {5: 1},
		2: {3: 1},
	}
	e.SetDAGInfo(dag, 1000, 2)
	e.OnPut(1)
	e.OnPut(2)

	// dataset 2 is accessed N times; dataset 1 ages by N
	const n = 3
	for i := 0; i < n; i++ {
		e.Tick(2)
	}
	l1, ok := e.CurrentLease(1)
	tassert.Fatalf(t, ok, "dataset 1 must have runtime lease state")
	tassert.Errorf(t, l1 == e.LeaseOf(1)-n, "expected lease %d, got %d", e.LeaseOf(1)-n, l1)
	l2, _ := e.CurrentLease(2)
	tassert.Errorf(t, l2 == e.LeaseOf(2), "accessed dataset must be refreshed, got %d", l2)

	// aging clamps at zero
	for i := 0; i < 10; i++ {
		e.Tick(2)
	}
	l1, _ = e.CurrentLease(1)
	tassert.Errorf(t, l1 == 0, "lease must clamp at zero, got %d", l1)
}

func TestExpired(t *testing.T) {
	e := lease.NewEngine()
	e.SetDAGInfo(map[block.DatasetID]lease.Histogram{1: {1: 1}, 2: {8: 1}}, 1000, 2)
	e.OnPut(1)
	e.OnPut(2)
	e.Tick(2) // ages dataset 1 to zero, refreshes dataset 2
	expired := e.Expired()
	tassert.Fatalf(t, len(expired) == 1, "expected one expired dataset, got %v", expired)
	tassert.Errorf(t, expired[0] == 1, "expected dataset 1 expired, got %d", expired[0])
}

func TestDAGReplaceNotMerge(t *testing.T) {
	e := lease.NewEngine()
	e.SetDAGInfo(map[block.DatasetID]lease.Histogram{1: {2: 1}}, 1000, 1)
	tassert.Fatalf(t, e.LeaseOf(1) == 2, "precondition: dataset 1 leased")
	e.SetDAGInfo(map[block.DatasetID]lease.Histogram{2: {3: 1}}, 1000, 1)
	tassert.Errorf(t, e.LeaseOf(1) == 0, "replaced dag must forget dataset 1")
	tassert.Errorf(t, e.LeaseOf(2) == 3, "replaced dag must lease dataset 2")
}

func TestOnPutOnlyTracksProfiledDatasets(t *testing.T) {
	e := lease.NewEngine()
	e.SetDAGInfo(map[block.DatasetID]lease.Histogram{1: {2: 1}}, 1000, 1)
	e.OnPut(7) // no histogram
	if _, ok := e.CurrentLease(7); ok {
		t.Error("dataset without histogram must not gain runtime lease state")
	}
}
