// Package refmodel tracks remaining block references: the per-block countdown
// that reference-aware eviction (LRC) ranks its victims by, plus the peer and
// per-job profiles received from the master directory.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package refmodel_test

import (
	"testing"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/refmodel"
	"github.com/NVIDIA/memcache/tutils/tassert"
)

func newModel(refs map[block.DatasetID]int64, peers map[block.DatasetID]block.DatasetID) *refmodel.Model {
	m := refmodel.NewModel()
	m.SetProfiles(refs, nil, peers)
	return m
}

func admit(t *testing.T, m *refmodel.Model, b block.ID) {
	t.Helper()
	tassert.CheckFatal(t, m.Admit(b))
	m.Installed(b)
}

func TestAdmitUsesProfile(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 2, 2: 4}, nil)
	admit(t, m, block.RDDID(1, 0))

	r, ok := m.RefOf(block.RDDID(1, 0))
	tassert.Fatalf(t, ok, "admitted block must be tracked")
	tassert.Errorf(t, r == 2, "expected profile refs 2, got %d", r)
	c, ok := m.CurrentRef(block.RDDID(1, 0))
	tassert.Fatalf(t, ok, "installed block must have a current ref")
	tassert.Errorf(t, c == 2, "expected current refs 2, got %d", c)
}

func TestAdmitWithoutProfileDefaultsToOne(t *testing.T) {
	m := newModel(nil, nil)
	admit(t, m, block.RDDID(9, 3))
	r, _ := m.RefOf(block.RDDID(9, 3))
	tassert.Errorf(t, r == 1, "profile-less block must default to one reference, got %d", r)
}

func TestDuplicateAdmitFails(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 5}, nil)
	admit(t, m, block.RDDID(1, 0))
	m.OnHit(block.RDDID(1, 0)) // 5 -> 4
	err := m.Admit(block.RDDID(1, 0))
	tassert.Fatalf(t, err != nil, "duplicate admit must fail")
	r, _ := m.RefOf(block.RDDID(1, 0))
	tassert.Errorf(t, r == 4, "duplicate admit must not overwrite, got %d", r)
}

func TestNonRDDBlocksAreIgnored(t *testing.T) {
	m := newModel(nil, nil)
	tassert.CheckFatal(t, m.Admit(block.BroadcastID(1)))
	m.Installed(block.BroadcastID(1))
	if _, ok := m.RefOf(block.BroadcastID(1)); ok {
		t.Error("broadcast blocks must not be tracked")
	}
}

func TestHitAndMiss(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 3}, nil)
	b := block.RDDID(1, 0)
	admit(t, m, b)

	m.OnHit(b)
	r, _ := m.RefOf(b)
	c, _ := m.CurrentRef(b)
	tassert.Errorf(t, r == 2 && c == 2, "hit must age both maps, got ref=%d cur=%d", r, c)

	m.OnMiss(b)
	r, _ = m.RefOf(b)
	c, _ = m.CurrentRef(b)
	tassert.Errorf(t, r == 1, "miss must age ref_map, got %d", r)
	tassert.Errorf(t, c == 2, "miss must not age current_ref_map, got %d", c)

	// counts never go negative
	for i := 0; i < 5; i++ {
		m.OnHit(b)
	}
	r, _ = m.RefOf(b)
	c, _ = m.CurrentRef(b)
	tassert.Errorf(t, r == 0 && c == 0, "counts must clamp at zero, got ref=%d cur=%d", r, c)
}

func TestSpilledBlockKeepsRefMap(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 3}, nil)
	b := block.RDDID(1, 0)
	admit(t, m, b)
	m.RemoveCurrent(b)
	if _, ok := m.CurrentRef(b); ok {
		t.Error("spilled block must lose its current ref")
	}
	if _, ok := m.RefOf(b); !ok {
		t.Error("spilled block must keep its ref_map entry")
	}
}

func TestPeerConservative(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 3, 2: 3}, map[block.DatasetID]block.DatasetID{1: 2})
	var (
		b           = block.RDDID(1, 4)
		counterpart = block.RDDID(2, 4)
	)
	admit(t, m, b)
	admit(t, m, counterpart)

	m.PeerEvictedConservative(b, "ev-1")
	r, _ := m.RefOf(b)
	tassert.Errorf(t, r == 2, "evicted block must lose one reference, got %d", r)
	r, _ = m.RefOf(counterpart)
	tassert.Errorf(t, r == 2, "counterpart must lose one reference, got %d", r)

	// blocks of the same datasets but other partitions are untouched
	other := block.RDDID(1, 7)
	admit(t, m, other)
	r, _ = m.RefOf(other)
	tassert.Errorf(t, r == 3, "conservative mode must not touch other partitions, got %d", r)
}

// replaying the same peer-eviction event decrements exactly once
func TestPeerConservativeIdempotence(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 3, 2: 3}, map[block.DatasetID]block.DatasetID{1: 2})
	b := block.RDDID(1, 0)
	admit(t, m, b)
	admit(t, m, block.RDDID(2, 0))

	m.PeerEvictedConservative(b, "ev-42")
	m.PeerEvictedConservative(b, "ev-42")
	r, _ := m.RefOf(b)
	tassert.Errorf(t, r == 2, "replayed event must decrement once, got %d", r)
	r, _ = m.RefOf(block.RDDID(2, 0))
	tassert.Errorf(t, r == 2, "replayed event must decrement counterpart once, got %d", r)
}

// a counterpart that is not yet cached gets its decrement on arrival
func TestPeerLostBlockReplay(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 3, 2: 3}, map[block.DatasetID]block.DatasetID{1: 2})
	b := block.RDDID(1, 1)
	admit(t, m, b)

	m.PeerEvictedConservative(b, "ev-7")

	late := block.RDDID(2, 1)
	admit(t, m, late)
	r, _ := m.RefOf(late)
	tassert.Errorf(t, r == 2, "pending peer decrement must apply on arrival, got %d", r)
	c, _ := m.CurrentRef(late)
	tassert.Errorf(t, c == 2, "current ref must reflect the pending decrement, got %d", c)

	// and only once
	m.Remove(late)
	admit(t, m, late)
	r, _ = m.RefOf(late)
	tassert.Errorf(t, r == 3, "pending decrement must not re-apply, got %d", r)
}

func TestPeerStrict(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 3, 2: 3, 5: 9}, map[block.DatasetID]block.DatasetID{1: 2})
	blocks := []block.ID{block.RDDID(1, 0), block.RDDID(1, 1), block.RDDID(2, 0), block.RDDID(5, 0)}
	for _, b := range blocks {
		admit(t, m, b)
	}

	m.PeerEvictedStrict(block.RDDID(1, 0), "ev-9")
	for _, b := range blocks[:3] {
		r, _ := m.RefOf(b)
		tassert.Errorf(t, r == 2, "%s: strict mode must age every block of both datasets, got %d", b, r)
		c, _ := m.CurrentRef(b)
		tassert.Errorf(t, c == 2, "%s: strict mode must age current refs too, got %d", b, c)
	}
	r, _ := m.RefOf(block.RDDID(5, 0))
	tassert.Errorf(t, r == 9, "unrelated dataset must be untouched, got %d", r)

	pr, _ := m.ProfileRef(1)
	tassert.Errorf(t, pr == 2, "strict mode must age the dataset profile, got %d", pr)
	pr, _ = m.ProfileRef(2)
	tassert.Errorf(t, pr == 2, "strict mode must age the peer profile, got %d", pr)
}

// job-DAG arrival replaces reference counts, it never adds
func TestApplyJobRefsReplaces(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 2}, nil)
	b := block.RDDID(1, 0)
	admit(t, m, b)
	m.OnHit(b) // 2 -> 1

	m.ApplyJobRefs(map[block.DatasetID]int64{1: 10})
	r, _ := m.RefOf(b)
	c, _ := m.CurrentRef(b)
	tassert.Errorf(t, r == 10 && c == 10, "job refs must replace, got ref=%d cur=%d", r, c)
	pr, _ := m.ProfileRef(1)
	tassert.Errorf(t, pr == 10, "job refs must rewrite the profile, got %d", pr)
}

func TestOnJobStart(t *testing.T) {
	m := refmodel.NewModel()
	m.SetProfiles(
		map[block.DatasetID]int64{1: 1},
		map[block.JobID]map[block.DatasetID]int64{3: {1: 6}},
		nil,
	)
	b := block.RDDID(1, 0)
	admit(t, m, b)
	m.OnJobStart(3)
	r, _ := m.RefOf(b)
	tassert.Errorf(t, r == 6, "job start must apply the per-job profile, got %d", r)
}

// ref_map[b] >= current_ref_map[b] >= 0 after every completed operation
func TestInvariantRefAtLeastCurrent(t *testing.T) {
	m := newModel(map[block.DatasetID]int64{1: 4}, nil)
	b := block.RDDID(1, 0)
	admit(t, m, b)
	for i := 0; i < 6; i++ {
		m.OnHit(b)
		r, _ := m.RefOf(b)
		c, _ := m.CurrentRef(b)
		tassert.Fatalf(t, r >= c && c >= 0, "hit %d: want ref>=cur>=0, got ref=%d cur=%d", i, r, c)
	}
	// a spilled copy ages ref_map alone
	m.RemoveCurrent(b)
	m.OnMiss(b)
	r, _ := m.RefOf(b)
	tassert.Errorf(t, r == 0, "expected ref 0, got %d", r)
}
