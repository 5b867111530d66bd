// Package evict implements the policy-parameterised eviction planner: given a
// byte target, select victim blocks under LRU, LRC, or OSL/leasing rules.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package evict

import (
	"sort"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/nlock"
	"github.com/golang/glog"
)

type (
	// Store is the planner's view of the entry table. Drop is invoked with the
	// block's write lock held; the store settles post-eviction state (handler,
	// byte release, metadata, lock release/removal).
	Store interface {
		AccessOrder() []block.ID // least- to most-recently-accessed snapshot
		EntryInfo(b block.ID) (size int64, mode cmn.MemoryMode, ok bool)
		Drop(b block.ID) (freed int64, spilled bool)
	}

	RefSource interface {
		RefOf(b block.ID) (int64, bool)
		CurrentRef(b block.ID) (int64, bool)
	}

	LeaseSource interface {
		CurrentLease(d block.DatasetID) (int64, bool)
		LeaseOf(d block.DatasetID) int64
		CurrentLeases() map[block.DatasetID]int64
	}

	Planner struct {
		policy string
		store  Store
		locks  *nlock.Table
		refs   RefSource
		leases LeaseSource
	}
)

func NewPlanner(policy string, store Store, locks *nlock.Table, refs RefSource, leases LeaseSource) *Planner {
	cmn.AssertMsg(policy == cmn.PolicyLRU || policy == cmn.PolicyLRC || policy == cmn.PolicyOSL,
		"unknown eviction policy "+policy)
	return &Planner{policy: policy, store: store, locks: locks, refs: refs, leases: leases}
}

func (p *Planner) Policy() string { return p.policy }

// TryFree makes room for at most one block `req` (nil for anonymous pressure)
// of size `need` in the given mode. Victims accumulate until their sizes cover
// the target; if the target cannot be reached every selection is released and
// 0 is returned. Returns total bytes freed otherwise.
func (p *Planner) TryFree(req *block.ID, need int64, mode cmn.MemoryMode) int64 {
	var selected []block.ID
	switch p.policy {
	case cmn.PolicyLRU:
		selected = p.selectLRU(req, need, mode)
	case cmn.PolicyLRC:
		selected = p.selectLRC(req, need, mode)
	case cmn.PolicyOSL:
		selected = p.selectOSL(req, need, mode)
	}
	if selected == nil {
		return 0
	}
	var freed int64
	for _, c := range selected {
		n, spilled := p.store.Drop(c)
		freed += n
		if glog.V(4) {
			glog.Infof("evicted %s (%s, spilled=%t)", c, cmn.B2S(n, 1), spilled)
		}
	}
	return freed
}

// CheckLease drops every write-lockable RDD block whose dataset lease has
// expired. No byte target: expired means gone.
func (p *Planner) CheckLease() {
	if p.policy != cmn.PolicyOSL {
		return
	}
	for _, c := range p.store.AccessOrder() {
		if !c.IsRDD() {
			continue
		}
		l, ok := p.leases.CurrentLease(c.Dataset)
		if !ok || l > 0 {
			continue
		}
		if !p.locks.TryLock(c, true) {
			continue
		}
		p.store.Drop(c)
	}
}

//
// per-policy selection
//

// selectLRU walks the entry table oldest-first.
func (p *Planner) selectLRU(req *block.ID, need int64, mode cmn.MemoryMode) []block.ID {
	var (
		selected []block.ID
		total    int64
	)
	for _, c := range p.store.AccessOrder() {
		if total >= need {
			break
		}
		size, ok := p.grab(c, req, mode)
		if !ok {
			continue
		}
		selected = append(selected, c)
		total += size
	}
	return p.settle(selected, total, need)
}

// selectLRC ranks candidates by current_ref_map ascending and admits only
// victims referenced strictly less than the incoming block. Broadcast (and
// anonymous) requests admit unconditionally.
func (p *Planner) selectLRC(req *block.ID, need int64, mode cmn.MemoryMode) []block.ID {
	type cand struct {
		id  block.ID
		ref int64
	}
	var (
		cands    []cand
		incoming = int64(-1) // -1: +inf
	)
	if req != nil && req.IsRDD() {
		if r, ok := p.refs.RefOf(*req); ok {
			incoming = r
		}
	}
	for _, c := range p.store.AccessOrder() {
		r, ok := p.refs.CurrentRef(c)
		if !ok {
			continue
		}
		cands = append(cands, cand{c, r})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].ref < cands[j].ref })

	var (
		selected []block.ID
		total    int64
	)
	for _, c := range cands {
		if total >= need {
			break
		}
		if incoming >= 0 && c.ref >= incoming {
			break // remaining candidates are referenced at least as much
		}
		size, ok := p.grab(c.id, req, mode)
		if !ok {
			continue
		}
		selected = append(selected, c.id)
		total += size
	}
	return p.settle(selected, total, need)
}

// selectOSL runs the two leasing phases: first RDD blocks with no runtime
// lease at all, then datasets by current lease ascending, gated on the
// incoming dataset's own lease.
func (p *Planner) selectOSL(req *block.ID, need int64, mode cmn.MemoryMode) []block.ID {
	var (
		selected []block.ID
		total    int64
		reqLease int64
	)
	if req != nil && req.IsRDD() {
		if l, ok := p.leases.CurrentLease(req.Dataset); ok {
			reqLease = l
		} else {
			reqLease = p.leases.LeaseOf(req.Dataset)
		}
	}

	// phase 1: leaseless blocks
	for _, c := range p.store.AccessOrder() {
		if total >= need {
			break
		}
		if !c.IsRDD() {
			continue
		}
		if _, ok := p.leases.CurrentLease(c.Dataset); ok {
			continue
		}
		size, ok := p.grab(c, req, mode)
		if !ok {
			continue
		}
		selected = append(selected, c)
		total += size
	}

	// phase 2: datasets by lease ascending
	if total < need {
		type dlease struct {
			d block.DatasetID
			l int64
		}
		snap := p.leases.CurrentLeases()
		order := make([]dlease, 0, len(snap))
		for d, l := range snap {
			order = append(order, dlease{d, l})
		}
		sort.Slice(order, func(i, j int) bool {
			if order[i].l != order[j].l {
				return order[i].l < order[j].l
			}
			return order[i].d < order[j].d
		})
	outer:
		for _, dl := range order {
			if reqLease > dl.l {
				continue // candidate's dataset is protected less than the requester needs
			}
			for _, c := range p.store.AccessOrder() {
				if total >= need {
					break outer
				}
				if !c.IsRDD() || c.Dataset != dl.d {
					continue
				}
				size, ok := p.grab(c, req, mode)
				if !ok {
					continue
				}
				selected = append(selected, c)
				total += size
			}
		}
	}
	return p.settle(selected, total, need)
}

// grab qualifies a candidate: entry present in the requested mode, not a
// sibling of the incoming block (no self-thrash on one oversized dataset),
// and write-lockable without blocking.
func (p *Planner) grab(c block.ID, req *block.ID, mode cmn.MemoryMode) (size int64, ok bool) {
	var emode cmn.MemoryMode
	size, emode, ok = p.store.EntryInfo(c)
	if !ok || emode != mode {
		return 0, false
	}
	if req != nil && req.IsRDD() && c.IsRDD() && c.Dataset == req.Dataset {
		return 0, false
	}
	if !p.locks.TryLock(c, true) {
		return 0, false
	}
	return size, true
}

// settle releases the selection when the byte target was not reached.
func (p *Planner) settle(selected []block.ID, total, need int64) []block.ID {
	if total >= need {
		return selected
	}
	for _, c := range selected {
		p.locks.Unlock(c, true)
	}
	return nil
}
