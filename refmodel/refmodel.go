// Package refmodel tracks remaining block references: the per-block countdown
// that reference-aware eviction (LRC) ranks its victims by, plus the peer and
// per-job profiles received from the master directory.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package refmodel

import (
	"sync"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/golang/glog"
)

type (
	// Model owns ref_map (all storage tiers) and current_ref_map (in-memory
	// copies only). Each map has its own mutex; no operation holds two at a
	// time — per-block ordering comes from the caller's block lock.
	Model struct {
		refMu  sync.Mutex
		refMap map[block.ID]int64

		curMu  sync.Mutex
		curMap map[block.ID]int64

		profMu     sync.Mutex
		refProfile map[block.DatasetID]int64
		refByJob   map[block.JobID]map[block.DatasetID]int64
		peers      map[block.DatasetID]block.DatasetID

		peerMu     sync.Mutex
		peerLost   map[block.ID]int64 // pending decrements for blocks not yet cached
		seenEvents cmn.StringSet      // peer-eviction event ids already applied
	}
)

func NewModel() *Model {
	return &Model{
		refMap:     make(map[block.ID]int64),
		curMap:     make(map[block.ID]int64),
		refProfile: make(map[block.DatasetID]int64),
		refByJob:   make(map[block.JobID]map[block.DatasetID]int64),
		peers:      make(map[block.DatasetID]block.DatasetID),
		peerLost:   make(map[block.ID]int64),
		seenEvents: make(cmn.StringSet),
	}
}

// SetProfiles installs the (ref_profile, ref_profile_by_job, peer_profile)
// triple fetched from the master. Peers register both directions.
func (m *Model) SetProfiles(ref map[block.DatasetID]int64,
	byJob map[block.JobID]map[block.DatasetID]int64, peers map[block.DatasetID]block.DatasetID) {
	m.profMu.Lock()
	if ref != nil {
		m.refProfile = ref
	}
	if byJob != nil {
		m.refByJob = byJob
	}
	if peers != nil {
		m.peers = make(map[block.DatasetID]block.DatasetID, 2*len(peers))
		for a, b := range peers {
			m.peers[a] = b
			m.peers[b] = a
		}
	}
	m.profMu.Unlock()
}

// Admit assigns the initial reference count of an RDD block being ingested.
// Duplicate puts fail: the existing count is never overwritten.
func (m *Model) Admit(b block.ID) error {
	if !b.IsRDD() {
		return nil
	}
	m.profMu.Lock()
	refs, ok := m.refProfile[b.Dataset]
	m.profMu.Unlock()
	if !ok {
		refs = 1 // degenerate: block has no profile
	}
	m.refMu.Lock()
	if _, dup := m.refMap[b]; dup {
		m.refMu.Unlock()
		return cmn.NewDuplicatePutError(b.String())
	}
	m.refMap[b] = refs
	m.refMu.Unlock()
	return nil
}

// Installed completes ingestion after the entry landed in the table:
// current_ref_map mirrors ref_map, and any peer-eviction decrement that
// arrived before the block did is applied exactly once.
func (m *Model) Installed(b block.ID) {
	if !b.IsRDD() {
		return
	}
	m.refMu.Lock()
	refs := m.refMap[b]
	m.refMu.Unlock()

	m.peerMu.Lock()
	pending := m.peerLost[b]
	delete(m.peerLost, b)
	m.peerMu.Unlock()

	if pending > 0 {
		glog.Infof("%s: applying %d pending peer-eviction decrement(s)", b, pending)
		m.refMu.Lock()
		m.refMap[b] = dec(m.refMap[b], pending)
		refs = m.refMap[b]
		m.refMu.Unlock()
	}

	m.curMu.Lock()
	m.curMap[b] = refs
	m.curMu.Unlock()
}

// OnHit ages both maps after a successful in-memory read.
func (m *Model) OnHit(b block.ID) {
	if !b.IsRDD() {
		return
	}
	m.refMu.Lock()
	if r, ok := m.refMap[b]; ok {
		m.refMap[b] = dec(r, 1)
	}
	m.refMu.Unlock()
	m.curMu.Lock()
	if r, ok := m.curMap[b]; ok {
		m.curMap[b] = dec(r, 1)
	}
	m.curMu.Unlock()
}

// OnMiss ages ref_map only: the access happened, just not against a cached copy.
func (m *Model) OnMiss(b block.ID) {
	if !b.IsRDD() {
		return
	}
	m.refMu.Lock()
	if r, ok := m.refMap[b]; ok {
		m.refMap[b] = dec(r, 1)
	}
	m.refMu.Unlock()
}

// PeerEvictedConservative decrements the evicted block and its direct
// counterpart (same partition of the peer dataset). A counterpart that is not
// yet known locally gets a pending decrement, drained on arrival.
func (m *Model) PeerEvictedConservative(b block.ID, eventID string) {
	if !m.noteEvent(eventID + ".c") {
		return
	}
	peer, ok := m.Peer(b.Dataset)
	if !ok {
		glog.Infof("%s: no peer known for dataset %d", b, b.Dataset)
		return
	}
	counterpart := block.RDDID(peer, b.Part)
	m.decBlock(b)
	m.refMu.Lock()
	_, known := m.refMap[counterpart]
	m.refMu.Unlock()
	if known {
		m.decBlock(counterpart)
	} else {
		m.peerMu.Lock()
		m.peerLost[counterpart]++
		m.peerMu.Unlock()
	}
}

// PeerEvictedStrict decrements the profiles of both datasets and every
// tracked block belonging to either.
func (m *Model) PeerEvictedStrict(b block.ID, eventID string) {
	if !m.noteEvent(eventID + ".s") {
		return
	}
	d := b.Dataset
	peer, ok := m.Peer(d)
	if !ok {
		glog.Infof("%s: no peer known for dataset %d", b, d)
		return
	}
	m.profMu.Lock()
	if r, ok := m.refProfile[d]; ok {
		m.refProfile[d] = dec(r, 1)
	}
	if r, ok := m.refProfile[peer]; ok {
		m.refProfile[peer] = dec(r, 1)
	}
	m.profMu.Unlock()

	m.refMu.Lock()
	for id, r := range m.refMap {
		if id.Dataset == d || id.Dataset == peer {
			m.refMap[id] = dec(r, 1)
		}
	}
	m.refMu.Unlock()
	m.curMu.Lock()
	for id, r := range m.curMap {
		if id.Dataset == d || id.Dataset == peer {
			m.curMap[id] = dec(r, 1)
		}
	}
	m.curMu.Unlock()
}

// ApplyJobRefs replaces ref_profile entries with the job's reference map and
// rewrites every tracked block of the affected datasets. Distinct jobs are
// assumed not to share datasets in parallel.
func (m *Model) ApplyJobRefs(refs map[block.DatasetID]int64) {
	if len(refs) == 0 {
		return
	}
	m.profMu.Lock()
	for d, r := range refs {
		m.refProfile[d] = r
	}
	m.profMu.Unlock()

	m.refMu.Lock()
	for id := range m.refMap {
		if r, ok := refs[id.Dataset]; ok {
			m.refMap[id] = r
		}
	}
	m.refMu.Unlock()
	m.curMu.Lock()
	for id := range m.curMap {
		if r, ok := refs[id.Dataset]; ok {
			m.curMap[id] = r
		}
	}
	m.curMu.Unlock()
}

// OnJobStart applies the per-job reference map recorded in ref_profile_by_job.
func (m *Model) OnJobStart(job block.JobID) {
	m.profMu.Lock()
	refs := m.refByJob[job]
	m.profMu.Unlock()
	if refs == nil {
		glog.Infof("job %d: no per-job reference profile", job)
		return
	}
	m.ApplyJobRefs(refs)
}

func (m *Model) RefOf(b block.ID) (r int64, ok bool) {
	m.refMu.Lock()
	r, ok = m.refMap[b]
	m.refMu.Unlock()
	return
}

func (m *Model) CurrentRef(b block.ID) (r int64, ok bool) {
	m.curMu.Lock()
	r, ok = m.curMap[b]
	m.curMu.Unlock()
	return
}

func (m *Model) ProfileRef(d block.DatasetID) (r int64, ok bool) {
	m.profMu.Lock()
	r, ok = m.refProfile[d]
	m.profMu.Unlock()
	return
}

func (m *Model) Peer(d block.DatasetID) (peer block.DatasetID, ok bool) {
	m.profMu.Lock()
	peer, ok = m.peers[d]
	m.profMu.Unlock()
	return
}

// RemoveCurrent forgets the in-memory copy only; ref_map persists until the
// block is fully removed (e.g. it spilled to disk).
func (m *Model) RemoveCurrent(b block.ID) {
	m.curMu.Lock()
	delete(m.curMap, b)
	m.curMu.Unlock()
}

// Remove forgets the block entirely.
func (m *Model) Remove(b block.ID) {
	m.curMu.Lock()
	delete(m.curMap, b)
	m.curMu.Unlock()
	m.refMu.Lock()
	delete(m.refMap, b)
	m.refMu.Unlock()
}

// RemoveDataset forgets every block of the dataset (RemoveRdd fan-out).
func (m *Model) RemoveDataset(d block.DatasetID) (n int) {
	m.refMu.Lock()
	for id := range m.refMap {
		if id.Dataset == d && id.IsRDD() {
			delete(m.refMap, id)
			n++
		}
	}
	m.refMu.Unlock()
	m.curMu.Lock()
	for id := range m.curMap {
		if id.Dataset == d && id.IsRDD() {
			delete(m.curMap, id)
		}
	}
	m.curMu.Unlock()
	return
}

func (m *Model) Clear() {
	m.refMu.Lock()
	m.refMap = make(map[block.ID]int64)
	m.refMu.Unlock()
	m.curMu.Lock()
	m.curMap = make(map[block.ID]int64)
	m.curMu.Unlock()
	m.peerMu.Lock()
	m.peerLost = make(map[block.ID]int64)
	m.peerMu.Unlock()
}

// decBlock ages one block in both maps, skipping maps that do not track it.
func (m *Model) decBlock(b block.ID) {
	m.refMu.Lock()
	if r, ok := m.refMap[b]; ok {
		m.refMap[b] = dec(r, 1)
	}
	m.refMu.Unlock()
	m.curMu.Lock()
	if r, ok := m.curMap[b]; ok {
		m.curMap[b] = dec(r, 1)
	}
	m.curMu.Unlock()
}

// noteEvent returns false when the event id was seen before (replayed
// broadcasts decrement exactly once).
func (m *Model) noteEvent(eventID string) bool {
	if eventID == "" {
		return true
	}
	m.peerMu.Lock()
	defer m.peerMu.Unlock()
	if m.seenEvents.Contains(eventID) {
		return false
	}
	m.seenEvents.Add(eventID)
	return true
}

func dec(v, by int64) int64 {
	if v < by {
		return 0
	}
	return v - by
}
