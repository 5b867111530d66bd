// Package memstore implements the worker-side in-memory block store:
// the access-ordered entry table and the top-level put/get/remove API.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"encoding/binary"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/evict"
	"github.com/NVIDIA/memcache/lease"
	"github.com/NVIDIA/memcache/memacct"
	"github.com/NVIDIA/memcache/nlock"
	"github.com/NVIDIA/memcache/refmodel"
	"github.com/NVIDIA/memcache/stats"
	"github.com/golang/glog"
)

const (
	initialUnroll     = cmn.MiB // first unroll reservation of an incremental put
	unrollCheckPeriod = 16      // elements between size re-estimations
)

type (
	// EvictionHandler settles the fate of an evicted entry (e.g. spill to
	// disk) and returns the block's new storage level. An invalid level means
	// the block is gone. Injected at store construction.
	EvictionHandler interface {
		DropFromMemory(b block.ID, e Entry) block.StorageLevel
	}

	// DropListener observes evictions after the fact (the worker uses it to
	// update the master). Must not call back into the store.
	DropListener func(b block.ID, level block.StorageLevel, size int64)

	// MemoryStore is the top-level worker cache API orchestrating the memory
	// account, entry table, lock table, reference model, lease engine, and
	// eviction planner.
	MemoryStore struct {
		config  *cmn.Config
		account *memacct.Account
		table   *entryTable
		locks   *nlock.Table
		refs    *refmodel.Model
		leases  *lease.Engine
		planner *evict.Planner
		handler EvictionHandler
		statsT  stats.Tracker
		onDrop  DropListener
	}

	// PartialValues is the Left outcome of put_iterator_as_values: the
	// already-materialized prefix plus the remaining input. The unroll
	// reservation is retained until the caller consumes or discards it.
	PartialValues struct {
		s      *MemoryStore
		taskID int64
		vals   []Value
		rest   Iterator
		held   int64
		mode   cmn.MemoryMode
	}

	// PartialBytes is the Left outcome of put_iterator_as_bytes.
	PartialBytes struct {
		s      *MemoryStore
		taskID int64
		buf    *SGL
		rest   Iterator
		held   int64
		mode   cmn.MemoryMode
	}
)

var _ evict.Store = &MemoryStore{}
var _ memacct.Evictor = &evict.Planner{}

func NewStore(config *cmn.Config, account *memacct.Account, handler EvictionHandler, statsT stats.Tracker) *MemoryStore {
	s := &MemoryStore{
		config:  config,
		account: account,
		table:   newEntryTable(),
		locks:   nlock.NewTable(),
		refs:    refmodel.NewModel(),
		leases:  lease.NewEngine(),
		handler: handler,
		statsT:  statsT,
	}
	s.planner = evict.NewPlanner(config.Policy, s, s.locks, s.refs, s.leases)
	account.SetEvictor(s.planner)
	return s
}

func (s *MemoryStore) Refs() *refmodel.Model   { return s.refs }
func (s *MemoryStore) Leases() *lease.Engine   { return s.leases }
func (s *MemoryStore) Locks() *nlock.Table     { return s.locks }
func (s *MemoryStore) Account() *memacct.Account { return s.account }

func (s *MemoryStore) SetDropListener(f DropListener) { s.onDrop = f }

func (s *MemoryStore) Len() int { return s.table.Len() }

// PutBytes reserves `size`, then materializes the serialized form. Fails when
// the reservation fails after eviction attempts.
func (s *MemoryStore) PutBytes(b block.ID, size int64, mode cmn.MemoryMode, bytesFn func() *SGL) bool {
	s.admit(b)
	if !s.account.AcquireStorage(b, size, mode) {
		return false
	}
	buf := bytesFn()
	cmn.Assertf(buf.Size() == size, "%s: materialized %d bytes, reserved %d", b, buf.Size(), size)
	s.install(b, NewBytesEntry(buf, mode, ""))
	return true
}

// PutIteratorAsValues incrementally materializes the block as a value array.
// Every 16 elements the size estimate is refreshed and more unroll memory
// requested. On success the unroll reservation transfers to storage
// atomically; on memory exhaustion the partial result carries a continuation
// iterator over prefix + remainder.
func (s *MemoryStore) PutIteratorAsValues(taskID int64, b block.ID, it Iterator, tag string) (size int64, partial *PartialValues) {
	s.admit(b)
	const mode = cmn.MemOnHeap
	if !s.account.AcquireUnroll(taskID, b, initialUnroll, mode) {
		return 0, &PartialValues{s: s, taskID: taskID, rest: it, mode: mode}
	}
	var (
		held    = int64(initialUnroll)
		vals    []Value
		current int64
		count   int
	)
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		vals = append(vals, v)
		current += v.Size()
		count++
		if count%unrollCheckPeriod == 0 && current >= held {
			amount := current*3/2 - held
			if !s.account.AcquireUnroll(taskID, b, amount, mode) {
				return 0, &PartialValues{s: s, taskID: taskID, vals: vals, rest: it, held: held, mode: mode}
			}
			held += amount
		}
	}
	if current > held {
		if !s.account.AcquireUnroll(taskID, b, current-held, mode) {
			return 0, &PartialValues{s: s, taskID: taskID, vals: vals, rest: newEmptyIterator(), held: held, mode: mode}
		}
		held = current
	}
	if held > current {
		s.account.ReleaseUnroll(taskID, held-current, mode)
	}
	s.account.TransferUnroll(taskID, current, mode)
	s.install(b, NewValuesEntry(vals, current, tag))
	return current, nil
}

// PutIteratorAsBytes is the serializing sibling: values stream into a chunked
// output buffer, with a threshold check after each element.
func (s *MemoryStore) PutIteratorAsBytes(taskID int64, b block.ID, it Iterator, tag string, mode cmn.MemoryMode) (size int64, partial *PartialBytes) {
	s.admit(b)
	if !s.account.AcquireUnroll(taskID, b, initialUnroll, mode) {
		return 0, &PartialBytes{s: s, taskID: taskID, rest: it, mode: mode}
	}
	var (
		held = int64(initialUnroll)
		buf  = NewSGL(initialUnroll)
		lbuf [binary.MaxVarintLen64]byte
	)
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		data := cmn.MustMarshal(v)
		n := binary.PutUvarint(lbuf[:], uint64(len(data)))
		buf.Write(lbuf[:n])
		buf.Write(data)
		if buf.Size() >= held {
			amount := buf.Size()*3/2 - held
			if !s.account.AcquireUnroll(taskID, b, amount, mode) {
				return 0, &PartialBytes{s: s, taskID: taskID, buf: buf, rest: it, held: held, mode: mode}
			}
			held += amount
		}
	}
	size = buf.Size()
	if held > size {
		s.account.ReleaseUnroll(taskID, held-size, mode)
		held = size
	}
	s.account.TransferUnroll(taskID, size, mode)
	s.install(b, NewBytesEntry(buf, mode, tag))
	return size, nil
}

// GetBytes returns the serialized form. Calling it on a deserialized entry is
// a programmer error.
func (s *MemoryStore) GetBytes(b block.ID) (*SGL, bool) {
	s.locks.Lock(b, false)
	e, ok := s.table.Get(b)
	if !ok {
		s.locks.Unlock(b, false)
		s.miss(b)
		return nil, false
	}
	be, isBytes := e.(*BytesEntry)
	cmn.AssertMsg(isBytes, "get-bytes on deserialized entry "+b.String())
	s.locks.Unlock(b, false)
	s.hit(b)
	return be.Buf(), true
}

// GetValues returns the deserialized form. Calling it on a serialized entry
// is a programmer error.
func (s *MemoryStore) GetValues(b block.ID) ([]Value, bool) {
	s.locks.Lock(b, false)
	e, ok := s.table.Get(b)
	if !ok {
		s.locks.Unlock(b, false)
		s.miss(b)
		return nil, false
	}
	ve, isValues := e.(*ValuesEntry)
	cmn.AssertMsg(isValues, "get-values on serialized entry "+b.String())
	s.locks.Unlock(b, false)
	s.hit(b)
	return ve.Values(), true
}

// Contains reports presence without touching access order or ref counts.
func (s *MemoryStore) Contains(b block.ID) bool { return s.table.Contains(b) }

// EntrySize reports the in-memory footprint of a cached block.
func (s *MemoryStore) EntrySize(b block.ID) (size int64, ok bool) {
	e, ok := s.table.Load(b)
	if !ok {
		return
	}
	return e.Size(), true
}

// Remove evicts unconditionally: releases storage bytes and clears all
// per-block state. Returns false for absent blocks.
func (s *MemoryStore) Remove(b block.ID) bool {
	s.locks.Lock(b, true)
	e, ok := s.table.Remove(b)
	if !ok {
		s.locks.Remove(b)
		return false
	}
	s.account.ReleaseStorage(e.Size(), e.Mode())
	s.refs.Remove(b)
	if b.IsRDD() && !s.table.ContainsDataset(b.Dataset) {
		s.leases.RemoveCurrent(b.Dataset)
	}
	s.locks.Remove(b)
	return true
}

// RemoveDataset removes every cached block of the dataset; returns the count.
func (s *MemoryStore) RemoveDataset(d block.DatasetID) (n int) {
	for _, b := range s.table.Keys() {
		if b.IsRDD() && b.Dataset == d {
			if s.Remove(b) {
				n++
			}
		}
	}
	s.refs.RemoveDataset(d)
	return
}

// Clear removes all entries, resets unroll tables, releases all storage bytes.
func (s *MemoryStore) Clear() {
	for _, b := range s.table.Keys() {
		if e, ok := s.table.Remove(b); ok {
			s.account.ReleaseStorage(e.Size(), e.Mode())
			s.locks.Remove(b)
		}
	}
	s.refs.Clear()
	s.leases.Clear()
	s.account.ResetUnroll()
}

// EvictBlocksToFreeSpace is the public hook for the memory account.
func (s *MemoryStore) EvictBlocksToFreeSpace(b *block.ID, space int64, mode cmn.MemoryMode) int64 {
	return s.planner.TryFree(b, space, mode)
}

// OnTaskEnd frees any unroll memory the task still holds.
func (s *MemoryStore) OnTaskEnd(taskID int64) { s.account.ReleaseAllUnroll(taskID) }

// SetProfiles forwards the master's profile triple to the reference model.
func (s *MemoryStore) SetProfiles(ref map[block.DatasetID]int64,
	byJob map[block.JobID]map[block.DatasetID]int64, peers map[block.DatasetID]block.DatasetID) {
	s.refs.SetProfiles(ref, byJob, peers)
}

// OnJobDAG applies a job's reference map (replace semantics).
func (s *MemoryStore) OnJobDAG(job block.JobID, refs map[block.DatasetID]int64) {
	if refs == nil {
		s.refs.OnJobStart(job)
		return
	}
	s.refs.ApplyJobRefs(refs)
}

// OnDAGInfo replaces the reuse-interval histograms and recomputes the leases.
func (s *MemoryStore) OnDAGInfo(dag map[block.DatasetID]lease.Histogram, accessN int64) {
	avg := s.table.CountRDD()
	if avg == 0 {
		avg = int64(len(dag))
	}
	s.leases.SetDAGInfo(dag, accessN, avg)
}

//
// evict.Store interface (planner callbacks)
//

func (s *MemoryStore) AccessOrder() []block.ID { return s.table.Keys() }

func (s *MemoryStore) EntryInfo(b block.ID) (size int64, mode cmn.MemoryMode, ok bool) {
	e, ok := s.table.Load(b)
	if !ok {
		return
	}
	return e.Size(), e.Mode(), true
}

// Drop settles an eviction selected by the planner. The caller holds the
// block's write lock. A spilled block keeps its lock metadata and ref_map
// entry; a discarded block is erased everywhere.
func (s *MemoryStore) Drop(b block.ID) (freed int64, spilled bool) {
	e, ok := s.table.Remove(b)
	if !ok {
		s.locks.Unlock(b, true)
		return 0, false
	}
	level := block.NoStorage
	if s.handler != nil {
		level = s.handler.DropFromMemory(b, e)
	}
	s.account.ReleaseStorage(e.Size(), e.Mode())
	freed = e.Size()
	if level.Valid() {
		s.refs.RemoveCurrent(b)
		spilled = true
	} else {
		s.refs.Remove(b)
	}
	if b.IsRDD() && !s.table.ContainsDataset(b.Dataset) {
		s.leases.RemoveCurrent(b.Dataset)
	}
	if spilled {
		s.locks.Unlock(b, true)
	} else {
		s.locks.Remove(b)
	}
	if s.onDrop != nil {
		s.onDrop(b, level, freed)
	}
	return
}

//
// internals
//

// admit runs the ingestion steps of the reference model. A block already in
// the entry table is a protocol violation; a surviving ref_map entry (block
// re-cached after a spill) is logged and kept.
func (s *MemoryStore) admit(b block.ID) {
	cmn.AssertMsg(!s.table.Contains(b), "duplicate put of cached block "+b.String())
	if err := s.refs.Admit(b); err != nil {
		glog.Errorf("%v", err)
	}
}

func (s *MemoryStore) install(b block.ID, e Entry) {
	s.table.Put(b, e)
	if b.IsRDD() {
		s.leases.OnPut(b.Dataset)
	}
	s.refs.Installed(b)
}

func (s *MemoryStore) hit(b block.ID) {
	s.refs.OnHit(b)
	if b.IsRDD() {
		if s.statsT != nil {
			s.statsT.Add(stats.RDDHit, 1)
		}
		s.leases.Tick(b.Dataset)
		s.planner.CheckLease()
	}
}

func (s *MemoryStore) miss(b block.ID) {
	s.refs.OnMiss(b)
	if b.IsRDD() && s.statsT != nil {
		s.statsT.Add(stats.RDDMiss, 1)
	}
}

//
// partial results
//

// Iterator concatenates the materialized prefix with the remaining input.
func (p *PartialValues) Iterator() Iterator {
	return &concatIterator{first: NewSliceIterator(p.vals), second: p.rest}
}

// Discard releases the retained unroll memory.
func (p *PartialValues) Discard() {
	if p.held > 0 {
		p.s.account.ReleaseUnroll(p.taskID, p.held, p.mode)
		p.held = 0
	}
}

// Buf exposes the partially serialized prefix.
func (p *PartialBytes) Buf() *SGL { return p.buf }

// Rest is the unconsumed remainder of the input.
func (p *PartialBytes) Rest() Iterator { return p.rest }

func (p *PartialBytes) Discard() {
	if p.held > 0 {
		p.s.account.ReleaseUnroll(p.taskID, p.held, p.mode)
		p.held = 0
	}
	if p.buf != nil {
		p.buf.Free()
	}
}

type emptyIterator struct{}

func newEmptyIterator() Iterator           { return &emptyIterator{} }
func (emptyIterator) Next() (Value, bool) { return nil, false }
