// Package nlock provides non-reentrant per-block read/write locks used to gate
// concurrent access and eviction of individual cached blocks.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package nlock

import (
	"sync"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
)

const numShards = 0x40

type (
	// Table is a sharded lock table keyed by block id. Shard selection uses the
	// block id's digest. Locks are non-reentrant: a holder that write-locks a
	// block it already holds, or read-locks a block it holds for writing,
	// deadlocks (blocking) or fails (non-blocking). Read locks are shared, so a
	// second read lock on a read-locked block succeeds.
	Table struct {
		shards [numShards]shard
	}
	shard struct {
		mu   sync.Mutex
		cond *sync.Cond
		m    map[block.ID]*lockInfo
	}
	lockInfo struct {
		readers int
		writer  bool
	}
)

func NewTable() (t *Table) {
	t = &Table{}
	for i := range t.shards {
		s := &t.shards[i]
		s.m = make(map[block.ID]*lockInfo)
		s.cond = sync.NewCond(&s.mu)
	}
	return
}

func (t *Table) shard(b block.ID) *shard {
	return &t.shards[b.Digest()%numShards]
}

// TryLock acquires the lock without blocking. With exclusive=true it fails if
// any other holder exists, readers included.
func (t *Table) TryLock(b block.ID, exclusive bool) (ok bool) {
	s := t.shard(b)
	s.mu.Lock()
	li := s.get(b)
	if exclusive {
		if li.writer || li.readers > 0 {
			s.mu.Unlock()
			return false
		}
		li.writer = true
	} else {
		if li.writer {
			s.mu.Unlock()
			return false
		}
		li.readers++
	}
	s.mu.Unlock()
	return true
}

// Lock blocks until the lock is acquired.
func (t *Table) Lock(b block.ID, exclusive bool) {
	s := t.shard(b)
	s.mu.Lock()
	li := s.get(b)
	if exclusive {
		for li.writer || li.readers > 0 {
			s.cond.Wait()
			li = s.get(b)
		}
		li.writer = true
	} else {
		for li.writer {
			s.cond.Wait()
			li = s.get(b)
		}
		li.readers++
	}
	s.mu.Unlock()
}

func (t *Table) Unlock(b block.ID, exclusive bool) {
	s := t.shard(b)
	s.mu.Lock()
	li, ok := s.m[b]
	cmn.AssertMsg(ok, "unlock of unknown block "+b.String())
	if exclusive {
		cmn.AssertMsg(li.writer, "unlock of not write-locked block "+b.String())
		li.writer = false
	} else {
		cmn.AssertMsg(li.readers > 0, "unlock of not read-locked block "+b.String())
		li.readers--
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Remove drops the lock metadata. The caller must hold the write lock (the
// lock itself evaporates with the metadata).
func (t *Table) Remove(b block.ID) {
	s := t.shard(b)
	s.mu.Lock()
	if li, ok := s.m[b]; ok {
		cmn.AssertMsg(li.readers == 0, "removing read-locked block "+b.String())
		delete(s.m, b)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Contains reports whether lock metadata exists for the block.
func (t *Table) Contains(b block.ID) (ok bool) {
	s := t.shard(b)
	s.mu.Lock()
	_, ok = s.m[b]
	s.mu.Unlock()
	return
}

func (s *shard) get(b block.ID) (li *lockInfo) {
	li, ok := s.m[b]
	if !ok {
		li = &lockInfo{}
		s.m[b] = li
	}
	return
}
