// Package memacct tracks the byte budget of a worker's in-memory block cache:
// storage vs unroll reservations, per memory mode, with eviction-on-demand.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memacct

import (
	"sync"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/golang/glog"
)

type (
	// Evictor makes room for a pending reservation. Returns bytes freed;
	// a result below `need` means the reservation cannot be satisfied.
	Evictor interface {
		TryFree(req *block.ID, need int64, mode cmn.MemoryMode) int64
	}

	// Account arbitrates one worker's cache memory. Storage bytes and unroll
	// bytes share the per-mode pool but are tracked independently, unroll
	// per task, so a successful put can transfer its unroll reservation to
	// storage atomically.
	//
	// Locking: `mu` guards all byte counters and is never held across calls
	// into the Evictor (the eviction handler re-enters the account to release
	// the bytes of dropped blocks). `acqMu` serializes the whole
	// acquire-evict-retry sequence so the post-eviction retry cannot
	// double-commit against a concurrent acquirer.
	Account struct {
		acqMu   sync.Mutex
		mu      sync.Mutex
		max     [cmn.NumMemoryModes]int64
		storage [cmn.NumMemoryModes]int64
		unroll  [cmn.NumMemoryModes]int64
		byTask  map[int64]*[cmn.NumMemoryModes]int64 // task id -> unroll held
		evictor Evictor
	}
)

func NewAccount(maxOnHeap, maxOffHeap int64) *Account {
	a := &Account{byTask: make(map[int64]*[cmn.NumMemoryModes]int64)}
	a.max[cmn.MemOnHeap] = maxOnHeap
	a.max[cmn.MemOffHeap] = maxOffHeap
	return a
}

// SetEvictor breaks the construction cycle: the planner needs the store,
// the store needs the account.
func (a *Account) SetEvictor(e Evictor) { a.evictor = e }

func (a *Account) MaxOnHeapStorage() int64 { return a.max[cmn.MemOnHeap] }

func (a *Account) StorageUsed(mode cmn.MemoryMode) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storage[mode]
}

func (a *Account) UnrollUsed(mode cmn.MemoryMode) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unroll[mode]
}

func (a *Account) Used(mode cmn.MemoryMode) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storage[mode] + a.unroll[mode]
}

func (a *Account) Free(mode cmn.MemoryMode) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free(mode)
}

// AcquireStorage reserves n storage bytes for the block, evicting other
// blocks if the pool is over budget. Returns false when eviction could not
// free enough.
func (a *Account) AcquireStorage(b block.ID, n int64, mode cmn.MemoryMode) bool {
	a.acqMu.Lock()
	defer a.acqMu.Unlock()
	return a.acquire(&b, n, mode, &a.storage)
}

func (a *Account) ReleaseStorage(n int64, mode cmn.MemoryMode) {
	a.mu.Lock()
	cmn.Assertf(a.storage[mode] >= n, "storage release underflow: %d < %d", a.storage[mode], n)
	a.storage[mode] -= n
	a.mu.Unlock()
}

// AcquireUnroll reserves n unroll bytes on behalf of the task materializing
// the block. Same eviction-on-pressure path as storage.
func (a *Account) AcquireUnroll(taskID int64, b block.ID, n int64, mode cmn.MemoryMode) bool {
	a.acqMu.Lock()
	defer a.acqMu.Unlock()
	if !a.acquire(&b, n, mode, &a.unroll) {
		return false
	}
	a.mu.Lock()
	a.taskUnroll(taskID)[mode] += n
	a.mu.Unlock()
	return true
}

func (a *Account) ReleaseUnroll(taskID, n int64, mode cmn.MemoryMode) {
	a.mu.Lock()
	a.releaseUnrollLocked(taskID, n, mode)
	a.mu.Unlock()
}

// TransferUnroll converts `size` bytes of the task's unroll reservation into
// storage bytes, atomically under the account mutex. The caller must have
// already released any unroll excess beyond `size`.
func (a *Account) TransferUnroll(taskID, size int64, mode cmn.MemoryMode) {
	a.mu.Lock()
	held := a.taskUnroll(taskID)
	cmn.Assertf(held[mode] >= size, "unroll transfer exceeds reservation: %d < %d", held[mode], size)
	held[mode] -= size
	a.unroll[mode] -= size
	a.storage[mode] += size
	a.mu.Unlock()
}

// ResetUnroll zeroes every unroll reservation (store clear).
func (a *Account) ResetUnroll() {
	a.mu.Lock()
	for mode := cmn.MemoryMode(0); mode < cmn.NumMemoryModes; mode++ {
		a.unroll[mode] = 0
	}
	a.byTask = make(map[int64]*[cmn.NumMemoryModes]int64)
	a.mu.Unlock()
}

// ReleaseAllUnroll frees whatever unroll memory the task still holds;
// invoked by the task-completion listener.
func (a *Account) ReleaseAllUnroll(taskID int64) {
	a.mu.Lock()
	if held, ok := a.byTask[taskID]; ok {
		for mode := cmn.MemoryMode(0); mode < cmn.NumMemoryModes; mode++ {
			a.unroll[mode] -= held[mode]
		}
		delete(a.byTask, taskID)
	}
	a.mu.Unlock()
}

//
// internals
//

func (a *Account) free(mode cmn.MemoryMode) int64 {
	return a.max[mode] - a.storage[mode] - a.unroll[mode]
}

// acquire commits n bytes into the given pool, falling back to eviction once.
// Caller holds acqMu; mu is taken only around counter mutations.
func (a *Account) acquire(b *block.ID, n int64, mode cmn.MemoryMode, pool *[cmn.NumMemoryModes]int64) bool {
	if n > a.max[mode] {
		return false
	}
	a.mu.Lock()
	if a.free(mode) >= n {
		pool[mode] += n
		a.mu.Unlock()
		return true
	}
	needed := n - a.free(mode)
	a.mu.Unlock()

	if a.evictor == nil {
		return false
	}
	freed := a.evictor.TryFree(b, needed, mode)
	if freed < needed {
		if glog.V(4) {
			glog.Infof("%s: eviction freed %s of required %s", b, cmn.B2S(freed, 1), cmn.B2S(needed, 1))
		}
		return false
	}
	a.mu.Lock()
	ok := a.free(mode) >= n
	if ok {
		pool[mode] += n
	}
	a.mu.Unlock()
	return ok
}

func (a *Account) releaseUnrollLocked(taskID, n int64, mode cmn.MemoryMode) {
	held := a.taskUnroll(taskID)
	released := cmn.MinI64(n, held[mode])
	held[mode] -= released
	a.unroll[mode] -= released
}

func (a *Account) taskUnroll(taskID int64) *[cmn.NumMemoryModes]int64 {
	held, ok := a.byTask[taskID]
	if !ok {
		held = &[cmn.NumMemoryModes]int64{}
		a.byTask[taskID] = held
	}
	return held
}
