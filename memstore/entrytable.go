// Package memstore implements the worker-side in-memory block store:
// the access-ordered entry table and the top-level put/get/remove API.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"container/list"
	"sync"

	"github.com/NVIDIA/memcache/block"
)

type (
	// entryTable is an insertion-ordered map block.ID -> Entry that promotes a
	// key to most-recently-accessed on Get. Iteration snapshots are taken
	// under the table mutex and yield keys least- to most-recently-accessed.
	entryTable struct {
		mu sync.Mutex
		l  *list.List // front: LRU, back: MRU
		m  map[block.ID]*list.Element
	}
	tableItem struct {
		id    block.ID
		entry Entry
	}
)

func newEntryTable() *entryTable {
	return &entryTable{l: list.New(), m: make(map[block.ID]*list.Element)}
}

// Put installs the entry at the most-recently-accessed end. A whole-entry
// replacement keeps the key's position semantics: the new entry is MRU.
func (t *entryTable) Put(b block.ID, e Entry) {
	t.mu.Lock()
	if el, ok := t.m[b]; ok {
		el.Value.(*tableItem).entry = e
		t.l.MoveToBack(el)
	} else {
		t.m[b] = t.l.PushBack(&tableItem{id: b, entry: e})
	}
	t.mu.Unlock()
}

// Get returns the entry and promotes the key to MRU.
func (t *entryTable) Get(b block.ID) (e Entry, ok bool) {
	t.mu.Lock()
	el, ok := t.m[b]
	if ok {
		t.l.MoveToBack(el)
		e = el.Value.(*tableItem).entry
	}
	t.mu.Unlock()
	return
}

// Load returns the entry without touching the access order.
func (t *entryTable) Load(b block.ID) (e Entry, ok bool) {
	t.mu.Lock()
	el, ok := t.m[b]
	if ok {
		e = el.Value.(*tableItem).entry
	}
	t.mu.Unlock()
	return
}

func (t *entryTable) Remove(b block.ID) (e Entry, ok bool) {
	t.mu.Lock()
	el, ok := t.m[b]
	if ok {
		e = el.Value.(*tableItem).entry
		t.l.Remove(el)
		delete(t.m, b)
	}
	t.mu.Unlock()
	return
}

func (t *entryTable) Contains(b block.ID) (ok bool) {
	t.mu.Lock()
	_, ok = t.m[b]
	t.mu.Unlock()
	return
}

func (t *entryTable) Len() (n int) {
	t.mu.Lock()
	n = len(t.m)
	t.mu.Unlock()
	return
}

// Keys snapshots the access order, least-recently-accessed first.
func (t *entryTable) Keys() (keys []block.ID) {
	t.mu.Lock()
	keys = make([]block.ID, 0, len(t.m))
	for el := t.l.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*tableItem).id)
	}
	t.mu.Unlock()
	return
}

// ContainsDataset reports whether any RDD block of the dataset is cached.
func (t *entryTable) ContainsDataset(d block.DatasetID) (ok bool) {
	t.mu.Lock()
	for el := t.l.Front(); el != nil; el = el.Next() {
		id := el.Value.(*tableItem).id
		if id.IsRDD() && id.Dataset == d {
			ok = true
			break
		}
	}
	t.mu.Unlock()
	return
}

// CountRDD is the cached-RDD-block count (the average-cache-size scale).
func (t *entryTable) CountRDD() (n int64) {
	t.mu.Lock()
	for el := t.l.Front(); el != nil; el = el.Next() {
		if el.Value.(*tableItem).id.IsRDD() {
			n++
		}
	}
	t.mu.Unlock()
	return
}
