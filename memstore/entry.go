// Package memstore implements the worker-side in-memory block store:
// the access-ordered entry table and the top-level put/get/remove API.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"github.com/NVIDIA/memcache/cmn"
)

type (
	// Value is one element of a deserialized block.
	Value interface {
		Size() int64
	}

	// Iterator yields the values of a block being materialized.
	Iterator interface {
		Next() (Value, bool)
	}

	// Entry is one cached block, stored either as a deserialized value array
	// or a chunked byte buffer — the two forms are mutually exclusive.
	Entry interface {
		Size() int64
		Mode() cmn.MemoryMode
		Tag() string
		Deserialized() bool
	}

	ValuesEntry struct {
		vals []Value
		size int64
		tag  string
	}

	BytesEntry struct {
		buf  *SGL
		mode cmn.MemoryMode
		tag  string
	}
)

var (
	_ Entry = &ValuesEntry{}
	_ Entry = &BytesEntry{}
)

func NewValuesEntry(vals []Value, size int64, tag string) *ValuesEntry {
	return &ValuesEntry{vals: vals, size: size, tag: tag}
}

func (e *ValuesEntry) Size() int64          { return e.size }
func (e *ValuesEntry) Mode() cmn.MemoryMode { return cmn.MemOnHeap } // values live on heap
func (e *ValuesEntry) Tag() string          { return e.tag }
func (e *ValuesEntry) Deserialized() bool   { return true }
func (e *ValuesEntry) Values() []Value      { return e.vals }

func NewBytesEntry(buf *SGL, mode cmn.MemoryMode, tag string) *BytesEntry {
	return &BytesEntry{buf: buf, mode: mode, tag: tag}
}

func (e *BytesEntry) Size() int64          { return e.buf.Size() }
func (e *BytesEntry) Mode() cmn.MemoryMode { return e.mode }
func (e *BytesEntry) Tag() string          { return e.tag }
func (e *BytesEntry) Deserialized() bool   { return false }
func (e *BytesEntry) Buf() *SGL            { return e.buf }

// ByteValue is the trivial Value: a verbatim byte slice.
type ByteValue []byte

func (v ByteValue) Size() int64 { return int64(len(v)) }

// SliceIterator iterates over an in-memory value slice.
type SliceIterator struct {
	vals []Value
	pos  int
}

func NewSliceIterator(vals []Value) *SliceIterator { return &SliceIterator{vals: vals} }

func (it *SliceIterator) Next() (Value, bool) {
	if it.pos >= len(it.vals) {
		return nil, false
	}
	v := it.vals[it.pos]
	it.pos++
	return v, true
}

// concatIterator drains the already-materialized prefix, then the remainder.
type concatIterator struct {
	first, second Iterator
}

func (it *concatIterator) Next() (Value, bool) {
	if v, ok := it.first.Next(); ok {
		return v, true
	}
	return it.second.Next()
}
