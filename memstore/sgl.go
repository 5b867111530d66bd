// Package memstore implements the worker-side in-memory block store:
// the access-ordered entry table and the top-level put/get/remove API.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"io"

	"github.com/NVIDIA/memcache/cmn"
)

const PageSize = 4 * cmn.KiB

// SGL holds a block's serialized bytes as a list of fixed-size pages.
// Pages are allocated lazily as the write frontier crosses a page boundary,
// so growth never copies what was already written. Reading is cursor-based
// and destructive of position only; Reset rewinds it.
type SGL struct {
	pages [][]byte
	size  int64 // bytes written
	rpage int   // read cursor: page index
	roff  int   // read cursor: offset within rpage
}

var (
	_ io.ReadWriteCloser = &SGL{}
	_ io.WriterTo        = &SGL{}
	_ io.ReaderFrom      = &SGL{}
)

// NewSGL reserves page-table capacity for the given size hint; no page is
// allocated until the first write.
func NewSGL(hint int64) *SGL {
	return &SGL{pages: make([][]byte, 0, cmn.DivCeil(cmn.MaxI64(hint, 1), PageSize))}
}

func (z *SGL) Size() int64 { return z.size }

// tail returns the writable remainder of the last page, allocating a fresh
// page when the frontier sits exactly on a boundary.
func (z *SGL) tail() []byte {
	if z.size == int64(len(z.pages))*PageSize {
		z.pages = append(z.pages, make([]byte, PageSize))
	}
	return z.pages[len(z.pages)-1][z.size%PageSize:]
}

func (z *SGL) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		n := copy(z.tail(), p)
		z.size += int64(n)
		p = p[n:]
	}
	return written, nil
}

func (z *SGL) ReadFrom(r io.Reader) (n int64, err error) {
	for {
		m, rerr := r.Read(z.tail())
		z.size += int64(m)
		n += int64(m)
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func (z *SGL) Read(b []byte) (n int, err error) {
	for n < len(b) {
		rpos := int64(z.rpage)*PageSize + int64(z.roff)
		left := z.size - rpos
		if left == 0 {
			return n, io.EOF
		}
		page := z.pages[z.rpage]
		avail := PageSize - z.roff
		if int64(avail) > left {
			avail = int(left)
		}
		c := copy(b[n:], page[z.roff:z.roff+avail])
		n += c
		z.roff += c
		if z.roff == PageSize {
			z.rpage++
			z.roff = 0
		}
	}
	if int64(z.rpage)*PageSize+int64(z.roff) == z.size {
		err = io.EOF
	}
	return
}

func (z *SGL) WriteTo(w io.Writer) (n int64, err error) {
	for i, page := range z.pages {
		if end := z.size - int64(i)*PageSize; end <= 0 {
			break
		} else if end < PageSize {
			page = page[:end]
		}
		m, werr := w.Write(page)
		n += int64(m)
		if werr != nil {
			return n, werr
		}
	}
	return
}

// ReadAll flattens the pages; tests and small payloads only.
func (z *SGL) ReadAll() (b []byte) {
	b = make([]byte, z.size)
	var off int
	for _, page := range z.pages {
		off += copy(b[off:], page)
	}
	return
}

// Reset rewinds the read cursor.
func (z *SGL) Reset() { z.rpage, z.roff = 0, 0 }

func (z *SGL) Close() error { return nil }

// Free drops the pages; the SGL must not be used after.
func (z *SGL) Free() {
	z.pages = nil
	z.size = 0
	z.Reset()
}
