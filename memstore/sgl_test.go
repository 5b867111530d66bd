// Package memstore implements the worker-side in-memory block store:
// the access-ordered entry table and the top-level put/get/remove API.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"bytes"
	"io"
	"testing"

	"github.com/NVIDIA/memcache/tutils/tassert"
)

func TestSGLWriteReadAcrossPages(t *testing.T) {
	z := NewSGL(0)
	payload := bytes.Repeat([]byte("0123456789abcdef"), PageSize/4) // 4 pages
	n, err := z.Write(payload)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, n == len(payload), "short write: %d of %d", n, len(payload))
	tassert.Errorf(t, z.Size() == int64(len(payload)), "bad size %d", z.Size())

	// read back in chunks that straddle page boundaries
	var out []byte
	buf := make([]byte, PageSize-7)
	for {
		m, err := z.Read(buf)
		out = append(out, buf[:m]...)
		if err == io.EOF {
			break
		}
		tassert.CheckFatal(t, err)
	}
	tassert.Fatalf(t, bytes.Equal(out, payload), "read-back mismatch: %d bytes", len(out))

	z.Reset()
	m, err := z.Read(buf)
	tassert.Errorf(t, m > 0 && err == nil, "reset must rewind the cursor, got %d %v", m, err)
}

func TestSGLPartialLastPage(t *testing.T) {
	z := NewSGL(16)
	z.Write([]byte("hello"))
	z.Write([]byte(" sgl"))

	var sink bytes.Buffer
	n, err := z.WriteTo(&sink)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, n == 9 && sink.String() == "hello sgl", "bad WriteTo: %d %q", n, sink.String())
	tassert.Errorf(t, string(z.ReadAll()) == "hello sgl", "bad ReadAll %q", z.ReadAll())
}

func TestSGLReadFrom(t *testing.T) {
	src := bytes.Repeat([]byte("x"), 3*PageSize+100)
	z := NewSGL(0)
	n, err := z.ReadFrom(bytes.NewReader(src))
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, n == int64(len(src)), "short ReadFrom: %d", n)
	tassert.Errorf(t, bytes.Equal(z.ReadAll(), src), "ReadFrom round-trip mismatch")
}

func TestSGLEmptyRead(t *testing.T) {
	z := NewSGL(0)
	m, err := z.Read(make([]byte, 8))
	tassert.Errorf(t, m == 0 && err == io.EOF, "empty SGL must EOF, got %d %v", m, err)
}
