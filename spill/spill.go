// Package spill provides the default block-eviction handler: evicted entries
// are written to local disk lz4-compressed, downgrading the block's storage
// level instead of discarding it.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package spill

import (
	"os"
	"path/filepath"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/memstore"
	"github.com/NVIDIA/memcache/stats"
	"github.com/golang/glog"
	"github.com/pierrec/lz4/v3"
)

// Handler implements memstore.EvictionHandler. A zero-value dir disables
// spilling: every eviction discards.
type Handler struct {
	dir    string
	statsT stats.Tracker
}

var _ memstore.EvictionHandler = &Handler{}

func NewHandler(dir string, statsT stats.Tracker) *Handler {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			glog.Errorf("failed to create spill dir %q: %v, spilling disabled", dir, err)
			dir = ""
		}
	}
	return &Handler{dir: dir, statsT: statsT}
}

// DropFromMemory writes the entry to disk and returns the downgraded storage
// level; an invalid level tells the store to purge the block entirely.
func (h *Handler) DropFromMemory(b block.ID, e memstore.Entry) block.StorageLevel {
	if h.dir == "" {
		return block.NoStorage
	}
	var buf *memstore.SGL
	switch entry := e.(type) {
	case *memstore.BytesEntry:
		buf = entry.Buf()
	case *memstore.ValuesEntry:
		// values re-serialize on their way to disk
		buf = memstore.NewSGL(e.Size())
		buf.Write(cmn.MustMarshal(entry.Values()))
	default:
		return block.NoStorage
	}
	f, err := os.Create(h.path(b))
	if err != nil {
		glog.Errorf("%s: spill failed: %v", b, err)
		return block.NoStorage
	}
	zw := lz4.NewWriter(f)
	_, err = buf.WriteTo(zw)
	if err == nil {
		err = zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		glog.Errorf("%s: spill failed: %v", b, err)
		os.Remove(h.path(b))
		return block.NoStorage
	}
	if h.statsT != nil {
		h.statsT.Add(stats.DiskWrite, 1)
	}
	if glog.V(4) {
		glog.Infof("%s: spilled %s", b, cmn.B2S(e.Size(), 1))
	}
	return block.DiskOnly
}

// Load reads a spilled block back. The caller owns the returned buffer.
func (h *Handler) Load(b block.ID) (*memstore.SGL, error) {
	f, err := os.Open(h.path(b))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := memstore.NewSGL(0)
	if _, err = buf.ReadFrom(lz4.NewReader(f)); err != nil {
		return nil, err
	}
	if h.statsT != nil {
		h.statsT.Add(stats.DiskRead, 1)
	}
	return buf, nil
}

// Remove deletes the spilled copy, if any.
func (h *Handler) Remove(b block.ID) {
	if h.dir != "" {
		os.Remove(h.path(b))
	}
}

func (h *Handler) path(b block.ID) string {
	return filepath.Join(h.dir, b.String()+".lz4")
}
