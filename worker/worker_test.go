// Package worker runs one memcache worker node: the in-memory block store
// plus its registration, reporting, and message handling against the master.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package worker_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/master"
	"github.com/NVIDIA/memcache/memstore"
	"github.com/NVIDIA/memcache/transport"
	"github.com/NVIDIA/memcache/tutils/tassert"
	"github.com/NVIDIA/memcache/worker"
)

type cluster struct {
	dir       string
	directory *master.Directory
	srv       *transport.Server
	node      *worker.Node
}

func startCluster(t *testing.T, config *cmn.Config) *cluster {
	t.Helper()
	dir, err := ioutil.TempDir("", "worker")
	tassert.CheckFatal(t, err)
	config.ProfileDir = dir
	config.SpillDir = filepath.Join(dir, "spill")

	// profile: dataset 1 referenced twice, dataset 2 four times
	tassert.CheckFatal(t, ioutil.WriteFile(
		filepath.Join(dir, config.AppNameNoSpaces()+".txt"), []byte("1:2\n2:4\n"), 0o644))

	directory, err := master.NewDirectory(config, nil)
	tassert.CheckFatal(t, err)
	srv := transport.NewServer("127.0.0.1:0")
	tassert.CheckFatal(t, srv.Listen())
	directory.RegisterHandlers(srv)
	go srv.Run()

	node := worker.NewNode(config, block.ManagerID{ExecutorID: "1", Host: "127.0.0.1"},
		"127.0.0.1:0", srv.Endpoint())
	tassert.CheckFatal(t, node.Start())
	return &cluster{dir: dir, directory: directory, srv: srv, node: node}
}

func (c *cluster) stop() {
	c.node.Stop()
	c.srv.Shutdown()
	c.directory.Stop()
	os.RemoveAll(c.dir)
}

func vals(n int, each int64) memstore.Iterator {
	out := make([]memstore.Value, n)
	for i := range out {
		out[i] = memstore.ByteValue(make([]byte, each))
	}
	return memstore.NewSliceIterator(out)
}

// a worker fetches the master's profile and applies it on first admission
func TestProfileReachesWorker(t *testing.T) {
	config := cmn.DefaultConfig()
	config.AppName = "Integration"
	c := startCluster(t, config)
	defer c.stop()

	b := block.RDDID(1, 0)
	_, partial := c.node.PutValues(c.node.NextTaskID(), b, vals(2, 16), "test")
	tassert.Fatalf(t, partial == nil, "put must succeed")

	r, ok := c.node.Store().Refs().RefOf(b)
	tassert.Fatalf(t, ok, "block must be tracked")
	tassert.Errorf(t, r == 2, "profile refs must apply on admission, got %d", r)
}

// block updates propagate to the master's location directory
func TestBlockInfoReachesMaster(t *testing.T) {
	config := cmn.DefaultConfig()
	config.AppName = "Integration"
	c := startCluster(t, config)
	defer c.stop()

	b := block.RDDID(2, 1)
	_, partial := c.node.PutValues(c.node.NextTaskID(), b, vals(4, 32), "test")
	tassert.Fatalf(t, partial == nil, "put must succeed")

	locs := c.directory.GetLocations(b)
	tassert.Fatalf(t, len(locs) == 1, "master must learn the location, got %v", locs)
	tassert.Errorf(t, locs[0].ExecutorID == "1", "wrong worker %v", locs[0])
	tassert.Errorf(t, c.directory.HasCachedBlocks("1"), "worker must report as caching")

	tassert.Fatalf(t, c.node.Remove(b), "remove must succeed")
	tassert.Errorf(t, len(c.directory.GetLocations(b)) == 0, "removal must clear the location")
}

// a master-initiated dataset removal reaches the worker's store
func TestRemoveRddFanOut(t *testing.T) {
	config := cmn.DefaultConfig()
	config.AppName = "Integration"
	c := startCluster(t, config)
	defer c.stop()

	b := block.RDDID(1, 0)
	_, partial := c.node.PutValues(c.node.NextTaskID(), b, vals(2, 16), "test")
	tassert.Fatalf(t, partial == nil, "put must succeed")

	n, err := c.directory.RemoveRdd(1).Await(5 * time.Second)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, n == 1, "expected one removed block, got %d", n)
	tassert.Errorf(t, !c.node.Store().Contains(b), "worker must drop the block")
}

// an evicted block spills to disk and is still readable
func TestEvictionSpillsAndReloads(t *testing.T) {
	config := cmn.DefaultConfig()
	config.AppName = "Integration"
	config.Memory.MaxBytes = 4 * cmn.MiB
	c := startCluster(t, config)
	defer c.stop()

	b1, b2 := block.RDDID(1, 0), block.RDDID(2, 0)
	_, p1 := c.node.PutSerialized(c.node.NextTaskID(), b1, vals(16, 128*cmn.KiB), "t", cmn.MemOnHeap)
	tassert.Fatalf(t, p1 == nil, "first put must succeed")
	_, p2 := c.node.PutSerialized(c.node.NextTaskID(), b2, vals(16, 128*cmn.KiB), "t", cmn.MemOnHeap)
	tassert.Fatalf(t, p2 == nil, "second put must evict the first and succeed")

	tassert.Errorf(t, !c.node.Store().Contains(b1), "b1 must have left memory")
	buf, ok := c.node.GetBytes(b1)
	tassert.Fatalf(t, ok, "spilled block must reload from disk")
	tassert.Errorf(t, buf.Size() > 0, "reloaded block must carry data")
}
