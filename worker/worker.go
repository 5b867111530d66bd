// Package worker runs one memcache worker node: the in-memory block store
// plus its registration, reporting, and message handling against the master.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"os"
	"time"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/memacct"
	"github.com/NVIDIA/memcache/memstore"
	"github.com/NVIDIA/memcache/msg"
	"github.com/NVIDIA/memcache/spill"
	"github.com/NVIDIA/memcache/stats"
	"github.com/NVIDIA/memcache/transport"
	"github.com/golang/glog"
	"go.uber.org/atomic"
)

const heartbeatIval = 10 * time.Second

// Node ties one worker's store to the cluster: it registers with the master,
// fetches the reference profiles, reports block updates and cache telemetry,
// and serves the worker-side control messages.
type Node struct {
	config    *cmn.Config
	id        block.ManagerID
	store     *memstore.MemoryStore
	spill     *spill.Handler
	client    *transport.Client
	server    *transport.Server
	masterURL string
	counters  *stats.Bundle
	taskGen   atomic.Int64
	stopCh    *cmn.StopCh
}

func NewNode(config *cmn.Config, id block.ManagerID, listenAddr, masterURL string) *Node {
	counters := &stats.Bundle{}
	handler := spill.NewHandler(config.SpillDir, counters)
	account := memacct.NewAccount(config.Memory.MaxBytes, config.Memory.OffHeapMaxBytes)
	n := &Node{
		config:    config,
		id:        id,
		store:     memstore.NewStore(config, account, handler, counters),
		spill:     handler,
		client:    transport.NewClient(config.Timeout.Ask, config.Timeout.MaxRetries),
		server:    transport.NewServer(listenAddr),
		masterURL: masterURL,
		counters:  counters,
		stopCh:    cmn.NewStopCh(),
	}
	n.store.SetDropListener(n.onDrop)
	return n
}

func (n *Node) Store() *memstore.MemoryStore { return n.store }
func (n *Node) ID() block.ManagerID          { return n.id }

// NextTaskID allocates a local task id for unroll accounting.
func (n *Node) NextTaskID() int64 { return n.taskGen.Inc() }

// Start registers with the master, fetches the profile triple, and begins
// serving worker-side messages.
func (n *Node) Start() error {
	if err := n.server.Listen(); err != nil {
		return err
	}
	n.registerHandlers()
	go func() {
		if err := n.server.Run(); err != nil {
			glog.Errorf("%s: message server: %v", n.id, err)
		}
	}()

	reg := &msg.Register{Worker: n.id, MaxBytes: n.config.Memory.MaxBytes, Endpoint: n.server.Endpoint()}
	if err := n.client.Tell(n.masterURL, cmn.MsgRegister, reg); err != nil {
		n.server.Shutdown()
		return err
	}
	var prof msg.RefProfileReply
	q := &msg.GetRefProfile{Worker: n.id, Endpoint: n.server.Endpoint()}
	if err := n.client.Call(n.masterURL, cmn.MsgGetRefProfile, q, &prof); err != nil {
		glog.Errorf("%s: profile fetch failed, degrading to single-reference: %v", n.id, err)
	} else {
		n.store.SetProfiles(prof.Refs, prof.ByJob, prof.Peers)
	}
	go n.heartbeat()
	glog.Infof("%s: started (policy=%s, mem=%s)", n.id, n.config.Policy,
		cmn.B2S(n.config.Memory.MaxBytes, 1))
	return nil
}

// Stop reports the final counters and shuts the node down.
func (n *Node) Stop() {
	n.stopCh.Close()
	n.reportCacheHit()
	n.server.Shutdown()
	glog.Infof("%s: stopped", n.id)
}

func (n *Node) heartbeat() {
	ticker := time.NewTicker(heartbeatIval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hb := &msg.Heartbeat{Worker: n.id, RemainingMem: n.store.Account().Free(cmn.MemOnHeap)}
			if err := n.client.Call(n.masterURL, cmn.MsgHeartbeat, hb, nil); err != nil {
				glog.Warningf("%s: heartbeat: %v", n.id, err)
			}
			n.reportCacheHit()
		case <-n.stopCh.Listen():
			return
		}
	}
}

func (n *Node) reportCacheHit() {
	m := &msg.ReportCacheHit{Worker: n.id, Counters: n.counters.Snapshot()}
	if err := n.client.Call(n.masterURL, cmn.MsgReportCacheHit, m, nil); err != nil {
		glog.Warningf("%s: cache-hit report: %v", n.id, err)
	}
}

// onDrop propagates an eviction to the master: the block-info update always,
// plus a peer-eviction report when a peered RDD block left memory entirely.
func (n *Node) onDrop(b block.ID, level block.StorageLevel, size int64) {
	var memSize, diskSize int64
	if level.UseDisk {
		diskSize = size
	}
	n.updateBlockInfo(b, level, memSize, diskSize)
	if b.IsRDD() {
		if _, ok := n.store.Refs().Peer(b.Dataset); ok {
			m := &msg.BlockWithPeerEvicted{Block: b}
			if err := n.client.Call(n.masterURL, cmn.MsgBlockWithPeerEvicted, m, nil); err != nil {
				glog.Errorf("%s: peer-eviction report for %s: %v", n.id, b, err)
			}
		}
	}
}

func (n *Node) updateBlockInfo(b block.ID, level block.StorageLevel, memSize, diskSize int64) {
	m := &msg.UpdateBlockInfo{Worker: n.id, Block: b, Level: level, MemSize: memSize, DiskSize: diskSize}
	if err := n.client.Tell(n.masterURL, cmn.MsgUpdateBlockInfo, m); err != nil {
		glog.Errorf("%s: block-info update for %s: %v", n.id, b, err)
	}
}

//
// the task-facing cache API
//

// PutValues caches a block as a deserialized value array, reporting to the
// master on success.
func (n *Node) PutValues(taskID int64, b block.ID, it memstore.Iterator, tag string) (int64, *memstore.PartialValues) {
	size, partial := n.store.PutIteratorAsValues(taskID, b, it, tag)
	if partial == nil {
		n.updateBlockInfo(b, block.MemoryOnly, size, 0)
	}
	return size, partial
}

// PutSerialized caches a block as serialized bytes.
func (n *Node) PutSerialized(taskID int64, b block.ID, it memstore.Iterator, tag string, mode cmn.MemoryMode) (int64, *memstore.PartialBytes) {
	size, partial := n.store.PutIteratorAsBytes(taskID, b, it, tag, mode)
	if partial == nil {
		level := block.MemoryOnlySer
		level.OffHeap = mode == cmn.MemOffHeap
		n.updateBlockInfo(b, level, size, 0)
	}
	return size, partial
}

// GetBytes reads the serialized form, falling back to the spilled copy.
func (n *Node) GetBytes(b block.ID) (*memstore.SGL, bool) {
	if buf, ok := n.store.GetBytes(b); ok {
		return buf, true
	}
	buf, err := n.spill.Load(b)
	if err != nil {
		if !os.IsNotExist(err) {
			glog.Errorf("%s: disk read of %s: %v", n.id, b, err)
		}
		return nil, false
	}
	return buf, true
}

func (n *Node) GetValues(b block.ID) ([]memstore.Value, bool) {
	return n.store.GetValues(b)
}

// Remove drops a block everywhere and reports the removal.
func (n *Node) Remove(b block.ID) bool {
	removed := n.store.Remove(b)
	n.spill.Remove(b)
	if removed {
		n.updateBlockInfo(b, block.NoStorage, 0, 0)
	}
	return removed
}

// OnTaskEnd is the task-completion listener.
func (n *Node) OnTaskEnd(taskID int64) { n.store.OnTaskEnd(taskID) }
