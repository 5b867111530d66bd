// Package worker runs one memcache worker node: the in-memory block store
// plus its registration, reporting, and message handling against the master.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"runtime"
	"strings"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/msg"
	"github.com/golang/glog"
)

func (n *Node) registerHandlers() {
	n.server.Register(cmn.MsgRemoveBlock, func(body []byte) (interface{}, error) {
		var m msg.RemoveBlock
		cmn.MustUnmarshal(body, &m)
		return &msg.BoolReply{Ok: n.remove(m.Block)}, nil
	})
	n.server.Register(cmn.MsgRemoveRdd, func(body []byte) (interface{}, error) {
		var m msg.RemoveRdd
		cmn.MustUnmarshal(body, &m)
		removed := int64(0)
		for _, b := range n.store.AccessOrder() {
			if b.IsRDD() && b.Dataset == m.Dataset {
				if n.remove(b) {
					removed++
				}
			}
		}
		n.store.Refs().RemoveDataset(m.Dataset)
		return &msg.IntReply{N: removed}, nil
	})
	n.server.Register(cmn.MsgRemoveShuffle, func(body []byte) (interface{}, error) {
		var m msg.RemoveShuffle
		cmn.MustUnmarshal(body, &m)
		for _, b := range n.store.AccessOrder() {
			if b.IsShuffle() && b.Dataset == block.DatasetID(m.ShuffleID) {
				n.remove(b)
			}
		}
		return &msg.BoolReply{Ok: true}, nil
	})
	n.server.Register(cmn.MsgRemoveBroadcast, func(body []byte) (interface{}, error) {
		var m msg.RemoveBroadcast
		cmn.MustUnmarshal(body, &m)
		removed := int64(0)
		if n.remove(block.BroadcastID(m.BroadcastID)) {
			removed++
		}
		return &msg.IntReply{N: removed}, nil
	})
	n.server.Register(cmn.MsgBroadcastJobDAG, func(body []byte) (interface{}, error) {
		var m msg.BroadcastJobDAG
		cmn.MustUnmarshal(body, &m)
		n.store.OnJobDAG(m.Job, m.Refs)
		return &msg.BoolReply{Ok: true}, nil
	})
	n.server.Register(cmn.MsgBroadcastDAGInfo, func(body []byte) (interface{}, error) {
		var m msg.BroadcastDAGInfo
		cmn.MustUnmarshal(body, &m)
		n.store.OnDAGInfo(m.DAG, m.AccessN)
		return &msg.BoolReply{Ok: true}, nil
	})
	n.server.Register(cmn.MsgCheckPeersConservative, func(body []byte) (interface{}, error) {
		var m msg.CheckPeers
		cmn.MustUnmarshal(body, &m)
		if n.config.PeerMode == cmn.PeerConservative {
			n.store.Refs().PeerEvictedConservative(m.Block, m.EventID)
		}
		return &msg.BoolReply{Ok: true}, nil
	})
	n.server.Register(cmn.MsgCheckPeersStrictly, func(body []byte) (interface{}, error) {
		var m msg.CheckPeers
		cmn.MustUnmarshal(body, &m)
		if n.config.PeerMode == cmn.PeerStrict {
			n.store.Refs().PeerEvictedStrict(m.Block, m.EventID)
		}
		return &msg.BoolReply{Ok: true}, nil
	})
	n.server.Register(cmn.MsgGetBlockStatus, func(body []byte) (interface{}, error) {
		var m msg.GetBlockStatus
		cmn.MustUnmarshal(body, &m)
		reply := &msg.BlockStatusReply{Status: make(map[string]block.Status)}
		if size, ok := n.store.EntrySize(m.Block); ok {
			reply.Status[n.id.ExecutorID] = block.Status{Level: block.MemoryOnly, MemSize: size}
		}
		return reply, nil
	})
	n.server.Register(cmn.MsgGetMatchingBlockIds, func(body []byte) (interface{}, error) {
		var m msg.GetMatchingBlockIds
		cmn.MustUnmarshal(body, &m)
		reply := &msg.MatchingBlockIdsReply{}
		for _, b := range n.store.AccessOrder() {
			if strings.HasPrefix(b.String(), m.Prefix) {
				reply.Blocks = append(reply.Blocks, b)
			}
		}
		return reply, nil
	})
	n.server.Register(cmn.MsgTriggerThreadDump, func([]byte) (interface{}, error) {
		buf := make([]byte, 1<<20)
		buf = buf[:runtime.Stack(buf, true)]
		glog.Infof("%s: thread dump:\n%s", n.id, buf)
		return &msg.BoolReply{Ok: true}, nil
	})
}

// remove drops the block locally without echoing an update back to the
// master (the master initiated the removal, or already purged its metadata).
func (n *Node) remove(b block.ID) bool {
	removed := n.store.Remove(b)
	n.spill.Remove(b)
	return removed
}
