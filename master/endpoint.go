// Package master implements the coordinator of the memcache cluster: it
// tracks which workers hold which blocks, ships reference profiles and DAG
// information to workers, and aggregates cache telemetry.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package master

import (
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/msg"
	"github.com/NVIDIA/memcache/transport"
)

// RegisterHandlers wires the directory into the message server. Handlers
// decode, delegate, reply; all serialization stays here.
func (d *Directory) RegisterHandlers(srv *transport.Server) {
	srv.Register(cmn.MsgRegister, func(body []byte) (interface{}, error) {
		var m msg.Register
		cmn.MustUnmarshal(body, &m)
		d.Register(m.Worker, m.MaxBytes, m.Endpoint)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgUpdateBlockInfo, func(body []byte) (interface{}, error) {
		var m msg.UpdateBlockInfo
		cmn.MustUnmarshal(body, &m)
		return &msg.BoolReply{Ok: d.UpdateBlockInfo(&m)}, nil
	})
	srv.Register(cmn.MsgGetLocations, func(body []byte) (interface{}, error) {
		var m msg.GetLocations
		cmn.MustUnmarshal(body, &m)
		return &msg.LocationsReply{Workers: d.GetLocations(m.Block)}, nil
	})
	srv.Register(cmn.MsgGetLocationsMultiple, func(body []byte) (interface{}, error) {
		var m msg.GetLocationsMultiple
		cmn.MustUnmarshal(body, &m)
		return &msg.LocationsMultipleReply{Locations: d.GetLocationsMultiple(m.Blocks)}, nil
	})
	srv.Register(cmn.MsgGetPeers, func(body []byte) (interface{}, error) {
		var m msg.GetPeers
		cmn.MustUnmarshal(body, &m)
		return &msg.LocationsReply{Workers: d.GetPeers(m.Worker)}, nil
	})
	srv.Register(cmn.MsgGetExecutorEndpoint, func(body []byte) (interface{}, error) {
		var m msg.GetExecutorEndpoint
		cmn.MustUnmarshal(body, &m)
		endpoint, _ := d.GetExecutorEndpoint(m.ExecutorID)
		return &msg.EndpointReply{Endpoint: endpoint}, nil
	})
	srv.Register(cmn.MsgGetMemoryStatus, func([]byte) (interface{}, error) {
		return d.GetMemoryStatus(), nil
	})
	srv.Register(cmn.MsgGetStorageStatus, func([]byte) (interface{}, error) {
		return d.GetStorageStatus(), nil
	})
	srv.Register(cmn.MsgGetBlockStatus, func(body []byte) (interface{}, error) {
		var m msg.GetBlockStatus
		cmn.MustUnmarshal(body, &m)
		return &msg.BlockStatusReply{Status: d.GetBlockStatus(m.Block, m.AskSlaves)}, nil
	})
	srv.Register(cmn.MsgGetMatchingBlockIds, func(body []byte) (interface{}, error) {
		var m msg.GetMatchingBlockIds
		cmn.MustUnmarshal(body, &m)
		return &msg.MatchingBlockIdsReply{Blocks: d.GetMatchingBlockIds(m.Prefix, m.AskSlaves)}, nil
	})
	srv.Register(cmn.MsgHasCachedBlocks, func(body []byte) (interface{}, error) {
		var m msg.HasCachedBlocks
		cmn.MustUnmarshal(body, &m)
		return &msg.BoolReply{Ok: d.HasCachedBlocks(m.ExecutorID)}, nil
	})
	srv.Register(cmn.MsgHeartbeat, func(body []byte) (interface{}, error) {
		var m msg.Heartbeat
		cmn.MustUnmarshal(body, &m)
		return &msg.BoolReply{Ok: d.Heartbeat(m.Worker, m.RemainingMem)}, nil
	})
	srv.Register(cmn.MsgReportCacheHit, func(body []byte) (interface{}, error) {
		var m msg.ReportCacheHit
		cmn.MustUnmarshal(body, &m)
		d.ReportCacheHit(m.Worker, m.Counters)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgGetRefProfile, func(body []byte) (interface{}, error) {
		var m msg.GetRefProfile
		cmn.MustUnmarshal(body, &m)
		return d.GetRefProfile(m.Worker, m.Endpoint), nil
	})
	srv.Register(cmn.MsgBlockWithPeerEvicted, func(body []byte) (interface{}, error) {
		var m msg.BlockWithPeerEvicted
		cmn.MustUnmarshal(body, &m)
		d.BlockWithPeerEvicted(m.Block)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgStartBroadcastJobId, func(body []byte) (interface{}, error) {
		var m msg.StartBroadcastJobID
		cmn.MustUnmarshal(body, &m)
		d.StartBroadcastJobID(m.Job)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgStartBroadcastRefs, func(body []byte) (interface{}, error) {
		var m msg.StartBroadcastRefCount
		cmn.MustUnmarshal(body, &m)
		d.StartBroadcastRefCount(m.Job, m.Partitions, m.Refs)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgStartBroadcastDAGInfo, func(body []byte) (interface{}, error) {
		var m msg.StartBroadcastDAGInfo
		cmn.MustUnmarshal(body, &m)
		d.StartBroadcastDAGInfo(m.Job, m.Partitions, m.DAG, m.AccessN)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgRemoveExecutor, func(body []byte) (interface{}, error) {
		var m msg.RemoveExecutor
		cmn.MustUnmarshal(body, &m)
		d.RemoveExecutor(m.ExecutorID)
		return &msg.BoolReply{Ok: true}, nil
	})
	srv.Register(cmn.MsgRemoveRdd, func(body []byte) (interface{}, error) {
		var m msg.RemoveRdd
		cmn.MustUnmarshal(body, &m)
		n, err := d.RemoveRdd(m.Dataset).Await(d.config.Timeout.Ask)
		if err != nil {
			return nil, err
		}
		return &msg.IntReply{N: n}, nil
	})
	srv.Register(cmn.MsgRemoveShuffle, func(body []byte) (interface{}, error) {
		var m msg.RemoveShuffle
		cmn.MustUnmarshal(body, &m)
		ok, err := d.RemoveShuffle(m.ShuffleID).Await(d.config.Timeout.Ask)
		if err != nil {
			return nil, err
		}
		return &msg.BoolReply{Ok: ok}, nil
	})
	srv.Register(cmn.MsgRemoveBroadcast, func(body []byte) (interface{}, error) {
		var m msg.RemoveBroadcast
		cmn.MustUnmarshal(body, &m)
		n, err := d.RemoveBroadcast(m.BroadcastID, m.FromDriver).Await(d.config.Timeout.Ask)
		if err != nil {
			return nil, err
		}
		return &msg.IntReply{N: n}, nil
	})
	srv.Register(cmn.MsgStop, func([]byte) (interface{}, error) {
		go d.Stop()
		return &msg.BoolReply{Ok: true}, nil
	})
}
