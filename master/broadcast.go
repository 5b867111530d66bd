// Package master implements the coordinator of the memcache cluster: it
// tracks which workers hold which blocks, ships reference profiles and DAG
// information to workers, and aggregates cache telemetry.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package master

import (
	"time"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/lease"
	"github.com/NVIDIA/memcache/msg"
	"github.com/golang/glog"
	"go.uber.org/atomic"
)

type (
	// IntFuture resolves to the sum of the workers' integer results.
	IntFuture struct {
		ch chan int64
	}
	// BoolFuture resolves to the conjunction of the workers' results.
	BoolFuture struct {
		ch chan bool
	}
)

func newIntFuture() *IntFuture   { return &IntFuture{ch: make(chan int64, 1)} }
func newBoolFuture() *BoolFuture { return &BoolFuture{ch: make(chan bool, 1)} }

func (f *IntFuture) Await(timeout time.Duration) (int64, error) {
	select {
	case n := <-f.ch:
		return n, nil
	case <-time.After(timeout):
		return 0, cmn.NewTimeoutError("fan-out")
	}
}

func (f *BoolFuture) Await(timeout time.Duration) (bool, error) {
	select {
	case ok := <-f.ch:
		return ok, nil
	case <-time.After(timeout):
		return false, cmn.NewTimeoutError("fan-out")
	}
}

// endpointsSnapshot runs inside the mailbox.
func (d *Directory) endpointsSnapshot() map[string]string {
	endpoints := make(map[string]string, len(d.workers))
	for exec, wi := range d.workers {
		if wi.Endpoint != "" {
			endpoints[exec] = wi.Endpoint
		}
	}
	return endpoints
}

// fanOutTimeout bounds a whole fan-out: the per-call ask timeout across every
// retry, plus one more for scheduling slack.
func (d *Directory) fanOutTimeout() time.Duration {
	return time.Duration(d.config.Timeout.MaxRetries+1) * d.config.Timeout.Ask
}

// fanOutInt posts the message to every worker off the mailbox, summing the
// integer replies into the future. A worker that neither replies nor times
// out within the fan-out bound is abandoned: the future resolves regardless.
func (d *Directory) fanOutInt(name string, body interface{}, endpoints map[string]string) *IntFuture {
	future := newIntFuture()
	if len(endpoints) == 0 {
		future.ch <- 0
		return future
	}
	go func() {
		var (
			tg    = cmn.NewTimeoutGroup()
			total atomic.Int64
		)
		tg.Add(len(endpoints))
		for _, endpoint := range endpoints {
			go func(endpoint string) {
				defer tg.Done()
				var reply msg.IntReply
				if err := d.client.Call(endpoint, name, body, &reply); err != nil {
					glog.Errorf("%s fan-out to %s: %v", name, endpoint, err)
					return
				}
				total.Add(reply.N)
			}(endpoint)
		}
		if tg.WaitTimeout(d.fanOutTimeout()) {
			glog.Errorf("%s fan-out timed out", name)
		}
		future.ch <- total.Load()
	}()
	return future
}

func (d *Directory) fanOutBool(name string, body interface{}, endpoints map[string]string) *BoolFuture {
	future := newBoolFuture()
	if len(endpoints) == 0 {
		future.ch <- true
		return future
	}
	go func() {
		var (
			tg     = cmn.NewTimeoutGroup()
			failed atomic.Int64
		)
		tg.Add(len(endpoints))
		for _, endpoint := range endpoints {
			go func(endpoint string) {
				defer tg.Done()
				var reply msg.BoolReply
				if err := d.client.Call(endpoint, name, body, &reply); err != nil {
					glog.Errorf("%s fan-out to %s: %v", name, endpoint, err)
					failed.Inc()
				}
			}(endpoint)
		}
		timed := tg.WaitTimeout(d.fanOutTimeout())
		future.ch <- !timed && failed.Load() == 0
	}()
	return future
}

// tellAll posts to every worker and only logs failures.
func (d *Directory) tellAll(name string, body interface{}, endpoints map[string]string) {
	if len(endpoints) == 0 {
		return
	}
	go func() {
		tg := cmn.NewTimeoutGroup()
		tg.Add(len(endpoints))
		for _, endpoint := range endpoints {
			go func(endpoint string) {
				defer tg.Done()
				if err := d.client.Call(endpoint, name, body, nil); err != nil {
					glog.Errorf("%s broadcast to %s: %v", name, endpoint, err)
				}
			}(endpoint)
		}
		if tg.WaitTimeout(d.fanOutTimeout()) {
			glog.Errorf("%s broadcast timed out", name)
		}
	}()
}

//////////////
// removals //
//////////////

// RemoveRdd purges the master's own metadata synchronously, then fans the
// removal out to every worker; the future collects the removed-block counts.
func (d *Directory) RemoveRdd(dataset block.DatasetID) (future *IntFuture) {
	d.do(func() {
		for b := range d.locations {
			if b.IsRDD() && b.Dataset == dataset {
				delete(d.locations, b)
				if d.db != nil {
					d.db.DeleteLocations(b)
				}
				for _, wi := range d.workers {
					delete(wi.Blocks, b)
					delete(wi.Cached, b)
				}
			}
		}
		future = d.fanOutInt(cmn.MsgRemoveRdd, &msg.RemoveRdd{Dataset: dataset}, d.endpointsSnapshot())
	})
	return
}

func (d *Directory) RemoveShuffle(shuffleID int64) (future *BoolFuture) {
	d.do(func() {
		future = d.fanOutBool(cmn.MsgRemoveShuffle, &msg.RemoveShuffle{ShuffleID: shuffleID}, d.endpointsSnapshot())
	})
	return
}

func (d *Directory) RemoveBroadcast(broadcastID int64, fromDriver bool) (future *IntFuture) {
	d.do(func() {
		body := &msg.RemoveBroadcast{BroadcastID: broadcastID, FromDriver: fromDriver}
		future = d.fanOutInt(cmn.MsgRemoveBroadcast, body, d.endpointsSnapshot())
	})
	return
}

////////////////
// broadcasts //
////////////////

func (d *Directory) StartBroadcastJobID(job block.JobID) {
	d.do(func() {
		refs := d.profiles.ByJob[job]
		d.tellAll(cmn.MsgBroadcastJobDAG, &msg.BroadcastJobDAG{Job: job, Refs: refs}, d.endpointsSnapshot())
	})
}

// StartBroadcastRefCount forwards a job's reference map to every worker and
// grows the global anticipated-reference total.
func (d *Directory) StartBroadcastRefCount(job block.JobID, partitions int64, refs map[block.DatasetID]int64) {
	d.do(func() {
		var sum int64
		for _, r := range refs {
			sum += r
		}
		d.totalRef.Add(sum * partitions)
		d.tellAll(cmn.MsgBroadcastJobDAG, &msg.BroadcastJobDAG{Job: job, Refs: refs}, d.endpointsSnapshot())
	})
}

func (d *Directory) StartBroadcastDAGInfo(job block.JobID, partitions int64,
	dag map[block.DatasetID]lease.Histogram, accessN int64) {
	d.do(func() {
		body := &msg.BroadcastDAGInfo{Job: job, DAG: dag, AccessN: accessN}
		d.tellAll(cmn.MsgBroadcastDAGInfo, body, d.endpointsSnapshot())
	})
}

func (d *Directory) TotalReference() int64 { return d.totalRef.Load() }

// BlockWithPeerEvicted receives a worker's report that a peered block left
// memory: both peer-check variants are broadcast to every worker, stamped
// with one event id so replays decrement exactly once.
func (d *Directory) BlockWithPeerEvicted(b block.ID) {
	d.do(func() {
		if _, ok := d.profiles.Peers[b.Dataset]; !ok {
			glog.Infof("%s: peer eviction reported but dataset %d has no peer", b, b.Dataset)
			return
		}
		eventID, err := d.sid.Generate()
		if err != nil {
			eventID = b.String() + time.Now().Format(time.RFC3339Nano)
		}
		body := &msg.CheckPeers{Block: b, EventID: eventID}
		endpoints := d.endpointsSnapshot()
		d.tellAll(cmn.MsgCheckPeersConservative, body, endpoints)
		d.tellAll(cmn.MsgCheckPeersStrictly, body, endpoints)
	})
}

// TriggerThreadDump asks every worker to log its goroutine stacks.
func (d *Directory) TriggerThreadDump() {
	d.do(func() {
		d.tellAll(cmn.MsgTriggerThreadDump, &struct{}{}, d.endpointsSnapshot())
	})
}
