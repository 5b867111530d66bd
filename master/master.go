// Package master implements the coordinator of the memcache cluster: it
// tracks which workers hold which blocks, ships reference profiles and DAG
// information to workers, and aggregates cache telemetry.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package master

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/dbdriver"
	"github.com/NVIDIA/memcache/msg"
	"github.com/NVIDIA/memcache/profile"
	"github.com/NVIDIA/memcache/stats"
	"github.com/NVIDIA/memcache/transport"
	"github.com/golang/glog"
	"github.com/teris-io/shortid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type (
	workerInfo struct {
		ID           block.ManagerID
		MaxMem       int64
		RemainingMem int64
		LastSeen     time.Time
		Endpoint     string
		Blocks       map[block.ID]block.Status
		Cached       map[block.ID]struct{}
	}

	request func()

	// Directory is the master endpoint. It runs a cooperative single-threaded
	// mailbox: one message is processed to completion before the next begins;
	// fan-out RPCs run on separate goroutines and resolve futures outside the
	// mailbox.
	Directory struct {
		config    *cmn.Config
		client    *transport.Client
		mailbox   chan request
		stopCh    *cmn.StopCh
		doneCh    chan struct{}
		workers   map[string]*workerInfo
		locations map[block.ID]cmn.StringSet

		profiles *profile.Profiles
		counters *stats.Bundle
		totalRef atomic.Int64
		db       *dbdriver.DB
		sid      *shortid.Shortid

		startTime time.Time
	}
)

const mailboxDepth = 256

func NewDirectory(config *cmn.Config, db *dbdriver.DB) (d *Directory, err error) {
	dir := config.ProfileDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	profiles, err := profile.Load(dir, config.AppNameNoSpaces())
	if err != nil {
		return nil, err
	}
	sid, err := shortid.New(1, shortid.DefaultABC, 2020)
	if err != nil {
		return nil, err
	}
	if db != nil {
		// previous-run metadata is informational only: workers re-register
		// and re-report, cached bytes were never durable
		if locs, err := db.LoadLocations(); err == nil && len(locs) > 0 {
			glog.Infof("previous run recorded %d block locations", len(locs))
		}
		if snap, found, _ := db.LoadCounters(); found {
			glog.Infof("previous run counters: hit=%d miss=%d", snap[0], snap[1])
		}
	}
	d = &Directory{
		config:    config,
		client:    transport.NewClient(config.Timeout.Ask, config.Timeout.MaxRetries),
		mailbox:   make(chan request, mailboxDepth),
		stopCh:    cmn.NewStopCh(),
		doneCh:    make(chan struct{}),
		workers:   make(map[string]*workerInfo),
		locations: make(map[block.ID]cmn.StringSet),
		profiles:  profiles,
		counters:  &stats.Bundle{},
		db:        db,
		sid:       sid,
		startTime: time.Now(),
	}
	go d.run()
	return d, nil
}

func (d *Directory) run() {
	for {
		select {
		case req := <-d.mailbox:
			req()
		case <-d.stopCh.Listen():
			// drain whatever is queued, then quit
			for {
				select {
				case req := <-d.mailbox:
					req()
				default:
					close(d.doneCh)
					return
				}
			}
		}
	}
}

// do executes fn inside the mailbox and waits for it.
func (d *Directory) do(fn func()) {
	done := make(chan struct{})
	d.mailbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// Stop shuts the mailbox down and appends the run's telemetry to result.txt.
func (d *Directory) Stop() {
	d.stopCh.Close()
	<-d.doneCh
	d.writeTelemetry()
	if d.db != nil {
		d.db.Close()
	}
}

////////////////////////////
// registration and state //
////////////////////////////

func (d *Directory) Register(id block.ManagerID, maxBytes int64, endpoint string) {
	d.do(func() {
		if old, ok := d.workers[id.ExecutorID]; ok {
			glog.Infof("%s: re-registration, dropping the old entry", id)
			d.dropWorker(old)
		}
		d.workers[id.ExecutorID] = &workerInfo{
			ID:           id,
			MaxMem:       maxBytes,
			RemainingMem: maxBytes,
			LastSeen:     time.Now(),
			Endpoint:     endpoint,
			Blocks:       make(map[block.ID]block.Status),
			Cached:       make(map[block.ID]struct{}),
		}
		if d.db != nil {
			d.db.PutWorker(id.ExecutorID, endpoint)
		}
		glog.Infof("worker added: %s (%s, %s)", id, cmn.B2S(maxBytes, 1), endpoint)
	})
}

func (d *Directory) RemoveExecutor(exec string) {
	d.do(func() {
		if wi, ok := d.workers[exec]; ok {
			d.dropWorker(wi)
		}
	})
}

// dropWorker runs inside the mailbox.
func (d *Directory) dropWorker(wi *workerInfo) {
	for b := range wi.Blocks {
		d.removeLocation(b, wi.ID.ExecutorID)
	}
	delete(d.workers, wi.ID.ExecutorID)
	if d.db != nil {
		d.db.DeleteWorker(wi.ID.ExecutorID)
	}
	glog.Infof("worker removed: %s", wi.ID)
}

// UpdateBlockInfo merges a worker's report into the directory. Returns false
// for unregistered workers, driver excepted.
func (d *Directory) UpdateBlockInfo(u *msg.UpdateBlockInfo) (ok bool) {
	d.do(func() {
		wi, registered := d.workers[u.Worker.ExecutorID]
		if !registered {
			ok = u.Worker.IsDriver()
			return
		}
		ok = true
		wi.LastSeen = time.Now()
		status := block.Status{Level: u.Level, MemSize: u.MemSize, DiskSize: u.DiskSize}
		if !u.Level.Valid() {
			delete(wi.Blocks, u.Block)
			delete(wi.Cached, u.Block)
			d.removeLocation(u.Block, u.Worker.ExecutorID)
			return
		}
		wi.Blocks[u.Block] = status
		if status.IsCached() {
			wi.Cached[u.Block] = struct{}{}
		} else {
			delete(wi.Cached, u.Block)
		}
		locs, found := d.locations[u.Block]
		if !found {
			locs = make(cmn.StringSet)
			d.locations[u.Block] = locs
		}
		locs.Add(u.Worker.ExecutorID)
		d.persistLocation(u.Block)
	})
	return
}

// removeLocation runs inside the mailbox.
func (d *Directory) removeLocation(b block.ID, exec string) {
	locs, ok := d.locations[b]
	if !ok {
		return
	}
	locs.Delete(exec)
	if len(locs) == 0 {
		delete(d.locations, b)
		if d.db != nil {
			d.db.DeleteLocations(b)
		}
		return
	}
	d.persistLocation(b)
}

func (d *Directory) persistLocation(b block.ID) {
	if d.db != nil {
		d.db.PutLocations(b, d.locations[b].Keys())
	}
}

func (d *Directory) Heartbeat(worker block.ManagerID, remaining int64) (ok bool) {
	d.do(func() {
		wi, registered := d.workers[worker.ExecutorID]
		if !registered {
			return
		}
		ok = true
		wi.LastSeen = time.Now()
		wi.RemainingMem = remaining
	})
	return
}

////////////////
// pure reads //
////////////////

func (d *Directory) GetLocations(b block.ID) (out []block.ManagerID) {
	d.do(func() { out = d.locationsOf(b) })
	return
}

func (d *Directory) GetLocationsMultiple(blocks []block.ID) (out [][]block.ManagerID) {
	d.do(func() {
		out = make([][]block.ManagerID, len(blocks))
		for i, b := range blocks {
			out[i] = d.locationsOf(b)
		}
	})
	return
}

// locationsOf runs inside the mailbox.
func (d *Directory) locationsOf(b block.ID) (out []block.ManagerID) {
	for exec := range d.locations[b] {
		if wi, ok := d.workers[exec]; ok {
			out = append(out, wi.ID)
		}
	}
	return
}

// GetPeers returns every other registered worker.
func (d *Directory) GetPeers(worker block.ManagerID) (out []block.ManagerID) {
	d.do(func() {
		for exec, wi := range d.workers {
			if exec != worker.ExecutorID {
				out = append(out, wi.ID)
			}
		}
	})
	return
}

func (d *Directory) GetExecutorEndpoint(exec string) (endpoint string, ok bool) {
	d.do(func() {
		var wi *workerInfo
		if wi, ok = d.workers[exec]; ok {
			endpoint = wi.Endpoint
		}
	})
	return
}

func (d *Directory) GetMemoryStatus() (reply *msg.MemoryStatusReply) {
	reply = &msg.MemoryStatusReply{MaxMem: make(map[string]int64), Remaining: make(map[string]int64)}
	d.do(func() {
		for exec, wi := range d.workers {
			reply.MaxMem[exec] = wi.MaxMem
			reply.Remaining[exec] = wi.RemainingMem
		}
	})
	return
}

func (d *Directory) GetStorageStatus() (reply *msg.StorageStatusReply) {
	reply = &msg.StorageStatusReply{Blocks: make(map[string]int)}
	d.do(func() {
		for exec, wi := range d.workers {
			reply.Blocks[exec] = len(wi.Blocks)
		}
	})
	return
}

func (d *Directory) HasCachedBlocks(exec string) (yes bool) {
	d.do(func() {
		wi, ok := d.workers[exec]
		yes = ok && len(wi.Cached) > 0
	})
	return
}

// GetBlockStatus reports per-worker status of one block; with askSlaves the
// workers themselves are consulted outside the mailbox.
func (d *Directory) GetBlockStatus(b block.ID, askSlaves bool) map[string]block.Status {
	var endpoints map[string]string
	out := make(map[string]block.Status)
	d.do(func() {
		endpoints = d.endpointsSnapshot()
		if !askSlaves {
			for exec, wi := range d.workers {
				if st, ok := wi.Blocks[b]; ok {
					out[exec] = st
				}
			}
		}
	})
	if !askSlaves {
		return out
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for exec, endpoint := range endpoints {
		exec, endpoint := exec, endpoint
		g.Go(func() error {
			var reply msg.BlockStatusReply
			if err := d.client.Call(endpoint, cmn.MsgGetBlockStatus, &msg.GetBlockStatus{Block: b}, &reply); err != nil {
				return err
			}
			mu.Lock()
			for _, st := range reply.Status {
				out[exec] = st
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		glog.Errorf("block status fan-out: %v", err)
	}
	return out
}

func (d *Directory) GetMatchingBlockIds(prefix string, askSlaves bool) (out []block.ID) {
	var endpoints map[string]string
	d.do(func() {
		endpoints = d.endpointsSnapshot()
		if !askSlaves {
			seen := make(map[block.ID]struct{})
			for b := range d.locations {
				if strings.HasPrefix(b.String(), prefix) {
					seen[b] = struct{}{}
				}
			}
			for b := range seen {
				out = append(out, b)
			}
		}
	})
	if !askSlaves {
		return
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, endpoint := range endpoints {
		endpoint := endpoint
		g.Go(func() error {
			var reply msg.MatchingBlockIdsReply
			err := d.client.Call(endpoint, cmn.MsgGetMatchingBlockIds,
				&msg.GetMatchingBlockIds{Prefix: prefix}, &reply)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, reply.Blocks...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		glog.Errorf("matching block ids fan-out: %v", err)
	}
	return
}

// GetRefProfile hands the profile triple to a worker.
func (d *Directory) GetRefProfile(worker block.ManagerID, endpoint string) *msg.RefProfileReply {
	reply := &msg.RefProfileReply{}
	d.do(func() {
		if wi, ok := d.workers[worker.ExecutorID]; ok && endpoint != "" {
			wi.Endpoint = endpoint
		}
		reply.Refs = d.profiles.Refs
		reply.ByJob = d.profiles.ByJob
		reply.Peers = d.profiles.Peers
	})
	return reply
}

///////////////
// telemetry //
///////////////

func (d *Directory) ReportCacheHit(worker block.ManagerID, snap stats.Snapshot) {
	d.do(func() {
		d.counters.Merge(snap)
		if d.db != nil {
			d.db.PutCounters(d.counters.Snapshot())
		}
	})
}

func (d *Directory) Counters() stats.Snapshot { return d.counters.Snapshot() }

func (d *Directory) writeTelemetry() {
	runtime := time.Since(d.startTime).Milliseconds()
	snap := d.counters.Snapshot()
	path := filepath.Join(d.config.ProfileDir, "result.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		glog.Errorf("failed to open %q: %v", path, err)
		return
	}
	fmt.Fprintf(f, "AppName: %s, Runtime: %d\n", d.config.AppName, runtime)
	fmt.Fprintf(f, "RDD Hit\t%d\tRDD Miss\t%d\n", snap[0], snap[1])
	f.Close()
	glog.Infof("telemetry appended to %q (hit=%d miss=%d)", path, snap[0], snap[1])
}
