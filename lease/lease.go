// Package lease computes and tracks Optimal Steady-state Leases (OSL):
// per-dataset protection windows derived from reuse-interval histograms.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package lease

import (
	"sort"
	"sync"

	"github.com/NVIDIA/memcache/block"
	"github.com/golang/glog"
)

type (
	// Histogram maps a reuse interval to its observed frequency.
	Histogram map[int64]int64

	// Engine holds the planning state (dag_info, lease_map) and the runtime
	// state (current_dag_info, current_lease) of the leasing policy. Each map
	// has its own mutex; no operation holds more than one at a time.
	Engine struct {
		dagMu      sync.Mutex
		dagInfo    map[block.DatasetID]Histogram
		leaseMu    sync.Mutex
		leaseMap   map[block.DatasetID]int64
		curMu      sync.Mutex
		curLease   map[block.DatasetID]int64
		curDagMu   sync.Mutex
		curDag     map[block.DatasetID]Histogram
		accessMu   sync.Mutex
		accessN    int64 // total anticipated accesses in the planning horizon
	}
)

func NewEngine() *Engine {
	return &Engine{
		dagInfo:  make(map[block.DatasetID]Histogram),
		leaseMap: make(map[block.DatasetID]int64),
		curLease: make(map[block.DatasetID]int64),
		curDag:   make(map[block.DatasetID]Histogram),
	}
}

// SetDAGInfo replaces (never merges) the reuse-interval histograms and
// recomputes the lease map. avgCacheSize scales the target cost and is the
// count of cached RDD blocks, or the dataset count when nothing is cached yet.
func (e *Engine) SetDAGInfo(dag map[block.DatasetID]Histogram, accessN, avgCacheSize int64) {
	e.dagMu.Lock()
	e.dagInfo = make(map[block.DatasetID]Histogram, len(dag))
	for d, h := range dag {
		hh := make(Histogram, len(h))
		for ri, freq := range h {
			hh[ri] = freq
		}
		e.dagInfo[d] = hh
	}
	e.dagMu.Unlock()

	e.accessMu.Lock()
	e.accessN = accessN
	e.accessMu.Unlock()

	e.Recompute(avgCacheSize)
}

// Recompute runs the greedy PPUC assignment: repeatedly extend the lease of
// the (dataset, interval) pair with the highest positive profit-per-unit-cost
// until the budget T = avgCacheSize x access_number_global is exhausted.
func (e *Engine) Recompute(avgCacheSize int64) {
	e.dagMu.Lock()
	dag := e.dagInfo
	datasets := make([]block.DatasetID, 0, len(dag))
	for d := range dag {
		datasets = append(datasets, d)
	}
	e.dagMu.Unlock()
	sort.Slice(datasets, func(i, j int) bool { return datasets[i] < datasets[j] })

	e.accessMu.Lock()
	target := avgCacheSize * e.accessN
	e.accessMu.Unlock()

	leases := make(map[block.DatasetID]int64, len(datasets))
	for _, d := range datasets {
		leases[d] = 0
	}
	var total int64
	for {
		var (
			bestD     block.DatasetID
			bestL     int64
			bestPPUC  float64
			bestDelta int64
			found     bool
		)
		for _, d := range datasets {
			h := dag[d]
			for _, ri := range sortedIntervals(h) {
				if ri <= leases[d] {
					continue
				}
				dh := hits(h, ri) - hits(h, leases[d])
				dc := cost(h, ri) - cost(h, leases[d])
				var ppuc float64
				if dc != 0 {
					ppuc = float64(dh) / float64(dc)
				}
				// strictly-greater keeps the first-seen candidate on ties
				if ppuc > 0 && (!found || ppuc > bestPPUC) {
					bestD, bestL, bestPPUC, bestDelta, found = d, ri, ppuc, dc, true
				}
			}
		}
		if !found || total+bestDelta > target {
			break
		}
		leases[bestD] = bestL
		total += bestDelta
	}

	e.leaseMu.Lock()
	e.leaseMap = leases
	e.leaseMu.Unlock()
	if glog.V(4) {
		glog.Infof("lease map recomputed: %d datasets, budget %d, spent %d", len(leases), target, total)
	}
}

// OnPut installs runtime lease state for a freshly cached block of dataset d.
// No-op for datasets without a histogram.
func (e *Engine) OnPut(d block.DatasetID) {
	e.dagMu.Lock()
	h, ok := e.dagInfo[d]
	e.dagMu.Unlock()
	if !ok {
		return
	}
	e.curDagMu.Lock()
	e.curDag[d] = h
	e.curDagMu.Unlock()

	e.leaseMu.Lock()
	l := e.leaseMap[d]
	e.leaseMu.Unlock()

	e.curMu.Lock()
	e.curLease[d] = l
	e.curMu.Unlock()
}

// Tick ages every tracked lease by one access and refreshes the lease of the
// dataset that was just accessed. Only datasets with runtime state refresh:
// current_lease keys mirror the entry table.
func (e *Engine) Tick(accessed block.DatasetID) {
	e.leaseMu.Lock()
	refreshed := e.leaseMap[accessed]
	e.leaseMu.Unlock()

	e.curMu.Lock()
	for d, l := range e.curLease {
		if l > 0 {
			e.curLease[d] = l - 1
		}
	}
	if _, ok := e.curLease[accessed]; ok {
		e.curLease[accessed] = refreshed
	}
	e.curMu.Unlock()
}

func (e *Engine) CurrentLease(d block.DatasetID) (l int64, ok bool) {
	e.curMu.Lock()
	l, ok = e.curLease[d]
	e.curMu.Unlock()
	return
}

func (e *Engine) LeaseOf(d block.DatasetID) (l int64) {
	e.leaseMu.Lock()
	l = e.leaseMap[d]
	e.leaseMu.Unlock()
	return
}

// CurrentLeases returns a snapshot of the runtime lease state.
func (e *Engine) CurrentLeases() map[block.DatasetID]int64 {
	e.curMu.Lock()
	snap := make(map[block.DatasetID]int64, len(e.curLease))
	for d, l := range e.curLease {
		snap[d] = l
	}
	e.curMu.Unlock()
	return snap
}

// Expired lists datasets whose lease has run out.
func (e *Engine) Expired() (out []block.DatasetID) {
	e.curMu.Lock()
	for d, l := range e.curLease {
		if l <= 0 {
			out = append(out, d)
		}
	}
	e.curMu.Unlock()
	return
}

// RemoveCurrent drops the runtime state of a dataset whose block left memory.
func (e *Engine) RemoveCurrent(d block.DatasetID) {
	e.curMu.Lock()
	delete(e.curLease, d)
	e.curMu.Unlock()
	e.curDagMu.Lock()
	delete(e.curDag, d)
	e.curDagMu.Unlock()
}

func (e *Engine) Clear() {
	e.curMu.Lock()
	e.curLease = make(map[block.DatasetID]int64)
	e.curMu.Unlock()
	e.curDagMu.Lock()
	e.curDag = make(map[block.DatasetID]Histogram)
	e.curDagMu.Unlock()
}

// NumDatasets is the |dag_info| fallback for the average cache size.
func (e *Engine) NumDatasets() int {
	e.dagMu.Lock()
	n := len(e.dagInfo)
	e.dagMu.Unlock()
	return n
}

//
// the lease value functions
//

func hits(h Histogram, l int64) (n int64) {
	for ri, freq := range h {
		if ri <= l {
			n += freq
		}
	}
	return
}

func cost(h Histogram, l int64) (c int64) {
	for ri, freq := range h {
		if ri <= l {
			c += ri * freq
		} else {
			c += l * freq
		}
	}
	return
}

func sortedIntervals(h Histogram) []int64 {
	ris := make([]int64, 0, len(h))
	for ri := range h {
		ris = append(ris, ri)
	}
	sort.Slice(ris, func(i, j int) bool { return ris[i] < ris[j] })
	return ris
}
