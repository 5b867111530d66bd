// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"sync"
	"time"
)

type (
	// TimeoutGroup awaits a batch of jobs with a deadline: the master's
	// fan-outs use it so one unresponsive worker cannot pin a future forever.
	//
	// Single-shot and single-waiter: Add all jobs first, call WaitTimeout
	// once. Jobs finishing after the deadline still run Done harmlessly;
	// their results are simply not awaited.
	TimeoutGroup struct {
		wg   sync.WaitGroup
		fin  chan struct{}
		once sync.Once
	}

	// StopCh is specialized channel for stopping things.
	StopCh struct {
		once sync.Once
		ch   chan struct{}
	}
)

func NewTimeoutGroup() *TimeoutGroup {
	return &TimeoutGroup{fin: make(chan struct{})}
}

func (tg *TimeoutGroup) Add(n int) { tg.wg.Add(n) }
func (tg *TimeoutGroup) Done()     { tg.wg.Done() }

// WaitTimeout blocks until every job is done or the deadline passes,
// whichever comes first; true means the deadline won.
func (tg *TimeoutGroup) WaitTimeout(timeout time.Duration) (timed bool) {
	tg.once.Do(func() {
		go func() {
			tg.wg.Wait()
			close(tg.fin)
		}()
	})
	t := time.NewTimer(timeout)
	select {
	case <-tg.fin:
	case <-t.C:
		timed = true
	}
	t.Stop()
	return
}

func NewStopCh() *StopCh {
	return &StopCh{
		ch: make(chan struct{}, 1),
	}
}

func (sc *StopCh) Listen() <-chan struct{} {
	return sc.ch
}

func (sc *StopCh) Close() {
	sc.once.Do(func() {
		close(sc.ch)
	})
}
