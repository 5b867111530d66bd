// Package dbdriver persists the master directory's metadata across restarts:
// block locations, registered workers, and the telemetry counters.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package dbdriver

import (
	"strings"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/stats"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"
)

// Keys are namespaced by record kind; the location keyspace is the block
// name itself, so a recovered database iterates back into block.IDs.
const (
	locPrefix   = "loc##"
	workPrefix  = "wrk##"
	countersKey = "tlm##counters"
)

// DB wraps BuntDB (filesystem sync once a second) behind the three record
// kinds the directory actually persists. Cached bytes never land here:
// this is directory metadata only.
type DB struct {
	bdb *buntdb.DB
}

func Open(path string) (*DB, error) {
	bdb, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	bdb.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond})
	return &DB{bdb: bdb}, nil
}

func (db *DB) Close() error { return db.bdb.Close() }

///////////////
// locations //
///////////////

// PutLocations records the set of workers holding a block.
func (db *DB) PutLocations(b block.ID, workers []string) error {
	data := string(cmn.MustMarshal(workers))
	return db.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(locPrefix+b.String(), data, nil)
		return err
	})
}

func (db *DB) DeleteLocations(b block.ID) error {
	return db.bdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(locPrefix + b.String())
		if err == buntdb.ErrNotFound {
			err = nil
		}
		return err
	})
}

// LoadLocations rebuilds the location map recorded by a previous run.
// Entries whose key no longer parses as a block name are skipped.
func (db *DB) LoadLocations() (map[block.ID][]string, error) {
	out := make(map[block.ID][]string)
	err := db.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(locPrefix+"*", func(key, value string) bool {
			b, err := block.ParseID(strings.TrimPrefix(key, locPrefix))
			if err != nil {
				return true
			}
			var workers []string
			if jsoniter.UnmarshalFromString(value, &workers) == nil {
				out[b] = workers
			}
			return true
		})
	})
	return out, err
}

/////////////
// workers //
/////////////

func (db *DB) PutWorker(executorID, endpoint string) error {
	return db.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(workPrefix+executorID, endpoint, nil)
		return err
	})
}

func (db *DB) DeleteWorker(executorID string) error {
	return db.bdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(workPrefix + executorID)
		if err == buntdb.ErrNotFound {
			err = nil
		}
		return err
	})
}

// LoadWorkers returns executor id -> endpoint of every recorded worker.
func (db *DB) LoadWorkers() (map[string]string, error) {
	out := make(map[string]string)
	err := db.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(workPrefix+"*", func(key, value string) bool {
			out[strings.TrimPrefix(key, workPrefix)] = value
			return true
		})
	})
	return out, err
}

///////////////
// telemetry //
///////////////

func (db *DB) PutCounters(snap stats.Snapshot) error {
	data := string(cmn.MustMarshal(snap))
	return db.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(countersKey, data, nil)
		return err
	})
}

// LoadCounters returns the last recorded snapshot; found is false on a
// fresh database.
func (db *DB) LoadCounters() (snap stats.Snapshot, found bool, err error) {
	err = db.bdb.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(countersKey)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = jsoniter.UnmarshalFromString(value, &snap) == nil
		return nil
	})
	return
}
