// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	jsoniter "github.com/json-iterator/go"
)

func MustMarshal(v interface{}) []byte {
	b, err := jsoniter.Marshal(v)
	AssertNoErr(err)
	return b
}

func MustUnmarshal(b []byte, v interface{}) {
	AssertNoErr(jsoniter.Unmarshal(b, v))
}

// StringSet is a set of strings with a tiny convenience API.
type StringSet map[string]struct{}

func NewStringSet(keys ...string) (ss StringSet) {
	ss = make(StringSet, len(keys))
	ss.Add(keys...)
	return
}

func (ss StringSet) Add(keys ...string) {
	for _, key := range keys {
		ss[key] = struct{}{}
	}
}

func (ss StringSet) Contains(key string) (ok bool) {
	_, ok = ss[key]
	return
}

func (ss StringSet) Delete(key string) { delete(ss, key) }

func (ss StringSet) Keys() (keys []string) {
	keys = make([]string, 0, len(ss))
	for key := range ss {
		keys = append(keys, key)
	}
	return
}
