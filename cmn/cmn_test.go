// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/tutils/tassert"
)

func TestS2B(t *testing.T) {
	tests := []struct {
		in  string
		out int64
	}{
		{"1024", 1024},
		{"1KiB", cmn.KiB},
		{"32MiB", 32 * cmn.MiB},
		{"2GiB", 2 * cmn.GiB},
		{"1.5MiB", cmn.MiB + cmn.MiB/2},
	}
	for _, tt := range tests {
		n, err := cmn.S2B(tt.in)
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, n == tt.out, "%s: expected %d, got %d", tt.in, tt.out, n)
	}
	if _, err := cmn.S2B("not-a-size"); err == nil {
		t.Error("expected parse failure")
	}
}

func TestTimeoutGroupCompletes(t *testing.T) {
	tg := cmn.NewTimeoutGroup()
	tg.Add(3)
	for i := 0; i < 3; i++ {
		go tg.Done()
	}
	tassert.Errorf(t, !tg.WaitTimeout(2*time.Second), "group must finish well before the deadline")
}

func TestTimeoutGroupTimesOut(t *testing.T) {
	tg := cmn.NewTimeoutGroup()
	tg.Add(1) // never Done
	tassert.Errorf(t, tg.WaitTimeout(20*time.Millisecond), "group must report the deadline")
	tg.Done() // late completion is harmless
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	config := cmn.DefaultConfig()
	tassert.CheckFatal(t, config.Validate())

	config.Policy = "random"
	tassert.Fatalf(t, config.Validate() != nil, "invalid policy must fail validation")
}

func TestConfigLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "cmn")
	tassert.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.json")
	body := `{"app_name": "Word Count", "policy": "lrc", "peer_mode": "strict", "memory": {"max_bytes": "1048576"}}`
	tassert.CheckFatal(t, ioutil.WriteFile(path, []byte(body), 0o644))

	config, err := cmn.LoadConfig(path)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, config.Policy == cmn.PolicyLRC, "bad policy %q", config.Policy)
	tassert.Errorf(t, config.Memory.MaxBytes == cmn.MiB, "bad memory limit %d", config.Memory.MaxBytes)
	tassert.Errorf(t, config.AppNameNoSpaces() == "WordCount", "bad app name %q", config.AppNameNoSpaces())
	tassert.Errorf(t, config.Timeout.Ask > 0, "defaults must backfill the ask timeout")
}
