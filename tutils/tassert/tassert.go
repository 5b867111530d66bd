// Package tassert provides tiny assertion helpers for tests.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import (
	"testing"
)

func CheckFatal(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("unexpected error: %v", err)
	}
}

func CheckError(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Errorf("unexpected error: %v", err)
	}
}

func Fatalf(t *testing.T, cond bool, msg string, args ...interface{}) {
	if !cond {
		t.Helper()
		t.Fatalf(msg, args...)
	}
}

func Errorf(t *testing.T, cond bool, msg string, args ...interface{}) {
	if !cond {
		t.Helper()
		t.Errorf(msg, args...)
	}
}
