// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

const assertMsg = "assertion failed"

// Assertions crash the process: they guard programmer errors, not runtime
// conditions (see err.go for the latter).

func Assert(cond bool) {
	if !cond {
		panic(assertMsg)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(assertMsg + ": " + msg)
	}
}

func Assertf(cond bool, format string, a ...interface{}) {
	if !cond {
		panic(assertMsg + ": " + fmt.Sprintf(format, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
