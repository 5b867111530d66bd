// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"
)

type (
	NotFoundError struct {
		what string
	}
	AbortedError struct {
		what string
	}
	TimeoutError struct {
		what string
	}
	// DuplicatePutError - a put_* call for a block whose reference count is
	// already tracked (e.g. a block re-cached after a spill).
	DuplicatePutError struct {
		name string
	}
)

func NewNotFoundError(format string, a ...interface{}) *NotFoundError {
	return &NotFoundError{fmt.Sprintf(format, a...)}
}
func (e *NotFoundError) Error() string { return e.what + " does not exist" }

func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

func NewAbortedError(what string) *AbortedError { return &AbortedError{what} }
func (e *AbortedError) Error() string           { return e.what + " aborted" }

func NewTimeoutError(what string) *TimeoutError { return &TimeoutError{what} }
func (e *TimeoutError) Error() string           { return e.what + " timed out" }

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func NewDuplicatePutError(name string) *DuplicatePutError { return &DuplicatePutError{name} }
func (e *DuplicatePutError) Error() string {
	return "block " + e.name + " is already present in the store"
}
