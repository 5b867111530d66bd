// Package block provides block identity, status, and storage-level metadata
// shared by memcache workers and the master directory.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package block

import (
	"fmt"
)

// ManagerID identifies one worker's block manager.
type ManagerID struct {
	ExecutorID string `json:"executor_id"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
}

func (m ManagerID) String() string {
	return fmt.Sprintf("BlockManagerId(%s, %s, %d)", m.ExecutorID, m.Host, m.Port)
}

func (m ManagerID) IsDriver() bool { return m.ExecutorID == "driver" }
