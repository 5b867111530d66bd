// Package block provides block identity, status, and storage-level metadata
// shared by memcache workers and the master directory.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package block

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Binary form of an UpdateBlockInfo record: block-manager id, UTF name of the
// block id, storage level, mem-size (int64), disk-size (int64).

type UpdateInfo struct {
	Worker   ManagerID
	Block    ID
	Level    StorageLevel
	MemSize  int64
	DiskSize int64
}

func (u *UpdateInfo) Write(w io.Writer) (err error) {
	if err = writeUTF(w, u.Worker.ExecutorID); err != nil {
		return
	}
	if err = writeUTF(w, u.Worker.Host); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, int32(u.Worker.Port)); err != nil {
		return
	}
	if err = writeUTF(w, u.Block.String()); err != nil {
		return
	}
	if err = writeLevel(w, u.Level); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, u.MemSize); err != nil {
		return
	}
	return binary.Write(w, binary.BigEndian, u.DiskSize)
}

func (u *UpdateInfo) Read(r io.Reader) (err error) {
	if u.Worker.ExecutorID, err = readUTF(r); err != nil {
		return
	}
	if u.Worker.Host, err = readUTF(r); err != nil {
		return
	}
	var port int32
	if err = binary.Read(r, binary.BigEndian, &port); err != nil {
		return
	}
	u.Worker.Port = int(port)
	var name string
	if name, err = readUTF(r); err != nil {
		return
	}
	if u.Block, err = ParseID(name); err != nil {
		return
	}
	if u.Level, err = readLevel(r); err != nil {
		return
	}
	if err = binary.Read(r, binary.BigEndian, &u.MemSize); err != nil {
		return
	}
	return binary.Read(r, binary.BigEndian, &u.DiskSize)
}

// levels travel as a flags byte
const (
	flagUseMemory = 1 << iota
	flagUseDisk
	flagDeserialized
	flagOffHeap
)

func writeLevel(w io.Writer, l StorageLevel) error {
	var flags byte
	if l.UseMemory {
		flags |= flagUseMemory
	}
	if l.UseDisk {
		flags |= flagUseDisk
	}
	if l.Deserialized {
		flags |= flagDeserialized
	}
	if l.OffHeap {
		flags |= flagOffHeap
	}
	_, err := w.Write([]byte{flags})
	return err
}

func readLevel(r io.Reader) (l StorageLevel, err error) {
	var b [1]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return
	}
	l.UseMemory = b[0]&flagUseMemory != 0
	l.UseDisk = b[0]&flagUseDisk != 0
	l.Deserialized = b[0]&flagDeserialized != 0
	l.OffHeap = b[0]&flagOffHeap != 0
	return
}

func writeUTF(w io.Writer, s string) (err error) {
	if len(s) > 1<<16-1 {
		return errors.Errorf("string too long for UTF encoding: %d", len(s))
	}
	if err = binary.Write(w, binary.BigEndian, uint16(len(s))); err != nil {
		return
	}
	_, err = io.WriteString(w, s)
	return
}

func readUTF(r io.Reader) (s string, err error) {
	var n uint16
	if err = binary.Read(r, binary.BigEndian, &n); err != nil {
		return
	}
	buf := make([]byte, n)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	return string(buf), nil
}
