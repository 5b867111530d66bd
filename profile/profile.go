// Package profile parses the dataset-dependency profile files the master
// loads at startup: app-wide reference counts, per-job reference maps, and
// dataset peer pairs.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package profile

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NVIDIA/memcache/block"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

type Profiles struct {
	Refs  map[block.DatasetID]int64
	ByJob map[block.JobID]map[block.DatasetID]int64
	Peers map[block.DatasetID]block.DatasetID
}

// Load reads `<app>.txt`, `<app>-JobDAG.txt`, and `<app>-Peers.txt` from dir.
// Missing files are benign: the corresponding map stays empty and workers
// degrade to a single reference per block.
func Load(dir, app string) (p *Profiles, err error) {
	p = &Profiles{
		Refs:  make(map[block.DatasetID]int64),
		ByJob: make(map[block.JobID]map[block.DatasetID]int64),
		Peers: make(map[block.DatasetID]block.DatasetID),
	}
	if err = loadFile(filepath.Join(dir, app+".txt"), p.parseRefLine); err != nil {
		return
	}
	if err = loadFile(filepath.Join(dir, app+"-JobDAG.txt"), p.parseJobLine); err != nil {
		return
	}
	err = loadFile(filepath.Join(dir, app+"-Peers.txt"), p.parsePeerLine)
	return
}

func loadFile(path string, parse func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			glog.Infof("profile file %q not found, skipping", path)
			return nil
		}
		return errors.Wrapf(err, "failed to open profile %q", path)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := parse(line); err != nil {
			glog.Errorf("profile %q: skipping line %q: %v", path, line, err)
		}
	}
	return errors.Wrapf(scanner.Err(), "failed to read profile %q", path)
}

// DATASETID:REFCOUNT
func (p *Profiles) parseRefLine(line string) error {
	d, refs, err := parsePair(line)
	if err != nil {
		return err
	}
	p.Refs[block.DatasetID(d)] = refs
	return nil
}

// JOBID-DATASETID:REF[;DATASETID:REF]* — the section after `-` may be empty.
func (p *Profiles) parseJobLine(line string) error {
	i := strings.IndexByte(line, '-')
	if i < 0 {
		return errors.Errorf("missing job separator")
	}
	job, err := strconv.ParseInt(line[:i], 10, 64)
	if err != nil {
		return err
	}
	refs := make(map[block.DatasetID]int64)
	if rest := line[i+1:]; rest != "" {
		for _, field := range strings.Split(rest, ";") {
			d, r, err := parsePair(field)
			if err != nil {
				return err
			}
			refs[block.DatasetID(d)] = r
		}
	}
	p.ByJob[block.JobID(job)] = refs
	return nil
}

// DATASETID:DATASETID — both directions registered
func (p *Profiles) parsePeerLine(line string) error {
	a, b, err := parsePair(line)
	if err != nil {
		return err
	}
	p.Peers[block.DatasetID(a)] = block.DatasetID(b)
	p.Peers[block.DatasetID(b)] = block.DatasetID(a)
	return nil
}

func parsePair(s string) (a, b int64, err error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return 0, 0, errors.Errorf("missing ':' in %q", s)
	}
	if a, err = strconv.ParseInt(strings.TrimSpace(s[:i]), 10, 64); err != nil {
		return
	}
	b, err = strconv.ParseInt(strings.TrimSpace(s[i+1:]), 10, 64)
	return
}
