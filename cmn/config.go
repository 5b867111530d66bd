// Package cmn provides common low-level types and utilities for all memcache projects
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

type (
	Config struct {
		AppName    string        `json:"app_name"`
		Policy     string        `json:"policy"`    // enum: PolicyLRU | PolicyLRC | PolicyOSL
		PeerMode   string        `json:"peer_mode"` // enum: PeerConservative | PeerStrict
		Memory     MemoryConf    `json:"memory"`
		Timeout    TimeoutConf   `json:"timeout"`
		ProfileDir string        `json:"profile_dir"` // profile files location; cwd when empty
		DBPath     string        `json:"db_path"`     // master metadata persistence
		SpillDir   string        `json:"spill_dir"`   // evicted-block spill location
	}
	MemoryConf struct {
		MaxBytes        int64 `json:"max_bytes,string"`
		OffHeapMaxBytes int64 `json:"off_heap_max_bytes,string"`
	}
	TimeoutConf struct {
		Ask        time.Duration `json:"ask"`
		MaxRetries int           `json:"max_retries"`
	}
)

const (
	defaultMaxMem     = 2 * GiB
	defaultAskTimeout = 30 * time.Second
	defaultMaxRetries = 3
)

// AppNameNoSpaces is the profile-file stem: the configured name with spaces stripped.
func (c *Config) AppNameNoSpaces() string {
	return strings.ReplaceAll(c.AppName, " ", "")
}

func (c *Config) Validate() error {
	switch c.Policy {
	case PolicyLRU, PolicyLRC, PolicyOSL:
	default:
		return errors.Errorf("invalid eviction policy %q", c.Policy)
	}
	switch c.PeerMode {
	case PeerConservative, PeerStrict:
	default:
		return errors.Errorf("invalid peer mode %q", c.PeerMode)
	}
	if c.Memory.MaxBytes <= 0 {
		return errors.Errorf("invalid memory limit %d", c.Memory.MaxBytes)
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		AppName:  "memcache",
		Policy:   PolicyLRU,
		PeerMode: PeerConservative,
		Memory:   MemoryConf{MaxBytes: defaultMaxMem, OffHeapMaxBytes: 0},
		Timeout:  TimeoutConf{Ask: defaultAskTimeout, MaxRetries: defaultMaxRetries},
	}
}

// LoadConfig reads the JSON config, applies environment overrides, validates.
func LoadConfig(path string) (config *Config, err error) {
	config = DefaultConfig()
	if path != "" {
		b, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %q", path)
		}
		if err := jsoniter.Unmarshal(b, config); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %q", path)
		}
	}
	if err = config.env(); err != nil {
		return
	}
	err = config.Validate()
	return
}

// environment overrides defaults and config hard-codings
func (c *Config) env() (err error) {
	if a := os.Getenv("MC_MAX_MEM"); a != "" {
		if c.Memory.MaxBytes, err = S2B(a); err != nil {
			return errors.Errorf("cannot parse MC_MAX_MEM %q", a)
		}
	}
	if a := os.Getenv("MC_POLICY"); a != "" {
		c.Policy = a
	}
	if a := os.Getenv("MC_PEER_MODE"); a != "" {
		c.PeerMode = a
	}
	if a := os.Getenv("MC_ASK_RETRIES"); a != "" {
		if c.Timeout.MaxRetries, err = strconv.Atoi(a); err != nil {
			return errors.Errorf("cannot parse MC_ASK_RETRIES %q", a)
		}
	}
	return
}
