// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package loader loads a named resource — a plain file or a raw MTD
// partition — into memory along with its digest and synthesized stat
// metadata. Loading a partition is the one genuinely tricky part of
// this whole module: a raw flash partition has no end-of-file marker,
// so the caller must supply a prioritized list of (length, digest)
// candidates and the loader probes them in ascending size order,
// checking the running digest at each boundary.
package loader

import (
	"fmt"
	"io"
	"os"

	"github.com/snapcore/otapatch/digest"
	"github.com/snapcore/otapatch/logger"
	"github.com/snapcore/otapatch/partdriver"
)

// StatInfo carries the subset of file metadata the orchestrator needs
// to restore ownership and permissions on the patched output.
type StatInfo struct {
	Mode uint32
	UID  int
	GID  int
}

// Contents is a resource loaded fully into memory.
type Contents struct {
	Data   []byte
	Digest digest.Digest
	Stat   StatInfo
}

// Size returns the number of loaded bytes.
func (c *Contents) Size() int64 {
	return int64(len(c.Data))
}

// partitionStat is what the original tool fakes for anything read out
// of a partition, which has no filesystem metadata of its own.
var partitionStat = StatInfo{Mode: 0644, UID: 0, GID: 0}

// Load loads locator into memory. Locators beginning with "MTD:" are
// read from a raw partition via drv, probing the candidates encoded
// in the locator (see ParsePartitionSpec); anything else is read as a
// plain file.
func Load(drv *partdriver.Driver, locator string) (*Contents, error) {
	if IsPartitionLocator(locator) {
		return loadPartition(drv, locator)
	}
	return loadFile(locator)
}

func loadFile(path string) (*Contents, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	data := make([]byte, info.Size())
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	n, err := io.ReadFull(f, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	if int64(n) != info.Size() {
		return nil, fmt.Errorf("short read of %q (%d bytes of %d)", path, n, info.Size())
	}

	st := statInfoFromOS(info)
	return &Contents{
		Data:   data,
		Digest: digest.Sum(data),
		Stat:   st,
	}, nil
}

// loadPartition implements the speculative prefix load described in
// the package doc: parse the candidate list, sort by ascending size,
// read just enough new bytes to reach each candidate boundary in
// turn, and check a snapshot of the running digest against that
// candidate before deciding whether to read further.
func loadPartition(drv *partdriver.Driver, locator string) (*Contents, error) {
	spec, err := ParsePartitionSpec(locator)
	if err != nil {
		return nil, err
	}

	r, err := drv.Read(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize read of partition %q: %w", spec.Name, err)
	}
	defer r.Close()

	maxSize := int64(0)
	for _, cand := range spec.Candidates {
		if cand.Size > maxSize {
			maxSize = cand.Size
		}
	}

	buf := make([]byte, maxSize)
	var pos int64
	h := digest.NewHash()

	order := ascendingSizeOrder(spec.Candidates)
	for _, idx := range order {
		cand := spec.Candidates[idx]
		if cand.Size > pos {
			want := cand.Size - pos
			n, err := io.ReadFull(r, buf[pos:cand.Size])
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("short read (%d bytes of %d) for partition %q: %w", n, want, spec.Name, err)
			}
			if int64(n) != want {
				return nil, fmt.Errorf("short read (%d bytes of %d) for partition %q", n, want, spec.Name)
			}
			h.Write(buf[pos:cand.Size])
			pos = cand.Size
		}

		candDigest := h.Clone().Sum()
		parsed, err := digest.Parse(cand.Digest)
		if err != nil {
			return nil, fmt.Errorf("failed to parse digest %q for partition %q: %w", cand.Digest, spec.Name, err)
		}

		if candDigest == parsed {
			logger.For(spec.Name).Noticef("mtd read matched size %d sha %s", cand.Size, cand.Digest)
			return &Contents{
				Data:   buf[:cand.Size],
				Digest: parsed,
				Stat:   partitionStat,
			}, nil
		}
	}

	return nil, fmt.Errorf("contents of partition %q didn't match %q", spec.Name, locator)
}

func statInfoFromOS(info os.FileInfo) StatInfo {
	mode := uint32(info.Mode().Perm())
	uid, gid := platformOwner(info)
	return StatInfo{Mode: mode, UID: uid, GID: gid}
}
