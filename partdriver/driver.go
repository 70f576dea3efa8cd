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

// Package partdriver adapts a raw, length-less flash partition device
// into the narrow open/read/write/erase/close shape the loader and
// orchestrator need, and memoizes the (possibly expensive) partition
// scan so it only happens once per process.
//
// The raw flash driver itself — the thing that knows how to talk to
// /dev/mtdN — is treated as an external collaborator (see RawDriver)
// and is not reimplemented here; a production binary wires in
// NewLinuxMTD, and tests wire in a fake.
package partdriver

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Find when no partition with the given
// name was discovered by Scan.
var ErrNotFound = errors.New("partition not found")

// RawPartition identifies one partition as reported by a RawDriver
// scan.
type RawPartition interface {
	Name() string
}

// RawReader reads sequentially from the start of a partition. There
// is no way to know its length up front; callers read exactly as many
// bytes as they need and stop.
type RawReader interface {
	Read(buf []byte) (n int, err error)
	Close() error
}

// RawWriter writes sequentially from the start of a partition.
// Erase(-1) tells the driver to erase/finalize any remaining blocks
// after the last written byte, mirroring mtd_erase_blocks(ctx, -1) in
// the original flash tooling.
type RawWriter interface {
	Write(data []byte) (n int, err error)
	Erase(blocks int) error
	Close() error
}

// RawDriver is the external collaborator: whatever actually knows how
// to enumerate and talk to flash partitions on this device.
type RawDriver interface {
	Scan() ([]RawPartition, error)
	OpenRead(p RawPartition) (RawReader, error)
	OpenWrite(p RawPartition) (RawWriter, error)
}

// Driver is a process-wide handle over a RawDriver. It scans exactly
// once, no matter how many times Find is called, matching the
// original mtd_partitions_scanned latch — expressed here as state on
// an explicit value instead of a package-level global, so a process
// that (in tests) needs two independent views of the partition table
// can construct two Drivers.
type Driver struct {
	raw RawDriver

	mu         sync.Mutex
	scanned    bool
	partitions []RawPartition
	scanErr    error
}

// New returns a Driver backed by raw. The scan does not happen until
// the first call to Find or Scan.
func New(raw RawDriver) *Driver {
	return &Driver{raw: raw}
}

// Scan enumerates partitions if it has not already done so this
// process, then returns the cached result. Safe to call repeatedly;
// only the first call reaches the RawDriver.
func (d *Driver) Scan() ([]RawPartition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.scanned {
		d.partitions, d.scanErr = d.raw.Scan()
		d.scanned = true
	}
	return d.partitions, d.scanErr
}

// Find returns the partition with the given name, scanning first if
// necessary.
func (d *Driver) Find(name string) (RawPartition, error) {
	partitions, err := d.Scan()
	if err != nil {
		return nil, fmt.Errorf("cannot scan partitions: %w", err)
	}
	for _, p := range partitions {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("partition %q not found: %w", name, ErrNotFound)
}

// Read opens name for sequential reading.
func (d *Driver) Read(name string) (RawReader, error) {
	p, err := d.Find(name)
	if err != nil {
		return nil, err
	}
	r, err := d.raw.OpenRead(p)
	if err != nil {
		return nil, fmt.Errorf("cannot read partition %q: %w", name, err)
	}
	return r, nil
}

// Write performs a full write-erase-close cycle of data into the
// named partition: open for writing, push all bytes (a short write
// aborts), erase any remaining blocks with the -1 finalize sentinel,
// then close. Any error at any step aborts the whole operation.
func (d *Driver) Write(name string, data []byte) error {
	p, err := d.Find(name)
	if err != nil {
		return err
	}
	w, err := d.raw.OpenWrite(p)
	if err != nil {
		return fmt.Errorf("cannot open partition %q for writing: %w", name, err)
	}

	n, err := w.Write(data)
	if err != nil {
		w.Close()
		return fmt.Errorf("error writing to partition %q: %w", name, err)
	}
	if n != len(data) {
		w.Close()
		return fmt.Errorf("short write to partition %q (%d of %d bytes)", name, n, len(data))
	}

	if err := w.Erase(-1); err != nil {
		w.Close()
		return fmt.Errorf("error finishing write of partition %q: %w", name, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("error closing write of partition %q: %w", name, err)
	}
	return nil
}
