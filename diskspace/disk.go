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

// Package diskspace checks free space on the filesystem holding a
// staging path before the patcher commits to writing size bytes
// there, and asks an external cache-eviction hook to make room when
// there isn't enough.
package diskspace

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// NotEnoughDiskSpaceError is returned by CheckFreeSpace when path's
// filesystem doesn't have size free bytes available.
type NotEnoughDiskSpaceError struct {
	Path  string
	Delta int64
}

func (e *NotEnoughDiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient space in %q, at least %s more is required", e.Path, formatBytes(e.Delta))
}

func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%.1fKB", float64(n)/1024)
}

var syscallStatfs = unix.Statfs

// MockSyscallStatfs replaces the statfs syscall used by CheckFreeSpace,
// for testing. It returns a restore function.
func MockSyscallStatfs(f func(path string, buf *unix.Statfs_t) error) (restore func()) {
	old := syscallStatfs
	syscallStatfs = f
	return func() {
		syscallStatfs = old
	}
}

// FreeSpace returns the number of bytes free on the filesystem
// containing path.
func FreeSpace(path string) (int64, error) {
	var st unix.Statfs_t
	if err := syscallStatfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	return int64(st.Bsize) * int64(st.Bfree), nil
}

// CheckFreeSpace checks that the filesystem containing path has at
// least size bytes available, returning a *NotEnoughDiskSpaceError
// (wrapping the exact shortfall) if not.
func CheckFreeSpace(path string, size int64) error {
	var st unix.Statfs_t
	if err := syscallStatfs(path, &st); err != nil {
		return err
	}

	avail := int64(st.Bsize) * int64(st.Bavail)
	if avail < size {
		return &NotEnoughDiskSpaceError{Path: path, Delta: size - avail}
	}
	return nil
}

// CacheEvictionHook is the external collaborator otapatch defers to
// for deciding which cached files to remove when the cache partition
// is full; the eviction policy itself belongs to the surrounding
// recovery environment, not to otapatch.
type CacheEvictionHook func(bytesNeeded int64) error

// evictionLimiter throttles calls into the eviction hook so a staging
// loop that retries several times in quick succession doesn't hammer
// whatever does the actual directory scan and unlinking.
var evictionLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// MockEvictionLimiter replaces the package's rate limiter, for testing.
// It returns a restore function.
func MockEvictionLimiter(l *rate.Limiter) (restore func()) {
	old := evictionLimiter
	evictionLimiter = l
	return func() {
		evictionLimiter = old
	}
}

// ReclaimCache asks hook to free at least bytesNeeded bytes on the
// cache partition, skipping the call entirely if it has already run
// within the last second.
func ReclaimCache(hook CacheEvictionHook, bytesNeeded int64) error {
	if hook == nil {
		return fmt.Errorf("no cache eviction hook configured")
	}
	if !evictionLimiter.Allow() {
		return fmt.Errorf("cache eviction attempted too recently, skipping")
	}
	return hook(bytesNeeded)
}
