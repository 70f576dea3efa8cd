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

// Package patcher orchestrates a single patch application: load the
// target and source, pick a patch whose declared source digest
// matches what's actually on disk (or in a cache backup, if the
// primary source is missing or was partially overwritten by a
// previous interrupted run), decode it, verify the result, and commit
// it in place.
//
// Nothing here is safe to run concurrently against the same target:
// it is meant to be invoked once per process, the way the original
// command-line tool was.
package patcher

import (
	"os"
	"strings"
	"time"

	"gopkg.in/retry.v1"

	"github.com/snapcore/otapatch/decoder"
	"github.com/snapcore/otapatch/digest"
	"github.com/snapcore/otapatch/diskspace"
	"github.com/snapcore/otapatch/loader"
	"github.com/snapcore/otapatch/logger"
	"github.com/snapcore/otapatch/partdriver"
	"github.com/snapcore/otapatch/patchsink"
)

// DefaultCacheTempSource is where a copy of the source file is backed
// up before a risky in-place write, so a run interrupted partway
// through can recover the original bytes on its next invocation.
const DefaultCacheTempSource = "/cache/saved.file"

// cacheMatchMinIndex is the minimum patch-list index a cache-backup
// source is allowed to match. The primary source may match any entry
// (index >= 0); a cache backup must match at index >= 1. This mirrors
// the asymmetry in the tool this package replaces one-for-one and is
// probably an inherited off-by-one rather than deliberate, but fixing
// it would let a cache backup whose digest matches entry 0 be used
// where it is rejected as CorruptSource today, so it's preserved here
// as a named constant rather than silently corrected.
const cacheMatchMinIndex = 1

// PatchOption is one candidate patch: the digest of the source it
// applies to, and the patch bytes themselves.
type PatchOption struct {
	SourceDigest string
	Data         []byte
}

// ApplyRequest describes one patch-application run.
type ApplyRequest struct {
	Driver *partdriver.Driver

	SourceLocator string
	TargetLocator string // "-" means "same as SourceLocator"
	TargetDigest  string
	TargetSize    int64
	Patches       []PatchOption

	CacheTempSource string // defaults to DefaultCacheTempSource
	EvictionHook    diskspace.CacheEvictionHook
}

// CheckRequest describes one idempotency-check run: "does this
// locator, or its cache backup, already carry one of these digests?"
type CheckRequest struct {
	Driver          *partdriver.Driver
	Locator         string
	Digests         []string
	CacheTempSource string
}

func (r *ApplyRequest) cacheTempSource() string {
	if r.CacheTempSource != "" {
		return r.CacheTempSource
	}
	return DefaultCacheTempSource
}

func (r *CheckRequest) cacheTempSource() string {
	if r.CacheTempSource != "" {
		return r.CacheTempSource
	}
	return DefaultCacheTempSource
}

func patchDigests(patches []PatchOption) []string {
	out := make([]string, len(patches))
	for i, p := range patches {
		out[i] = p.SourceDigest
	}
	return out
}

// Check reports whether locator (or its cache backup) already holds
// one of the expected digests. It's used as a cheap idempotency probe
// before bothering to apply anything, mirroring the recovered
// applypatch_check companion tool: specifying no digests makes it
// pass as soon as the locator loads at all, which is the shape a
// caller probing a raw MTD partition wants, since the partition
// locator already encodes its own expected digests.
func Check(req CheckRequest) error {
	contents, loadErr := loader.Load(req.Driver, req.Locator)
	if loadErr == nil && (len(req.Digests) == 0 || digest.FindMatching(contents.Digest, req.Digests) >= 0) {
		return nil
	}

	logger.For(req.Locator).Noticef("doesn't have any of expected sha1 sums; checking cache")

	cacheContents, err := loader.Load(req.Driver, req.cacheTempSource())
	if err != nil {
		return wrapf(IoError, "failed to load cache file: %v", err)
	}
	if digest.FindMatching(cacheContents.Digest, req.Digests) < 0 {
		return wrapf(CorruptSource, "cache bits don't match any sha1 for %q", req.Locator)
	}
	return nil
}

// Apply applies whichever patch in req.Patches matches the source
// currently on disk (or, failing that, the cache backup of a
// previous run), verifies the result against req.TargetDigest, and
// commits it to req.TargetLocator.
//
// Apply is idempotent: if the target already carries the expected
// digest, it returns immediately without touching anything.
func Apply(req ApplyRequest) error {
	targetLocator := req.TargetLocator
	if targetLocator == "-" {
		targetLocator = req.SourceLocator
	}

	logger.For(req.SourceLocator).Noticef("applying patch")

	targetDigest, err := digest.Parse(req.TargetDigest)
	if err != nil {
		return wrapf(MalformedLocator, "failed to parse target digest %q: %v", req.TargetDigest, err)
	}

	var sourceFile *loader.Contents
	if c, err := loader.Load(req.Driver, targetLocator); err == nil {
		if c.Digest == targetDigest {
			logger.For(targetLocator).Noticef("is already target; no patch needed")
			return nil
		}
		sourceFile = c
	}

	if sourceFile == nil || targetLocator != req.SourceLocator {
		if c, err := loader.Load(req.Driver, req.SourceLocator); err == nil {
			sourceFile = c
		} else {
			sourceFile = nil
		}
	}

	var sourcePatch *PatchOption
	if sourceFile != nil {
		if idx := digest.FindMatching(sourceFile.Digest, patchDigests(req.Patches)); idx >= 0 {
			sourcePatch = &req.Patches[idx]
		}
	}

	var copyFile *loader.Contents
	var copyPatch *PatchOption
	if sourcePatch == nil {
		logger.For(req.SourceLocator).Noticef("source file is bad; trying copy")

		c, err := loader.Load(req.Driver, req.cacheTempSource())
		if err != nil {
			return wrapf(CorruptSource, "failed to read copy file: %v", err)
		}
		copyFile = c

		if idx := digest.FindMatching(c.Digest, patchDigests(req.Patches)); idx >= cacheMatchMinIndex {
			copyPatch = &req.Patches[idx]
		}
		if copyPatch == nil {
			return wrapf(CorruptSource, "copy file doesn't match source SHA-1s either")
		}
	}

	targetIsPartition := loader.IsPartitionLocator(targetLocator)

	maxAttempts := 2
	if targetIsPartition {
		maxAttempts = 1
	}
	strategy := retry.LimitCount(maxAttempts, retry.Exponential{
		Initial: 10 * time.Millisecond,
		Factor:  1,
	})

	madeCopy := false
	var sourceToUse *loader.Contents
	var patchToUse *PatchOption
	var outName string
	var memSink *patchsink.MemorySink
	var targetHash digest.Digest
	var lastErr error

	attemptNum := 0
	for attempt := retry.Start(strategy, nil); attempt.Next(); {
		attemptNum++
		first := attemptNum == 1

		if targetIsPartition {
			// The write to the partition itself happens after decode
			// and verification below; back up whichever source triage
			// actually picked now, in case that write is interrupted
			// partway through.
			if err := backupSourceToCache(req, sourceFile, copyFile, sourcePatch != nil); err != nil {
				return err
			}
			madeCopy = true
		} else {
			enoughSpace := false
			if first {
				enoughSpace, err = enoughSpaceForTarget(targetLocator, req.TargetSize)
				if err != nil {
					return wrapf(IoError, "failed to check free space for %q: %v", targetLocator, err)
				}
				logger.For(targetLocator).Debugf("target %d bytes; attempt %d; enough space %v", req.TargetSize, attemptNum, enoughSpace)
			}

			if !enoughSpace && sourcePatch != nil {
				if loader.IsPartitionLocator(req.SourceLocator) {
					return wrapf(InsufficientSpace, "not enough free space for target but source is MTD")
				}
				if err := backupSourceToCache(req, sourceFile, copyFile, true); err != nil {
					return err
				}
				madeCopy = true
				os.Remove(req.SourceLocator)
			}
		}

		if sourcePatch != nil {
			sourceToUse = sourceFile
			patchToUse = sourcePatch
		} else {
			sourceToUse = copyFile
			patchToUse = copyPatch
		}

		var sink patchsink.Sink
		var fileSink *patchsink.FileSink
		if targetIsPartition {
			memSink = patchsink.NewMemorySink(req.TargetSize)
			sink = memSink
		} else {
			outName = targetLocator + ".patch"
			fileSink, err = patchsink.NewFileSink(outName)
			if err != nil {
				return wrap(IoError, err)
			}
			sink = fileSink
		}

		kind := decoder.Detect(patchToUse.Data)
		dec, lookupErr := decoder.Lookup(kind)
		if lookupErr != nil {
			if fileSink != nil {
				fileSink.Close()
			}
			return wrapf(UnknownPatchFormat, "unknown patch file format")
		}

		h := digest.NewHash()
		decodeErr := dec.Decode(sourceToUse.Data, patchToUse.Data, sink, h)
		if fileSink != nil {
			fileSink.Close()
		}

		if decodeErr != nil {
			lastErr = decodeErr
			if outName != "" {
				os.Remove(outName)
			}
			if !attempt.More() {
				logger.For(targetLocator).Noticef("applying patch failed")
				return wrap(DecoderFailure, lastErr)
			}
			logger.For(targetLocator).Noticef("applying patch failed; retrying")
			continue
		}

		targetHash = h.Sum()
		lastErr = nil
		break
	}
	if lastErr != nil {
		return wrap(DecoderFailure, lastErr)
	}

	if targetHash != targetDigest {
		if outName != "" {
			os.Remove(outName)
		}
		return wrapf(DigestMismatch, "patch did not produce expected sha1")
	}

	if targetIsPartition {
		name, err := loader.PartitionWriteName(targetLocator)
		if err != nil {
			return wrap(MalformedLocator, err)
		}
		if err := req.Driver.Write(name, memSink.Bytes()); err != nil {
			return wrapf(IoError, "write of patched data to %s failed: %v", targetLocator, err)
		}
	} else {
		if err := os.Chmod(outName, os.FileMode(sourceToUse.Stat.Mode)); err != nil {
			return wrapf(IoError, "chmod of %q failed: %v", outName, err)
		}
		if err := os.Chown(outName, sourceToUse.Stat.UID, sourceToUse.Stat.GID); err != nil {
			return wrapf(IoError, "chown of %q failed: %v", outName, err)
		}
		if err := os.Rename(outName, targetLocator); err != nil {
			return wrapf(IoError, "rename of .patch to %q failed: %v", targetLocator, err)
		}
	}

	if madeCopy {
		os.Remove(req.cacheTempSource())
	}
	return nil
}

// backupSourceToCache writes whichever of sourceFile/copyFile is
// actually the one in use to the cache backup location, making room
// for it first (evicting other cached files via req.EvictionHook if
// necessary).
func backupSourceToCache(req ApplyRequest, sourceFile, copyFile *loader.Contents, useSource bool) error {
	contents := copyFile
	if useSource {
		contents = sourceFile
	}
	if contents == nil {
		return wrapf(CorruptSource, "no source contents available to back up")
	}

	dest := req.cacheTempSource()
	if err := diskspace.CheckFreeSpace(dest, contents.Size()); err != nil {
		if evictErr := diskspace.ReclaimCache(req.EvictionHook, contents.Size()); evictErr != nil {
			return wrapf(InsufficientSpace, "not enough free space on cache: %v", err)
		}
	}

	sink, err := patchsink.NewFileSink(dest)
	if err != nil {
		return wrapf(IoError, "failed to back up source file: %v", err)
	}
	if err := sink.Write(contents.Data); err != nil {
		sink.Close()
		return wrapf(IoError, "failed to back up source file: %v", err)
	}
	if err := sink.Close(); err != nil {
		return wrapf(IoError, "failed to back up source file: %v", err)
	}
	return os.Chmod(dest, os.FileMode(contents.Stat.Mode))
}

// enoughSpaceForTarget reports whether the filesystem holding target
// has enough free space to comfortably write targetSize bytes:
// at least 256KiB free as an absolute floor, plus a 50% margin over
// the target's own size.
func enoughSpaceForTarget(target string, targetSize int64) (bool, error) {
	fsPath := targetFilesystemPath(target)
	free, err := diskspace.FreeSpace(fsPath)
	if err != nil {
		return false, err
	}
	const minFree = 256 << 10
	return free > minFree && free > targetSize*3/2, nil
}

// targetFilesystemPath approximates "the mount point target lives
// on" by taking its first path component, e.g. "/system/app/Foo.apk"
// -> "/system" — good enough to call statfs against, since we only
// need something on the same filesystem that actually exists.
func targetFilesystemPath(target string) string {
	if len(target) == 0 || target[0] != '/' {
		return target
	}
	if idx := strings.IndexByte(target[1:], '/'); idx >= 0 {
		return target[:idx+1]
	}
	return target
}
