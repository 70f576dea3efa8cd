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

// Command otapatch applies a binary patch to a file or raw MTD
// partition, verifying the result's digest before committing it.
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/otapatch/diskspace"
	"github.com/snapcore/otapatch/i18n"
	"github.com/snapcore/otapatch/logger"
	"github.com/snapcore/otapatch/partdriver"
	"github.com/snapcore/otapatch/patcher"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	Source          string   `long:"source" required:"true" description:"source file or MTD partition locator"`
	Target          string   `long:"target" required:"true" description:"target file or MTD partition locator; '-' means same as source"`
	TargetSHA1      string   `long:"target-sha1" required:"true" description:"expected sha1 of the patched target"`
	TargetSize      int64    `long:"target-size" required:"true" description:"size in bytes of the patched target"`
	Patch           []string `long:"patch" required:"true" description:"sha1:path-or- pair; repeatable"`
	CacheTempSource string   `long:"cache-temp-source" description:"override the cache backup location"`
	EvictionCmd     string   `long:"eviction-cmd" description:"external command invoked with the number of bytes needed, to free up room in the cache"`
}

var opts options
var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

const (
	shortHelp = "Apply a binary patch to a file or MTD partition"
	longHelp  = `
otapatch applies a patch to <target> so that it is safe to rerun
if interrupted, and idempotent: if the target already has the
requested digest, it does nothing and exits successfully.
`
)

func init() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	patchErr, ok := err.(*patcher.Error)
	if !ok {
		return 1
	}
	switch patchErr.Kind {
	case patcher.InsufficientSpace:
		return 2
	case patcher.DigestMismatch, patcher.CorruptSource:
		return 3
	default:
		return 1
	}
}

func run(args []string) error {
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp

	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	patches, err := parsePatches(opts.Patch)
	if err != nil {
		return err
	}

	logger.For(opts.Source).Noticef(i18n.G("applying patch"))

	return patcher.Apply(patcher.ApplyRequest{
		Driver:          partdriver.New(partdriver.NewLinuxMTD()),
		SourceLocator:   opts.Source,
		TargetLocator:   opts.Target,
		TargetDigest:    opts.TargetSHA1,
		TargetSize:      opts.TargetSize,
		Patches:         patches,
		CacheTempSource: opts.CacheTempSource,
		EvictionHook:    buildEvictionHook(opts.EvictionCmd),
	})
}

// buildEvictionHook wraps an external command as a
// diskspace.CacheEvictionHook, the same way decoder shells out to
// bspatch/imgpatch: the command is invoked with the number of bytes
// needed as its sole argument and is expected to free at least that
// much room in the cache itself.
func buildEvictionHook(cmdPath string) diskspace.CacheEvictionHook {
	if cmdPath == "" {
		return nil
	}
	return func(bytesNeeded int64) error {
		cmd := exec.Command(cmdPath, strconv.FormatInt(bytesNeeded, 10))
		cmd.Stdout = Stdout
		cmd.Stderr = Stderr
		return cmd.Run()
	}
}

// parsePatches turns "<sha1>:<path-or-->" strings into PatchOptions,
// reading patch bytes from disk (or stdin, for "-").
func parsePatches(raw []string) ([]patcher.PatchOption, error) {
	out := make([]patcher.PatchOption, 0, len(raw))
	for _, entry := range raw {
		fields := strings.SplitN(entry, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed --patch %q: expected <sha1>:<path>", entry)
		}
		data, err := readPatchData(fields[1])
		if err != nil {
			return nil, fmt.Errorf("failed to read patch %q: %w", entry, err)
		}
		out = append(out, patcher.PatchOption{SourceDigest: fields[0], Data: data})
	}
	return out, nil
}

func readPatchData(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
