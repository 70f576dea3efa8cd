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

// Command otapatch-check reports whether a file or partition already
// carries one of a set of expected digests, without applying any
// patch. It exists so a caller can skip an otapatch invocation
// entirely when a previous run already succeeded.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/otapatch/logger"
	"github.com/snapcore/otapatch/partdriver"
	"github.com/snapcore/otapatch/patcher"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	CacheTempSource string `long:"cache-temp-source" description:"override the cache backup location"`
	Positional      struct {
		Filename string   `required:"true"`
		SHA1s    []string `required:"false"`
	} `positional-args:"yes"`
}

var opts options
var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

func init() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	parser.ShortDescription = "Check whether a file or partition already has an expected sha1"
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	return patcher.Check(patcher.CheckRequest{
		Driver:          partdriver.New(partdriver.NewLinuxMTD()),
		Locator:         opts.Positional.Filename,
		Digests:         opts.Positional.SHA1s,
		CacheTempSource: opts.CacheTempSource,
	})
}
