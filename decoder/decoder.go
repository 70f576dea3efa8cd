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

// Package decoder dispatches a patch to the decoder that can apply it
// based on its 8-byte magic prefix, and streams the decoded output
// through a patchsink.Sink while folding it into a running digest.
//
// The actual bsdiff and imgdiff decoding algorithms are out of scope
// here (they are substantial, independently-maintained codecs); each
// registered Decoder is a thin adapter over an external bspatch-style
// binary, run through os/exec.
package decoder

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/snapcore/otapatch/digest"
	"github.com/snapcore/otapatch/patchsink"
)

// Kind identifies a patch format by its magic prefix.
type Kind int

const (
	Unknown Kind = iota
	BSDiff
	ImgDiff
)

var magics = []struct {
	kind  Kind
	magic string
}{
	{BSDiff, "BSDIFF40"},
	{ImgDiff, "IMGDIFF2"},
}

// Detect inspects patch's leading bytes and reports which format it
// is, or Unknown if it matches no registered magic.
func Detect(patch []byte) Kind {
	if len(patch) < 8 {
		return Unknown
	}
	for _, m := range magics {
		if bytes.Equal(patch[:8], []byte(m.magic)) {
			return m.kind
		}
	}
	return Unknown
}

func (k Kind) String() string {
	switch k {
	case BSDiff:
		return "bsdiff"
	case ImgDiff:
		return "imgdiff"
	default:
		return "unknown"
	}
}

// Decoder applies a patch of a particular Kind: it reads source and
// patch, and pushes the reconstructed target through sink while
// writing every emitted byte into hash too, so the caller ends up with
// both the sunk output and its digest without a second pass over the
// data.
type Decoder interface {
	Decode(source, patch []byte, sink patchsink.Sink, hash *digest.Hash) error
}

var registry = map[Kind]Decoder{
	BSDiff:  &execDecoder{binary: "bspatch"},
	ImgDiff: &execDecoder{binary: "imgpatch"},
}

// Lookup returns the registered Decoder for kind, or an error if none
// is registered (which, given the registry above, only happens for
// Unknown).
func Lookup(kind Kind) (Decoder, error) {
	d, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown patch file format")
	}
	return d, nil
}

// MockDecoder registers d as the Decoder for kind, for testing code
// that dispatches through Lookup without invoking the real external
// bspatch/imgpatch binaries. It returns a restore function.
func MockDecoder(kind Kind, d Decoder) (restore func()) {
	old, hadOld := registry[kind]
	registry[kind] = d
	return func() {
		if hadOld {
			registry[kind] = old
		} else {
			delete(registry, kind)
		}
	}
}

// execDecoder shells out to an external single-purpose decoder binary
// that reads source and patch from stdin, framed by encodeRequest, and
// writes the reconstructed target to stdout.
type execDecoder struct {
	binary string
}

func (d *execDecoder) Decode(source, patch []byte, sink patchsink.Sink, hash *digest.Hash) error {
	cmd := exec.Command(d.binary)
	cmd.Stdin = bytes.NewReader(encodeRequest(source, patch))

	var out bytes.Buffer
	cmd.Stdout = &out
	var errOut bytes.Buffer
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (%s)", d.binary, err, errOut.String())
	}

	if err := sink.Write(out.Bytes()); err != nil {
		return fmt.Errorf("error writing patch output: %w", err)
	}
	hash.Write(out.Bytes())
	return nil
}

// encodeRequest frames source and patch for the external decoder
// binary as two length-prefixed blocks, since both are passed over a
// single stdin stream rather than as separate file arguments.
func encodeRequest(source, patch []byte) []byte {
	var buf bytes.Buffer
	writeBlock(&buf, source)
	writeBlock(&buf, patch)
	return buf.Bytes()
}

func writeBlock(buf *bytes.Buffer, data []byte) {
	var lenBytes [8]byte
	putUint64(lenBytes[:], uint64(len(data)))
	buf.Write(lenBytes[:])
	buf.Write(data)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
