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

package decoder_test

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/snapcore/otapatch/decoder"
	"github.com/snapcore/otapatch/digest"
	"github.com/snapcore/otapatch/patchsink"
)

func Test(t *testing.T) { TestingT(t) }

type DecoderSuite struct{}

var _ = Suite(&DecoderSuite{})

func (s *DecoderSuite) TestDetectBSDiff(c *C) {
	c.Check(decoder.Detect([]byte("BSDIFF40restofpatch")), Equals, decoder.BSDiff)
}

func (s *DecoderSuite) TestDetectImgDiff(c *C) {
	c.Check(decoder.Detect([]byte("IMGDIFF2restofpatch")), Equals, decoder.ImgDiff)
}

func (s *DecoderSuite) TestDetectUnknown(c *C) {
	c.Check(decoder.Detect([]byte("notapatchformatatall")), Equals, decoder.Unknown)
}

func (s *DecoderSuite) TestDetectTooShort(c *C) {
	c.Check(decoder.Detect([]byte("short")), Equals, decoder.Unknown)
}

func (s *DecoderSuite) TestLookupUnknownFails(c *C) {
	_, err := decoder.Lookup(decoder.Unknown)
	c.Check(err, NotNil)
}

type fakeDecoder struct {
	output []byte
	err    error
}

func (d *fakeDecoder) Decode(source, patch []byte, sink patchsink.Sink, hash *digest.Hash) error {
	if d.err != nil {
		return d.err
	}
	if err := sink.Write(d.output); err != nil {
		return err
	}
	hash.Write(d.output)
	return nil
}

func (s *DecoderSuite) TestLookupDispatchesToRegisteredDecoder(c *C) {
	fake := &fakeDecoder{output: []byte("reconstructed target bytes")}
	restore := decoder.MockDecoder(decoder.BSDiff, fake)
	defer restore()

	d, err := decoder.Lookup(decoder.BSDiff)
	c.Assert(err, IsNil)

	sink := patchsink.NewMemorySink(int64(len(fake.output)))
	hash := digest.NewHash()
	c.Assert(d.Decode(nil, nil, sink, hash), IsNil)

	c.Check(sink.Bytes(), DeepEquals, fake.output)
	c.Check(hash.Sum(), Equals, digest.Sum(fake.output))
}

func (s *DecoderSuite) TestLookupDecoderError(c *C) {
	fake := &fakeDecoder{err: someError{}}
	restore := decoder.MockDecoder(decoder.ImgDiff, fake)
	defer restore()

	d, err := decoder.Lookup(decoder.ImgDiff)
	c.Assert(err, IsNil)

	sink := patchsink.NewMemorySink(0)
	hash := digest.NewHash()
	c.Check(d.Decode(nil, nil, sink, hash), NotNil)
}

type someError struct{}

func (someError) Error() string { return "decode failed" }
