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

package patchsink_test

import (
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/snapcore/otapatch/patchsink"
)

func Test(t *testing.T) { TestingT(t) }

type SinkSuite struct {
	dir string
}

var _ = Suite(&SinkSuite{})

func (s *SinkSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
}

func (s *SinkSuite) TestFileSinkWritesAllBytes(c *C) {
	name := filepath.Join(s.dir, "out.patch")
	sink, err := patchsink.NewFileSink(name)
	c.Assert(err, IsNil)

	c.Assert(sink.Write([]byte("hello ")), IsNil)
	c.Assert(sink.Write([]byte("world")), IsNil)
	c.Assert(sink.Close(), IsNil)

	data, err := os.ReadFile(name)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "hello world")
}

func (s *SinkSuite) TestFileSinkModeIsRestrictive(c *C) {
	name := filepath.Join(s.dir, "out.patch")
	sink, err := patchsink.NewFileSink(name)
	c.Assert(err, IsNil)
	defer sink.Close()

	info, err := os.Stat(name)
	c.Assert(err, IsNil)
	c.Check(info.Mode().Perm(), Equals, os.FileMode(0600))
}

func (s *SinkSuite) TestFileSinkOpenFailure(c *C) {
	_, err := patchsink.NewFileSink(filepath.Join(s.dir, "missing-dir", "out.patch"))
	c.Check(err, NotNil)
}

func (s *SinkSuite) TestMemorySinkAccumulates(c *C) {
	sink := patchsink.NewMemorySink(11)
	c.Assert(sink.Write([]byte("hello ")), IsNil)
	c.Assert(sink.Write([]byte("world")), IsNil)
	c.Check(string(sink.Bytes()), Equals, "hello world")
}

func (s *SinkSuite) TestMemorySinkOverflow(c *C) {
	sink := patchsink.NewMemorySink(4)
	err := sink.Write([]byte("hello"))
	c.Check(err, Equals, patchsink.ErrOverflow)
}

func (s *SinkSuite) TestMemorySinkExactFit(c *C) {
	sink := patchsink.NewMemorySink(5)
	c.Assert(sink.Write([]byte("hello")), IsNil)
	c.Check(len(sink.Bytes()), Equals, 5)
}
