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

package loader_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/snapcore/otapatch/digest"
	"github.com/snapcore/otapatch/loader"
	"github.com/snapcore/otapatch/partdriver"
)

func Test(t *testing.T) { TestingT(t) }

type LoaderSuite struct{}

var _ = Suite(&LoaderSuite{})

func (s *LoaderSuite) TestLoadFileComputesDigestAndStat(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "target")
	data := []byte("some target file contents\n")
	c.Assert(os.WriteFile(path, data, 0640), IsNil)

	contents, err := loader.Load(nil, path)
	c.Assert(err, IsNil)
	c.Check(contents.Data, DeepEquals, data)
	c.Check(contents.Digest, Equals, digest.Sum(data))
	c.Check(contents.Stat.Mode, Equals, uint32(0640))
}

func (s *LoaderSuite) TestLoadFileMissing(c *C) {
	_, err := loader.Load(nil, "/nonexistent/path/does/not/exist")
	c.Check(err, NotNil)
}

// fakePartReader hands back data sequentially, as a raw MTD partition
// would, with no notion of EOF.
type fakePartReader struct {
	data []byte
	pos  int
}

func (r *fakePartReader) Read(buf []byte) (int, error) {
	n := copy(buf, r.data[r.pos:])
	r.pos += n
	return n, nil
}
func (r *fakePartReader) Close() error { return nil }

type fakePartition struct{ name string }

func (p *fakePartition) Name() string { return p.name }

type fakeRawDriver struct {
	name string
	data []byte
}

func (d *fakeRawDriver) Scan() ([]partdriver.RawPartition, error) {
	return []partdriver.RawPartition{&fakePartition{name: d.name}}, nil
}

func (d *fakeRawDriver) OpenRead(p partdriver.RawPartition) (partdriver.RawReader, error) {
	return &fakePartReader{data: d.data}, nil
}

func (d *fakeRawDriver) OpenWrite(p partdriver.RawPartition) (partdriver.RawWriter, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *LoaderSuite) TestLoadPartitionMatchesSingleCandidate(c *C) {
	data := bytes.Repeat([]byte{0xAB}, 100)
	drv := partdriver.New(&fakeRawDriver{name: "boot", data: data})

	locator := fmt.Sprintf("MTD:boot:100:%s", digest.Sum(data[:100]).String())
	contents, err := loader.Load(drv, locator)
	c.Assert(err, IsNil)
	c.Check(contents.Data, DeepEquals, data[:100])
	c.Check(contents.Digest, Equals, digest.Sum(data[:100]))
	c.Check(contents.Stat.Mode, Equals, uint32(0644))
}

func (s *LoaderSuite) TestLoadPartitionSameSizeDifferentDigestPicksMatching(c *C) {
	data := bytes.Repeat([]byte{0x11}, 50)
	wrongDigest := digest.Sum([]byte("not the right prefix at all...."))
	locator := fmt.Sprintf("MTD:boot:50:%s:50:%s", wrongDigest.String(), digest.Sum(data[:50]).String())

	drv := partdriver.New(&fakeRawDriver{name: "boot", data: data})
	contents, err := loader.Load(drv, locator)
	c.Assert(err, IsNil)
	c.Check(contents.Digest, Equals, digest.Sum(data[:50]))
}

func (s *LoaderSuite) TestLoadPartitionProbesInAscendingOrderRegardlessOfListOrder(c *C) {
	data := bytes.Repeat([]byte{0x22}, 200)
	// list the larger candidate first; the loader must still probe
	// the smaller one first so it doesn't over-read past a correct
	// short match.
	locator := fmt.Sprintf("MTD:boot:150:%s:50:%s",
		digest.Sum(data[:150]).String(),
		digest.Sum(data[:50]).String(),
	)

	drv := partdriver.New(&fakeRawDriver{name: "boot", data: data})
	contents, err := loader.Load(drv, locator)
	c.Assert(err, IsNil)
	c.Check(int(contents.Size()), Equals, 50)
	c.Check(contents.Digest, Equals, digest.Sum(data[:50]))
}

func (s *LoaderSuite) TestLoadPartitionNoCandidateMatches(c *C) {
	data := bytes.Repeat([]byte{0x33}, 40)
	locator := fmt.Sprintf("MTD:boot:40:%s", digest.Sum([]byte("completely different content here!!")).String())

	drv := partdriver.New(&fakeRawDriver{name: "boot", data: data})
	_, err := loader.Load(drv, locator)
	c.Check(err, NotNil)
}

func (s *LoaderSuite) TestLoadPartitionUnknownPartitionName(c *C) {
	data := bytes.Repeat([]byte{0x44}, 10)
	locator := fmt.Sprintf("MTD:missing:10:%s", digest.Sum(data).String())

	drv := partdriver.New(&fakeRawDriver{name: "boot", data: data})
	_, err := loader.Load(drv, locator)
	c.Check(err, NotNil)
}
