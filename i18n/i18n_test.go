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

package i18n

import (
	"testing"

	. "gopkg.in/check.v1"
)

func Test(t *testing.T) { TestingT(t) }

type i18nTestSuite struct{}

var _ = Suite(&i18nTestSuite{})

func (s *i18nTestSuite) TestUntranslatedStringPassesThrough(c *C) {
	setLocale("invalid")

	// no G() to avoid adding the test string to any real catalog
	Gtest := G
	c.Assert(Gtest("applying patch to %s"), Equals, "applying patch to %s")
}

func (s *i18nTestSuite) TestInvalidTextDomainDirDoesNotCrash(c *C) {
	bindTextDomain("otapatch-test", "/random/not/existing/dir")

	Gtest := G
	c.Assert(Gtest("singular"), Equals, "singular")
}

func (s *i18nTestSuite) TestPluralPassesThroughUntranslated(c *C) {
	setLocale("invalid")

	NGtest := NG
	c.Assert(NGtest("one file", "%d files", 1), Equals, "one file")
	c.Assert(NGtest("one file", "%d files", 2), Equals, "%d files")
}
