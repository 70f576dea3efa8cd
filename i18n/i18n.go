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

// Package i18n wraps the user-facing strings otapatch prints (today
// only "applying patch") for translation via gettext .mo catalogs.
package i18n

import (
	"os"

	"github.com/snapcore/go-gettext"
)

// TEXTDOMAIN is the gettext domain otapatch's catalogs are installed
// under.
var TEXTDOMAIN = "otapatch"

// localeDir is where compiled .mo catalogs live; overridable in
// tests.
var localeDir = "/usr/share/locale"

var currentLocale = newCatalog(localeDir, TEXTDOMAIN, localeFromEnv())

func newCatalog(dir, domain, lang string) gettext.Catalog {
	return gettext.NewTranslations(dir, domain, gettext.DefaultResolver).Locale(lang)
}

func localeFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "C"
}

// setLocale rebinds the package's locale to lang, re-adding the
// otapatch domain. Used by tests and by bindTextDomain.
func setLocale(lang string) {
	if lang == "" {
		lang = localeFromEnv()
	}
	currentLocale = newCatalog(localeDir, TEXTDOMAIN, lang)
}

// bindTextDomain points domain at dir and rebinds the current locale,
// for tests that supply their own compiled catalogs.
func bindTextDomain(domain, dir string) {
	TEXTDOMAIN = domain
	localeDir = dir
	setLocale("")
}

// G translates msgid into the current locale, or returns it unchanged
// if no translation is available.
func G(msgid string) string {
	return currentLocale.Gettext(msgid)
}

// NG translates msgid/msgidPlural for count n into the current
// locale.
func NG(msgid, msgidPlural string, n int) string {
	return currentLocale.NGettext(msgid, msgidPlural, uint32(n))
}
