// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2014,2015,2017 Canonical Ltd
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

// Package logger implements the minimal progress/diagnostic logging
// used by otapatch: stable-prefixed lines ("applying patch ...",
// "failed to ...") written to stdout so a caller scripting an OTA run
// can grep for them.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// A Logger is a fairly minimal logging tool.
type Logger interface {
	// Notice is for messages that the user should see
	Notice(msg string)
	// Debug is for messages that the user should be able to find if they're debugging something
	Debug(msg string)
}

const (
	// DefaultFlags are passed to the default console log.Logger
	DefaultFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
)

type nullLogger struct{}

func (nullLogger) Notice(string) {}
func (nullLogger) Debug(string)  {}

// NullLogger is a logger that does nothing
var NullLogger = nullLogger{}

var (
	logger Logger = NullLogger
	lock   sync.Mutex
)

// Noticef notifies the user of something
func Noticef(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	lock.Lock()
	defer lock.Unlock()

	logger.Notice(msg)
}

// Debugf records something in the debug log
func Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	lock.Lock()
	defer lock.Unlock()

	logger.Debug(msg)
}

// Context scopes a run of Noticef/Debugf calls to the locator (a
// source file path, target path, or "MTD:..." partition locator)
// they're about to operate on, so a multi-step operation like
// patcher.Apply doesn't have to repeat that locator in every format
// string, and log lines for interleaved locators (the source and the
// target are rarely the same string) stay visually distinguishable.
type Context struct {
	locator string
}

// For returns a Context that tags every message logged through it
// with locator.
func For(locator string) *Context {
	return &Context{locator: locator}
}

// Noticef notifies the user of something concerning ctx's locator.
func (ctx *Context) Noticef(format string, v ...interface{}) {
	Noticef("%s: %s", ctx.locator, fmt.Sprintf(format, v...))
}

// Debugf records something concerning ctx's locator in the debug log.
func (ctx *Context) Debugf(format string, v ...interface{}) {
	Debugf("%s: %s", ctx.locator, fmt.Sprintf(format, v...))
}

// MockLogger replaces the existing logger with a buffer and returns
// the log buffer and a restore function.
func MockLogger() (buf *bytes.Buffer, restore func()) {
	buf = &bytes.Buffer{}
	oldLogger := logger
	l, err := New(buf, DefaultFlags)
	if err != nil {
		panic(err)
	}
	SetLogger(l)
	return buf, func() {
		SetLogger(oldLogger)
	}
}

// SetLogger sets the global logger to the given one
func SetLogger(l Logger) {
	lock.Lock()
	defer lock.Unlock()

	logger = l
}

// Log is the default Logger implementation, backed by the stdlib log
// package.
type Log struct {
	log *log.Logger

	debug bool
	quiet bool
}

func (l *Log) debugEnabled() bool {
	return l.debug || getenvBool("OTAPATCH_DEBUG")
}

// Debug only prints if OTAPATCH_DEBUG is set
func (l *Log) Debug(msg string) {
	if l.debugEnabled() {
		l.log.Output(3, "DEBUG: "+msg)
	}
}

// Notice alerts the user about something
func (l *Log) Notice(msg string) {
	if !l.quiet || l.debugEnabled() {
		l.log.Output(3, msg)
	}
}

// New creates a log.Logger using the given io.Writer and flag.
func New(w io.Writer, flag int) (Logger, error) {
	logger := &Log{
		log:   log.New(w, "", flag),
		debug: getenvBool("OTAPATCH_DEBUG"),
	}
	return logger, nil
}

func buildFlags() int {
	flags := log.Lshortfile
	if term := os.Getenv("TERM"); term != "" {
		// otapatch is probably running interactively, not under a
		// recovery init process that already timestamps its output
		flags = DefaultFlags
	}
	return flags
}

// SimpleSetup creates the default (console) logger, writing to
// stdout, where a caller scripting an OTA run greps for the
// stable-prefixed progress lines.
func SimpleSetup() error {
	flags := buildFlags()
	l, err := New(os.Stdout, flags)
	if err == nil {
		SetLogger(l)
	}
	return err
}

func getenvBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true" || v == "yes"
}
