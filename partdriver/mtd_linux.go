//go:build linux

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

package partdriver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// memGetInfo/memErase mirror the Linux MTD ioctl numbers from
// <mtd/mtd-abi.h>. They are reimplemented here rather than pulled
// from a header-generated binding because the flash driver itself is
// an external collaborator (see the package doc); this is the whole
// extent of what otapatch needs from it.
const (
	mtdMagic   = 'M'
	memGetInfo = 0x80204d01 // _IOR('M', 1, struct mtd_info_user)
	memErase   = 0x40084d02 // _IOW('M', 2, struct erase_info_user)
)

type mtdInfoUser struct {
	Type      uint8
	Flags     uint32
	Size      uint32
	EraseSize uint32
	WriteSize uint32
	OobSize   uint32
	_         uint64 // padding, historically Pad
}

type eraseInfoUser struct {
	Start  uint32
	Length uint32
}

// linuxMTD is the production RawDriver: it enumerates
// /sys/class/mtd/mtd*/name to map partition labels to /dev/mtdN
// device nodes, and issues MEMERASE over the opened device for the
// erase-remaining-blocks step.
type linuxMTD struct {
	sysClassDir string
	devDir      string
}

// NewLinuxMTD returns a RawDriver that talks to the kernel's MTD
// subsystem through /sys/class/mtd and /dev.
func NewLinuxMTD() RawDriver {
	return &linuxMTD{sysClassDir: "/sys/class/mtd", devDir: "/dev"}
}

type mtdPartition struct {
	name   string
	device string
}

func (p *mtdPartition) Name() string { return p.name }

func (d *linuxMTD) Scan() ([]RawPartition, error) {
	entries, err := os.ReadDir(d.sysClassDir)
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", d.sysClassDir, err)
	}

	var partitions []RawPartition
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "mtd") || strings.HasSuffix(e.Name(), "ro") {
			continue
		}
		nameFile := filepath.Join(d.sysClassDir, e.Name(), "name")
		label, err := os.ReadFile(nameFile)
		if err != nil {
			continue
		}
		partitions = append(partitions, &mtdPartition{
			name:   strings.TrimSpace(string(label)),
			device: filepath.Join(d.devDir, e.Name()),
		})
	}
	return partitions, nil
}

func (d *linuxMTD) OpenRead(p RawPartition) (RawReader, error) {
	mp, ok := p.(*mtdPartition)
	if !ok {
		return nil, fmt.Errorf("internal error: not a linuxMTD partition")
	}
	f, err := os.Open(mp.device)
	if err != nil {
		return nil, err
	}
	return &mtdFile{f: f}, nil
}

func (d *linuxMTD) OpenWrite(p RawPartition) (RawWriter, error) {
	mp, ok := p.(*mtdPartition)
	if !ok {
		return nil, fmt.Errorf("internal error: not a linuxMTD partition")
	}
	f, err := os.OpenFile(mp.device, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	return &mtdFile{f: f}, nil
}

// mtdFile implements both RawReader and RawWriter over an *os.File
// handle to a /dev/mtdN device node.
type mtdFile struct {
	f   *os.File
	pos uint32
}

func (m *mtdFile) Read(buf []byte) (int, error) {
	return m.f.Read(buf)
}

func (m *mtdFile) Write(data []byte) (int, error) {
	n, err := m.f.Write(data)
	m.pos += uint32(n)
	return n, err
}

// Erase finalizes the write. blocks == -1 means "erase/pad whatever
// remains of the device's erase-block size past the last written
// byte", the sentinel the original flash tooling used to mean "done
// writing, clean up the tail".
func (m *mtdFile) Erase(blocks int) error {
	var info mtdInfoUser
	if err := ioctl(m.f.Fd(), memGetInfo, unsafe.Pointer(&info)); err != nil {
		return fmt.Errorf("cannot query MTD info: %w", err)
	}
	if info.EraseSize == 0 {
		return nil
	}

	var length uint32
	if blocks < 0 {
		remainder := m.pos % info.EraseSize
		if remainder != 0 {
			length = info.EraseSize - remainder
		}
	} else {
		length = uint32(blocks) * info.EraseSize
	}
	if length == 0 {
		return nil
	}

	erase := eraseInfoUser{Start: m.pos, Length: length}
	return ioctl(m.f.Fd(), memErase, unsafe.Pointer(&erase))
}

func (m *mtdFile) Close() error {
	return m.f.Close()
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
