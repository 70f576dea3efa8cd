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

package loader

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MTDPrefix marks a locator as addressing a raw partition instead of
// a filesystem path.
const MTDPrefix = "MTD:"

// IsPartitionLocator reports whether locator addresses a partition
// rather than a plain file.
func IsPartitionLocator(locator string) bool {
	return strings.HasPrefix(locator, MTDPrefix)
}

// Candidate is one (size, digest) possibility for how long a
// partition's pristine contents might be.
type Candidate struct {
	Size   int64
	Digest string
}

// PartitionSpec is a parsed "MTD:<name>:<size1>:<hex1>:<size2>:<hex2>:..."
// locator: a partition name plus an ordered (unsorted) list of
// candidate lengths and their expected digests.
type PartitionSpec struct {
	Name       string
	Candidates []Candidate
}

// ParsePartitionSpec parses locator into a PartitionSpec. Unlike the
// original tool this came from — which printed a diagnostic on a
// malformed colon count and then kept parsing, potentially reading
// past the available tokens — a malformed locator is a hard error
// here (see spec's open question on locator validation).
func ParsePartitionSpec(locator string) (*PartitionSpec, error) {
	if !IsPartitionLocator(locator) {
		return nil, fmt.Errorf("locator %q is not a partition locator", locator)
	}
	fields := strings.Split(locator, ":")
	// fields[0] == "MTD", fields[1] == name, then pairs of size:digest.
	if len(fields) < 4 {
		return nil, fmt.Errorf("malformed partition locator %q: too few fields", locator)
	}
	rest := fields[2:]
	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("malformed partition locator %q: odd number of size/digest fields", locator)
	}

	spec := &PartitionSpec{Name: fields[1]}
	if spec.Name == "" {
		return nil, fmt.Errorf("malformed partition locator %q: empty partition name", locator)
	}

	for i := 0; i < len(rest); i += 2 {
		size, err := strconv.ParseInt(rest[i], 10, 64)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("malformed partition locator %q: bad size %q", locator, rest[i])
		}
		digestHex := rest[i+1]
		if len(digestHex) != 2*20 {
			return nil, fmt.Errorf("malformed partition locator %q: bad digest %q", locator, digestHex)
		}
		spec.Candidates = append(spec.Candidates, Candidate{Size: size, Digest: digestHex})
	}
	if len(spec.Candidates) == 0 {
		return nil, fmt.Errorf("malformed partition locator %q: no candidates", locator)
	}
	return spec, nil
}

// PartitionWriteName extracts just the partition name out of a
// locator used for writing, e.g. "MTD:boot:blah:blah" -> "boot". The
// write path only ever needs the name; any trailing candidate list is
// irrelevant and ignored, matching WriteToMTDPartition's behavior.
func PartitionWriteName(locator string) (string, error) {
	if !IsPartitionLocator(locator) {
		return "", fmt.Errorf("locator %q is not a partition locator", locator)
	}
	fields := strings.SplitN(strings.TrimPrefix(locator, MTDPrefix), ":", 2)
	if fields[0] == "" {
		return "", fmt.Errorf("malformed partition locator %q: empty partition name", locator)
	}
	return fields[0], nil
}

// ascendingSizeOrder returns indices into candidates sorted by
// ascending Size, so the loader probes the smallest plausible length
// first. Equal sizes keep their relative input order, matching the
// original's "stable on equal sizes is not required" note — a stable
// sort is simply the simplest correct choice.
func ascendingSizeOrder(candidates []Candidate) []int {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return candidates[order[i]].Size < candidates[order[j]].Size
	})
	return order
}
