// Copyright (c) 2018 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"strconv"
	"strings"
)

// SegmentType is the type of AS-path segment.
type SegmentType uint8

const (
	// ASSet is an unordered set of ASes (counts as one hop).
	ASSet SegmentType = 1
	// ASSequence is an ordered sequence of ASes.
	ASSequence SegmentType = 2
	// ConfedSequence is an ordered sequence of member ASes within a confederation.
	ConfedSequence SegmentType = 3
	// ConfedSet is an unordered set of member ASes within a confederation.
	ConfedSet SegmentType = 4
)

// IsConfed returns true for confederation segments.
func (t SegmentType) IsConfed() bool {
	return t == ConfedSequence || t == ConfedSet
}

// ASPathSegment is one segment of the AS path.
type ASPathSegment struct {
	Type SegmentType `json:"type"`
	ASNs []uint32    `json:"asns"`
}

// ASPath is the AS_PATH attribute.
type ASPath struct {
	Segments []ASPathSegment `json:"segments,omitempty"`
}

// NewASPath builds AS path made of a single AS_SEQUENCE.
func NewASPath(asns ...uint32) ASPath {
	if len(asns) == 0 {
		return ASPath{}
	}
	seq := make([]uint32, len(asns))
	copy(seq, asns)
	return ASPath{Segments: []ASPathSegment{{Type: ASSequence, ASNs: seq}}}
}

// IsEmpty returns true if the path has no ASes at all (locally originated
// or learned over iBGP from inside the AS).
func (p ASPath) IsEmpty() bool {
	for _, seg := range p.Segments {
		if len(seg.ASNs) > 0 {
			return false
		}
	}
	return true
}

// Length returns the number of non-confederation hops; an AS_SET counts as one.
func (p ASPath) Length() int {
	var hops int
	for _, seg := range p.Segments {
		switch seg.Type {
		case ASSequence:
			hops += len(seg.ASNs)
		case ASSet:
			if len(seg.ASNs) > 0 {
				hops++
			}
		}
	}
	return hops
}

// ConfedLength returns the number of confederation hops; a CONFED_SET counts as one.
func (p ASPath) ConfedLength() int {
	var hops int
	for _, seg := range p.Segments {
		switch seg.Type {
		case ConfedSequence:
			hops += len(seg.ASNs)
		case ConfedSet:
			if len(seg.ASNs) > 0 {
				hops++
			}
		}
	}
	return hops
}

// LeftmostAS returns the first AS of the first non-confederation segment
// (the neighboring AS), if the path starts with an AS_SEQUENCE after the
// confederation segments.
func (p ASPath) LeftmostAS() (uint32, bool) {
	for _, seg := range p.Segments {
		if seg.Type.IsConfed() {
			continue
		}
		if seg.Type == ASSequence && len(seg.ASNs) > 0 {
			return seg.ASNs[0], true
		}
		return 0, false
	}
	return 0, false
}

// LeftmostConfedAS returns the first AS of a leading CONFED_SEQUENCE.
func (p ASPath) LeftmostConfedAS() (uint32, bool) {
	if len(p.Segments) == 0 {
		return 0, false
	}
	seg := p.Segments[0]
	if seg.Type == ConfedSequence && len(seg.ASNs) > 0 {
		return seg.ASNs[0], true
	}
	return 0, false
}

// IsConfedPath returns true if the path consists of confederation segments only.
func (p ASPath) IsConfedPath() bool {
	return p.ConfedLength() > 0 && p.Length() == 0
}

// Contains returns true if the AS appears anywhere in the path.
func (p ASPath) Contains(as uint32) bool {
	for _, seg := range p.Segments {
		for _, asn := range seg.ASNs {
			if asn == as {
				return true
			}
		}
	}
	return false
}

// Prepend returns a copy of the path with the AS prepended to the leading
// AS_SEQUENCE (confederation segments are removed first, as done when a
// route leaves the confederation).
func (p ASPath) Prepend(as uint32) ASPath {
	var out ASPath
	stripped := p.StripConfed()
	if len(stripped.Segments) > 0 && stripped.Segments[0].Type == ASSequence {
		first := stripped.Segments[0]
		seq := append([]uint32{as}, first.ASNs...)
		out.Segments = append(out.Segments, ASPathSegment{Type: ASSequence, ASNs: seq})
		out.Segments = append(out.Segments, stripped.Segments[1:]...)
		return out
	}
	out.Segments = append(out.Segments, ASPathSegment{Type: ASSequence, ASNs: []uint32{as}})
	out.Segments = append(out.Segments, stripped.Segments...)
	return out
}

// PrependConfed returns a copy of the path with the member AS prepended to
// the leading CONFED_SEQUENCE.
func (p ASPath) PrependConfed(as uint32) ASPath {
	var out ASPath
	if len(p.Segments) > 0 && p.Segments[0].Type == ConfedSequence {
		first := p.Segments[0]
		seq := append([]uint32{as}, first.ASNs...)
		out.Segments = append(out.Segments, ASPathSegment{Type: ConfedSequence, ASNs: seq})
		out.Segments = append(out.Segments, p.Segments[1:]...)
		return out
	}
	out.Segments = append(out.Segments, ASPathSegment{Type: ConfedSequence, ASNs: []uint32{as}})
	out.Segments = append(out.Segments, p.Segments...)
	return out
}

// StripConfed returns a copy of the path without confederation segments.
func (p ASPath) StripConfed() ASPath {
	var out ASPath
	for _, seg := range p.Segments {
		if seg.Type.IsConfed() {
			continue
		}
		out.Segments = append(out.Segments, ASPathSegment{Type: seg.Type, ASNs: append([]uint32(nil), seg.ASNs...)})
	}
	return out
}

// RemovePrivate returns a copy of the path with private ASes removed, but
// only when the path consists entirely of private ASes (the classic
// remove-private-AS behavior).
func (p ASPath) RemovePrivate() ASPath {
	for _, seg := range p.Segments {
		if seg.Type.IsConfed() {
			continue
		}
		for _, asn := range seg.ASNs {
			if !IsPrivateAS(asn) {
				return p.clone()
			}
		}
	}
	var out ASPath
	for _, seg := range p.Segments {
		if seg.Type.IsConfed() {
			out.Segments = append(out.Segments, ASPathSegment{Type: seg.Type, ASNs: append([]uint32(nil), seg.ASNs...)})
		}
	}
	return out
}

// Equal compares two paths segment by segment.
func (p ASPath) Equal(other ASPath) bool {
	if len(p.Segments) != len(other.Segments) {
		return false
	}
	for i := range p.Segments {
		a, b := p.Segments[i], other.Segments[i]
		if a.Type != b.Type || len(a.ASNs) != len(b.ASNs) {
			return false
		}
		for j := range a.ASNs {
			if a.ASNs[j] != b.ASNs[j] {
				return false
			}
		}
	}
	return true
}

func (p ASPath) clone() ASPath {
	var out ASPath
	for _, seg := range p.Segments {
		out.Segments = append(out.Segments, ASPathSegment{Type: seg.Type, ASNs: append([]uint32(nil), seg.ASNs...)})
	}
	return out
}

// String renders the path the way routers show it: sets in braces,
// confederation sequences in parentheses.
func (p ASPath) String() string {
	var parts []string
	for _, seg := range p.Segments {
		asns := make([]string, 0, len(seg.ASNs))
		for _, asn := range seg.ASNs {
			asns = append(asns, strconv.FormatUint(uint64(asn), 10))
		}
		switch seg.Type {
		case ASSet:
			parts = append(parts, "{"+strings.Join(asns, ",")+"}")
		case ConfedSequence:
			parts = append(parts, "("+strings.Join(asns, " ")+")")
		case ConfedSet:
			parts = append(parts, "["+strings.Join(asns, ",")+"]")
		default:
			parts = append(parts, strings.Join(asns, " "))
		}
	}
	return strings.Join(parts, " ")
}

// IsPrivateAS returns true for ASes reserved for private use (RFC 6996).
func IsPrivateAS(as uint32) bool {
	return (as >= 64512 && as <= 65534) || (as >= 4200000000 && as <= 4294967294)
}
