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
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strings"
)

// Origin is the ORIGIN attribute. Lower value is preferred.
type Origin uint8

const (
	// OriginIGP is set for routes interior to the originating AS.
	OriginIGP Origin = 0
	// OriginEGP is set for routes learned via EGP.
	OriginEGP Origin = 1
	// OriginIncomplete is set for routes learned by other means (redistribution).
	OriginIncomplete Origin = 2
)

// String returns the one-letter code used in route tables.
func (o Origin) String() string {
	switch o {
	case OriginIGP:
		return "i"
	case OriginEGP:
		return "e"
	default:
		return "?"
	}
}

// Well-known communities (RFC 1997).
const (
	CommunityNoExport          uint32 = 0xFFFFFF01
	CommunityNoAdvertise       uint32 = 0xFFFFFF02
	CommunityNoExportSubconfed uint32 = 0xFFFFFF03
)

// PathAttributes is the bag of path attributes shared by routes.
// Once interned, a PathAttributes value must be treated as immutable:
// modifications are always done on a Clone.
type PathAttributes struct {
	Origin  Origin `json:"origin"`
	ASPath  ASPath `json:"asPath"`
	NextHop net.IP `json:"nextHop,omitempty"`

	MED    uint32 `json:"med,omitempty"`
	HasMED bool   `json:"hasMed,omitempty"`

	LocalPref    uint32 `json:"localPref,omitempty"`
	HasLocalPref bool   `json:"hasLocalPref,omitempty"`

	Communities []uint32 `json:"communities,omitempty"`

	// route reflection (RFC 4456)
	OriginatorID net.IP   `json:"originatorID,omitempty"`
	ClusterList  []net.IP `json:"clusterList,omitempty"`

	AtomicAggregate bool   `json:"atomicAggregate,omitempty"`
	AggregatorAS    uint32 `json:"aggregatorAS,omitempty"`
	AggregatorAddr  net.IP `json:"aggregatorAddr,omitempty"`

	// local-only attributes, never sent on the wire
	Weight   uint32 `json:"weight,omitempty"`
	Distance uint8  `json:"distance,omitempty"`
}

// Clone returns a deep copy of the attributes.
func (a *PathAttributes) Clone() *PathAttributes {
	if a == nil {
		return nil
	}
	c := *a
	c.ASPath = a.ASPath.clone()
	c.NextHop = cloneIP(a.NextHop)
	c.Communities = append([]uint32(nil), a.Communities...)
	c.OriginatorID = cloneIP(a.OriginatorID)
	c.AggregatorAddr = cloneIP(a.AggregatorAddr)
	c.ClusterList = nil
	for _, id := range a.ClusterList {
		c.ClusterList = append(c.ClusterList, cloneIP(id))
	}
	return &c
}

// HasCommunity returns true if the community is attached.
func (a *PathAttributes) HasCommunity(community uint32) bool {
	for _, c := range a.Communities {
		if c == community {
			return true
		}
	}
	return false
}

// Key returns the canonical encoding of the attribute content. Two bags with
// equal semantic content always produce the same key: IP addresses are
// normalized and communities are compared as a set.
func (a *PathAttributes) Key() string {
	var buf bytes.Buffer
	u32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	ip := func(addr net.IP) {
		norm := normalizeIP(addr)
		buf.WriteByte(byte(len(norm)))
		buf.Write(norm)
	}
	flag := func(set bool) {
		if set {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	buf.WriteByte(byte(a.Origin))
	u32(uint32(len(a.ASPath.Segments)))
	for _, seg := range a.ASPath.Segments {
		buf.WriteByte(byte(seg.Type))
		u32(uint32(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			u32(asn)
		}
	}
	ip(a.NextHop)
	flag(a.HasMED)
	if a.HasMED {
		u32(a.MED)
	}
	flag(a.HasLocalPref)
	if a.HasLocalPref {
		u32(a.LocalPref)
	}
	comms := append([]uint32(nil), a.Communities...)
	sort.Slice(comms, func(i, j int) bool { return comms[i] < comms[j] })
	u32(uint32(len(comms)))
	for _, c := range comms {
		u32(c)
	}
	ip(a.OriginatorID)
	u32(uint32(len(a.ClusterList)))
	for _, id := range a.ClusterList {
		ip(id)
	}
	flag(a.AtomicAggregate)
	u32(a.AggregatorAS)
	ip(a.AggregatorAddr)
	u32(a.Weight)
	buf.WriteByte(a.Distance)
	return buf.String()
}

// Equal returns true if both bags carry the same semantic content.
func (a *PathAttributes) Equal(other *PathAttributes) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Key() == other.Key()
}

// String returns a compact human-readable description.
func (a *PathAttributes) String() string {
	if a == nil {
		return "<nil>"
	}
	parts := []string{
		fmt.Sprintf("nh %v", a.NextHop),
		fmt.Sprintf("path [%s]", a.ASPath.String()),
		fmt.Sprintf("origin %s", a.Origin),
	}
	if a.HasMED {
		parts = append(parts, fmt.Sprintf("med %d", a.MED))
	}
	if a.HasLocalPref {
		parts = append(parts, fmt.Sprintf("lp %d", a.LocalPref))
	}
	if a.Weight != 0 {
		parts = append(parts, fmt.Sprintf("weight %d", a.Weight))
	}
	if len(a.Communities) > 0 {
		var comms []string
		for _, c := range a.Communities {
			comms = append(comms, fmt.Sprintf("%d:%d", c>>16, c&0xffff))
		}
		parts = append(parts, "comm "+strings.Join(comms, " "))
	}
	if a.OriginatorID != nil {
		parts = append(parts, fmt.Sprintf("originator %v", a.OriginatorID))
	}
	if len(a.ClusterList) > 0 {
		parts = append(parts, fmt.Sprintf("clusters %v", a.ClusterList))
	}
	return strings.Join(parts, ", ")
}

// CompareIP orders two addresses; IPv4 addresses sort before IPv6 ones.
func CompareIP(a, b net.IP) int {
	na, nb := normalizeIP(a), normalizeIP(b)
	if len(na) != len(nb) {
		if len(na) < len(nb) {
			return -1
		}
		return 1
	}
	return bytes.Compare(na, nb)
}

func normalizeIP(addr net.IP) net.IP {
	if addr == nil {
		return nil
	}
	if ip4 := addr.To4(); ip4 != nil {
		return ip4
	}
	return addr.To16()
}

func cloneIP(addr net.IP) net.IP {
	if addr == nil {
		return nil
	}
	return append(net.IP(nil), addr...)
}
