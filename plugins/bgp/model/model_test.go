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
	"net"
	"testing"

	. "github.com/onsi/gomega"
)

func TestASPathLength(t *testing.T) {
	RegisterTestingT(t)

	path := ASPath{Segments: []ASPathSegment{
		{Type: ConfedSequence, ASNs: []uint32{65001, 65002}},
		{Type: ASSequence, ASNs: []uint32{100, 200}},
		{Type: ASSet, ASNs: []uint32{300, 400, 500}},
	}}
	Expect(path.Length()).To(Equal(3))
	Expect(path.ConfedLength()).To(Equal(2))
	Expect(path.IsEmpty()).To(BeFalse())
	Expect(path.IsConfedPath()).To(BeFalse())

	left, ok := path.LeftmostAS()
	Expect(ok).To(BeTrue())
	Expect(left).To(BeEquivalentTo(100))

	confed, ok := path.LeftmostConfedAS()
	Expect(ok).To(BeTrue())
	Expect(confed).To(BeEquivalentTo(65001))

	Expect(ASPath{}.IsEmpty()).To(BeTrue())
	_, ok = ASPath{}.LeftmostAS()
	Expect(ok).To(BeFalse())
}

func TestASPathPrepend(t *testing.T) {
	RegisterTestingT(t)

	path := ASPath{Segments: []ASPathSegment{
		{Type: ConfedSequence, ASNs: []uint32{65001}},
		{Type: ASSequence, ASNs: []uint32{200}},
	}}
	out := path.Prepend(100)
	Expect(out.Equal(NewASPath(100, 200))).To(BeTrue())
	// the original is left intact
	Expect(path.ConfedLength()).To(Equal(1))

	confed := NewASPath(200).PrependConfed(65002)
	Expect(confed.String()).To(Equal("(65002) 200"))
}

func TestRemovePrivate(t *testing.T) {
	RegisterTestingT(t)

	Expect(NewASPath(64512, 65000).RemovePrivate().IsEmpty()).To(BeTrue())
	Expect(NewASPath(64512, 100).RemovePrivate().Equal(NewASPath(64512, 100))).To(BeTrue())
}

func TestAttributeKey(t *testing.T) {
	RegisterTestingT(t)

	a := &PathAttributes{
		Origin:      OriginIGP,
		ASPath:      NewASPath(100),
		NextHop:     net.ParseIP("10.0.0.1"),
		Communities: []uint32{2, 1},
	}
	b := a.Clone()
	// IPv4 in 16-byte form and reordered communities are the same content
	b.NextHop = net.ParseIP("10.0.0.1").To16()
	b.Communities = []uint32{1, 2}
	Expect(a.Key()).To(Equal(b.Key()))
	Expect(a.Equal(b)).To(BeTrue())

	b.HasMED = true
	Expect(a.Equal(b)).To(BeFalse())

	// MED value is ignored when not present
	c := a.Clone()
	c.MED = 50
	Expect(a.Equal(c)).To(BeTrue())
}

func TestFamily(t *testing.T) {
	RegisterTestingT(t)

	f, err := ParseFamily("ipv6-unicast")
	Expect(err).To(BeNil())
	Expect(f).To(Equal(IPv6Unicast))

	_, err = ParseFamily("l2vpn-evpn")
	Expect(err).NotTo(BeNil())

	prefix, err := ParsePrefix("10.0.0.1/24")
	Expect(err).To(BeNil())
	Expect(PrefixKey(prefix)).To(Equal("10.0.0.0/24"))
	Expect(IPv4Unicast.Accepts(prefix)).To(BeTrue())
	Expect(IPv6Unicast.Accepts(prefix)).To(BeFalse())
}

func TestCompareIP(t *testing.T) {
	RegisterTestingT(t)

	Expect(CompareIP(net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"))).To(Equal(-1))
	Expect(CompareIP(net.ParseIP("10.0.0.1").To4(), net.ParseIP("10.0.0.1"))).To(Equal(0))
	Expect(CompareIP(net.ParseIP("2001:db8::1"), net.ParseIP("10.0.0.1"))).To(Equal(1))
}
