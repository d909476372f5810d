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

package instance

import (
	"net"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging"
	_ "github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/contiv/bgpd/plugins/bgp/adjrib"
	"github.com/contiv/bgpd/plugins/bgp/decision"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

var v4 = model.IPv4Unicast

// denyCommunity is an import policy rejecting routes tagged with a community.
type denyCommunity struct {
	community uint32
}

func (d denyCommunity) Apply(p *peer.Peer, dest *rib.Destination, attrs *model.PathAttributes) (*model.PathAttributes, bool) {
	return attrs, !attrs.HasCommunity(d.community)
}

func newInstance() *Instance {
	return New(logging.ForPlugin("bgp-test"), Config{
		LocalAS:  100,
		RouterID: net.ParseIP("1.1.1.1"),
		Decision: decision.DefaultConfig(),
	})
}

func TestNewReusesChildLoggers(t *testing.T) {
	RegisterTestingT(t)

	cfg := Config{LocalAS: 100, RouterID: net.ParseIP("1.1.1.1"), Decision: decision.DefaultConfig()}
	Expect(func() { New(logging.ForPlugin("bgp-twice"), cfg) }).ToNot(Panic())
	first, found := logging.DefaultRegistry.Lookup("bgp-twice.-adjrib")
	Expect(found).To(BeTrue())

	Expect(func() { New(logging.ForPlugin("bgp-twice"), cfg) }).ToNot(Panic())
	second, found := logging.DefaultRegistry.Lookup("bgp-twice.-adjrib")
	Expect(found).To(BeTrue())
	Expect(second).To(BeIdenticalTo(first))
}

func addPeer(in *Instance, addr string, remoteAS uint32, peerType peer.Type, interval time.Duration) *peer.Peer {
	p := peer.NewPeer(net.ParseIP(addr), remoteAS, 100, net.ParseIP(addr), peerType)
	p.AdvertisementInterval = interval
	Expect(in.AddPeer(p)).To(Succeed())
	Expect(in.PeerUp(p.Address, []model.Family{v4})).To(Succeed())
	return p
}

func mustPrefix(s string) *net.IPNet {
	prefix, err := model.ParsePrefix(s)
	Expect(err).ToNot(HaveOccurred())
	return prefix
}

func pathAttrs(nh string, lp uint32, asns ...uint32) *model.PathAttributes {
	attrs := &model.PathAttributes{
		Origin:  model.OriginIGP,
		ASPath:  model.NewASPath(asns...),
		NextHop: net.ParseIP(nh),
	}
	if lp > 0 {
		attrs.LocalPref, attrs.HasLocalPref = lp, true
	}
	return attrs
}

func flush(in *Instance, p *peer.Peer, origin bool) (batches []adjrib.UpdateBatch) {
	_, err := in.Flush(p.Address, v4, origin, func(batch adjrib.UpdateBatch) {
		batches = append(batches, batch)
	})
	Expect(err).ToNot(HaveOccurred())
	return batches
}

func TestLocalPrefSelectionNotReflected(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	p2 := addPeer(in, "192.0.2.2", 100, peer.Internal, 5*time.Second)
	flush(in, p1, false)
	flush(in, p2, false)
	prefix := mustPrefix("10.0.0.0/24")

	Expect(in.Update(p1.Address, v4, prefix, pathAttrs("198.51.100.1", 100, 200))).To(Succeed())
	dest, found := in.RIB().Table(v4).Lookup(prefix)
	Expect(found).To(BeTrue())
	Expect(dest.Selected().Peer).To(BeIdenticalTo(p1))
	_, exists := in.Store().AdjOut(p1, dest)
	Expect(exists).To(BeFalse())

	Expect(in.Update(p2.Address, v4, prefix, pathAttrs("192.0.2.2", 200, 400))).To(Succeed())
	Expect(dest.Selected().Peer).To(BeIdenticalTo(p2))
	_, exists = in.Store().AdjOut(p2, dest)
	Expect(exists).To(BeFalse())

	batches := flush(in, p1, false)
	Expect(batches).To(HaveLen(1))
	Expect(batches[0].Attrs.ASPath.String()).To(Equal("100 400"))
	Expect(batches[0].Attrs.HasLocalPref).To(BeFalse())
	Expect(in.Verify()).To(Succeed())
}

func TestPeerUpDumpsTableWithEndOfRIB(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	Expect(in.Update(p1.Address, v4, mustPrefix("10.0.0.0/24"), pathAttrs("198.51.100.1", 0, 200))).To(Succeed())
	Expect(in.Update(p1.Address, v4, mustPrefix("10.0.1.0/24"), pathAttrs("198.51.100.1", 0, 200))).To(Succeed())

	p3 := addPeer(in, "198.51.100.3", 300, peer.External, 30*time.Second)
	batches := flush(in, p3, false)
	Expect(batches).To(HaveLen(2))
	Expect(batches[0].Prefixes).To(HaveLen(2))
	Expect(batches[0].Prefixes[0].String()).To(Equal("10.0.0.0/24"))
	Expect(batches[1].EndOfRIB).To(BeTrue())
	Expect(flush(in, p3, false)).To(BeEmpty())

	// already established
	Expect(in.PeerUp(p3.Address, []model.Family{v4})).ToNot(Succeed())
}

func TestPeerDownReleasesEverything(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	p3 := addPeer(in, "198.51.100.3", 300, peer.External, 30*time.Second)
	for _, prefix := range []string{"10.0.0.0/24", "10.0.1.0/24", "10.0.2.0/24"} {
		Expect(in.Update(p1.Address, v4, mustPrefix(prefix), pathAttrs("198.51.100.1", 0, 200))).To(Succeed())
	}
	Expect(in.Stats().Routes[v4]).To(Equal(3))
	Expect(in.Store().Pending()).To(BeNumerically(">", 0))

	Expect(in.PeerDown(p1.Address)).To(Succeed())
	Expect(in.Stats().Routes[v4]).To(Equal(0))
	// unconfirmed announcements to p3 are dropped instead of withdrawn
	batches := flush(in, p3, false)
	for _, batch := range batches {
		Expect(batch.Prefixes).To(BeEmpty())
	}
	Expect(in.RIB().Table(v4).Len()).To(Equal(0))
	Expect(in.RIB().Attrs().Len()).To(Equal(0))
	Expect(in.Verify()).To(Succeed())

	err := in.PeerDown(p1.Address)
	Expect(errors.Cause(err)).To(Equal(ErrPeerNotEstablished))
	Expect(in.RemovePeer(p1.Address)).To(Succeed())
	Expect(errors.Cause(in.RemovePeer(p1.Address))).To(Equal(ErrUnknownPeer))
}

func TestInputValidation(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 0)
	idle := peer.NewPeer(net.ParseIP("198.51.100.9"), 900, 100, net.ParseIP("9.9.9.9"), peer.External)
	Expect(in.AddPeer(idle)).To(Succeed())
	Expect(in.AddPeer(idle)).ToNot(Succeed())

	attrs := pathAttrs("198.51.100.1", 0, 200)
	tests := []struct {
		name    string
		address string
		family  model.Family
		prefix  string
		err     error
	}{
		{"unknown peer", "203.0.113.1", v4, "10.0.0.0/24", ErrUnknownPeer},
		{"idle peer", "198.51.100.9", v4, "10.0.0.0/24", ErrPeerNotEstablished},
		{"family not negotiated", "198.51.100.1", model.IPv6Unicast, "2001:db8::/32", ErrFamilyNotNegotiated},
		{"prefix of another family", "198.51.100.1", v4, "2001:db8::/32", ErrInvalidPrefix},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)
			err := in.Update(net.ParseIP(test.address), test.family, mustPrefix(test.prefix), attrs)
			Expect(errors.Cause(err)).To(Equal(test.err))
		})
	}

	// withdrawing an unknown route is fine
	Expect(in.Withdraw(p1.Address, v4, mustPrefix("10.9.0.0/16"))).To(Succeed())
	Expect(errors.Cause(in.AddAggregate(&net.IPNet{IP: net.ParseIP("10.0.0.0").To4(), Mask: net.CIDRMask(64, 128)}, false))).
		To(Equal(ErrInvalidPrefix))
	Expect(in.SetMaxPaths(0, 1)).ToNot(Succeed())
}

func TestImmediateSend(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	var immediate []string
	in.SetImmediateHandler(func(p *peer.Peer, family model.Family) {
		immediate = append(immediate, p.Key()+" "+family.String())
	})
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	fast := addPeer(in, "198.51.100.2", 300, peer.External, 0)

	Expect(in.Update(p1.Address, v4, mustPrefix("10.0.0.0/24"), pathAttrs("198.51.100.1", 0, 200))).To(Succeed())
	Expect(immediate).To(ConsistOf(fast.Key() + " " + v4.String()))

	// self-originated routes wait for the AS origination timer
	immediate = nil
	Expect(in.AddNetwork(v4, mustPrefix("172.16.0.0/16"))).To(Succeed())
	Expect(immediate).To(BeEmpty())
}

func TestNexthopTracking(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	p3 := addPeer(in, "198.51.100.3", 300, peer.External, 30*time.Second)
	flush(in, p3, false)
	prefix := mustPrefix("10.0.0.0/24")
	Expect(in.Update(p1.Address, v4, prefix, pathAttrs("198.51.100.1", 0, 200))).To(Succeed())
	Expect(flush(in, p3, false)).To(HaveLen(1))

	in.SetNexthop(net.ParseIP("198.51.100.1"), false, 0)
	dest, _ := in.RIB().Table(v4).Lookup(prefix)
	Expect(dest.Selected()).To(BeNil())
	batches := flush(in, p3, false)
	Expect(batches).To(HaveLen(1))
	Expect(batches[0].Attrs).To(BeNil())

	// routes learned later inherit the tracked state
	other := mustPrefix("10.0.1.0/24")
	Expect(in.Update(p1.Address, v4, other, pathAttrs("198.51.100.1", 0, 200))).To(Succeed())
	otherDest, found := in.RIB().Table(v4).Lookup(other)
	Expect(found).To(BeTrue())
	Expect(otherDest.Selected()).To(BeNil())

	in.SetNexthop(net.ParseIP("198.51.100.1"), true, 10)
	Expect(dest.Selected()).ToNot(BeNil())
	Expect(dest.Selected().IGPMetric).To(BeEquivalentTo(10))
	Expect(otherDest.Selected()).ToNot(BeNil())
	Expect(in.Verify()).To(Succeed())
}

func TestNexthopChangeOnReplace(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	prefix := mustPrefix("10.0.0.0/24")

	in.SetNexthop(net.ParseIP("192.0.2.9"), false, 40)
	Expect(in.Update(p1.Address, v4, prefix, pathAttrs("192.0.2.9", 0, 200))).To(Succeed())
	dest, found := in.RIB().Table(v4).Lookup(prefix)
	Expect(found).To(BeTrue())
	Expect(dest.Selected()).To(BeNil())
	ri := dest.RouteFrom(p1, rib.TypeBGP, rib.SubNormal)
	Expect(ri.Has(rib.FlagNexthopValid)).To(BeFalse())
	Expect(ri.IGPMetric).To(Equal(uint32(40)))

	// same peer, untracked next-hop
	Expect(in.Update(p1.Address, v4, prefix, pathAttrs("192.0.2.1", 0, 200))).To(Succeed())
	Expect(ri.Has(rib.FlagNexthopValid)).To(BeTrue())
	Expect(ri.IGPMetric).To(BeZero())
	Expect(dest.Selected()).To(BeIdenticalTo(ri))

	// and back to the unreachable one
	Expect(in.Update(p1.Address, v4, prefix, pathAttrs("192.0.2.9", 0, 200))).To(Succeed())
	Expect(ri.Has(rib.FlagNexthopValid)).To(BeFalse())
	Expect(dest.Selected()).To(BeNil())
	Expect(in.Verify()).To(Succeed())
}

func TestSoftReconfigIn(t *testing.T) {
	RegisterTestingT(t)

	const blocked = 200<<16 | 666
	in := newInstance()
	in.SetImportPolicy(denyCommunity{community: blocked})
	p1 := peer.NewPeer(net.ParseIP("198.51.100.1"), 200, 100, net.ParseIP("2.2.2.2"), peer.External)
	p1.Flags.SoftReconfigInbound = true
	Expect(in.AddPeer(p1)).To(Succeed())
	Expect(in.PeerUp(p1.Address, []model.Family{v4})).To(Succeed())

	attrs := pathAttrs("198.51.100.1", 0, 200)
	attrs.Communities = []uint32{blocked}
	prefix := mustPrefix("10.0.0.0/24")
	Expect(in.Update(p1.Address, v4, prefix, attrs)).To(Succeed())
	Expect(in.Stats().Routes[v4]).To(Equal(0))

	in.SetImportPolicy(nil)
	Expect(in.SoftReconfigIn(p1.Address, v4)).To(Succeed())
	Expect(in.Stats().Routes[v4]).To(Equal(1))
	dest, _ := in.RIB().Table(v4).Lookup(prefix)
	Expect(dest.Selected().Attrs().HasCommunity(blocked)).To(BeTrue())

	in.SetImportPolicy(denyCommunity{community: blocked})
	Expect(in.SoftReconfigIn(p1.Address, v4)).To(Succeed())
	Expect(in.Stats().Routes[v4]).To(Equal(0))

	Expect(in.Withdraw(p1.Address, v4, prefix)).To(Succeed())
	Expect(in.RIB().Table(v4).Len()).To(Equal(0))
	Expect(in.RIB().Attrs().Len()).To(Equal(0))
}

func TestRedistribution(t *testing.T) {
	RegisterTestingT(t)

	in := newInstance()
	p1 := addPeer(in, "198.51.100.1", 200, peer.External, 30*time.Second)
	p3 := addPeer(in, "198.51.100.3", 300, peer.External, 30*time.Second)
	flush(in, p3, false)
	prefix := mustPrefix("10.0.0.0/24")

	Expect(in.Update(p1.Address, v4, prefix, pathAttrs("198.51.100.1", 0, 200))).To(Succeed())
	Expect(in.Redistribute(v4, prefix, net.ParseIP("10.9.9.9"), rib.TypeConnected, 5)).To(Succeed())
	dest, _ := in.RIB().Table(v4).Lookup(prefix)
	Expect(dest.Selected().Type).To(Equal(rib.TypeConnected))

	batches := flush(in, p3, true)
	Expect(batches).To(HaveLen(1))
	Expect(batches[0].Attrs.ASPath.String()).To(Equal("100"))
	Expect(batches[0].Attrs.Origin).To(Equal(model.OriginIncomplete))

	Expect(in.Redistribute(v4, prefix, nil, rib.TypeBGP, 0)).ToNot(Succeed())
	Expect(in.WithdrawRedistributed(v4, prefix, rib.TypeConnected)).To(Succeed())
	Expect(dest.Selected().Peer).To(BeIdenticalTo(p1))
	Expect(in.Verify()).To(Succeed())
}
