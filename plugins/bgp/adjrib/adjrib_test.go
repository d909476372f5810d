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

package adjrib

import (
	"net"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

type fixture struct {
	table *rib.Table
	store *Store
	self  *peer.Peer
	p1    *peer.Peer
	p2    *peer.Peer

	immediate []string
}

func newFixture() *fixture {
	f := &fixture{table: rib.NewTable(model.IPv4Unicast)}
	f.store = NewStore(logrus.DefaultLogger(), f.table.Attrs(), func(p *peer.Peer, family model.Family) {
		f.immediate = append(f.immediate, p.Key())
	})
	registry := peer.NewRegistry(100, net.ParseIP("1.1.1.1"))
	f.self = registry.Self()
	f.p1 = peer.NewPeer(net.ParseIP("192.0.2.1"), 200, 100, net.ParseIP("2.2.2.2"), peer.External)
	f.p1.AdvertisementInterval = 30 * time.Second
	f.p2 = peer.NewPeer(net.ParseIP("192.0.2.2"), 300, 100, net.ParseIP("3.3.3.3"), peer.External)
	f.p2.AdvertisementInterval = 30 * time.Second
	return f
}

func (f *fixture) dest(s string) *rib.Destination {
	prefix, err := model.ParsePrefix(s)
	Expect(err).ToNot(HaveOccurred())
	return f.table.Get(prefix)
}

func outAttrs(nh string, asns ...uint32) *model.PathAttributes {
	return &model.PathAttributes{
		ASPath:  model.NewASPath(asns...),
		NextHop: net.ParseIP(nh),
	}
}

func drain(q *PeerQueue, kind QueueKind, max int) (batches []UpdateBatch) {
	q.Drain(kind, max, func(batch UpdateBatch) {
		batches = append(batches, batch)
	})
	return batches
}

func TestSetUnsetRoundTrip(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	dest := f.dest("10.0.0.0/24")
	attrsBefore := f.table.Attrs().Len()

	f.store.SetAdjacency(f.p1, dest, outAttrs("192.0.2.9", 100, 200), f.p2)
	q, exists := f.store.Lookup(f.p1, model.IPv4Unicast)
	Expect(exists).To(BeTrue())
	Expect(q.Len(ReachRelay)).To(Equal(1))
	Expect(q.Groups()).To(Equal(1))
	Expect(dest.Pins()).To(Equal(1))
	Expect(f.store.Verify()).To(Succeed())

	f.store.UnsetAdjacency(f.p1, dest, f.p2)
	_, exists = f.store.AdjOut(f.p1, dest)
	Expect(exists).To(BeFalse())
	Expect(q.Pending()).To(Equal(0))
	Expect(q.Groups()).To(Equal(0))
	Expect(f.table.Attrs().Len()).To(Equal(attrsBefore))
	Expect(dest.Reclaimed()).To(BeTrue())
	Expect(f.store.Verify()).To(Succeed())

	// second unset is a no-op
	f.store.UnsetAdjacency(f.p1, dest, f.p2)
	Expect(q.Pending()).To(Equal(0))
}

func TestGroupPacking(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	shared := outAttrs("192.0.2.9", 100, 200)
	d1, d2, d3 := f.dest("10.0.1.0/24"), f.dest("10.0.2.0/24"), f.dest("10.0.3.0/24")
	other := f.dest("10.0.4.0/24")

	f.store.SetAdjacency(f.p1, d1, shared, f.p2)
	f.store.SetAdjacency(f.p1, other, outAttrs("192.0.2.10", 100, 300), f.p2)
	f.store.SetAdjacency(f.p1, d2, shared, f.p2)
	f.store.SetAdjacency(f.p1, d3, shared, f.p2)

	q := f.store.Queue(f.p1, model.IPv4Unicast)
	Expect(q.Groups()).To(Equal(2))
	Expect(q.Group(d1)).To(BeIdenticalTo(q.Group(d3)))
	Expect(q.Group(d1).Refcount()).To(Equal(3))
	Expect(f.store.Verify()).To(Succeed())

	batches := drain(q, ReachRelay, 2)
	Expect(batches).To(HaveLen(3))
	Expect(batches[0].Prefixes).To(Equal([]*net.IPNet{d1.Prefix(), d2.Prefix()}))
	Expect(batches[0].Attrs.NextHop.Equal(net.ParseIP("192.0.2.9"))).To(BeTrue())
	Expect(batches[1].Prefixes).To(Equal([]*net.IPNet{other.Prefix()}))
	Expect(batches[2].Prefixes).To(Equal([]*net.IPNet{d3.Prefix()}))

	Expect(q.Pending()).To(Equal(0))
	Expect(q.Groups()).To(Equal(0))
	adj, exists := q.AdjOut(d2)
	Expect(exists).To(BeTrue())
	Expect(adj.HasPending()).To(BeFalse())
	Expect(adj.Advertised().Equal(shared)).To(BeTrue())
	Expect(f.store.References()).To(Equal(4))
	Expect(f.store.Verify()).To(Succeed())
}

func TestWithdrawAfterConfirm(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	dest := f.dest("10.0.0.0/24")
	q := f.store.Queue(f.p1, model.IPv4Unicast)

	f.store.SetAdjacency(f.p1, dest, outAttrs("192.0.2.9", 100), f.self)
	Expect(q.Len(ReachOrigin)).To(Equal(1))
	drain(q, ReachOrigin, 0)

	f.store.UnsetAdjacency(f.p1, dest, f.self)
	f.store.UnsetAdjacency(f.p1, dest, f.self)
	Expect(q.Len(UnreachOrigin)).To(Equal(1))
	Expect(q.Len(UnreachRelay)).To(Equal(0))
	Expect(f.store.Verify()).To(Succeed())

	// re-announcing the confirmed attributes cancels the withdrawal
	f.store.SetAdjacency(f.p1, dest, outAttrs("192.0.2.9", 100), f.self)
	Expect(q.Pending()).To(Equal(0))

	f.store.UnsetAdjacency(f.p1, dest, f.self)
	batches := drain(q, UnreachOrigin, 0)
	Expect(batches).To(HaveLen(1))
	Expect(batches[0].Attrs).To(BeNil())
	Expect(batches[0].Prefixes).To(Equal([]*net.IPNet{dest.Prefix()}))
	_, exists := q.AdjOut(dest)
	Expect(exists).To(BeFalse())
	Expect(dest.Reclaimed()).To(BeTrue())
	Expect(f.table.Attrs().Len()).To(Equal(0))
}

func TestReplacePending(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	dest := f.dest("10.0.0.0/24")
	q := f.store.Queue(f.p1, model.IPv4Unicast)

	f.store.SetAdjacency(f.p1, dest, outAttrs("192.0.2.9", 100), f.p2)
	f.store.SetAdjacency(f.p1, dest, outAttrs("192.0.2.10", 100), f.p2)
	Expect(q.Pending()).To(Equal(1))
	Expect(q.Groups()).To(Equal(1))
	Expect(f.table.Attrs().Len()).To(Equal(1))
	Expect(dest.Pins()).To(Equal(1))
	Expect(f.store.Verify()).To(Succeed())
}

func TestImmediateSend(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	f.p1.AdvertisementInterval = 0

	f.store.SetAdjacency(f.p1, f.dest("10.0.0.0/24"), outAttrs("192.0.2.9", 100), f.self)
	Expect(f.immediate).To(BeEmpty())
	f.store.SetAdjacency(f.p1, f.dest("10.0.1.0/24"), outAttrs("192.0.2.9", 100), f.p2)
	Expect(f.immediate).To(Equal([]string{f.p1.Key()}))
	f.store.SetAdjacency(f.p2, f.dest("10.0.1.0/24"), outAttrs("192.0.2.9", 100), f.p1)
	Expect(f.immediate).To(HaveLen(1))
}

func TestEndOfRIB(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	q := f.store.Queue(f.p1, model.IPv4Unicast)

	f.store.SetEndOfRIB(f.p1, model.IPv4Unicast)
	f.store.SetEndOfRIB(f.p1, model.IPv4Unicast)
	Expect(q.Len(ReachRelay)).To(Equal(1))
	Expect(f.store.Verify()).To(Succeed())

	batches := drain(q, ReachRelay, 0)
	Expect(batches).To(HaveLen(1))
	Expect(batches[0].EndOfRIB).To(BeTrue())
	Expect(q.Pending()).To(Equal(0))

	// follows self-originated routes when some are queued
	f.store.SetAdjacency(f.p1, f.dest("10.0.0.0/24"), outAttrs("192.0.2.9", 100), f.self)
	f.store.SetEndOfRIB(f.p1, model.IPv4Unicast)
	Expect(q.Len(ReachOrigin)).To(Equal(2))
	batches = drain(q, ReachOrigin, 0)
	Expect(batches).To(HaveLen(2))
	Expect(batches[0].EndOfRIB).To(BeFalse())
	Expect(batches[1].EndOfRIB).To(BeTrue())
	Expect(f.store.Verify()).To(Succeed())
}

func TestGroupPackingStopsAtEndOfRIB(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	q := f.store.Queue(f.p1, model.IPv4Unicast)
	shared := outAttrs("192.0.2.9", 100, 200)
	before, after := f.dest("10.0.1.0/24"), f.dest("10.0.2.0/24")

	f.store.SetAdjacency(f.p1, before, shared, f.p2)
	f.store.SetEndOfRIB(f.p1, model.IPv4Unicast)
	f.store.SetAdjacency(f.p1, after, shared, f.p2)
	Expect(q.Group(before)).To(BeIdenticalTo(q.Group(after)))
	Expect(q.Len(ReachRelay)).To(Equal(3))

	batches := drain(q, ReachRelay, 0)
	Expect(batches).To(HaveLen(3))
	Expect(batches[0].Prefixes).To(Equal([]*net.IPNet{before.Prefix()}))
	Expect(batches[1].EndOfRIB).To(BeTrue())
	Expect(batches[1].Prefixes).To(BeEmpty())
	Expect(batches[2].Prefixes).To(Equal([]*net.IPNet{after.Prefix()}))
	Expect(q.Pending()).To(Equal(0))
	Expect(q.Groups()).To(Equal(0))
	Expect(f.store.Verify()).To(Succeed())
}

func TestClearPeer(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	d1, d2, d3 := f.dest("10.0.1.0/24"), f.dest("10.0.2.0/24"), f.dest("10.0.3.0/24")
	q := f.store.Queue(f.p1, model.IPv4Unicast)

	f.store.SetAdjacency(f.p1, d1, outAttrs("192.0.2.9", 100), f.p2)
	f.store.SetAdjacency(f.p1, d2, outAttrs("192.0.2.9", 100), f.p2)
	drain(q, ReachRelay, 0)
	f.store.UnsetAdjacency(f.p1, d1, f.p2)
	f.store.SetAdjacency(f.p1, d3, outAttrs("192.0.2.10", 100), f.self)
	f.store.SetEndOfRIB(f.p1, model.IPv4Unicast)
	q.SetAdjacencyIn(d2, outAttrs("192.0.2.1", 200))
	f.store.SetAdjacency(f.p2, d2, outAttrs("192.0.2.9", 100), f.p1)
	Expect(f.store.Verify()).To(Succeed())

	Expect(f.store.ClearPeer(f.p1)).To(Equal(3))
	_, exists := f.store.Lookup(f.p1, model.IPv4Unicast)
	Expect(exists).To(BeFalse())
	Expect(d1.Reclaimed()).To(BeTrue())
	Expect(d3.Reclaimed()).To(BeTrue())
	Expect(d2.Pins()).To(Equal(1))

	// only the p2 announcement is left
	Expect(f.store.References()).To(Equal(1))
	Expect(f.table.Attrs().TotalRefs()).To(Equal(1))
	Expect(f.store.Verify()).To(Succeed())
}

func TestAdjacencyIn(t *testing.T) {
	RegisterTestingT(t)

	f := newFixture()
	dest := f.dest("10.0.0.0/24")
	q := f.store.Queue(f.p1, model.IPv4Unicast)

	q.SetAdjacencyIn(dest, outAttrs("192.0.2.1", 200))
	q.SetAdjacencyIn(dest, outAttrs("192.0.2.1", 200, 65000))
	dests, attrs := q.AdjacencyIn()
	Expect(dests).To(Equal([]*rib.Destination{dest}))
	Expect(attrs[0].ASPath.Length()).To(Equal(2))
	Expect(f.table.Attrs().Len()).To(Equal(1))

	q.UnsetAdjacencyIn(dest)
	q.UnsetAdjacencyIn(dest)
	Expect(dest.Reclaimed()).To(BeTrue())
	Expect(f.table.Attrs().Len()).To(Equal(0))
}

func TestStaleEntryPanics(t *testing.T) {
	RegisterTestingT(t)

	var a arena
	id := a.alloc()
	a.release(id)
	reused := a.alloc()
	Expect(reused.idx).To(Equal(id.idx))
	Expect(func() { a.get(id) }).To(Panic())
	Expect(func() { a.release(id) }).To(Panic())
	Expect(func() { a.get(EntryID{}) }).To(Panic())
	Expect(a.get(reused)).ToNot(BeNil())
}
