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

package fib

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"
	"github.com/vishvananda/netlink"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

type mockLinuxCalls struct {
	replaced []*netlink.Route
	deleted  []*netlink.Route
	err      error
}

func (m *mockLinuxCalls) RouteReplace(route *netlink.Route) error {
	m.replaced = append(m.replaced, route)
	return m.err
}

func (m *mockLinuxCalls) RouteDel(route *netlink.Route) error {
	m.deleted = append(m.deleted, route)
	return m.err
}

func newMockInstaller() (*NetlinkInstaller, *mockLinuxCalls) {
	calls := &mockLinuxCalls{}
	installer := NewNetlinkInstaller(logrus.DefaultLogger(), 0, 0)
	installer.calls = calls
	return installer, calls
}

func routes(table *rib.Table, prefix string, from *peer.Peer, nexthops ...string) (*rib.Destination, []*rib.RouteInfo) {
	p, err := model.ParsePrefix(prefix)
	Expect(err).ToNot(HaveOccurred())
	dest := table.Get(p)
	var ris []*rib.RouteInfo
	for _, nh := range nexthops {
		attrs := &model.PathAttributes{ASPath: model.NewASPath(200), NextHop: net.ParseIP(nh)}
		ris = append(ris, table.AddRoute(dest, from, rib.TypeBGP, rib.SubNormal, table.Attrs().Intern(attrs), time.Now()))
	}
	return dest, ris
}

func TestNetlinkInstaller(t *testing.T) {
	RegisterTestingT(t)

	installer, calls := newMockInstaller()
	prefix, _ := model.ParsePrefix("10.0.0.0/24")

	Expect(installer.Install(&Route{Prefix: prefix, Nexthops: []net.IP{net.ParseIP("192.0.2.1")}})).To(Succeed())
	Expect(calls.replaced).To(HaveLen(1))
	Expect(calls.replaced[0].Gw.Equal(net.ParseIP("192.0.2.1"))).To(BeTrue())
	Expect(calls.replaced[0].Protocol).To(BeEquivalentTo(DefaultProtocol))
	Expect(calls.replaced[0].MultiPath).To(BeEmpty())

	ecmp := &Route{Prefix: prefix, Nexthops: []net.IP{net.ParseIP("192.0.2.1"), net.ParseIP("192.0.2.2")}}
	Expect(installer.Install(ecmp)).To(Succeed())
	Expect(calls.replaced[1].Gw).To(BeNil())
	Expect(calls.replaced[1].MultiPath).To(HaveLen(2))

	calls.err = errors.New("operation not permitted")
	err := installer.Withdraw(ecmp)
	Expect(err).To(HaveOccurred())
	Expect(err.Error()).To(ContainSubstring("10.0.0.0/24"))
	Expect(calls.deleted).To(HaveLen(1))
}

func TestSyncer(t *testing.T) {
	RegisterTestingT(t)

	installer, calls := newMockInstaller()
	syncer := NewSyncer(logrus.DefaultLogger(), installer)
	table := rib.NewTable(model.IPv4Unicast)
	p1 := peer.NewPeer(net.ParseIP("198.51.100.1"), 200, 100, net.ParseIP("2.2.2.2"), peer.External)
	self := peer.NewRegistry(100, net.ParseIP("1.1.1.1")).Self()

	dest, ris := routes(table, "10.0.0.0/24", p1, "198.51.100.1", "198.51.100.2")
	syncer.Install(dest, ris[0], ris)
	Expect(syncer.Installed()).To(Equal(1))
	Expect(calls.replaced[0].MultiPath).To(HaveLen(2))

	syncer.Withdraw(dest, ris[0])
	syncer.Withdraw(dest, ris[0])
	Expect(syncer.Installed()).To(Equal(0))
	Expect(calls.deleted).To(HaveLen(1))

	// locally originated routes are not pushed to the kernel
	local, localRoutes := routes(table, "10.1.0.0/16", self, "0.0.0.0")
	syncer.Install(local, localRoutes[0], localRoutes)
	Expect(syncer.Installed()).To(Equal(0))
	Expect(calls.replaced).To(HaveLen(1))

	calls.err = errors.New("no such device")
	syncer.Install(dest, ris[1], ris[1:])
	Expect(syncer.Failures()).To(Equal(1))
	Expect(syncer.Installed()).To(Equal(0))
}
