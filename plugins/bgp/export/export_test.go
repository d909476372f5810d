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

package export

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

// denyPrefix is a policy denying one prefix and tagging everything else.
type denyPrefix struct {
	prefix string
}

func (p denyPrefix) Apply(to *peer.Peer, dest *rib.Destination, attrs *model.PathAttributes) (*model.PathAttributes, bool) {
	if dest.Key() == p.prefix {
		return nil, false
	}
	attrs.Communities = append(attrs.Communities, 100<<16 | 1)
	return attrs, true
}

func newEvaluator(policy Policy) *Evaluator {
	return NewEvaluator(logrus.DefaultLogger(), Config{
		LocalAS:          65010,
		ConfederationID:  100,
		RouterID:         net.ParseIP("1.1.1.1"),
		DefaultLocalPref: 100,
	}, policy)
}

func route(table *rib.Table, prefix string, from *peer.Peer, attrs *model.PathAttributes) *rib.RouteInfo {
	p, err := model.ParsePrefix(prefix)
	Expect(err).ToNot(HaveOccurred())
	dest := table.Get(p)
	return table.AddRoute(dest, from, rib.TypeBGP, rib.SubNormal, table.Attrs().Intern(attrs), time.Now())
}

func TestExportRules(t *testing.T) {
	RegisterTestingT(t)

	table := rib.NewTable(model.IPv4Unicast)
	ev := newEvaluator(nil)
	ebgp := peer.NewPeer(net.ParseIP("198.51.100.1"), 200, 65010, net.ParseIP("2.2.2.2"), peer.External)
	ebgp2 := peer.NewPeer(net.ParseIP("198.51.100.2"), 300, 65010, net.ParseIP("3.3.3.3"), peer.External)
	ebgp2.LocalAddress = net.ParseIP("198.51.100.254")
	ibgp := peer.NewPeer(net.ParseIP("192.0.2.1"), 65010, 65010, net.ParseIP("4.4.4.4"), peer.Internal)
	confed := peer.NewPeer(net.ParseIP("192.0.2.2"), 65020, 65010, net.ParseIP("5.5.5.5"), peer.Confed)

	base := &model.PathAttributes{
		ASPath:  model.NewASPath(200),
		NextHop: net.ParseIP("198.51.100.1"),
		MED:     50,
		HasMED:  true,
		Weight:  10,
	}
	ri := route(table, "10.0.0.0/24", ebgp, base)

	tests := []struct {
		name   string
		to     *peer.Peer
		permit bool
		check  func(attrs *model.PathAttributes)
	}{
		{name: "not back to source", to: ebgp},
		{
			name: "ebgp rewrite", to: ebgp2, permit: true,
			check: func(attrs *model.PathAttributes) {
				Expect(attrs.ASPath.String()).To(Equal("100 200"))
				Expect(attrs.NextHop.Equal(ebgp2.LocalAddress)).To(BeTrue())
				Expect(attrs.HasMED).To(BeFalse())
				Expect(attrs.Weight).To(BeZero())
			},
		},
		{
			name: "ibgp defaults", to: ibgp, permit: true,
			check: func(attrs *model.PathAttributes) {
				Expect(attrs.ASPath.String()).To(Equal("200"))
				Expect(attrs.LocalPref).To(BeEquivalentTo(100))
				Expect(attrs.HasMED).To(BeTrue())
				Expect(attrs.NextHop.Equal(base.NextHop)).To(BeTrue())
			},
		},
		{
			name: "confed prepends member AS", to: confed, permit: true,
			check: func(attrs *model.PathAttributes) {
				Expect(attrs.ASPath.String()).To(Equal("(65010) 200"))
				Expect(attrs.HasLocalPref).To(BeTrue())
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)
			attrs, permit := ev.Evaluate(test.to, ri)
			Expect(permit).To(Equal(test.permit))
			if test.check != nil {
				test.check(attrs)
			}
		})
	}
	// the interned attributes are never modified
	Expect(ri.Attrs().Weight).To(BeEquivalentTo(10))
}

func TestExportDenials(t *testing.T) {
	RegisterTestingT(t)

	table := rib.NewTable(model.IPv4Unicast)
	ev := newEvaluator(nil)
	src := peer.NewPeer(net.ParseIP("192.0.2.9"), 65010, 65010, net.ParseIP("9.9.9.9"), peer.Internal)
	ebgp := peer.NewPeer(net.ParseIP("198.51.100.1"), 200, 65010, net.ParseIP("2.2.2.2"), peer.External)
	confed := peer.NewPeer(net.ParseIP("192.0.2.2"), 65020, 65010, net.ParseIP("5.5.5.5"), peer.Confed)
	ibgp := peer.NewPeer(net.ParseIP("192.0.2.1"), 65010, 65010, net.ParseIP("4.4.4.4"), peer.Internal)
	ibgp.Flags.ReflectorClient = true

	withCommunity := func(prefix string, community uint32) *rib.RouteInfo {
		return route(table, prefix, src, &model.PathAttributes{
			ASPath:      model.NewASPath(300),
			NextHop:     net.ParseIP("192.0.2.9"),
			Communities: []uint32{community},
		})
	}

	noExport := withCommunity("10.0.1.0/24", model.CommunityNoExport)
	_, permit := ev.Evaluate(ebgp, noExport)
	Expect(permit).To(BeFalse())
	_, permit = ev.Evaluate(confed, noExport)
	Expect(permit).To(BeTrue())

	subconfed := withCommunity("10.0.2.0/24", model.CommunityNoExportSubconfed)
	_, permit = ev.Evaluate(confed, subconfed)
	Expect(permit).To(BeFalse())
	_, permit = ev.Evaluate(ibgp, subconfed)
	Expect(permit).To(BeTrue())

	noAdvertise := withCommunity("10.0.3.0/24", model.CommunityNoAdvertise)
	_, permit = ev.Evaluate(ibgp, noAdvertise)
	Expect(permit).To(BeFalse())

	loop := route(table, "10.0.4.0/24", src, &model.PathAttributes{
		ASPath:  model.NewASPath(300, 200),
		NextHop: net.ParseIP("192.0.2.9"),
	})
	_, permit = ev.Evaluate(ebgp, loop)
	Expect(permit).To(BeFalse())

	reflected := route(table, "10.0.5.0/24", src, &model.PathAttributes{
		ASPath:       model.NewASPath(300),
		NextHop:      net.ParseIP("192.0.2.9"),
		OriginatorID: ibgp.RouterID,
	})
	_, permit = ev.Evaluate(ibgp, reflected)
	Expect(permit).To(BeFalse())

	suppressed := withCommunity("10.0.6.0/24", 0)
	suppressed.Suppress = 1
	_, permit = ev.Evaluate(ebgp, suppressed)
	Expect(permit).To(BeFalse())
}

func TestRemovePrivateAndPolicy(t *testing.T) {
	RegisterTestingT(t)

	table := rib.NewTable(model.IPv4Unicast)
	ev := newEvaluator(denyPrefix{prefix: "10.0.1.0/24"})
	src := peer.NewPeer(net.ParseIP("192.0.2.9"), 65010, 65010, net.ParseIP("9.9.9.9"), peer.Internal)
	ebgp := peer.NewPeer(net.ParseIP("198.51.100.1"), 200, 65010, net.ParseIP("2.2.2.2"), peer.External)
	ebgp.Flags.RemovePrivateAS = true

	private := route(table, "10.0.0.0/24", src, &model.PathAttributes{
		ASPath:  model.NewASPath(64512, 64513),
		NextHop: net.ParseIP("192.0.2.9"),
	})
	attrs, permit := ev.Evaluate(ebgp, private)
	Expect(permit).To(BeTrue())
	Expect(attrs.ASPath.String()).To(Equal("100"))
	Expect(attrs.Communities).To(Equal([]uint32{100<<16 | 1}))

	denied := route(table, "10.0.1.0/24", src, &model.PathAttributes{
		ASPath:  model.NewASPath(300),
		NextHop: net.ParseIP("192.0.2.9"),
	})
	_, permit = ev.Evaluate(ebgp, denied)
	Expect(permit).To(BeFalse())
}
