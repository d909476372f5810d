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

package decision

import (
	"math"
	"net"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// rule compares two paths by one criterion: >0 if <a> is better, <0 if <b>
// is better, 0 if the rule does not decide.
type rule struct {
	name    string
	compare func(cfg *Config, a, b *rib.RouteInfo) int
}

// rules before the IGP-metric step
var preIGPRules = []rule{
	{"weight", compareWeight},
	{"local-pref", compareLocalPref},
	{"origin-priority", compareOriginPriority},
	{"as-path", compareASPath},
	{"origin", compareOrigin},
	{"med", compareMED},
	{"peer-type", comparePeerType},
}

// rules after the IGP-metric step
var postIGPRules = []rule{
	{"route-age", compareAge},
	{"router-id", compareRouterID},
	{"cluster-list", compareClusterList},
	{"peer-address", comparePeerAddress},
}

// Better returns true if <newRoute> is preferred over <existing>.
func (d *Decision) Better(newRoute, existing *rib.RouteInfo) bool {
	better, _ := d.compare(newRoute, existing)
	return better > 0
}

// compare runs the tie-break chain. <ecmp> is true when both paths are
// equal up to and including the IGP metric and qualify for multipath.
func (d *Decision) compare(a, b *rib.RouteInfo) (result int, ecmp bool) {
	cfg := &d.cfg
	for _, r := range preIGPRules {
		if c := r.compare(cfg, a, b); c != 0 {
			return c, false
		}
	}
	if cfg.RFC1771PathSelect {
		return compareFinal(cfg, a, b), false
	}
	if c := compareIGPMetric(cfg, a, b); c != 0 {
		return c, false
	}
	ecmp = cfg.Multipath.Enabled && multipathEligible(a, b)
	for _, r := range postIGPRules {
		if c := r.compare(cfg, a, b); c != 0 {
			return c, ecmp
		}
	}
	return 0, ecmp
}

// compareFinal is the part of the chain used in RFC1771 mode.
func compareFinal(cfg *Config, a, b *rib.RouteInfo) int {
	for _, r := range postIGPRules[1:] {
		if c := r.compare(cfg, a, b); c != 0 {
			return c
		}
	}
	return 0
}

func compareUint(a, b uint32, higherWins bool) int {
	switch {
	case a == b:
		return 0
	case (a > b) == higherWins:
		return 1
	}
	return -1
}

func compareWeight(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(a.Attrs().Weight, b.Attrs().Weight, true)
}

func localPref(cfg *Config, ri *rib.RouteInfo) uint32 {
	if attrs := ri.Attrs(); attrs.HasLocalPref {
		return attrs.LocalPref
	}
	return cfg.DefaultLocalPref
}

func compareLocalPref(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(localPref(cfg, a), localPref(cfg, b), true)
}

// originPriority ranks where the route came from:
// connected > static > aggregate > redistributed > learned.
func originPriority(ri *rib.RouteInfo) uint32 {
	switch {
	case ri.Type == rib.TypeConnected:
		return 4
	case ri.Type == rib.TypeStatic || ri.SubType == rib.SubStatic:
		return 3
	case ri.SubType == rib.SubAggregate:
		return 2
	case ri.SubType == rib.SubRedistribute || ri.Type == rib.TypeOther:
		return 1
	}
	return 0
}

func compareOriginPriority(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(originPriority(a), originPriority(b), true)
}

func compareASPath(cfg *Config, a, b *rib.RouteInfo) int {
	if cfg.IgnoreASPathLength {
		return 0
	}
	pa, pb := a.Attrs().ASPath, b.Attrs().ASPath
	if c := compareUint(uint32(pa.Length()), uint32(pb.Length()), false); c != 0 {
		return c
	}
	if cfg.CompareConfedASPath {
		return compareUint(uint32(pa.ConfedLength()), uint32(pb.ConfedLength()), false)
	}
	return 0
}

func compareOrigin(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(uint32(a.Attrs().Origin), uint32(b.Attrs().Origin), false)
}

// medComparable tells if the MEDs of the two paths may be compared.
func medComparable(cfg *Config, pa, pb model.ASPath) bool {
	if cfg.AlwaysCompareMED {
		return true
	}
	if pa.IsEmpty() && pb.IsEmpty() {
		return true
	}
	if pa.Length() == 0 && pb.Length() == 0 {
		// both confined to the confederation
		return cfg.ConfedMED
	}
	asA, okA := pa.LeftmostAS()
	asB, okB := pb.LeftmostAS()
	return okA && okB && asA == asB
}

func med(cfg *Config, ri *rib.RouteInfo) uint32 {
	attrs := ri.Attrs()
	if !attrs.HasMED || ri.Peer.Flags.IgnoreReceivedMED {
		if cfg.MissingMEDAsWorst {
			return math.MaxUint32
		}
		return 0
	}
	return attrs.MED
}

func compareMED(cfg *Config, a, b *rib.RouteInfo) int {
	if !medComparable(cfg, a.Attrs().ASPath, b.Attrs().ASPath) {
		return 0
	}
	return compareUint(med(cfg, a), med(cfg, b), false)
}

func peerTypeRank(ri *rib.RouteInfo) uint32 {
	if ri.Peer.Type == peer.External || ri.Peer.Type == peer.Local {
		return 1
	}
	return 0
}

func comparePeerType(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(peerTypeRank(a), peerTypeRank(b), true)
}

func compareIGPMetric(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(a.IGPMetric, b.IGPMetric, false)
}

// multipathEligible checks the conditions (besides equal cost) under which
// two paths may be installed together.
func multipathEligible(a, b *rib.RouteInfo) bool {
	if a.Peer.Type != b.Peer.Type {
		return false
	}
	pa, pb := a.Attrs().ASPath, b.Attrs().ASPath
	asA, okA := pa.LeftmostAS()
	asB, okB := pb.LeftmostAS()
	if okA != okB || asA != asB {
		return false
	}
	confedA, okA := pa.LeftmostConfedAS()
	confedB, okB := pb.LeftmostConfedAS()
	return okA == okB && confedA == confedB
}

// compareAge prefers the older of two eBGP paths unless router-ids are
// to be compared.
func compareAge(cfg *Config, a, b *rib.RouteInfo) int {
	if cfg.CompareRouterID || a.Peer.Type != peer.External || b.Peer.Type != peer.External {
		return 0
	}
	switch {
	case a.Uptime.Before(b.Uptime):
		return 1
	case b.Uptime.Before(a.Uptime):
		return -1
	}
	return 0
}

// tieBreakID returns the identifier compared by the router-id step.
func tieBreakID(cfg *Config, ri *rib.RouteInfo) net.IP {
	if attrs := ri.Attrs(); cfg.OriginatorIDTieBreak && attrs.OriginatorID != nil {
		return attrs.OriginatorID
	}
	if cfg.RouterIDTieBreak {
		return ri.Peer.RouterID
	}
	return nil
}

func compareRouterID(cfg *Config, a, b *rib.RouteInfo) int {
	idA, idB := tieBreakID(cfg, a), tieBreakID(cfg, b)
	if idA == nil || idB == nil {
		return 0
	}
	return -model.CompareIP(idA, idB)
}

func compareClusterList(cfg *Config, a, b *rib.RouteInfo) int {
	return compareUint(uint32(len(a.Attrs().ClusterList)), uint32(len(b.Attrs().ClusterList)), false)
}

func comparePeerAddress(cfg *Config, a, b *rib.RouteInfo) int {
	return -model.CompareIP(a.Peer.Address, b.Peer.Address)
}
