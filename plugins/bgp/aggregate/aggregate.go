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

package aggregate

import (
	"net"
	"time"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// LocalWeight is the weight of routes originated by the speaker.
const LocalWeight = 32768

// ProcessFunc runs the decision process for a destination.
type ProcessFunc func(dest *rib.Destination) bool

// Aggregate is one configured aggregate-address.
type Aggregate struct {
	Family      model.Family
	Prefix      *net.IPNet
	SummaryOnly bool

	route      *rib.RouteInfo
	suppressed map[*rib.RouteInfo]bool
	dirty      bool
}

// Active returns true while the aggregate route is originated.
func (agg *Aggregate) Active() bool {
	return agg.route != nil
}

// Suppressed returns the number of more specific routes suppressed by the aggregate.
func (agg *Aggregate) Suppressed() int {
	return len(agg.suppressed)
}

// covers returns true if <prefix> is a strictly more specific prefix of the aggregate.
func (agg *Aggregate) covers(prefix *net.IPNet) bool {
	aggLen, _ := agg.Prefix.Mask.Size()
	prefixLen, _ := prefix.Mask.Size()
	if prefixLen <= aggLen || len(prefix.IP) != len(agg.Prefix.IP) {
		return false
	}
	first, last := cidr.AddressRange(prefix)
	return agg.Prefix.Contains(first) && agg.Prefix.Contains(last)
}

// Aggregator originates aggregate routes while more specific routes exist
// and suppresses the more specifics of summary-only aggregates.
type Aggregator struct {
	log        logging.Logger
	rib        *rib.RIB
	self       *peer.Peer
	aggregates []*Aggregate
	process    ProcessFunc
	now        func() time.Time
}

// NewAggregator creates an aggregator originating routes from <self>.
func NewAggregator(log logging.Logger, r *rib.RIB, self *peer.Peer, process ProcessFunc) *Aggregator {
	return &Aggregator{
		log:     log,
		rib:     r,
		self:    self,
		process: process,
		now:     time.Now,
	}
}

// Aggregates returns the configured aggregates.
func (a *Aggregator) Aggregates() []*Aggregate {
	return a.aggregates
}

// Add configures a new aggregate. It is evaluated on the next Refresh.
func (a *Aggregator) Add(prefix *net.IPNet, summaryOnly bool) (*Aggregate, error) {
	family, ip, bits := model.IPv4Unicast, prefix.IP.To4(), 32
	if ip == nil {
		family, ip, bits = model.IPv6Unicast, prefix.IP.To16(), 128
	}
	if _, maskBits := prefix.Mask.Size(); ip == nil || maskBits != bits {
		return nil, errors.Errorf("invalid aggregate prefix %s", prefix)
	}
	prefix = &net.IPNet{IP: ip.Mask(prefix.Mask), Mask: prefix.Mask}
	for _, agg := range a.aggregates {
		if agg.Family == family && agg.Prefix.String() == prefix.String() {
			agg.SummaryOnly = summaryOnly
			agg.dirty = true
			return agg, nil
		}
	}
	agg := &Aggregate{
		Family:      family,
		Prefix:      prefix,
		SummaryOnly: summaryOnly,
		suppressed:  make(map[*rib.RouteInfo]bool),
		dirty:       true,
	}
	a.aggregates = append(a.aggregates, agg)
	return agg, nil
}

// Remove deletes the aggregate, withdrawing its route and releasing the
// suppressed more specifics.
func (a *Aggregator) Remove(prefix *net.IPNet) bool {
	for i, agg := range a.aggregates {
		if agg.Prefix.String() != prefix.String() {
			continue
		}
		a.aggregates = append(a.aggregates[:i], a.aggregates[i+1:]...)
		agg.SummaryOnly = false
		a.updateSuppression(agg, nil)
		a.withdraw(agg)
		return true
	}
	return false
}

// Install implements decision.Listener.
func (a *Aggregator) Install(dest *rib.Destination, best *rib.RouteInfo, multipaths []*rib.RouteInfo) {
	a.markDirty(dest)
}

// Withdraw implements decision.Listener.
func (a *Aggregator) Withdraw(dest *rib.Destination, old *rib.RouteInfo) {
	a.markDirty(dest)
}

func (a *Aggregator) markDirty(dest *rib.Destination) {
	for _, agg := range a.aggregates {
		if agg.Family == dest.Family() && agg.covers(dest.Prefix()) {
			agg.dirty = true
		}
	}
}

// Refresh re-evaluates all aggregates affected by selection changes.
func (a *Aggregator) Refresh() {
	// aggregates of aggregates may need another round
	for round := 0; round <= len(a.aggregates); round++ {
		dirty := false
		for _, agg := range a.aggregates {
			if agg.dirty {
				agg.dirty = false
				dirty = true
				a.refresh(agg)
			}
		}
		if !dirty {
			return
		}
	}
}

func (a *Aggregator) refresh(agg *Aggregate) {
	table := a.rib.Table(agg.Family)
	var contributors []*rib.RouteInfo
	table.Walk(func(dest *rib.Destination) bool {
		if best := dest.Selected(); best != nil && agg.covers(dest.Prefix()) {
			contributors = append(contributors, best)
		}
		return true
	})

	switch {
	case len(contributors) == 0:
		a.withdraw(agg)
	case agg.route == nil:
		a.originate(agg, contributors)
	default:
		a.update(agg, contributors)
	}
	if agg.SummaryOnly {
		a.updateSuppression(agg, contributors)
	} else {
		a.updateSuppression(agg, nil)
	}
}

// buildAttrs returns the attributes of the aggregate route: the worst origin of
// the more specifics.
func (a *Aggregator) buildAttrs(agg *Aggregate, contributors []*rib.RouteInfo) *model.PathAttributes {
	nexthop := net.IPv4zero
	if agg.Family.AFI == model.AFIIPv6 {
		nexthop = net.IPv6zero
	}
	attrs := &model.PathAttributes{
		Origin:          model.OriginIGP,
		NextHop:         nexthop,
		AtomicAggregate: true,
		AggregatorAS:    a.self.LocalAS,
		AggregatorAddr:  a.self.RouterID,
		Weight:          LocalWeight,
	}
	for _, ri := range contributors {
		if origin := ri.Attrs().Origin; origin > attrs.Origin {
			attrs.Origin = origin
		}
	}
	return attrs
}

func (a *Aggregator) originate(agg *Aggregate, contributors []*rib.RouteInfo) {
	table := a.rib.Table(agg.Family)
	dest := table.Get(agg.Prefix)
	handle := table.Attrs().Intern(a.buildAttrs(agg, contributors))
	agg.route = table.AddRoute(dest, a.self, rib.TypeBGP, rib.SubAggregate, handle, a.now())
	a.log.Infof("Originating aggregate %s (%d more specifics)", agg.Prefix, len(contributors))
	a.process(dest)
}

func (a *Aggregator) update(agg *Aggregate, contributors []*rib.RouteInfo) {
	table := a.rib.Table(agg.Family)
	handle := table.Attrs().Intern(a.buildAttrs(agg, contributors))
	if !table.ReplaceAttrs(agg.route, handle) {
		return
	}
	a.log.Debugf("Aggregate %s updated (%d more specifics)", agg.Prefix, len(contributors))
	a.process(agg.route.Dest())
}

func (a *Aggregator) withdraw(agg *Aggregate) {
	if agg.route == nil {
		return
	}
	route := agg.route
	agg.route = nil
	route.Dest().Table().MarkRemoved(route)
	a.log.Infof("Withdrawing aggregate %s", agg.Prefix)
	a.process(route.Dest())
}

// updateSuppression makes the suppressed set equal to <contributors>,
// re-processing every route whose suppression changed so that its
// advertisement is withdrawn or restored.
func (a *Aggregator) updateSuppression(agg *Aggregate, contributors []*rib.RouteInfo) {
	wanted := make(map[*rib.RouteInfo]bool)
	for _, ri := range contributors {
		wanted[ri] = true
	}
	var owner *rib.Destination
	if agg.route != nil {
		owner = agg.route.Dest()
	}
	var changed []*rib.RouteInfo
	for ri := range agg.suppressed {
		if wanted[ri] {
			continue
		}
		delete(agg.suppressed, ri)
		ri.Suppress--
		if ri.Suppress == 0 || (owner != nil && ri.AggregateOwner == owner) {
			ri.AggregateOwner = nil
		}
		changed = append(changed, ri)
	}
	for _, ri := range contributors {
		if agg.suppressed[ri] {
			continue
		}
		agg.suppressed[ri] = true
		ri.Suppress++
		ri.AggregateOwner = owner
		changed = append(changed, ri)
	}
	for _, ri := range changed {
		if ri.IsRemoved() || ri.Dest().Reclaimed() || ri.Dest().Selected() != ri {
			continue
		}
		ri.Set(rib.FlagAttrChanged)
		a.process(ri.Dest())
	}
}
