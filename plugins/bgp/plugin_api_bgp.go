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

package bgp

import (
	"fmt"
	"net"
	"strings"

	"github.com/contiv/bgpd/plugins/bgp/adjrib"
	"github.com/contiv/bgpd/plugins/bgp/export"
	"github.com/contiv/bgpd/plugins/bgp/instance"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// API of the BGP plugin, used by the session layer.
type API interface {
	// PushEvent adds the given event into the queue of the BGP event loop.
	// Events created by the New* constructors can be waited for with Wait().
	PushEvent(event Event) error

	// SetUpdateSender registers the encoder of drained advertisements.
	SetUpdateSender(sender UpdateSender)

	// SetImportPolicy replaces the policy applied to received routes.
	SetImportPolicy(policy export.Policy) error

	// SetExportPolicy replaces the policy applied to advertised routes.
	SetExportPolicy(policy export.Policy) error
}

// UpdateSender turns drained batches into UPDATE messages.
// It is called from within the event loop and must not block on it.
type UpdateSender interface {
	SendUpdate(batch adjrib.UpdateBatch)
}

// Event is processed by the BGP event loop.
type Event interface {
	// GetName returns a short, human-readable name of the event.
	GetName() string

	// String returns a human-readable description of the event.
	String() string

	// IsBlocking returns true if the producer may wait for the event
	// to be processed.
	IsBlocking() bool

	// Done is called by the event loop when the event was processed.
	Done(error)
}

// eventResult delivers the result of event processing to the producer.
type eventResult struct {
	result chan error
}

func newEventResult() eventResult {
	return eventResult{result: make(chan error, 1)}
}

// IsBlocking returns true.
func (r eventResult) IsBlocking() bool {
	return true
}

// Done propagates the result to Wait.
func (r eventResult) Done(err error) {
	select {
	case r.result <- err:
	default:
	}
}

// Wait waits for the event to be processed and returns the result.
func (r eventResult) Wait() error {
	return <-r.result
}

// PeerAdd configures a new neighbor.
type PeerAdd struct {
	eventResult
	Peer PeerConfig
}

// NewPeerAddEvent is a constructor for PeerAdd event.
func NewPeerAddEvent(peer PeerConfig) *PeerAdd {
	return &PeerAdd{eventResult: newEventResult(), Peer: peer}
}

// GetName returns name of the PeerAdd event.
func (ev *PeerAdd) GetName() string {
	return "Peer Add"
}

// String describes PeerAdd event.
func (ev *PeerAdd) String() string {
	return fmt.Sprintf("%s\n"+
		"* address: %s\n"+
		"* remote-as: %d",
		ev.GetName(), ev.Peer.Address, ev.Peer.RemoteAS)
}

// PeerRemove removes a neighbor.
type PeerRemove struct {
	eventResult
	Address net.IP
}

// NewPeerRemoveEvent is a constructor for PeerRemove event.
func NewPeerRemoveEvent(address net.IP) *PeerRemove {
	return &PeerRemove{eventResult: newEventResult(), Address: address}
}

// GetName returns name of the PeerRemove event.
func (ev *PeerRemove) GetName() string {
	return "Peer Remove"
}

// String describes PeerRemove event.
func (ev *PeerRemove) String() string {
	return fmt.Sprintf("%s\n* address: %s", ev.GetName(), ev.Address)
}

// PeerUp is sent by the session layer when a session reaches Established.
type PeerUp struct {
	eventResult
	Address net.IP
	// RouterID learned from the OPEN message (optional).
	RouterID net.IP
	Families []model.Family
}

// NewPeerUpEvent is a constructor for PeerUp event.
func NewPeerUpEvent(address, routerID net.IP, families ...model.Family) *PeerUp {
	return &PeerUp{eventResult: newEventResult(), Address: address, RouterID: routerID, Families: families}
}

// GetName returns name of the PeerUp event.
func (ev *PeerUp) GetName() string {
	return "Peer Up"
}

// String describes PeerUp event.
func (ev *PeerUp) String() string {
	return fmt.Sprintf("%s\n"+
		"* address: %s\n"+
		"* router-id: %s\n"+
		"* families: %s",
		ev.GetName(), ev.Address, ev.RouterID, familiesToStr(ev.Families))
}

// PeerDown is sent by the session layer when an Established session is lost.
type PeerDown struct {
	eventResult
	Address net.IP
}

// NewPeerDownEvent is a constructor for PeerDown event.
func NewPeerDownEvent(address net.IP) *PeerDown {
	return &PeerDown{eventResult: newEventResult(), Address: address}
}

// GetName returns name of the PeerDown event.
func (ev *PeerDown) GetName() string {
	return "Peer Down"
}

// String describes PeerDown event.
func (ev *PeerDown) String() string {
	return fmt.Sprintf("%s\n* address: %s", ev.GetName(), ev.Address)
}

// RouteUpdate carries one prefix of a received UPDATE message.
// Attributes are nil for withdrawn prefixes.
type RouteUpdate struct {
	eventResult
	Peer   net.IP
	Family model.Family
	Prefix *net.IPNet
	Attrs  *model.PathAttributes
}

// NewRouteUpdateEvent is a constructor for RouteUpdate event announcing <prefix>.
func NewRouteUpdateEvent(peer net.IP, family model.Family, prefix *net.IPNet, attrs *model.PathAttributes) *RouteUpdate {
	return &RouteUpdate{eventResult: newEventResult(), Peer: peer, Family: family, Prefix: prefix, Attrs: attrs}
}

// NewRouteWithdrawEvent is a constructor for RouteUpdate event withdrawing <prefix>.
func NewRouteWithdrawEvent(peer net.IP, family model.Family, prefix *net.IPNet) *RouteUpdate {
	return &RouteUpdate{eventResult: newEventResult(), Peer: peer, Family: family, Prefix: prefix}
}

// IsWithdraw returns true if the prefix is withdrawn.
func (ev *RouteUpdate) IsWithdraw() bool {
	return ev.Attrs == nil
}

// GetName returns name of the RouteUpdate event.
func (ev *RouteUpdate) GetName() string {
	if ev.IsWithdraw() {
		return "Route Withdraw"
	}
	return "Route Update"
}

// String describes RouteUpdate event.
func (ev *RouteUpdate) String() string {
	str := fmt.Sprintf("%s\n"+
		"* peer: %s\n"+
		"* family: %s\n"+
		"* prefix: %s",
		ev.GetName(), ev.Peer, ev.Family, ev.Prefix)
	if !ev.IsWithdraw() {
		str += fmt.Sprintf("\n* attributes: %s", ev.Attrs)
	}
	return str
}

// Redistribution imports (or withdraws) a route of another routing source.
type Redistribution struct {
	eventResult
	Family   model.Family
	Prefix   *net.IPNet
	Nexthop  net.IP
	Type     rib.RouteType
	Metric   uint32
	Withdraw bool
}

// NewRedistributionEvent is a constructor for Redistribution event.
func NewRedistributionEvent(family model.Family, prefix *net.IPNet, nexthop net.IP,
	routeType rib.RouteType, metric uint32) *Redistribution {
	return &Redistribution{
		eventResult: newEventResult(),
		Family:      family,
		Prefix:      prefix,
		Nexthop:     nexthop,
		Type:        routeType,
		Metric:      metric,
	}
}

// NewRedistributionWithdrawEvent is a constructor for Redistribution event
// removing a previously redistributed route.
func NewRedistributionWithdrawEvent(family model.Family, prefix *net.IPNet, routeType rib.RouteType) *Redistribution {
	return &Redistribution{
		eventResult: newEventResult(),
		Family:      family,
		Prefix:      prefix,
		Type:        routeType,
		Withdraw:    true,
	}
}

// GetName returns name of the Redistribution event.
func (ev *Redistribution) GetName() string {
	return "Redistribution"
}

// String describes Redistribution event.
func (ev *Redistribution) String() string {
	action := "add"
	if ev.Withdraw {
		action = "withdraw"
	}
	return fmt.Sprintf("%s\n"+
		"* action: %s\n"+
		"* type: %s\n"+
		"* prefix: %s\n"+
		"* next-hop: %s\n"+
		"* metric: %d",
		ev.GetName(), action, ev.Type, ev.Prefix, ev.Nexthop, ev.Metric)
}

// NexthopChange reports reachability of a next-hop through the IGP.
type NexthopChange struct {
	eventResult
	Nexthop net.IP
	Valid   bool
	Metric  uint32
}

// NewNexthopChangeEvent is a constructor for NexthopChange event.
func NewNexthopChangeEvent(nexthop net.IP, valid bool, metric uint32) *NexthopChange {
	return &NexthopChange{eventResult: newEventResult(), Nexthop: nexthop, Valid: valid, Metric: metric}
}

// GetName returns name of the NexthopChange event.
func (ev *NexthopChange) GetName() string {
	return "Nexthop Change"
}

// String describes NexthopChange event.
func (ev *NexthopChange) String() string {
	return fmt.Sprintf("%s\n"+
		"* next-hop: %s\n"+
		"* valid: %t\n"+
		"* metric: %d",
		ev.GetName(), ev.Nexthop, ev.Valid, ev.Metric)
}

// SoftReconfig re-runs the import (inbound) or the export (outbound)
// processing for a peer without resetting the session.
type SoftReconfig struct {
	eventResult
	Peer    net.IP
	Family  model.Family
	Inbound bool
}

// NewSoftReconfigEvent is a constructor for SoftReconfig event.
// <family> is used only for inbound reconfiguration.
func NewSoftReconfigEvent(peer net.IP, family model.Family, inbound bool) *SoftReconfig {
	return &SoftReconfig{eventResult: newEventResult(), Peer: peer, Family: family, Inbound: inbound}
}

// GetName returns name of the SoftReconfig event.
func (ev *SoftReconfig) GetName() string {
	if ev.Inbound {
		return "Soft Reconfiguration Inbound"
	}
	return "Soft Reconfiguration Outbound"
}

// String describes SoftReconfig event.
func (ev *SoftReconfig) String() string {
	return fmt.Sprintf("%s\n"+
		"* peer: %s\n"+
		"* family: %s",
		ev.GetName(), ev.Peer, ev.Family)
}

// MaxPathsChange changes the number of installed ECMP paths.
type MaxPathsChange struct {
	eventResult
	EBGP int
	IBGP int
}

// NewMaxPathsChangeEvent is a constructor for MaxPathsChange event.
func NewMaxPathsChangeEvent(ebgp, ibgp int) *MaxPathsChange {
	return &MaxPathsChange{eventResult: newEventResult(), EBGP: ebgp, IBGP: ibgp}
}

// GetName returns name of the MaxPathsChange event.
func (ev *MaxPathsChange) GetName() string {
	return "Max-Paths Change"
}

// String describes MaxPathsChange event.
func (ev *MaxPathsChange) String() string {
	return fmt.Sprintf("%s\n"+
		"* ebgp: %d\n"+
		"* ibgp: %d",
		ev.GetName(), ev.EBGP, ev.IBGP)
}

// AggregateChange adds or removes an aggregate-address.
type AggregateChange struct {
	eventResult
	Prefix      *net.IPNet
	SummaryOnly bool
	Remove      bool
}

// NewAggregateChangeEvent is a constructor for AggregateChange event.
func NewAggregateChangeEvent(prefix *net.IPNet, summaryOnly, remove bool) *AggregateChange {
	return &AggregateChange{eventResult: newEventResult(), Prefix: prefix, SummaryOnly: summaryOnly, Remove: remove}
}

// GetName returns name of the AggregateChange event.
func (ev *AggregateChange) GetName() string {
	return "Aggregate Change"
}

// String describes AggregateChange event.
func (ev *AggregateChange) String() string {
	return fmt.Sprintf("%s\n"+
		"* prefix: %s\n"+
		"* summary-only: %t\n"+
		"* remove: %t",
		ev.GetName(), ev.Prefix, ev.SummaryOnly, ev.Remove)
}

// NetworkChange starts or stops originating a prefix from the speaker.
type NetworkChange struct {
	eventResult
	Family model.Family
	Prefix *net.IPNet
	Remove bool
}

// NewNetworkChangeEvent is a constructor for NetworkChange event.
func NewNetworkChangeEvent(family model.Family, prefix *net.IPNet, remove bool) *NetworkChange {
	return &NetworkChange{eventResult: newEventResult(), Family: family, Prefix: prefix, Remove: remove}
}

// GetName returns name of the NetworkChange event.
func (ev *NetworkChange) GetName() string {
	if ev.Remove {
		return "Network Remove"
	}
	return "Network Add"
}

// String describes NetworkChange event.
func (ev *NetworkChange) String() string {
	return fmt.Sprintf("%s\n* family: %s\n* prefix: %s", ev.GetName(), ev.Family, ev.Prefix)
}

// flushEvent drains the advertisement queues of one peer and family.
type flushEvent struct {
	key timerKey
	// timer is set when the event was triggered by a pacing timer
	timer bool
}

func (ev *flushEvent) GetName() string {
	return "Flush"
}

func (ev *flushEvent) String() string {
	return fmt.Sprintf("%s\n* queues: %s", ev.GetName(), ev.key)
}

func (ev *flushEvent) IsBlocking() bool {
	return false
}

func (ev *flushEvent) Done(error) {}

// statsEvent publishes the instance counters to Prometheus.
type statsEvent struct{}

func (ev *statsEvent) GetName() string {
	return "Stats"
}

func (ev *statsEvent) String() string {
	return ev.GetName()
}

func (ev *statsEvent) IsBlocking() bool {
	return false
}

func (ev *statsEvent) Done(error) {}

// queryEvent runs <fn> inside the event loop, used to read or change the
// state on behalf of other goroutines (REST handlers, API methods).
type queryEvent struct {
	eventResult
	name     string
	readOnly bool
	fn       func(in *instance.Instance) error
}

func newQueryEvent(name string, readOnly bool, fn func(in *instance.Instance) error) *queryEvent {
	return &queryEvent{eventResult: newEventResult(), name: name, readOnly: readOnly, fn: fn}
}

func (ev *queryEvent) GetName() string {
	return ev.name
}

func (ev *queryEvent) String() string {
	return ev.name
}

// isRecorded returns false for the frequent internal events, which are
// neither printed nor kept in the event history.
func isRecorded(event Event) bool {
	switch ev := event.(type) {
	case *flushEvent, *statsEvent:
		return false
	case *queryEvent:
		return !ev.readOnly
	}
	return true
}

func familiesToStr(families []model.Family) string {
	var names []string
	for _, family := range families {
		names = append(names, family.String())
	}
	return strings.Join(names, ", ")
}
