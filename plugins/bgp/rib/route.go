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

package rib

import (
	"fmt"
	"strings"
	"time"

	"github.com/contiv/bgpd/plugins/bgp/attrintern"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
)

// RouteType tells which protocol the route came from.
type RouteType int

const (
	// TypeBGP is a route learned from a BGP peer or originated by BGP itself.
	TypeBGP RouteType = iota
	// TypeStatic is a route redistributed from static configuration.
	TypeStatic
	// TypeConnected is a route redistributed from a connected interface.
	TypeConnected
	// TypeOther is a route redistributed from another routing protocol.
	TypeOther
)

// String returns the name of the route type.
func (t RouteType) String() string {
	switch t {
	case TypeBGP:
		return "bgp"
	case TypeStatic:
		return "static"
	case TypeConnected:
		return "connected"
	case TypeOther:
		return "other"
	}
	return "unknown"
}

// SubType refines how a TypeBGP route was created.
type SubType int

const (
	// SubNormal is an ordinary route learned from a peer.
	SubNormal SubType = iota
	// SubStatic is a route originated by a network statement.
	SubStatic
	// SubAggregate is an aggregate route originated by the speaker.
	SubAggregate
	// SubRedistribute is a route imported from another protocol.
	SubRedistribute
)

// String returns the name of the route subtype.
func (s SubType) String() string {
	switch s {
	case SubNormal:
		return "normal"
	case SubStatic:
		return "static"
	case SubAggregate:
		return "aggregate"
	case SubRedistribute:
		return "redistribute"
	}
	return "unknown"
}

// Flag is a bit of RouteInfo state.
type Flag uint32

const (
	// FlagSelected marks the best path of the destination.
	FlagSelected Flag = 1 << iota
	// FlagNexthopValid marks a route with a resolvable next-hop.
	FlagNexthopValid
	// FlagAttrChanged marks a route whose attributes were replaced since the
	// last decision pass.
	FlagAttrChanged
	// FlagMultipathCandidate marks a route equal to the best path up to the
	// IGP-metric step.
	FlagMultipathCandidate
	// FlagMultipathInstalled marks a route installed as an ECMP path.
	FlagMultipathInstalled
	// FlagSynchronized marks a route synchronized with the IGP.
	FlagSynchronized
	// FlagRemoved marks a withdrawn route kept in hold-down until the
	// decision pass has disseminated the withdrawal.
	FlagRemoved
	// FlagIGPChanged marks a route whose IGP metric to the next-hop changed.
	FlagIGPChanged
	// FlagDMEDCheck marks a route already visited by the deterministic-MED pass.
	FlagDMEDCheck
	// FlagDMEDSelected marks the winner of its deterministic-MED group.
	FlagDMEDSelected
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagSelected, "selected"},
	{FlagNexthopValid, "valid"},
	{FlagAttrChanged, "attr-changed"},
	{FlagMultipathCandidate, "mp-candidate"},
	{FlagMultipathInstalled, "multipath"},
	{FlagSynchronized, "sync"},
	{FlagRemoved, "removed"},
	{FlagIGPChanged, "igp-changed"},
}

// String lists the names of the set flags.
func (f Flag) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// RouteInfo is one path to a destination received from one peer (or
// originated locally). It owns one reference to its interned attributes.
type RouteInfo struct {
	Peer    *peer.Peer
	Type    RouteType
	SubType SubType

	// IGP metric to the next-hop, supplied by nexthop tracking.
	IGPMetric uint32

	// Uptime is the time the route was received (its age).
	Uptime time.Time

	// AggregateOwner is the destination of the aggregate that suppresses
	// this route (nil if none).
	AggregateOwner *Destination
	// Suppress counts aggregates suppressing this route; a suppressed route
	// is never exported.
	Suppress int

	attrs attrintern.Handle
	flags Flag
	dest  *Destination
}

// Attrs returns the attributes of the route.
func (ri *RouteInfo) Attrs() *model.PathAttributes {
	return ri.attrs.Attrs()
}

// AttrHandle returns the interned attribute handle (without taking a reference).
func (ri *RouteInfo) AttrHandle() attrintern.Handle {
	return ri.attrs
}

// Dest returns the destination the route belongs to.
func (ri *RouteInfo) Dest() *Destination {
	return ri.dest
}

// Flags returns all flags of the route.
func (ri *RouteInfo) Flags() Flag {
	return ri.flags
}

// Has returns true if all given flags are set.
func (ri *RouteInfo) Has(flags Flag) bool {
	return ri.flags&flags == flags
}

// Set sets flags.
func (ri *RouteInfo) Set(flags Flag) {
	ri.flags |= flags
}

// Clear clears flags.
func (ri *RouteInfo) Clear(flags Flag) {
	ri.flags &^= flags
}

// IsRemoved returns true for a withdrawn route in hold-down.
func (ri *RouteInfo) IsRemoved() bool {
	return ri.Has(FlagRemoved)
}

// IsSelfOriginated returns true for routes originated by the speaker.
func (ri *RouteInfo) IsSelfOriginated() bool {
	return ri.Peer != nil && ri.Peer.IsLocal()
}

// String describes the route for logging.
func (ri *RouteInfo) String() string {
	return fmt.Sprintf("%s from %s [%s/%s] (%s) {%s}",
		ri.dest, ri.Peer, ri.Type, ri.SubType, ri.Attrs(), ri.flags)
}
