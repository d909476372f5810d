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
	"net"

	"github.com/go-errors/errors"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
)

// Destination is one prefix of a table with the set of competing routes.
//
// A destination stays in its table while it has routes or while something
// holds a strong reference to it (Pin). Adj-out records pin the destination
// they describe so that a withdrawal can still be sent after the last route
// is gone.
type Destination struct {
	table  *Table
	prefix *net.IPNet
	key    string

	routes   []*RouteInfo
	selected *RouteInfo
	version  uint64
	pins     int

	reclaimed bool
}

// Prefix returns the destination prefix.
func (d *Destination) Prefix() *net.IPNet {
	return d.prefix
}

// Key returns the canonical prefix string.
func (d *Destination) Key() string {
	return d.key
}

// Family returns the address family of the table the destination belongs to.
func (d *Destination) Family() model.Family {
	return d.table.family
}

// Table returns the table the destination belongs to.
func (d *Destination) Table() *Table {
	return d.table
}

// String returns the prefix.
func (d *Destination) String() string {
	if d == nil {
		return "<eor>"
	}
	return d.key
}

// Routes returns the competing routes (including those in hold-down).
// The slice is owned by the destination and must not be modified.
func (d *Destination) Routes() []*RouteInfo {
	return d.routes
}

// Selected returns the current best path, nil if none.
func (d *Destination) Selected() *RouteInfo {
	return d.selected
}

// Version returns the table version at which the announced state of the
// destination last changed.
func (d *Destination) Version() uint64 {
	return d.version
}

// Pins returns the number of strong references held on the destination.
func (d *Destination) Pins() int {
	return d.pins
}

// Reclaimed returns true once the destination was dropped from its table.
func (d *Destination) Reclaimed() bool {
	return d.reclaimed
}

// Pin takes a strong reference on the destination.
func (d *Destination) Pin() {
	if d.reclaimed {
		panic(errors.Errorf("rib: pin of reclaimed destination %s", d.key))
	}
	d.pins++
}

// Unpin releases a strong reference; the destination is reclaimed when no
// routes and no references remain.
func (d *Destination) Unpin() {
	if d.pins <= 0 {
		panic(errors.Errorf("rib: unpin of destination %s with zero pins", d.key))
	}
	d.pins--
	d.table.maybeReclaim(d)
}

// Select makes <ri> the selected route (nil unselects).
func (d *Destination) Select(ri *RouteInfo) {
	if d.selected != nil {
		d.selected.Clear(FlagSelected)
	}
	d.selected = ri
	if ri != nil {
		ri.Set(FlagSelected)
	}
}

// RouteFrom returns the live (not removed) route received from <p> with
// the given type and subtype.
func (d *Destination) RouteFrom(p *peer.Peer, routeType RouteType, subType SubType) *RouteInfo {
	for _, ri := range d.routes {
		if ri.Peer == p && ri.Type == routeType && ri.SubType == subType && !ri.IsRemoved() {
			return ri
		}
	}
	return nil
}

// SelectedCount returns the number of routes flagged as selected.
func (d *Destination) SelectedCount() (count int) {
	for _, ri := range d.routes {
		if ri.Has(FlagSelected) {
			count++
		}
	}
	return count
}
