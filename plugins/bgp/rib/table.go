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
	"bytes"
	"net"
	"sort"
	"time"

	"github.com/go-errors/errors"

	"github.com/contiv/bgpd/plugins/bgp/attrintern"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
)

// Table is the Loc-RIB of one address family.
type Table struct {
	family  model.Family
	attrs   *attrintern.Table
	dests   map[string]*Destination
	version uint64
}

// RIB groups the per-family tables sharing one attribute intern table.
type RIB struct {
	attrs  *attrintern.Table
	tables map[model.Family]*Table
}

// NewRIB creates a RIB with an (empty) table for every supported family.
func NewRIB() *RIB {
	rib := &RIB{
		attrs:  attrintern.NewTable("rib"),
		tables: make(map[model.Family]*Table),
	}
	for _, family := range model.Families {
		rib.tables[family] = newTable(family, rib.attrs)
	}
	return rib
}

// Attrs returns the intern table shared by all families.
func (r *RIB) Attrs() *attrintern.Table {
	return r.attrs
}

// Table returns the table of the family, nil if the family is not supported.
func (r *RIB) Table(family model.Family) *Table {
	return r.tables[family]
}

// Tables returns all tables in the order of model.Families.
func (r *RIB) Tables() []*Table {
	var tables []*Table
	for _, family := range model.Families {
		tables = append(tables, r.tables[family])
	}
	return tables
}

func newTable(family model.Family, attrs *attrintern.Table) *Table {
	return &Table{
		family: family,
		attrs:  attrs,
		dests:  make(map[string]*Destination),
	}
}

// NewTable creates a standalone table with its own intern table.
func NewTable(family model.Family) *Table {
	return newTable(family, attrintern.NewTable(family.String()))
}

// Family returns the address family of the table.
func (t *Table) Family() model.Family {
	return t.family
}

// Attrs returns the intern table used for route attributes.
func (t *Table) Attrs() *attrintern.Table {
	return t.attrs
}

// Version returns the current table version.
func (t *Table) Version() uint64 {
	return t.version
}

// Len returns the number of destinations.
func (t *Table) Len() int {
	return len(t.dests)
}

// RouteCount returns the number of routes in the table (including hold-down).
func (t *Table) RouteCount() (count int) {
	for _, d := range t.dests {
		count += len(d.routes)
	}
	return count
}

// Lookup finds the destination for the prefix.
func (t *Table) Lookup(prefix *net.IPNet) (dest *Destination, found bool) {
	dest, found = t.dests[model.PrefixKey(prefix)]
	return dest, found
}

// Get returns the destination for the prefix, creating it if needed.
func (t *Table) Get(prefix *net.IPNet) *Destination {
	key := model.PrefixKey(prefix)
	if dest, found := t.dests[key]; found {
		return dest
	}
	dest := &Destination{
		table:  t,
		prefix: &net.IPNet{IP: prefix.IP.Mask(prefix.Mask), Mask: prefix.Mask},
		key:    key,
	}
	t.dests[key] = dest
	return dest
}

// AddRoute adds a new route to the destination. The table takes ownership
// of the reference held by <attrs>.
func (t *Table) AddRoute(dest *Destination, from *peer.Peer, routeType RouteType, subType SubType,
	attrs attrintern.Handle, now time.Time) *RouteInfo {

	t.checkDest(dest)
	ri := &RouteInfo{
		Peer:    from,
		Type:    routeType,
		SubType: subType,
		Uptime:  now,
		attrs:   attrs,
		flags:   FlagNexthopValid | FlagSynchronized | FlagAttrChanged,
		dest:    dest,
	}
	dest.routes = append(dest.routes, ri)
	return ri
}

// ReplaceAttrs swaps the attributes of a route, releasing the old reference
// and taking ownership of <attrs>. Returns false (and releases <attrs>) if
// the attributes are unchanged.
func (t *Table) ReplaceAttrs(ri *RouteInfo, attrs attrintern.Handle) bool {
	if ri.attrs.Same(attrs) {
		t.attrs.Release(attrs)
		return false
	}
	old := ri.attrs
	ri.attrs = attrs
	ri.Set(FlagAttrChanged)
	t.attrs.Release(old)
	return true
}

// MarkRemoved puts the route into hold-down. The route stays in the
// destination until the decision process ran and Reap is called.
func (t *Table) MarkRemoved(ri *RouteInfo) {
	ri.Set(FlagRemoved)
}

// Reap drops all routes in hold-down from the destination (releasing their
// attributes) and reclaims the destination if it became unused.
func (t *Table) Reap(dest *Destination) {
	kept := dest.routes[:0]
	for _, ri := range dest.routes {
		if !ri.IsRemoved() {
			kept = append(kept, ri)
			continue
		}
		if dest.selected == ri {
			panic(errors.Errorf("rib: reap of selected route %s", ri))
		}
		t.attrs.Release(ri.attrs)
		ri.attrs = attrintern.Handle{}
	}
	for i := len(kept); i < len(dest.routes); i++ {
		dest.routes[i] = nil
	}
	dest.routes = kept
	t.maybeReclaim(dest)
}

// BumpVersion increments the table version and stamps the destination with it.
func (t *Table) BumpVersion(dest *Destination) uint64 {
	t.version++
	dest.version = t.version
	return t.version
}

// Walk visits destinations in prefix order until <fn> returns false.
// The callback must not add or reclaim destinations.
func (t *Table) Walk(fn func(dest *Destination) bool) {
	for _, dest := range t.Sorted() {
		if !fn(dest) {
			return
		}
	}
}

// Sorted returns the destinations ordered by network address and then by
// prefix length.
func (t *Table) Sorted() []*Destination {
	dests := make([]*Destination, 0, len(t.dests))
	for _, dest := range t.dests {
		dests = append(dests, dest)
	}
	sort.Slice(dests, func(i, j int) bool {
		return lessPrefix(dests[i].prefix, dests[j].prefix)
	})
	return dests
}

func lessPrefix(a, b *net.IPNet) bool {
	if c := bytes.Compare(a.IP, b.IP); c != 0 {
		return c < 0
	}
	aLen, _ := a.Mask.Size()
	bLen, _ := b.Mask.Size()
	return aLen < bLen
}

func (t *Table) maybeReclaim(dest *Destination) {
	if dest.reclaimed || len(dest.routes) > 0 || dest.pins > 0 {
		return
	}
	dest.reclaimed = true
	if t.dests[dest.key] == dest {
		delete(t.dests, dest.key)
	}
}

func (t *Table) checkDest(dest *Destination) {
	if dest.table != t {
		panic(errors.Errorf("rib: destination %s does not belong to table %s", dest.key, t.family))
	}
	if dest.reclaimed {
		panic(errors.Errorf("rib: use of reclaimed destination %s", dest.key))
	}
}
