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

	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/attrintern"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// QueueKind selects one of the four FIFOs of a peer queue.
type QueueKind int

const (
	// ReachRelay holds announcements of routes relayed from other peers.
	ReachRelay QueueKind = iota
	// UnreachRelay holds withdrawals of routes relayed from other peers.
	UnreachRelay
	// ReachOrigin holds announcements of routes originated by the speaker.
	ReachOrigin
	// UnreachOrigin holds withdrawals of routes originated by the speaker.
	UnreachOrigin

	numQueues
)

// String returns the FIFO name.
func (k QueueKind) String() string {
	switch k {
	case ReachRelay:
		return "reach-relay"
	case UnreachRelay:
		return "unreach-relay"
	case ReachOrigin:
		return "reach-origin"
	case UnreachOrigin:
		return "unreach-origin"
	}
	return "unknown"
}

// IsWithdraw returns true for the unreach FIFOs.
func (k QueueKind) IsWithdraw() bool {
	return k == UnreachRelay || k == UnreachOrigin
}

// IsOrigin returns true for the FIFOs paced by the AS-origination timer.
func (k QueueKind) IsOrigin() bool {
	return k == ReachOrigin || k == UnreachOrigin
}

// RelayQueues are drained by the route-advertisement-interval timer.
var RelayQueues = []QueueKind{UnreachRelay, ReachRelay}

// OriginQueues are drained by the AS-origination-interval timer.
var OriginQueues = []QueueKind{UnreachOrigin, ReachOrigin}

// AdjKind tags the variant of an AdjOut record.
type AdjKind int

const (
	// AdjNormal describes the outbound state of one destination.
	AdjNormal AdjKind = iota
	// AdjEndOfRIB is the End-of-RIB marker; it has no destination and is
	// freed as soon as its entry is cleaned or drained.
	AdjEndOfRIB
)

// AdjOut is the last confirmed outbound state of one destination for one
// peer plus a reference to the pending advertisement, if any.
// A normal AdjOut pins its destination for its whole life.
type AdjOut struct {
	kind      AdjKind
	dest      *rib.Destination
	attrs     attrintern.Handle
	announcer *peer.Peer
	pending   EntryID
}

// Kind returns the variant of the record.
func (adj *AdjOut) Kind() AdjKind {
	return adj.kind
}

// Dest returns the destination (nil for the End-of-RIB marker).
func (adj *AdjOut) Dest() *rib.Destination {
	return adj.dest
}

// Advertised returns the confirmed attributes, nil if nothing was sent yet.
func (adj *AdjOut) Advertised() *model.PathAttributes {
	return adj.attrs.Attrs()
}

// Announcer returns the source of the latest announcement.
func (adj *AdjOut) Announcer() *peer.Peer {
	return adj.announcer
}

// HasPending returns true if an advertisement is waiting in a FIFO.
func (adj *AdjOut) HasPending() bool {
	return !adj.pending.IsNil()
}

// AttributeGroup collects the pending announcements of a peer queue that
// share identical post-policy attributes, so one UPDATE can carry them all.
type AttributeGroup struct {
	key      attrintern.Handle
	siblings list
	refs     int
}

// Attrs returns the shared attributes of the group.
func (g *AttributeGroup) Attrs() *model.PathAttributes {
	return g.key.Attrs()
}

// Refcount returns the number of entries referencing the group.
func (g *AttributeGroup) Refcount() int {
	return g.refs
}

// UpdateBatch is what the encoder turns into one UPDATE message.
type UpdateBatch struct {
	Peer     *peer.Peer
	Family   model.Family
	Queue    QueueKind
	Attrs    *model.PathAttributes
	Prefixes []*net.IPNet
	EndOfRIB bool
}

// PeerQueue holds the outbound state of one peer for one address family.
type PeerQueue struct {
	log    logging.Logger
	attrs  *attrintern.Table
	peer   *peer.Peer
	family model.Family

	arena  arena
	fifos  [numQueues]list
	groups map[attrintern.Handle]*AttributeGroup
	adjs   map[*rib.Destination]*AdjOut
	eor    *AdjOut
	seq    uint64

	adjIn map[*rib.Destination]attrintern.Handle
}

func newPeerQueue(log logging.Logger, attrs *attrintern.Table, p *peer.Peer, family model.Family) *PeerQueue {
	return &PeerQueue{
		log:    log,
		attrs:  attrs,
		peer:   p,
		family: family,
		groups: make(map[attrintern.Handle]*AttributeGroup),
		adjs:   make(map[*rib.Destination]*AdjOut),
		adjIn:  make(map[*rib.Destination]attrintern.Handle),
	}
}

// Peer returns the peer the queue belongs to.
func (q *PeerQueue) Peer() *peer.Peer {
	return q.peer
}

// Family returns the address family of the queue.
func (q *PeerQueue) Family() model.Family {
	return q.family
}

// Len returns the number of pending entries in the given FIFO.
func (q *PeerQueue) Len(kind QueueKind) int {
	return q.fifos[kind].len
}

// Pending returns the total number of pending entries.
func (q *PeerQueue) Pending() int {
	return q.arena.used
}

// Groups returns the number of attribute groups.
func (q *PeerQueue) Groups() int {
	return len(q.groups)
}

// Group returns the attribute group of the pending announcement of <dest>.
func (q *PeerQueue) Group(dest *rib.Destination) *AttributeGroup {
	adj, exists := q.adjs[dest]
	if !exists || adj.pending.IsNil() {
		return nil
	}
	return q.arena.get(adj.pending).group
}

// AdjOut returns the outbound record of <dest>.
func (q *PeerQueue) AdjOut(dest *rib.Destination) (adj *AdjOut, exists bool) {
	adj, exists = q.adjs[dest]
	return adj, exists
}

// AdjOuts returns all normal outbound records ordered by prefix.
func (q *PeerQueue) AdjOuts() []*AdjOut {
	var adjs []*AdjOut
	for _, dest := range q.sortedDests() {
		adjs = append(adjs, q.adjs[dest])
	}
	return adjs
}

// SetAdjacency schedules the announcement of <dest> with post-policy
// attributes <attrs> learned from <source>. Returns true if the peer wants
// relayed routes sent immediately (advertisement interval zero).
func (q *PeerQueue) SetAdjacency(dest *rib.Destination, attrs *model.PathAttributes, source *peer.Peer) (immediate bool) {
	adj, exists := q.adjs[dest]
	if exists {
		q.cleanPending(adj)
	} else {
		adj = &AdjOut{kind: AdjNormal, dest: dest}
		dest.Pin()
		q.adjs[dest] = adj
	}
	adj.announcer = source

	handle := q.attrs.Intern(attrs)
	if handle.Same(adj.attrs) {
		// the peer already has exactly this
		q.attrs.Release(handle)
		return false
	}
	group, exists := q.groups[handle]
	if !exists {
		group = &AttributeGroup{key: handle, siblings: list{sibling: true}}
		q.groups[handle] = group
	}

	kind := ReachRelay
	if source.IsLocal() {
		kind = ReachOrigin
	}
	id, e := q.alloc()
	e.adj = adj
	e.queue = kind
	e.attrs = handle
	e.group = group
	group.refs++
	group.siblings.pushBack(&q.arena, id)
	q.fifos[kind].pushBack(&q.arena, id)
	adj.pending = id

	q.log.Debugf("Queued announcement of %s to %s in %s (%d siblings)", dest, q.peer, kind, group.refs)
	return q.peer.AdvertisementInterval == 0 && !source.IsLocal()
}

// UnsetAdjacency schedules the withdrawal of <dest>. It is a no-op if
// nothing was announced or queued for the destination.
func (q *PeerQueue) UnsetAdjacency(dest *rib.Destination, source *peer.Peer) {
	adj, exists := q.adjs[dest]
	if !exists {
		return
	}
	if !adj.pending.IsNil() && q.arena.get(adj.pending).queue.IsWithdraw() {
		return
	}
	q.cleanPending(adj)
	if adj.attrs.IsNil() {
		q.freeAdj(adj)
		q.log.Debugf("Dropped unsent announcement of %s to %s", dest, q.peer)
		return
	}

	announcer := adj.announcer
	if announcer == nil {
		announcer = source
	}
	kind := UnreachRelay
	if announcer != nil && announcer.IsLocal() {
		kind = UnreachOrigin
	}
	id, e := q.alloc()
	e.adj = adj
	e.queue = kind
	q.fifos[kind].pushBack(&q.arena, id)
	adj.pending = id
	q.log.Debugf("Queued withdrawal of %s to %s in %s", dest, q.peer, kind)
}

func (q *PeerQueue) alloc() (EntryID, *entry) {
	id := q.arena.alloc()
	e := q.arena.get(id)
	q.seq++
	e.seq = q.seq
	return id, e
}

// SetEndOfRIB queues the End-of-RIB marker, replacing a pending one.
func (q *PeerQueue) SetEndOfRIB() {
	if q.eor != nil {
		q.cleanPending(q.eor)
	}
	kind := ReachRelay
	if q.fifos[ReachOrigin].len > 0 {
		kind = ReachOrigin
	}
	q.eor = &AdjOut{kind: AdjEndOfRIB}
	id, e := q.alloc()
	e.adj = q.eor
	e.queue = kind
	q.fifos[kind].pushBack(&q.arena, id)
	q.eor.pending = id
}

// Drain empties the given FIFO, calling <fn> once per batch. Announcements
// of one attribute group are packed into one batch of at most <max> prefixes
// (0 means unlimited). Returns the number of drained entries.
func (q *PeerQueue) Drain(kind QueueKind, max int, fn func(batch UpdateBatch)) (drained int) {
	fifo := &q.fifos[kind]
	for !fifo.head.IsNil() {
		id := fifo.head
		e := q.arena.get(id)
		batch := UpdateBatch{Peer: q.peer, Family: q.family, Queue: kind}

		switch {
		case e.adj.kind == AdjEndOfRIB:
			batch.EndOfRIB = true
			q.finish(id)
			drained++

		case kind.IsWithdraw():
			for !fifo.head.IsNil() && (max == 0 || len(batch.Prefixes) < max) {
				head := fifo.head
				he := q.arena.get(head)
				if he.adj.kind == AdjEndOfRIB {
					break
				}
				batch.Prefixes = append(batch.Prefixes, he.adj.dest.Prefix())
				q.finish(head)
				drained++
			}

		default:
			// siblings queued after a pending End-of-RIB stay behind it
			limit := ^uint64(0)
			if q.eor != nil && !q.eor.pending.IsNil() {
				if ee := q.arena.get(q.eor.pending); ee.queue == kind {
					limit = ee.seq
				}
			}
			group := e.group
			batch.Attrs = group.Attrs()
			for sid := group.siblings.head; !sid.IsNil() && (max == 0 || len(batch.Prefixes) < max); {
				next := group.siblings.nextOf(&q.arena, sid)
				se := q.arena.get(sid)
				if se.queue == kind && se.seq < limit {
					batch.Prefixes = append(batch.Prefixes, se.adj.dest.Prefix())
					q.finish(sid)
					drained++
				}
				sid = next
			}
		}
		fn(batch)
	}
	return drained
}

// finish completes a drained entry: announcements become the confirmed
// state, withdrawals and End-of-RIB free the record.
func (q *PeerQueue) finish(id EntryID) {
	e := q.arena.get(id)
	adj := e.adj
	switch {
	case adj.kind == AdjEndOfRIB:
		q.unlink(id)
		q.eor = nil
	case e.queue.IsWithdraw():
		q.unlink(id)
		adj.pending = EntryID{}
		q.freeAdj(adj)
	default:
		// transfer the entry's reference to the confirmed state
		handle := e.attrs
		e.attrs = attrintern.Handle{}
		q.unlink(id)
		adj.pending = EntryID{}
		if !adj.attrs.IsNil() {
			q.attrs.Release(adj.attrs)
		}
		adj.attrs = handle
	}
}

// cleanPending drops the pending entry of the record, if any. The End-of-RIB
// record is freed together with its entry.
func (q *PeerQueue) cleanPending(adj *AdjOut) {
	if adj.pending.IsNil() {
		return
	}
	q.unlink(adj.pending)
	adj.pending = EntryID{}
	if adj.kind == AdjEndOfRIB && q.eor == adj {
		q.eor = nil
	}
}

// unlink detaches the entry from its group and FIFO, releases the group and
// attribute references it holds and frees its arena slot.
func (q *PeerQueue) unlink(id EntryID) {
	e := q.arena.get(id)
	if e.group != nil {
		group := e.group
		group.siblings.remove(&q.arena, id)
		group.refs--
		if group.refs == 0 {
			delete(q.groups, group.key)
		}
		e.group = nil
	}
	if !e.attrs.IsNil() {
		q.attrs.Release(e.attrs)
		e.attrs = attrintern.Handle{}
	}
	q.fifos[e.queue].remove(&q.arena, id)
	q.arena.release(id)
}

func (q *PeerQueue) freeAdj(adj *AdjOut) {
	if !adj.attrs.IsNil() {
		q.attrs.Release(adj.attrs)
		adj.attrs = attrintern.Handle{}
	}
	delete(q.adjs, adj.dest)
	adj.dest.Unpin()
}

// Flush drops every pending entry and outbound record, releasing all
// references held by them.
func (q *PeerQueue) Flush() {
	for kind := range q.fifos {
		for !q.fifos[kind].head.IsNil() {
			q.cleanPending(q.arena.get(q.fifos[kind].head).adj)
		}
	}
	for _, dest := range q.sortedDests() {
		q.freeAdj(q.adjs[dest])
	}
	for dest := range q.adjIn {
		q.UnsetAdjacencyIn(dest)
	}
}

// SetAdjacencyIn stores the pre-policy attributes received for <dest>.
func (q *PeerQueue) SetAdjacencyIn(dest *rib.Destination, attrs *model.PathAttributes) {
	handle := q.attrs.Intern(attrs)
	if old, exists := q.adjIn[dest]; exists {
		q.attrs.Release(old)
	} else {
		dest.Pin()
	}
	q.adjIn[dest] = handle
}

// UnsetAdjacencyIn forgets the received attributes of <dest>.
func (q *PeerQueue) UnsetAdjacencyIn(dest *rib.Destination) {
	old, exists := q.adjIn[dest]
	if !exists {
		return
	}
	delete(q.adjIn, dest)
	q.attrs.Release(old)
	dest.Unpin()
}

// AdjacencyIn returns the received attributes of every destination,
// ordered by prefix.
func (q *PeerQueue) AdjacencyIn() (dests []*rib.Destination, attrs []*model.PathAttributes) {
	for dest := range q.adjIn {
		dests = append(dests, dest)
	}
	sortDests(dests)
	for _, dest := range dests {
		attrs = append(attrs, q.adjIn[dest].Attrs())
	}
	return dests, attrs
}

func (q *PeerQueue) sortedDests() []*rib.Destination {
	dests := make([]*rib.Destination, 0, len(q.adjs))
	for dest := range q.adjs {
		dests = append(dests, dest)
	}
	sortDests(dests)
	return dests
}
