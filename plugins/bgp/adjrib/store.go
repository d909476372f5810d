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
	"bytes"
	"sort"

	"github.com/go-errors/errors"
	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/attrintern"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// ImmediateFunc is called when a peer with zero advertisement interval
// should have its relay FIFOs drained right away.
type ImmediateFunc func(p *peer.Peer, family model.Family)

type queueKey struct {
	peer   string
	family model.Family
}

// Store keeps the adjacency state and advertisement queues of all peers.
type Store struct {
	log       logging.Logger
	attrs     *attrintern.Table
	queues    map[queueKey]*PeerQueue
	immediate ImmediateFunc
}

// NewStore creates an empty store. Announced attributes are interned into
// <attrs> (the RIB attribute table). <immediate> may be nil.
func NewStore(log logging.Logger, attrs *attrintern.Table, immediate ImmediateFunc) *Store {
	return &Store{
		log:       log,
		attrs:     attrs,
		queues:    make(map[queueKey]*PeerQueue),
		immediate: immediate,
	}
}

// Queue returns the queue of the peer for the family, creating it if needed.
func (s *Store) Queue(p *peer.Peer, family model.Family) *PeerQueue {
	key := queueKey{peer: p.Key(), family: family}
	q, exists := s.queues[key]
	if !exists {
		q = newPeerQueue(s.log, s.attrs, p, family)
		s.queues[key] = q
	}
	return q
}

// Lookup returns the queue of the peer for the family without creating it.
func (s *Store) Lookup(p *peer.Peer, family model.Family) (q *PeerQueue, exists bool) {
	q, exists = s.queues[queueKey{peer: p.Key(), family: family}]
	return q, exists
}

// Queues returns all queues ordered by peer address and family.
func (s *Store) Queues() []*PeerQueue {
	var queues []*PeerQueue
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	sort.Slice(queues, func(i, j int) bool {
		if c := model.CompareIP(queues[i].peer.Address, queues[j].peer.Address); c != 0 {
			return c < 0
		}
		return queues[i].family.String() < queues[j].family.String()
	})
	return queues
}

// SetAdjacency queues the announcement of <dest> to <p>.
func (s *Store) SetAdjacency(p *peer.Peer, dest *rib.Destination, attrs *model.PathAttributes, source *peer.Peer) {
	if s.Queue(p, dest.Family()).SetAdjacency(dest, attrs, source) && s.immediate != nil {
		s.immediate(p, dest.Family())
	}
}

// UnsetAdjacency queues the withdrawal of <dest> from <p>; no-op if nothing
// was announced.
func (s *Store) UnsetAdjacency(p *peer.Peer, dest *rib.Destination, source *peer.Peer) {
	if q, exists := s.Lookup(p, dest.Family()); exists {
		q.UnsetAdjacency(dest, source)
	}
}

// AdjOut returns the outbound record of <dest> for <p>.
func (s *Store) AdjOut(p *peer.Peer, dest *rib.Destination) (*AdjOut, bool) {
	if q, exists := s.Lookup(p, dest.Family()); exists {
		return q.AdjOut(dest)
	}
	return nil, false
}

// SetEndOfRIB queues the End-of-RIB marker for the peer and family.
func (s *Store) SetEndOfRIB(p *peer.Peer, family model.Family) {
	s.Queue(p, family).SetEndOfRIB()
}

// ClearPeer flushes and removes all queues of the peer.
func (s *Store) ClearPeer(p *peer.Peer) (flushed int) {
	for key, q := range s.queues {
		if key.peer != p.Key() {
			continue
		}
		flushed += q.Pending()
		q.Flush()
		delete(s.queues, key)
	}
	if flushed > 0 {
		s.log.Debugf("Flushed %d pending advertisements of %s", flushed, p)
	}
	return flushed
}

// Pending returns the total number of pending entries of all queues.
func (s *Store) Pending() (pending int) {
	for _, q := range s.queues {
		pending += q.Pending()
	}
	return pending
}

// References returns the number of attribute references held by the store
// (pending announcements, confirmed state and adj-in).
func (s *Store) References() (refs int) {
	for _, q := range s.queues {
		for _, group := range q.groups {
			refs += group.refs
		}
		for _, adj := range q.adjs {
			if !adj.attrs.IsNil() {
				refs++
			}
		}
		refs += len(q.adjIn)
	}
	return refs
}

// Verify checks the bookkeeping invariants of all queues.
func (s *Store) Verify() error {
	for _, q := range s.Queues() {
		if err := q.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks that every group is referenced by exactly its siblings,
// that FIFOs and records agree, and that every record pins its destination.
func (q *PeerQueue) Verify() error {
	groupEntries := make(map[*AttributeGroup]int)
	total := 0
	for kind := range q.fifos {
		fifo := &q.fifos[kind]
		ids := fifo.ids(&q.arena)
		if len(ids) != fifo.len {
			return errors.Errorf("%s/%s: %s has %d linked entries, length %d",
				q.peer, q.family, QueueKind(kind), len(ids), fifo.len)
		}
		for _, id := range ids {
			e := q.arena.get(id)
			if e.queue != QueueKind(kind) {
				return errors.Errorf("%s/%s: entry in %s tagged %s", q.peer, q.family, QueueKind(kind), e.queue)
			}
			if e.adj.pending != id {
				return errors.Errorf("%s/%s: entry of %s not referenced by its record", q.peer, q.family, e.adj.dest)
			}
			if e.group != nil {
				groupEntries[e.group]++
				if !e.group.key.Same(e.attrs) {
					return errors.Errorf("%s/%s: entry of %s holds attributes of another group",
						q.peer, q.family, e.adj.dest)
				}
			}
			announce := e.adj.kind == AdjNormal && !e.queue.IsWithdraw()
			if announce == (e.group == nil) {
				return errors.Errorf("%s/%s: entry of %s in %s has wrong group", q.peer, q.family, e.adj.dest, e.queue)
			}
		}
		total += len(ids)
	}
	if total != q.arena.used {
		return errors.Errorf("%s/%s: %d entries allocated, %d queued", q.peer, q.family, q.arena.used, total)
	}
	for handle, group := range q.groups {
		if group.key != handle {
			return errors.Errorf("%s/%s: group stored under foreign key", q.peer, q.family)
		}
		if group.refs != groupEntries[group] || group.refs != group.siblings.len ||
			len(group.siblings.ids(&q.arena)) != group.refs {
			return errors.Errorf("%s/%s: group refcount %d, %d entries, %d siblings",
				q.peer, q.family, group.refs, groupEntries[group], group.siblings.len)
		}
	}
	if len(groupEntries) != len(q.groups) {
		return errors.Errorf("%s/%s: entries reference released groups", q.peer, q.family)
	}
	for dest, adj := range q.adjs {
		if adj.dest != dest || adj.kind != AdjNormal {
			return errors.Errorf("%s/%s: record of %s stored under %s", q.peer, q.family, adj.dest, dest)
		}
		if dest.Pins() == 0 || dest.Reclaimed() {
			return errors.Errorf("%s/%s: record of %s does not pin its destination", q.peer, q.family, dest)
		}
		if adj.attrs.IsNil() && adj.pending.IsNil() {
			return errors.Errorf("%s/%s: record of %s has no state", q.peer, q.family, dest)
		}
	}
	return nil
}

func sortDests(dests []*rib.Destination) {
	sort.Slice(dests, func(i, j int) bool {
		a, b := dests[i].Prefix(), dests[j].Prefix()
		if c := bytes.Compare(a.IP, b.IP); c != 0 {
			return c < 0
		}
		aLen, _ := a.Mask.Size()
		bLen, _ := b.Mask.Size()
		return aLen < bLen
	})
}
