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

package disseminate

import (
	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/adjrib"
	"github.com/contiv/bgpd/plugins/bgp/export"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// Strategy turns decisions into adjacency updates for one peer.
type Strategy interface {
	// Update announces <best> to <p> or withdraws <dest> from it.
	Update(p *peer.Peer, dest *rib.Destination, best *rib.RouteInfo)
	// SetEndOfRIB schedules the End-of-RIB marker behind everything
	// scheduled so far.
	SetEndOfRIB(p *peer.Peer, family model.Family)
	// Prepare is called right before the queues of the peer are drained.
	Prepare(p *peer.Peer, family model.Family)
	// PeerDown drops all state kept for the peer.
	PeerDown(p *peer.Peer)
}

// Direct evaluates export eligibility at decision time and updates the
// adjacency store immediately.
type Direct struct {
	log    logging.Logger
	store  *adjrib.Store
	export *export.Evaluator
}

// NewDirect creates the direct strategy.
func NewDirect(log logging.Logger, store *adjrib.Store, evaluator *export.Evaluator) *Direct {
	return &Direct{log: log, store: store, export: evaluator}
}

// Update implements Strategy.
func (s *Direct) Update(p *peer.Peer, dest *rib.Destination, best *rib.RouteInfo) {
	apply(s.store, s.export, p, dest, best)
}

// SetEndOfRIB implements Strategy.
func (s *Direct) SetEndOfRIB(p *peer.Peer, family model.Family) {
	s.store.SetEndOfRIB(p, family)
}

// Prepare implements Strategy; the direct strategy has nothing staged.
func (s *Direct) Prepare(p *peer.Peer, family model.Family) {}

// PeerDown implements Strategy.
func (s *Direct) PeerDown(p *peer.Peer) {
	s.store.ClearPeer(p)
}

// apply converts a decision into set/unset of the adjacency.
func apply(store *adjrib.Store, evaluator *export.Evaluator, p *peer.Peer, dest *rib.Destination,
	best *rib.RouteInfo) (announced bool) {

	if best != nil {
		if attrs, permit := evaluator.Evaluate(p, best); permit {
			store.SetAdjacency(p, dest, attrs, best.Peer)
			return true
		}
	}
	var source *peer.Peer
	if best != nil {
		source = best.Peer
	}
	store.UnsetAdjacency(p, dest, source)
	return false
}

// Dispatcher picks the strategy per peer (queued for peers flagged
// QueuedAdjOut, direct otherwise) and drains peer queues.
type Dispatcher struct {
	log    logging.Logger
	store  *adjrib.Store
	direct *Direct
	queued *Queued
}

// NewDispatcher creates a dispatcher with both strategies over one store.
func NewDispatcher(log logging.Logger, store *adjrib.Store, evaluator *export.Evaluator) *Dispatcher {
	return &Dispatcher{
		log:    log,
		store:  store,
		direct: NewDirect(log, store, evaluator),
		queued: NewQueued(log, store, evaluator),
	}
}

// Store returns the adjacency store.
func (d *Dispatcher) Store() *adjrib.Store {
	return d.store
}

func (d *Dispatcher) strategy(p *peer.Peer) Strategy {
	if p.Flags.QueuedAdjOut {
		return d.queued
	}
	return d.direct
}

// Update implements decision.Disseminator.
func (d *Dispatcher) Update(p *peer.Peer, dest *rib.Destination, best *rib.RouteInfo) {
	d.strategy(p).Update(p, dest, best)
}

// SetEndOfRIB schedules the End-of-RIB marker for the peer.
func (d *Dispatcher) SetEndOfRIB(p *peer.Peer, family model.Family) {
	d.strategy(p).SetEndOfRIB(p, family)
}

// PeerDown drops all outbound state of the peer (both strategies, so a
// flag change while the peer was up leaves nothing behind).
func (d *Dispatcher) PeerDown(p *peer.Peer) {
	d.queued.PeerDown(p)
	d.direct.PeerDown(p)
}

// Flush drains the given FIFOs of the peer queue into <fn>, packing at most
// <max> prefixes per batch. Returns the number of drained entries.
func (d *Dispatcher) Flush(p *peer.Peer, family model.Family, kinds []adjrib.QueueKind, max int,
	fn func(batch adjrib.UpdateBatch)) (drained int) {

	d.strategy(p).Prepare(p, family)
	q, exists := d.store.Lookup(p, family)
	if !exists {
		return 0
	}
	for _, kind := range kinds {
		drained += q.Drain(kind, max, fn)
	}
	if drained > 0 {
		d.log.Debugf("Drained %d advertisements of %s/%s", drained, p, family)
	}
	return drained
}

// Staged returns the number of destinations staged by the queued strategy.
func (d *Dispatcher) Staged(p *peer.Peer, family model.Family) int {
	return d.queued.Staged(p, family)
}
