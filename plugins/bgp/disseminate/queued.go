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

type stageKey struct {
	peer   string
	family model.Family
}

// intent staged for one destination
type intent struct {
	dest     *rib.Destination
	announce bool
}

type stage struct {
	order    []*intent
	byDest   map[*rib.Destination]*intent
	endOfRIB bool
}

// Queued stages lightweight destination-only intents and re-validates them
// against the current selection and export rules just before the peer
// queues are drained. The export rules run once per intent, at drain time.
// A withdrawal staged for a destination that is exportable again by then
// is dropped.
type Queued struct {
	log    logging.Logger
	store  *adjrib.Store
	export *export.Evaluator
	stages map[stageKey]*stage
}

// NewQueued creates the queued strategy.
func NewQueued(log logging.Logger, store *adjrib.Store, evaluator *export.Evaluator) *Queued {
	return &Queued{
		log:    log,
		store:  store,
		export: evaluator,
		stages: make(map[stageKey]*stage),
	}
}

func (s *Queued) stage(p *peer.Peer, family model.Family) *stage {
	key := stageKey{peer: p.Key(), family: family}
	st, exists := s.stages[key]
	if !exists {
		st = &stage{byDest: make(map[*rib.Destination]*intent)}
		s.stages[key] = st
	}
	return st
}

// Update implements Strategy. The latest intent for a destination wins.
func (s *Queued) Update(p *peer.Peer, dest *rib.Destination, best *rib.RouteInfo) {
	st := s.stage(p, dest.Family())
	in, exists := st.byDest[dest]
	if !exists {
		dest.Pin()
		in = &intent{dest: dest}
		st.byDest[dest] = in
		st.order = append(st.order, in)
	}
	in.announce = best != nil
}

// SetEndOfRIB implements Strategy; the marker is queued after the staged
// intents at the next Prepare.
func (s *Queued) SetEndOfRIB(p *peer.Peer, family model.Family) {
	s.stage(p, family).endOfRIB = true
}

// Prepare implements Strategy.
func (s *Queued) Prepare(p *peer.Peer, family model.Family) {
	key := stageKey{peer: p.Key(), family: family}
	st, exists := s.stages[key]
	if !exists {
		return
	}
	delete(s.stages, key)

	var dropped int
	for _, in := range st.order {
		best := in.dest.Selected()
		attrs, permit := s.export.Evaluate(p, best)
		switch {
		case permit && in.announce:
			s.store.SetAdjacency(p, in.dest, attrs, best.Peer)
		case !permit:
			// withdrawn, or the new winner must not be sent to this peer
			var source *peer.Peer
			if best != nil {
				source = best.Peer
			}
			s.store.UnsetAdjacency(p, in.dest, source)
		default:
			dropped++
		}
		in.dest.Unpin()
	}
	if st.endOfRIB {
		s.store.SetEndOfRIB(p, family)
	}
	if dropped > 0 {
		s.log.Debugf("Dropped %d stale intents of %s/%s", dropped, p, family)
	}
}

// PeerDown implements Strategy.
func (s *Queued) PeerDown(p *peer.Peer) {
	for key, st := range s.stages {
		if key.peer != p.Key() {
			continue
		}
		for _, in := range st.order {
			in.dest.Unpin()
		}
		delete(s.stages, key)
	}
}

// Staged returns the number of staged intents of the peer for the family.
func (s *Queued) Staged(p *peer.Peer, family model.Family) int {
	if st, exists := s.stages[stageKey{peer: p.Key(), family: family}]; exists {
		return len(st.order)
	}
	return 0
}
