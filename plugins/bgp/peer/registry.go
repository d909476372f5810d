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

package peer

import (
	"net"
	"sort"

	"github.com/contiv/bgpd/plugins/bgp/model"
)

// Registry keeps all configured peers plus the local pseudo-peer.
type Registry struct {
	self  *Peer
	peers map[string]*Peer
}

// NewRegistry creates a registry with the local pseudo-peer for the
// speaker identified by <localAS> and <routerID>.
func NewRegistry(localAS uint32, routerID net.IP) *Registry {
	self := NewPeer(net.IPv4zero, localAS, localAS, routerID, Local)
	self.established = true
	return &Registry{
		self:  self,
		peers: make(map[string]*Peer),
	}
}

// Self returns the pseudo-peer used as the source of locally originated
// and redistributed routes.
func (r *Registry) Self() *Peer {
	return r.self
}

// Add registers a peer, replacing any previous peer with the same address.
func (r *Registry) Add(p *Peer) {
	r.peers[p.Key()] = p
}

// Remove unregisters the peer with the given address.
func (r *Registry) Remove(address net.IP) (removed *Peer, found bool) {
	key := address.String()
	removed, found = r.peers[key]
	delete(r.peers, key)
	return removed, found
}

// Get looks up a peer by its session address.
func (r *Registry) Get(address net.IP) (p *Peer, found bool) {
	p, found = r.peers[address.String()]
	return p, found
}

// All returns all peers ordered by address.
func (r *Registry) All() []*Peer {
	var all []*Peer
	for _, p := range r.peers {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		return model.CompareIP(all[i].Address, all[j].Address) < 0
	})
	return all
}

// Established returns peers in the Established state that negotiated the
// family, ordered by address.
func (r *Registry) Established(family model.Family) []*Peer {
	var established []*Peer
	for _, p := range r.All() {
		if p.Negotiated(family) {
			established = append(established, p)
		}
	}
	return established
}
