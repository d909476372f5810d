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
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/contiv/bgpd/plugins/bgp/model"
)

// Type classifies the BGP session.
type Type int

const (
	// External is an eBGP session.
	External Type = iota
	// Internal is an iBGP session.
	Internal
	// Confed is a session to another member AS of the confederation.
	Confed
	// Local marks the pseudo-peer representing the speaker itself.
	Local
)

// String returns the name of the session type.
func (t Type) String() string {
	switch t {
	case External:
		return "ebgp"
	case Internal:
		return "ibgp"
	case Confed:
		return "confed"
	case Local:
		return "local"
	}
	return "unknown"
}

// IsInternal returns true for sessions inside the (confederation) AS.
func (t Type) IsInternal() bool {
	return t == Internal || t == Confed
}

// Flags are the per-session knobs supplied by the session layer.
type Flags struct {
	ReflectorClient     bool `json:"reflectorClient,omitempty"`
	RouteServerClient   bool `json:"routeServerClient,omitempty"`
	NextHopSelf         bool `json:"nextHopSelf,omitempty"`
	RemovePrivateAS     bool `json:"removePrivateAS,omitempty"`
	IgnoreReceivedMED   bool `json:"ignoreReceivedMED,omitempty"`
	SuppressSentMED     bool `json:"suppressSentMED,omitempty"`
	SoftReconfigInbound bool `json:"softReconfigInbound,omitempty"`

	// QueuedAdjOut selects the queued dissemination strategy, which
	// re-validates staged destinations at drain time instead of keeping
	// full adj-out bookkeeping up to date on every decision.
	QueuedAdjOut bool `json:"queuedAdjOut,omitempty"`
}

// Peer is the routing core's read-only view of a BGP neighbor.
// It is owned by the session layer; the core only reads it.
type Peer struct {
	Address      net.IP
	// LocalAddress is the speaker's end of the session, used as next-hop-self.
	LocalAddress net.IP
	RemoteAS     uint32
	LocalAS      uint32
	RouterID     net.IP
	Type         Type
	Flags        Flags

	// pacing of outbound updates
	AdvertisementInterval time.Duration
	ASOriginationInterval time.Duration

	established bool
	families    map[model.Family]bool
	upSince     time.Time
}

// NewPeer creates a peer in the idle (not established) state.
func NewPeer(address net.IP, remoteAS, localAS uint32, routerID net.IP, peerType Type) *Peer {
	return &Peer{
		Address:  address,
		RemoteAS: remoteAS,
		LocalAS:  localAS,
		RouterID: routerID,
		Type:     peerType,
		families: make(map[model.Family]bool),
	}
}

// Key uniquely identifies the peer (by session address).
func (p *Peer) Key() string {
	if p.Type == Local {
		return "self"
	}
	return p.Address.String()
}

// String returns the peer description used in logs.
func (p *Peer) String() string {
	if p.Type == Local {
		return "self"
	}
	return fmt.Sprintf("%s(AS%d,%s)", p.Address, p.RemoteAS, p.Type)
}

// IsLocal returns true for the pseudo-peer of the speaker itself.
func (p *Peer) IsLocal() bool {
	return p.Type == Local
}

// Established returns true when the session is in the Established state.
func (p *Peer) Established() bool {
	return p.established
}

// UpSince returns the time the session was established.
func (p *Peer) UpSince() time.Time {
	return p.upSince
}

// Negotiated returns true if the family was negotiated for the session.
func (p *Peer) Negotiated(family model.Family) bool {
	return p.established && p.families[family]
}

// Families returns the negotiated families in a stable order.
func (p *Peer) Families() []model.Family {
	var families []model.Family
	for f, enabled := range p.families {
		if enabled {
			families = append(families, f)
		}
	}
	sort.Slice(families, func(i, j int) bool {
		if families[i].AFI != families[j].AFI {
			return families[i].AFI < families[j].AFI
		}
		return families[i].SAFI < families[j].SAFI
	})
	return families
}

// SetEstablished moves the peer into the Established state with the
// given set of negotiated families.
func (p *Peer) SetEstablished(families []model.Family, now time.Time) {
	p.established = true
	p.upSince = now
	p.families = make(map[model.Family]bool)
	for _, f := range families {
		p.families[f] = true
	}
}

// SetDown moves the peer out of the Established state.
func (p *Peer) SetDown() {
	p.established = false
	p.families = make(map[model.Family]bool)
}
