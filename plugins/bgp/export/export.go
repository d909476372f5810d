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

package export

import (
	"net"

	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// Policy is the route-map/filter engine applied after the built-in rules.
type Policy interface {
	// Apply returns the attributes to send to <p> for <dest> (possibly
	// modified) or permit=false to deny the advertisement. <attrs> is a
	// private copy which the policy may modify in place.
	Apply(p *peer.Peer, dest *rib.Destination, attrs *model.PathAttributes) (out *model.PathAttributes, permit bool)
}

// PermitAll is the policy used when none is configured.
type PermitAll struct{}

// Apply permits everything unchanged.
func (PermitAll) Apply(p *peer.Peer, dest *rib.Destination, attrs *model.PathAttributes) (*model.PathAttributes, bool) {
	return attrs, true
}

// Config is the speaker identity needed to rewrite outbound attributes.
type Config struct {
	LocalAS          uint32
	ConfederationID  uint32
	RouterID         net.IP
	ClusterID        net.IP
	DefaultLocalPref uint32
}

// Evaluator decides whether the selected route of a destination may be
// advertised to a peer and with which attributes.
type Evaluator struct {
	log    logging.Logger
	cfg    Config
	policy Policy
}

// NewEvaluator creates an evaluator; nil <policy> permits everything.
func NewEvaluator(log logging.Logger, cfg Config, policy Policy) *Evaluator {
	if policy == nil {
		policy = PermitAll{}
	}
	return &Evaluator{log: log, cfg: cfg, policy: policy}
}

// SetPolicy replaces the external policy.
func (ev *Evaluator) SetPolicy(policy Policy) {
	if policy == nil {
		policy = PermitAll{}
	}
	ev.policy = policy
}

// Evaluate returns the post-policy attributes of <ri> for peer <p>, or
// permit=false if the route must not be advertised (or must be withdrawn).
func (ev *Evaluator) Evaluate(p *peer.Peer, ri *rib.RouteInfo) (attrs *model.PathAttributes, permit bool) {
	if ri == nil || ri.IsRemoved() {
		return nil, false
	}
	if reason := ev.deny(p, ri); reason != "" {
		ev.log.Debugf("Not advertising %s to %s: %s", ri.Dest(), p, reason)
		return nil, false
	}
	attrs = ev.rewrite(p, ri)
	attrs, permit = ev.policy.Apply(p, ri.Dest(), attrs)
	if !permit {
		ev.log.Debugf("Not advertising %s to %s: denied by policy", ri.Dest(), p)
		return nil, false
	}
	return attrs, true
}

func (ev *Evaluator) deny(p *peer.Peer, ri *rib.RouteInfo) string {
	attrs := ri.Attrs()
	from := ri.Peer

	if from == p {
		return "announcing peer"
	}
	if ri.Suppress > 0 {
		return "suppressed by aggregate"
	}
	if !ri.Has(rib.FlagNexthopValid) {
		return "next-hop unreachable"
	}
	if attrs.HasCommunity(model.CommunityNoAdvertise) {
		return "NO_ADVERTISE"
	}
	if p.Type == peer.External && attrs.HasCommunity(model.CommunityNoExport) {
		return "NO_EXPORT"
	}
	if p.Type != peer.Internal && attrs.HasCommunity(model.CommunityNoExportSubconfed) {
		return "NO_EXPORT_SUBCONFED"
	}
	if attrs.OriginatorID != nil && p.RouterID != nil && attrs.OriginatorID.Equal(p.RouterID) {
		return "originator-id of the peer"
	}
	if from.Type == peer.Internal && p.Type == peer.Internal {
		// reflect client routes to everybody, non-client routes to clients only
		if !from.Flags.ReflectorClient && !p.Flags.ReflectorClient {
			return "iBGP split horizon"
		}
	}
	if p.Type == peer.External && attrs.ASPath.Contains(p.RemoteAS) {
		return "AS loop"
	}
	if p.Type == peer.Confed {
		if _, confed := attrs.ASPath.LeftmostConfedAS(); confed && attrs.ASPath.Contains(p.RemoteAS) {
			return "confederation loop"
		}
	}
	return ""
}

// rewrite applies the mandatory outbound attribute changes for the session type.
func (ev *Evaluator) rewrite(p *peer.Peer, ri *rib.RouteInfo) *model.PathAttributes {
	attrs := ri.Attrs().Clone()
	from := ri.Peer
	attrs.Weight = 0
	attrs.Distance = 0

	switch p.Type {
	case peer.External:
		path := attrs.ASPath
		if p.Flags.RemovePrivateAS {
			path = path.RemovePrivate()
		}
		if !p.Flags.RouteServerClient {
			path = path.Prepend(ev.externalAS())
			attrs.NextHop = ev.localAddress(p)
		} else {
			path = path.StripConfed()
		}
		attrs.ASPath = path
		attrs.LocalPref, attrs.HasLocalPref = 0, false
		attrs.OriginatorID = nil
		attrs.ClusterList = nil
		// MED of another AS is not propagated to a third one
		if !from.IsLocal() || p.Flags.SuppressSentMED {
			attrs.MED, attrs.HasMED = 0, false
		}

	case peer.Confed:
		attrs.ASPath = attrs.ASPath.PrependConfed(ev.cfg.LocalAS)
		ev.internalDefaults(p, attrs)

	case peer.Internal:
		ev.internalDefaults(p, attrs)
		if from.Type == peer.Internal {
			if attrs.OriginatorID == nil {
				attrs.OriginatorID = from.RouterID
			}
			clusterID := ev.cfg.ClusterID
			if clusterID == nil {
				clusterID = ev.cfg.RouterID
			}
			attrs.ClusterList = append([]net.IP{clusterID}, attrs.ClusterList...)
		}
	}
	return attrs
}

func (ev *Evaluator) internalDefaults(p *peer.Peer, attrs *model.PathAttributes) {
	if !attrs.HasLocalPref {
		attrs.LocalPref, attrs.HasLocalPref = ev.cfg.DefaultLocalPref, true
	}
	if p.Flags.NextHopSelf || attrs.NextHop == nil || attrs.NextHop.IsUnspecified() {
		attrs.NextHop = ev.localAddress(p)
	}
	if p.Flags.SuppressSentMED {
		attrs.MED, attrs.HasMED = 0, false
	}
}

func (ev *Evaluator) externalAS() uint32 {
	if ev.cfg.ConfederationID != 0 {
		return ev.cfg.ConfederationID
	}
	return ev.cfg.LocalAS
}

func (ev *Evaluator) localAddress(p *peer.Peer) net.IP {
	if p.LocalAddress != nil {
		return p.LocalAddress
	}
	return ev.cfg.RouterID
}
