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

package decision

import (
	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// Disseminator propagates a new selection of a destination to one peer.
type Disseminator interface {
	// Update announces <best> to <p> (subject to export rules) or withdraws
	// the destination if <best> is nil or not exportable.
	Update(p *peer.Peer, dest *rib.Destination, best *rib.RouteInfo)
}

// Listener is notified about changes of the installed paths: the FIB,
// aggregates and redistribution targets.
type Listener interface {
	// Install is called when the best path or the set of installed
	// multipaths (which includes the best path) changed.
	Install(dest *rib.Destination, best *rib.RouteInfo, multipaths []*rib.RouteInfo)
	// Withdraw is called when the destination lost its last usable path.
	Withdraw(dest *rib.Destination, old *rib.RouteInfo)
}

// Decision implements the per-destination best-path selection and the
// dissemination of its result.
type Decision struct {
	log          logging.Logger
	cfg          Config
	peers        *peer.Registry
	disseminator Disseminator
	listeners    []Listener
}

// NewDecision creates the decision process.
func NewDecision(log logging.Logger, cfg Config, peers *peer.Registry, disseminator Disseminator,
	listeners ...Listener) *Decision {
	return &Decision{
		log:          log,
		cfg:          cfg,
		peers:        peers,
		disseminator: disseminator,
		listeners:    listeners,
	}
}

// Config returns the current configuration.
func (d *Decision) Config() Config {
	return d.cfg
}

// SetConfig replaces the configuration. Destinations are not re-processed;
// the new multipath limits take effect on the next pass of each destination.
func (d *Decision) SetConfig(cfg Config) {
	d.cfg = cfg
}

// AddListener registers another listener.
func (d *Decision) AddListener(l Listener) {
	d.listeners = append(d.listeners, l)
}

// Select re-evaluates all usable routes of the destination and returns the
// best one. Multipath-candidate flags are updated as a side effect.
func (d *Decision) Select(dest *rib.Destination) *rib.RouteInfo {
	var eligible []*rib.RouteInfo
	for _, ri := range dest.Routes() {
		ri.Clear(rib.FlagMultipathCandidate | rib.FlagDMEDCheck | rib.FlagDMEDSelected)
		if ri.IsRemoved() || !ri.Has(rib.FlagNexthopValid) {
			continue
		}
		eligible = append(eligible, ri)
	}

	candidates := eligible
	if d.cfg.DeterministicMED {
		candidates = d.groupByNeighborAS(eligible)
	}
	var best *rib.RouteInfo
	for _, ri := range candidates {
		if best == nil || d.Better(ri, best) {
			best = ri
		}
	}
	if best == nil || !d.cfg.Multipath.Enabled {
		return best
	}
	for _, ri := range eligible {
		if ri == best {
			continue
		}
		if result, ecmp := d.compare(ri, best); ecmp && result <= 0 {
			ri.Set(rib.FlagMultipathCandidate)
		}
	}
	return best
}

// groupByNeighborAS keeps only the best route of each group of routes from
// the same neighboring AS (deterministic MED).
func (d *Decision) groupByNeighborAS(eligible []*rib.RouteInfo) (winners []*rib.RouteInfo) {
	type groupKey struct {
		as, confedAS uint32
	}
	groups := make(map[groupKey]*rib.RouteInfo)
	var order []groupKey
	for _, ri := range eligible {
		path := ri.Attrs().ASPath
		var key groupKey
		key.as, _ = path.LeftmostAS()
		key.confedAS, _ = path.LeftmostConfedAS()
		ri.Set(rib.FlagDMEDCheck)
		winner, exists := groups[key]
		if !exists {
			order = append(order, key)
		}
		if !exists || d.Better(ri, winner) {
			groups[key] = ri
		}
	}
	for _, key := range order {
		groups[key].Set(rib.FlagDMEDSelected)
		winners = append(winners, groups[key])
	}
	return winners
}

// Process runs the decision for the destination and disseminates the
// result to all established peers. Routes in hold-down are reaped
// afterwards. Returns true if the announced state changed.
func (d *Decision) Process(dest *rib.Destination) (changed bool) {
	table := dest.Table()
	defer table.Reap(dest)

	old := dest.Selected()
	prevInstalled := installedRoutes(dest)
	prevIBGP, prevEBGP := countByClass(prevInstalled)

	best := d.Select(dest)
	reinstall := d.NeedsReinstall(dest, best, prevIBGP, prevEBGP) || !sameRoutes(prevInstalled, installedRoutes(dest))

	if best == old && (best == nil || !best.Has(rib.FlagAttrChanged)) && !reinstall {
		if best != nil && best.Has(rib.FlagIGPChanged) {
			d.notifyInstall(dest, best)
		}
		clearTransient(dest)
		return false
	}

	dest.Select(best)
	version := table.BumpVersion(dest)
	if best != nil {
		d.log.Debugf("Destination %s (v%d): selected %s", dest, version, best)
	} else {
		d.log.Debugf("Destination %s (v%d): no usable path", dest, version)
	}

	for _, p := range d.peers.Established(dest.Family()) {
		d.disseminator.Update(p, dest, best)
	}
	if best != nil {
		d.notifyInstall(dest, best)
	} else if old != nil {
		for _, l := range d.listeners {
			l.Withdraw(dest, old)
		}
	}
	clearTransient(dest)
	return true
}

func (d *Decision) notifyInstall(dest *rib.Destination, best *rib.RouteInfo) {
	multipaths := installedRoutes(dest)
	if len(multipaths) == 0 {
		multipaths = []*rib.RouteInfo{best}
	}
	for _, l := range d.listeners {
		l.Install(dest, best, multipaths)
	}
}

func clearTransient(dest *rib.Destination) {
	for _, ri := range dest.Routes() {
		ri.Clear(rib.FlagAttrChanged | rib.FlagIGPChanged)
	}
}
