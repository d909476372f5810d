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
	"sort"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// NeedsReinstall recomputes the set of installed multipaths of the
// destination around <best> and returns true if the number of installed
// paths per peer class differs from the previous counts.
func (d *Decision) NeedsReinstall(dest *rib.Destination, best *rib.RouteInfo, prevIBGP, prevEBGP int) bool {
	for _, ri := range dest.Routes() {
		ri.Clear(rib.FlagMultipathInstalled)
	}
	mp := d.cfg.Multipath
	if best == nil || !mp.Enabled {
		return prevIBGP+prevEBGP > 0
	}

	internal := best.Peer.Type.IsInternal()
	maxPaths := mp.MaxPathsEBGP
	if internal {
		maxPaths = mp.MaxPathsIBGP
	}
	if maxPaths < 1 {
		maxPaths = 1
	}

	selected := []*rib.RouteInfo{best}
	var candidates []*rib.RouteInfo
	for _, ri := range dest.Routes() {
		if ri == best || !ri.Has(rib.FlagMultipathCandidate|rib.FlagNexthopValid) || ri.IsRemoved() {
			continue
		}
		if ri.Peer.Type.IsInternal() != internal {
			continue
		}
		if !mp.DisableNexthopCheck && sharesNexthop(ri, selected, candidates) {
			continue
		}
		candidates = append(candidates, ri)
	}
	if mp.SortByNexthop {
		sort.SliceStable(candidates, func(i, j int) bool {
			return model.CompareIP(candidates[i].Attrs().NextHop, candidates[j].Attrs().NextHop) < 0
		})
	}
	if len(candidates) > maxPaths-1 {
		candidates = candidates[:maxPaths-1]
	}
	selected = append(selected, candidates...)
	for _, ri := range selected {
		ri.Set(rib.FlagMultipathInstalled)
	}

	ibgp, ebgp := countByClass(selected)
	return ibgp != prevIBGP || ebgp != prevEBGP
}

func sharesNexthop(ri *rib.RouteInfo, lists ...[]*rib.RouteInfo) bool {
	nh := ri.Attrs().NextHop
	for _, list := range lists {
		for _, other := range list {
			if other.Attrs().NextHop.Equal(nh) {
				return true
			}
		}
	}
	return false
}

func installedRoutes(dest *rib.Destination) (installed []*rib.RouteInfo) {
	for _, ri := range dest.Routes() {
		if ri.Has(rib.FlagMultipathInstalled) {
			installed = append(installed, ri)
		}
	}
	return installed
}

func countByClass(routes []*rib.RouteInfo) (ibgp, ebgp int) {
	for _, ri := range routes {
		if ri.Peer.Type.IsInternal() {
			ibgp++
		} else {
			ebgp++
		}
	}
	return ibgp, ebgp
}

func sameRoutes(a, b []*rib.RouteInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
