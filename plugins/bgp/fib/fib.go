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

package fib

import (
	"fmt"
	"net"
	"strings"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// DefaultProtocol is the route protocol number used for installed routes
// (RTPROT_BGP).
const DefaultProtocol = 186

// Route is a forwarding entry derived from the selected paths.
type Route struct {
	Family   model.Family
	Prefix   *net.IPNet
	Nexthops []net.IP
}

// String returns a human readable description of the route.
func (r *Route) String() string {
	var nhs []string
	for _, nh := range r.Nexthops {
		nhs = append(nhs, nh.String())
	}
	return fmt.Sprintf("%s via [%s]", r.Prefix, strings.Join(nhs, ", "))
}

// Installer programs routes into a forwarding plane.
type Installer interface {
	Install(route *Route) error
	Withdraw(route *Route) error
}

// Syncer keeps the forwarding plane in sync with the selected BGP paths.
// Routes originated or redistributed by the speaker are not installed.
type Syncer struct {
	log       logging.Logger
	installer Installer
	installed map[string]*Route
	failures  int
}

// NewSyncer creates a syncer driving the given installer.
func NewSyncer(log logging.Logger, installer Installer) *Syncer {
	return &Syncer{
		log:       log,
		installer: installer,
		installed: make(map[string]*Route),
	}
}

// Installed returns the number of routes currently installed.
func (s *Syncer) Installed() int {
	return len(s.installed)
}

// Failures returns the number of failed install/withdraw operations.
func (s *Syncer) Failures() int {
	return s.failures
}

// Install is called when the best path or the multipath set changed.
func (s *Syncer) Install(dest *rib.Destination, best *rib.RouteInfo, multipaths []*rib.RouteInfo) {
	if best.IsSelfOriginated() {
		s.withdraw(dest)
		return
	}
	route := &Route{Family: dest.Family(), Prefix: dest.Prefix()}
	for _, ri := range multipaths {
		if nh := ri.Attrs().NextHop; nh != nil {
			route.Nexthops = append(route.Nexthops, nh)
		}
	}
	if len(route.Nexthops) == 0 {
		s.withdraw(dest)
		return
	}
	if err := s.installer.Install(route); err != nil {
		s.failures++
		s.log.Errorf("Failed to install %s: %v", route, err)
		return
	}
	s.installed[dest.Key()] = route
}

// Withdraw is called when the destination lost its last usable path.
func (s *Syncer) Withdraw(dest *rib.Destination, old *rib.RouteInfo) {
	s.withdraw(dest)
}

func (s *Syncer) withdraw(dest *rib.Destination) {
	route, installed := s.installed[dest.Key()]
	if !installed {
		return
	}
	delete(s.installed, dest.Key())
	if err := s.installer.Withdraw(route); err != nil {
		s.failures++
		s.log.Errorf("Failed to withdraw %s: %v", route, err)
	}
}

// NetlinkInstaller installs routes into the Linux kernel routing table.
// Multiple next-hops are installed as one ECMP route.
type NetlinkInstaller struct {
	log      logging.Logger
	calls    hostCalls
	protocol int
	table    int
}

// NewNetlinkInstaller creates an installer using the given route protocol
// number and routing table (0 for the main table).
func NewNetlinkInstaller(log logging.Logger, protocol, table int) *NetlinkInstaller {
	if protocol == 0 {
		protocol = DefaultProtocol
	}
	return &NetlinkInstaller{
		log:      log,
		calls:    &linuxCalls{},
		protocol: protocol,
		table:    table,
	}
}

func (n *NetlinkInstaller) netlinkRoute(route *Route) *netlink.Route {
	nlRoute := &netlink.Route{
		Dst:      route.Prefix,
		Protocol: n.protocol,
		Table:    n.table,
	}
	if len(route.Nexthops) == 1 {
		nlRoute.Gw = route.Nexthops[0]
		return nlRoute
	}
	for _, nh := range route.Nexthops {
		nlRoute.MultiPath = append(nlRoute.MultiPath, &netlink.NexthopInfo{Gw: nh})
	}
	return nlRoute
}

// Install implements Installer.
func (n *NetlinkInstaller) Install(route *Route) error {
	if err := n.calls.RouteReplace(n.netlinkRoute(route)); err != nil {
		return errors.Wrapf(err, "netlink route replace %s", route.Prefix)
	}
	n.log.Debugf("Installed %s", route)
	return nil
}

// Withdraw implements Installer.
func (n *NetlinkInstaller) Withdraw(route *Route) error {
	if err := n.calls.RouteDel(n.netlinkRoute(route)); err != nil {
		return errors.Wrapf(err, "netlink route delete %s", route.Prefix)
	}
	n.log.Debugf("Withdrew %s", route)
	return nil
}

// LogInstaller only logs the routes, for hosts where the speaker must not
// touch the forwarding plane.
type LogInstaller struct {
	Log logging.Logger
}

// Install implements Installer.
func (l *LogInstaller) Install(route *Route) error {
	l.Log.Infof("FIB install %s", route)
	return nil
}

// Withdraw implements Installer.
func (l *LogInstaller) Withdraw(route *Route) error {
	l.Log.Infof("FIB withdraw %s", route)
	return nil
}
