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

package model

import (
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// AFI is the address family identifier.
type AFI uint16

// SAFI is the subsequent address family identifier.
type SAFI uint8

const (
	// AFIIPv4 identifies IPv4 address family.
	AFIIPv4 AFI = 1
	// AFIIPv6 identifies IPv6 address family.
	AFIIPv6 AFI = 2
)

const (
	// SAFIUnicast identifies unicast forwarding.
	SAFIUnicast SAFI = 1
	// SAFIMulticast identifies multicast RPF.
	SAFIMulticast SAFI = 2
)

// Family is the (AFI, SAFI) tuple used to key every per-family table.
type Family struct {
	AFI  AFI
	SAFI SAFI
}

var (
	// IPv4Unicast is the ipv4-unicast family.
	IPv4Unicast = Family{AFI: AFIIPv4, SAFI: SAFIUnicast}
	// IPv6Unicast is the ipv6-unicast family.
	IPv6Unicast = Family{AFI: AFIIPv6, SAFI: SAFIUnicast}
	// IPv4Multicast is the ipv4-multicast family.
	IPv4Multicast = Family{AFI: AFIIPv4, SAFI: SAFIMulticast}
	// IPv6Multicast is the ipv6-multicast family.
	IPv6Multicast = Family{AFI: AFIIPv6, SAFI: SAFIMulticast}
)

// Families lists all families supported by the routing core.
var Families = []Family{IPv4Unicast, IPv6Unicast, IPv4Multicast, IPv6Multicast}

// String returns the openconfig-like name of the family, e.g. "ipv4-unicast".
func (f Family) String() string {
	var afi, safi string
	switch f.AFI {
	case AFIIPv4:
		afi = "ipv4"
	case AFIIPv6:
		afi = "ipv6"
	default:
		afi = fmt.Sprintf("afi%d", f.AFI)
	}
	switch f.SAFI {
	case SAFIUnicast:
		safi = "unicast"
	case SAFIMulticast:
		safi = "multicast"
	default:
		safi = fmt.Sprintf("safi%d", f.SAFI)
	}
	return afi + "-" + safi
}

// ParseFamily parses the name produced by Family.String.
func ParseFamily(name string) (Family, error) {
	for _, f := range Families {
		if strings.EqualFold(f.String(), name) {
			return f, nil
		}
	}
	return Family{}, errors.Errorf("unknown address family: %q", name)
}

// Accepts returns true if the prefix belongs to the address family.
func (f Family) Accepts(prefix *net.IPNet) bool {
	if prefix == nil {
		return false
	}
	isV4 := prefix.IP.To4() != nil
	return (f.AFI == AFIIPv4) == isV4
}

// ParsePrefix parses CIDR notation and returns the canonical (masked) network.
func ParsePrefix(s string) (*net.IPNet, error) {
	_, network, err := net.ParseCIDR(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid prefix %q", s)
	}
	if ip4 := network.IP.To4(); ip4 != nil {
		network.IP = ip4
	}
	return network, nil
}

// PrefixKey returns the map key of the prefix.
func PrefixKey(prefix *net.IPNet) string {
	return prefix.String()
}
