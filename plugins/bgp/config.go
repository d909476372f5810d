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

package bgp

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/contiv/bgpd/plugins/bgp/decision"
	"github.com/contiv/bgpd/plugins/bgp/fib"
	"github.com/contiv/bgpd/plugins/bgp/instance"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
)

const (
	defaultLocalPref                 = 100
	defaultAdvertisementIntervalEBGP = 30 * time.Second
	defaultAdvertisementIntervalIBGP = 5 * time.Second
	defaultASOriginationInterval     = 15 * time.Second
	defaultMaxPrefixesPerUpdate      = 500
	defaultStatsInterval             = 10 * time.Second
	defaultEventHistoryLimit         = 1000

	peerTypeExternal = "external"
	peerTypeInternal = "internal"
	peerTypeConfed   = "confed"
)

// Config represents configuration for the BGP plugin.
// Durations are in nanoseconds.
type Config struct {
	RouterID        string `json:"routerID"`
	LocalAS         uint32 `json:"localAS"`
	ConfederationID uint32 `json:"confederationID,omitempty"`
	ClusterID       string `json:"clusterID,omitempty"`

	// best-path selection
	DefaultLocalPref     uint32          `json:"defaultLocalPref"`
	IgnoreASPathLength   bool            `json:"ignoreASPathLength,omitempty"`
	CompareConfedASPath  bool            `json:"compareConfedASPath,omitempty"`
	AlwaysCompareMED     bool            `json:"alwaysCompareMED,omitempty"`
	ConfedMED            bool            `json:"confedMED,omitempty"`
	MissingMEDAsWorst    bool            `json:"missingMEDAsWorst,omitempty"`
	DeterministicMED     bool            `json:"deterministicMED,omitempty"`
	RFC1771PathSelect    bool            `json:"rfc1771PathSelect,omitempty"`
	CompareRouterID      bool            `json:"compareRouterID,omitempty"`
	RouterIDTieBreak     bool            `json:"routerIDTieBreak"`
	OriginatorIDTieBreak bool            `json:"originatorIDTieBreak"`
	Multipath            MultipathConfig `json:"multipath"`

	// dissemination
	AdvertisementIntervalEBGP time.Duration `json:"advertisementIntervalEBGP"`
	AdvertisementIntervalIBGP time.Duration `json:"advertisementIntervalIBGP"`
	ASOriginationInterval     time.Duration `json:"asOriginationInterval"`
	MaxPrefixesPerUpdate      int           `json:"maxPrefixesPerUpdate"`

	StatsInterval     time.Duration `json:"statsInterval"`
	EventHistoryLimit int           `json:"eventHistoryLimit"`

	Peers        []PeerConfig        `json:"peers,omitempty"`
	Aggregates   []AggregateConfig   `json:"aggregates,omitempty"`
	StaticRoutes []StaticRouteConfig `json:"staticRoutes,omitempty"`
	FIB          FIBConfig           `json:"fib"`
}

// MultipathConfig configures ECMP.
type MultipathConfig struct {
	Enabled             bool `json:"enabled,omitempty"`
	MaxPathsEBGP        int  `json:"maxPathsEBGP"`
	MaxPathsIBGP        int  `json:"maxPathsIBGP"`
	DisableNexthopCheck bool `json:"disableNexthopCheck,omitempty"`
	SortByNexthop       bool `json:"sortByNexthop,omitempty"`
}

// PeerConfig is a statically defined neighbor.
type PeerConfig struct {
	Address      string `json:"address"`
	RemoteAS     uint32 `json:"remoteAS"`
	LocalAddress string `json:"localAddress,omitempty"`
	RouterID     string `json:"routerID,omitempty"`
	// Type is one of "external", "internal", "confed". Derived from
	// the AS numbers when empty.
	Type string `json:"type,omitempty"`

	peer.Flags

	// nil selects the default of the session type
	AdvertisementInterval *time.Duration `json:"advertisementInterval,omitempty"`
	ASOriginationInterval *time.Duration `json:"asOriginationInterval,omitempty"`

	// Families to negotiate, ipv4-unicast if empty.
	Families []string `json:"families,omitempty"`
	// StartEstablished brings the peer up right after the startup, for
	// deployments where the session is managed outside of the speaker.
	StartEstablished bool `json:"startEstablished,omitempty"`
}

// AggregateConfig is an aggregate-address statement.
type AggregateConfig struct {
	Prefix      string `json:"prefix"`
	SummaryOnly bool   `json:"summaryOnly,omitempty"`
}

// StaticRouteConfig originates a prefix. Without a next-hop it is a network
// statement, otherwise a redistributed static route.
type StaticRouteConfig struct {
	Prefix  string `json:"prefix"`
	Nexthop string `json:"nexthop,omitempty"`
	Metric  uint32 `json:"metric,omitempty"`
}

// FIBConfig configures installation of the selected routes into the host.
type FIBConfig struct {
	Enabled  bool `json:"enabled,omitempty"`
	Protocol int  `json:"protocol,omitempty"`
	Table    int  `json:"table,omitempty"`
	// DryRun only logs the routes.
	DryRun bool `json:"dryRun,omitempty"`
}

// DefaultConfig returns configuration with all the default values set.
func DefaultConfig() *Config {
	dc := decision.DefaultConfig()
	return &Config{
		DefaultLocalPref:     defaultLocalPref,
		RouterIDTieBreak:     dc.RouterIDTieBreak,
		OriginatorIDTieBreak: dc.OriginatorIDTieBreak,
		Multipath: MultipathConfig{
			MaxPathsEBGP: dc.Multipath.MaxPathsEBGP,
			MaxPathsIBGP: dc.Multipath.MaxPathsIBGP,
		},
		AdvertisementIntervalEBGP: defaultAdvertisementIntervalEBGP,
		AdvertisementIntervalIBGP: defaultAdvertisementIntervalIBGP,
		ASOriginationInterval:     defaultASOriginationInterval,
		MaxPrefixesPerUpdate:      defaultMaxPrefixesPerUpdate,
		StatsInterval:             defaultStatsInterval,
		EventHistoryLimit:         defaultEventHistoryLimit,
		FIB: FIBConfig{
			Protocol: fib.DefaultProtocol,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if _, err := c.InstanceConfig(); err != nil {
		return err
	}
	if c.MaxPrefixesPerUpdate < 0 {
		return errors.Errorf("invalid maxPrefixesPerUpdate: %d", c.MaxPrefixesPerUpdate)
	}
	if c.EventHistoryLimit < 0 {
		return errors.Errorf("invalid eventHistoryLimit: %d", c.EventHistoryLimit)
	}
	for i := range c.Peers {
		if _, _, err := c.Peers[i].build(c); err != nil {
			return err
		}
	}
	for _, agg := range c.Aggregates {
		if _, err := model.ParsePrefix(agg.Prefix); err != nil {
			return errors.Wrapf(err, "invalid aggregate")
		}
	}
	for _, route := range c.StaticRoutes {
		if _, _, err := route.parse(); err != nil {
			return err
		}
	}
	return nil
}

// InstanceConfig converts the configuration into the routing core settings.
func (c *Config) InstanceConfig() (instance.Config, error) {
	cfg := instance.Config{
		LocalAS:              c.LocalAS,
		ConfederationID:      c.ConfederationID,
		MaxPrefixesPerUpdate: c.MaxPrefixesPerUpdate,
		Decision: decision.Config{
			DefaultLocalPref:     c.DefaultLocalPref,
			IgnoreASPathLength:   c.IgnoreASPathLength,
			CompareConfedASPath:  c.CompareConfedASPath,
			AlwaysCompareMED:     c.AlwaysCompareMED,
			ConfedMED:            c.ConfedMED,
			MissingMEDAsWorst:    c.MissingMEDAsWorst,
			DeterministicMED:     c.DeterministicMED,
			RFC1771PathSelect:    c.RFC1771PathSelect,
			CompareRouterID:      c.CompareRouterID,
			RouterIDTieBreak:     c.RouterIDTieBreak,
			OriginatorIDTieBreak: c.OriginatorIDTieBreak,
			Multipath: decision.MultipathConfig{
				Enabled:             c.Multipath.Enabled,
				MaxPathsEBGP:        c.Multipath.MaxPathsEBGP,
				MaxPathsIBGP:        c.Multipath.MaxPathsIBGP,
				DisableNexthopCheck: c.Multipath.DisableNexthopCheck,
				SortByNexthop:       c.Multipath.SortByNexthop,
			},
		},
	}
	if c.LocalAS == 0 {
		return cfg, errors.New("localAS is not configured")
	}
	routerID, err := parseIPv4(c.RouterID)
	if err != nil {
		return cfg, errors.Wrap(err, "invalid routerID")
	}
	cfg.RouterID = routerID
	if c.ClusterID != "" {
		if cfg.ClusterID, err = parseIPv4(c.ClusterID); err != nil {
			return cfg, errors.Wrap(err, "invalid clusterID")
		}
	}
	if c.Multipath.MaxPathsEBGP < 1 || c.Multipath.MaxPathsIBGP < 1 {
		return cfg, errors.Errorf("invalid maxPaths: ebgp=%d ibgp=%d",
			c.Multipath.MaxPathsEBGP, c.Multipath.MaxPathsIBGP)
	}
	return cfg, nil
}

// build creates the peer described by the configuration together with
// the families to negotiate.
func (pc *PeerConfig) build(c *Config) (*peer.Peer, []model.Family, error) {
	address := net.ParseIP(pc.Address)
	if address == nil || address.IsUnspecified() {
		return nil, nil, errors.Errorf("invalid peer address: %q", pc.Address)
	}
	if pc.RemoteAS == 0 {
		return nil, nil, errors.Errorf("peer %s: remoteAS is not configured", pc.Address)
	}

	var peerType peer.Type
	switch pc.Type {
	case "":
		peerType = peer.External
		if pc.RemoteAS == c.LocalAS {
			peerType = peer.Internal
		}
	case peerTypeExternal:
		peerType = peer.External
	case peerTypeInternal:
		peerType = peer.Internal
	case peerTypeConfed:
		peerType = peer.Confed
	default:
		return nil, nil, errors.Errorf("peer %s: unknown session type %q", pc.Address, pc.Type)
	}

	routerID := address
	if pc.RouterID != "" {
		var err error
		if routerID, err = parseIPv4(pc.RouterID); err != nil {
			return nil, nil, errors.Wrapf(err, "peer %s: invalid routerID", pc.Address)
		}
	}
	p := peer.NewPeer(address, pc.RemoteAS, c.LocalAS, routerID, peerType)
	p.Flags = pc.Flags
	if pc.LocalAddress != "" {
		if p.LocalAddress = net.ParseIP(pc.LocalAddress); p.LocalAddress == nil {
			return nil, nil, errors.Errorf("peer %s: invalid localAddress %q", pc.Address, pc.LocalAddress)
		}
	}

	p.AdvertisementInterval = c.AdvertisementIntervalEBGP
	if peerType.IsInternal() {
		p.AdvertisementInterval = c.AdvertisementIntervalIBGP
	}
	if pc.AdvertisementInterval != nil {
		p.AdvertisementInterval = *pc.AdvertisementInterval
	}
	p.ASOriginationInterval = c.ASOriginationInterval
	if pc.ASOriginationInterval != nil {
		p.ASOriginationInterval = *pc.ASOriginationInterval
	}
	if p.AdvertisementInterval < 0 || p.ASOriginationInterval < 0 {
		return nil, nil, errors.Errorf("peer %s: negative advertisement interval", pc.Address)
	}

	families := []model.Family{model.IPv4Unicast}
	if len(pc.Families) > 0 {
		families = nil
		for _, name := range pc.Families {
			family, err := model.ParseFamily(name)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "peer %s", pc.Address)
			}
			families = append(families, family)
		}
	}
	return p, families, nil
}

func (rc *StaticRouteConfig) parse() (*net.IPNet, net.IP, error) {
	prefix, err := model.ParsePrefix(rc.Prefix)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid static route")
	}
	var nexthop net.IP
	if rc.Nexthop != "" {
		if nexthop = net.ParseIP(rc.Nexthop); nexthop == nil {
			return nil, nil, errors.Errorf("static route %s: invalid nexthop %q", rc.Prefix, rc.Nexthop)
		}
	}
	return prefix, nexthop, nil
}

// familyOf returns the unicast family of the prefix.
func familyOf(prefix *net.IPNet) model.Family {
	if prefix.IP.To4() != nil {
		return model.IPv4Unicast
	}
	return model.IPv6Unicast
}

func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return nil, errors.Errorf("%q is not an IPv4 address", s)
	}
	return ip, nil
}
