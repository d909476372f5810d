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

package restapi

import (
	"time"
)

const (
	// RESTPrefix is the prefix of all BGP REST urls.
	RESTPrefix = "/bgp/"

	// RestURLRIB lists the routes of one address family (?family=).
	RestURLRIB = RESTPrefix + "rib"
	// RestURLPeers lists the configured neighbors.
	RestURLPeers = RESTPrefix + "peers"
	// RestURLAdjOut lists the outbound adjacencies of a peer (?peer=&family=).
	RestURLAdjOut = RESTPrefix + "adj-out"
	// RestURLSummary returns the RIB and queue counters.
	RestURLSummary = RESTPrefix + "summary"
	// RestURLEventHistory returns the history of processed events.
	RestURLEventHistory = RESTPrefix + "event-history"

	// FamilyArg selects the address family, IPv4 unicast by default.
	FamilyArg = "family"
	// PeerArg selects the neighbor by its address.
	PeerArg = "peer"

	// event-history arguments (by precedence):
	//   * seq-num
	//   * since - until (Unix timestamps)
	//   * from - to (sequence numbers)
	//   * first (max. number of oldest records to return)
	//   * last (max. number of latest records to return)
	SeqNumArg = "seq-num"
	SinceArg  = "since"
	UntilArg  = "until"
	FromArg   = "from"
	ToArg     = "to"
	FirstArg  = "first"
	LastArg   = "last"
)

// Route is one path of a destination.
type Route struct {
	Prefix      string    `json:"prefix"`
	Peer        string    `json:"peer"`
	Type        string    `json:"type"`
	SubType     string    `json:"subType"`
	Selected    bool      `json:"selected"`
	Multipath   bool      `json:"multipath,omitempty"`
	Suppressed  bool      `json:"suppressed,omitempty"`
	NextHop     string    `json:"nextHop"`
	ASPath      string    `json:"asPath"`
	Origin      string    `json:"origin"`
	LocalPref   uint32    `json:"localPref,omitempty"`
	MED         *uint32   `json:"med,omitempty"`
	Weight      uint32    `json:"weight,omitempty"`
	Communities []string  `json:"communities,omitempty"`
	IGPMetric   uint32    `json:"igpMetric,omitempty"`
	Flags       string    `json:"flags"`
	Uptime      time.Time `json:"uptime"`
	Version     uint64    `json:"version"`
}

// Peer describes a neighbor and its queues.
type Peer struct {
	Address     string    `json:"address"`
	RemoteAS    uint32    `json:"remoteAS"`
	LocalAS     uint32    `json:"localAS"`
	RouterID    string    `json:"routerID"`
	Type        string    `json:"type"`
	Established bool      `json:"established"`
	UpSince     time.Time `json:"upSince,omitempty"`
	Families    []string  `json:"families,omitempty"`
	AdjOut      int       `json:"adjOut"`
	Pending     int       `json:"pending"`
	Flags       []string  `json:"flags,omitempty"`
}

// AdjOut is the outbound state of one destination towards a peer.
type AdjOut struct {
	Prefix     string `json:"prefix"`
	Advertised string `json:"advertised,omitempty"`
	Pending    string `json:"pending,omitempty"`
	Announcer  string `json:"announcer,omitempty"`
}

// Summary aggregates the counters of the routing core.
type Summary struct {
	RouterID      string         `json:"routerID"`
	LocalAS       uint32         `json:"localAS"`
	Destinations  map[string]int `json:"destinations"`
	Routes        map[string]int `json:"routes"`
	Attributes    int            `json:"attributes"`
	AttributeRefs int            `json:"attributeRefs"`
	Pending       int            `json:"pending"`
	Peers         int            `json:"peers"`
	Established   int            `json:"established"`
	FIBInstalled  int            `json:"fibInstalled"`
	FIBFailures   int            `json:"fibFailures"`
}

// Error wraps the string representation of an error.
type Error struct {
	Error string `json:"error"`
}

// EventRecord is a record of a processed event, kept in the event history.
type EventRecord struct {
	SeqNum          uint64
	IsFollowUp      bool
	FollowUpTo      uint64 `json:",omitempty"`
	Name            string
	Description     string
	ProcessingStart time.Time
	ProcessingEnd   time.Time
	Change          string `json:",omitempty"`
	Error           error  `json:"-"`
	ErrorStr        string `json:",omitempty"`
}
