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
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/unrolled/render"

	"github.com/contiv/bgpd/plugins/bgp/adjrib"
	"github.com/contiv/bgpd/plugins/bgp/instance"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/restapi"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// registerHandlers registers all supported REST APIs.
func (p *Plugin) registerHandlers() {
	if p.HTTPHandlers == nil {
		p.Log.Warn("No http handler provided, skipping registration of BGP REST handlers")
		return
	}
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLRIB, p.ribGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLPeers, p.peersGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLAdjOut, p.adjOutGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLSummary, p.summaryGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLEventHistory, p.eventHistoryGetHandler, "GET")
}

// ribGetHandler is the GET handler for "rib" API.
func (p *Plugin) ribGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		family, err := familyArg(req)
		if err != nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		var routes []restapi.Route
		err = p.query("RIB Dump", true, func(in *instance.Instance) error {
			routes = ribView(in.RIB().Table(family))
			return nil
		})
		p.writeResult(formatter, w, routes, err)
	}
}

// peersGetHandler is the GET handler for "peers" API.
func (p *Plugin) peersGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var peers []restapi.Peer
		err := p.query("Peers Dump", true, func(in *instance.Instance) error {
			for _, pr := range in.Peers().All() {
				peers = append(peers, peerView(in, pr))
			}
			return nil
		})
		p.writeResult(formatter, w, peers, err)
	}
}

// adjOutGetHandler is the GET handler for "adj-out" API.
func (p *Plugin) adjOutGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		family, err := familyArg(req)
		if err != nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		address := net.ParseIP(req.URL.Query().Get(restapi.PeerArg))
		if address == nil {
			err = fmt.Errorf("missing or invalid %q argument", restapi.PeerArg)
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		var adjs []restapi.AdjOut
		err = p.query("Adj-RIB-Out Dump", true, func(in *instance.Instance) error {
			pr, known := in.Peers().Get(address)
			if !known {
				return instance.ErrUnknownPeer
			}
			if q, exists := in.Store().Lookup(pr, family); exists {
				adjs = adjOutView(q)
			}
			return nil
		})
		p.writeResult(formatter, w, adjs, err)
	}
}

// summaryGetHandler is the GET handler for "summary" API.
func (p *Plugin) summaryGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var summary restapi.Summary
		err := p.query("Summary", true, func(in *instance.Instance) error {
			summary = p.summaryView(in)
			return nil
		})
		p.writeResult(formatter, w, summary, err)
	}
}

// eventHistoryGetHandler is the GET handler for "event-history" API.
func (p *Plugin) eventHistoryGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		p.historyLock.Lock()
		defer p.historyLock.Unlock()

		timeParams := make(map[string]time.Time)
		intParams := make(map[string]int)
		args := req.URL.Query()

		// parse optional integer parameters
		for _, intParam := range []string{restapi.SeqNumArg, restapi.FromArg, restapi.ToArg, restapi.FirstArg, restapi.LastArg} {
			if param, withParam := args[intParam]; withParam && len(param) == 1 {
				value, err := strconv.Atoi(param[0])
				if err != nil {
					formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
					return
				}
				intParams[intParam] = value
			}
		}

		// parse optional time parameters
		for _, timeParam := range []string{restapi.SinceArg, restapi.UntilArg} {
			if param, withParam := args[timeParam]; withParam && len(param) == 1 {
				value, err := stringToTime(param[0])
				if err != nil {
					formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
					return
				}
				timeParams[timeParam] = value
			}
		}

		if seqNum, hasSeqNum := intParams[restapi.SeqNumArg]; hasSeqNum {
			for _, evRecord := range p.eventHistory {
				if evRecord.SeqNum == uint64(seqNum) {
					formatter.JSON(w, http.StatusOK, evRecord)
					return
				}
			}
			err := errors.New("event with such sequence number is not recorded")
			formatter.JSON(w, http.StatusNotFound, restapi.Error{Error: err.Error()})
			return
		}

		since, hasSince := timeParams[restapi.SinceArg]
		until, hasUntil := timeParams[restapi.UntilArg]
		if hasSince || hasUntil {
			formatter.JSON(w, http.StatusOK, p.getEventHistory(since, until))
			return
		}

		from, hasFrom := intParams[restapi.FromArg]
		to, hasTo := intParams[restapi.ToArg]
		if hasFrom && hasTo {
			var evHistory []*restapi.EventRecord
			for _, evRecord := range p.eventHistory {
				if evRecord.SeqNum >= uint64(from) && evRecord.SeqNum <= uint64(to) {
					evHistory = append(evHistory, evRecord)
				}
			}
			formatter.JSON(w, http.StatusOK, evHistory)
			return
		}

		historyLen := len(p.eventHistory)
		if first, hasFirst := intParams[restapi.FirstArg]; hasFirst {
			if first < 0 || historyLen < first {
				first = historyLen
			}
			formatter.JSON(w, http.StatusOK, p.eventHistory[:first])
			return
		}
		if last, hasLast := intParams[restapi.LastArg]; hasLast {
			if last < 0 || historyLen < last {
				last = historyLen
			}
			formatter.JSON(w, http.StatusOK, p.eventHistory[historyLen-last:])
			return
		}

		formatter.JSON(w, http.StatusOK, p.eventHistory)
	}
}

// writeResult writes the view or the error of the query.
func (p *Plugin) writeResult(formatter *render.Render, w http.ResponseWriter, view interface{}, err error) {
	switch {
	case err == nil:
		formatter.JSON(w, http.StatusOK, view)
	case err == instance.ErrUnknownPeer:
		formatter.JSON(w, http.StatusNotFound, restapi.Error{Error: err.Error()})
	default:
		p.Log.Errorf("BGP REST request failed: %v", err)
		formatter.JSON(w, http.StatusInternalServerError, restapi.Error{Error: err.Error()})
	}
}

func familyArg(req *http.Request) (model.Family, error) {
	name := req.URL.Query().Get(restapi.FamilyArg)
	if name == "" {
		return model.IPv4Unicast, nil
	}
	return model.ParseFamily(name)
}

func ribView(table *rib.Table) []restapi.Route {
	routes := []restapi.Route{}
	for _, dest := range table.Sorted() {
		for _, ri := range dest.Routes() {
			routes = append(routes, routeView(dest, ri))
		}
	}
	return routes
}

func routeView(dest *rib.Destination, ri *rib.RouteInfo) restapi.Route {
	attrs := ri.Attrs()
	view := restapi.Route{
		Prefix:     dest.Key(),
		Peer:       ri.Peer.Key(),
		Type:       ri.Type.String(),
		SubType:    ri.SubType.String(),
		Selected:   dest.Selected() == ri,
		Multipath:  ri.Has(rib.FlagMultipathInstalled),
		Suppressed: ri.Suppress > 0,
		NextHop:    attrs.NextHop.String(),
		ASPath:     attrs.ASPath.String(),
		Origin:     attrs.Origin.String(),
		Weight:     attrs.Weight,
		IGPMetric:  ri.IGPMetric,
		Flags:      ri.Flags().String(),
		Uptime:     ri.Uptime,
		Version:    dest.Version(),
	}
	if attrs.HasLocalPref {
		view.LocalPref = attrs.LocalPref
	}
	if attrs.HasMED {
		med := attrs.MED
		view.MED = &med
	}
	for _, c := range attrs.Communities {
		view.Communities = append(view.Communities, fmt.Sprintf("%d:%d", c>>16, c&0xffff))
	}
	return view
}

func peerView(in *instance.Instance, pr *peer.Peer) restapi.Peer {
	view := restapi.Peer{
		Address:     pr.Address.String(),
		RemoteAS:    pr.RemoteAS,
		LocalAS:     pr.LocalAS,
		RouterID:    pr.RouterID.String(),
		Type:        pr.Type.String(),
		Established: pr.Established(),
		UpSince:     pr.UpSince(),
	}
	for _, family := range pr.Families() {
		view.Families = append(view.Families, family.String())
		if q, exists := in.Store().Lookup(pr, family); exists {
			view.AdjOut += len(q.AdjOuts())
			view.Pending += q.Pending()
		}
	}
	for _, flag := range []struct {
		set  bool
		name string
	}{
		{pr.Flags.ReflectorClient, "rr-client"},
		{pr.Flags.RouteServerClient, "rs-client"},
		{pr.Flags.NextHopSelf, "next-hop-self"},
		{pr.Flags.RemovePrivateAS, "remove-private-as"},
		{pr.Flags.IgnoreReceivedMED, "ignore-med"},
		{pr.Flags.SuppressSentMED, "suppress-med"},
		{pr.Flags.SoftReconfigInbound, "soft-reconfig-inbound"},
		{pr.Flags.QueuedAdjOut, "queued-adj-out"},
	} {
		if flag.set {
			view.Flags = append(view.Flags, flag.name)
		}
	}
	return view
}

func adjOutView(q *adjrib.PeerQueue) []restapi.AdjOut {
	adjs := []restapi.AdjOut{}
	for _, adj := range q.AdjOuts() {
		if adj.Kind() != adjrib.AdjNormal {
			continue
		}
		view := restapi.AdjOut{Prefix: adj.Dest().Key()}
		if advertised := adj.Advertised(); advertised != nil {
			view.Advertised = advertised.String()
		}
		if adj.HasPending() {
			if group := q.Group(adj.Dest()); group != nil {
				view.Pending = group.Attrs().String()
			} else {
				view.Pending = "withdraw"
			}
		}
		if announcer := adj.Announcer(); announcer != nil {
			view.Announcer = announcer.Key()
		}
		adjs = append(adjs, view)
	}
	return adjs
}

func (p *Plugin) summaryView(in *instance.Instance) restapi.Summary {
	stats := in.Stats()
	cfg := in.Config()
	summary := restapi.Summary{
		RouterID:      cfg.RouterID.String(),
		LocalAS:       cfg.LocalAS,
		Destinations:  make(map[string]int),
		Routes:        make(map[string]int),
		Attributes:    stats.Attributes,
		AttributeRefs: stats.AttributeRefs,
		Pending:       stats.Pending,
		Peers:         stats.Peers,
		Established:   stats.Established,
	}
	for family, count := range stats.Destinations {
		summary.Destinations[family.String()] = count
	}
	for family, count := range stats.Routes {
		summary.Routes[family.String()] = count
	}
	if p.fib != nil {
		summary.FIBInstalled = p.fib.Installed()
		summary.FIBFailures = p.fib.Failures()
	}
	return summary
}

// stringToTime converts Unix timestamp from string to time.Time.
func stringToTime(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
