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

package cmdimpl

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ghodss/yaml"
	. "github.com/onsi/gomega"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
	"github.com/contiv/bgpd/plugins/bgpctl/remote"
)

func newTestClient(t *testing.T, handler http.Handler, format string) (*Client, func()) {
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	client := &Client{
		HTTP:   remote.NewHTTPClient(&remote.HTTPClientConfig{Port: port}),
		Server: host,
		Format: format,
	}
	return client, srv.Close
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testRoutes() []restapi.Route {
	med := uint32(20)
	return []restapi.Route{
		{Prefix: "10.0.0.0/24", Peer: "192.0.2.1", Type: "bgp", SubType: "normal", Selected: true,
			NextHop: "192.0.2.1", ASPath: "200", Origin: "i", LocalPref: 100, MED: &med},
		{Prefix: "10.0.0.0/24", Peer: "192.0.2.2", Type: "bgp", SubType: "normal",
			NextHop: "192.0.2.2", ASPath: "300 400", Origin: "?", LocalPref: 100},
		{Prefix: "10.1.0.0/16", Peer: "0.0.0.0", Type: "bgp", SubType: "aggregate", Selected: true,
			NextHop: "0.0.0.0", Origin: "i", Weight: 32768},
	}
}

func TestPrintRIB(t *testing.T) {
	RegisterTestingT(t)

	var family string
	mux := http.NewServeMux()
	mux.HandleFunc(restapi.RestURLRIB, func(w http.ResponseWriter, req *http.Request) {
		family = req.URL.Query().Get(restapi.FamilyArg)
		writeJSON(w, http.StatusOK, testRoutes())
	})
	client, stop := newTestClient(t, mux, FormatTable)
	defer stop()

	out := &bytes.Buffer{}
	Expect(client.PrintRIB(out, "ipv6-unicast")).To(Succeed())
	Expect(family).To(Equal("ipv6-unicast"))
	Expect(out.String()).To(ContainSubstring("NETWORK"))
	Expect(out.String()).To(MatchRegexp(`\*>\s+10\.0\.0\.0/24\s+192\.0\.2\.1\s+20\s+100`))
	Expect(out.String()).To(MatchRegexp(`\*\s+10\.0\.0\.0/24\s+192\.0\.2\.2`))
	Expect(out.String()).To(MatchRegexp(`\*>l\s+10\.1\.0\.0/16`))

	// yaml output round-trips the REST data
	client.Format = FormatYAML
	out.Reset()
	Expect(client.PrintRIB(out, "")).To(Succeed())
	Expect(family).To(BeEmpty())
	var routes []restapi.Route
	Expect(yaml.Unmarshal(out.Bytes(), &routes)).To(Succeed())
	Expect(routes).To(HaveLen(3))
	Expect(*routes[0].MED).To(BeEquivalentTo(20))

	client.Format = "xml"
	Expect(client.PrintRIB(out, "")).ToNot(Succeed())
}

func TestPrintPeersAndAdjOut(t *testing.T) {
	RegisterTestingT(t)

	var peerArg string
	mux := http.NewServeMux()
	mux.HandleFunc(restapi.RestURLPeers, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, []restapi.Peer{
			{Address: "192.0.2.1", RemoteAS: 200, Type: "external", Established: true,
				UpSince: time.Now().Add(-time.Minute), Families: []string{"ipv4-unicast"}, AdjOut: 3, Pending: 1},
			{Address: "192.0.2.2", RemoteAS: 100, Type: "internal", Flags: []string{"rr-client"}},
		})
	})
	mux.HandleFunc(restapi.RestURLAdjOut, func(w http.ResponseWriter, req *http.Request) {
		peerArg = req.URL.Query().Get(restapi.PeerArg)
		if peerArg != "192.0.2.1" {
			writeJSON(w, http.StatusNotFound, restapi.Error{Error: "unknown peer"})
			return
		}
		writeJSON(w, http.StatusOK, []restapi.AdjOut{
			{Prefix: "10.0.0.0/24", Advertised: "200", Announcer: "192.0.2.3"},
			{Prefix: "10.2.0.0/24", Pending: "withdraw"},
		})
	})
	client, stop := newTestClient(t, mux, "")
	defer stop()

	out := &bytes.Buffer{}
	Expect(client.PrintPeers(out)).To(Succeed())
	Expect(out.String()).To(MatchRegexp(`192\.0\.2\.1\s+200\s+external\s+Established\s+1m0s\s+ipv4-unicast\s+3\s+1\s+-`))
	Expect(out.String()).To(MatchRegexp(`192\.0\.2\.2\s+100\s+internal\s+Idle\s+never\s+-\s+0\s+0\s+rr-client`))

	out.Reset()
	Expect(client.PrintAdjOut(out, "192.0.2.1", "")).To(Succeed())
	Expect(out.String()).To(MatchRegexp(`10\.2\.0\.0/24\s+-\s+withdraw\s+-`))

	err := client.PrintAdjOut(out, "192.0.2.9", "")
	Expect(err).To(HaveOccurred())
	Expect(err.Error()).To(ContainSubstring("unknown peer"))
	Expect(peerArg).To(Equal("192.0.2.9"))
}

func TestPrintSummaryAndHistory(t *testing.T) {
	RegisterTestingT(t)

	start := time.Date(2018, 6, 1, 10, 0, 0, 0, time.UTC)
	history := []restapi.EventRecord{
		{SeqNum: 0, Name: "Peer Up", ProcessingStart: start, ProcessingEnd: start.Add(time.Millisecond)},
		{SeqNum: 1, Name: "Route Update", IsFollowUp: true, FollowUpTo: 0,
			ProcessingStart: start, ProcessingEnd: start, ErrorStr: "unknown peer"},
	}
	var query url.Values
	mux := http.NewServeMux()
	mux.HandleFunc(restapi.RestURLSummary, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, restapi.Summary{
			RouterID: "1.1.1.1", LocalAS: 100,
			Destinations: map[string]int{"ipv4-unicast": 2, "ipv6-unicast": 1},
			Routes:       map[string]int{"ipv4-unicast": 3, "ipv6-unicast": 1},
			Peers:        2, Established: 1,
		})
	})
	mux.HandleFunc(restapi.RestURLEventHistory, func(w http.ResponseWriter, req *http.Request) {
		query = req.URL.Query()
		if query.Get(restapi.SeqNumArg) != "" {
			writeJSON(w, http.StatusOK, history[1])
			return
		}
		writeJSON(w, http.StatusOK, history)
	})
	client, stop := newTestClient(t, mux, FormatTable)
	defer stop()

	out := &bytes.Buffer{}
	Expect(client.PrintSummary(out)).To(Succeed())
	Expect(out.String()).To(ContainSubstring("BGP router identifier 1.1.1.1, local AS number 100"))
	Expect(out.String()).To(MatchRegexp(`ipv4-unicast\s+2\s+3`))
	Expect(out.String()).To(MatchRegexp(`Peers:\s+2 \(1 established\)`))

	out.Reset()
	Expect(client.PrintEventHistory(out, HistoryArgs{Last: 5})).To(Succeed())
	Expect(query.Get(restapi.LastArg)).To(Equal("5"))
	Expect(out.String()).To(MatchRegexp(`0\s+Peer Up\s+2018-06-01 10:00:00\s+1ms`))
	Expect(out.String()).To(ContainSubstring("1 (follow-up to 0)"))

	out.Reset()
	Expect(client.PrintEventHistory(out, HistoryArgs{SeqNum: 1})).To(Succeed())
	Expect(query.Get(restapi.SeqNumArg)).To(Equal("1"))
	Expect(out.String()).To(ContainSubstring("unknown peer"))
	Expect(out.String()).ToNot(ContainSubstring("Peer Up"))
}
