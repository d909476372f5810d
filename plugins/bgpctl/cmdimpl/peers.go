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
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
)

// PrintPeers prints the configured neighbors.
func (c *Client) PrintPeers(w io.Writer) error {
	var peers []restapi.Peer
	if err := c.getJSON(restapi.RestURLPeers, nil, &peers); err != nil {
		return err
	}
	now := time.Now()
	return c.print(w, peers, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "NEIGHBOR\tAS\tTYPE\tSTATE\tUP/DOWN\tFAMILIES\tADJ-OUT\tPENDING\tFLAGS\n")
		for _, p := range peers {
			state, up := "Idle", "never"
			if p.Established {
				state, up = "Established", formatUptime(p.UpSince, now)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				p.Address, p.RemoteAS, p.Type, state, up, orDash(strings.Join(p.Families, ",")),
				p.AdjOut, p.Pending, orDash(strings.Join(p.Flags, ",")))
		}
	})
}

// PrintAdjOut prints the outbound adjacencies of one neighbor.
func (c *Client) PrintAdjOut(w io.Writer, peer, family string) error {
	args := url.Values{}
	args.Set(restapi.PeerArg, peer)
	if family != "" {
		args.Set(restapi.FamilyArg, family)
	}
	var adjs []restapi.AdjOut
	if err := c.getJSON(restapi.RestURLAdjOut, args, &adjs); err != nil {
		return err
	}
	return c.print(w, adjs, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "NETWORK\tADVERTISED\tPENDING\tANNOUNCER\n")
		for _, adj := range adjs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				adj.Prefix, orDash(adj.Advertised), orDash(adj.Pending), orDash(adj.Announcer))
		}
	})
}
