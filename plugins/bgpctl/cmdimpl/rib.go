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
	"strconv"
	"text/tabwriter"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
)

// PrintRIB prints the routes of one address family.
func (c *Client) PrintRIB(w io.Writer, family string) error {
	args := url.Values{}
	if family != "" {
		args.Set(restapi.FamilyArg, family)
	}
	var routes []restapi.Route
	if err := c.getJSON(restapi.RestURLRIB, args, &routes); err != nil {
		return err
	}
	return c.print(w, routes, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, " \tNETWORK\tNEXT HOP\tMETRIC\tLOCPRF\tWEIGHT\tPATH\tORIGIN\tPEER\n")
		for _, r := range routes {
			med := ""
			if r.MED != nil {
				med = strconv.FormatUint(uint64(*r.MED), 10)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				routeStatus(r), r.Prefix, r.NextHop, med, r.LocalPref, r.Weight,
				r.ASPath, r.Origin, r.Peer)
		}
	})
}

// routeStatus renders the status codes of a route.
func routeStatus(r restapi.Route) string {
	status := ""
	switch {
	case r.Suppressed:
		status = "s"
	case r.Selected:
		status = "*>"
	case r.Multipath:
		status = "*="
	default:
		status = "*"
	}
	if r.Type != "bgp" || r.SubType != "normal" {
		status += "l"
	}
	return status
}
