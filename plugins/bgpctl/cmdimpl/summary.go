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
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
)

// PrintSummary prints the counters of the routing core.
func (c *Client) PrintSummary(w io.Writer) error {
	summary := restapi.Summary{}
	if err := c.getJSON(restapi.RestURLSummary, nil, &summary); err != nil {
		return err
	}
	return c.print(w, summary, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "BGP router identifier %s, local AS number %d\n\n", summary.RouterID, summary.LocalAS)
		fmt.Fprintf(tw, "FAMILY\tDESTINATIONS\tROUTES\n")
		var families []string
		for family := range summary.Destinations {
			families = append(families, family)
		}
		sort.Strings(families)
		for _, family := range families {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", family, summary.Destinations[family], summary.Routes[family])
		}
		fmt.Fprintf(tw, "\nAttributes:\t%d (%d references)\n", summary.Attributes, summary.AttributeRefs)
		fmt.Fprintf(tw, "Pending advertisements:\t%d\n", summary.Pending)
		fmt.Fprintf(tw, "Peers:\t%d (%d established)\n", summary.Peers, summary.Established)
		fmt.Fprintf(tw, "FIB:\t%d installed, %d failures\n", summary.FIBInstalled, summary.FIBFailures)
	})
}

// HistoryArgs selects the range of the event history.
type HistoryArgs struct {
	SeqNum int
	First  int
	Last   int
}

// PrintEventHistory prints the events processed by the agent.
func (c *Client) PrintEventHistory(w io.Writer, hist HistoryArgs) error {
	args := url.Values{}
	switch {
	case hist.SeqNum > 0:
		args.Set(restapi.SeqNumArg, strconv.Itoa(hist.SeqNum))
	case hist.First > 0:
		args.Set(restapi.FirstArg, strconv.Itoa(hist.First))
	case hist.Last > 0:
		args.Set(restapi.LastArg, strconv.Itoa(hist.Last))
	}
	var records []restapi.EventRecord
	if hist.SeqNum > 0 {
		record := restapi.EventRecord{}
		if err := c.getJSON(restapi.RestURLEventHistory, args, &record); err != nil {
			return err
		}
		records = append(records, record)
	} else if err := c.getJSON(restapi.RestURLEventHistory, args, &records); err != nil {
		return err
	}
	return c.print(w, records, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "SEQ\tEVENT\tSTART\tDURATION\tCHANGE\tERROR\n")
		for _, r := range records {
			seq := strconv.FormatUint(r.SeqNum, 10)
			if r.IsFollowUp {
				seq += " (follow-up to " + strconv.FormatUint(r.FollowUpTo, 10) + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				seq, r.Name, formatTime(r.ProcessingStart), r.ProcessingEnd.Sub(r.ProcessingStart),
				orDash(r.Change), orDash(r.ErrorStr))
		}
	})
}
