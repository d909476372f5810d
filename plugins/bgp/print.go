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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
)

const (
	bannerWidth = 110
	descWidth   = 90
)

// printNewEvent logs a banner about a newly received event.
func (p *Plugin) printNewEvent(evRecord *restapi.EventRecord) {
	if p.Log.GetLevel() > logging.DebugLevel {
		return
	}
	var buf strings.Builder
	border := strings.Repeat(">", bannerWidth) + "\n"
	buf.WriteString("\n" + border)

	descLines := splitLongLines(strings.Split(evRecord.Description, "\n"), descWidth, 4)
	headline := "NEW EVENT"
	if evRecord.IsFollowUp {
		headline += fmt.Sprintf(" (follow-up to %s)", eventSeqNumToStr(evRecord.FollowUpTo))
	}
	headline += ": "
	buf.WriteString(fmt.Sprintf("*   %-*s %10s *\n",
		bannerWidth-17, headline+descLines[0], eventSeqNumToStr(evRecord.SeqNum)))
	for _, line := range descLines[1:] {
		buf.WriteString(fmt.Sprintf("*              %-*s *\n", bannerWidth-17, line))
	}
	buf.WriteString(border)
	p.Log.Debug(buf.String())
}

// printFinalizedEvent logs a banner about a processed event.
func (p *Plugin) printFinalizedEvent(evRecord *restapi.EventRecord) {
	if p.Log.GetLevel() > logging.DebugLevel {
		return
	}
	var buf strings.Builder
	border := strings.Repeat("<", bannerWidth) + "\n"
	buf.WriteString("\n" + border)

	desc := strings.Split(evRecord.Description, "\n")[0]
	buf.WriteString(fmt.Sprintf("*   FINALIZED EVENT: %-*s %10s *\n",
		bannerWidth-34, desc, eventSeqNumToStr(evRecord.SeqNum)))
	duration := evRecord.ProcessingEnd.Sub(evRecord.ProcessingStart).Round(time.Microsecond)
	if evRecord.Change != "" {
		buf.WriteString(fmt.Sprintf("*   CHANGE: %-*s *\n", bannerWidth-14, evRecord.Change))
	}
	buf.WriteString(fmt.Sprintf("*   TOOK: %-*v *\n", bannerWidth-12, duration))
	if evRecord.Error != nil {
		buf.WriteString(fmt.Sprintf("*   ERROR: %-*s *\n", bannerWidth-13, evRecord.ErrorStr))
	}
	buf.WriteString(border)
	p.Log.Debug(buf.String())
}

// eventSeqNumToStr returns string representing event sequence number.
func eventSeqNumToStr(seqNum uint64) string {
	return "#" + strconv.FormatUint(seqNum, 10)
}

// splitLongLines splits lines longer than <limit> by spaces, the continuation
// lines are indented.
func splitLongLines(lines []string, limit int, indent int) (split []string) {
	for _, line := range lines {
		for len(line) > limit {
			cut := strings.LastIndex(line[:limit], " ")
			if cut <= indent {
				// a single word over the limit
				cut = limit
			}
			split = append(split, line[:cut])
			line = strings.Repeat(" ", indent) + strings.TrimLeft(line[cut:], " ")
		}
		split = append(split, line)
	}
	return split
}
